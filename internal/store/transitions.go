package store

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition wraps ErrConflict so the gateway surfaces illegal
// status changes as Conflict with the state unchanged.
var ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)

// taskTransitions lists the legal status edges. A task starts in todo;
// done→todo reopens without repeating completion side effects.
var taskTransitions = map[string][]string{
	StatusTodo:       {StatusInProgress, StatusBlocked, StatusDone},
	StatusInProgress: {StatusDone, StatusBlocked, StatusTodo},
	StatusBlocked:    {StatusInProgress, StatusTodo},
	StatusDone:       {StatusTodo},
}

func isAllowedTransition(from, to string, transitions map[string][]string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func transitionError(from, to string) error {
	return fmt.Errorf("%w: cannot transition from '%s' to '%s'", ErrInvalidTransition, from, to)
}

// validateTransition checks the edge and, for done, that no subtask is left
// incomplete. Same-status patches are treated as no-ops by the caller and
// never reach here.
func (s *Store) validateTransition(t *Task, to string) error {
	if !isAllowedTransition(t.Status, to, taskTransitions) {
		return transitionError(t.Status, to)
	}
	if to == StatusDone {
		return s.guardDone(t)
	}
	return nil
}

// guardDone blocks completing a parent while any subtask is not done.
func (s *Store) guardDone(t *Task) error {
	for _, sid := range t.Subtasks {
		sub, ok := s.tasks[sid]
		if !ok {
			// Dangling subtask reference: tolerated here, reported by the
			// health check.
			continue
		}
		if sub.Status != StatusDone {
			return fmt.Errorf("%w: subtask %s is %s", ErrConflict, sid, sub.Status)
		}
	}
	return nil
}

// IsConflict reports whether err is a status-transition conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
