package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
)

// taskFileName is the shared per-project task file. Multiple tasks live in
// one file; the store indexes by id and rewrites the file as a whole.
const taskFileName = "tasks.md"

// CreateTask persists a new task: serial assignment, initial status todo,
// parent wiring, and a committed write before return.
func (s *Store) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(t.Title) == "" {
		return nil, invalidInput("title is required")
	}
	if !ValidTaskCategory(t.Category) {
		return nil, invalidInput("unknown category %q", t.Category)
	}
	if !ValidTaskPriority(t.Priority) {
		return nil, invalidInput("unknown priority %q", t.Priority)
	}
	if t.Status != "" && !ValidTaskStatus(t.Status) {
		return nil, invalidInput("unknown status %q", t.Status)
	}

	now := time.Now()
	t = t.Clone()
	t.Project = paths.SanitizeProject(t.Project)
	if t.ID == "" {
		t.ID = newID(now)
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	t.Created = Stamp(now)
	t.Updated = t.Created
	t.File = s.taskFile(t.Project)
	t.Subtasks = nil
	t.MemoryConnections = nil

	var keys []string
	if t.ParentTask != "" {
		keys = append(keys, t.ParentTask)
	}
	unlock := s.locks.LockAll(keys...)
	defer unlock()

	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: task id %s", ErrAlreadyExists, t.ID)
	}
	var parent *Task
	if t.ParentTask != "" {
		var ok bool
		parent, ok = s.tasks[t.ParentTask]
		if !ok {
			s.mu.Unlock()
			return nil, notFound("parent task", t.ParentTask)
		}
	}

	s.maxTaskSerial++
	t.Serial = fmt.Sprintf("TASK-%05d", s.maxTaskSerial)

	s.tasks[t.ID] = t
	addToSet(s.tasksByProject, t.Project, t.ID)
	addToSet(s.tasksByStatus, t.Status, t.ID)
	addToSet(s.tasksByFile, t.File, t.ID)
	s.taskBySerial[t.Serial] = t.ID
	if parent != nil {
		parent.Subtasks = append(parent.Subtasks, t.ID)
	}
	files := []string{t.File}
	if parent != nil && parent.File != t.File {
		files = append(files, parent.File)
	}
	s.mu.Unlock()

	for _, f := range files {
		if err := s.flushTaskFileNow(f); err != nil {
			return nil, err
		}
	}

	s.logger.Info("task created", "id", t.ID, "serial", t.Serial, "project", t.Project, "parent", t.ParentTask)
	return t.Clone(), nil
}

// GetTask returns the task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	t, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("task", id)
	}
	return t.Clone(), nil
}

// TaskPatch mutates a task through UpdateTask. Nil fields are unchanged;
// id, serial, and created are immutable. Setting ParentTask to the empty
// string detaches the task from its parent.
type TaskPatch struct {
	Title          *string
	Description    *string
	Body           *string
	Project        *string
	Category       *string
	Priority       *string
	Status         *string
	ParentTask     *string
	Tags           *[]string
	ManualMemories *[]string
	AddSubtasks    []string
	RemoveSubtasks []string
}

// UpdateTask merges patch into the task. Status changes are checked against
// the transition table; parent and subtask rewires keep both sides of the
// hierarchy consistent; a project change moves the task between files.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if patch.Category != nil && !ValidTaskCategory(*patch.Category) {
		return nil, invalidInput("unknown category %q", *patch.Category)
	}
	if patch.Priority != nil && !ValidTaskPriority(*patch.Priority) {
		return nil, invalidInput("unknown priority %q", *patch.Priority)
	}
	if patch.Status != nil && !ValidTaskStatus(*patch.Status) {
		return nil, invalidInput("unknown status %q", *patch.Status)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, invalidInput("title cannot be emptied")
	}

	// Discover every entity this rewire may touch, then lock in one sweep.
	s.mu.RLock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.RUnlock()
		return nil, notFound("task", id)
	}
	keys := []string{id}
	if cur.ParentTask != "" {
		keys = append(keys, cur.ParentTask)
	}
	if patch.ParentTask != nil && *patch.ParentTask != "" {
		keys = append(keys, *patch.ParentTask)
	}
	for _, sid := range patch.AddSubtasks {
		keys = append(keys, sid)
		if sub, ok := s.tasks[sid]; ok && sub.ParentTask != "" {
			keys = append(keys, sub.ParentTask)
		}
	}
	keys = append(keys, patch.RemoveSubtasks...)
	s.mu.RUnlock()

	unlock := s.locks.LockAll(keys...)
	defer unlock()

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("task", id)
	}

	oldStatus, oldProject, oldFile := t.Status, t.Project, t.File

	if patch.Status != nil && *patch.Status != t.Status {
		if err := s.validateTransition(t, *patch.Status); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	if patch.ParentTask != nil && *patch.ParentTask != "" {
		if err := s.checkParent(id, *patch.ParentTask); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	for _, sid := range patch.AddSubtasks {
		if err := s.checkSubtask(id, sid); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	touchedFiles := map[string]struct{}{oldFile: {}}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Body != nil {
		t.Body = *patch.Body
	}
	if patch.Category != nil {
		t.Category = *patch.Category
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Tags != nil {
		t.Tags = append(frontmatter.StringList(nil), *patch.Tags...)
	}
	if patch.ManualMemories != nil {
		t.ManualMemories = append(frontmatter.StringList(nil), *patch.ManualMemories...)
	}

	if patch.Status != nil && *patch.Status != oldStatus {
		removeFromSet(s.tasksByStatus, oldStatus, id)
		t.Status = *patch.Status
		addToSet(s.tasksByStatus, t.Status, id)
		// Completion side effects fire once per task lifetime; a reopen
		// keeps the stamp.
		if t.Status == StatusDone && t.Completed == "" {
			t.Completed = Stamp(time.Now())
		}
	}

	if patch.ParentTask != nil && *patch.ParentTask != t.ParentTask {
		if t.ParentTask != "" {
			if old, ok := s.tasks[t.ParentTask]; ok {
				old.Subtasks = removeString(old.Subtasks, id)
				touchedFiles[old.File] = struct{}{}
			}
		}
		t.ParentTask = *patch.ParentTask
		if t.ParentTask != "" {
			parent := s.tasks[t.ParentTask]
			parent.Subtasks = appendUnique(parent.Subtasks, id)
			touchedFiles[parent.File] = struct{}{}
		}
	}

	for _, sid := range patch.AddSubtasks {
		sub := s.tasks[sid]
		if sub.ParentTask == id {
			continue
		}
		if sub.ParentTask != "" {
			if old, ok := s.tasks[sub.ParentTask]; ok {
				old.Subtasks = removeString(old.Subtasks, sid)
				touchedFiles[old.File] = struct{}{}
			}
		}
		sub.ParentTask = id
		t.Subtasks = appendUnique(t.Subtasks, sid)
		touchedFiles[sub.File] = struct{}{}
	}
	for _, sid := range patch.RemoveSubtasks {
		sub, ok := s.tasks[sid]
		if !ok || sub.ParentTask != id {
			continue
		}
		sub.ParentTask = ""
		t.Subtasks = removeString(t.Subtasks, sid)
		touchedFiles[sub.File] = struct{}{}
	}

	moved := false
	if patch.Project != nil {
		newProject := paths.SanitizeProject(*patch.Project)
		if newProject != oldProject {
			removeFromSet(s.tasksByProject, oldProject, id)
			removeFromSet(s.tasksByFile, oldFile, id)
			t.Project = newProject
			t.File = s.taskFile(newProject)
			addToSet(s.tasksByProject, newProject, id)
			addToSet(s.tasksByFile, t.File, id)
			touchedFiles[t.File] = struct{}{}
			moved = true
		}
	}

	t.Updated = Stamp(time.Now())
	out := t.Clone()
	s.mu.Unlock()

	if moved || len(touchedFiles) > 1 {
		for f := range touchedFiles {
			if err := s.flushTaskFileNow(f); err != nil {
				return nil, err
			}
		}
	} else {
		s.scheduleTaskFileFlush(oldFile)
	}
	return out, nil
}

// DeleteTask removes the task and cascades: the parent loses the subtask
// entry, subtasks are detached (parent_task cleared), and every connected
// memory loses its task_connections entry.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.RUnlock()
		return notFound("task", id)
	}
	keys := []string{id}
	if cur.ParentTask != "" {
		keys = append(keys, cur.ParentTask)
	}
	keys = append(keys, cur.Subtasks...)
	memoryIDs := make([]string, 0, len(cur.MemoryConnections))
	for _, c := range cur.MemoryConnections {
		memoryIDs = append(memoryIDs, c.MemoryID)
	}
	s.mu.RUnlock()

	unlock := s.locks.LockAll(keys...)
	defer unlock()

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return notFound("task", id)
	}
	touchedFiles := map[string]struct{}{t.File: {}}

	if t.ParentTask != "" {
		if parent, ok := s.tasks[t.ParentTask]; ok {
			parent.Subtasks = removeString(parent.Subtasks, id)
			touchedFiles[parent.File] = struct{}{}
		}
	}
	for _, sid := range t.Subtasks {
		if sub, ok := s.tasks[sid]; ok {
			sub.ParentTask = ""
			touchedFiles[sub.File] = struct{}{}
		}
	}

	delete(s.tasks, id)
	removeFromSet(s.tasksByProject, t.Project, id)
	removeFromSet(s.tasksByStatus, t.Status, id)
	removeFromSet(s.tasksByFile, t.File, id)
	delete(s.taskBySerial, t.Serial)
	s.mu.Unlock()

	for _, mid := range memoryIDs {
		s.removeMemoryTaskConnection(mid, id)
	}
	for f := range touchedFiles {
		if err := s.flushTaskFileNow(f); err != nil {
			return err
		}
	}

	s.logger.Info("task deleted", "id", id, "serial", t.Serial, "project", t.Project)
	return nil
}

// ListTasksOptions filters ListTasks. Zero Limit means no cap.
type ListTasksOptions struct {
	Project string
	Status  string
	Limit   int
}

// ListTasks returns tasks newest serial first.
func (s *Store) ListTasks(ctx context.Context, opts ListTasksOptions) ([]*Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if opts.Status != "" && !ValidTaskStatus(opts.Status) {
		return nil, invalidInput("unknown status %q", opts.Status)
	}

	s.mu.RLock()
	var out []*Task
	for _, t := range s.tasks {
		if opts.Project != "" && t.Project != paths.SanitizeProject(opts.Project) {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return serialNumber(out[i].Serial) > serialNumber(out[j].Serial)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// SetTaskConnections replaces the task's memory_connections and mirrors the
// change on every affected memory, keeping the bidirectional invariant:
// added or kept links get a memory-side entry, removed links lose theirs.
func (s *Store) SetTaskConnections(ctx context.Context, taskID string, conns []MemoryConnection) (*Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(taskID)
	defer unlock()

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("task", taskID)
	}
	oldIDs := make(map[string]struct{}, len(t.MemoryConnections))
	for _, c := range t.MemoryConnections {
		oldIDs[c.MemoryID] = struct{}{}
	}
	t.MemoryConnections = make([]MemoryConnection, len(conns))
	copy(t.MemoryConnections, conns)
	t.Updated = Stamp(time.Now())
	serial, file := t.Serial, t.File
	out := t.Clone()
	s.mu.Unlock()

	newIDs := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		newIDs[c.MemoryID] = struct{}{}
		s.upsertMemoryTaskConnection(c.MemoryID, TaskConnection{
			TaskID:         taskID,
			TaskSerial:     serial,
			ConnectionType: c.ConnectionType,
		})
	}
	for mid := range oldIDs {
		if _, keep := newIDs[mid]; !keep {
			s.removeMemoryTaskConnection(mid, taskID)
		}
	}

	s.scheduleTaskFileFlush(file)
	return out, nil
}

// detachMemoryFromTask removes every reference to memoryID from the task:
// its memory_connections entry and any manual_memories listing.
func (s *Store) detachMemoryFromTask(ctx context.Context, taskID, memoryID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	unlock := s.locks.Lock(taskID)
	defer unlock()

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return notFound("task", taskID)
	}
	filtered := t.MemoryConnections[:0]
	for _, c := range t.MemoryConnections {
		if c.MemoryID != memoryID {
			filtered = append(filtered, c)
		}
	}
	t.MemoryConnections = filtered
	t.ManualMemories = removeString(t.ManualMemories, memoryID)
	t.Updated = Stamp(time.Now())
	file := t.File
	s.mu.Unlock()

	s.scheduleTaskFileFlush(file)
	return nil
}

// upsertMemoryTaskConnection inserts or updates the memory-side half of a
// link. Missing memories are tolerated (dangling links are reported by the
// health check, not fatal).
func (s *Store) upsertMemoryTaskConnection(memoryID string, conn TaskConnection) {
	unlock := s.locks.Lock(memoryID)
	defer unlock()

	s.mu.Lock()
	m, ok := s.mems[memoryID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("connection references missing memory", "memory", memoryID, "task", conn.TaskID)
		return
	}
	updated := false
	for i := range m.TaskConnections {
		if m.TaskConnections[i].TaskID == conn.TaskID {
			m.TaskConnections[i].ConnectionType = conn.ConnectionType
			m.TaskConnections[i].TaskSerial = conn.TaskSerial
			updated = true
			break
		}
	}
	if !updated {
		conn.Created = Stamp(time.Now())
		m.TaskConnections = append(m.TaskConnections, conn)
	}
	s.mu.Unlock()

	s.scheduleMemoryFlush(memoryID)
}

// removeMemoryTaskConnection drops the memory-side half of a link.
func (s *Store) removeMemoryTaskConnection(memoryID, taskID string) {
	unlock := s.locks.Lock(memoryID)
	defer unlock()

	s.mu.Lock()
	m, ok := s.mems[memoryID]
	if !ok {
		s.mu.Unlock()
		return
	}
	filtered := m.TaskConnections[:0]
	for _, c := range m.TaskConnections {
		if c.TaskID != taskID {
			filtered = append(filtered, c)
		}
	}
	m.TaskConnections = filtered
	s.mu.Unlock()

	s.scheduleMemoryFlush(memoryID)
}

// checkParent validates a parent reference: it must exist and must not
// create a cycle. Caller holds s.mu.
func (s *Store) checkParent(id, parentID string) error {
	if parentID == id {
		return invalidInput("task cannot be its own parent")
	}
	if _, ok := s.tasks[parentID]; !ok {
		return notFound("parent task", parentID)
	}
	for cur := parentID; cur != ""; {
		p, ok := s.tasks[cur]
		if !ok {
			break
		}
		if p.ParentTask == id {
			return invalidInput("parent chain would create a cycle")
		}
		cur = p.ParentTask
	}
	return nil
}

// checkSubtask validates adding sid under id. Caller holds s.mu.
func (s *Store) checkSubtask(id, sid string) error {
	if sid == id {
		return invalidInput("task cannot be its own subtask")
	}
	if _, ok := s.tasks[sid]; !ok {
		return notFound("subtask", sid)
	}
	// Adding an ancestor as a subtask would close a cycle.
	for cur := id; cur != ""; {
		t, ok := s.tasks[cur]
		if !ok {
			break
		}
		if t.ParentTask == sid {
			return invalidInput("subtask %s is an ancestor of %s", sid, id)
		}
		cur = t.ParentTask
	}
	return nil
}

func (s *Store) taskFile(project string) string {
	return filepath.Join(s.roots.TaskProject(project), taskFileName)
}

// taskFileData renders every task in file, ordered by serial, as one
// multi-document markdown file. ok is false when no tasks remain.
func (s *Store) taskFileData(file string) (data []byte, ok bool, err error) {
	s.mu.RLock()
	ids := s.tasksByFile[file]
	list := make([]*Task, 0, len(ids))
	for id := range ids {
		list = append(list, s.tasks[id].Clone())
	}
	s.mu.RUnlock()

	if len(list) == 0 {
		return nil, false, nil
	}
	sort.Slice(list, func(i, j int) bool {
		return serialNumber(list[i].Serial) < serialNumber(list[j].Serial)
	})

	docs := make([][]byte, 0, len(list))
	for _, t := range list {
		doc, err := frontmatter.Encode(t, t.Body)
		if err != nil {
			return nil, false, fmt.Errorf("%w: encoding task %s: %v", ErrInternal, t.ID, err)
		}
		docs = append(docs, doc)
	}
	return frontmatter.JoinDocs(docs), true, nil
}

// flushTaskFileNow commits the current state of a shared task file. An
// empty file is removed.
func (s *Store) flushTaskFileNow(file string) error {
	s.coalescer.Cancel(file)

	unlock := s.locks.Lock(file)
	defer unlock()

	data, ok, err := s.taskFileData(file)
	if err != nil {
		return err
	}

	endWrite := s.rootGuard.BeginWrite()
	defer endWrite()
	if !ok {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: removing %s: %v", ErrIO, file, err)
		}
		return nil
	}
	return writeFileRetry(file, data)
}

// scheduleTaskFileFlush coalesces rapid updates to the same task file.
func (s *Store) scheduleTaskFileFlush(file string) {
	s.coalescer.Schedule(file, func() {
		unlock := s.locks.Lock(file)
		defer unlock()

		data, ok, err := s.taskFileData(file)
		if err != nil {
			s.logger.Error("task flush failed", "file", file, "error", err)
			return
		}
		endWrite := s.rootGuard.BeginWrite()
		defer endWrite()
		if !ok {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				s.logger.Error("task flush failed", "file", file, "error", err)
			}
			return
		}
		if err := writeFileRetry(file, data); err != nil {
			s.logger.Error("task flush failed", "file", file, "error", err)
		}
	})
}

func removeString(list frontmatter.StringList, v string) frontmatter.StringList {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func appendUnique(list frontmatter.StringList, v string) frontmatter.StringList {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
