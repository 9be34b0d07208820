// Package guard provides the concurrency discipline for the store: per-id
// writer locks, a root freeze for torn-snapshot prevention, crash-safe file
// writes, write coalescing, and the cross-process data-root lock.
package guard

import (
	"sort"
	"sync"

	"github.com/gofrs/flock"
)

// IDLocks serializes writers per key (entity id or file path). Entries are
// reference-counted and removed when the last holder releases, so the map
// does not grow with the number of entities ever touched.
type IDLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewIDLocks() *IDLocks {
	return &IDLocks{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the per-key lock is held and returns the release func.
func (l *IDLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockPair acquires two keys in a deterministic order so callers that touch
// two files (task moves between projects) cannot deadlock each other.
func (l *IDLocks) LockPair(a, b string) (unlock func()) {
	return l.LockAll(a, b)
}

// LockAll acquires every key in sorted order, deduplicated, and returns a
// single release func. Multi-entity mutations (parent rewires, cascades)
// use this so lock ordering stays deterministic.
func (l *IDLocks) LockAll(keys ...string) (unlock func()) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	unlocks := make([]func(), 0, len(uniq))
	for _, k := range uniq {
		unlocks = append(unlocks, l.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// RootGuard lets many writers proceed concurrently (each already serialized
// per-id) while a backup freezes the whole root for the duration of its copy.
type RootGuard struct {
	mu sync.RWMutex
}

func NewRootGuard() *RootGuard { return &RootGuard{} }

// BeginWrite registers an in-flight mutation; it blocks while a freeze holds.
func (g *RootGuard) BeginWrite() func() {
	g.mu.RLock()
	return g.mu.RUnlock
}

// Freeze blocks new mutations and waits for in-flight ones to finish.
func (g *RootGuard) Freeze() func() {
	g.mu.Lock()
	return g.mu.Unlock
}

// ProcessLock holds <dataRoot>/likeisaid.lock for the process lifetime so a
// second server over the same roots cannot interleave serial assignment.
type ProcessLock struct {
	fl *flock.Flock
}

// AcquireProcessLock takes the lock without blocking. ok is false when
// another process already holds it.
func AcquireProcessLock(path string) (lock *ProcessLock, ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return &ProcessLock{fl: fl}, true, nil
}

// Release drops the lock. Safe to call once at shutdown.
func (p *ProcessLock) Release() error {
	if p == nil || p.fl == nil {
		return nil
	}
	return p.fl.Unlock()
}
