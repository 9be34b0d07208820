package guard

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAtomicWrite verifies the write lands whole and leaves no temp file.
func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "note.md")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp residue after a clean write")
}

// TestSweepTemp verifies stale temp files are removed and real files kept.
func TestSweepTemp(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "proj", "real.md")
	stale := filepath.Join(dir, "proj", "real.md.tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(keep), 0o755))
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	n, err := SweepTemp(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

// TestSweepTempMissingRoot verifies sweeping a nonexistent directory is a
// no-op, not an error.
func TestSweepTempMissingRoot(t *testing.T) {
	n, err := SweepTemp(filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestIDLocksSerialize verifies two goroutines on the same key exclude
// each other while different keys run in parallel.
func TestIDLocksSerialize(t *testing.T) {
	locks := NewIDLocks()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("shared")
			defer unlock()

			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "same key never runs concurrently")
}

// TestLockAllOrdering verifies LockAll acquires overlapping key sets
// without deadlocking, regardless of argument order.
func TestLockAllOrdering(t *testing.T) {
	locks := NewIDLocks()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		forward := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				var unlock func()
				if forward {
					unlock = locks.LockAll("a", "b", "c")
				} else {
					unlock = locks.LockAll("c", "b", "a", "b")
				}
				unlock()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("LockAll deadlocked on overlapping key sets")
	}
}

// TestCoalescerCollapsesBursts verifies a burst of schedules runs the
// latest function once.
func TestCoalescerCollapsesBursts(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)
	defer c.Close()

	var runs int32
	var last int32
	for i := 1; i <= 10; i++ {
		i := int32(i)
		c.Schedule("key", func() {
			atomic.AddInt32(&runs, 1)
			atomic.StoreInt32(&last, i)
		})
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&last), "latest scheduled function wins")
}

// TestCoalescerFlush verifies Flush runs the pending function immediately
// and Cancel drops it.
func TestCoalescerFlush(t *testing.T) {
	c := NewCoalescer(time.Hour)
	defer c.Close()

	var ran int32
	c.Schedule("flushed", func() { atomic.AddInt32(&ran, 1) })
	c.Flush("flushed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	c.Schedule("dropped", func() { atomic.AddInt32(&ran, 100) })
	c.Cancel("dropped")
	c.FlushAll()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran), "cancelled function never runs")
}

// TestCoalescerClose verifies Close flushes whatever is pending.
func TestCoalescerClose(t *testing.T) {
	c := NewCoalescer(time.Hour)

	var ran int32
	c.Schedule("pending", func() { atomic.AddInt32(&ran, 1) })
	c.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	// After Close, schedules run synchronously so nothing is lost.
	c.Schedule("late", func() { atomic.AddInt32(&ran, 1) })
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

// TestRootGuardFreeze verifies writers share the guard while a freeze is
// exclusive.
func TestRootGuardFreeze(t *testing.T) {
	g := NewRootGuard()

	endA := g.BeginWrite()
	endB := g.BeginWrite()

	frozen := make(chan struct{})
	go func() {
		unfreeze := g.Freeze()
		close(frozen)
		unfreeze()
	}()

	select {
	case <-frozen:
		t.Fatal("freeze completed while writers were active")
	case <-time.After(50 * time.Millisecond):
	}

	endA()
	endB()

	select {
	case <-frozen:
	case <-time.After(time.Second):
		t.Fatal("freeze never acquired after writers finished")
	}
}

// TestProcessLock verifies the second acquisition of the same lock file
// reports busy instead of blocking.
func TestProcessLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "likeisaid.lock")

	first, ok, err := AcquireProcessLock(path)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = AcquireProcessLock(path)
	require.NoError(t, err)
	assert.False(t, ok, "same-process reacquire reports busy")

	require.NoError(t, first.Release())

	third, ok, err := AcquireProcessLock(path)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
	require.NoError(t, third.Release())
}
