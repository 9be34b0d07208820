package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/bus"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

type fixture struct {
	store   *store.Store
	broker  *bus.Broker
	watcher *Watcher
	sub     *bus.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	roots, err := paths.Resolve(
		filepath.Join(dir, "memories"),
		filepath.Join(dir, "tasks"),
		filepath.Join(dir, "data"),
	)
	require.NoError(t, err)
	st, err := store.Open(roots, logger)
	require.NoError(t, err)

	broker := bus.NewBroker(logger)
	w, err := New(st, broker, logger)
	require.NoError(t, err)
	w.Start(context.Background())

	f := &fixture{store: st, broker: broker, watcher: w, sub: broker.Subscribe()}
	t.Cleanup(func() {
		_ = w.Close()
		broker.Close()
		st.Close()
	})
	return f
}

// waitEvent receives events until match returns true or the deadline hits.
func waitEvent(t *testing.T, sub *bus.Subscription, match func(bus.Event) bool) bus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-sub.C:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("expected event never arrived")
			return bus.Event{}
		}
	}
}

// TestExternalMemoryAddIsIndexedAndPublished covers the external-edit loop:
// a file written behind the store's back becomes visible through the index
// and produces a memory_change event.
func TestExternalMemoryAddIsIndexedAndPublished(t *testing.T) {
	f := newFixture(t)

	dir := filepath.Join(f.store.Roots().Memories, "default")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "2026-02-01-external-note-700001.md")

	// The project directory watch may still be settling.
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("---\nid: ext-note\n---\n\nwritten externally\n"), 0o644))

	e := waitEvent(t, f.sub, func(e bus.Event) bool {
		return e.Type == bus.TypeMemoryChange && e.Data.File == path
	})
	assert.Equal(t, bus.ActionAdd, e.Data.Action)
	assert.Equal(t, "default", e.Data.Project)
	assert.Equal(t, "ext-note", e.Data.ID)

	m, err := f.store.GetMemory(context.Background(), "ext-note")
	require.NoError(t, err)
	assert.Contains(t, m.Body, "written externally")
}

// TestExternalRemovePublishesUnlink verifies deletion is classified as
// unlink and evicts the index entry.
func TestExternalRemovePublishesUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.store.CreateMemory(ctx, &store.Memory{Body: "short lived note"})
	require.NoError(t, err)
	waitEvent(t, f.sub, func(e bus.Event) bool {
		return e.Data.File == m.File
	})

	require.NoError(t, os.Remove(m.File))
	e := waitEvent(t, f.sub, func(e bus.Event) bool {
		return e.Data.File == m.File && e.Data.Action == bus.ActionUnlink
	})
	assert.Equal(t, bus.TypeMemoryChange, e.Type)

	assert.Eventually(t, func() bool {
		_, err := f.store.GetMemory(ctx, m.ID)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond, "index entry evicted after unlink")
}

// TestBurstDebounced verifies a rapid write burst to one path collapses
// instead of producing one event per write.
func TestBurstDebounced(t *testing.T) {
	f := newFixture(t)

	dir := filepath.Join(f.store.Roots().Memories, "default")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "2026-02-02-burst-700002.md")
	time.Sleep(150 * time.Millisecond)

	const writes = 8
	for i := 0; i < writes; i++ {
		require.NoError(t, os.WriteFile(path, []byte("---\nid: burst\n---\n\nrevision\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	waitEvent(t, f.sub, func(e bus.Event) bool { return e.Data.File == path })

	// Let any stragglers flush, then count what actually arrived.
	time.Sleep(3 * DefaultDebounce)
	extra := 0
	for {
		select {
		case e := <-f.sub.C:
			if e.Data.File == path {
				extra++
			}
			continue
		default:
		}
		break
	}
	assert.Less(t, extra+1, writes, "burst of %d writes produced %d events", writes, extra+1)
}

// TestTaskFileClassified verifies files under the task root produce
// task_change events with the project attached.
func TestTaskFileClassified(t *testing.T) {
	f := newFixture(t)

	task, err := f.store.CreateTask(context.Background(), &store.Task{Title: "watched", Project: "engine"})
	require.NoError(t, err)

	e := waitEvent(t, f.sub, func(e bus.Event) bool {
		return e.Type == bus.TypeTaskChange && e.Data.File == task.File
	})
	assert.Equal(t, "engine", e.Data.Project)
	assert.Equal(t, task.ID, e.Data.ID, "single-task file events carry the id")
}

// TestNewProjectDirectoryWatched verifies directories created after start
// get their own watch.
func TestNewProjectDirectoryWatched(t *testing.T) {
	f := newFixture(t)

	dir := filepath.Join(f.store.Roots().Memories, "brand-new")
	require.NoError(t, os.Mkdir(dir, 0o755))

	// Give the create event time to register the watch.
	time.Sleep(300 * time.Millisecond)

	path := filepath.Join(dir, "2026-02-03-in-new-dir-700003.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: in-new-dir\n---\n\nhello\n"), 0o644))

	e := waitEvent(t, f.sub, func(e bus.Event) bool { return e.Data.File == path })
	assert.Equal(t, "brand-new", e.Data.Project)
}

// TestTempFilesIgnored verifies in-flight atomic writes never surface.
func TestTempFilesIgnored(t *testing.T) {
	f := newFixture(t)

	dir := filepath.Join(f.store.Roots().Memories, "default")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(150 * time.Millisecond)

	tmp := filepath.Join(dir, "writing.md.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))

	select {
	case e := <-f.sub.C:
		if e.Data.File == tmp {
			t.Fatalf("temp file produced an event: %+v", e)
		}
	case <-time.After(3 * DefaultDebounce):
	}
}
