package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStoreAt(t *testing.T, dir string) *Store {
	t.Helper()
	roots, err := paths.Resolve(
		filepath.Join(dir, "memories"),
		filepath.Join(dir, "tasks"),
		filepath.Join(dir, "data"),
	)
	require.NoError(t, err)
	s, err := Open(roots, testLogger())
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := openStoreAt(t, t.TempDir())
	t.Cleanup(s.Close)
	return s
}

// TestOpenEmptyRoots verifies a fresh store starts empty with the roots
// created on disk.
func TestOpenEmptyRoots(t *testing.T) {
	s := newTestStore(t)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Memories)
	assert.Equal(t, 0, stats.Tasks)
	assert.Empty(t, s.CorruptFiles())

	info, err := os.Stat(s.Roots().Memories)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestReopenRebuildsIndex verifies the index is a pure function of the
// filesystem: entities created in one store instance are visible after a
// reopen, and serial assignment continues from the on-disk maximum.
func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStoreAt(t, dir)
	m, err := s.CreateMemory(ctx, &Memory{Body: "deployment checklist for the staging cluster", Project: "infra"})
	require.NoError(t, err)
	t1, err := s.CreateTask(ctx, &Task{Title: "rotate certificates", Project: "infra"})
	require.NoError(t, err)
	t2, err := s.CreateTask(ctx, &Task{Title: "upgrade ingress", Project: "infra"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-00001", t1.Serial)
	assert.Equal(t, "TASK-00002", t2.Serial)
	s.Close()

	s2 := openStoreAt(t, dir)
	defer s2.Close()

	got, err := s2.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Serial, got.Serial)
	assert.Equal(t, "infra", got.Project)

	gotTask, err := s2.GetTask(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, "TASK-00001", gotTask.Serial)

	// Serials keep increasing across restarts, deleted ones are not reused.
	require.NoError(t, s2.DeleteTask(ctx, t2.ID))
	t3, err := s2.CreateTask(ctx, &Task{Title: "retire old nodes", Project: "infra"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-00003", t3.Serial)
}

// TestCorruptFileSkipped verifies an unparseable file is skipped, reported,
// and does not block the rest of the scan.
func TestCorruptFileSkipped(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStoreAt(t, dir)
	_, err := s.CreateMemory(ctx, &Memory{Body: "healthy note"})
	require.NoError(t, err)
	s.Close()

	bad := filepath.Join(dir, "memories", "default", "broken.md")
	require.NoError(t, os.WriteFile(bad, []byte("---\nid: [unclosed\n---\nbody\n"), 0o644))

	s2 := openStoreAt(t, dir)
	defer s2.Close()

	stats := s2.Stats()
	assert.Equal(t, 1, stats.Memories)
	require.Len(t, s2.CorruptFiles(), 1)
	assert.Equal(t, bad, s2.CorruptFiles()[0].File)
}

// TestHeaderlessMemorySynthesized verifies a plain markdown file without
// front-matter is adopted with defaults rather than treated as corrupt.
func TestHeaderlessMemorySynthesized(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "memories", "notes", "scratchpad.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(plain), 0o755))
	require.NoError(t, os.WriteFile(plain, []byte("just some lines\nno header at all\n"), 0o644))

	s := openStoreAt(t, dir)
	defer s.Close()

	m, err := s.GetMemory(context.Background(), "scratchpad")
	require.NoError(t, err)
	assert.Equal(t, MemoryActive, m.Status)
	assert.Equal(t, 1, m.Complexity)
	assert.Equal(t, "notes", m.Project)
	assert.Contains(t, m.Body, "no header at all")
	assert.Empty(t, s.CorruptFiles())
}

// TestDuplicateIDReported verifies the second file claiming an id is
// surfaced as corrupt instead of silently shadowing the first.
func TestDuplicateIDReported(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStoreAt(t, dir)
	m, err := s.CreateMemory(ctx, &Memory{Body: "original"})
	require.NoError(t, err)
	s.Close()

	clone := filepath.Join(dir, "memories", "default", "impostor.md")
	require.NoError(t, os.WriteFile(clone, []byte("---\nid: "+m.ID+"\n---\n\ncopy\n"), 0o644))

	s2 := openStoreAt(t, dir)
	defer s2.Close()

	assert.Equal(t, 1, s2.Stats().Memories)
	require.Len(t, s2.CorruptFiles(), 1)
	assert.Contains(t, s2.CorruptFiles()[0].Reason, "duplicate id")
}

// TestReindexReconcilesExternalEdits verifies ReindexNow picks up files
// written behind the store's back, the watcher-restart path.
func TestReindexReconcilesExternalEdits(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStoreAt(t, dir)
	defer s.Close()

	external := filepath.Join(dir, "memories", "sideload", "2026-01-05-imported-900001.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(external), 0o755))
	require.NoError(t, os.WriteFile(external, []byte("---\nid: ext-1\ncategory: work\n---\n\nimported by hand\n"), 0o644))

	require.NoError(t, s.ReindexNow(ctx))

	m, err := s.GetMemory(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "sideload", m.Project)
}

// TestSweepTempOnOpen verifies crash residue (.tmp files) is removed when
// the store opens.
func TestSweepTempOnOpen(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "memories", "default", "half-written.md.tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	s := openStoreAt(t, dir)
	defer s.Close()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
