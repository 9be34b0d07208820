package backup

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	roots, err := paths.Resolve(
		filepath.Join(dir, "memories"),
		filepath.Join(dir, "tasks"),
		filepath.Join(dir, "data"),
	)
	require.NoError(t, err)
	s, err := store.Open(roots, testLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newTestManager(t *testing.T, s *store.Store, keep int) *Manager {
	t.Helper()
	return NewManager(s, testLogger(), Options{
		Keep:     keep,
		Interval: time.Hour,
		Version:  "test",
	})
}

func seedEntities(t *testing.T, s *store.Store) (*store.Memory, *store.Task) {
	t.Helper()
	ctx := context.Background()
	mem, err := s.CreateMemory(ctx, &store.Memory{
		Body:    "Redis connection pooling notes for the API gateway",
		Project: "gateway",
		Tags:    []string{"redis", "pooling"},
	})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, &store.Task{
		Title:   "Tune the connection pool",
		Project: "gateway",
	})
	require.NoError(t, err)
	return mem, task
}

func TestSnapshotWritesManifestAndCopies(t *testing.T) {
	s := newTestStore(t)
	mem, task := seedEntities(t, s)
	m := newTestManager(t, s, 10)

	settings := []byte(`{"features": {"maxBackups": 10}}`)
	require.NoError(t, os.WriteFile(s.Roots().SettingsFile(), settings, 0o644))

	manifest, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	assert.Equal(t, ReasonManual, manifest.Reason)
	assert.Equal(t, "test", manifest.Version)
	assert.Equal(t, 1, manifest.Statistics.Memories)
	assert.Equal(t, 1, manifest.Statistics.Tasks)
	assert.NotZero(t, manifest.Statistics.TotalSize)
	assert.JSONEq(t, string(settings), string(manifest.Settings))

	dir := filepath.Join(s.Roots().BackupsDir(), manifest.Name)

	// The copied tree mirrors the live one.
	memRel, err := filepath.Rel(s.Roots().Memories, mem.File)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "memories", memRel))
	taskRel, err := filepath.Rel(s.Roots().Tasks, task.File)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "tasks", taskRel))
	assert.FileExists(t, filepath.Join(dir, "data", "settings.json"))

	// Manifest on disk decodes to the same document.
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	require.NoError(t, err)
	var onDisk Manifest
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, manifest.Contents, onDisk.Contents)
	assert.Contains(t, onDisk.Contents.Memories, filepath.ToSlash(memRel))
}

func TestSnapshotSkipsBackupsAndLock(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 10)

	require.NoError(t, os.WriteFile(s.Roots().LockFile(), nil, 0o644))
	require.NoError(t, os.MkdirAll(s.Roots().VectorsDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Roots().VectorsDir(), "vectors.db"), []byte("db"), 0o644))

	first, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	second, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	// The second snapshot must not have recursed into the backups tree, and
	// must have skipped the lock and vector files.
	for _, rel := range second.Contents.Data {
		assert.NotContains(t, rel, first.Name)
		assert.NotEqual(t, "likeisaid.lock", rel)
		assert.NotContains(t, rel, "vectors.db")
	}
}

func TestSnapshotProjectScopesCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateMemory(ctx, &store.Memory{Body: "alpha note", Project: "alpha"})
	require.NoError(t, err)
	_, err = s.CreateMemory(ctx, &store.Memory{Body: "beta note", Project: "beta"})
	require.NoError(t, err)

	m := newTestManager(t, s, 10)
	manifest, err := m.SnapshotProject(ctx, ReasonPreDelete, "alpha")
	require.NoError(t, err)

	require.Len(t, manifest.Contents.Memories, 1)
	assert.Empty(t, manifest.Contents.Data)
	assert.Equal(t, ReasonPreDelete, manifest.Reason)
}

// TestRotationBounds verifies that after any sequence of snapshots at most
// Keep remain and the retained set is the most recent.
func TestRotationBounds(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 3)

	var names []string
	for i := 0; i < 6; i++ {
		manifest, err := m.Snapshot(context.Background(), ReasonPeriodic)
		require.NoError(t, err)
		names = append(names, manifest.Name)
	}

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)

	// Newest first, and exactly the last three created.
	assert.Equal(t, names[5], infos[0].Name)
	assert.Equal(t, names[4], infos[1].Name)
	assert.Equal(t, names[3], infos[2].Name)

	for _, old := range names[:3] {
		assert.NoDirExists(t, filepath.Join(s.Roots().BackupsDir(), old))
	}
}

func TestRotationIgnoresForeignDirs(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 1)

	foreign := filepath.Join(s.Roots().BackupsDir(), "keep-me")
	require.NoError(t, os.MkdirAll(foreign, 0o755))

	_, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)
	_, err = m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	assert.DirExists(t, foreign)
}

func TestListIncludesManifestStats(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 10)

	_, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ReasonManual, infos[0].Reason)
	assert.Equal(t, 1, infos[0].Statistics.Memories)
	assert.NotEmpty(t, infos[0].Timestamp)
}

func TestParseSnapshotTime(t *testing.T) {
	ts, ok := parseSnapshotTime("20260824T101500Z-periodic")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, "periodic", snapshotReason("20260824T101500Z-periodic"))
	assert.Equal(t, "pre-delete", snapshotReason("20260824T101500Z-pre-delete"))

	_, ok = parseSnapshotTime("not-a-snapshot")
	assert.False(t, ok)
	_, ok = parseSnapshotTime("")
	assert.False(t, ok)
}

func TestRecoverRestoresDeletedEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mem, task := seedEntities(t, s)
	m := newTestManager(t, s, 10)

	manifest, err := m.Snapshot(ctx, ReasonManual)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMemory(ctx, mem.ID))
	require.NoError(t, s.DeleteTask(ctx, task.ID))
	stats := s.Stats()
	require.Zero(t, stats.Memories)
	require.Zero(t, stats.Tasks)

	result, err := m.Recover(ctx, manifest.Name)
	require.NoError(t, err)
	assert.Equal(t, manifest.Name, result.Backup)
	assert.NotEmpty(t, result.PreRecovery)
	assert.Equal(t, 1, result.RestoredMemories)
	assert.Equal(t, 1, result.RestoredTasks)

	// The index was rebuilt from the restored tree.
	restored, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.Body, restored.Body)
	restoredTask, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Serial, restoredTask.Serial)

	// The pre-recovery snapshot exists alongside the restored one.
	infos, err := m.List()
	require.NoError(t, err)
	var reasons []string
	for _, info := range infos {
		reasons = append(reasons, info.Reason)
	}
	assert.Contains(t, reasons, ReasonPreRecovery)
}

func TestRecoverRejectsBadNames(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(t, s, 10)

	for _, name := range []string{"", "../escape", "a/b", `a\b`, "no-such-backup"} {
		_, err := m.Recover(context.Background(), name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestRecoverFailsOnTamperedManifest(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 10)

	manifest, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	// Remove a file the manifest lists.
	dir := filepath.Join(s.Roots().BackupsDir(), manifest.Name)
	require.NotEmpty(t, manifest.Contents.Memories)
	require.NoError(t, os.Remove(filepath.Join(dir, "memories", filepath.FromSlash(manifest.Contents.Memories[0]))))

	_, err = m.Recover(context.Background(), manifest.Name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification")
}

func TestHealthCheckHealthyStore(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 10)

	_, err := m.Snapshot(context.Background(), ReasonManual)
	require.NoError(t, err)

	report, err := m.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.CriticalIssues)
	assert.Equal(t, 1, report.EntityCounts["memories"])
	assert.Equal(t, 1, report.EntityCounts["tasks"])
	assert.Equal(t, 1, report.EntityCounts["backups"])

	// Only finding may be informational; a fresh backup is not overdue.
	for _, issue := range report.Issues {
		assert.NotEqual(t, IssueBackupOverdue, issue.Type)
	}
}

func TestHealthCheckFindsForeignAndMissingBackup(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s)
	m := newTestManager(t, s, 10)

	foreign := filepath.Join(s.Roots().Memories, "gateway", "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("not markdown"), 0o644))

	report, err := m.HealthCheck(context.Background())
	require.NoError(t, err)

	types := make(map[string]int)
	for _, issue := range report.Issues {
		types[issue.Type]++
	}
	assert.Equal(t, 1, types[IssueForeignFile])
	assert.Equal(t, 1, types[IssueBackupOverdue], "no backups yet should be flagged")
}

func TestHealthCheckFindsIndexDrift(t *testing.T) {
	s := newTestStore(t)
	mem, _ := seedEntities(t, s)
	m := newTestManager(t, s, 10)

	// Delete the file behind the index's back.
	require.NoError(t, os.Remove(mem.File))

	report, err := m.HealthCheck(context.Background())
	require.NoError(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueIndexDrift && issue.File == mem.File {
			found = true
		}
	}
	assert.True(t, found, "missing indexed file should be reported")
	assert.NotZero(t, report.CriticalIssues)
}

func TestHealthCheckFindsDanglingLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedEntities(t, s)
	m := newTestManager(t, s, 10)

	// Point the task at a memory that does not exist. SetTaskConnections
	// tolerates the missing memory and leaves the dangling task-side entry.
	_, err := s.SetTaskConnections(ctx, task.ID, []store.MemoryConnection{
		{MemoryID: "ghost", ConnectionType: store.ConnectionReference, Relevance: 0.5},
	})
	require.NoError(t, err)

	report, err := m.HealthCheck(ctx)
	require.NoError(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueDanglingLink && issue.EntityID == task.ID {
			found = true
		}
	}
	assert.True(t, found)
}
