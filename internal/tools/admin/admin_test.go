package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/backup"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"
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

func newTestManager(t *testing.T, s *store.Store) *backup.Manager {
	t.Helper()
	return backup.NewManager(s, testLogger(), backup.Options{
		Keep:     5,
		Interval: time.Hour,
		Version:  "test",
	})
}

func resultText(res *mcp.ToolsCallResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	return res.Content[0].Text
}

func callOK(t *testing.T, tool mcp.Tool, params string) map[string]any {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected tool error: %s", resultText(res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	return out
}

func callFail(t *testing.T, tool mcp.Tool, params string) string {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	require.NotNil(t, res)
	require.True(t, res.IsError, "expected a tool error, got: %s", resultText(res))
	return resultText(res)
}

func TestTestToolEchoes(t *testing.T) {
	test := NewTest("like-i-said-memory-v2", "2.0.0")

	out := callOK(t, test, `{"message": "ping"}`)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "ping", out["echo"])
	assert.Equal(t, "like-i-said-memory-v2", out["server"])
	assert.Equal(t, "2.0.0", out["version"])
	assert.NotEmpty(t, out["time"])

	bare := callOK(t, test, `{}`)
	assert.Equal(t, "hello", bare["echo"])
}

func TestBackupNowFullAndScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateMemory(ctx, &store.Memory{Body: "gateway note", Project: "gateway"})
	require.NoError(t, err)
	_, err = s.CreateMemory(ctx, &store.Memory{Body: "billing note", Project: "billing"})
	require.NoError(t, err)

	tool := NewBackupNow(newTestManager(t, s), testLogger())

	full := callOK(t, tool, `{}`)
	assert.NotEmpty(t, full["name"])
	assert.Equal(t, backup.ReasonManual, full["reason"])
	assert.Equal(t, float64(2), full["statistics"].(map[string]any)["memories"])

	scoped := callOK(t, tool, `{"project": "gateway"}`)
	assert.Equal(t, "gateway", scoped["project"])
	assert.Equal(t, float64(1), scoped["statistics"].(map[string]any)["memories"])
}

func TestListBackupsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	mgr := newTestManager(t, s)

	list := NewListBackups(mgr)
	empty := callOK(t, list, `{}`)
	assert.Equal(t, float64(0), empty["count"])

	_, err := mgr.Snapshot(context.Background(), backup.ReasonManual)
	require.NoError(t, err)

	out := callOK(t, list, `{}`)
	assert.Equal(t, float64(1), out["count"])
	entry := out["backups"].([]any)[0].(map[string]any)
	assert.NotEmpty(t, entry["name"])
	assert.Equal(t, backup.ReasonManual, entry["reason"])
}

func TestRestoreBackupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mem, err := s.CreateMemory(ctx, &store.Memory{Body: "do not lose this", Project: "gateway"})
	require.NoError(t, err)

	mgr := newTestManager(t, s)
	snap := callOK(t, NewBackupNow(mgr, testLogger()), `{}`)
	require.NoError(t, s.DeleteMemory(ctx, mem.ID))

	restore := NewRestoreBackup(mgr, testLogger())
	out := callOK(t, restore, `{"name": "`+snap["name"].(string)+`"}`)
	assert.Equal(t, snap["name"], out["backup"])
	assert.NotEmpty(t, out["pre_recovery"])
	assert.GreaterOrEqual(t, out["restored_memories"].(float64), float64(1))

	got, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "do not lose this", got.Body)

	assert.Contains(t, callFail(t, restore, `{"name": "no-such-backup"}`), "restore failed")
	assert.Contains(t, callFail(t, restore, `{}`), "name is required")
}

func TestHealthCheckReports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateMemory(ctx, &store.Memory{Body: "note"})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, &store.Task{Title: "check health"})
	require.NoError(t, err)

	mgr := newTestManager(t, s)
	_, err = mgr.Snapshot(ctx, backup.ReasonManual)
	require.NoError(t, err)

	out := callOK(t, NewHealthCheck(mgr), `{}`)
	counts := out["entity_counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["memories"])
	assert.Equal(t, float64(1), counts["tasks"])
	assert.Equal(t, float64(0), out["issues_found"])
	assert.NotEmpty(t, out["summary"])
}
