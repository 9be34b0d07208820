// Package admin implements the operational tools: test_tool, backup_now,
// list_backups, restore_backup, health_check.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/backup"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

// --- test_tool ---

type testParams struct {
	Message string `json:"message,omitempty"`
}

// Test is the connectivity probe: it echoes its input and reports the
// server identity so clients can verify the wiring end to end.
type Test struct {
	name    string
	version string
}

func NewTest(name, version string) *Test {
	return &Test{name: name, version: version}
}

func (t *Test) Name() string { return "test_tool" }
func (t *Test) Description() string {
	return "Verify the connection: echoes the optional message back with the server name, version, and current time."
}
func (t *Test) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": {
      "type": "string",
      "description": "Text to echo back"
    }
  }
}`)
}

func (t *Test) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p testParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if p.Message == "" {
		p.Message = "hello"
	}
	return mcp.JSONResult(map[string]any{
		"status":  "ok",
		"echo":    p.Message,
		"server":  t.name,
		"version": t.version,
		"time":    store.Stamp(time.Now()),
	})
}

// --- backup_now ---

type backupParams struct {
	Project string `json:"project,omitempty"`
}

// BackupNow takes an immediate snapshot, full or scoped to one project.
type BackupNow struct {
	backups *backup.Manager
	logger  *slog.Logger
}

func NewBackupNow(backups *backup.Manager, logger *slog.Logger) *BackupNow {
	return &BackupNow{backups: backups, logger: logger}
}

func (t *BackupNow) Name() string { return "backup_now" }
func (t *BackupNow) Description() string {
	return "Take a snapshot of all memories, tasks, and data files right now. Optionally scope the copied markdown to one project. Returns the snapshot name and statistics."
}
func (t *BackupNow) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {
      "type": "string",
      "description": "Only snapshot this project's memories and tasks"
    }
  }
}`)
}

func (t *BackupNow) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p backupParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	var (
		manifest *backup.Manifest
		err      error
	)
	if p.Project != "" {
		manifest, err = t.backups.SnapshotProject(ctx, backup.ReasonManual, p.Project)
	} else {
		manifest, err = t.backups.Snapshot(ctx, backup.ReasonManual)
	}
	if err != nil {
		return nil, fmt.Errorf("taking snapshot: %w", err)
	}

	result := map[string]any{
		"name":       manifest.Name,
		"timestamp":  manifest.Timestamp,
		"reason":     manifest.Reason,
		"statistics": manifest.Statistics,
	}
	if p.Project != "" {
		result["project"] = p.Project
	}
	return mcp.JSONResult(result)
}

// --- list_backups ---

// ListBackups enumerates the retained snapshots.
type ListBackups struct {
	backups *backup.Manager
}

func NewListBackups(backups *backup.Manager) *ListBackups {
	return &ListBackups{backups: backups}
}

func (t *ListBackups) Name() string { return "list_backups" }
func (t *ListBackups) Description() string {
	return "List the retained snapshots newest first, with the reason each was taken and what it contains."
}
func (t *ListBackups) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {}
}`)
}

func (t *ListBackups) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	infos, err := t.backups.List()
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	return mcp.JSONResult(map[string]any{
		"backups": infos,
		"count":   len(infos),
	})
}

// --- restore_backup ---

type restoreParams struct {
	Name string `json:"name"`
}

// RestoreBackup replaces the current state with a named snapshot. The
// state being replaced is itself snapshotted first, so a bad restore is
// recoverable.
type RestoreBackup struct {
	backups *backup.Manager
	logger  *slog.Logger
}

func NewRestoreBackup(backups *backup.Manager, logger *slog.Logger) *RestoreBackup {
	return &RestoreBackup{backups: backups, logger: logger}
}

func (t *RestoreBackup) Name() string { return "restore_backup" }
func (t *RestoreBackup) Description() string {
	return "Restore a named snapshot after verifying it against its manifest. The current state is snapshotted as pre-recovery before anything is replaced. Returns what was restored."
}
func (t *RestoreBackup) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "description": "Snapshot directory name, as returned by list_backups"
    }
  },
  "required": ["name"]
}`)
}

func (t *RestoreBackup) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p restoreParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Name == "" {
		return mcp.ErrorResult("name is required"), nil
	}

	result, err := t.backups.Recover(ctx, p.Name)
	if err != nil {
		// Bad names and missing or tampered snapshots are caller
		// mistakes; nothing has been touched yet when they surface.
		return mcp.ErrorResult(fmt.Sprintf("restore failed: %v", err)), nil
	}

	t.logger.Info("restore via tool", "backup", result.Backup, "pre_recovery", result.PreRecovery)
	return mcp.JSONResult(result)
}

// --- health_check ---

// HealthCheck runs the integrity scan over the trees, indexes, and links.
type HealthCheck struct {
	backups *backup.Manager
}

func NewHealthCheck(backups *backup.Manager) *HealthCheck {
	return &HealthCheck{backups: backups}
}

func (t *HealthCheck) Name() string { return "health_check" }
func (t *HealthCheck) Description() string {
	return "Run an integrity scan: corrupt files, foreign files, index drift, dangling links, and backup freshness. Reports issues without changing anything."
}
func (t *HealthCheck) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {}
}`)
}

func (t *HealthCheck) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	report, err := t.backups.HealthCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return mcp.JSONResult(report)
}
