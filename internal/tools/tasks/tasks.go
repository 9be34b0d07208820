// Package tasks implements the task tools: create_task, update_task,
// list_tasks, get_task_context, delete_task.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/backup"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/linker"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/vector"
)

const (
	defaultListLimit = 50
	previewChars     = 160
)

// errResult converts a store error into a typed tool error result.
func errResult(err error) *mcp.ToolsCallResult {
	return mcp.ErrorResult(fmt.Sprintf("%s: %v", store.Kind(err), err))
}

// taskSummary is the trimmed record used in list results and subtask context.
func taskSummary(t *store.Task) map[string]any {
	out := map[string]any{
		"id":      t.ID,
		"serial":  t.Serial,
		"title":   t.Title,
		"status":  t.Status,
		"project": t.Project,
		"created": t.Created,
		"updated": t.Updated,
	}
	if t.Priority != "" {
		out["priority"] = t.Priority
	}
	if t.Category != "" {
		out["category"] = t.Category
	}
	if t.ParentTask != "" {
		out["parent_task"] = t.ParentTask
	}
	if len(t.Tags) > 0 {
		out["tags"] = t.Tags
	}
	if len(t.Subtasks) > 0 {
		out["subtasks"] = len(t.Subtasks)
	}
	if len(t.MemoryConnections) > 0 {
		out["memory_connections"] = len(t.MemoryConnections)
	}
	if t.Completed != "" {
		out["completed"] = t.Completed
	}
	return out
}

func preview(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= previewChars {
		return body
	}
	return strings.TrimSpace(string(runes[:previewChars])) + "..."
}

// embedText is what the vector index stores for a task.
func embedText(t *store.Task) string {
	return strings.TrimSpace(t.Title + "\n" + t.Description)
}

// --- create_task ---

type createParams struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Project        string   `json:"project,omitempty"`
	Category       string   `json:"category,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	ParentTask     string   `json:"parent_task,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	AutoLink       *bool    `json:"auto_link,omitempty"`
	ManualMemories []string `json:"manual_memories,omitempty"`
}

// Create persists a new task and, unless auto_link is false, connects it
// to related memories. A linking failure never loses the task: it is
// saved unlinked and the failure is logged.
type Create struct {
	store  *store.Store
	linker *linker.Linker
	index  vector.Index
	logger *slog.Logger
}

func NewCreate(s *store.Store, l *linker.Linker, idx vector.Index, logger *slog.Logger) *Create {
	if idx == nil {
		idx = vector.Disabled()
	}
	return &Create{store: s, linker: l, index: idx, logger: logger}
}

func (t *Create) Name() string { return "create_task" }
func (t *Create) Description() string {
	return "Create a task with optional description, project, category, priority, parent task, and tags. Related memories are linked automatically unless auto_link is false; manual_memories are always pinned. Returns the full task including its serial and connections."
}
func (t *Create) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {
      "type": "string",
      "description": "Short task title"
    },
    "description": {
      "type": "string",
      "description": "What the task involves"
    },
    "project": {
      "type": "string",
      "description": "Project the task belongs to (default: 'default')"
    },
    "category": {
      "type": "string",
      "enum": ["personal", "work", "code", "research"],
      "description": "Task category"
    },
    "priority": {
      "type": "string",
      "enum": ["low", "medium", "high", "urgent"],
      "description": "Task priority"
    },
    "parent_task": {
      "type": "string",
      "description": "Id of the parent task, making this a subtask"
    },
    "tags": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Tags for categorization and retrieval"
    },
    "auto_link": {
      "type": "boolean",
      "description": "Connect related memories automatically (default: true)",
      "default": true
    },
    "manual_memories": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Memory ids to pin to this task regardless of relevance"
    }
  },
  "required": ["title"]
}`)
}

func (t *Create) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p createParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(p.Title) == "" {
		return mcp.ErrorResult("title is required"), nil
	}

	task, err := t.store.CreateTask(ctx, &store.Task{
		Title:          p.Title,
		Description:    p.Description,
		Project:        p.Project,
		Category:       p.Category,
		Priority:       p.Priority,
		ParentTask:     p.ParentTask,
		Tags:           p.Tags,
		ManualMemories: p.ManualMemories,
	})
	if err != nil {
		if kind := store.Kind(err); kind == "InvalidInput" || kind == "NotFound" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("creating task: %w", err)
	}

	autoLink := p.AutoLink == nil || *p.AutoLink
	switch {
	case autoLink:
		linked, err := t.linker.Link(ctx, task.ID)
		if err != nil {
			t.logger.Warn("auto-linking failed, task saved without connections", "id", task.ID, "error", err)
		} else {
			task = linked
		}
	case len(task.ManualMemories) > 0:
		linked, err := t.linker.PinManual(ctx, task.ID)
		if err != nil {
			t.logger.Warn("pinning manual memories failed", "id", task.ID, "error", err)
		} else {
			task = linked
		}
	}

	if err := vector.UpsertText(ctx, t.index, vector.KindTask, task.ID, embedText(task)); err != nil {
		t.logger.Warn("task not indexed for semantic search", "id", task.ID, "error", err)
	}

	return mcp.JSONResult(task)
}

// --- update_task ---

type updateParams struct {
	ID             string    `json:"id"`
	Title          *string   `json:"title,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Project        *string   `json:"project,omitempty"`
	Category       *string   `json:"category,omitempty"`
	Priority       *string   `json:"priority,omitempty"`
	Status         *string   `json:"status,omitempty"`
	ParentTask     *string   `json:"parent_task,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	ManualMemories *[]string `json:"manual_memories,omitempty"`
	AddSubtasks    []string  `json:"add_subtasks,omitempty"`
	RemoveSubtasks []string  `json:"remove_subtasks,omitempty"`
}

// relink reports whether the patch touched a field that feeds link scoring.
func (p *updateParams) relink() bool {
	return p.Title != nil || p.Description != nil || p.Project != nil ||
		p.Tags != nil || p.ManualMemories != nil
}

// Update applies a partial update and refreshes memory connections when a
// scoring field changed. Omitted fields are untouched.
type Update struct {
	store  *store.Store
	linker *linker.Linker
	index  vector.Index
	logger *slog.Logger
}

func NewUpdate(s *store.Store, l *linker.Linker, idx vector.Index, logger *slog.Logger) *Update {
	if idx == nil {
		idx = vector.Disabled()
	}
	return &Update{store: s, linker: l, index: idx, logger: logger}
}

func (t *Update) Name() string { return "update_task" }
func (t *Update) Description() string {
	return "Update a task: status moves (todo, in_progress, done, blocked), field edits, subtask wiring, and manual memory pins. Changing the title, description, project, tags, or pins re-runs memory linking. Returns the updated task."
}
func (t *Update) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "description": "Task id"
    },
    "title": {
      "type": "string",
      "description": "New title"
    },
    "description": {
      "type": "string",
      "description": "New description"
    },
    "project": {
      "type": "string",
      "description": "Move the task to this project"
    },
    "category": {
      "type": "string",
      "enum": ["personal", "work", "code", "research"],
      "description": "New category"
    },
    "priority": {
      "type": "string",
      "enum": ["low", "medium", "high", "urgent"],
      "description": "New priority"
    },
    "status": {
      "type": "string",
      "enum": ["todo", "in_progress", "done", "blocked"],
      "description": "New status; blocked tasks must resume before completing, done only reopens to todo"
    },
    "parent_task": {
      "type": "string",
      "description": "New parent task id; empty string detaches"
    },
    "tags": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Replacement tag list"
    },
    "manual_memories": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Replacement list of pinned memory ids"
    },
    "add_subtasks": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Task ids to attach as subtasks"
    },
    "remove_subtasks": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Task ids to detach"
    }
  },
  "required": ["id"]
}`)
}

func (t *Update) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p updateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	task, err := t.store.UpdateTask(ctx, p.ID, store.TaskPatch{
		Title:          p.Title,
		Description:    p.Description,
		Project:        p.Project,
		Category:       p.Category,
		Priority:       p.Priority,
		Status:         p.Status,
		ParentTask:     p.ParentTask,
		Tags:           p.Tags,
		ManualMemories: p.ManualMemories,
		AddSubtasks:    p.AddSubtasks,
		RemoveSubtasks: p.RemoveSubtasks,
	})
	if err != nil {
		if kind := store.Kind(err); kind == "InvalidInput" || kind == "NotFound" || kind == "Conflict" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("updating task %s: %w", p.ID, err)
	}

	if p.relink() {
		linked, err := t.linker.Link(ctx, task.ID)
		if err != nil {
			t.logger.Warn("re-linking failed, task saved with stale connections", "id", task.ID, "error", err)
		} else {
			task = linked
		}
	}
	if p.Title != nil || p.Description != nil {
		if err := vector.UpsertText(ctx, t.index, vector.KindTask, task.ID, embedText(task)); err != nil {
			t.logger.Warn("task not re-indexed for semantic search", "id", task.ID, "error", err)
		}
	}

	return mcp.JSONResult(task)
}

// --- list_tasks ---

type listParams struct {
	Project string `json:"project,omitempty"`
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// List returns tasks newest first.
type List struct {
	store *store.Store
}

func NewList(s *store.Store) *List {
	return &List{store: s}
}

func (t *List) Name() string { return "list_tasks" }
func (t *List) Description() string {
	return "List tasks, newest first. Optionally filter by project and status and cap the count. Returns trimmed records with subtask and connection counts."
}
func (t *List) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {
      "type": "string",
      "description": "Only tasks in this project"
    },
    "status": {
      "type": "string",
      "enum": ["todo", "in_progress", "done", "blocked"],
      "description": "Only tasks with this status"
    },
    "limit": {
      "type": "integer",
      "description": "Max results to return (default: 50)",
      "default": 50
    }
  }
}`)
}

func (t *List) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p listParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if p.Limit <= 0 {
		p.Limit = defaultListLimit
	}

	found, err := t.store.ListTasks(ctx, store.ListTasksOptions{
		Project: p.Project,
		Status:  p.Status,
		Limit:   p.Limit,
	})
	if err != nil {
		if store.Kind(err) == "InvalidInput" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	results := make([]map[string]any, 0, len(found))
	for _, task := range found {
		results = append(results, taskSummary(task))
	}
	return mcp.JSONResult(map[string]any{
		"tasks": results,
		"count": len(results),
	})
}

// --- get_task_context ---

type contextParams struct {
	ID    string `json:"id"`
	Depth string `json:"depth,omitempty"`
}

// Context resolves a task together with its connected memories. Shallow
// depth returns the task and its memories in full; deep depth adds each
// subtask with previews of its own memories.
type Context struct {
	store  *store.Store
	logger *slog.Logger
}

func NewContext(s *store.Store, logger *slog.Logger) *Context {
	return &Context{store: s, logger: logger}
}

func (t *Context) Name() string { return "get_task_context" }
func (t *Context) Description() string {
	return "Retrieve a task with its connected memories resolved to content. Depth 'shallow' (default) covers the task itself; 'deep' also walks subtasks and previews their memories."
}
func (t *Context) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "description": "Task id"
    },
    "depth": {
      "type": "string",
      "enum": ["shallow", "deep"],
      "description": "How far to resolve (default: shallow)",
      "default": "shallow"
    }
  },
  "required": ["id"]
}`)
}

func (t *Context) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p contextParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}
	switch p.Depth {
	case "":
		p.Depth = "shallow"
	case "shallow", "deep":
	default:
		return mcp.ErrorResult(fmt.Sprintf("unknown depth %q, want shallow or deep", p.Depth)), nil
	}

	task, err := t.store.GetTask(ctx, p.ID)
	if err != nil {
		if store.Kind(err) == "NotFound" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("getting task %s: %w", p.ID, err)
	}

	result := map[string]any{
		"task":     task,
		"depth":    p.Depth,
		"memories": t.resolveMemories(ctx, task, false),
	}
	if task.ParentTask != "" {
		if parent, err := t.store.GetTask(ctx, task.ParentTask); err == nil {
			result["parent"] = taskSummary(parent)
		}
	}

	if p.Depth == "deep" {
		subtasks := make([]map[string]any, 0, len(task.Subtasks))
		for _, subID := range task.Subtasks {
			sub, err := t.store.GetTask(ctx, subID)
			if err != nil {
				t.logger.Warn("subtask unresolvable", "task", task.ID, "subtask", subID, "error", err)
				continue
			}
			subtasks = append(subtasks, map[string]any{
				"task":     taskSummary(sub),
				"memories": t.resolveMemories(ctx, sub, true),
			})
		}
		result["subtasks"] = subtasks
	}

	return mcp.JSONResult(result)
}

// resolveMemories loads every connected memory. Connections whose memory no
// longer exists stay in the output marked missing rather than vanishing.
func (t *Context) resolveMemories(ctx context.Context, task *store.Task, previews bool) []map[string]any {
	out := make([]map[string]any, 0, len(task.MemoryConnections))
	for _, conn := range task.MemoryConnections {
		entry := map[string]any{
			"id":              conn.MemoryID,
			"connection_type": conn.ConnectionType,
			"relevance":       conn.Relevance,
		}
		if conn.MemorySerial != "" {
			entry["serial"] = conn.MemorySerial
		}
		if len(conn.MatchedTerms) > 0 {
			entry["matched_terms"] = conn.MatchedTerms
		}

		m, err := t.store.GetMemory(ctx, conn.MemoryID)
		if err != nil {
			entry["missing"] = true
			out = append(out, entry)
			continue
		}
		if m.Title != "" {
			entry["title"] = m.Title
		}
		if m.Category != "" {
			entry["category"] = m.Category
		}
		entry["project"] = m.Project
		if len(m.Tags) > 0 {
			entry["tags"] = m.Tags
		}
		if previews {
			entry["preview"] = preview(m.Body)
		} else {
			entry["content"] = m.Body
		}
		out = append(out, entry)
	}
	return out
}

// --- delete_task ---

type deleteParams struct {
	ID string `json:"id"`
}

// Delete removes a task after a project-scoped safety snapshot. The store
// cascades: the parent drops its subtask entry, children are detached, and
// connected memories lose their link halves. Deleting an unknown id is a
// success: the desired end state already holds.
type Delete struct {
	store   *store.Store
	index   vector.Index
	backups *backup.Manager
	logger  *slog.Logger
}

func NewDelete(s *store.Store, idx vector.Index, backups *backup.Manager, logger *slog.Logger) *Delete {
	if idx == nil {
		idx = vector.Disabled()
	}
	return &Delete{store: s, index: idx, backups: backups, logger: logger}
}

func (t *Delete) Name() string { return "delete_task" }
func (t *Delete) Description() string {
	return "Delete a task by id. Takes a pre-delete snapshot of the project, removes the task, detaches its subtasks, and unlinks it from every connected memory. Idempotent."
}
func (t *Delete) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "description": "Task id"
    }
  },
  "required": ["id"]
}`)
}

func (t *Delete) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p deleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	task, err := t.store.GetTask(ctx, p.ID)
	if err != nil {
		if store.Kind(err) == "NotFound" {
			return mcp.JSONResult(map[string]any{
				"id":      p.ID,
				"deleted": false,
				"reason":  "not found",
			})
		}
		return nil, fmt.Errorf("loading task %s: %w", p.ID, err)
	}

	if t.backups != nil {
		if _, err := t.backups.SnapshotProject(ctx, backup.ReasonPreDelete, task.Project); err != nil {
			t.logger.Warn("pre-delete snapshot failed", "id", p.ID, "project", task.Project, "error", err)
		}
	}
	if t.index.Available() {
		if err := t.index.Delete(ctx, p.ID); err != nil {
			t.logger.Warn("removing task from vector index failed", "id", p.ID, "error", err)
		}
	}

	if err := t.store.DeleteTask(ctx, p.ID); err != nil {
		if store.Kind(err) == "NotFound" {
			return mcp.JSONResult(map[string]any{"id": p.ID, "deleted": false, "reason": "not found"})
		}
		return nil, fmt.Errorf("deleting task %s: %w", p.ID, err)
	}

	return mcp.JSONResult(map[string]any{"id": p.ID, "deleted": true})
}
