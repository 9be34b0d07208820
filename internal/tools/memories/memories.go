// Package memories implements the memory tools: add_memory, get_memory,
// list_memories, search_memories, delete_memory.
package memories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/backup"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/vector"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 20
	previewChars       = 160
)

// errResult converts a store error into a typed tool error result.
func errResult(err error) *mcp.ToolsCallResult {
	return mcp.ErrorResult(fmt.Sprintf("%s: %v", store.Kind(err), err))
}

// memorySummary is the trimmed record used in list and search results.
func memorySummary(m *store.Memory) map[string]any {
	out := map[string]any{
		"id":           m.ID,
		"serial":       m.Serial,
		"project":      m.Project,
		"timestamp":    m.Timestamp,
		"complexity":   m.Complexity,
		"content_type": m.Metadata.ContentType,
		"access_count": m.AccessCount,
		"preview":      preview(m.Body),
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	if m.Summary != "" {
		out["summary"] = m.Summary
	}
	if m.Category != "" {
		out["category"] = m.Category
	}
	if len(m.Tags) > 0 {
		out["tags"] = m.Tags
	}
	if len(m.TaskConnections) > 0 {
		out["task_connections"] = len(m.TaskConnections)
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

// --- add_memory ---

type addParams struct {
	Content         string   `json:"content"`
	Tags            []string `json:"tags,omitempty"`
	Category        string   `json:"category,omitempty"`
	Project         string   `json:"project,omitempty"`
	Priority        string   `json:"priority,omitempty"`
	Status          string   `json:"status,omitempty"`
	RelatedMemories []string `json:"related_memories,omitempty"`
	Language        string   `json:"language,omitempty"`
	Title           string   `json:"title,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// Add persists a new memory and indexes it for semantic retrieval.
type Add struct {
	store  *store.Store
	index  vector.Index
	logger *slog.Logger
}

func NewAdd(s *store.Store, idx vector.Index, logger *slog.Logger) *Add {
	if idx == nil {
		idx = vector.Disabled()
	}
	return &Add{store: s, index: idx, logger: logger}
}

func (t *Add) Name() string { return "add_memory" }
func (t *Add) Description() string {
	return "Store a new memory: freeform markdown content with optional tags, category, project, priority, title, and summary. Returns the assigned id, serial, file path, complexity bucket, and detected content type."
}
func (t *Add) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {
      "type": "string",
      "description": "The memory content (markdown supported)"
    },
    "tags": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Tags for categorization and retrieval"
    },
    "category": {
      "type": "string",
      "enum": ["personal", "work", "code", "research", "conversations", "preferences"],
      "description": "Memory category"
    },
    "project": {
      "type": "string",
      "description": "Project the memory belongs to (default: 'default')"
    },
    "priority": {
      "type": "string",
      "enum": ["low", "medium", "high"],
      "description": "Memory priority"
    },
    "status": {
      "type": "string",
      "enum": ["active", "archived", "reference"],
      "description": "Memory status (default: active)"
    },
    "related_memories": {
      "type": "array",
      "items": {"type": "string"},
      "description": "IDs of related memories"
    },
    "language": {
      "type": "string",
      "description": "Programming language when the content is code"
    },
    "title": {
      "type": "string",
      "description": "Short display title"
    },
    "summary": {
      "type": "string",
      "description": "One-line summary"
    }
  },
  "required": ["content"]
}`)
}

func (t *Add) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p addParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(p.Content) == "" {
		return mcp.ErrorResult("content is required"), nil
	}

	m, err := t.store.CreateMemory(ctx, &store.Memory{
		Body:            p.Content,
		Tags:            p.Tags,
		Category:        p.Category,
		Project:         p.Project,
		Priority:        p.Priority,
		Status:          p.Status,
		RelatedMemories: p.RelatedMemories,
		Title:           p.Title,
		Summary:         p.Summary,
		Metadata:        store.MemoryMetadata{Language: p.Language},
	})
	if err != nil {
		if store.Kind(err) == "InvalidInput" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("creating memory: %w", err)
	}

	if err := vector.UpsertText(ctx, t.index, vector.KindMemory, m.ID, m.Body); err != nil {
		t.logger.Warn("memory not indexed for semantic search", "id", m.ID, "error", err)
	}

	return mcp.JSONResult(map[string]any{
		"id":           m.ID,
		"serial":       m.Serial,
		"file":         m.File,
		"complexity":   m.Complexity,
		"content_type": m.Metadata.ContentType,
		"project":      m.Project,
	})
}

// --- get_memory ---

type getParams struct {
	ID string `json:"id"`
}

// Get returns the full memory record, tracking the access. A memory whose
// file failed to parse is still returned raw so nothing becomes unreachable.
type Get struct {
	store    *store.Store
	logger   *slog.Logger
	readOnly bool
}

func NewGet(s *store.Store, logger *slog.Logger) *Get {
	return &Get{store: s, logger: logger}
}

// NewGetReadOnly returns a reader that skips access tracking. Used when
// another process holds the write lock and this one must not touch files.
func NewGetReadOnly(s *store.Store, logger *slog.Logger) *Get {
	return &Get{store: s, logger: logger, readOnly: true}
}

func (t *Get) Name() string { return "get_memory" }
func (t *Get) Description() string {
	return "Retrieve a memory by id. Returns the full record including content, connections, and metadata, and records the access."
}
func (t *Get) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "description": "Memory id"
    }
  },
  "required": ["id"]
}`)
}

func (t *Get) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p getParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	m, err := t.fetch(ctx, p.ID)
	if err != nil {
		if store.Kind(err) == "NotFound" {
			// The file may exist but have failed to parse.
			if raw, rawErr := t.store.RawMemory(ctx, p.ID); rawErr == nil {
				t.logger.Warn("serving corrupt memory raw", "id", p.ID, "file", raw.File)
				return mcp.JSONResult(map[string]any{
					"id":      raw.ID,
					"file":    raw.File,
					"content": raw.Body,
					"corrupt": true,
				})
			}
		}
		if kind := store.Kind(err); kind == "NotFound" || kind == "InvalidInput" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("getting memory %s: %w", p.ID, err)
	}

	return mcp.JSONResult(m)
}

func (t *Get) fetch(ctx context.Context, id string) (*store.Memory, error) {
	if t.readOnly {
		return t.store.GetMemory(ctx, id)
	}
	return t.store.TouchMemory(ctx, id)
}

// --- list_memories ---

type listParams struct {
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// List returns memories most recent first.
type List struct {
	store *store.Store
}

func NewList(s *store.Store) *List {
	return &List{store: s}
}

func (t *List) Name() string { return "list_memories" }
func (t *List) Description() string {
	return "List memories, most recent first. Optionally filter by project and cap the count. Returns trimmed records with a content preview."
}
func (t *List) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {
      "type": "string",
      "description": "Only memories in this project"
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

	mems, err := t.store.ListMemories(ctx, store.ListMemoriesOptions{
		Project: p.Project,
		Limit:   p.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}

	results := make([]map[string]any, 0, len(mems))
	for _, m := range mems {
		results = append(results, memorySummary(m))
	}
	return mcp.JSONResult(map[string]any{
		"memories": results,
		"count":    len(results),
	})
}

// --- search_memories ---

type searchParams struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Search runs the ranked keyword scan over memories.
type Search struct {
	store *store.Store
}

func NewSearch(s *store.Store) *Search {
	return &Search{store: s}
}

func (t *Search) Name() string { return "search_memories" }
func (t *Search) Description() string {
	return "Search memories by keyword across content, title, tags, and category. Returns results ranked by match score."
}
func (t *Search) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Search text"
    },
    "project": {
      "type": "string",
      "description": "Only memories in this project"
    },
    "limit": {
      "type": "integer",
      "description": "Max results to return (default: 20)",
      "default": 20
    }
  },
  "required": ["query"]
}`)
}

func (t *Search) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(p.Query) == "" {
		return mcp.ErrorResult("query is required"), nil
	}
	if p.Limit <= 0 {
		p.Limit = defaultSearchLimit
	}

	found, err := t.store.SearchMemories(ctx, p.Query, store.SearchOptions{
		Project: p.Project,
		Limit:   p.Limit,
	})
	if err != nil {
		if store.Kind(err) == "InvalidInput" {
			return errResult(err), nil
		}
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	results := make([]map[string]any, 0, len(found))
	for _, r := range found {
		entry := memorySummary(r.Memory)
		entry["score"] = r.Score
		results = append(results, entry)
	}
	return mcp.JSONResult(map[string]any{
		"results": results,
		"count":   len(results),
		"query":   p.Query,
	})
}

// --- delete_memory ---

type deleteParams struct {
	ID string `json:"id"`
}

// Delete removes a memory after a project-scoped safety snapshot. Deleting
// an unknown id is a success: the desired end state already holds.
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

func (t *Delete) Name() string { return "delete_memory" }
func (t *Delete) Description() string {
	return "Delete a memory by id. Takes a pre-delete snapshot of the project, removes the file, and unlinks it from every connected task. Idempotent."
}
func (t *Delete) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "description": "Memory id"
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

	m, err := t.store.GetMemory(ctx, p.ID)
	if err != nil {
		if store.Kind(err) == "NotFound" {
			return mcp.JSONResult(map[string]any{
				"id":      p.ID,
				"deleted": false,
				"reason":  "not found",
			})
		}
		return nil, fmt.Errorf("loading memory %s: %w", p.ID, err)
	}

	if t.backups != nil {
		if _, err := t.backups.SnapshotProject(ctx, backup.ReasonPreDelete, m.Project); err != nil {
			t.logger.Warn("pre-delete snapshot failed", "id", p.ID, "project", m.Project, "error", err)
		}
	}
	if t.index.Available() {
		if err := t.index.Delete(ctx, p.ID); err != nil {
			t.logger.Warn("removing memory from vector index failed", "id", p.ID, "error", err)
		}
	}

	if err := t.store.DeleteMemory(ctx, p.ID); err != nil {
		if store.Kind(err) == "NotFound" {
			return mcp.JSONResult(map[string]any{"id": p.ID, "deleted": false, "reason": "not found"})
		}
		return nil, fmt.Errorf("deleting memory %s: %w", p.ID, err)
	}

	return mcp.JSONResult(map[string]any{"id": p.ID, "deleted": true})
}
