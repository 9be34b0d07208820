package content

import "github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"

// --- likeisaid://usage-guide resource ---

// UsageGuideResource exposes the full guide as a readable resource for
// clients that prefer resources over prompts. Same text as the
// likeisaid-guide prompt without a focus.
type UsageGuideResource struct{}

func (r *UsageGuideResource) Definition() mcp.ResourceDefinition {
	return mcp.ResourceDefinition{
		URI:         "likeisaid://usage-guide",
		Name:        "Like-I-Said Usage Guide",
		Description: "How to use the memory server: entities, tools, auto-linking, status workflow, and backups",
		MimeType:    "text/markdown",
	}
}

func (r *UsageGuideResource) Read() (*mcp.ResourcesReadResult, error) {
	return &mcp.ResourcesReadResult{
		Contents: []mcp.ResourceContent{
			{
				URI:      "likeisaid://usage-guide",
				MimeType: "text/markdown",
				Text:     guideFull,
			},
		},
	}, nil
}

// --- likeisaid://entity-model resource ---

// EntityModelResource documents the on-disk format: front-matter fields,
// enums, serials, and the directory layout. LLMs read this to interpret
// or hand-write entity files.
type EntityModelResource struct{}

func (r *EntityModelResource) Definition() mcp.ResourceDefinition {
	return mcp.ResourceDefinition{
		URI:         "likeisaid://entity-model",
		Name:        "Like-I-Said Entity Model",
		Description: "Complete reference of the memory and task file formats: front-matter fields, enums, serials, connections, and directory layout",
		MimeType:    "text/markdown",
	}
}

func (r *EntityModelResource) Read() (*mcp.ResourcesReadResult, error) {
	return &mcp.ResourcesReadResult{
		Contents: []mcp.ResourceContent{
			{
				URI:      "likeisaid://entity-model",
				MimeType: "text/markdown",
				Text:     entityModelContent,
			},
		},
	}, nil
}

const entityModelContent = `# Like-I-Said Entity Model

Both entity types are markdown documents with YAML front-matter between ` + "`---`" + ` fences. Unknown front-matter keys are preserved across rewrites, so hand-added fields survive.

## Directory layout

` + "```" + `
memories/
  <project>/
    2026-08-24-api-retry-logic-000001.md     one file per memory
tasks/
  <project>/
    tasks.md                                  all of the project's tasks
data/
  settings.json                               runtime settings
  vectors.db                                  optional embedding index
backups/
  20260824T101500Z-periodic/                  snapshots with manifests
` + "```" + `

## Memory front-matter

| Field | Type | Notes |
|-------|------|-------|
| id | string | Stable unique id; never changes |
| serial | string | MEM-000001; assigned once, never reused |
| title | string | Optional display title |
| summary | string | Optional one-liner |
| timestamp | string | RFC 3339 UTC creation time |
| complexity | int | 1-4, derived from the content |
| category | enum | personal, work, code, research, conversations, preferences |
| project | string | Matches the directory; 'default' when unset |
| tags | list | Single string also accepted and normalized |
| priority | enum | low, medium, high |
| status | enum | active, archived, reference |
| related_memories | list | Memory ids, freeform curation |
| task_connections | list | Mirror halves of task links (see below) |
| access_count | int | Incremented by get_memory |
| last_accessed | string | RFC 3339 UTC |
| metadata | map | content_type (text, code, structured), language, size, mermaid_diagram |

The body below the closing fence is the memory content. A markdown file with no front-matter at all is adopted with synthesized defaults rather than rejected.

## Task front-matter

| Field | Type | Notes |
|-------|------|-------|
| id | string | Stable unique id |
| serial | string | TASK-00001 |
| title | string | Required |
| description | string | What the task involves |
| project | string | Matches the directory |
| category | enum | personal, work, code, research |
| priority | enum | low, medium, high, urgent |
| status | enum | todo, in_progress, done, blocked |
| parent_task | string | Task id; empty means top-level |
| subtasks | list | Child task ids, kept consistent with parent_task |
| tags | list | |
| memory_connections | list | See below |
| manual_memories | list | Pinned memory ids, survive re-linking |
| created / updated | string | RFC 3339 UTC |
| completed | string | Stamped on first completion, kept on reopen |

## Connections

Task side (memory_connections):

` + "```yaml" + `
memory_connections:
  - memory_id: mem-7f3a9c
    memory_serial: MEM-000042
    connection_type: implementation   # research | implementation | reference | manual
    relevance: 0.63                   # 0..1, manual pins are 1.0
    matched_terms: [retry, backoff]
` + "```" + `

Memory side (task_connections) mirrors with task_id and task_serial. Both halves are updated together; a half pointing at a deleted entity is reported by health_check as a dangling link.

## Serials

Serials are per-type counters scanned from the files on startup: the next serial is one past the highest seen, so deleted serials are never reused. Ids are for machines; serials are for humans and stay short.

## Status transitions

` + "```" + `
todo        → in_progress | blocked | done
in_progress → done | blocked | todo
blocked     → in_progress | todo
done        → todo
` + "```" + `

A parent cannot move to done while any subtask is not done.
`
