// Package content provides the MCP prompt and resources for the
// Like-I-Said server.
package content

import "github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"

// --- likeisaid-guide prompt ---

// GuidePrompt is the primary LLM-facing prompt that explains what the
// server stores, how linking works, and how to use the tools.
type GuidePrompt struct{}

func (p *GuidePrompt) Definition() mcp.PromptDefinition {
	return mcp.PromptDefinition{
		Name:        "likeisaid-guide",
		Description: "Guide to the Like-I-Said memory server: entities, tools, auto-linking, and backups",
		Arguments: []mcp.PromptArgument{
			{
				Name:        "focus",
				Description: "Optional focus area: 'memories', 'tasks', 'linking', or 'backups'. Defaults to the full guide.",
				Required:    false,
			},
		},
	}
}

func (p *GuidePrompt) Get(arguments map[string]string) (*mcp.PromptsGetResult, error) {
	focus := arguments["focus"]

	var text string
	switch focus {
	case "memories":
		text = guideMemoriesSection
	case "tasks":
		text = guideTasksSection
	case "linking":
		text = guideLinkingSection
	case "backups":
		text = guideBackupsSection
	default:
		text = guideFull
	}

	return &mcp.PromptsGetResult{
		Description: "Like-I-Said guide" + focusSuffix(focus),
		Messages: []mcp.PromptMessage{
			{
				Role:    "user",
				Content: mcp.TextContent(text),
			},
		},
	}, nil
}

func focusSuffix(focus string) string {
	if focus == "" {
		return ""
	}
	return " (" + focus + ")"
}

const guideFull = `# Like-I-Said — Persistent Memory for LLM Sessions

## What is Like-I-Said?

Like-I-Said is a Model Context Protocol (MCP) server that gives LLM clients a persistent memory and task store. Everything lives as **plain markdown files with YAML front-matter** under two directory trees — one for memories, one for tasks — organized by project. There is no opaque database: every record can be read, edited, grepped, and version-controlled by hand, and the server rebuilds its index from the files on every start.

This enables:
- **Continuity**: Facts and decisions captured in one session are retrievable in the next
- **Task tracking**: Tasks with statuses, subtasks, and priorities that survive restarts
- **Automatic context**: Creating a task links it to related memories, so picking up work recalls why it exists
- **Durability**: Atomic writes, rotated snapshots, and an integrity checker guard the files

## Entities

Two entity types, each a markdown document:

| Entity | Serial | Storage |
|--------|--------|---------|
| **Memory** | MEM-000001 | One file per memory: memories/<project>/<date>-<slug>-<seq>.md |
| **Task** | TASK-00001 | Shared per-project file: tasks/<project>/tasks.md |

A memory is freeform content — notes, decisions, code snippets, research — with tags, a category (personal, work, code, research, conversations, preferences), a complexity level derived from the content, and an access count. A task has a title, status, priority, optional parent task and subtasks, and **memory connections**: typed, scored links to the memories that give it context.

Projects are directories. Anything without an explicit project lands in ` + "`default`" + `.

## Tools Reference

### Memories (5 tools)
- **add_memory** — Store content with optional tags, category, project, title, summary
- **get_memory** — Full record by id; counts the access; serves corrupt files raw
- **list_memories** — Newest first, filtered by project, with content previews
- **search_memories** — Ranked keyword search across content, title, tags, category
- **delete_memory** — Idempotent delete with a pre-delete project snapshot

### Tasks (5 tools)
- **create_task** — New task; auto-links related memories unless auto_link is false
- **update_task** — Status moves, field edits, subtask wiring, manual memory pins
- **list_tasks** — Newest first, filtered by project and status
- **get_task_context** — Task plus its connected memories resolved to content; depth 'deep' walks subtasks
- **delete_task** — Idempotent cascaded delete with a pre-delete project snapshot

### Admin (5 tools)
- **test_tool** — Connectivity probe: echoes input with server name and version
- **backup_now** — Immediate snapshot, full or scoped to one project
- **list_backups** — Retained snapshots newest first
- **restore_backup** — Verified restore; the replaced state is snapshotted first
- **health_check** — Integrity scan: corrupt files, index drift, dangling links, backup freshness

## Task Status Workflow

` + "```" + `
todo → in_progress → done
  ↘ blocked ↗      (done → todo reopens)
` + "```" + `

Blocked tasks must resume (in_progress or todo) before completing. A parent cannot be done while a subtask is not. Completing stamps ` + "`completed`" + ` once; reopening keeps the stamp.

## Auto-Linking

When a task is created or its title, description, tags, project, or pins change, the server scores every memory against it and connects the best matches (up to 5, relevance ≥ 0.3). Signals: semantic similarity when the vector index is available, same project, same category, shared tags, shared keywords, technical vocabulary, and recency. Connection types:

- **research** — memory is research or conversation notes
- **implementation** — code memory written shortly before the task
- **reference** — everything else
- **manual** — pinned through manual_memories; never removed by re-linking, always relevance 1.0

## Semantic Search

With a local Ollama instance configured, memories and tasks are embedded and similarity feeds both linking and retrieval. Without it the server runs identically on keyword scoring — no feature disappears, rankings are just less informed.

## Recommended Workflow

1. **Capture** as you go: ` + "`add_memory`" + ` for decisions, findings, and snippets, tagged and scoped to a project
2. **Plan** with ` + "`create_task`" + ` — linking pulls the relevant memories in automatically
3. **Resume** a session with ` + "`get_task_context`" + ` to recall the why, then ` + "`update_task`" + ` as work progresses
4. **Protect**: ` + "`backup_now`" + ` before risky operations, ` + "`health_check`" + ` when something looks off
`

const guideMemoriesSection = `# Like-I-Said Memories

A memory is one markdown file: YAML front-matter (id, serial, timestamp, tags, category, project, complexity, access tracking) above freeform content. Files are human-editable; external edits are picked up by the file watcher and reflected in queries within a debounce interval.

## Fields worth knowing

- **category** — personal, work, code, research, conversations, preferences. Research and conversation memories link to tasks as 'research'; code memories written just before a task link as 'implementation'.
- **complexity** — 1 to 4, derived from the content (length, code fences, technical density). Recomputed on every update.
- **access_count / last_accessed** — get_memory increments these; use them to find stale memories.
- **project** — the directory the file lives in. Defaults to 'default'.

## Tool notes

- ` + "`add_memory`" + ` requires only content. The server derives the content type (text, code, structured) and complexity.
- ` + "`get_memory`" + ` returns the full record. If the file on disk is corrupt, the raw text is returned with ` + "`corrupt: true`" + ` so nothing becomes unreachable.
- ` + "`search_memories`" + ` is keyword-ranked: matches in the title and tags weigh more than body matches.
- ` + "`delete_memory`" + ` snapshots the project first, then deletes, then unlinks the memory from every task. Deleting an already-absent id succeeds.
`

const guideTasksSection = `# Like-I-Said Tasks

Tasks for one project share a single tasks.md file, one front-matter document per task. Every task carries its memory connections inline, so reading the file shows the full context.

## Status transitions

todo → in_progress, blocked, done; in_progress → done, blocked, todo; blocked → in_progress, todo; done → todo. Illegal moves are rejected with a Conflict error and the task is left unchanged. A parent cannot complete while a subtask is open.

## Hierarchy

parent_task on create or update makes a task a subtask; both sides are kept consistent. Deleting a parent detaches the children rather than deleting them.

## Tool notes

- ` + "`create_task`" + ` auto-links related memories by default; pass auto_link false to skip scoring. manual_memories are pinned either way.
- ` + "`update_task`" + ` re-runs linking when the title, description, project, tags, or pins change. Status-only updates leave connections alone.
- ` + "`get_task_context`" + ` resolves connections to actual memory content. depth 'deep' adds each subtask with previews of its own memories. Connections to deleted memories are marked missing instead of dropped.
- ` + "`delete_task`" + ` snapshots first and cascades: parent loses the subtask entry, children are detached, memories lose their link halves.
`

const guideLinkingSection = `# Like-I-Said Auto-Linking

Linking keeps tasks and the memories that motivated them connected without manual curation.

## When it runs

- create_task (unless auto_link is false)
- update_task when title, description, project, tags, or manual_memories change

Each run replaces the previous automatic connections; manual pins always survive.

## Scoring

Every memory is scored 0 to 1 against the task:

| Signal | Weight |
|--------|--------|
| Semantic similarity (vector index) | 0.40 |
| Same project | 0.25 |
| Same category | 0.15 |
| Tag overlap (Jaccard) | 0.15 |
| Shared keywords | 0.10 |
| Technical vocabulary | 0.08 |
| Recency (30-day half-life) | up to 0.08 |

Memories scoring at least 0.3 are linked, best five only. Without the vector index the semantic signal is zero and keyword-driven matches still connect.

## Connection types

- **research** — the memory's category is research or conversations
- **implementation** — a code memory written within two weeks before the task
- **reference** — any other automatic link
- **manual** — pinned via manual_memories, relevance fixed at 1.0

Re-linking never assigns 'manual'; that type is reserved for explicit pins.
`

const guideBackupsSection = `# Like-I-Said Backups & Integrity

## Snapshots

A snapshot copies both markdown trees and the data files into backups/<timestamp>-<reason>/ with a manifest listing every file. Reasons: periodic (the auto-backup job), manual (backup_now), pre-delete (before any tool delete), pre-recovery (before a restore), emergency (crash handler). Rotation keeps the newest snapshots and evicts the oldest.

## Restore

restore_backup verifies the snapshot against its manifest, snapshots the current state as pre-recovery, swaps the backed-up project directories into place, and reindexes. A failed restore reports the pre-recovery name so nothing is lost. Projects absent from the snapshot are untouched.

## Health check

health_check scans without mutating:

- **corrupt_file** (critical) — front-matter that does not parse
- **index_drift** (critical) — files on disk missing from the index or vice versa
- **foreign_file** (warning) — non-markdown files inside managed trees
- **dangling_link** (warning) — connections, parents, subtasks, or pins pointing at entities that no longer exist
- **backup_overdue** (warning) — newest snapshot older than twice the backup interval

Start with the critical issues; each carries a suggestion.
`
