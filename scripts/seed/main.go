// Command seed fills a store with a small demonstration dataset: memories
// across two projects plus tasks that auto-link against them.
//
// Usage:
//
//	MEMORY_DIR=./memories TASK_DIR=./tasks DATA_DIR=./data go run ./scripts/seed
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/config"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/linker"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/vector"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.Open(cfg.Roots, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	memories := []*store.Memory{
		{
			Title:    "Retry strategy",
			Body:     "API retry policy: exponential backoff with jitter, max 5 attempts, honor Retry-After headers.",
			Project:  "api",
			Category: store.CategoryCode,
			Tags:     frontmatter.StringList{"retry", "backoff", "http"},
		},
		{
			Title:    "Gateway timeout budget",
			Body:     "Gateway calls carry a 30 second deadline end to end; downstream budgets subtract network overhead.",
			Project:  "api",
			Category: store.CategoryCode,
			Tags:     frontmatter.StringList{"timeout", "http"},
		},
		{
			Title:    "Planning recap",
			Body:     "Q3 planning recap: memory server ships first, dashboard follows once the tool surface settles.",
			Project:  "planning",
			Category: store.CategoryWork,
			Tags:     frontmatter.StringList{"roadmap"},
		},
		{
			Title:    "Ollama embedding model",
			Body:     "embeddinggemma gives the best recall/latency tradeoff of the local models we measured.",
			Project:  "api",
			Category: store.CategoryResearch,
			Tags:     frontmatter.StringList{"embeddings", "ollama"},
			Status:   store.MemoryReference,
		},
	}
	for _, m := range memories {
		created, err := st.CreateMemory(ctx, m)
		if err != nil {
			return fmt.Errorf("creating memory %q: %w", m.Title, err)
		}
		log.Printf("memory %s %q (%s)", created.Serial, created.Title, created.Project)
	}

	lnk := linker.New(st, vector.Disabled(), logger)

	tasks := []*store.Task{
		{
			Title:       "Implement retry with backoff",
			Description: "Wrap outbound API calls in the shared retry helper.",
			Project:     "api",
			Category:    store.CategoryCode,
			Priority:    store.PriorityHigh,
		},
		{
			Title:       "Wire request deadlines",
			Description: "Thread the gateway timeout budget through every downstream call.",
			Project:     "api",
			Category:    store.CategoryCode,
		},
		{
			Title:    "Draft Q3 status update",
			Project:  "planning",
			Category: store.CategoryWork,
			Priority: store.PriorityLow,
		},
	}
	for _, t := range tasks {
		created, err := st.CreateTask(ctx, t)
		if err != nil {
			return fmt.Errorf("creating task %q: %w", t.Title, err)
		}
		linked, err := lnk.Link(ctx, created.ID)
		if err != nil {
			return fmt.Errorf("linking task %s: %w", created.ID, err)
		}
		log.Printf("task %s %q -> %d connections", linked.Serial, linked.Title, len(linked.MemoryConnections))
	}

	stats := st.Stats()
	log.Printf("store now holds %d memories and %d tasks across %d projects",
		stats.Memories, stats.Tasks, len(stats.Projects))
	return nil
}
