// Command migrate rewrites memory files that still carry legacy "title:" or
// "summary:" pseudo-tags in their tag list into the first-class header form.
// The server reads both forms; this makes the promotion permanent on disk.
//
// Usage:
//
//	MEMORY_DIR=./memories DATA_DIR=./data go run ./scripts/migrate [-dry-run] [-verify]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/config"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report files that would change without writing")
	verify := flag.Bool("verify", false, "exit nonzero if any pseudo-tags remain; writes nothing")
	flag.Parse()

	if err := run(*dryRun, *verify); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
}

func run(dryRun, verify bool) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pending, err := scan(cfg.Roots.Memories)
	if err != nil {
		return err
	}

	if verify {
		if len(pending) > 0 {
			for _, p := range pending {
				log.Printf("pseudo-tags remain: %s", p.file)
			}
			return fmt.Errorf("%d file(s) still carry pseudo-tags", len(pending))
		}
		log.Printf("clean: no pseudo-tags under %s", cfg.Roots.Memories)
		return nil
	}

	if len(pending) == 0 {
		log.Printf("nothing to migrate under %s", cfg.Roots.Memories)
		return nil
	}
	if dryRun {
		for _, p := range pending {
			log.Printf("would rewrite %s (id %s)", p.file, p.id)
		}
		log.Printf("dry run: %d file(s) would be rewritten", len(pending))
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.Open(cfg.Roots, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	migrated := 0
	for _, p := range pending {
		// Opening the store already promoted the tags in memory; an empty
		// patch flushes the promoted form back to the file.
		if _, err := st.UpdateMemory(ctx, p.id, store.MemoryPatch{}); err != nil {
			log.Printf("skipping %s: %v", p.file, err)
			continue
		}
		migrated++
	}
	st.Sync()

	log.Printf("rewrote %d of %d file(s)", migrated, len(pending))
	return nil
}

type pendingFile struct {
	file string
	id   string
}

// scan walks the memories root and returns every parseable file whose tag
// list still contains a pseudo-tag.
func scan(root string) ([]pendingFile, error) {
	var pending []pendingFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var probe struct {
			ID   string                 `yaml:"id"`
			Tags frontmatter.StringList `yaml:"tags"`
		}
		if _, err := frontmatter.Decode(raw, &probe); err != nil {
			if !errors.Is(err, frontmatter.ErrNoHeader) {
				log.Printf("skipping unparseable %s: %v", path, err)
			}
			return nil
		}
		if probe.ID == "" || !hasPseudoTags(probe.Tags) {
			return nil
		}
		pending = append(pending, pendingFile{file: path, id: probe.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return pending, nil
}

func hasPseudoTags(tags []string) bool {
	for _, tag := range tags {
		if strings.HasPrefix(tag, "title:") || strings.HasPrefix(tag, "summary:") {
			return true
		}
	}
	return false
}
