package store

import (
	"context"
	"sort"
	"strings"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
)

// ListMemoriesOptions filters ListMemories. Zero Limit means no cap.
type ListMemoriesOptions struct {
	Project string
	Limit   int
}

// ListMemories returns memories most recent first.
func (s *Store) ListMemories(ctx context.Context, opts ListMemoriesOptions) ([]*Memory, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []*Memory
	if opts.Project != "" {
		project := paths.SanitizeProject(opts.Project)
		for id := range s.memsByProject[project] {
			out = append(out, s.mems[id].Clone())
		}
	} else {
		for _, m := range s.mems {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// SearchResult pairs a memory with its match score.
type SearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// SearchOptions filters SearchMemories.
type SearchOptions struct {
	Project string
	Limit   int
}

// SearchMemories runs a case-insensitive scan: substring over body and
// title, exact match over tags, substring over category. Search is
// best-effort under a deadline: an expiring context returns what has been
// scored so far rather than an error.
func (s *Store) SearchMemories(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, invalidInput("query is required")
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]*Memory, 0, len(s.mems))
	if opts.Project != "" {
		project := paths.SanitizeProject(opts.Project)
		for id := range s.memsByProject[project] {
			candidates = append(candidates, s.mems[id].Clone())
		}
	} else {
		for _, m := range s.mems {
			candidates = append(candidates, m.Clone())
		}
	}
	s.mu.RUnlock()

	var out []SearchResult
	for _, m := range candidates {
		if ctx.Err() != nil {
			s.logger.Debug("search cut short by deadline", "scored", len(out), "total", len(candidates))
			break
		}
		if score := scoreMemory(m, query); score > 0 {
			out = append(out, SearchResult{Memory: m, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Memory.Timestamp != out[j].Memory.Timestamp {
			return out[i].Memory.Timestamp > out[j].Memory.Timestamp
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func scoreMemory(m *Memory, query string) float64 {
	var score float64
	for _, tag := range m.Tags {
		if strings.ToLower(tag) == query {
			score += 2
			break
		}
	}
	if strings.Contains(strings.ToLower(m.Title), query) {
		score++
	}
	if strings.Contains(strings.ToLower(m.Body), query) {
		score++
	}
	if m.Category != "" && strings.Contains(m.Category, query) {
		score += 0.5
	}
	return score
}
