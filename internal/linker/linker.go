// Package linker connects tasks to related memories. A linking pass
// gathers candidates by keyword scan and, when the vector index is up, by
// nearest-neighbor retrieval, ranks them with a weighted multi-factor
// score, and persists the winners bidirectionally through the store.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/vector"
)

// Ranking factor weights. They sum past one; the final score is clamped
// to [0,1].
const (
	weightSemantic = 0.40
	weightProject  = 0.25
	weightCategory = 0.15
	weightTags     = 0.15
	weightKeywords = 0.10
	weightTechTerm = 0.08
	weightRecency  = 0.08
)

const (
	// MinRelevance discards candidates scoring below it.
	MinRelevance = 0.3
	// MaxAutoLinks caps automatic connections per pass. Manual memories
	// are pinned on top and never count against it.
	MaxAutoLinks = 5
	// vectorCandidates bounds the nearest-neighbor retrieval.
	vectorCandidates = 20
	// recencyHalfLife halves the time-proximity factor per elapsed period.
	recencyHalfLife = 30 * 24 * time.Hour
	// implementationWindow is how far back a code memory may predate the
	// task and still count as its implementation groundwork.
	implementationWindow = 14 * 24 * time.Hour
)

// Linker scores memories against tasks and writes the connections.
type Linker struct {
	store  *store.Store
	index  vector.Index
	logger *slog.Logger
}

func New(s *store.Store, idx vector.Index, logger *slog.Logger) *Linker {
	if idx == nil {
		idx = vector.Disabled()
	}
	return &Linker{store: s, index: idx, logger: logger}
}

type candidate struct {
	mem     *store.Memory
	cosine  float64
	matched []string
	score   float64
}

// Link runs a full pass for the task: extract terms, gather keyword and
// vector candidates, score, select up to MaxAutoLinks above MinRelevance,
// pin every manual memory at relevance 1.0, and persist the result. The
// deadline is checked between candidates; an expired context returns a
// timeout and leaves the task's previous connections untouched.
func (l *Linker) Link(ctx context.Context, taskID string) (*store.Task, error) {
	t, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	parts := append([]string{t.Title, t.Description}, t.Tags...)
	terms := extractTerms(parts...)

	mems, err := l.store.ListMemories(ctx, store.ListMemoriesOptions{})
	if err != nil {
		return nil, err
	}
	cosines := l.semanticNeighbors(ctx, t)
	taskCreated := store.ParseStamp(t.Created)

	pinned := make(map[string]struct{}, len(t.ManualMemories))
	for _, id := range t.ManualMemories {
		pinned[id] = struct{}{}
	}

	var cands []*candidate
	for _, m := range mems {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: linking %s cut short after %d candidates: %v",
				store.ErrTimeout, taskID, len(cands), err)
		}
		if _, ok := pinned[m.ID]; ok {
			continue
		}
		c := &candidate{
			mem:     m,
			cosine:  cosines[m.ID],
			matched: matchedTerms(m, terms),
		}
		if c.cosine == 0 && len(c.matched) == 0 && m.Project != t.Project {
			continue
		}
		c.score = score(c, t, terms, taskCreated)
		if c.score >= MinRelevance {
			cands = append(cands, c)
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].mem.Timestamp != cands[j].mem.Timestamp {
			return cands[i].mem.Timestamp > cands[j].mem.Timestamp
		}
		return cands[i].mem.ID < cands[j].mem.ID
	})
	if len(cands) > MaxAutoLinks {
		cands = cands[:MaxAutoLinks]
	}

	conns := l.manualConnections(ctx, t)
	for _, c := range cands {
		conns = append(conns, store.MemoryConnection{
			MemoryID:       c.mem.ID,
			MemorySerial:   c.mem.Serial,
			ConnectionType: connectionType(c.mem, taskCreated),
			Relevance:      math.Round(c.score*100) / 100,
			MatchedTerms:   c.matched,
		})
	}

	updated, err := l.store.SetTaskConnections(ctx, taskID, conns)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("linked task",
		"task", taskID, "auto", len(cands), "manual", len(t.ManualMemories),
		"scanned", len(mems), "terms", len(terms))
	return updated, nil
}

// PinManual writes only the task's manual_memories as connections,
// skipping candidate scoring entirely. Used when a task is created with
// auto-linking off but pins present.
func (l *Linker) PinManual(ctx context.Context, taskID string) (*store.Task, error) {
	t, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return l.store.SetTaskConnections(ctx, taskID, l.manualConnections(ctx, t))
}

// manualConnections builds the pinned entries for the task's
// manual_memories list. A missing memory keeps its pin; the health check
// reports the dangling reference.
func (l *Linker) manualConnections(ctx context.Context, t *store.Task) []store.MemoryConnection {
	conns := make([]store.MemoryConnection, 0, len(t.ManualMemories))
	for _, id := range t.ManualMemories {
		conn := store.MemoryConnection{
			MemoryID:       id,
			ConnectionType: store.ConnectionManual,
			Relevance:      1.0,
		}
		if m, err := l.store.GetMemory(ctx, id); err == nil {
			conn.MemorySerial = m.Serial
		} else {
			l.logger.Warn("manual memory missing, keeping pin",
				"task", t.ID, "memory", id)
		}
		conns = append(conns, conn)
	}
	return conns
}

// semanticNeighbors embeds the task text and returns cosine by memory id.
// Any failure degrades to an empty map and the keyword path carries on.
func (l *Linker) semanticNeighbors(ctx context.Context, t *store.Task) map[string]float64 {
	if !l.index.Available() {
		return nil
	}
	text := strings.TrimSpace(t.Title + " " + t.Description)
	if text == "" {
		return nil
	}
	vec, err := l.index.Embed(ctx, text)
	if err != nil {
		l.logger.Warn("task embedding failed, linking keyword-only",
			"task", t.ID, "error", err)
		return nil
	}
	matches, err := l.index.Query(ctx, vector.KindMemory, vec, vectorCandidates)
	if err != nil {
		l.logger.Warn("vector query failed, linking keyword-only",
			"task", t.ID, "error", err)
		return nil
	}
	out := make(map[string]float64, len(matches))
	for _, m := range matches {
		out[m.ID] = m.Cosine
	}
	return out
}

func score(c *candidate, t *store.Task, terms []string, taskCreated time.Time) float64 {
	m := c.mem
	s := weightSemantic * c.cosine
	if m.Project == t.Project {
		s += weightProject
	}
	if m.Category != "" && m.Category == t.Category {
		s += weightCategory
	}
	s += weightTags * jaccard(m.Tags, t.Tags)
	if len(terms) > 0 {
		s += weightKeywords * float64(len(c.matched)) / float64(len(terms))
	}
	if hasTechTerm(c.matched) {
		s += weightTechTerm
	}
	s += weightRecency * recency(store.ParseStamp(m.Timestamp), taskCreated)
	return math.Min(math.Max(s, 0), 1)
}

// matchedTerms returns the extracted terms appearing anywhere in the
// memory's title, body, category, or tags.
func matchedTerms(m *store.Memory, terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	hay := strings.ToLower(m.Title + "\n" + m.Body + "\n" + m.Category + "\n" +
		strings.Join(m.Tags, "\n"))
	var out []string
	for _, term := range terms {
		if strings.Contains(hay, term) {
			out = append(out, term)
		}
	}
	return out
}

// jaccard is |A∩B| / |A∪B| over lowercased tag sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := lowerSet(a)
	setB := lowerSet(b)
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func lowerSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return out
}

// recency decays exponentially with the gap between the memory and the
// task creation, halving every recencyHalfLife.
func recency(memTime, taskTime time.Time) float64 {
	if memTime.IsZero() || taskTime.IsZero() {
		return 0
	}
	dt := taskTime.Sub(memTime)
	if dt < 0 {
		dt = -dt
	}
	return math.Exp2(-dt.Hours() / recencyHalfLife.Hours())
}

// connectionType picks the relation flavor: research-flavored categories
// link as research, a code memory written shortly before the task counts
// as its implementation groundwork, everything else is a reference.
// Manual is never assigned here.
func connectionType(m *store.Memory, taskCreated time.Time) string {
	switch m.Category {
	case store.CategoryResearch, store.CategoryConversations:
		return store.ConnectionResearch
	case store.CategoryCode:
		memTime := store.ParseStamp(m.Timestamp)
		if !memTime.IsZero() && !taskCreated.IsZero() {
			if d := taskCreated.Sub(memTime); d >= 0 && d < implementationWindow {
				return store.ConnectionImplementation
			}
		}
	}
	return store.ConnectionReference
}
