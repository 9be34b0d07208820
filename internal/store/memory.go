package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
)

// createAttempts bounds filename collision retries before surfacing
// AlreadyExists.
const createAttempts = 3

// CreateMemory persists a new memory. The caller fills Body plus any
// optional header fields; id, serial, timestamp, complexity, metadata, and
// the file location are assigned here. The write is committed before return.
func (s *Store) CreateMemory(ctx context.Context, m *Memory) (*Memory, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Body) == "" {
		return nil, invalidInput("content is required")
	}
	if !ValidMemoryCategory(m.Category) {
		return nil, invalidInput("unknown category %q", m.Category)
	}
	if !ValidMemoryPriority(m.Priority) {
		return nil, invalidInput("unknown priority %q", m.Priority)
	}
	if !ValidMemoryStatus(m.Status) {
		return nil, invalidInput("unknown status %q", m.Status)
	}

	now := time.Now()
	m = m.Clone()
	m.Project = paths.SanitizeProject(m.Project)
	if m.ID == "" {
		m.ID = newID(now)
	}
	m.Timestamp = Stamp(now)
	if m.Status == "" {
		m.Status = MemoryActive
	}
	promotePseudoTags(m)
	m.Metadata = DeriveMetadata(m.Body, m.Metadata.Language)
	m.Complexity = DeriveComplexity(m)

	s.mu.Lock()
	if _, exists := s.mems[m.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: memory id %s", ErrAlreadyExists, m.ID)
	}
	s.mu.Unlock()

	slug := slugify(m.Body)
	date := now.UTC().Format("2006-01-02")
	dir := s.roots.MemoryProject(m.Project)

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		s.mu.Lock()
		s.memSeq++
		seq := s.memSeq
		s.mu.Unlock()

		file := filepath.Join(dir, fmt.Sprintf("%s-%s-%06d.md", date, slug, seq))
		if _, err := os.Stat(file); err == nil {
			lastErr = fmt.Errorf("%w: file %s", ErrAlreadyExists, file)
			continue
		}

		m.Serial = fmt.Sprintf("MEM-%06d", seq)
		m.File = file
		if err := s.writeMemoryNow(m); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.mems[m.ID] = m
		addToSet(s.memsByProject, m.Project, m.ID)
		s.mu.Unlock()

		s.logger.Info("memory created", "id", m.ID, "serial", m.Serial, "project", m.Project, "complexity", m.Complexity)
		return m.Clone(), nil
	}
	return nil, lastErr
}

// GetMemory returns the memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	m, ok := s.mems[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("memory", id)
	}
	return m.Clone(), nil
}

// RawMemory scans corrupt files for one mentioning id and returns its raw
// body. Explicit gets may read a memory the index refused to parse.
func (s *Store) RawMemory(ctx context.Context, id string) (*Memory, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	corrupt := append([]CorruptFile(nil), s.corrupt...)
	s.mu.RUnlock()

	needle := "id: " + id
	for _, cf := range corrupt {
		raw, err := os.ReadFile(cf.File)
		if err != nil {
			continue
		}
		if strings.Contains(string(raw), needle) || strings.Contains(string(raw), "id: \""+id+"\"") {
			return &Memory{ID: id, Body: string(raw), File: cf.File}, nil
		}
	}
	return nil, notFound("memory", id)
}

// TouchMemory records an access: increments access_count and stamps
// last_accessed. The disk write is coalesced; failures are logged, not
// surfaced.
func (s *Store) TouchMemory(ctx context.Context, id string) (*Memory, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	m, ok := s.mems[id]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("memory", id)
	}
	m.AccessCount++
	m.LastAccessed = Stamp(time.Now())
	out := m.Clone()
	s.mu.Unlock()

	s.scheduleMemoryFlush(id)
	return out, nil
}

// MemoryPatch mutates a memory through UpdateMemory. Nil fields are left
// unchanged; id, timestamp, project, and file location are immutable.
type MemoryPatch struct {
	Title           *string
	Summary         *string
	Category        *string
	Priority        *string
	Status          *string
	Tags            *[]string
	RelatedMemories *[]string
	Body            *string
}

// UpdateMemory merges patch into the memory. Metadata and complexity are
// re-derived; the disk write is coalesced.
func (s *Store) UpdateMemory(ctx context.Context, id string, patch MemoryPatch) (*Memory, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if patch.Category != nil && !ValidMemoryCategory(*patch.Category) {
		return nil, invalidInput("unknown category %q", *patch.Category)
	}
	if patch.Priority != nil && !ValidMemoryPriority(*patch.Priority) {
		return nil, invalidInput("unknown priority %q", *patch.Priority)
	}
	if patch.Status != nil && !ValidMemoryStatus(*patch.Status) {
		return nil, invalidInput("unknown status %q", *patch.Status)
	}
	if patch.Body != nil && strings.TrimSpace(*patch.Body) == "" {
		return nil, invalidInput("content cannot be emptied")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	m, ok := s.mems[id]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("memory", id)
	}
	if patch.Title != nil {
		m.Title = *patch.Title
	}
	if patch.Summary != nil {
		m.Summary = *patch.Summary
	}
	if patch.Category != nil {
		m.Category = *patch.Category
	}
	if patch.Priority != nil {
		m.Priority = *patch.Priority
	}
	if patch.Status != nil {
		m.Status = *patch.Status
	}
	if patch.Tags != nil {
		m.Tags = append(frontmatter.StringList(nil), *patch.Tags...)
		promotePseudoTags(m)
	}
	if patch.RelatedMemories != nil {
		m.RelatedMemories = append(frontmatter.StringList(nil), *patch.RelatedMemories...)
	}
	if patch.Body != nil {
		m.Body = *patch.Body
	}
	m.Metadata = DeriveMetadata(m.Body, m.Metadata.Language)
	m.Complexity = DeriveComplexity(m)
	out := m.Clone()
	s.mu.Unlock()

	s.scheduleMemoryFlush(id)
	return out, nil
}

// DeleteMemory removes the memory file and every task-side reference to it.
// Returns NotFound when the id is unknown; gateway deletes treat that as
// success.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	// Detach task-side references first, task locks before memory locks.
	s.mu.RLock()
	var referencing []string
	for tid, t := range s.tasks {
		for _, c := range t.MemoryConnections {
			if c.MemoryID == id {
				referencing = append(referencing, tid)
				break
			}
		}
		for _, mid := range t.ManualMemories {
			if mid == id {
				referencing = append(referencing, tid)
				break
			}
		}
	}
	s.mu.RUnlock()
	for _, tid := range dedupe(referencing) {
		if err := s.detachMemoryFromTask(ctx, tid, id); err != nil {
			s.logger.Warn("cascade detach failed", "task", tid, "memory", id, "error", err)
		}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	m, ok := s.mems[id]
	var file, project string
	if ok {
		file, project = m.File, m.Project
	}
	s.mu.RUnlock()
	if !ok {
		return notFound("memory", id)
	}

	s.coalescer.Cancel(file)
	endWrite := s.rootGuard.BeginWrite()
	err := os.Remove(file)
	endWrite()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrIO, file, err)
	}

	s.mu.Lock()
	delete(s.mems, id)
	removeFromSet(s.memsByProject, project, id)
	s.mu.Unlock()

	s.logger.Info("memory deleted", "id", id, "project", project)
	return nil
}

// writeMemoryNow encodes and commits a memory synchronously.
func (s *Store) writeMemoryNow(m *Memory) error {
	data, err := encodeMemory(m)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(m.File)
	defer unlock()
	endWrite := s.rootGuard.BeginWrite()
	defer endWrite()
	return writeFileRetry(m.File, data)
}

// scheduleMemoryFlush coalesces repeated writes to the same memory. The
// flush re-reads current state, so the final state is written once.
func (s *Store) scheduleMemoryFlush(id string) {
	s.mu.RLock()
	m, ok := s.mems[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	file := m.File
	s.coalescer.Schedule(file, func() {
		s.mu.RLock()
		cur, ok := s.mems[id]
		var snapshot *Memory
		if ok {
			snapshot = cur.Clone()
		}
		s.mu.RUnlock()
		if !ok {
			return
		}
		if err := s.writeMemoryNow(snapshot); err != nil {
			s.logger.Error("memory flush failed", "id", id, "file", file, "error", err)
		}
	})
}

func encodeMemory(m *Memory) ([]byte, error) {
	data, err := frontmatter.Encode(m, m.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding memory %s: %v", ErrInternal, m.ID, err)
	}
	return data, nil
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives the filename fragment from the first ~30 content chars.
func slugify(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	slug := nonWordRe.ReplaceAllString(strings.ToLower(string(runes)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "memory"
	}
	return slug
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
