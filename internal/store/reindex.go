package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
)

// EntityAt reports the indexed entity for a file: the memory's id, or the
// task's id when exactly one task lives in the file. ok is false for
// unknown paths and for shared task files holding several tasks.
func (s *Store) EntityAt(path string) (id string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ids, found := s.tasksByFile[path]; found {
		if len(ids) == 1 {
			for tid := range ids {
				return tid, true
			}
		}
		return "", false
	}
	for _, m := range s.mems {
		if m.File == path {
			return m.ID, true
		}
	}
	return "", false
}

// ReindexFile reconciles the index with one on-disk path after an external
// change: entities are upserted from the file's current content, or evicted
// when the file is gone. The filesystem wins every disagreement.
func (s *Store) ReindexFile(ctx context.Context, path string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(path, s.roots.Memories+string(filepath.Separator)):
		return s.reindexMemoryFile(path)
	case strings.HasPrefix(path, s.roots.Tasks+string(filepath.Separator)):
		return s.reindexTaskFile(path)
	}
	return invalidInput("path %s is outside the managed roots", path)
}

func (s *Store) reindexMemoryFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		for id, m := range s.mems {
			if m.File == path {
				delete(s.mems, id)
				removeFromSet(s.memsByProject, m.Project, id)
			}
		}
		s.clearCorruptLocked(path)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return wrapIO("reading", path, err)
	}

	m, decodeErr := decodeMemory(raw, path, projectFromPath(s.roots.Memories, path))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCorruptLocked(path)
	if decodeErr != nil {
		s.corrupt = append(s.corrupt, CorruptFile{File: path, Reason: decodeErr.Error()})
		s.logger.Warn("external edit left file unparseable", "file", path, "error", decodeErr)
		return nil
	}

	// A rewritten file may have changed its id; drop whatever the index
	// held for this path first.
	for id, old := range s.mems {
		if old.File == path && id != m.ID {
			delete(s.mems, id)
			removeFromSet(s.memsByProject, old.Project, id)
		}
	}
	if prev, ok := s.mems[m.ID]; ok && prev.File != path {
		s.corrupt = append(s.corrupt, CorruptFile{File: path, Reason: "duplicate id " + m.ID + " (already in " + prev.File + ")"})
		return nil
	}
	if prev, ok := s.mems[m.ID]; ok {
		removeFromSet(s.memsByProject, prev.Project, m.ID)
	}
	s.mems[m.ID] = m
	addToSet(s.memsByProject, m.Project, m.ID)
	if seq := fileSeq(path); seq > s.memSeq {
		s.memSeq = seq
	}
	return nil
}

func (s *Store) reindexTaskFile(path string) error {
	raw, err := os.ReadFile(path)
	var fresh []*Task
	switch {
	case os.IsNotExist(err):
		// Fall through with an empty set: every indexed task evicts.
	case err != nil:
		return wrapIO("reading", path, err)
	default:
		project := projectFromPath(s.roots.Tasks, path)
		for _, doc := range frontmatter.SplitDocs(raw) {
			t, decodeErr := decodeTask(doc, path, project)
			if decodeErr != nil {
				s.mu.Lock()
				s.corrupt = append(s.corrupt, CorruptFile{File: path, Reason: decodeErr.Error()})
				s.mu.Unlock()
				s.logger.Warn("external edit left task document unparseable", "file", path, "error", decodeErr)
				continue
			}
			fresh = append(fresh, t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.clearCorruptLocked(path)
	}

	keep := make(map[string]struct{}, len(fresh))
	for _, t := range fresh {
		keep[t.ID] = struct{}{}
	}
	for id := range s.tasksByFile[path] {
		if _, ok := keep[id]; ok {
			continue
		}
		if old, found := s.tasks[id]; found {
			delete(s.tasks, id)
			removeFromSet(s.tasksByProject, old.Project, id)
			removeFromSet(s.tasksByStatus, old.Status, id)
			delete(s.taskBySerial, old.Serial)
		}
		removeFromSet(s.tasksByFile, path, id)
	}

	for _, t := range fresh {
		if old, ok := s.tasks[t.ID]; ok {
			if old.File != path {
				// Same id in two files: the first owner keeps it.
				s.corrupt = append(s.corrupt, CorruptFile{File: path, Reason: "duplicate task id " + t.ID})
				continue
			}
			removeFromSet(s.tasksByProject, old.Project, t.ID)
			removeFromSet(s.tasksByStatus, old.Status, t.ID)
			delete(s.taskBySerial, old.Serial)
		}
		s.tasks[t.ID] = t
		addToSet(s.tasksByProject, t.Project, t.ID)
		addToSet(s.tasksByStatus, t.Status, t.ID)
		addToSet(s.tasksByFile, path, t.ID)
		if t.Serial != "" {
			s.taskBySerial[t.Serial] = t.ID
		}
		if n := serialNumber(t.Serial); n > s.maxTaskSerial {
			s.maxTaskSerial = n
		}
	}
	return nil
}

// clearCorruptLocked drops stale corrupt records for a path that has been
// rescanned. Caller holds s.mu.
func (s *Store) clearCorruptLocked(path string) {
	kept := s.corrupt[:0]
	for _, c := range s.corrupt {
		if c.File != path {
			kept = append(kept, c)
		}
	}
	s.corrupt = kept
}

func projectFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "default"
	}
	if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
		return parts[0]
	}
	return "default"
}
