package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/guard"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
)

// Store is the single source of truth for memories and tasks. The filesystem
// is ground truth; the in-memory indexes are a cache rebuilt from it on Open
// and by ReindexNow.
type Store struct {
	roots     *paths.Roots
	logger    *slog.Logger
	locks     *guard.IDLocks
	rootGuard *guard.RootGuard
	coalescer *guard.Coalescer

	mu             sync.RWMutex
	mems           map[string]*Memory
	memsByProject  map[string]map[string]struct{}
	tasks          map[string]*Task
	tasksByProject map[string]map[string]struct{}
	tasksByStatus  map[string]map[string]struct{}
	tasksByFile    map[string]map[string]struct{}
	taskBySerial   map[string]string
	maxTaskSerial  int
	memSeq         int
	corrupt        []CorruptFile
}

// CorruptFile records an unparseable file found during a scan. These are
// skipped in listings and surfaced by the health check.
type CorruptFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Stats summarizes the indexed state for manifests and health reports.
type Stats struct {
	Memories     int      `json:"memories"`
	Tasks        int      `json:"tasks"`
	Projects     []string `json:"projects"`
	CorruptFiles int      `json:"corrupt_files"`
}

// Open scans both roots, builds the indexes, and sweeps stale temp files
// left by an earlier crash.
func Open(roots *paths.Roots, logger *slog.Logger) (*Store, error) {
	s := &Store{
		roots:     roots,
		logger:    logger,
		locks:     guard.NewIDLocks(),
		rootGuard: guard.NewRootGuard(),
		coalescer: guard.NewCoalescer(guard.DefaultCoalesceWindow),
	}

	for _, root := range []string{roots.Memories, roots.Tasks} {
		if n, err := guard.SweepTemp(root); err != nil {
			logger.Warn("temp sweep failed", "root", root, "error", err)
		} else if n > 0 {
			logger.Info("removed stale temp files", "root", root, "count", n)
		}
	}

	if err := s.rebuild(); err != nil {
		return nil, err
	}
	logger.Info("store opened",
		"memories", len(s.mems),
		"tasks", len(s.tasks),
		"max_task_serial", s.maxTaskSerial,
		"corrupt_files", len(s.corrupt),
	)
	return s, nil
}

// Close flushes pending coalesced writes.
func (s *Store) Close() {
	s.coalescer.Close()
}

// Sync flushes pending coalesced writes without closing the store.
func (s *Store) Sync() {
	s.coalescer.FlushAll()
}

// RootGuard exposes the freeze handle the backup manager uses to take
// torn-free snapshots.
func (s *Store) RootGuard() *guard.RootGuard { return s.rootGuard }

// Roots returns the validated roots the store operates on.
func (s *Store) Roots() *paths.Roots { return s.roots }

// rebuild rescans both roots and replaces the indexes wholesale.
func (s *Store) rebuild() error {
	mems := make(map[string]*Memory)
	memsByProject := make(map[string]map[string]struct{})
	tasks := make(map[string]*Task)
	tasksByProject := make(map[string]map[string]struct{})
	tasksByStatus := make(map[string]map[string]struct{})
	tasksByFile := make(map[string]map[string]struct{})
	taskBySerial := make(map[string]string)
	var corrupt []CorruptFile
	maxSerial := 0
	maxSeq := 0

	err := walkMarkdown(s.roots.Memories, func(path, project string, raw []byte) {
		m, err := decodeMemory(raw, path, project)
		if err != nil {
			corrupt = append(corrupt, CorruptFile{File: path, Reason: err.Error()})
			s.logger.Warn("skipping corrupt memory file", "file", path, "error", err)
			return
		}
		if prev, ok := mems[m.ID]; ok {
			corrupt = append(corrupt, CorruptFile{File: path, Reason: fmt.Sprintf("duplicate id %s (already in %s)", m.ID, prev.File)})
			return
		}
		mems[m.ID] = m
		addToSet(memsByProject, m.Project, m.ID)
		if seq := fileSeq(path); seq > maxSeq {
			maxSeq = seq
		}
	})
	if err != nil {
		return fmt.Errorf("%w: scanning memories: %v", ErrIO, err)
	}

	err = walkMarkdown(s.roots.Tasks, func(path, project string, raw []byte) {
		for _, doc := range frontmatter.SplitDocs(raw) {
			t, err := decodeTask(doc, path, project)
			if err != nil {
				corrupt = append(corrupt, CorruptFile{File: path, Reason: err.Error()})
				s.logger.Warn("skipping corrupt task document", "file", path, "error", err)
				continue
			}
			if _, ok := tasks[t.ID]; ok {
				corrupt = append(corrupt, CorruptFile{File: path, Reason: fmt.Sprintf("duplicate task id %s", t.ID)})
				continue
			}
			tasks[t.ID] = t
			addToSet(tasksByProject, t.Project, t.ID)
			addToSet(tasksByStatus, t.Status, t.ID)
			addToSet(tasksByFile, t.File, t.ID)
			if t.Serial != "" {
				taskBySerial[t.Serial] = t.ID
			}
			if n := serialNumber(t.Serial); n > maxSerial {
				maxSerial = n
			}
		}
	})
	if err != nil {
		return fmt.Errorf("%w: scanning tasks: %v", ErrIO, err)
	}

	s.mu.Lock()
	s.mems = mems
	s.memsByProject = memsByProject
	s.tasks = tasks
	s.tasksByProject = tasksByProject
	s.tasksByStatus = tasksByStatus
	s.tasksByFile = tasksByFile
	s.taskBySerial = taskBySerial
	s.maxTaskSerial = maxSerial
	if maxSeq > s.memSeq {
		s.memSeq = maxSeq
	}
	s.corrupt = corrupt
	s.mu.Unlock()
	return nil
}

// ReindexNow rescans the roots and reports drift between the previous index
// and the filesystem. Used by the periodic refresh job and after recovery.
func (s *Store) ReindexNow(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	s.Sync()

	s.mu.RLock()
	beforeMems, beforeTasks := len(s.mems), len(s.tasks)
	s.mu.RUnlock()

	if err := s.rebuild(); err != nil {
		return err
	}

	s.mu.RLock()
	afterMems, afterTasks := len(s.mems), len(s.tasks)
	s.mu.RUnlock()

	if beforeMems != afterMems || beforeTasks != afterTasks {
		s.logger.Warn("index drift reconciled",
			"memories_before", beforeMems, "memories_after", afterMems,
			"tasks_before", beforeTasks, "tasks_after", afterTasks,
		)
	}
	return nil
}

// Stats returns counts for manifests and health reports.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make(map[string]struct{})
	for p := range s.memsByProject {
		projects[p] = struct{}{}
	}
	for p := range s.tasksByProject {
		projects[p] = struct{}{}
	}
	names := make([]string, 0, len(projects))
	for p := range projects {
		names = append(names, p)
	}
	return Stats{
		Memories:     len(s.mems),
		Tasks:        len(s.tasks),
		Projects:     names,
		CorruptFiles: len(s.corrupt),
	}
}

// CorruptFiles returns the unparseable files found by the last scan.
func (s *Store) CorruptFiles() []CorruptFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CorruptFile(nil), s.corrupt...)
}

// IndexedFiles returns every file the indexes currently reference. The
// health check compares this against the on-disk set.
func (s *Store) IndexedFiles() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make(map[string]struct{}, len(s.mems)+len(s.tasksByFile))
	for _, m := range s.mems {
		files[m.File] = struct{}{}
	}
	for f := range s.tasksByFile {
		files[f] = struct{}{}
	}
	return files
}

// walkMarkdown visits every .md file under root, passing its project (the
// first directory component under root) and raw contents.
func walkMarkdown(root string, visit func(path, project string, raw []byte)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		project := "default"
		if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
			project = parts[0]
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		visit(path, project, raw)
		return nil
	})
}

func decodeMemory(raw []byte, path, project string) (*Memory, error) {
	var m Memory
	body, err := frontmatter.Decode(raw, &m)
	if errors.Is(err, frontmatter.ErrNoHeader) {
		// Headerless file: synthesize defaults, keyed by its filename stem.
		m = Memory{ID: strings.TrimSuffix(filepath.Base(path), ".md")}
		err = nil
	}
	if err != nil {
		return nil, err
	}
	m.Body = body
	m.File = path
	if m.Project == "" {
		m.Project = project
	}
	promotePseudoTags(&m)
	applyMemoryDefaults(&m)
	if !ValidMemoryCategory(m.Category) {
		return nil, fmt.Errorf("unknown category %q", m.Category)
	}
	return &m, nil
}

// applyMemoryDefaults fills the fields a missing or sparse header leaves out.
func applyMemoryDefaults(m *Memory) {
	if m.Status == "" {
		m.Status = MemoryActive
	}
	if m.Timestamp == "" {
		m.Timestamp = Stamp(time.Now())
	}
	if m.Metadata.ContentType == "" {
		m.Metadata = DeriveMetadata(m.Body, m.Metadata.Language)
	}
	if m.Complexity == 0 {
		m.Complexity = DeriveComplexity(m)
	}
}

// promotePseudoTags lifts legacy "title:" and "summary:" entries out of the
// tag list into the header fields. Older writers smuggled display metadata
// through tags; both forms are accepted on input, and every rewrite persists
// the promoted form. An existing header field wins over a pseudo-tag.
func promotePseudoTags(m *Memory) {
	if len(m.Tags) == 0 {
		return
	}
	kept := m.Tags[:0]
	for _, tag := range m.Tags {
		if v, ok := strings.CutPrefix(tag, "title:"); ok {
			if m.Title == "" {
				m.Title = strings.TrimSpace(v)
			}
			continue
		}
		if v, ok := strings.CutPrefix(tag, "summary:"); ok {
			if m.Summary == "" {
				m.Summary = strings.TrimSpace(v)
			}
			continue
		}
		kept = append(kept, tag)
	}
	if len(kept) == 0 {
		kept = nil
	}
	m.Tags = kept
}

func decodeTask(raw []byte, path, project string) (*Task, error) {
	var t Task
	body, err := frontmatter.Decode(raw, &t)
	if err != nil {
		return nil, err
	}
	t.Body = body
	t.File = path
	if t.Project == "" {
		t.Project = project
	}
	if t.ID == "" {
		return nil, fmt.Errorf("task document missing id")
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if !ValidTaskStatus(t.Status) {
		return nil, fmt.Errorf("unknown status %q", t.Status)
	}
	return &t, nil
}

func addToSet(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, id string) {
	if set, ok := m[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

// newID builds an opaque id: millisecond timestamp in base 36 for rough
// ordering, uuid fragment for collision freedom.
func newID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}

var memFileRe = regexp.MustCompile(`-(\d{6})\.md$`)

// fileSeq extracts the six-digit suffix from a memory filename, 0 when the
// name does not match the generated pattern.
func fileSeq(path string) int {
	m := memFileRe.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// serialNumber extracts the numeric part of a TASK-NNNNN serial.
func serialNumber(serial string) int {
	rest, ok := strings.CutPrefix(serial, "TASK-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return n
}

// checkCtx maps context expiry to the Timeout taxonomy kind.
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return nil
}

// writeFileRetry writes atomically, retrying once for transient errors.
func writeFileRetry(path string, data []byte) error {
	err := guard.AtomicWrite(path, data)
	if err == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	if err = guard.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIO, path, err)
	}
	return nil
}
