// Package backup implements snapshots, rotation, recovery, and the
// integrity health check. Snapshots copy the markdown trees plus the data
// files into <dataRoot>/backups/<ts>-<reason>/ with a manifest; rotation
// keeps the most recent N; recovery swaps a backup's subtrees back into
// place after re-snapshotting the current state.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/guard"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

// Snapshot reasons. The reason is part of the directory name and the
// manifest, so operators can tell why a snapshot exists.
const (
	ReasonPeriodic    = "periodic"
	ReasonManual      = "manual"
	ReasonPreDelete   = "pre-delete"
	ReasonPreRecovery = "pre-recovery"
	ReasonEmergency   = "emergency"
)

const (
	manifestName       = "backup-manifest.json"
	snapshotTimeLayout = "20060102T150405"
)

// Manifest is the backup-manifest.json document written into every snapshot.
type Manifest struct {
	Timestamp  string           `json:"timestamp"`
	Reason     string           `json:"reason"`
	Version    string           `json:"version"`
	Paths      ManifestPaths    `json:"paths"`
	Contents   ManifestContents `json:"contents"`
	Statistics ManifestStats    `json:"statistics"`
	Settings   json.RawMessage  `json:"settings,omitempty"`

	// Name is the snapshot directory name, filled on load and after write.
	Name string `json:"-"`
}

// ManifestPaths records the roots the snapshot was taken from.
type ManifestPaths struct {
	Memories string `json:"memories"`
	Tasks    string `json:"tasks"`
	Data     string `json:"data"`
}

// ManifestContents lists the copied files, relative to each subtree.
type ManifestContents struct {
	Memories []string `json:"memories"`
	Tasks    []string `json:"tasks"`
	Data     []string `json:"data"`
}

// ManifestStats summarizes the snapshot.
type ManifestStats struct {
	Tasks     int   `json:"tasks"`
	Memories  int   `json:"memories"`
	DataFiles int   `json:"dataFiles"`
	TotalSize int64 `json:"totalSize"`
}

// Options configures the Manager.
type Options struct {
	Keep     int           // rotation: snapshots retained, oldest evicted
	Interval time.Duration // periodic cadence; freshness check uses 2x this
	Version  string        // recorded in manifests
}

// Manager owns the backups directory. One snapshot or recovery runs at a
// time; writers are frozen for the duration of the copy so snapshots are
// never torn.
type Manager struct {
	store  *store.Store
	roots  *paths.Roots
	logger *slog.Logger
	opts   Options

	mu sync.Mutex
}

// NewManager creates a Manager over the store's roots.
func NewManager(st *store.Store, logger *slog.Logger, opts Options) *Manager {
	if opts.Keep < 1 {
		opts.Keep = 10
	}
	return &Manager{
		store:  st,
		roots:  st.Roots(),
		logger: logger,
		opts:   opts,
	}
}

// Snapshot copies both markdown trees and the data files into a new backup
// directory, writes the manifest, and rotates old snapshots.
func (m *Manager) Snapshot(ctx context.Context, reason string) (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ctx, reason, "")
}

// SnapshotProject is the pre-mutation variant: only the named project's
// directories are copied. The data files are skipped.
func (m *Manager) SnapshotProject(ctx context.Context, reason, project string) (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ctx, reason, paths.SanitizeProject(project))
}

// snapshotLocked does the copy. Caller holds m.mu. An empty project means a
// full snapshot including the data files.
func (m *Manager) snapshotLocked(ctx context.Context, reason, project string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = ReasonManual
	}

	// Pending coalesced writes must hit disk before the copy.
	m.store.Sync()

	now := time.Now()
	name, dir, err := m.newSnapshotDir(now, reason)
	if err != nil {
		return nil, err
	}

	srcMemories := m.roots.Memories
	srcTasks := m.roots.Tasks
	if project != "" {
		srcMemories = filepath.Join(srcMemories, project)
		srcTasks = filepath.Join(srcTasks, project)
	}

	unfreeze := m.store.RootGuard().Freeze()
	var total atomic.Int64
	var memFiles, taskFiles, dataFiles []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memFiles, err = copyTree(gctx, srcMemories, filepath.Join(dir, "memories"), nil, &total)
		return err
	})
	g.Go(func() error {
		var err error
		taskFiles, err = copyTree(gctx, srcTasks, filepath.Join(dir, "tasks"), nil, &total)
		return err
	})
	if project == "" {
		g.Go(func() error {
			var err error
			dataFiles, err = copyTree(gctx, m.roots.Data, filepath.Join(dir, "data"), dataSkip, &total)
			return err
		})
	}
	err = g.Wait()
	unfreeze()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("copying snapshot %s: %w", name, err)
	}

	stats := m.store.Stats()
	manifest := &Manifest{
		Timestamp: store.Stamp(now),
		Reason:    reason,
		Version:   m.opts.Version,
		Paths: ManifestPaths{
			Memories: m.roots.Memories,
			Tasks:    m.roots.Tasks,
			Data:     m.roots.Data,
		},
		Contents: ManifestContents{
			Memories: memFiles,
			Tasks:    taskFiles,
			Data:     dataFiles,
		},
		Statistics: ManifestStats{
			Tasks:     stats.Tasks,
			Memories:  stats.Memories,
			DataFiles: len(dataFiles),
			TotalSize: total.Load(),
		},
		Name: name,
	}
	if raw, err := os.ReadFile(m.roots.SettingsFile()); err == nil && json.Valid(raw) {
		manifest.Settings = json.RawMessage(raw)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := guard.AtomicWrite(filepath.Join(dir, manifestName), data); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	m.rotate()

	m.logger.Info("snapshot created",
		"name", name,
		"reason", reason,
		"project", project,
		"files", len(memFiles)+len(taskFiles)+len(dataFiles),
		"bytes", total.Load(),
	)
	return manifest, nil
}

// dataSkip filters the data-root copy: the backups tree itself, the process
// lock, and the vector database (rebuilt from the markdown, not restored).
func dataSkip(name string, isDir bool) bool {
	if isDir {
		return name == "backups" || name == "vectors"
	}
	return name == "likeisaid.lock"
}

// newSnapshotDir creates <backups>/<ts>Z-<reason>, suffixing on collision.
func (m *Manager) newSnapshotDir(now time.Time, reason string) (name, dir string, err error) {
	if err := os.MkdirAll(m.roots.BackupsDir(), 0o755); err != nil {
		return "", "", fmt.Errorf("creating backups dir: %w", err)
	}
	base := now.UTC().Format(snapshotTimeLayout) + "Z-" + reason
	for i := 0; i < 100; i++ {
		name = base
		if i > 0 {
			name = fmt.Sprintf("%s-%d", base, i+1)
		}
		dir = filepath.Join(m.roots.BackupsDir(), name)
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			return name, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("creating snapshot dir: %w", err)
		}
	}
	return "", "", fmt.Errorf("cannot find free snapshot name for %s", base)
}

// parseSnapshotTime extracts the timestamp prefix from a snapshot name.
func parseSnapshotTime(name string) (time.Time, bool) {
	if len(name) < len(snapshotTimeLayout)+2 {
		return time.Time{}, false
	}
	if name[len(snapshotTimeLayout)] != 'Z' || name[len(snapshotTimeLayout)+1] != '-' {
		return time.Time{}, false
	}
	t, err := time.Parse(snapshotTimeLayout, name[:len(snapshotTimeLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// snapshotReason extracts the reason part of a snapshot name.
func snapshotReason(name string) string {
	if _, ok := parseSnapshotTime(name); !ok {
		return ""
	}
	return name[len(snapshotTimeLayout)+2:]
}

// rotate evicts the oldest snapshots beyond the retention count. Directories
// whose names do not parse are left alone.
func (m *Manager) rotate() {
	entries, err := os.ReadDir(m.roots.BackupsDir())
	if err != nil {
		m.logger.Warn("rotation scan failed", "error", err)
		return
	}
	type snap struct {
		name string
		ts   time.Time
	}
	var snaps []snap
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ts, ok := parseSnapshotTime(e.Name()); ok {
			snaps = append(snaps, snap{name: e.Name(), ts: ts})
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].ts.Equal(snaps[j].ts) {
			return snaps[i].ts.After(snaps[j].ts)
		}
		return snaps[i].name > snaps[j].name
	})
	for _, s := range snaps[min(len(snaps), m.opts.Keep):] {
		if err := os.RemoveAll(filepath.Join(m.roots.BackupsDir(), s.name)); err != nil {
			m.logger.Warn("rotation eviction failed", "name", s.name, "error", err)
			continue
		}
		m.logger.Info("snapshot evicted", "name", s.name)
	}
}

// Info summarizes one backup for listings.
type Info struct {
	Name       string        `json:"name"`
	Timestamp  string        `json:"timestamp"`
	Reason     string        `json:"reason"`
	Statistics ManifestStats `json:"statistics"`
}

// List returns the snapshots newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.roots.BackupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backups dir: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ts, ok := parseSnapshotTime(e.Name())
		if !ok {
			continue
		}
		info := Info{
			Name:      e.Name(),
			Timestamp: store.Stamp(ts),
			Reason:    snapshotReason(e.Name()),
		}
		if man, err := m.loadManifest(e.Name()); err == nil {
			info.Timestamp = man.Timestamp
			info.Reason = man.Reason
			info.Statistics = man.Statistics
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// loadManifest reads and decodes a snapshot's manifest.
func (m *Manager) loadManifest(name string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(m.roots.BackupsDir(), name, manifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %s: %w", name, err)
	}
	var man Manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, fmt.Errorf("decoding manifest for %s: %w", name, err)
	}
	man.Name = name
	return &man, nil
}

// copyTree copies every regular file under src into dst, preserving relative
// paths and skipping in-flight temp files. Returns the copied relative paths
// sorted. A missing src yields an empty tree, not an error.
func copyTree(ctx context.Context, src, dst string, skip func(name string, isDir bool) bool, total *atomic.Int64) ([]string, error) {
	var copied []string
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if skip != nil && skip(d.Name(), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.HasSuffix(p, guard.TempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		n, err := copyFile(p, filepath.Join(dst, rel))
		if err != nil {
			return err
		}
		total.Add(n)
		copied = append(copied, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(copied)
	return copied, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dst, err)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", dst, err)
	}
	return n, nil
}
