package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/guard"
)

// Prefixes for the transient directories a recovery uses. Anything left
// behind by a crash mid-recovery is removed on the next attempt.
const (
	restorePrefix   = ".likeisaid-restore-"
	displacedPrefix = ".likeisaid-displaced-"
)

// RecoveryResult reports what a recovery restored.
type RecoveryResult struct {
	Backup           string `json:"backup"`
	PreRecovery      string `json:"pre_recovery"`
	RestoredMemories int    `json:"restored_memories"`
	RestoredTasks    int    `json:"restored_tasks"`
	RestoredData     int    `json:"restored_data"`
}

// Recover restores the named backup: verify its manifest, snapshot the
// current state under pre-recovery, swap each backed-up project directory
// into place, copy the data files back, and reindex. Projects absent from
// the backup are left untouched.
func (m *Manager) Recover(ctx context.Context, name string) (*RecoveryResult, error) {
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") || name == "" {
		return nil, fmt.Errorf("invalid backup name %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	backupDir := filepath.Join(m.roots.BackupsDir(), name)
	if info, err := os.Stat(backupDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("backup %q does not exist", name)
	}

	manifest, err := m.loadManifest(name)
	if err != nil {
		return nil, err
	}
	if err := verifyContents(backupDir, manifest); err != nil {
		return nil, fmt.Errorf("backup %q failed verification: %w", name, err)
	}

	for _, root := range []string{m.roots.Memories, m.roots.Tasks} {
		m.sweepTransient(root)
	}

	pre, err := m.snapshotLocked(ctx, ReasonPreRecovery, "")
	if err != nil {
		return nil, fmt.Errorf("pre-recovery snapshot: %w", err)
	}

	m.store.Sync()
	unfreeze := m.store.RootGuard().Freeze()
	result := &RecoveryResult{Backup: name, PreRecovery: pre.Name}
	result.RestoredMemories, err = m.restoreTree(ctx, filepath.Join(backupDir, "memories"), m.roots.Memories)
	if err == nil {
		result.RestoredTasks, err = m.restoreTree(ctx, filepath.Join(backupDir, "tasks"), m.roots.Tasks)
	}
	if err == nil {
		result.RestoredData, err = m.restoreData(ctx, filepath.Join(backupDir, "data"), manifest.Contents.Data)
	}
	unfreeze()
	if err != nil {
		return nil, fmt.Errorf("restoring %q: %w (current state saved as %s)", name, err, pre.Name)
	}

	if err := m.store.ReindexNow(ctx); err != nil {
		return nil, fmt.Errorf("reindex after recovery: %w", err)
	}

	m.logger.Info("recovery complete",
		"backup", name,
		"pre_recovery", pre.Name,
		"memories", result.RestoredMemories,
		"tasks", result.RestoredTasks,
		"data_files", result.RestoredData,
	)
	return result, nil
}

// verifyContents checks that every file the manifest lists is present.
func verifyContents(backupDir string, manifest *Manifest) error {
	check := func(sub string, files []string) error {
		for _, rel := range files {
			p := filepath.Join(backupDir, sub, filepath.FromSlash(rel))
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("listed file missing: %s/%s", sub, rel)
			}
		}
		return nil
	}
	if err := check("memories", manifest.Contents.Memories); err != nil {
		return err
	}
	if err := check("tasks", manifest.Contents.Tasks); err != nil {
		return err
	}
	return check("data", manifest.Contents.Data)
}

// restoreTree swaps each project directory in src into root and copies any
// root-level files. Returns the number of files restored.
func (m *Manager) restoreTree(ctx context.Context, src, root string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s: %w", src, err)
	}

	files := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		if e.IsDir() {
			n, err := m.swapDir(ctx, filepath.Join(src, e.Name()), filepath.Join(root, e.Name()))
			if err != nil {
				return files, err
			}
			files += n
			continue
		}
		raw, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return files, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		if err := atomicRestore(filepath.Join(root, e.Name()), raw); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

// swapDir replaces target with a copy of src using two renames: stage the
// copy next to the target, move the live directory aside, move the staging
// copy into place, drop the displaced directory.
func (m *Manager) swapDir(ctx context.Context, src, target string) (int, error) {
	parent := filepath.Dir(target)
	base := filepath.Base(target)
	staging := filepath.Join(parent, restorePrefix+base)
	aside := filepath.Join(parent, displacedPrefix+base)

	os.RemoveAll(staging)
	var total atomic.Int64
	copied, err := copyTree(ctx, src, staging, nil, &total)
	if err != nil {
		os.RemoveAll(staging)
		return 0, fmt.Errorf("staging %s: %w", base, err)
	}

	os.RemoveAll(aside)
	displaced := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, aside); err != nil {
			os.RemoveAll(staging)
			return 0, fmt.Errorf("moving %s aside: %w", base, err)
		}
		displaced = true
	}
	if err := os.Rename(staging, target); err != nil {
		if displaced {
			os.Rename(aside, target)
		}
		os.RemoveAll(staging)
		return 0, fmt.Errorf("moving %s into place: %w", base, err)
	}
	os.RemoveAll(aside)
	return len(copied), nil
}

// restoreData copies the manifest-listed data files back into the data root.
func (m *Manager) restoreData(ctx context.Context, src string, files []string) (int, error) {
	restored := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		raw, err := os.ReadFile(filepath.Join(src, filepath.FromSlash(rel)))
		if err != nil {
			return restored, fmt.Errorf("reading data/%s: %w", rel, err)
		}
		if err := atomicRestore(filepath.Join(m.roots.Data, filepath.FromSlash(rel)), raw); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

func atomicRestore(path string, data []byte) error {
	if err := guard.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}
	return nil
}

// sweepTransient removes staging or displaced directories a crashed
// recovery may have left under root.
func (m *Manager) sweepTransient(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), restorePrefix) || strings.HasPrefix(e.Name(), displacedPrefix) {
			if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
				m.logger.Warn("cannot remove stale recovery dir", "dir", e.Name(), "error", err)
			} else {
				m.logger.Info("removed stale recovery dir", "dir", e.Name())
			}
		}
	}
}
