package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Issue types.
const (
	IssueCorruptFile   = "corrupt_file"
	IssueForeignFile   = "foreign_file"
	IssueIndexDrift    = "index_drift"
	IssueDanglingLink  = "dangling_link"
	IssueBackupOverdue = "backup_overdue"
)

// Issue is one detected problem.
type Issue struct {
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	EntityID    string `json:"entity_id,omitempty"`
	File        string `json:"file,omitempty"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Report summarizes a health check run.
type Report struct {
	Timestamp      string         `json:"timestamp"`
	EntityCounts   map[string]int `json:"entity_counts"`
	IssuesFound    int            `json:"issues_found"`
	CriticalIssues int            `json:"critical_issues"`
	Warnings       int            `json:"warnings"`
	Issues         []Issue        `json:"issues"`
	Summary        string         `json:"summary"`
}

// HealthCheck inspects the trees, the indexes, the link graph, and backup
// freshness. It never mutates anything; findings are returned for the
// caller to surface.
func (m *Manager) HealthCheck(ctx context.Context) (*Report, error) {
	report := &Report{
		Timestamp:    store.Stamp(time.Now()),
		EntityCounts: make(map[string]int),
		Issues:       make([]Issue, 0),
	}

	stats := m.store.Stats()
	report.EntityCounts["memories"] = stats.Memories
	report.EntityCounts["tasks"] = stats.Tasks
	report.EntityCounts["projects"] = len(stats.Projects)

	m.checkCorrupt(report)
	if err := m.checkFiles(ctx, report); err != nil {
		return nil, err
	}
	if err := m.checkLinks(ctx, report); err != nil {
		return nil, err
	}
	m.checkBackupFreshness(report)

	for _, issue := range report.Issues {
		switch issue.Severity {
		case SeverityCritical:
			report.CriticalIssues++
		case SeverityWarning:
			report.Warnings++
		}
	}
	report.IssuesFound = len(report.Issues)
	report.Summary = summarize(report)
	return report, nil
}

// checkCorrupt surfaces files the last scan could not parse.
func (m *Manager) checkCorrupt(report *Report) {
	for _, cf := range m.store.CorruptFiles() {
		report.Issues = append(report.Issues, Issue{
			Severity:    SeverityCritical,
			Type:        IssueCorruptFile,
			File:        cf.File,
			Description: fmt.Sprintf("file cannot be parsed: %s", cf.Reason),
			Suggestion:  "repair the front-matter by hand or restore the file from a backup",
		})
	}
}

// checkFiles walks both markdown roots looking for foreign files and for
// drift between the index and the on-disk set.
func (m *Manager) checkFiles(ctx context.Context, report *Report) error {
	indexed := m.store.IndexedFiles()
	corrupt := make(map[string]struct{})
	for _, cf := range m.store.CorruptFiles() {
		corrupt[cf.File] = struct{}{}
	}

	onDisk := make(map[string]struct{})
	for _, root := range []string{m.roots.Memories, m.roots.Tasks} {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(p, ".md") {
				report.Issues = append(report.Issues, Issue{
					Severity:    SeverityWarning,
					Type:        IssueForeignFile,
					File:        p,
					Description: "file with unknown extension inside a managed tree",
					Suggestion:  "move it elsewhere; only .md files belong here",
				})
				return nil
			}
			onDisk[p] = struct{}{}
			if _, ok := indexed[p]; !ok {
				if _, isCorrupt := corrupt[p]; !isCorrupt {
					report.Issues = append(report.Issues, Issue{
						Severity:    SeverityCritical,
						Type:        IssueIndexDrift,
						File:        p,
						Description: "file on disk is not in the index",
						Suggestion:  "trigger a reindex or restart the server",
					})
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking %s: %w", root, err)
		}
	}

	for f := range indexed {
		if _, ok := onDisk[f]; !ok {
			report.Issues = append(report.Issues, Issue{
				Severity:    SeverityCritical,
				Type:        IssueIndexDrift,
				File:        f,
				Description: "indexed file is missing on disk",
				Suggestion:  "trigger a reindex or restore the file from a backup",
			})
		}
	}
	return nil
}

// checkLinks reports dangling references: connections, parents, subtasks,
// and manual memory pins pointing at entities that no longer exist.
// Tombstoned links are permitted by the data model; they are surfaced here.
func (m *Manager) checkLinks(ctx context.Context, report *Report) error {
	tasks, err := m.store.ListTasks(ctx, store.ListTasksOptions{})
	if err != nil {
		return err
	}
	memories, err := m.store.ListMemories(ctx, store.ListMemoriesOptions{})
	if err != nil {
		return err
	}

	taskIDs := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		taskIDs[t.ID] = struct{}{}
	}
	memoryIDs := make(map[string]struct{}, len(memories))
	for _, mem := range memories {
		memoryIDs[mem.ID] = struct{}{}
	}

	for _, t := range tasks {
		for _, c := range t.MemoryConnections {
			if _, ok := memoryIDs[c.MemoryID]; !ok {
				report.Issues = append(report.Issues, Issue{
					Severity:    SeverityWarning,
					Type:        IssueDanglingLink,
					EntityID:    t.ID,
					Description: fmt.Sprintf("task %s links memory %s which does not exist", t.Serial, c.MemoryID),
					Suggestion:  "update the task to drop the stale connection",
				})
			}
		}
		for _, mid := range t.ManualMemories {
			if _, ok := memoryIDs[mid]; !ok {
				report.Issues = append(report.Issues, Issue{
					Severity:    SeverityInfo,
					Type:        IssueDanglingLink,
					EntityID:    t.ID,
					Description: fmt.Sprintf("task %s pins memory %s which does not exist", t.Serial, mid),
					Suggestion:  "remove the id from manual_memories",
				})
			}
		}
		if t.ParentTask != "" {
			if _, ok := taskIDs[t.ParentTask]; !ok {
				report.Issues = append(report.Issues, Issue{
					Severity:    SeverityWarning,
					Type:        IssueDanglingLink,
					EntityID:    t.ID,
					Description: fmt.Sprintf("task %s names parent %s which does not exist", t.Serial, t.ParentTask),
					Suggestion:  "clear the parent_task field",
				})
			}
		}
		for _, sid := range t.Subtasks {
			if _, ok := taskIDs[sid]; !ok {
				report.Issues = append(report.Issues, Issue{
					Severity:    SeverityWarning,
					Type:        IssueDanglingLink,
					EntityID:    t.ID,
					Description: fmt.Sprintf("task %s lists subtask %s which does not exist", t.Serial, sid),
					Suggestion:  "remove the id from subtasks",
				})
			}
		}
	}

	for _, mem := range memories {
		for _, c := range mem.TaskConnections {
			if _, ok := taskIDs[c.TaskID]; !ok {
				report.Issues = append(report.Issues, Issue{
					Severity:    SeverityWarning,
					Type:        IssueDanglingLink,
					EntityID:    mem.ID,
					Description: fmt.Sprintf("memory %s links task %s which does not exist", mem.ID, c.TaskID),
					Suggestion:  "update the memory to drop the stale connection",
				})
			}
		}
	}
	return nil
}

// checkBackupFreshness flags a missing or overdue latest snapshot. Overdue
// means older than twice the configured interval.
func (m *Manager) checkBackupFreshness(report *Report) {
	if m.opts.Interval <= 0 {
		return
	}
	infos, err := m.List()
	if err != nil {
		report.Issues = append(report.Issues, Issue{
			Severity:    SeverityWarning,
			Type:        IssueBackupOverdue,
			Description: fmt.Sprintf("cannot read the backups directory: %v", err),
		})
		return
	}
	report.EntityCounts["backups"] = len(infos)
	if len(infos) == 0 {
		report.Issues = append(report.Issues, Issue{
			Severity:    SeverityWarning,
			Type:        IssueBackupOverdue,
			Description: "no backups exist yet",
			Suggestion:  "run backup_now or enable features.autoBackup",
		})
		return
	}
	newest := store.ParseStamp(infos[0].Timestamp)
	if newest.IsZero() {
		return
	}
	if age := time.Since(newest); age > 2*m.opts.Interval {
		report.Issues = append(report.Issues, Issue{
			Severity:    SeverityWarning,
			Type:        IssueBackupOverdue,
			Description: fmt.Sprintf("latest backup %s is %s old (interval %s)", infos[0].Name, age.Round(time.Minute), m.opts.Interval),
			Suggestion:  "run backup_now and check the auto-backup job",
		})
	}
}

func summarize(report *Report) string {
	if report.IssuesFound == 0 {
		return "No issues found. The store is healthy."
	}
	return fmt.Sprintf("Found %d issues: %d critical, %d warnings, %d informational",
		report.IssuesFound,
		report.CriticalIssues,
		report.Warnings,
		report.IssuesFound-report.CriticalIssues-report.Warnings)
}
