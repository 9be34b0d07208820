package scheduler

import (
	"context"
	"strings"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/backup"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/vector"
)

// AutoBackup returns the job that takes a periodic snapshot.
func AutoBackup(backups *backup.Manager) Job {
	return &autoBackupJob{backups: backups}
}

type autoBackupJob struct {
	backups *backup.Manager
}

func (j *autoBackupJob) Name() string { return "auto-backup" }

func (j *autoBackupJob) Run(ctx context.Context) error {
	_, err := j.backups.Snapshot(ctx, backup.ReasonPeriodic)
	return err
}

// IndexRefresh returns the job that rescans the trees and reconciles the
// vector index: files edited outside the server get picked up even if a
// watcher event was lost, and embeddings are backfilled or dropped to
// match the current entity set.
func IndexRefresh(s *store.Store, idx vector.Index) Job {
	if idx == nil {
		idx = vector.Disabled()
	}
	return &indexRefreshJob{store: s, index: idx}
}

type indexRefreshJob struct {
	store *store.Store
	index vector.Index
}

func (j *indexRefreshJob) Name() string { return "index-refresh" }

func (j *indexRefreshJob) Run(ctx context.Context) error {
	if err := j.store.ReindexNow(ctx); err != nil {
		return err
	}
	if !j.index.Available() {
		return nil
	}

	mems, err := j.store.ListMemories(ctx, store.ListMemoriesOptions{})
	if err != nil {
		return err
	}
	tasks, err := j.store.ListTasks(ctx, store.ListTasksOptions{})
	if err != nil {
		return err
	}

	entries := make([]vector.Entry, 0, len(mems)+len(tasks))
	for _, m := range mems {
		entries = append(entries, vector.Entry{Kind: vector.KindMemory, ID: m.ID, Text: m.Body})
	}
	for _, t := range tasks {
		entries = append(entries, vector.Entry{
			Kind: vector.KindTask,
			ID:   t.ID,
			Text: strings.TrimSpace(t.Title + "\n" + t.Description),
		})
	}
	return j.index.Sync(ctx, entries)
}
