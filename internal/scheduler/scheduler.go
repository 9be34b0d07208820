// Package scheduler runs the periodic maintenance jobs: automatic
// backups and index refresh.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic maintenance task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler drives registered jobs on their own tickers. Stop waits for
// in-flight runs, so the store can be closed safely afterwards.
type Scheduler struct {
	logger *slog.Logger
	jobs   []scheduledJob
	done   chan struct{}
	wg     sync.WaitGroup
}

type scheduledJob struct {
	job      Job
	interval time.Duration
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger, done: make(chan struct{})}
}

// Add registers a job. A non-positive interval skips registration, which
// is how disabled features opt out.
func (s *Scheduler) Add(job Job, interval time.Duration) {
	if interval <= 0 {
		s.logger.Debug("job disabled", "job", job.Name())
		return
	}
	s.jobs = append(s.jobs, scheduledJob{job: job, interval: interval})
}

// Start launches one goroutine per job. The first run happens after one
// full interval, not immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for _, sj := range s.jobs {
		s.wg.Add(1)
		go func(sj scheduledJob) {
			defer s.wg.Done()
			s.logger.Info("job scheduled", "job", sj.job.Name(), "interval", sj.interval)

			ticker := time.NewTicker(sj.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					start := time.Now()
					if err := sj.job.Run(ctx); err != nil {
						s.logger.Error("job failed", "job", sj.job.Name(), "error", err)
						continue
					}
					s.logger.Debug("job finished", "job", sj.job.Name(), "took", time.Since(start))
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}(sj)
	}
}

// Stop halts the tickers and waits for any in-flight run to return.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
