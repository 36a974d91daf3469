package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule prunes the event log once a day at 03:15 local time.
const DefaultPruneSchedule = "15 3 * * *"

const pruneTimeout = time.Minute

// ErrNoRetention is returned by NewRetention when maxAge is not positive.
var ErrNoRetention = errors.New("audit: retention age must be positive")

// Pruner deletes events older than a cutoff. Satisfied by *SQLiteRepository.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Logger is the logging interface used by Retention.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Retention drops events older than maxAge on a cron schedule.
type Retention struct {
	pruner Pruner
	maxAge time.Duration
	cron   *cron.Cron
	logger Logger
	now    func() time.Time
}

// NewRetention creates a retention job. An empty schedule means
// DefaultPruneSchedule. Call Start to begin pruning.
func NewRetention(pruner Pruner, maxAge time.Duration, schedule string, logger Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, ErrNoRetention
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	r := &Retention{
		pruner: pruner,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("audit: invalid prune schedule %q: %w", schedule, err)
	}
	return r, nil
}

// RunOnce prunes immediately and returns the number of events removed.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	return r.pruner.Prune(ctx, r.now().Add(-r.maxAge))
}

// Start runs the schedule in the background.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	n, err := r.RunOnce(ctx)
	if r.logger == nil {
		return
	}
	if err != nil {
		r.logger.Error("lock event pruning failed", "error", err)
		return
	}
	r.logger.Info("lock events pruned", "removed", n, "max_age", r.maxAge.String())
}
