package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
)

// Janitor periodically prunes records older than a TTL.
type Janitor struct {
	scheduler gocron.Scheduler
	store     Store
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewJanitor creates a janitor pruning store every interval. It is idle until Start.
func NewJanitor(store Store, ttl, interval time.Duration, logger *slog.Logger) (*Janitor, error) {
	if ttl <= 0 || interval <= 0 {
		return nil, ferrors.ValidationError("janitor ttl and interval must be positive").
			WithContext("ttl", ttl.String()).WithContext("interval", interval.String()).Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "create janitor scheduler").Build()
	}

	j := &Janitor{
		scheduler: s,
		store:     store,
		ttl:       ttl,
		logger:    logger.With(logfields.Component("janitor")),
		now:       time.Now,
	}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.run),
		gocron.WithName("persistence-prune"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "schedule prune job").Build()
	}
	return j, nil
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.logger.Debug("Starting janitor", slog.Duration("ttl", j.ttl))
	j.scheduler.Start()
}

// Stop shuts the scheduler down and waits for a running prune to finish.
func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

// PruneNow runs one prune pass synchronously.
func (j *Janitor) PruneNow(ctx context.Context) (int, error) {
	return j.store.Prune(ctx, j.now().Add(-j.ttl))
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.PruneNow(ctx)
	if err != nil {
		j.logger.Warn("Prune failed", logfields.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("Pruned stale edits", slog.Int("removed", n))
	}
}
