package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically closes sessions nobody touched for a while, so that
// abandoned chats leave the agents' queue.
type Janitor struct {
	svc        Service
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
	now        func() time.Time
}

func NewJanitor(svc Service, schedule string, staleAfter time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		return nil, fmt.Errorf("stale-after must be positive, got %s", staleAfter)
	}

	j := &Janitor{
		svc:        svc,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     logger,
		now:        time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep closes idle sessions once and returns how many it closed.
func (j *Janitor) Sweep(ctx context.Context) int {
	n, err := j.svc.CloseIdle(ctx, j.now().Add(-j.staleAfter))
	if err != nil {
		j.logger.Error("idle sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		j.logger.Info("idle sessions closed", "count", n)
	}
	return n
}
