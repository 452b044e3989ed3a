package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPrecreateSchedule fires at UTC midnight.
const DefaultPrecreateSchedule = "0 0 * * *"

// StartPrecreateJob creates the current day's shard on schedule (standard
// five-field cron, evaluated in UTC) so the log index shows a new day before
// its first message arrives. Writes never depend on this job. The scheduler
// stops when ctx is done.
func StartPrecreateJob(ctx context.Context, s *Sink, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultPrecreateSchedule
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() { s.precreate() }); err != nil {
		return nil, fmt.Errorf("invalid shard schedule %q: %w", schedule, err)
	}
	c.Start()
	slog.Info("shard precreate job started", slog.String("schedule", schedule), slog.String("component", "logsink"))
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

func (s *Sink) precreate() {
	dir, err := s.ResolveShard(s.now())
	if err != nil {
		slog.Error("shard precreate failed", slog.Any("err", err), slog.String("component", "logsink"))
		return
	}
	slog.Info("shard ready", slog.String("dir", dir), slog.String("component", "logsink"))
}
