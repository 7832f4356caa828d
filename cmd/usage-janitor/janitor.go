package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/platinummonkey/pilotgate/pkg/bootstrap"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/usage"
)

type janitor struct {
	pruner    bootstrap.Pruner
	retention time.Duration
	loc       *time.Location
	clock     quartz.Clock
	logger    *observability.Logger
}

func newJanitor(p bootstrap.Pruner, retention time.Duration, loc *time.Location, clock quartz.Clock, logger *observability.Logger) *janitor {
	if loc == nil {
		loc = time.UTC
	}
	return &janitor{pruner: p, retention: retention, loc: loc, clock: clock, logger: logger}
}

// cutoff is the oldest day bucket that is kept
func (j *janitor) cutoff() string {
	return usage.DayOf(j.clock.Now().Add(-j.retention), j.loc)
}

func (j *janitor) prune(ctx context.Context) (int64, error) {
	day := j.cutoff()
	deleted, err := j.pruner.DeleteBefore(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("failed to prune counters before %s: %w", day, err)
	}
	j.logger.WithFields(map[string]interface{}{
		"before":  day,
		"deleted": deleted,
	}).Info("Pruned usage counters")
	return deleted, nil
}
