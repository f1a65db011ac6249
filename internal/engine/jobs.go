package engine

import (
	"context"
	"errors"
	"time"

	"github.com/protocard/protosync/internal/adapter"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/merge"
	"github.com/protocard/protosync/internal/push"
)

// pushJob keeps the authority's push stream connected and feeds every event
// into the merger for as long as the engine runs.
type pushJob struct {
	source push.Source
	merger *merge.Handler
	logger *logger.Logger
}

func (j *pushJob) Run(ctx context.Context) {
	if err := j.source.Run(ctx, j.merger.Apply); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error().Err(err).Str("func", "pushJob.Run").Msg("push stream terminated")
	}
}

// refreshJob periodically re-lists the authority's records and merges them,
// covering events missed while the push stream was down.
type refreshJob struct {
	transport adapter.Transport
	merger    *merge.Handler
	interval  time.Duration
	logger    *logger.Logger
}

func (j *refreshJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records, err := j.transport.List(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					j.logger.Warn().Err(err).Str("func", "refreshJob.Run").Msg("periodic listing failed")
				}
				continue
			}
			j.merger.Bootstrap(records)
		}
	}
}
