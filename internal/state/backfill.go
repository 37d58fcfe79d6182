package state

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/swap-sentinel/internal/counters"
	"github.com/rawblock/swap-sentinel/internal/deltalog"
	"github.com/rawblock/swap-sentinel/internal/inference"
)

// Backfiller replays recent delta-log records for a newly HOT mint through
// the inference and counter layers, catching aggregates that may have been
// skipped while the pipeline was in DEGRADED mode. Progress counters are
// exported the same way the original range-scan tooling this is modeled on
// tracked scan progress: plain atomics, safe to read from /metrics without
// locking.
type Backfiller struct {
	log      *deltalog.Log
	inf      *inference.Inferencer
	counters *counters.Store
	logger   *logrus.Entry

	totalRuns      atomic.Int64
	totalReplayed  atomic.Int64
	currentlyBusy  atomic.Bool
}

// NewBackfiller wires the delta log reader, inferencer, and counter store
// used to replay a mint's recent history.
func NewBackfiller(log *deltalog.Log, inf *inference.Inferencer, store *counters.Store, logger *logrus.Entry) *Backfiller {
	return &Backfiller{log: log, inf: inf, counters: store, logger: logger.WithField("component", "state.backfill")}
}

// Run replays every delta-log record for mint since "since" through the
// inferencer and counter store.
// It never blocks the caller's main pipeline — intended usage is to launch
// this in its own goroutine from the HOT-promotion transition handler.
func (b *Backfiller) Run(ctx context.Context, mint string, since time.Time) {
	b.currentlyBusy.Store(true)
	defer b.currentlyBusy.Store(false)
	b.totalRuns.Add(1)

	records, err := b.log.Range(ctx, mint, since)
	if err != nil {
		b.logger.WithError(err).WithField("mint", mint).Warn("backfill range query failed")
		return
	}

	for _, rec := range records {
		result := b.inf.Infer(rec.Deltas)
		if result.Swap == nil {
			continue
		}
		if _, err := b.counters.RecordSwap(ctx, *result.Swap); err != nil {
			b.logger.WithError(err).WithField("mint", mint).Warn("backfill counter update failed")
			continue
		}
		b.totalReplayed.Add(1)
	}
	b.logger.WithFields(logrus.Fields{"mint": mint, "records": len(records)}).Info("hot-promotion backfill complete")
}

// TotalRuns and TotalReplayed expose cumulative progress, mirroring the
// same "read-only atomic progress" surface used elsewhere for long scans.
func (b *Backfiller) TotalRuns() int64     { return b.totalRuns.Load() }
func (b *Backfiller) TotalReplayed() int64 { return b.totalReplayed.Load() }
func (b *Backfiller) Busy() bool           { return b.currentlyBusy.Load() }
