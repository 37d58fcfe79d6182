// Package backpressure implements a process-wide mode published from a
// 1-second sampling loop over ingest lag and buffer length, with hysteresis
// on recovery toward NORMAL.
package backpressure

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode is the process-wide backpressure state, read through a single atomic
// load rather than a per-stage sample. The orchestrator's per-record
// processing reads it to gate counter updates and append-sink writes;
// extraction, inference, clustering and alerting do not consult it.
type Mode int32

const (
	ModeNormal Mode = iota
	ModeDegraded
	ModeCritical
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeDegraded:
		return "DEGRADED"
	case ModeCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Thresholds are the hot-reloadable lag/buffer warn and critical levels.
type Thresholds struct {
	LagWarn     time.Duration
	LagCritical time.Duration
	BufWarn     int64
	BufCritical int64
}

// recoverySamplesRequired is the fixed hysteresis window: 5 consecutive
// samples confirming a downgrade before the mode recovers toward NORMAL.
const recoverySamplesRequired = 5

// Sampler supplies the two inputs the controller samples every second.
type Sampler interface {
	OldestUnackedIngestTime(ctx context.Context) (time.Time, bool, error)
	BufferLen(ctx context.Context) (int64, error)
}

// Controller runs the 1s sampling loop and exposes the current mode via an
// atomically-loaded enum.
type Controller struct {
	sampler Sampler
	log     *logrus.Entry

	mode       atomic.Int32
	thresholds atomic.Pointer[Thresholds]
	goodSamples atomic.Int32
}

// NewController constructs a controller starting in NORMAL mode.
func NewController(sampler Sampler, initial Thresholds, log *logrus.Entry) *Controller {
	c := &Controller{sampler: sampler, log: log.WithField("component", "backpressure")}
	c.thresholds.Store(&initial)
	c.mode.Store(int32(ModeNormal))
	return c
}

// UpdateThresholds hot-swaps the threshold set, e.g. on a "backpressure"
// cfg:reload notification.
func (c *Controller) UpdateThresholds(t Thresholds) {
	c.thresholds.Store(&t)
}

// Mode returns the current process-wide mode.
func (c *Controller) Mode() Mode {
	return Mode(c.mode.Load())
}

// Run samples once a second until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sampleOnce(ctx); err != nil {
				c.log.WithError(err).Warn("backpressure sample failed")
			}
		}
	}
}

func (c *Controller) sampleOnce(ctx context.Context) error {
	oldest, hasPending, err := c.sampler.OldestUnackedIngestTime(ctx)
	if err != nil {
		return err
	}
	bufLen, err := c.sampler.BufferLen(ctx)
	if err != nil {
		return err
	}

	var lag time.Duration
	if hasPending {
		lag = time.Since(oldest)
	}

	t := *c.thresholds.Load()
	target := c.classify(lag, bufLen, t)
	current := c.Mode()

	switch {
	case target > current:
		// Escalation is immediate: detail is shed before coverage.
		c.mode.Store(int32(target))
		c.goodSamples.Store(0)
		c.log.WithFields(logrus.Fields{"from": current, "to": target, "lag_s": lag.Seconds(), "buffer_len": bufLen}).Warn("backpressure mode escalated")
	case target < current:
		n := c.goodSamples.Add(1)
		if n >= recoverySamplesRequired {
			c.mode.Store(int32(target))
			c.goodSamples.Store(0)
			c.log.WithFields(logrus.Fields{"from": current, "to": target}).Info("backpressure mode recovered")
		}
	default:
		c.goodSamples.Store(0)
	}
	return nil
}

func (c *Controller) classify(lag time.Duration, bufLen int64, t Thresholds) Mode {
	if lag >= t.LagCritical || bufLen >= t.BufCritical {
		return ModeCritical
	}
	if lag >= t.LagWarn || bufLen >= t.BufWarn {
		return ModeDegraded
	}
	return ModeNormal
}
