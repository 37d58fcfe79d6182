package backpressure

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeSampler struct {
	lagSeconds float64
	hasPending bool
	bufLen     int64
}

func (f *fakeSampler) OldestUnackedIngestTime(ctx context.Context) (time.Time, bool, error) {
	if !f.hasPending {
		return time.Time{}, false, nil
	}
	return time.Now().Add(-time.Duration(f.lagSeconds * float64(time.Second))), true, nil
}

func (f *fakeSampler) BufferLen(ctx context.Context) (int64, error) {
	return f.bufLen, nil
}

func newTestController(sampler *fakeSampler) *Controller {
	return NewController(sampler, Thresholds{
		LagWarn:     10 * time.Second,
		LagCritical: 60 * time.Second,
		BufWarn:     5000,
		BufCritical: 50000,
	}, logrus.NewEntry(logrus.New()))
}

func TestEscalatesImmediatelyOnOverload(t *testing.T) {
	sampler := &fakeSampler{bufLen: 60000}
	c := newTestController(sampler)

	if err := c.sampleOnce(context.Background()); err != nil {
		t.Fatalf("sampleOnce: %v", err)
	}
	if got := c.Mode(); got != ModeCritical {
		t.Fatalf("expected immediate escalation to CRITICAL, got %v", got)
	}
}

func TestRecoveryRequiresFiveConsecutiveGoodSamples(t *testing.T) {
	sampler := &fakeSampler{bufLen: 60000}
	c := newTestController(sampler)
	if err := c.sampleOnce(context.Background()); err != nil {
		t.Fatalf("sampleOnce: %v", err)
	}
	if c.Mode() != ModeCritical {
		t.Fatalf("expected CRITICAL before recovery")
	}

	sampler.bufLen = 0
	for i := 0; i < recoverySamplesRequired-1; i++ {
		if err := c.sampleOnce(context.Background()); err != nil {
			t.Fatalf("sampleOnce: %v", err)
		}
		if c.Mode() == ModeNormal {
			t.Fatalf("recovered to NORMAL too early, at sample %d", i+1)
		}
	}
	if err := c.sampleOnce(context.Background()); err != nil {
		t.Fatalf("sampleOnce: %v", err)
	}
	if c.Mode() != ModeNormal {
		t.Fatalf("expected NORMAL after %d consecutive good samples, got %v", recoverySamplesRequired, c.Mode())
	}
}
