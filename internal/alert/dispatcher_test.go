package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rawblock/swap-sentinel/pkg/models"
	"github.com/sirupsen/logrus"
)

type scriptedChannel struct {
	name      string
	responses []scriptedResponse
	mu        sync.Mutex
	calls     atomic.Int32
}

type scriptedResponse struct {
	status     int
	retryAfter time.Duration
	err        error
}

func (c *scriptedChannel) Name() string { return c.name }

func (c *scriptedChannel) Send(ctx context.Context, payload []byte) (int, time.Duration, error) {
	i := c.calls.Add(1) - 1
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(i) >= len(c.responses) {
		r := c.responses[len(c.responses)-1]
		return r.status, r.retryAfter, r.err
	}
	r := c.responses[i]
	return r.status, r.retryAfter, r.err
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}
}

func TestNonRetryable4xxStopsAfterOneAttempt(t *testing.T) {
	ch := &scriptedChannel{name: "test", responses: []scriptedResponse{{status: 400}}}
	cfg := DefaultChannelConfig
	cfg.Retry = fastRetry()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(ctx, map[Channel]ChannelConfig{ch: cfg}, logrus.NewEntry(logrus.New()))

	if err := d.Dispatch(models.Alert{Mint: "M"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitForCalls(t, &ch.calls, 1)
	time.Sleep(20 * time.Millisecond)
	if got := ch.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 call for non-retryable 4xx, got %d", got)
	}
}

func TestRetriesOn5xxThenSucceeds(t *testing.T) {
	ch := &scriptedChannel{name: "test", responses: []scriptedResponse{{status: 500}, {status: 200}}}
	cfg := DefaultChannelConfig
	cfg.Retry = fastRetry()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(ctx, map[Channel]ChannelConfig{ch: cfg}, logrus.NewEntry(logrus.New()))

	if err := d.Dispatch(models.Alert{Mint: "M"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitForCalls(t, &ch.calls, 2)
}

func TestExhaustsRetriesAndDrops(t *testing.T) {
	ch := &scriptedChannel{name: "test", responses: []scriptedResponse{{status: 500}, {status: 500}, {status: 500}}}
	cfg := DefaultChannelConfig
	cfg.Retry = fastRetry()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(ctx, map[Channel]ChannelConfig{ch: cfg}, logrus.NewEntry(logrus.New()))

	if err := d.Dispatch(models.Alert{Mint: "M"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitForCalls(t, &ch.calls, 3)
	time.Sleep(20 * time.Millisecond)
	if got := ch.calls.Load(); got != 3 {
		t.Fatalf("expected exactly %d calls (max attempts), got %d", 3, got)
	}
}

func waitForCalls(t *testing.T, counter *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %d", want, counter.Load())
}
