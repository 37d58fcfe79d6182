// Package alert implements per-channel bounded-queue alert dispatch with
// token-bucket rate limiting and retry/backoff.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

// Channel is one alert transport: a single POST of a structured payload.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload []byte) (statusCode int, retryAfter time.Duration, err error)
}

// RetryPolicy configures attempt count and base backoff delays.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration // delay before attempt i+1; last entry repeats if attempts > len(Delays)
}

// DefaultRetryPolicy allows up to 3 attempts with 1s/2s/4s backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	if attempt < len(p.Delays) {
		return p.Delays[attempt]
	}
	return p.Delays[len(p.Delays)-1]
}

// tokenBucket is a single-bucket token-bucket limiter, the same refill
// arithmetic as a per-IP rate limiter collapsed to one shared bucket per
// channel.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
	rate     float64 // tokens per second
	burst    float64
}

func newTokenBucket(ratePerSecond, burst float64) *tokenBucket {
	return &tokenBucket{tokens: burst, rate: ratePerSecond, burst: burst, lastSeen: time.Now()}
}

// wait blocks up to maxWait for a token to become available, returning false
// if none arrived in time.
func (b *tokenBucket) wait(ctx context.Context, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for {
		if b.takeOne() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (b *tokenBucket) takeOne() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastSeen = now
	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

// ChannelConfig tunes one channel's queue depth and rate limit.
type ChannelConfig struct {
	QueueCapacity int
	RatePerSecond float64
	Burst         float64
	MaxWait       time.Duration
	Retry         RetryPolicy
}

// DefaultChannelConfig is a reasonable default for a Discord/Telegram-style
// webhook channel.
var DefaultChannelConfig = ChannelConfig{
	QueueCapacity: 256,
	RatePerSecond: 1,
	Burst:         5,
	MaxWait:       5 * time.Second,
	Retry:         DefaultRetryPolicy,
}

type channelWorker struct {
	channel Channel
	cfg     ChannelConfig
	bucket  *tokenBucket
	queue   chan []byte
	log     *logrus.Entry
}

// Dispatcher formats each alert once and fans it out to every enabled
// channel's own bounded queue and worker goroutine.
type Dispatcher struct {
	workers []*channelWorker
	log     *logrus.Entry
}

// NewDispatcher starts one worker goroutine per channel.
func NewDispatcher(ctx context.Context, channels map[Channel]ChannelConfig, log *logrus.Entry) *Dispatcher {
	d := &Dispatcher{log: log.WithField("component", "alert.dispatcher")}
	for ch, cfg := range channels {
		w := &channelWorker{
			channel: ch,
			cfg:     cfg,
			bucket:  newTokenBucket(cfg.RatePerSecond, cfg.Burst),
			queue:   make(chan []byte, cfg.QueueCapacity),
			log:     d.log.WithField("channel", ch.Name()),
		}
		d.workers = append(d.workers, w)
		go w.run(ctx)
	}
	return d
}

// Dispatch formats alert once as JSON and enqueues it on every channel. A
// full channel queue drops that channel's copy with a logged warning — FIFO
// order within a channel is preserved, but one slow channel never blocks
// another.
func (d *Dispatcher) Dispatch(alert models.Alert) error {
	payload, err := json.Marshal(alertJSON(alert))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	for _, w := range d.workers {
		select {
		case w.queue <- payload:
		default:
			w.log.Warn("channel queue full, dropping alert")
		}
	}
	return nil
}

// alertJSON substitutes the finite JSON sentinel for +Inf ratios, leaving
// every other field as-is.
func alertJSON(a models.Alert) models.Alert {
	if a.BuySellRatio5m > models.RatioSentinelJSON {
		a.BuySellRatio5m = models.RatioSentinelJSON
	}
	return a
}

func (w *channelWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-w.queue:
			w.deliver(ctx, payload)
		}
	}
}

func (w *channelWorker) deliver(ctx context.Context, payload []byte) {
	if !w.bucket.wait(ctx, w.cfg.MaxWait) {
		w.log.Warn("rate limit wait exceeded max_wait, dropping alert")
		return
	}

	retry := w.cfg.Retry
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		status, retryAfter, err := w.channel.Send(ctx, payload)
		if err == nil && status < 300 {
			return
		}
		lastErr = err

		if err == nil && status >= 400 && status < 500 && status != 429 {
			w.log.WithField("status", status).Error("non-retryable alert delivery failure")
			return
		}

		delay := retry.delayFor(attempt)
		if status == 429 && retryAfter > 0 {
			delay = retryAfter
		}

		if attempt == retry.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	w.log.WithError(lastErr).Error("alert dropped after exhausting retries")
}
