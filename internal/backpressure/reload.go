package backpressure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// reloadChannel mirrors trigger.ReloadChannel: one process-wide pub/sub
// channel, sections distinguished by payload.
const (
	reloadChannel = "cfg:reload"
	sectionName   = "backpressure"
	configKey     = "cfg:backpressure"
)

// WatchReload subscribes to the shared config reload channel and re-reads
// the cfg:backpressure hash whenever a "backpressure" section notification
// arrives. It runs until ctx is cancelled.
func (c *Controller) WatchReload(ctx context.Context, rdb *redis.Client) {
	sub := rdb.Subscribe(ctx, reloadChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload != sectionName {
				continue
			}
			t, err := readThresholds(ctx, rdb)
			if err != nil {
				c.log.WithError(err).Error("backpressure threshold hot reload rejected")
				continue
			}
			c.UpdateThresholds(t)
			c.log.WithFields(logrus.Fields{
				"lag_warn_s": t.LagWarn.Seconds(), "lag_crit_s": t.LagCritical.Seconds(),
				"buf_warn": t.BufWarn, "buf_crit": t.BufCritical,
			}).Info("backpressure thresholds reloaded")
		}
	}
}

// readThresholds parses the cfg:backpressure hash: lag_warn_seconds,
// lag_crit_seconds, buf_warn, buf_crit. Any missing or malformed field
// rejects the whole reload, leaving the live thresholds untouched.
func readThresholds(ctx context.Context, rdb *redis.Client) (Thresholds, error) {
	vals, err := rdb.HGetAll(ctx, configKey).Result()
	if err != nil {
		return Thresholds{}, fmt.Errorf("read %s: %w", configKey, err)
	}

	lagWarn, err := strconv.ParseFloat(vals["lag_warn_seconds"], 64)
	if err != nil {
		return Thresholds{}, fmt.Errorf("lag_warn_seconds: %w", err)
	}
	lagCrit, err := strconv.ParseFloat(vals["lag_crit_seconds"], 64)
	if err != nil {
		return Thresholds{}, fmt.Errorf("lag_crit_seconds: %w", err)
	}
	bufWarn, err := strconv.ParseInt(vals["buf_warn"], 10, 64)
	if err != nil {
		return Thresholds{}, fmt.Errorf("buf_warn: %w", err)
	}
	bufCrit, err := strconv.ParseInt(vals["buf_crit"], 10, 64)
	if err != nil {
		return Thresholds{}, fmt.Errorf("buf_crit: %w", err)
	}

	return Thresholds{
		LagWarn:     time.Duration(lagWarn * float64(time.Second)),
		LagCritical: time.Duration(lagCrit * float64(time.Second)),
		BufWarn:     bufWarn,
		BufCritical: bufCrit,
	}, nil
}
