package trigger

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ReloadChannel and the section name this evaluator cares about.
const (
	ReloadChannel = "cfg:reload"
	sectionName   = "detection"
)

// WatchReload subscribes to the config channel and calls Reload whenever a
// "detection" section notification arrives. It runs until ctx is cancelled.
func (e *Evaluator) WatchReload(ctx context.Context, rdb *redis.Client, log *logrus.Entry) {
	sub := rdb.Subscribe(ctx, ReloadChannel)
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
			if err := e.Reload(); err != nil {
				log.WithError(err).Error("trigger rule hot reload rejected")
			} else {
				log.Info("trigger rules reloaded")
			}
		}
	}
}
