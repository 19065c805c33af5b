package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

// WakeTarget names a coordinator that can be nudged off its idle
// interval by a wake message.
type WakeTarget string

const (
	WakeOB WakeTarget = "ob"
	WakeWC WakeTarget = "wc"
	WakeGC WakeTarget = "gc"
)

func wakeChannel(target WakeTarget) string {
	return fmt.Sprintf("%s:wake", target)
}

// WakeBus is a thin broadcast pub/sub wrapper. Messages are opaque:
// receivers only care that something arrived, never its payload
// (spec.md section 6, "Wake-bus channel names").
type WakeBus struct {
	client *redis.Client
}

func NewWakeBus(client *redis.Client) *WakeBus {
	return &WakeBus{client: client}
}

// Publish fans a wake out to target's channel and returns the number
// of subscribers that received it (0 is not an error: a wake with no
// listener only means the next idle tick handles it).
func (b *WakeBus) Publish(ctx context.Context, target WakeTarget) (int64, error) {
	n, err := b.client.Publish(ctx, wakeChannel(target), "wake").Result()
	if err != nil {
		return 0, fmt.Errorf("redisx: publish %s: %w", target, err)
	}
	return n, nil
}

// PublishAll wakes every listed target; a failure on one target does
// not prevent publishing to the rest.
func (b *WakeBus) PublishAll(ctx context.Context, targets ...WakeTarget) {
	for _, t := range targets {
		if _, err := b.Publish(ctx, t); err != nil {
			log.WithComponent("redisx").Warn().Err(err).Str("target", string(t)).Msg("wake publish failed")
		}
	}
}

// Subscription is a coalescing wake receiver: Channel delivers every
// wake message, and Drain discards the ones still queued, so a
// coordinator woken N times before it gets around to reading ticks
// only once.
type Subscription struct {
	pubsub *redis.PubSub
	target WakeTarget
}

// Subscribe opens a subscription to target's wake channel. Callers
// must call Close when done.
func (b *WakeBus) Subscribe(ctx context.Context, target WakeTarget) *Subscription {
	return &Subscription{pubsub: b.client.Subscribe(ctx, wakeChannel(target)), target: target}
}

// Channel exposes the underlying message channel for use in a
// coordinator's select loop alongside its ticker.
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

// Drain consumes every currently-queued message without blocking,
// coalescing repeated wakes into a single logical nudge. It reports
// whether at least one wake was pending.
func (s *Subscription) Drain() bool {
	woke := false
	for {
		select {
		case _, ok := <-s.pubsub.Channel():
			if !ok {
				return woke
			}
			woke = true
		default:
			return woke
		}
	}
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
