// Package broker is the fan-out channel for confirmed mutations. Events go
// to a per-game topic (all watchers) and to each participant's user topic
// (cross-tab delivery). The channel is fire-and-forget with no replay
// buffer; clients re-fetch authoritative state after any suspected gap.
package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/checkers-live/internal/obslog"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

// GameTopic addresses every current watcher of a game.
func GameTopic(gameID string) string { return "game:" + gameID }

// UserTopic addresses one participant across all of their connections.
func UserTopic(userID string) string { return "user:" + userID }

type Broker struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Broker { return &Broker{rdb: rdb} }

// Publish sends ev to the game topic and to each non-empty user topic.
// Failures are logged and swallowed: the validator's response must never
// wait on, or fail because of, fan-out delivery.
func (b *Broker) Publish(ctx context.Context, ev *gamedto.Event, userIDs ...string) {
	if b == nil || b.rdb == nil || ev == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		obslog.L().Error("event_marshal_error", zap.String("game_id", ev.GameID), zap.Error(err))
		return
	}
	topics := []string{GameTopic(ev.GameID)}
	for _, uid := range userIDs {
		if uid != "" {
			topics = append(topics, UserTopic(uid))
		}
	}
	for _, topic := range topics {
		if err := b.rdb.Publish(ctx, topic, raw).Err(); err != nil {
			obslog.L().Warn("event_publish_error", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Subscription delivers decoded events until Close. A subscriber that falls
// behind loses events rather than blocking the pump; that is the at-most-once
// contract, and the reconciliation layer recovers via re-fetch.
type Subscription struct {
	C      <-chan *gamedto.Event
	ps     *redis.PubSub
	cancel context.CancelFunc
}

func (s *Subscription) Close() error {
	if s == nil || s.ps == nil {
		return nil
	}
	s.cancel()
	return s.ps.Close()
}

// Subscribe opens a subscription on the given topics.
func (b *Broker) Subscribe(ctx context.Context, topics ...string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	ps := b.rdb.Subscribe(ctx, topics...)
	out := make(chan *gamedto.Event, 16)
	go func() {
		defer close(out)
		src := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				var ev gamedto.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					obslog.L().Warn("event_decode_error", zap.String("topic", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- &ev:
				default:
					obslog.L().Warn("event_dropped_slow_subscriber", zap.String("topic", msg.Channel))
				}
			}
		}
	}()
	return &Subscription{C: out, ps: ps, cancel: cancel}
}
