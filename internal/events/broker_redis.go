package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker publishes events over Redis Pub/Sub so consumers in other
// processes (notification senders, dashboards) see them.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, ChannelName(evt.Type), data).Err()
}

// Subscribe streams events of one type until ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, eventType string) (<-chan Event, error) {
	ps := b.rdb.Subscribe(ctx, ChannelName(eventType))
	// initial receive confirms the subscription
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
					select {
					case ch <- evt:
					default:
					}
				}
			}
		}
	}()
	return ch, nil
}

func ChannelName(eventType string) string { return "events:" + eventType }
