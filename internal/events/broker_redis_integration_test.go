//go:build redis_integration

package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

func TestRedisBrokerDeliversToSubscriber(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	o, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	rdb := redis.NewClient(o)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := NewRedisBroker(rdb)
	eventType := "test." + uuid.NewString()
	ch, err := b.Subscribe(ctx, eventType)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	evt := New(eventType, map[string]any{"date": "2024-01-15", "assigned_jobs": 2})
	if err := b.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.ID != evt.ID || got.Type != eventType {
			t.Fatalf("got %+v", got)
		}
		if got.Data["date"] != "2024-01-15" || got.Data["assigned_jobs"].(float64) != 2 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-ctx.Done():
		t.Fatalf("event not received")
	}

	cancel()
	for range ch {
	}
}
