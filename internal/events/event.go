package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TypeRoutesOptimized is emitted after an optimization run commits.
const TypeRoutesOptimized = "routes.optimized"

type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	TS   time.Time      `json:"ts"`
	Data map[string]any `json:"data"`
}

func New(eventType string, data map[string]any) Event {
	return Event{ID: "evt_" + uuid.NewString(), Type: eventType, TS: time.Now().UTC(), Data: data}
}

// Publisher hands events to whatever notifies downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Fanout publishes to every member and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
