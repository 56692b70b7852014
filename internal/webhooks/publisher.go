// Package webhooks delivers events to external HTTP endpoints.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"fielddispatch/internal/events"
)

var ErrQueueFull = errors.New("webhook queue full")

type delivery struct {
	url       string
	eventType string
	eventID   string
	body      []byte
}

// Publisher queues events for signed delivery to every configured URL. Each
// URL has its own queue and worker, so a failing endpoint only delays its own
// deliveries. Run must be started for queued deliveries to go out.
type Publisher struct {
	urls        []string
	secret      string
	http        *http.Client
	maxAttempts int
	backoff     func(attempt int) time.Duration
	queueSize   int
	queues      map[string]chan delivery // url -> pending deliveries
	log         *zap.Logger
}

type Option func(*Publisher)

func WithMaxAttempts(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithHTTPClient(c *http.Client) Option { return func(p *Publisher) { p.http = c } }

func WithLogger(log *zap.Logger) Option {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

func withBackoff(f func(int) time.Duration) Option { return func(p *Publisher) { p.backoff = f } }

func withQueueSize(n int) Option { return func(p *Publisher) { p.queueSize = n } }

func NewPublisher(urls []string, secret string, opts ...Option) *Publisher {
	p := &Publisher{
		urls:        urls,
		secret:      secret,
		http:        &http.Client{Timeout: 5 * time.Second},
		maxAttempts: 10,
		backoff:     nextBackoff,
		queueSize:   256,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.queues = make(map[string]chan delivery, len(urls))
	for _, u := range urls {
		p.queues[u] = make(chan delivery, p.queueSize)
	}
	return p
}

// Publish enqueues evt for every endpoint without waiting for delivery.
func (p *Publisher) Publish(_ context.Context, evt events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range p.urls {
		select {
		case p.queues[u] <- delivery{url: u, eventType: evt.Type, eventID: evt.ID, body: body}:
		default:
			errs = append(errs, fmt.Errorf("%s: %w", u, ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

// Run delivers queued events, one worker per URL, until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, q := range p.queues {
		wg.Add(1)
		go func(q <-chan delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-q:
					p.deliver(ctx, d)
				}
			}
		}(q)
	}
	wg.Wait()
}

func (p *Publisher) deliver(ctx context.Context, d delivery) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		code, err := p.post(ctx, d)
		if err == nil {
			return
		}
		p.log.Warn("webhook delivery failed",
			zap.String("url", d.url),
			zap.String("event_id", d.eventID),
			zap.Int("attempt", attempt+1),
			zap.Int("status", code),
			zap.Error(err))
	}
	p.log.Error("webhook delivery abandoned", zap.String("url", d.url), zap.String("event_id", d.eventID))
}

func (p *Publisher) post(ctx context.Context, d delivery) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, d.url, bytes.NewReader(d.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.eventType)
	req.Header.Set("X-Event-Id", d.eventID)
	if p.secret != "" {
		now := time.Now()
		req.Header.Set("X-Timestamp", strconv.FormatInt(now.Unix(), 10))
		req.Header.Set("X-Signature", Sign(p.secret, now, d.body))
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
