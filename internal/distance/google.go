package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"fielddispatch/internal/model"
)

const googleDefaultBaseURL = "https://maps.googleapis.com/maps/api/distancematrix/json"

// GoogleLookup prices pairs with the Google Distance Matrix API, one origin
// and one destination per request.
type GoogleLookup struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type GoogleOption func(*GoogleLookup)

func WithGoogleBaseURL(u string) GoogleOption {
	return func(g *GoogleLookup) { g.baseURL = u }
}

func WithGoogleHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleLookup) { g.httpClient = c }
}

// WithGoogleRateLimit throttles outgoing requests; rps <= 0 disables it.
func WithGoogleRateLimit(rps float64, burst int) GoogleOption {
	return func(g *GoogleLookup) { g.limiter = newLimiter(rps, burst) }
}

func NewGoogleLookup(apiKey string, opts ...GoogleOption) *GoogleLookup {
	g := &GoogleLookup{
		apiKey:     apiKey,
		baseURL:    googleDefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GoogleLookup) Name() string { return "google" }

type googleValue struct {
	Value float64 `json:"value"`
}

type googleMatrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status            string       `json:"status"`
			Duration          *googleValue `json:"duration"`
			DurationInTraffic *googleValue `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

func (g *GoogleLookup) Minutes(ctx context.Context, origin, dest model.GeoPoint, traffic bool) (int, error) {
	fail := func(reason string) error {
		return &LookupError{Service: g.Name(), Origin: origin, Dest: dest, Reason: reason}
	}
	if err := wait(ctx, g.limiter); err != nil {
		return 0, fail(err.Error())
	}
	q := url.Values{}
	q.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	q.Set("destinations", fmt.Sprintf("%f,%f", dest.Lat, dest.Lng))
	q.Set("key", g.apiKey)
	if traffic {
		q.Set("departure_time", "now")
		q.Set("traffic_model", "best_guess")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fail(err.Error())
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fail(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fail(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
	var out googleMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fail(err.Error())
	}
	if out.Status != "OK" {
		return 0, fail(fmt.Sprintf("status %s %s", out.Status, out.ErrorMessage))
	}
	if len(out.Rows) == 0 || len(out.Rows[0].Elements) == 0 {
		return 0, fail("no elements returned")
	}
	el := out.Rows[0].Elements[0]
	if el.Status != "" && el.Status != "OK" {
		return 0, fail("element status " + el.Status)
	}
	d := el.Duration
	if traffic && el.DurationInTraffic != nil {
		d = el.DurationInTraffic
	}
	if d == nil {
		return 0, fail("no duration returned")
	}
	return int(math.Round(d.Value / 60)), nil
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
