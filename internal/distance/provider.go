package distance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fielddispatch/internal/metrics"
	"fielddispatch/internal/model"
)

var ErrNoLocations = errors.New("distance: no locations")

// Lookup is an external travel time service.
type Lookup interface {
	Name() string
	Minutes(ctx context.Context, origin, dest model.GeoPoint, traffic bool) (int, error)
}

// LookupError is returned when an external service cannot price a pair.
type LookupError struct {
	Service string
	Origin  model.GeoPoint
	Dest    model.GeoPoint
	Reason  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup failed: %s", e.Service, e.Reason)
}

type Options struct {
	ConsiderTraffic bool
}

// Provider builds travel time matrices. Pairs are priced through the
// configured Lookup; any pair the lookup cannot price falls back to a
// great-circle estimate, so one failing pair never poisons the rest.
type Provider struct {
	lookup      Lookup
	log         *zap.Logger
	timeout     time.Duration
	concurrency int
	speedKph    float64
}

type ProviderOption func(*Provider)

// WithLookupTimeout bounds every single lookup call. Non-positive values
// keep the default.
func WithLookupTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithConcurrency caps in-flight lookups.
func WithConcurrency(n int) ProviderOption {
	return func(p *Provider) { p.concurrency = n }
}

// WithFallbackSpeed sets the speed used for great-circle estimates.
func WithFallbackSpeed(kph float64) ProviderOption {
	return func(p *Provider) { p.speedKph = kph }
}

// NewProvider returns a Provider. A nil lookup prices every pair by estimate.
func NewProvider(lookup Lookup, log *zap.Logger, opts ...ProviderOption) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{lookup: lookup, log: log, timeout: 5 * time.Second, concurrency: 8, speedKph: FallbackSpeedKph}
	for _, o := range opts {
		o(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p
}

// Matrix returns a symmetric minute matrix over points with a zero diagonal.
// Only the upper triangle is priced and mirrored. Lookups finish (or time out)
// before Matrix returns; it fails only for empty input or a cancelled ctx.
func (p *Provider) Matrix(ctx context.Context, points []model.GeoPoint, opts Options) ([][]int, error) {
	n := len(points)
	if n == 0 {
		return nil, ErrNoLocations
	}
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	set := func(i, j, v int) {
		m[i][j] = v
		m[j][i] = v
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := points[i], points[j]
			if samePoint(a, b) {
				continue
			}
			if p.lookup == nil {
				set(i, j, EstimateMinutes(a, b, p.speedKph))
				metrics.DistanceLookups.WithLabelValues("estimate").Inc()
				continue
			}
			i, j := i, j
			g.Go(func() error {
				set(i, j, p.price(ctx, a, b, opts.ConsiderTraffic))
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Provider) price(ctx context.Context, a, b model.GeoPoint, traffic bool) int {
	lctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	v, err := p.lookup.Minutes(lctx, a, b, traffic)
	if err == nil && v < 0 {
		err = &LookupError{Service: p.lookup.Name(), Origin: a, Dest: b, Reason: fmt.Sprintf("negative duration %d", v)}
	}
	if err != nil {
		est := EstimateMinutes(a, b, p.speedKph)
		p.log.Warn("distance lookup failed, using estimate",
			zap.String("service", p.lookup.Name()),
			zap.Float64("origin_lat", a.Lat), zap.Float64("origin_lng", a.Lng),
			zap.Float64("dest_lat", b.Lat), zap.Float64("dest_lng", b.Lng),
			zap.Int("minutes", est),
			zap.Error(err))
		metrics.DistanceLookups.WithLabelValues("fallback").Inc()
		return est
	}
	metrics.DistanceLookups.WithLabelValues("lookup").Inc()
	return v
}
