package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fielddispatch/internal/model"
)

// degrees of latitude spanning km along a meridian
func latSpan(km float64) float64 { return km / EarthRadiusKm * 180 / math.Pi }

type funcLookup struct {
	calls atomic.Int32
	fn    func(origin, dest model.GeoPoint, traffic bool) (int, error)
}

func (f *funcLookup) Name() string { return "fake" }

func (f *funcLookup) Minutes(_ context.Context, origin, dest model.GeoPoint, traffic bool) (int, error) {
	f.calls.Add(1)
	return f.fn(origin, dest, traffic)
}

func assertSymmetric(t *testing.T, m [][]int) {
	t.Helper()
	for i := range m {
		assert.Equal(t, 0, m[i][i], "diagonal %d", i)
		for j := range m {
			assert.Equal(t, m[i][j], m[j][i], "entry %d,%d", i, j)
			assert.GreaterOrEqual(t, m[i][j], 0)
		}
	}
}

func TestFallbackTenKilometres(t *testing.T) {
	a := model.GeoPoint{Lat: 0, Lng: 0}
	b := model.GeoPoint{Lat: latSpan(10), Lng: 0}
	assert.InDelta(t, 10.0, Haversine(a, b), 1e-9)
	assert.Equal(t, 15, FallbackMinutes(a, b))
	assert.Equal(t, 0, FallbackMinutes(a, a))
	assert.Equal(t, 10, EstimateMinutes(a, b, 60))
}

func TestMatrixWithoutLookup(t *testing.T) {
	pts := []model.GeoPoint{
		{Lat: 40.7128, Lng: -74.0060},
		{Lat: 40.7306, Lng: -73.9352},
		{Lat: 40.7128, Lng: -74.0060},
		{Lat: 40.6782, Lng: -73.9442},
	}
	m, err := NewProvider(nil, nil).Matrix(context.Background(), pts, Options{ConsiderTraffic: true})
	require.NoError(t, err)
	require.Len(t, m, 4)
	assertSymmetric(t, m)
	assert.Equal(t, 0, m[0][2], "identical coordinates")
	assert.Equal(t, FallbackMinutes(pts[0], pts[1]), m[0][1])
	assert.Positive(t, m[1][3])

	again, err := NewProvider(nil, nil).Matrix(context.Background(), pts, Options{})
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestMatrixEmptyInput(t *testing.T) {
	_, err := NewProvider(nil, nil).Matrix(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoLocations)
}

func TestMatrixPerPairFallback(t *testing.T) {
	bad := model.GeoPoint{Lat: 1, Lng: 1}
	lk := &funcLookup{fn: func(o, d model.GeoPoint, _ bool) (int, error) {
		if o == bad || d == bad {
			return 0, errors.New("boom")
		}
		return 7, nil
	}}
	pts := []model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.5}, bad}
	m, err := NewProvider(lk, nil, WithConcurrency(2)).Matrix(context.Background(), pts, Options{})
	require.NoError(t, err)
	assertSymmetric(t, m)
	assert.Equal(t, 7, m[0][1])
	assert.Equal(t, FallbackMinutes(pts[0], bad), m[0][2])
	assert.Equal(t, FallbackMinutes(pts[1], bad), m[1][2])
	assert.EqualValues(t, 3, lk.calls.Load(), "upper triangle only")
}

func TestMatrixLookupTimeoutFallsBack(t *testing.T) {
	slow := lookupFunc(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	pts := []model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: latSpan(10), Lng: 0}}
	m, err := NewProvider(slow, nil, WithLookupTimeout(10*time.Millisecond)).Matrix(context.Background(), pts, Options{})
	require.NoError(t, err)
	assert.Equal(t, 15, m[0][1])
}

func TestMatrixCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lk := &funcLookup{fn: func(model.GeoPoint, model.GeoPoint, bool) (int, error) { return 1, nil }}
	_, err := NewProvider(lk, nil).Matrix(ctx, []model.GeoPoint{{Lat: 0}, {Lat: 1}}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

type lookupFunc func(ctx context.Context) (int, error)

func (f lookupFunc) Name() string { return "func" }

func (f lookupFunc) Minutes(ctx context.Context, _, _ model.GeoPoint, _ bool) (int, error) {
	return f(ctx)
}

func TestGoogleLookup(t *testing.T) {
	var lastQuery atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.Query())
		el := map[string]any{"status": "OK", "duration": map[string]any{"value": 900}}
		if r.URL.Query().Get("departure_time") == "now" {
			el["duration_in_traffic"] = map[string]any{"value": 1290}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "OK",
			"rows":   []any{map[string]any{"elements": []any{el}}},
		})
	}))
	defer server.Close()

	g := NewGoogleLookup("k3y", WithGoogleBaseURL(server.URL), WithGoogleHTTPClient(server.Client()), WithGoogleRateLimit(100, 1))
	a, b := model.GeoPoint{Lat: 40.1, Lng: -74.2}, model.GeoPoint{Lat: 40.3, Lng: -74.4}

	v, err := g.Minutes(context.Background(), a, b, true)
	require.NoError(t, err)
	assert.Equal(t, 22, v, "duration_in_traffic preferred, 21.5 rounds up")
	q := lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"best_guess"}, q["traffic_model"])
	assert.Equal(t, []string{"k3y"}, q["key"])
	assert.Equal(t, []string{"40.100000,-74.200000"}, q["origins"])

	v, err = g.Minutes(context.Background(), a, b, false)
	require.NoError(t, err)
	assert.Equal(t, 15, v)
	q = lastQuery.Load().(url.Values)
	assert.NotContains(t, q, "departure_time")
}

func TestGoogleLookupErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		},
		"api status": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"REQUEST_DENIED","error_message":"bad key","rows":[]}`)
		},
		"element status": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"OK","rows":[{"elements":[{"status":"ZERO_RESULTS"}]}]}`)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{not json`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(h)
			defer server.Close()
			g := NewGoogleLookup("k", WithGoogleBaseURL(server.URL))
			_, err := g.Minutes(context.Background(), model.GeoPoint{}, model.GeoPoint{Lat: 1}, false)
			var le *LookupError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, "google", le.Service)
		})
	}
}

func TestOSRMLookup(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		if strings.Contains(r.URL.Path, "9.000000") {
			fmt.Fprint(w, `{"code":"NoRoute","message":"Impossible route"}`)
			return
		}
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":610.0,"distance":9000}]}`)
	}))
	defer server.Close()

	c := NewOSRMLookup(server.URL+"/", 0, 0)
	c.httpClient = server.Client()
	v, err := c.Minutes(context.Background(), model.GeoPoint{Lat: 52.5, Lng: 13.4}, model.GeoPoint{Lat: 52.6, Lng: 13.3}, true)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, "/route/v1/driving/13.400000,52.500000;13.300000,52.600000", path.Load())

	_, err = c.Minutes(context.Background(), model.GeoPoint{}, model.GeoPoint{Lat: 1, Lng: 9}, false)
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Reason, "NoRoute")
}

func TestProviderWithOSRMServerOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewOSRMLookup(server.URL, 0, 0)
	pts := []model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: latSpan(10), Lng: 0}, {Lat: latSpan(20), Lng: 0}}
	m, err := NewProvider(c, nil).Matrix(context.Background(), pts, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 15, 30}, {15, 0, 15}, {30, 15, 0}}, m)
}
