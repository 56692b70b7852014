package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fielddispatch/internal/model"
)

// OSRMLookup prices pairs with the OSRM route service. OSRM has no traffic
// model, so the traffic flag is ignored.
type OSRMLookup struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type osrmRouteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// NewOSRMLookup targets baseURL, e.g. https://router.project-osrm.org.
func NewOSRMLookup(baseURL string, rps float64, burst int) *OSRMLookup {
	return &OSRMLookup{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newLimiter(rps, burst),
	}
}

func (c *OSRMLookup) Name() string { return "osrm" }

func (c *OSRMLookup) Minutes(ctx context.Context, origin, dest model.GeoPoint, _ bool) (int, error) {
	fail := func(reason string) error {
		return &LookupError{Service: c.Name(), Origin: origin, Dest: dest, Reason: reason}
	}
	if err := wait(ctx, c.limiter); err != nil {
		return 0, fail(err.Error())
	}
	queryURL := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		c.baseURL, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return 0, fail(err.Error())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fail(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fail(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
	var out osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fail(err.Error())
	}
	if out.Code != "Ok" {
		return 0, fail(fmt.Sprintf("OSRM error: %s %s", out.Code, out.Message))
	}
	if len(out.Routes) == 0 {
		return 0, fail("no routes returned")
	}
	return int(math.Round(out.Routes[0].Duration / 60)), nil
}
