// Package routing asks a routing service for the road path between a courier
// and a customer. The live map must never fail because of it, so Fallback
// turns every error into a straight line.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
)

// Route is a drawable path between two points.
type Route struct {
	Points         []geo.Point   `json:"points"`
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"duration"`
	// Fallback is set when Points is the straight segment from start to end.
	Fallback bool `json:"fallback"`
}

// Router returns a route between two points.
type Router interface {
	Route(ctx context.Context, from, to geo.Point) (Route, error)
}

// StraightLine is the degraded route used when no router answers.
func StraightLine(from, to geo.Point) Route {
	return Route{
		Points:         []geo.Point{from, to},
		DistanceMeters: geo.Distance(from, to),
		Fallback:       true,
	}
}

// OSRM queries an OSRM-compatible /route/v1 endpoint.
type OSRM struct {
	baseURL string
	profile string
	client  *http.Client
}

// NewOSRM returns a client for baseURL (for example https://router.project-osrm.org).
func NewOSRM(baseURL string, timeout time.Duration) *OSRM {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		client:  &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route implements Router.
func (o *OSRM) Route(ctx context.Context, from, to geo.Point) (Route, error) {
	if !from.Valid() || !to.Valid() {
		return Route{}, errors.New("routing: coordinates out of range")
	}
	// OSRM takes lng,lat pairs.
	u := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?%s", o.baseURL, o.profile,
		from.Lng, from.Lat, to.Lng, to.Lat,
		url.Values{"overview": {"full"}, "geometries": {"geojson"}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("routing: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("routing: unexpected status %d", resp.StatusCode)
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Route{}, fmt.Errorf("routing: decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Route{}, fmt.Errorf("routing: no route (%s %s)", body.Code, body.Message)
	}
	r := body.Routes[0]
	pts := make([]geo.Point, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, geo.Point{Lat: c[1], Lng: c[0]})
	}
	if len(pts) < 2 {
		return Route{}, errors.New("routing: route geometry too short")
	}
	return Route{
		Points:         pts,
		DistanceMeters: r.Distance,
		Duration:       time.Duration(r.Duration * float64(time.Second)),
	}, nil
}

// Fallback wraps a Router so failures degrade to StraightLine.
type Fallback struct {
	next Router
	log  logger.ILogger
}

// NewFallback wraps next. A nil next always answers with a straight line.
func NewFallback(next Router, log logger.ILogger) *Fallback {
	if log == nil {
		log = logger.Nop()
	}
	return &Fallback{next: next, log: log}
}

// Route never fails.
func (f *Fallback) Route(ctx context.Context, from, to geo.Point) (Route, error) {
	if f.next == nil {
		return StraightLine(from, to), nil
	}
	r, err := f.next.Route(ctx, from, to)
	if err != nil {
		f.log.Warning("routing failed, drawing straight line", logger.Error(err))
		return StraightLine(from, to), nil
	}
	return r, nil
}
