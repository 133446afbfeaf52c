package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
)

var (
	courier  = geo.Point{Lat: 6.2442, Lng: -75.5812}
	customer = geo.Point{Lat: 6.2518, Lng: -75.5636}
)

func TestOSRM_ParsesGeoJSONRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/-75.581200,6.244200;-75.563600,6.251800"), r.URL.Path)
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":2450.5,"duration":300,
			"geometry":{"coordinates":[[-75.5812,6.2442],[-75.57,6.248],[-75.5636,6.2518]]}}]}`))
	}))
	defer srv.Close()

	r, err := NewOSRM(srv.URL+"/", time.Second).Route(context.Background(), courier, customer)
	require.NoError(t, err)
	require.False(t, r.Fallback)
	require.Len(t, r.Points, 3)
	require.Equal(t, geo.Point{Lat: 6.248, Lng: -75.57}, r.Points[1])
	require.Equal(t, 5*time.Minute, r.Duration)
	require.InDelta(t, 2450.5, r.DistanceMeters, 0.001)
}

func TestOSRM_Errors(t *testing.T) {
	bodies := map[string]int{
		`{"code":"NoRoute","message":"Impossible route","routes":[]}`: http.StatusOK,
		`not json`:          http.StatusOK,
		`{"code":"TooBig"}`: http.StatusBadRequest,
	}
	for body, status := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}))
		_, err := NewOSRM(srv.URL, time.Second).Route(context.Background(), courier, customer)
		require.Error(t, err, body)
		srv.Close()
	}

	_, err := NewOSRM("http://127.0.0.1:1", time.Second).Route(context.Background(), geo.Point{Lat: 99}, customer)
	require.Error(t, err)
}

func TestFallback_NeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := NewFallback(NewOSRM(srv.URL, time.Second), nil).Route(context.Background(), courier, customer)
	require.NoError(t, err)
	require.True(t, r.Fallback)
	require.Equal(t, []geo.Point{courier, customer}, r.Points)
	require.InDelta(t, geo.Distance(courier, customer), r.DistanceMeters, 0.001)

	r, err = NewFallback(nil, nil).Route(context.Background(), courier, customer)
	require.NoError(t, err)
	require.True(t, r.Fallback)
}
