package forecast

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

func TestOpenWeatherMapGetForecast(t *testing.T) {
	target := time.Now().Add(3 * time.Hour).Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("appid"); got != "test-key" {
			t.Errorf("appid = %q, want test-key", got)
		}
		if got := r.URL.Query().Get("units"); got != "metric" {
			t.Errorf("units = %q, want metric", got)
		}
		fmt.Fprintf(w, `{"list":[{"dt":%d,"main":{"temp":4.5,"humidity":80},"wind":{"speed":3.2},"clouds":{"all":50}}]}`,
			target.Unix())
	}))
	defer server.Close()

	client := NewOpenWeatherMapClient("test-key")
	client.baseURL = server.URL

	samples, err := client.GetForecast(context.Background(), 45.46, 9.19, 24)
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	s := samples[0]
	if s.OutdoorTemp != 4.5 {
		t.Errorf("OutdoorTemp = %v, want 4.5", s.OutdoorTemp)
	}
	if s.WindSpeed != 3.2 {
		t.Errorf("WindSpeed = %v, want 3.2", s.WindSpeed)
	}
	if !s.Target.Equal(target) {
		t.Errorf("Target = %v, want %v", s.Target, target)
	}
}

func TestOpenWeatherMapGetForecastError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewOpenWeatherMapClient("bad-key")
	client.baseURL = server.URL

	if _, err := client.GetForecast(context.Background(), 0, 0, 24); err == nil {
		t.Error("expected error on non-200 response")
	}
}

func TestIrradianceFromClouds(t *testing.T) {
	noon := time.Date(2026, 6, 21, 13, 0, 0, 0, time.UTC)
	night := time.Date(2026, 6, 21, 2, 0, 0, 0, time.UTC)

	if got := irradianceFromClouds(night, 0); got != 0 {
		t.Errorf("night irradiance = %v, want 0", got)
	}

	clear := irradianceFromClouds(noon, 0)
	if clear <= 0 || clear > 900 {
		t.Errorf("clear noon irradiance = %v, want in (0, 900]", clear)
	}

	overcast := irradianceFromClouds(noon, 100)
	if overcast >= clear {
		t.Errorf("overcast %v not below clear %v", overcast, clear)
	}
	if overcast <= 0 {
		t.Errorf("full cloud cover should still pass diffuse light, got %v", overcast)
	}
}

type scriptedWeather struct {
	batches [][]types.ForecastSample
	calls   int
}

func (s *scriptedWeather) GetForecast(context.Context, float64, float64, int) ([]types.ForecastSample, error) {
	b := s.batches[s.calls%len(s.batches)]
	s.calls++
	return b, nil
}

func TestPollerSignalsMaterialRevision(t *testing.T) {
	target := time.Now().Add(2 * time.Hour)
	client := &scriptedWeather{batches: [][]types.ForecastSample{
		{{IssuedAt: time.Now(), Target: target, OutdoorTemp: 5}},
		{{IssuedAt: time.Now().Add(time.Minute), Target: target, OutdoorTemp: 10}},
		{{IssuedAt: time.Now().Add(2 * time.Minute), Target: target, OutdoorTemp: 10.5}},
	}}

	store := NewStore(24 * time.Hour)
	defer store.Close()
	p := NewPoller(client, store, 0, 0, 24, time.Hour, 2.0)

	// First poll populates; no prior sample, no revision.
	p.poll(context.Background())
	select {
	case <-p.Revised:
		t.Fatal("initial poll signalled a revision")
	default:
	}

	// 5°C jump exceeds the 2°C threshold.
	p.poll(context.Background())
	select {
	case <-p.Revised:
	default:
		t.Fatal("material revision not signalled")
	}

	// 0.5°C change stays below the threshold.
	p.poll(context.Background())
	select {
	case <-p.Revised:
		t.Fatal("minor revision signalled")
	default:
	}
}
