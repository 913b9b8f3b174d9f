package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// WeatherClient fetches outdoor conditions from a forecast provider.
type WeatherClient interface {
	GetForecast(ctx context.Context, lat, lon float64, hours int) ([]types.ForecastSample, error)
}

// OpenWeatherMapClient implements WeatherClient against the OpenWeatherMap
// API.
type OpenWeatherMapClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type owmForecastResponse struct {
	List []struct {
		Timestamp int64 `json:"dt"`
		Main      struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Clouds struct {
			All float64 `json:"all"`
		} `json:"clouds"`
	} `json:"list"`
}

// NewOpenWeatherMapClient creates a new OpenWeatherMap client.
func NewOpenWeatherMapClient(apiKey string) *OpenWeatherMapClient {
	return &OpenWeatherMapClient{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetForecast fetches an hourly forecast. OpenWeatherMap serves 3-hourly
// entries; callers interpolate via the store's closest-target lookup.
func (c *OpenWeatherMapClient) GetForecast(ctx context.Context, lat, lon float64, hours int) ([]types.ForecastSample, error) {
	forecastURL := fmt.Sprintf("%s/forecast?lat=%f&lon=%f&appid=%s&units=metric&cnt=%d",
		c.baseURL, lat, lon, c.apiKey, hours/3)

	req, err := http.NewRequestWithContext(ctx, "GET", forecastURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create forecast request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast API returned status %d", resp.StatusCode)
	}

	var forecastResp owmForecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&forecastResp); err != nil {
		return nil, fmt.Errorf("failed to decode forecast response: %v", err)
	}

	issued := time.Now()
	var samples []types.ForecastSample
	for _, item := range forecastResp.List {
		samples = append(samples, types.ForecastSample{
			IssuedAt:        issued,
			Target:          time.Unix(item.Timestamp, 0),
			OutdoorTemp:     item.Main.Temp,
			SolarIrradiance: irradianceFromClouds(time.Unix(item.Timestamp, 0), item.Clouds.All),
			WindSpeed:       item.Wind.Speed,
		})
	}

	return samples, nil
}

// irradianceFromClouds estimates global irradiance from cloud cover when the
// provider has no solar endpoint: clear-sky noon peak scaled by a half-sine
// over daylight hours and attenuated by cloud fraction.
func irradianceFromClouds(t time.Time, cloudCoverPct float64) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	if hour < 6 || hour > 20 {
		return 0
	}
	const clearSkyPeak = 900.0 // W/m²
	dayFrac := (hour - 6) / 14
	elevation := sinePeak(dayFrac)
	attenuation := 1 - 0.75*(cloudCoverPct/100)
	return clearSkyPeak * elevation * attenuation
}

func sinePeak(frac float64) float64 {
	// Half-sine over [0,1], peaking at 0.5.
	if frac < 0 || frac > 1 {
		return 0
	}
	return 4 * frac * (1 - frac)
}
