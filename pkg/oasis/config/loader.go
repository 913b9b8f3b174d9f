package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/pricing"
)

// LoadFromEnv loads configuration from environment variables. The home
// layout (zones, actuators, comfort schedules) lives in a YAML file pointed
// at by OASIS_HOME_CONFIG_PATH; pricing windows optionally come from
// OASIS_PRICING_PATH.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		BridgeURL: getEnvOrDefault("OASIS_BRIDGE_URL", "ws://localhost:8123/oasis"),
		Telemetry: TelemetryConfig{
			DatabasePath:  os.Getenv("OASIS_TELEMETRY_DB_PATH"),
			Retention:     getDurationOrDefault("OASIS_TELEMETRY_RETENTION", 30*24*time.Hour),
			BatchSize:     getIntOrDefault("OASIS_TELEMETRY_BATCH_SIZE", 20),
			FlushInterval: getDurationOrDefault("OASIS_TELEMETRY_FLUSH_INTERVAL", 5*time.Minute),
			SampleCadence: getDurationOrDefault("OASIS_TELEMETRY_SAMPLE_CADENCE", 5*time.Minute),
		},
		Forecast: ForecastConfig{
			APIKey:            os.Getenv("OASIS_WEATHER_API_KEY"),
			Latitude:          getFloatOrDefault("OASIS_LATITUDE", 45.46),
			Longitude:         getFloatOrDefault("OASIS_LONGITUDE", 9.19),
			LookAheadHours:    getIntOrDefault("OASIS_FORECAST_LOOKAHEAD_HOURS", 24),
			PollInterval:      getDurationOrDefault("OASIS_FORECAST_POLL_INTERVAL", 30*time.Minute),
			RevisionThreshold: getFloatOrDefault("OASIS_FORECAST_REVISION_THRESHOLD", 1.5),
			MaxAge:            getDurationOrDefault("OASIS_FORECAST_MAX_AGE", 48*time.Hour),
		},
		Learner: LearnerConfig{
			ModelDatabasePath: os.Getenv("OASIS_MODEL_DB_PATH"),
			Window:            getDurationOrDefault("OASIS_LEARNER_WINDOW", 7*24*time.Hour),
			HoldoutFraction:   getFloatOrDefault("OASIS_LEARNER_HOLDOUT_FRACTION", 0.25),
			MinDensity:        getFloatOrDefault("OASIS_LEARNER_MIN_DENSITY", 0.6),
			Interval:          getDurationOrDefault("OASIS_LEARNER_INTERVAL", 6*time.Hour),
			ConfidenceFloor:   getFloatOrDefault("OASIS_MODEL_CONFIDENCE_FLOOR", 0.5),
			RegressionMargin:  getFloatOrDefault("OASIS_LEARNER_REGRESSION_MARGIN", 0.05),
			MaxExogenousAge:   getDurationOrDefault("OASIS_LEARNER_MAX_EXOGENOUS_AGE", 90*time.Minute),
		},
		Planner: PlannerConfig{
			Horizon:         getDurationOrDefault("OASIS_PLANNER_HORIZON", 12*time.Hour),
			Resolution:      getDurationOrDefault("OASIS_PLANNER_RESOLUTION", 15*time.Minute),
			Budget:          getDurationOrDefault("OASIS_PLANNER_BUDGET", 5*time.Second),
			Workers:         getIntOrDefault("OASIS_PLANNER_WORKERS", 4),
			Candidates:      getIntOrDefault("OASIS_PLANNER_CANDIDATES", 64),
			ComfortWeight:   getFloatOrDefault("OASIS_PLANNER_COMFORT_WEIGHT", 10.0),
			IntegrationStep: getDurationOrDefault("OASIS_PLANNER_INTEGRATION_STEP", time.Minute),
			Seed:            getInt64OrDefault("OASIS_PLANNER_SEED", 0),
		},
		Control: ControlConfig{
			CyclePeriod:        getDurationOrDefault("OASIS_CONTROL_CYCLE_PERIOD", time.Minute),
			ErrorThreshold:     getFloatOrDefault("OASIS_CONTROL_ERROR_THRESHOLD", 1.0),
			ErrorWindow:        getIntOrDefault("OASIS_CONTROL_ERROR_WINDOW", 5),
			SensorGapThreshold: getDurationOrDefault("OASIS_CONTROL_SENSOR_GAP_THRESHOLD", 15*time.Minute),
			Hysteresis:         getFloatOrDefault("OASIS_CONTROL_HYSTERESIS", 0.5),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getBoolOrDefault("OASIS_METRICS_ENABLED", true),
			MetricsPort:    getIntOrDefault("OASIS_METRICS_PORT", 9090),
		},
	}

	homePath := os.Getenv("OASIS_HOME_CONFIG_PATH")
	if homePath == "" {
		return nil, fmt.Errorf("OASIS_HOME_CONFIG_PATH must be set")
	}
	if err := loadHomeConfig(cfg, homePath); err != nil {
		return nil, fmt.Errorf("failed to load home config: %v", err)
	}

	if pricingPath := os.Getenv("OASIS_PRICING_PATH"); pricingPath != "" {
		if err := loadPricingWindows(cfg, pricingPath); err != nil {
			return nil, fmt.Errorf("failed to load pricing windows: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return cfg, nil
}

// loadHomeConfig reads the zone/actuator/comfort layout from a YAML file.
func loadHomeConfig(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading home config file: %v", err)
	}

	var home HomeConfig
	if err := yaml.Unmarshal(data, &home); err != nil {
		return fmt.Errorf("error parsing home config YAML: %v", err)
	}

	cfg.Home = home
	klog.V(2).InfoS("Loaded home configuration",
		"path", path,
		"zones", len(home.Zones),
		"actuators", len(home.Actuators),
		"comfortSchedules", len(home.Comfort))
	return nil
}

// loadPricingWindows reads time-of-use rate windows from a YAML file.
func loadPricingWindows(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading pricing file: %v", err)
	}

	var wrapper struct {
		Windows []pricing.Window `yaml:"windows"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("error parsing pricing YAML: %v", err)
	}

	cfg.Pricing = wrapper.Windows
	klog.V(2).InfoS("Loaded pricing windows", "path", path, "count", len(wrapper.Windows))
	return nil
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		klog.V(2).InfoS("Invalid integer in environment, using default",
			"key", key,
			"value", os.Getenv(key),
			"default", defaultValue)
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
		klog.V(2).InfoS("Invalid integer in environment, using default",
			"key", key,
			"value", os.Getenv(key),
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		klog.V(2).InfoS("Invalid float in environment, using default",
			"key", key,
			"value", os.Getenv(key),
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		klog.V(2).InfoS("Invalid boolean in environment, using default",
			"key", key,
			"value", os.Getenv(key),
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		klog.V(2).InfoS("Invalid duration in environment, using default",
			"key", key,
			"value", os.Getenv(key),
			"default", defaultValue)
	}
	return defaultValue
}
