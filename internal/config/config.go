package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig captures all tunable parameters for the reference
// provider backend. Values are primarily loaded from environment
// variables with sane defaults so the binary can run locally without
// excessive setup.
type ProviderConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// ProviderID is embedded in fully qualified resource names,
	// e.g. providers/{ProviderID}/vehicles/{vehicleID}.
	ProviderID string

	PGDSN string

	KafkaBrokers []string
	KafkaTopic   string

	// TokenSecret signs the JWTs served by the token endpoints.
	TokenSecret string
	TokenTTL    time.Duration

	// OSRMEndpoint enables route-based waypoint ETAs when set.
	OSRMEndpoint    string
	DefaultSpeedMps float64

	StripeAPIKey string
	Currency     string

	LogLevel string
}

func defaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		ProviderID:      "sample-provider",
		KafkaTopic:      "trip-events",
		TokenSecret:     "insecure-dev-secret",
		TokenTTL:        time.Hour,
		DefaultSpeedMps: 10,
		Currency:        "usd",
		LogLevel:        "info",
	}
}

func LoadProviderConfig() (ProviderConfig, error) {
	cfg := defaultProviderConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.ProviderID, "PROVIDER_ID")
	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.TokenSecret, "TOKEN_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "TOKEN_TTL", &errs)

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	setLogLevelFromEnv(&cfg.LogLevel)

	if cfg.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be > 0"))
	}
	if cfg.DefaultSpeedMps <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_SPEED_MPS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// RiderConfig holds settings for the rider console app.
type RiderConfig struct {
	ProviderBaseURL string

	// Location Selection API; the lookup is skipped entirely when the
	// key is unset, matching the hosted sample behavior.
	LocationSelectionBaseURL string
	LocationSelectionAPIKey  string

	HTTPTimeout time.Duration
	LogLevel    string
}

func defaultRiderConfig() RiderConfig {
	return RiderConfig{
		ProviderBaseURL:          "http://localhost:8080",
		LocationSelectionBaseURL: "https://locationselection.googleapis.com",
		HTTPTimeout:              10 * time.Second,
		LogLevel:                 "info",
	}
}

func LoadRiderConfig() (RiderConfig, error) {
	cfg := defaultRiderConfig()
	var errs []error

	setStringFromEnv(&cfg.ProviderBaseURL, "PROVIDER_BASE_URL")
	setStringFromEnv(&cfg.LocationSelectionBaseURL, "LOCATION_SELECTION_BASE_URL")
	cfg.LocationSelectionAPIKey = os.Getenv("LOCATION_SELECTION_API_KEY")
	setDurationFromEnv(&cfg.HTTPTimeout, "HTTP_TIMEOUT", &errs)
	setLogLevelFromEnv(&cfg.LogLevel)

	if cfg.ProviderBaseURL == "" {
		errs = append(errs, fmt.Errorf("PROVIDER_BASE_URL must not be empty"))
	}

	return cfg, errors.Join(errs...)
}

// DriverConfig holds settings for the driver console app.
type DriverConfig struct {
	ProviderBaseURL string

	// VehicleIDPrefix is prepended to the generated vehicle ID so
	// vehicles from different demo runs are easy to tell apart.
	VehicleIDPrefix   string
	BackToBackEnabled bool

	PollInterval time.Duration
	HTTPTimeout  time.Duration
	LogLevel     string
}

func defaultDriverConfig() DriverConfig {
	return DriverConfig{
		ProviderBaseURL:   "http://localhost:8080",
		VehicleIDPrefix:   "go-driver",
		BackToBackEnabled: true,
		PollInterval:      2 * time.Second,
		HTTPTimeout:       10 * time.Second,
		LogLevel:          "info",
	}
}

func LoadDriverConfig() (DriverConfig, error) {
	cfg := defaultDriverConfig()
	var errs []error

	setStringFromEnv(&cfg.ProviderBaseURL, "PROVIDER_BASE_URL")
	setStringFromEnv(&cfg.VehicleIDPrefix, "VEHICLE_ID_PREFIX")
	if v := os.Getenv("BACK_TO_BACK_ENABLED"); v != "" {
		cfg.BackToBackEnabled = strings.EqualFold(v, "true")
	}
	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.HTTPTimeout, "HTTP_TIMEOUT", &errs)
	setLogLevelFromEnv(&cfg.LogLevel)

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// TripEventsConfig holds settings for the trip-events consumer.
type TripEventsConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	LogLevel     string
}

func defaultTripEventsConfig() TripEventsConfig {
	return TripEventsConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "trip-events",
		KafkaGroup:   "ridehail-trip-events",
		RedisAddr:    "localhost:6379",
		LogLevel:     "info",
	}
}

func LoadTripEventsConfig() (TripEventsConfig, error) {
	cfg := defaultTripEventsConfig()
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setLogLevelFromEnv(&cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}

	return cfg, errors.Join(errs...)
}

func setStringFromEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setLogLevelFromEnv(target *string) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*target = strings.ToLower(v)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
