package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	GRPC      GRPCConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Orders    OrdersConfig
	Tracking  TrackingConfig
	Blob      BlobConfig
	Routing   RoutingConfig
	RabbitMQ  RabbitMQConfig
	Outbox    OutboxConfig
	Telemetry TelemetryConfig
}

// ServiceConfig names the process and sets its log level.
type ServiceConfig struct {
	Name     string
	LogLevel string
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string // SQLite database file path
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string // gRPC server listen address (e.g., ":50051")
}

// HTTPConfig contains the HTTP API settings.
type HTTPConfig struct {
	Address        string
	AllowedOrigins []string
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // JWT signing secret
}

// OrdersConfig tunes the order lifecycle.
type OrdersConfig struct {
	// InitialStatus is the state new orders start in. Deployments without a
	// kitchen step use ready_for_pickup.
	InitialStatus   string
	ClaimTimeout    time.Duration
	CompleteTimeout time.Duration
}

// TrackingConfig tunes the location publisher and subscriber.
type TrackingConfig struct {
	Interval       time.Duration
	DistanceMeters float64
	TrailSize      int
}

// BlobConfig points at the evidence photo store.
type BlobConfig struct {
	Root string
}

// RoutingConfig configures the OSRM routing service.
type RoutingConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RabbitMQConfig configures the notification broker. An empty URL disables publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// OutboxConfig tunes the notification outbox worker.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// TelemetryConfig configures tracing. An empty endpoint keeps spans in-process.
type TelemetryConfig struct {
	JaegerEndpoint string
}

var defaults = map[string]any{
	"service.name":              "delivery",
	"log.level":                 "info",
	"database.path":             "app.db",
	"grpc.address":              ":50051",
	"http.address":              ":8080",
	"http.allowed_origins":      []string{"*"},
	"orders.initial_status":     "ready_for_pickup",
	"orders.claim_timeout":      "10s",
	"orders.complete_timeout":   "30s",
	"tracking.interval":         "5s",
	"tracking.distance_meters":  10.0,
	"tracking.trail_size":       10,
	"blob.root":                 "data/blobs",
	"routing.base_url":          "https://router.project-osrm.org",
	"routing.timeout":           "3s",
	"rabbitmq.url":              "",
	"rabbitmq.exchange":         "order-status",
	"outbox.poll_interval":      "5s",
	"outbox.batch_size":         100,
	"outbox.max_retries":        8,
	"telemetry.jaeger_endpoint": "",
}

// Load reads configuration from .env, an optional config.yaml and the
// environment. AUTH_JWT_SECRET must be set.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	// Validate critical settings
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for the JWT secret in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-secret-change-me"
	}
	return cfg, nil
}

func load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetDefault("auth.jwt_secret", "")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/delivery")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	r := reader{v: v}
	cfg := &Config{
		Service: ServiceConfig{
			Name:     v.GetString("service.name"),
			LogLevel: v.GetString("log.level"),
		},
		Database: DatabaseConfig{Path: v.GetString("database.path")},
		GRPC:     GRPCConfig{Address: v.GetString("grpc.address")},
		HTTP: HTTPConfig{
			Address:        v.GetString("http.address"),
			AllowedOrigins: v.GetStringSlice("http.allowed_origins"),
		},
		Auth: AuthConfig{JWTSecret: v.GetString("auth.jwt_secret")},
		Orders: OrdersConfig{
			InitialStatus:   v.GetString("orders.initial_status"),
			ClaimTimeout:    r.duration("orders.claim_timeout"),
			CompleteTimeout: r.duration("orders.complete_timeout"),
		},
		Tracking: TrackingConfig{
			Interval:       r.duration("tracking.interval"),
			DistanceMeters: r.float("tracking.distance_meters"),
			TrailSize:      r.int("tracking.trail_size"),
		},
		Blob: BlobConfig{Root: v.GetString("blob.root")},
		Routing: RoutingConfig{
			BaseURL: v.GetString("routing.base_url"),
			Timeout: r.duration("routing.timeout"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("rabbitmq.url"),
			Exchange: v.GetString("rabbitmq.exchange"),
		},
		Outbox: OutboxConfig{
			PollInterval: r.duration("outbox.poll_interval"),
			BatchSize:    r.int("outbox.batch_size"),
			MaxRetries:   r.int("outbox.max_retries"),
		},
		Telemetry: TelemetryConfig{JaegerEndpoint: v.GetString("telemetry.jaeger_endpoint")},
	}
	if r.err != nil {
		return nil, r.err
	}
	switch cfg.Orders.InitialStatus {
	case "pending", "ready_for_pickup":
	default:
		return nil, fmt.Errorf("invalid orders.initial_status %q: want pending or ready_for_pickup", cfg.Orders.InitialStatus)
	}
	if cfg.Tracking.TrailSize < 1 || cfg.Tracking.TrailSize > 10 {
		return nil, fmt.Errorf("invalid tracking.trail_size %d: want 1..10", cfg.Tracking.TrailSize)
	}
	return cfg, nil
}

// reader converts raw viper values strictly; viper's own getters return zero
// values on malformed input. The first failure is kept.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) duration(key string) time.Duration {
	d, err := cast.ToDurationE(r.v.Get(key))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d
}

func (r *reader) int(key string) int {
	n, err := cast.ToIntE(r.v.Get(key))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n
}

func (r *reader) float(key string) float64 {
	f, err := cast.ToFloat64E(r.v.Get(key))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid number for %s: %w", key, err)
	}
	return f
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, gRPC: %s, HTTP: %s, Initial: %s, Auth: *** (masked) ***}",
		c.Database.Path, c.GRPC.Address, c.HTTP.Address, c.Orders.InitialStatus)
}
