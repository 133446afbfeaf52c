package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv() {
	for _, k := range []string{"DATABASE_PATH", "GRPC_ADDRESS", "AUTH_JWT_SECRET", "ORDERS_INITIAL_STATUS", "ORDERS_CLAIM_TIMEOUT", "TRACKING_TRAIL_SIZE"} {
		os.Unsetenv(k)
	}
}

func TestLoadWithDefaults_Succeeds(t *testing.T) {
	// Ensure envs are clean to use defaults
	clearEnv()
	cfg, err := LoadWithDefaults()
	if err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if cfg.GRPC.Address == "" || cfg.Database.Path == "" || cfg.Auth.JWTSecret == "" {
		t.Fatalf("unexpected empty defaults: %+v", cfg)
	}
	if cfg.Orders.InitialStatus != "ready_for_pickup" {
		t.Fatalf("initial status=%q", cfg.Orders.InitialStatus)
	}
	if cfg.Tracking.Interval != 5*time.Second || cfg.Tracking.DistanceMeters != 10 {
		t.Fatalf("tracking defaults: %+v", cfg.Tracking)
	}
	if cfg.Tracking.TrailSize != 10 {
		t.Fatalf("trail size=%d", cfg.Tracking.TrailSize)
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	clearEnv()
	t.Setenv("DATABASE_PATH", "test.db")
	t.Setenv("GRPC_ADDRESS", ":1234")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when AUTH_JWT_SECRET is not set")
	}
	// When set, it should succeed
	t.Setenv("AUTH_JWT_SECRET", "x")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with secret set: %v", err)
	}
	if cfg.Database.Path != "test.db" || cfg.GRPC.Address != ":1234" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoad_RejectsMalformedDuration(t *testing.T) {
	clearEnv()
	t.Setenv("ORDERS_CLAIM_TIMEOUT", "soon")
	if _, err := LoadWithDefaults(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestLoad_RejectsUnknownInitialStatus(t *testing.T) {
	clearEnv()
	t.Setenv("ORDERS_INITIAL_STATUS", "out_for_delivery")
	if _, err := LoadWithDefaults(); err == nil {
		t.Fatalf("expected error for initial status outside pending/ready_for_pickup")
	}
}

func TestLoad_TrailSizeBounded(t *testing.T) {
	clearEnv()
	t.Setenv("TRACKING_TRAIL_SIZE", "11")
	if _, err := LoadWithDefaults(); err == nil {
		t.Fatalf("expected error for trail size above 10")
	}
}

func TestString_MasksSecret(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{JWTSecret: "super-secret"}}
	if s := cfg.String(); strings.Contains(s, "super-secret") {
		t.Fatalf("secret leaked: %s", s)
	}
}
