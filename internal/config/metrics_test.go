package config

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"parse", errors.New(`parse env: env: parse error on field "RefreshTTL"`), "parse"},
		{"signing", fmt.Errorf("validate config: %w", errors.New("JWT_ACCESS_SECRET must be at least 32 bytes")), "signing"},
		{"store", fmt.Errorf("validate config: %w", errors.New(`DATABASE_DRIVER "mysql" is not supported`)), "store"},
		{"rate limit before token policy", errors.New("REFRESH_RATE_LIMIT_RPM must not be negative"), "rate_limit"},
		{"token policy", errors.New("REFRESH_MAX_USAGE_COUNT must be at least 1"), "token_policy"},
		{"cleanup", errors.New("cleanup intervals must be positive"), "cleanup"},
		{"redis", errors.New("ACCESS_DENYLIST_ENABLED requires REDIS_ADDR"), "redis"},
		{"telemetry", errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"), "telemetry"},
		{"other", errors.New("disk on fire"), "other"},
		{
			"multiple",
			fmt.Errorf("validate config: %w", errors.Join(errors.New("JWT_ACCESS_SECRET too short"), errors.New("cleanup intervals must be positive"))),
			"multiple",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorClass(tc.err); got != tc.want {
				t.Fatalf("errorClass() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateFailuresClassifyBySettingGroup(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fixture must validate: %v", err)
	}
	cfg.DatabaseDriver = "oracle"
	err := fmt.Errorf("validate config: %w", cfg.Validate())
	if got := errorClass(err); got != "store" {
		t.Fatalf("expected store class for a single driver error, got %q (%v)", got, err)
	}
}

func TestAppEnvLabel(t *testing.T) {
	for raw, want := range map[string]string{"  Staging ": "staging", "": "unknown", "\t": "unknown", "production": "production"} {
		if got := appEnvLabel(raw); got != want {
			t.Fatalf("appEnvLabel(%q) = %q, want %q", raw, got, want)
		}
	}
}

func FuzzErrorClassNeverEmpty(f *testing.F) {
	f.Add("parse env: bad")
	f.Add("JWT_ACCESS_SECRET")
	f.Add("")
	f.Fuzz(func(t *testing.T, msg string) {
		if errorClass(errors.New(msg)) == "" {
			t.Fatalf("empty class for %q", msg)
		}
	})
}

func validConfig() *Config {
	return &Config{
		DatabaseDriver:          "sqlite",
		DatabaseURL:             "file:test.db",
		JWTAccessSecret:         "abcdefghijklmnopqrstuvwxyz123456",
		JWTAccessTTL:            15 * time.Minute,
		RefreshTTL:              24 * time.Hour,
		RememberMeRefreshTTL:    72 * time.Hour,
		RefreshMaxUsageCount:    1,
		RefreshMaxPerSubject:    5,
		RememberMeMaxPerSubject: 5,
		CleanupSweepInterval:    time.Hour,
		CleanupTrimInterval:     24 * time.Hour,
		OTELTraceSamplingRatio:  1,
	}
}
