package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:4000" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "pulseroom.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.KeepaliveInterval != 30*time.Second {
		t.Fatalf("unexpected keepalive interval %v", cfg.KeepaliveInterval)
	}
	if cfg.RenormalizeInterval != 0 {
		t.Fatalf("expected renormalization disabled by default, got %v", cfg.RenormalizeInterval)
	}
	if cfg.SessionNameMaxRunes != 20 {
		t.Fatalf("unexpected name limit %d", cfg.SessionNameMaxRunes)
	}
	if !cfg.SeedDatabase {
		t.Fatalf("expected seeding enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	v := NewViper()
	v.Set("http.address", "127.0.0.1:9000")
	v.Set("keepalive.interval_s", 5)
	v.Set("position.renormalize_interval_s", 3600)
	v.Set("database.seed", false)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9000" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.KeepaliveInterval != 5*time.Second {
		t.Fatalf("unexpected keepalive interval %v", cfg.KeepaliveInterval)
	}
	if cfg.RenormalizeInterval != time.Hour {
		t.Fatalf("unexpected renormalize interval %v", cfg.RenormalizeInterval)
	}
	if cfg.SeedDatabase {
		t.Fatalf("expected seeding disabled")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value any
	}{
		{"empty address", "http.address", "  "},
		{"empty database path", "database.path", ""},
		{"zero keepalive", "keepalive.interval_s", 0},
		{"negative renormalize", "position.renormalize_interval_s", -1},
		{"zero name limit", "session.name_max_runes", 0},
	}
	for _, tc := range cases {
		v := NewViper()
		v.Set(tc.key, tc.value)
		if _, err := Load(v); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
