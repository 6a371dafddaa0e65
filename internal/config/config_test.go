package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DATABASE_URL", "SQLITE_PATH", "SNIPPETS_PATH", "ALLOWED_ORIGINS",
		"LOG_LEVEL", "LOG_FORMAT", "MAX_MEMBERS", "COUNTDOWN_SECS", "INACTIVITY_WARN_SECS",
		"INACTIVITY_KICK_SECS", "EXTEND_WORD_COUNT", "PROGRESS_INTERVAL_MS", "MAX_RACE_SECS",
		"ROOM_TTL_MINS", "REQUEST_TIMEOUT_MS", "TIMED_DURATIONS", "CONFIG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "")
	}
	if cfg.MaxMembers != 10 {
		t.Errorf("MaxMembers = %d, want %d", cfg.MaxMembers, 10)
	}
	if cfg.CountdownSecs != 5 {
		t.Errorf("CountdownSecs = %d, want %d", cfg.CountdownSecs, 5)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
	if len(cfg.TimedDurationSecs) != 4 || cfg.TimedDurationSecs[0] != 15 {
		t.Errorf("TimedDurationSecs = %v, want [15 30 60 120]", cfg.TimedDurationSecs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://localhost/typerace")
	t.Setenv("MAX_MEMBERS", "4")
	t.Setenv("ALLOWED_ORIGINS", "example.com, *.example.org ,")
	t.Setenv("TIMED_DURATIONS", "10, 45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.DatabaseURL != "postgres://localhost/typerace" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "postgres://localhost/typerace")
	}
	if cfg.MaxMembers != 4 {
		t.Errorf("MaxMembers = %d, want %d", cfg.MaxMembers, 4)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	rc := cfg.RoomsConfig()
	if len(rc.TimedDurations) != 2 || rc.TimedDurations[1] != 45*time.Second {
		t.Errorf("rooms TimedDurations = %v, want [10s 45s]", rc.TimedDurations)
	}
}

func TestLoad_InvalidInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("COUNTDOWN_SECS", "abc")
	t.Setenv("TIMED_DURATIONS", "15,soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CountdownSecs != 5 {
		t.Errorf("CountdownSecs = %d, want %d (fallback)", cfg.CountdownSecs, 5)
	}
	if len(cfg.TimedDurationSecs) != 4 {
		t.Errorf("TimedDurationSecs = %v, want the default list", cfg.TimedDurationSecs)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("MAX_MEMBERS", "4")

	path := filepath.Join(t.TempDir(), "typerace.toml")
	data := `
port = "9090"
allowed-origins = ["typerace.dev"]

[rooms]
countdown-secs = 3
room-ttl-mins = 15
timed-durations = [20]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.MaxMembers != 4 {
		t.Errorf("MaxMembers = %d, want env value 4", cfg.MaxMembers)
	}
	if cfg.CountdownSecs != 3 {
		t.Errorf("CountdownSecs = %d, want %d", cfg.CountdownSecs, 3)
	}

	rc := cfg.RoomsConfig()
	if rc.RoomTTL != 15*time.Minute {
		t.Errorf("RoomTTL = %v, want %v", rc.RoomTTL, 15*time.Minute)
	}
	if rc.MaxMembers != 4 {
		t.Errorf("rooms MaxMembers = %d, want %d", rc.MaxMembers, 4)
	}
	if len(rc.TimedDurations) != 1 || rc.TimedDurations[0] != 20*time.Second {
		t.Errorf("rooms TimedDurations = %v, want [20s]", rc.TimedDurations)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "typerace.toml")
	if err := os.WriteFile(path, []byte("prot = \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject unknown keys")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"no port", func(c *Config) { c.Port = "" }},
		{"single seat", func(c *Config) { c.MaxMembers = 1 }},
		{"warn after kick", func(c *Config) { c.InactivityWarnSecs = 120 }},
		{"zero timeout", func(c *Config) { c.RequestTimeoutMs = 0 }},
		{"no timed durations", func(c *Config) { c.TimedDurationSecs = nil }},
		{"negative timed duration", func(c *Config) { c.TimedDurationSecs = []int{30, -1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mod(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
