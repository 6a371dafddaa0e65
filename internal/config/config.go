// Package config loads server settings from the environment and an optional
// TOML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"typerace/internal/rooms"
)

type Config struct {
	Port           string
	DatabaseURL    string
	SQLitePath     string
	SnippetsPath   string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	MaxMembers         int
	CountdownSecs      int
	InactivityWarnSecs int
	InactivityKickSecs int
	ExtendWordCount    int
	ProgressIntervalMs int
	MaxRaceSecs        int
	RoomTTLMins        int
	RequestTimeoutMs   int
	TimedDurationSecs  []int
}

// FileConfig mirrors Config in a TOML file. Unset keys leave the
// environment's value alone.
type FileConfig struct {
	Port           *string  `toml:"port"`
	DatabaseURL    *string  `toml:"database-url"`
	SQLitePath     *string  `toml:"sqlite-path"`
	SnippetsPath   *string  `toml:"snippets-path"`
	AllowedOrigins []string `toml:"allowed-origins"`
	LogLevel       *string  `toml:"log-level"`
	LogFormat      *string  `toml:"log-format"`
	Rooms          struct {
		MaxMembers         *int  `toml:"max-members"`
		CountdownSecs      *int  `toml:"countdown-secs"`
		InactivityWarnSecs *int  `toml:"inactivity-warn-secs"`
		InactivityKickSecs *int  `toml:"inactivity-kick-secs"`
		ExtendWordCount    *int  `toml:"extend-word-count"`
		ProgressIntervalMs *int  `toml:"progress-interval-ms"`
		MaxRaceSecs        *int  `toml:"max-race-secs"`
		RoomTTLMins        *int  `toml:"room-ttl-mins"`
		RequestTimeoutMs   *int  `toml:"request-timeout-ms"`
		TimedDurationSecs  []int `toml:"timed-durations"`
	} `toml:"rooms"`
}

// Load reads the environment and then applies the file named by CONFIG_FILE,
// if any.
func Load() (Config, error) {
	cfg := FromEnv()
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return cfg, nil
	}
	fc, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	fc.Apply(&cfg)
	return cfg, nil
}

func FromEnv() Config {
	return Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		SnippetsPath:   os.Getenv("SNIPPETS_PATH"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),

		MaxMembers:         getEnvInt("MAX_MEMBERS", 10),
		CountdownSecs:      getEnvInt("COUNTDOWN_SECS", 5),
		InactivityWarnSecs: getEnvInt("INACTIVITY_WARN_SECS", 60),
		InactivityKickSecs: getEnvInt("INACTIVITY_KICK_SECS", 90),
		ExtendWordCount:    getEnvInt("EXTEND_WORD_COUNT", 15),
		ProgressIntervalMs: getEnvInt("PROGRESS_INTERVAL_MS", 100),
		MaxRaceSecs:        getEnvInt("MAX_RACE_SECS", 600),
		RoomTTLMins:        getEnvInt("ROOM_TTL_MINS", 60),
		RequestTimeoutMs:   getEnvInt("REQUEST_TIMEOUT_MS", 5000),
		TimedDurationSecs:  getEnvInts("TIMED_DURATIONS", []int{15, 30, 60, 120}),
	}
}

// RoomsConfig converts the room settings into rooms.Config.
func (c Config) RoomsConfig() rooms.Config {
	rc := rooms.DefaultConfig()
	rc.MaxMembers = c.MaxMembers
	rc.CountdownSecs = c.CountdownSecs
	rc.InactivityWarn = time.Duration(c.InactivityWarnSecs) * time.Second
	rc.InactivityKick = time.Duration(c.InactivityKickSecs) * time.Second
	rc.ExtendWordCount = c.ExtendWordCount
	rc.ProgressInterval = time.Duration(c.ProgressIntervalMs) * time.Millisecond
	rc.MaxRaceDuration = time.Duration(c.MaxRaceSecs) * time.Second
	rc.RoomTTL = time.Duration(c.RoomTTLMins) * time.Minute
	rc.TimedDurations = nil
	for _, secs := range c.TimedDurationSecs {
		rc.TimedDurations = append(rc.TimedDurations, time.Duration(secs)*time.Second)
	}
	return rc
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Validate rejects settings the room code cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("port is empty")
	case c.MaxMembers < 2:
		return fmt.Errorf("max members must be at least 2, got %d", c.MaxMembers)
	case c.CountdownSecs < 0:
		return fmt.Errorf("countdown must not be negative, got %d", c.CountdownSecs)
	case c.InactivityKickSecs > 0 && c.InactivityWarnSecs >= c.InactivityKickSecs:
		return fmt.Errorf("inactivity warning (%ds) must come before the kick (%ds)", c.InactivityWarnSecs, c.InactivityKickSecs)
	case c.RequestTimeoutMs <= 0:
		return fmt.Errorf("request timeout must be positive, got %dms", c.RequestTimeoutMs)
	case len(c.TimedDurationSecs) == 0:
		return fmt.Errorf("at least one timed duration is required")
	}
	for _, secs := range c.TimedDurationSecs {
		if secs <= 0 {
			return fmt.Errorf("timed durations must be positive, got %d", secs)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvInts parses a comma separated list. Any malformed entry falls back
// to the default for the whole list.
func getEnvInts(key string, fallback []int) []int {
	parts := splitList(os.Getenv(key))
	if len(parts) == 0 {
		return fallback
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return fallback
		}
		out = append(out, i)
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
