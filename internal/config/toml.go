package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a TOML config from path. A missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var fc FileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return fc, nil
}

// Apply overlays every key set in the file onto cfg.
func (fc FileConfig) Apply(cfg *Config) {
	setString(&cfg.Port, fc.Port)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.SQLitePath, fc.SQLitePath)
	setString(&cfg.SnippetsPath, fc.SnippetsPath)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}

	r := fc.Rooms
	setInt(&cfg.MaxMembers, r.MaxMembers)
	setInt(&cfg.CountdownSecs, r.CountdownSecs)
	setInt(&cfg.InactivityWarnSecs, r.InactivityWarnSecs)
	setInt(&cfg.InactivityKickSecs, r.InactivityKickSecs)
	setInt(&cfg.ExtendWordCount, r.ExtendWordCount)
	setInt(&cfg.ProgressIntervalMs, r.ProgressIntervalMs)
	setInt(&cfg.MaxRaceSecs, r.MaxRaceSecs)
	setInt(&cfg.RoomTTLMins, r.RoomTTLMins)
	setInt(&cfg.RequestTimeoutMs, r.RequestTimeoutMs)
	if r.TimedDurationSecs != nil {
		cfg.TimedDurationSecs = r.TimedDurationSecs
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
