// Package config loads apfsck's threshold and logging defaults from an
// optional config file and the environment, the same way
// internal/disk's DMGConfig loads device defaults in the teacher
// codebase: Viper reads a file if present, environment variables
// override it, and the caller's explicit values (CLI flags) take
// precedence over everything this package produces.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the defaults CLI flags may override. It never holds a
// final decision by itself — see Thresholds in internal/report for
// that — only the values to fall back to when a flag wasn't passed.
type Config struct {
	ReportCrash   bool   `mapstructure:"report_crash"`
	ReportUnknown bool   `mapstructure:"report_unknown"`
	ReportWeird   bool   `mapstructure:"report_weird"`
	LogLevel      string `mapstructure:"log_level"`
}

// Load reads apfsck.{yaml,json,env} from the current directory, the
// user's config directory, and /etc/apfsck, in that order, falling
// back to the package defaults when no file is found. explicitPath, if
// non-empty, is read instead and any failure to read it is fatal
// rather than silently ignored.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("report_crash", false)
	v.SetDefault("report_unknown", false)
	v.SetDefault("report_weird", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("APFSCK")
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", explicitPath, err)
		}
	} else {
		v.SetConfigName("apfsck")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.apfsck")
		v.AddConfigPath("/etc/apfsck")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
