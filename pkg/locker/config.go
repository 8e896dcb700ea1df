package locker

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the Locker's tunables. Precedence (highest to lowest):
// environment variables (LOCKERD_*), configuration file, defaults.
type Config struct {
	// CapHysteresisWindow overrides the 2-second grace period
	// RequestInodeFileCaps holds a replica's aggregate desired caps at their
	// last non-zero value before reporting a drop to zero upstream.
	CapHysteresisWindow time.Duration `mapstructure:"cap_hysteresis_window" yaml:"cap_hysteresis_window"`

	// MetricsNamespace overrides the Prometheus namespace metrics are
	// registered under. Empty uses the "lockerd" default baked into
	// metrics.go.
	MetricsNamespace string `mapstructure:"metrics_namespace" yaml:"metrics_namespace"`
}

// DefaultConfig returns a Config with every field set to its default value.
func DefaultConfig() Config {
	return Config{
		CapHysteresisWindow: capHysteresisWindow,
		MetricsNamespace:    "lockerd",
	}
}

// LoadConfig loads Locker configuration from file and environment, falling
// back to DefaultConfig for anything unset. configPath may be empty, in
// which case only environment variables and defaults apply.
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOCKERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only consults keys viper already knows; registering the
	// defaults makes every field's LOCKERD_* variable visible to it.
	v.SetDefault("cap_hysteresis_window", capHysteresisWindow)
	v.SetDefault("metrics_namespace", "lockerd")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read locker config %q: %w", configPath, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal locker config: %w", err)
	}
	if cfg.CapHysteresisWindow <= 0 {
		cfg.CapHysteresisWindow = capHysteresisWindow
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = "lockerd"
	}
	return cfg, nil
}
