// Package config loads the operator-editable daemon configuration. The file
// is re-read once per discovery pass so address edits take effect without a
// restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Device addresses are optional; when
// empty the scanner matches by advertised service instead.
type Config struct {
	// BatteryCapacity is the bank size in amp-hours, used for the derived
	// charge percentage.
	BatteryCapacity float64 `yaml:"battery_capacity" default:"600"`

	BatteryMonitorAddr string `yaml:"battery_monitor_addr"`
	SolarChargerAddr   string `yaml:"solar_charger_addr"`

	DatabasePath string `yaml:"database_path" default:"solarpi.db"`

	// RetentionDays prunes rows older than this many days; 0 keeps all.
	RetentionDays int `yaml:"retention_days"`
}

// DefaultPath returns the config file location under the XDG config dir.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "solarpi", "solarpi.yaml")
}

// Default returns a config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the config file at path. A missing or unreadable file yields
// the defaults; the daemon never refuses to start over configuration.
func Load(path string, logger *logrus.Logger) *Config {
	if logger == nil {
		logger = logrus.New()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WithField("path", path).Debug("Config file does not exist, using defaults")
		} else {
			logger.WithError(err).Warn("Failed to read config, using defaults")
		}
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logger.WithError(err).Warn("Failed to parse config, using defaults")
		return Default()
	}

	cfg.normalize(logger)
	return cfg
}

// Save writes cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// normalize upper-cases addresses for comparison with discovered devices and
// rejects unusable values.
func (c *Config) normalize(logger *logrus.Logger) {
	c.BatteryMonitorAddr = strings.ToUpper(strings.TrimSpace(c.BatteryMonitorAddr))
	c.SolarChargerAddr = strings.ToUpper(strings.TrimSpace(c.SolarChargerAddr))

	if c.BatteryCapacity <= 0 {
		logger.WithField("battery_capacity", c.BatteryCapacity).Error("Battery capacity must be greater than 0, using default")
		c.BatteryCapacity = Default().BatteryCapacity
	}
}
