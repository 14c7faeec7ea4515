package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarpi/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)

	assert.Equal(t, 600.0, cfg.BatteryCapacity)
	assert.Empty(t, cfg.BatteryMonitorAddr)
	assert.Equal(t, "solarpi.db", cfg.DatabasePath)
}

func TestLoadCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solarpi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml:::"), 0o644))

	cfg := config.Load(path, nil)

	assert.Equal(t, 600.0, cfg.BatteryCapacity)
}

func TestLoadNormalizesAddresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solarpi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"battery_monitor_addr: 54:14:a7:53:14:e9\nbattery_capacity: -1\n"), 0o644))

	cfg := config.Load(path, nil)

	assert.Equal(t, "54:14:A7:53:14:E9", cfg.BatteryMonitorAddr)
	assert.Equal(t, 600.0, cfg.BatteryCapacity, "non-positive capacity falls back to default")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "solarpi.yaml")

	cfg := config.Default()
	cfg.SolarChargerAddr = "C8:47:80:0D:2C:6A"
	cfg.BatteryCapacity = 400
	require.NoError(t, config.Save(cfg, path))

	loaded := config.Load(path, nil)
	assert.Equal(t, cfg, loaded)
}
