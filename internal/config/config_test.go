package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "airq", cfg.App.Name)
	assert.Equal(t, 9600, cfg.Sensor.BaudRate)
	assert.Equal(t, 60*time.Second, cfg.Measurement.WarmUp)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "airq.yaml")
	content := []byte(`
sensor:
  devicePath: /dev/ttyAMA0
  dutyCycle: 5
measurement:
  warmUp: 30s
cache:
  ttl: 1m
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("AIRQ_MEASUREMENT_WARMUP", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Sensor.DevicePath)
	assert.Equal(t, 5, cfg.Sensor.DutyCycle)
	assert.Equal(t, 45*time.Second, cfg.Measurement.WarmUp)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
}

func TestLoad_LegacyEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERIAL_PATH", "/dev/ttyUSB3")
	t.Setenv("CACHE_TTL", "120")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Sensor.DevicePath)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
