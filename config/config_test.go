package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/config"
)

func TestApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	c := config.Config{
		ResponseTimeout: 750 * time.Millisecond,
		Stations:        []config.StationConfig{{Address: 1}},
	}
	c.ApplyDefaults()

	assert.Equal(t, 750*time.Millisecond, c.ResponseTimeout, "explicit value must survive")
	assert.Equal(t, 10*time.Millisecond, c.PollMinGap)
	assert.Equal(t, 250*time.Millisecond, c.RecallRetryDelay)
	assert.Equal(t, 50*time.Millisecond, c.ControlCoalesceWindow)
	assert.Equal(t, uint32(3), c.FailThreshold)
}

func TestValidateRejectsNegativeDuration(t *testing.T) {
	c := config.Default()
	c.Stations = []config.StationConfig{{Address: 1}}
	c.ResponseTimeout = -1

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response_timeout")
}

func TestValidateRejectsZeroFailThreshold(t *testing.T) {
	c := config.Default()
	c.Stations = []config.StationConfig{{Address: 1}}
	c.FailThreshold = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail_threshold")
}

func TestValidateRejectsEmptyStationRoster(t *testing.T) {
	c := config.Default()

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station")
}

func TestValidateRejectsDuplicateStation(t *testing.T) {
	c := config.Default()
	c.Stations = []config.StationConfig{{Address: 1}, {Address: 1}}

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestValidateRejectsBroadcastAddress(t *testing.T) {
	c := config.Default()
	c.Stations = []config.StationConfig{{Address: 0}}

	err := c.Validate()
	require.Error(t, err)
}

func TestStationAddressesPreservesOrder(t *testing.T) {
	c := config.Default()
	c.Stations = []config.StationConfig{{Address: 3}, {Address: 1}}

	addrs := c.StationAddresses()
	require.Len(t, addrs, 2)
	assert.Equal(t, wayside.StationAddress(3), addrs[0])
	assert.Equal(t, wayside.StationAddress(1), addrs[1])
}

func TestLoadReadsYAMLFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wayside.yaml")
	contents := "response_timeout: 750ms\nstations:\n  - address: 1\n    endpoint: \"udp://10.0.0.1:9000\"\n  - address: 2\n    endpoint: \"udp://10.0.0.2:9000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.ResponseTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.PollMinGap)
	require.Len(t, cfg.Stations, 2)
	assert.Equal(t, "udp://10.0.0.1:9000", cfg.Stations[0].Endpoint)
}

func TestLoadWithEmptyPathAndNoStationsFailsValidation(t *testing.T) {
	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
