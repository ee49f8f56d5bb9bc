package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, ":8765", cfg.Listen)
	assert.Equal(t, 18, cfg.Handset.Pin)
	assert.Equal(t, 200*time.Millisecond, cfg.Handset.ScanInterval)
	assert.Equal(t, []int{26, 19, 13, 6}, cfg.Keypad.Rows)
	assert.Equal(t, []int{21, 20, 16}, cfg.Keypad.Cols)
	assert.Equal(t, "2", cfg.Keypad.Keys[0][1])
	assert.Equal(t, 300*time.Millisecond, cfg.Keypad.Debounce)
	assert.True(t, cfg.LED.Inverted)
	assert.Equal(t, "telephone-ring-02.wav", cfg.Playback.DefaultRingtone)
	assert.Equal(t, "plughw:2,0", cfg.Playback.Device)
	assert.Equal(t, 3, cfg.Playback.Repeat)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.TerminateGrace)
	assert.NotContains(t, cfg.Playback.RingtonesDir, "~")
	assert.Empty(t, cfg.MQTT.Broker)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"listen": ":9000",
		"keypad": {"rows": [1, 2], "cols": [3], "keys": [["A"], ["B"]], "debounce": "1s"},
		"playback": {"ringtones_dir": "/srv/rings", "repeat": 5},
		"mqtt": {"broker": "tcp://localhost:1883", "topic_prefix": "hall"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, [][]string{{"A"}, {"B"}}, cfg.Keypad.Keys)
	assert.Equal(t, time.Second, cfg.Keypad.Debounce)
	assert.Equal(t, 50*time.Millisecond, cfg.Keypad.ScanInterval)
	assert.Equal(t, "/srv/rings", cfg.Playback.RingtonesDir)
	assert.Equal(t, 5, cfg.Playback.Repeat)
	assert.Equal(t, "hall", cfg.MQTT.TopicPrefix)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PHONE_BRIDGE_LISTEN", ":7000")
	t.Setenv("PHONE_BRIDGE_PLAYBACK_DEVICE", "hw:0,0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "hw:0,0", cfg.Playback.Device)
}

func TestLoad_RejectsMismatchedKeypad(t *testing.T) {
	path := writeConfig(t, "config.json", `{"keypad": {"rows": [1, 2], "cols": [3, 4], "keys": [["A", "B"]]}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 key rows for 2 row pins")
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{"listen": `)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate_NonPositiveDurations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Handset.ScanInterval = 0
	cfg.Playback.Repeat = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handset.scan_interval must be positive")
	assert.Contains(t, err.Error(), "playback.repeat must be at least 1")
}
