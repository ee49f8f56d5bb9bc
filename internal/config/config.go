package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure loaded from the config file
type Config struct {
	Listen   string         `mapstructure:"listen"` // WebSocket/HTTP listen address
	Chip     string         `mapstructure:"chip"`   // GPIO chip device (e.g., "gpiochip0")
	Debug    bool           `mapstructure:"debug"`
	Handset  HandsetConfig  `mapstructure:"handset"`
	Keypad   KeypadConfig   `mapstructure:"keypad"`
	LED      LEDConfig      `mapstructure:"led"`
	Playback PlaybackConfig `mapstructure:"playback"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	MDNS     MDNSConfig     `mapstructure:"mdns"`
	Hub      HubConfig      `mapstructure:"hub"`
}

// HandsetConfig defines the hook switch input
type HandsetConfig struct {
	Pin          int           `mapstructure:"pin"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

// KeypadConfig defines the matrix keypad wiring and key labels
type KeypadConfig struct {
	Rows         []int         `mapstructure:"rows"` // driven low one at a time
	Cols         []int         `mapstructure:"cols"` // pulled up, low = pressed
	Keys         [][]string    `mapstructure:"keys"` // Keys[row][col]
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

// LEDConfig defines the indicator LED output
type LEDConfig struct {
	Pin      int  `mapstructure:"pin"`
	Inverted bool `mapstructure:"inverted"` // If true, LOW=ON and HIGH=OFF
}

// PlaybackConfig defines how ringtones are located and rendered
type PlaybackConfig struct {
	Player          string        `mapstructure:"player"` // player binary, also the name swept by pkill
	Device          string        `mapstructure:"device"` // ALSA device passed with -D
	MaxFileTime     int           `mapstructure:"max_file_time"`
	RingtonesDir    string        `mapstructure:"ringtones_dir"`
	DefaultRingtone string        `mapstructure:"default_ringtone"`
	Repeat          int           `mapstructure:"repeat"`
	RingCycle       time.Duration `mapstructure:"ring_cycle"`
	TerminateGrace  time.Duration `mapstructure:"terminate_grace"`
	Sweep           bool          `mapstructure:"sweep"` // pkill stray players by name
	MixerControls   []string      `mapstructure:"mixer_controls"`
	Volume          string        `mapstructure:"volume"`
}

// MQTTConfig defines the optional MQTT mirror. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`       // MQTT broker URL (e.g., "tcp://localhost:1883")
	User        string `mapstructure:"user"`         // MQTT username
	Password    string `mapstructure:"password"`     // MQTT password
	TopicPrefix string `mapstructure:"topic_prefix"` // Base topic for all MQTT messages
	ClientID    string `mapstructure:"client_id"`
	Discovery   bool   `mapstructure:"discovery"` // publish Home Assistant discovery configs
}

// MDNSConfig controls LAN advertisement of the WebSocket endpoint
type MDNSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Instance  string `mapstructure:"instance"`
	Interface string `mapstructure:"interface"` // empty = all interfaces
}

// HubConfig tunes per-client delivery
type HubConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

const envPrefix = "PHONE_BRIDGE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8765")
	v.SetDefault("chip", "gpiochip0")
	v.SetDefault("debug", false)

	v.SetDefault("handset.pin", 18)
	v.SetDefault("handset.scan_interval", "200ms")
	v.SetDefault("handset.debounce", "200ms")

	v.SetDefault("keypad.rows", []int{26, 19, 13, 6})
	v.SetDefault("keypad.cols", []int{21, 20, 16})
	v.SetDefault("keypad.keys", [][]string{
		{"1", "2", "3"},
		{"3", "6", "9"},
		{"2", "5", "8"},
		{"1", "4", "7"},
	})
	v.SetDefault("keypad.scan_interval", "50ms")
	v.SetDefault("keypad.debounce", "300ms")

	v.SetDefault("led.pin", 4)
	v.SetDefault("led.inverted", true)

	v.SetDefault("playback.player", "aplay")
	v.SetDefault("playback.device", "plughw:2,0")
	v.SetDefault("playback.max_file_time", 20)
	v.SetDefault("playback.ringtones_dir", "~/ai-phone-firmware/ringtones")
	v.SetDefault("playback.default_ringtone", "telephone-ring-02.wav")
	v.SetDefault("playback.repeat", 3)
	v.SetDefault("playback.ring_cycle", "6s")
	v.SetDefault("playback.terminate_grace", "500ms")
	v.SetDefault("playback.sweep", true)
	v.SetDefault("playback.mixer_controls", []string{"Master", "PCM"})
	v.SetDefault("playback.volume", "100%")

	v.SetDefault("mqtt.topic_prefix", "phone")
	v.SetDefault("mqtt.client_id", "phone-bridge")
	v.SetDefault("mqtt.discovery", true)

	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.instance", "AI Phone")

	v.SetDefault("hub.queue_size", 64)
	v.SetDefault("hub.write_timeout", "5s")
	v.SetDefault("hub.ping_interval", "25s")
}

// Load reads the configuration file at path. A missing path yields the built-in
// defaults; env variables prefixed PHONE_BRIDGE_ override both.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Playback.RingtonesDir = expandHome(cfg.Playback.RingtonesDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects layouts and timings the pollers and controller cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.Keypad.Rows) == 0 || len(c.Keypad.Cols) == 0 {
		errs = append(errs, errors.New("keypad: rows and cols must not be empty"))
	}
	if len(c.Keypad.Keys) != len(c.Keypad.Rows) {
		errs = append(errs, fmt.Errorf("keypad: %d key rows for %d row pins", len(c.Keypad.Keys), len(c.Keypad.Rows)))
	}
	for i, row := range c.Keypad.Keys {
		if len(row) != len(c.Keypad.Cols) {
			errs = append(errs, fmt.Errorf("keypad: key row %d has %d labels for %d col pins", i, len(row), len(c.Keypad.Cols)))
		}
	}
	durations := map[string]time.Duration{
		"handset.scan_interval":    c.Handset.ScanInterval,
		"handset.debounce":         c.Handset.Debounce,
		"keypad.scan_interval":     c.Keypad.ScanInterval,
		"keypad.debounce":          c.Keypad.Debounce,
		"playback.terminate_grace": c.Playback.TerminateGrace,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Playback.Repeat < 1 {
		errs = append(errs, fmt.Errorf("playback.repeat must be at least 1, got %d", c.Playback.Repeat))
	}
	if c.Playback.Player == "" {
		errs = append(errs, errors.New("playback.player must be set"))
	}
	if c.Hub.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("hub.queue_size must be at least 1, got %d", c.Hub.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
