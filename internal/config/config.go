// Package config loads daemon settings from YAML and environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/bark-door/internal/door"
	"github.com/sweeney/bark-door/internal/gpio"
)

// ErrConfig is wrapped by every configuration error.
var ErrConfig = errors.New("config")

// Sensor types.
const (
	SensorVL6180X = "vl6180x"
	SensorSerial  = "serial"
	SensorSim     = "sim"
)

// Config is the daemon configuration.
type Config struct {
	// GPIO
	Chip           string `yaml:"gpio_chip"`
	OpenPin        int    `yaml:"open_pin"`
	ClosePin       int    `yaml:"close_pin"`
	PIRPin         int    `yaml:"pir_pin"`
	RelayActiveLow bool   `yaml:"relay_active_low"`

	// Door
	CloseDoorMM         uint32  `yaml:"close_door_mm"`
	CloseMarginMM       uint32  `yaml:"close_margin_mm"`
	SecondsToOpenDoor   float64 `yaml:"seconds_to_open_door"`
	CloseTimeoutSeconds float64 `yaml:"close_timeout_seconds"`
	PollMs              int     `yaml:"poll_ms"`
	OpenPolicy          string  `yaml:"open_policy"`

	// Motion and notifications
	MinsBetweenDetectingMotion float64 `yaml:"mins_between_detecting_motion"`
	MotionDebounceMs           int     `yaml:"motion_debounce_ms"`
	NotifyURL                  string  `yaml:"notify_url"`
	NotifyMessage              string  `yaml:"notify_message"`
	NotifyTimeoutSeconds       float64 `yaml:"notify_timeout_seconds"`

	Sensor SensorConfig `yaml:"sensor"`
	MQTT   MQTTConfig   `yaml:"mqtt"`

	HTTPAddr         string  `yaml:"http_addr"`
	HeartbeatMinutes float64 `yaml:"heartbeat_minutes"`
}

// SensorConfig selects and configures the distance sensor.
type SensorConfig struct {
	Type         string `yaml:"type"`
	I2CBus       int    `yaml:"i2c_bus"`
	I2CAddress   int    `yaml:"i2c_address"`
	SerialDevice string `yaml:"serial_device"`
	SerialBaud   int    `yaml:"serial_baud"`
	SimStartMM   uint32 `yaml:"sim_start_mm"`
}

// MQTTConfig holds MQTT broker connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker            string `yaml:"broker"`
	ClientID          string `yaml:"client_id"`
	Prefix            string `yaml:"prefix"`
	CACert            string `yaml:"ca_cert"`
	ClientCert        string `yaml:"client_cert"`
	ClientKey         string `yaml:"client_key"`
	BufferSize        int    `yaml:"buffer_size"`
	SubscribeCommands bool   `yaml:"subscribe_commands"`
	Notify            bool   `yaml:"notify"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Chip:                       gpio.DefaultChip,
		OpenPin:                    gpio.DefaultPinOpen,
		ClosePin:                   gpio.DefaultPinClose,
		PIRPin:                     gpio.DefaultPinPIR,
		CloseDoorMM:                30,
		CloseMarginMM:              5,
		SecondsToOpenDoor:          10,
		CloseTimeoutSeconds:        30,
		PollMs:                     20,
		OpenPolicy:                 string(door.PolicyCloseFirst),
		MinsBetweenDetectingMotion: 1,
		MotionDebounceMs:           500,
		NotifyTimeoutSeconds:       10,
		Sensor: SensorConfig{
			Type:       SensorVL6180X,
			I2CBus:     1,
			I2CAddress: 0x29,
			SerialBaud: 115200,
			SimStartMM: 200,
		},
		MQTT: MQTTConfig{
			ClientID:   "bark-door",
			BufferSize: 100,
		},
		HTTPAddr:         ":8519",
		HeartbeatMinutes: 15,
	}
}

// Load reads path over the defaults. A missing file is not an error unless
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: open %s: %w", ErrConfig, path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: decode %s: %w", ErrConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment-style keys. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	intVar := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	uintVar := func(key string, dst *uint32) {
		if v, ok := lookup(key); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint32(n)
		}
	}
	floatVar := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	stringVar := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	intVar("open_pin", &c.OpenPin)
	intVar("close_pin", &c.ClosePin)
	intVar("pir_pin", &c.PIRPin)
	uintVar("close_door_mm", &c.CloseDoorMM)
	uintVar("close_margin_mm", &c.CloseMarginMM)
	floatVar("seconds_to_open_door", &c.SecondsToOpenDoor)
	floatVar("mins_between_detecting_motion", &c.MinsBetweenDetectingMotion)
	stringVar("notify_url", &c.NotifyURL)
	stringVar("mqtt_broker", &c.MQTT.Broker)
	stringVar("http_addr", &c.HTTPAddr)
	stringVar("sensor_type", &c.Sensor.Type)
	stringVar("open_policy", &c.OpenPolicy)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration. All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	pins := map[string]int{"open_pin": c.OpenPin, "close_pin": c.ClosePin, "pir_pin": c.PIRPin}
	seen := make(map[int]string)
	for _, name := range []string{"open_pin", "close_pin", "pir_pin"} {
		pin := pins[name]
		if pin < 0 {
			add("%s: must be non-negative, got %d", name, pin)
			continue
		}
		if other, dup := seen[pin]; dup {
			add("%s: pin %d already used by %s", name, pin, other)
			continue
		}
		seen[pin] = name
	}

	// NaN compares false against every bound, so check finiteness first.
	finite := func(name string, v float64) bool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			add("%s: must be a finite number, got %v", name, v)
			return false
		}
		return true
	}

	if finite("seconds_to_open_door", c.SecondsToOpenDoor) &&
		(c.SecondsToOpenDoor <= 0 || c.SecondsToOpenDoor > door.MaxOpenDuration.Seconds()) {
		add("seconds_to_open_door: must be in (0, 60], got %v", c.SecondsToOpenDoor)
	}
	if c.CloseDoorMM == 0 {
		add("close_door_mm: must be > 0")
	}
	closeTimeoutOK := finite("close_timeout_seconds", c.CloseTimeoutSeconds)
	if closeTimeoutOK && c.CloseTimeoutSeconds <= 0 {
		add("close_timeout_seconds: must be > 0, got %v", c.CloseTimeoutSeconds)
		closeTimeoutOK = false
	}
	if c.PollMs <= 0 {
		add("poll_ms: must be > 0, got %d", c.PollMs)
	} else if closeTimeoutOK && time.Duration(c.PollMs)*time.Millisecond >= seconds(c.CloseTimeoutSeconds) {
		add("poll_ms: must be less than the close timeout")
	}
	if finite("mins_between_detecting_motion", c.MinsBetweenDetectingMotion) && c.MinsBetweenDetectingMotion <= 0 {
		add("mins_between_detecting_motion: must be > 0, got %v", c.MinsBetweenDetectingMotion)
	}
	if c.MotionDebounceMs < 0 {
		add("motion_debounce_ms: must be >= 0, got %d", c.MotionDebounceMs)
	}
	if finite("heartbeat_minutes", c.HeartbeatMinutes) && c.HeartbeatMinutes < 0 {
		add("heartbeat_minutes: must be >= 0, got %v", c.HeartbeatMinutes)
	}
	if finite("notify_timeout_seconds", c.NotifyTimeoutSeconds) && c.NotifyTimeoutSeconds < 0 {
		add("notify_timeout_seconds: must be >= 0, got %v", c.NotifyTimeoutSeconds)
	}

	switch door.OpenPolicy(c.OpenPolicy) {
	case door.PolicyCloseFirst, door.PolicyDirect:
	default:
		add("open_policy: unknown policy %q", c.OpenPolicy)
	}

	switch c.Sensor.Type {
	case SensorVL6180X, SensorSim:
	case SensorSerial:
		if c.Sensor.SerialDevice == "" {
			add("sensor.serial_device: required for serial sensor")
		}
	default:
		add("sensor_type: unknown type %q", c.Sensor.Type)
	}

	if (c.MQTT.ClientCert == "") != (c.MQTT.ClientKey == "") {
		add("mqtt: client_cert and client_key must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// DoorConfig converts to the controller's configuration.
func (c Config) DoorConfig() door.Config {
	return door.Config{
		ClosedThresholdMM: c.CloseDoorMM,
		CloseMarginMM:     c.CloseMarginMM,
		OpenDuration:      seconds(c.SecondsToOpenDoor),
		CloseTimeout:      seconds(c.CloseTimeoutSeconds),
		PollInterval:      time.Duration(c.PollMs) * time.Millisecond,
		OpenPolicy:        door.OpenPolicy(c.OpenPolicy),
	}
}

// Cooldown is the minimum spacing between motion notifications.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.MinsBetweenDetectingMotion * float64(time.Minute))
}

// MotionDebounce is the hardware debounce period for the PIR input.
func (c Config) MotionDebounce() time.Duration {
	return time.Duration(c.MotionDebounceMs) * time.Millisecond
}

// NotifyTimeout bounds one notification attempt.
func (c Config) NotifyTimeout() time.Duration {
	return seconds(c.NotifyTimeoutSeconds)
}

// Heartbeat is the heartbeat interval; zero disables it.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMinutes * float64(time.Minute))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
