package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/bark-door/internal/config"
	"github.com/sweeney/bark-door/internal/gpio"
	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/ranging"
	"github.com/sweeney/bark-door/internal/sim"
)

// hardware is the set of devices the daemon drives.
type hardware struct {
	relays gpio.Relays
	sensor ranging.Sensor
	motion gpio.MotionSensor

	// trigger fires a simulated motion edge. Nil on real hardware.
	trigger func(at time.Time)
}

// Close releases every device. The simulated door is both relays and sensor
// and is closed once.
func (h *hardware) Close() error {
	var errs []error
	if h.motion != nil {
		errs = append(errs, h.motion.Close())
	}
	if h.relays != nil {
		errs = append(errs, h.relays.Close())
	}
	if h.sensor != nil {
		if interface{}(h.sensor) != interface{}(h.relays) {
			errs = append(errs, h.sensor.Close())
		}
	}
	return errors.Join(errs...)
}

func openHardware(cfg config.Config, log *logger.Logger) (*hardware, error) {
	if cfg.Sensor.Type == config.SensorSim {
		d := sim.NewDoor(sim.Options{
			StartMM: cfg.Sensor.SimStartMM,
			MinMM:   cfg.CloseDoorMM / 2,
		})
		motion := gpio.NewFakeMotion(cfg.MotionDebounce())
		log.Infof("using simulated door at %dmm; send SIGUSR1 to simulate motion", cfg.Sensor.SimStartMM)
		return &hardware{relays: d, sensor: d, motion: motion, trigger: motion.Trigger}, nil
	}

	h := &hardware{}
	switch cfg.Sensor.Type {
	case config.SensorVL6180X:
		bus := fmt.Sprintf("/dev/i2c-%d", cfg.Sensor.I2CBus)
		s, err := ranging.NewVL6180X(bus, cfg.Sensor.I2CAddress)
		if err != nil {
			return nil, fmt.Errorf("init vl6180x on %s: %w", bus, err)
		}
		h.sensor = s
	case config.SensorSerial:
		s, err := ranging.NewSerial(cfg.Sensor.SerialDevice, cfg.Sensor.SerialBaud)
		if err != nil {
			return nil, fmt.Errorf("init serial sensor on %s: %w", cfg.Sensor.SerialDevice, err)
		}
		h.sensor = s
	default:
		return nil, fmt.Errorf("%w: unknown sensor type %q", config.ErrConfig, cfg.Sensor.Type)
	}

	relays, err := gpio.NewRealRelays(cfg.Chip, cfg.OpenPin, cfg.ClosePin, cfg.RelayActiveLow)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("init relays: %w", err)
	}
	h.relays = relays

	motion, err := gpio.NewRealMotion(cfg.Chip, cfg.PIRPin, cfg.MotionDebounce())
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("init motion sensor: %w", err)
	}
	h.motion = motion
	return h, nil
}
