// Command bark-door drives a motorized sliding pet door and notifies when the
// dog is waiting outside a closed door.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/bark-door/internal/config"
	"github.com/sweeney/bark-door/internal/door"
	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/mqtt"
	"github.com/sweeney/bark-door/internal/notify"
	"github.com/sweeney/bark-door/internal/presence"
	"github.com/sweeney/bark-door/internal/status"
	"github.com/sweeney/bark-door/internal/web"
)

const shutdownTimeout = 5 * time.Second

// options are the command line flags.
type options struct {
	configPath     string
	configRequired bool
	logLevel       int
	heartbeat      time.Duration
	heartbeatSet   bool
	httpAddr       string
	httpSet        bool
	broker         string
	brokerSet      bool
	printState     bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "bark-door.yaml", "YAML configuration file")
	flag.IntVar(&o.logLevel, "log", int(logger.LogLevelInfo), "Log level (0=none 1=error 2=warning 3=info 4=debug)")
	flag.DurationVar(&o.heartbeat, "heartbeat", 0, "Heartbeat interval, overrides config (0 to disable)")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP listen address, overrides config (empty to disable)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address, overrides config (empty to disable)")
	flag.BoolVar(&o.printState, "print-state", false, "Print current door distance and exit")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			o.configRequired = true
		case "heartbeat":
			o.heartbeatSet = true
		case "http":
			o.httpSet = true
		case "broker":
			o.brokerSet = true
		}
	})

	l := newLogger(logger.LogLevel(o.logLevel))
	if err := run(o, l); err != nil {
		l.Fatalf("fatal: %v", err)
	}
}

// newLogger drops timestamps under systemd, which adds its own.
func newLogger(level logger.LogLevel) *logger.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.Lmsgprefix
	if os.Getenv("INVOCATION_ID") != "" {
		flags = 0
	}
	return logger.NewLogger(log.New(os.Stdout, "", flags), level)
}

func loadConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath, o.configRequired)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if o.heartbeatSet {
		cfg.HeartbeatMinutes = o.heartbeat.Minutes()
	}
	if o.httpSet {
		cfg.HTTPAddr = o.httpAddr
	}
	if o.brokerSet {
		cfg.MQTT.Broker = o.broker
	}
	return cfg, cfg.Validate()
}

func run(o options, l *logger.Logger) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hw, err := openHardware(cfg, l.WithTag("hw"))
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			l.Warnf("closing hardware: %v", err)
		}
	}()

	if o.printState {
		return printState(hw, cfg)
	}

	ctrl, err := door.NewController(cfg.DoorConfig(), hw.relays, hw.sensor, l.WithTag("door"))
	if err != nil {
		return fmt.Errorf("init door: %w", err)
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if mm, err := hw.sensor.Read(); err == nil {
		tracker.SetDistance(mm)
	} else {
		l.Warnf("initial distance read failed: %v", err)
	}

	// MQTT
	var publisher mqtt.Publisher = mqtt.Disabled{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.Disabled{}
	var realMQTT *mqtt.RealPublisher
	if cfg.MQTT.Broker != "" {
		realMQTT, err = mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Prefix:     cfg.MQTT.Prefix,
			BufferSize: cfg.MQTT.BufferSize,
			CACert:     cfg.MQTT.CACert,
			ClientCert: cfg.MQTT.ClientCert,
			ClientKey:  cfg.MQTT.ClientKey,
			Log:        l.WithTag("mqtt"),
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		if cfg.MQTT.SubscribeCommands {
			if err := realMQTT.SubscribeCommands(func(cmd door.Command) {
				submit(ctrl, cmd, "mqtt", l)
			}); err != nil {
				l.Warnf("subscribe commands: %v", err)
			}
		}
		realMQTT.Connect()
		publisher, mqttStatus = realMQTT, realMQTT
	} else {
		l.Infof("no MQTT broker configured; MQTT disabled")
	}

	// Notifications
	sinks, err := buildSinks(cfg, realMQTT)
	if err != nil {
		return err
	}
	if sinks.Len() == 0 {
		l.Warnf("no notification sinks configured; motion will only be logged")
	}
	changed := make(chan struct{}, 1)
	notifier := presence.New(ctrl, sinks, presence.Config{
		Cooldown:    cfg.Cooldown(),
		SendTimeout: cfg.NotifyTimeout(),
		Message:     cfg.NotifyMessage,
		OnChange: func(stats presence.Stats) {
			tracker.SetNotifications(stats)
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	}, l.WithTag("presence"))
	hw.motion.Subscribe(func(at time.Time) {
		notifier.OnMotion(at)
	})
	if hw.motion.MinInterval() == 0 {
		l.Infof("motion source has no debounce; relying on %v cooldown", cfg.Cooldown())
	}

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		l.Warnf("failed to publish startup event: %v", err)
	}

	var bc broadcaster = nopBroadcaster{}
	var srv *web.Server
	if cfg.HTTPAddr != "" {
		srv = web.New(cfg.HTTPAddr, tracker, ctrl, l.WithTag("web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Errorf("http server error: %v", err)
			}
		}()
		bc = srv
		l.Infof("http server listening on %s", cfg.HTTPAddr)
	}

	l.Infof("started: sensor=%s close_door_mm=%d open=%v policy=%s broker=%q heartbeat=%v",
		cfg.Sensor.Type, cfg.CloseDoorMM, cfg.DoorConfig().OpenDuration, cfg.OpenPolicy, cfg.MQTT.Broker, cfg.Heartbeat())

	var heartbeat <-chan time.Time
	if hb := cfg.Heartbeat(); hb > 0 {
		ticker := time.NewTicker(hb)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	if hw.trigger != nil {
		stopSim := simulateMotion(hw.trigger)
		defer stopSim()
	}

	runLoop(ctrl.Events(), publisher, mqttStatus, tracker, bc, changed, l, time.Now, heartbeat, sigCh)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		l.Warnf("door shutdown: %v", err)
	}
	notifier.Close()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			l.Warnf("http shutdown: %v", err)
		}
	}
	if err := publisher.Close(); err != nil {
		l.Warnf("mqtt close: %v", err)
	}
	return nil
}

// submit forwards a command from a transport that has no caller to answer.
func submit(ctrl *door.Controller, cmd door.Command, source string, l *logger.Logger) {
	res, err := ctrl.Submit(cmd)
	if err != nil {
		l.Warnf("%s command %s: %v", source, cmd, err)
		return
	}
	l.Infof("%s command %s: %s", source, cmd, res.Outcome)
}

func buildSinks(cfg config.Config, mq *mqtt.RealPublisher) (*notify.Multi, error) {
	var sinks []notify.Sink
	if cfg.NotifyURL != "" {
		wh, err := notify.NewWebhook(cfg.NotifyURL, cfg.NotifyTimeout())
		if err != nil {
			return nil, fmt.Errorf("init webhook: %w", err)
		}
		sinks = append(sinks, wh)
	}
	if cfg.MQTT.Notify && mq != nil {
		sinks = append(sinks, mq)
	}
	return notify.NewMulti(sinks...), nil
}

func printState(hw *hardware, cfg config.Config) error {
	mm, err := hw.sensor.Read()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	closed := "OPEN"
	if mm <= cfg.CloseDoorMM {
		closed = "CLOSED"
	}
	fmt.Printf("distance: %dmm, door: %s\n", mm, closed)
	return nil
}

// simulateMotion turns SIGUSR1 into motion edges.
func simulateMotion(trigger func(time.Time)) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				trigger(time.Now())
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func statusConfig(cfg config.Config) status.Config {
	dc := cfg.DoorConfig()
	return status.Config{
		ClosedThresholdMM: dc.ClosedThresholdMM,
		CloseMarginMM:     dc.CloseMarginMM,
		OpenMs:            dc.OpenDuration.Milliseconds(),
		CloseTimeoutMs:    dc.CloseTimeout.Milliseconds(),
		PollMs:            dc.PollInterval.Milliseconds(),
		CooldownMs:        cfg.Cooldown().Milliseconds(),
		HeartbeatMs:       cfg.Heartbeat().Milliseconds(),
		OpenPolicy:        cfg.OpenPolicy,
		SensorType:        cfg.Sensor.Type,
		PinOpen:           cfg.OpenPin,
		PinClose:          cfg.ClosePin,
		PinPIR:            cfg.PIRPin,
		Broker:            cfg.MQTT.Broker,
		HTTPAddr:          cfg.HTTPAddr,
	}
}

// broadcaster pushes status snapshots to live clients.
type broadcaster interface {
	Broadcast(snap status.Snapshot)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(status.Snapshot) {}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func runLoop(events <-chan door.Transition, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, bc broadcaster, changed <-chan struct{}, l *logger.Logger, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal) {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			l.Infof("received %v, shutting down", s)
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     name,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", name),
			}
			if err := publisher.PublishSystem(event); err != nil {
				l.Warnf("failed to publish shutdown event: %v", err)
			} else {
				l.Infof("published shutdown event")
			}
			return

		case t, ok := <-events:
			if !ok {
				return
			}
			if t.Err != nil {
				l.Warnf("door %s -> %s (%s): %v", t.From, t.To, t.Command, t.Err)
			} else {
				l.Infof("door %s -> %s (%s)", t.From, t.To, t.Command)
			}
			tracker.ApplyTransition(t)
			if err := publisher.PublishDoor(t); err != nil {
				l.Warnf("publish error: %v", err)
			}
			bc.Broadcast(tracker.Snapshot())

		case <-changed:
			bc.Broadcast(tracker.Snapshot())

		case <-heartbeat:
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
			snap := tracker.Snapshot()
			l.Debugf("heartbeat: uptime=%v opens=%d closes=%d stops=%d faults=%d",
				snap.Uptime(), snap.Counts.Opens, snap.Counts.Closes, snap.Counts.Stops, snap.Counts.Faults)
			if err := publisher.PublishSystem(mqtt.SystemEvent{
				Timestamp:  snap.Now,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}); err != nil {
				l.Warnf("heartbeat publish error: %v", err)
			}
		}
	}
}
