package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/bark-door/internal/door"
	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/notify"
)

const publishTimeout = 5 * time.Second

// ErrNotConnected is returned for messages that cannot wait for a reconnect.
var ErrNotConnected = errors.New("mqtt: not connected")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Prefix     string
	BufferSize int

	// TLS material; any of these switches the connection to TLS.
	CACert     string
	ClientCert string
	ClientKey  string

	Log *logger.Logger
	Now func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Door and system messages
// published while disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	buf       *ringBuffer
	onCommand func(door.Command)
	connected bool // at least one connection has been made
}

// NewRealPublisher creates a publisher for the given broker. Call Connect to start.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "bark-door"
	}
	p := newPublisher(nil, o)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(p.handleConnectionLost)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}
	opts.SetBinaryWill(p.topics.System, will, 1, true)

	if o.CACert != "" || o.ClientCert != "" {
		tlsConfig, err := buildTLSConfig(o)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	paho.ERROR = pahoLogger{p.log, logger.LogLevelError}
	paho.CRITICAL = pahoLogger{p.log, logger.LogLevelError}
	paho.WARN = pahoLogger{p.log, logger.LogLevelWarning}

	p.client = paho.NewClient(opts)
	return p, nil
}

func newPublisher(client paho.Client, o Options) *RealPublisher {
	log := o.Log
	if log == nil {
		log = logger.Discard()
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	return &RealPublisher{
		client: client,
		topics: NewTopics(o.Prefix),
		log:    log,
		now:    now,
		buf:    newRingBuffer(o.BufferSize, log),
	}
}

func buildTLSConfig(o Options) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if o.CACert != "" {
		caCert, err := os.ReadFile(o.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", o.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if o.ClientCert != "" && o.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(o.ClientCert, o.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect starts connecting in the background. Paho retries until the broker
// is reachable; messages published meanwhile are buffered.
func (p *RealPublisher) Connect() {
	token := p.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Errorf("connect: %v", err)
		}
	}()
}

// Topics returns the topic set in use.
func (p *RealPublisher) Topics() Topics {
	return p.topics
}

func (p *RealPublisher) handleConnect(c paho.Client) {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	reconnect := p.connected
	p.connected = true
	subscribe := p.onCommand != nil
	p.mu.Unlock()

	p.log.Infof("connected")
	if subscribe {
		if err := p.subscribe(); err != nil {
			p.log.Warnf("%v", err)
		}
	}
	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"}); err != nil {
			p.log.Warnf("publish reconnected: %v", err)
		}
	}
	for _, m := range msgs {
		if err := p.send(m); err != nil {
			p.log.Warnf("replay to %s: %v", m.topic, err)
		}
	}
}

func (p *RealPublisher) handleConnectionLost(c paho.Client, err error) {
	p.log.Warnf("connection lost: %v", err)
}

// publish sends msg now or buffers it while disconnected.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		p.log.Debugf("buffered message for %s", msg.topic)
		return nil
	}
	if err := p.send(msg); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// PublishDoor sends a door transition. The latest transition is retained.
func (p *RealPublisher) PublishDoor(t door.Transition) error {
	payload, err := FormatDoorPayload(t)
	if err != nil {
		return fmt.Errorf("format door payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Door, payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// Send implements notify.Sink. Notifications are not buffered: a late alert
// is worse than none.
func (p *RealPublisher) Send(ctx context.Context, message string) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("%w: %w", notify.ErrSend, ErrNotConnected)
	}
	payload, err := FormatNotifyPayload(p.now(), message)
	if err != nil {
		return fmt.Errorf("%w: %w", notify.ErrSend, err)
	}
	token := p.client.Publish(p.topics.Notify, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", notify.ErrSend, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", notify.ErrSend, err)
	}
	return nil
}

// SubscribeCommands delivers valid commands from the command topic to handler.
// The subscription is renewed on every reconnect.
func (p *RealPublisher) SubscribeCommands(handler func(door.Command)) error {
	p.mu.Lock()
	p.onCommand = handler
	p.mu.Unlock()
	if !p.client.IsConnectionOpen() {
		return nil
	}
	return p.subscribe()
}

func (p *RealPublisher) subscribe() error {
	token := p.client.Subscribe(p.topics.Command, 1, p.handleCommand)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", p.topics.Command)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.topics.Command, err)
	}
	p.log.Infof("subscribed to %s", p.topics.Command)
	return nil
}

func (p *RealPublisher) handleCommand(c paho.Client, msg paho.Message) {
	cmd, err := ParseCommandPayload(msg.Payload())
	if err != nil {
		p.log.Warnf("ignoring command on %s: %v", msg.Topic(), err)
		return
	}
	p.mu.Lock()
	handler := p.onCommand
	p.mu.Unlock()
	if handler != nil {
		handler(cmd)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

// pahoLogger routes paho's internal logging through the tagged logger.
type pahoLogger struct {
	log   *logger.Logger
	level logger.LogLevel
}

func (l pahoLogger) Println(v ...interface{}) {
	l.Printf("%s", strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	if l.level == logger.LogLevelError {
		l.log.Errorf(format, v...)
		return
	}
	l.log.Warnf(format, v...)
}
