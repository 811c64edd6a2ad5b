package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/bark-door/internal/door"
	"github.com/sweeney/bark-door/internal/notify"
)

var ts = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)

func TestNewTopics(t *testing.T) {
	got := NewTopics("garden/back")
	want := Topics{
		Door:    "garden/back/door",
		System:  "garden/back/system",
		Notify:  "garden/back/notify",
		Command: "garden/back/command",
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if NewTopics("").Door != DefaultPrefix+"/door" {
		t.Errorf("empty prefix should use default, got %s", NewTopics("").Door)
	}
}

func TestFormatDoorPayloadExactJSON(t *testing.T) {
	payload, err := FormatDoorPayload(door.Transition{
		At:          ts,
		From:        door.StateClosing,
		To:          door.StateIdle,
		Command:     door.CommandClose,
		DistanceMM:  28,
		HasDistance: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"door":{"timestamp":"2026-02-10T08:30:00Z","from":"CLOSING","to":"IDLE","command":"CLOSE","distance_mm":28}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatDoorPayloadOmitsUnknownDistance(t *testing.T) {
	payload, _ := FormatDoorPayload(door.Transition{At: ts, From: door.StateIdle, To: door.StateOpening, Command: door.CommandOpen})
	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["door"]["distance_mm"]; ok {
		t.Error("distance_mm should be omitted when unknown")
	}
	if _, ok := parsed["door"]["error"]; ok {
		t.Error("error should be omitted when nil")
	}
}

func TestFormatDoorPayloadIncludesError(t *testing.T) {
	payload, _ := FormatDoorPayload(door.Transition{
		At:      ts,
		From:    door.StateClosing,
		To:      door.StateIdle,
		Command: door.CommandClose,
		Err:     door.ErrSensorTimeout,
	})
	var parsed DoorPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Door.Error != door.ErrSensorTimeout.Error() {
		t.Errorf("error: got %q", parsed.Door.Error)
	}
}

func TestFormatDoorPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("BST", 3600)
	payload, _ := FormatDoorPayload(door.Transition{At: time.Date(2026, 6, 1, 10, 0, 0, 0, loc)})
	var parsed DoorPayload
	json.Unmarshal(payload, &parsed)
	if parsed.Door.Timestamp != "2026-06-01T09:00:00Z" {
		t.Errorf("timestamp: got %s, want UTC", parsed.Door.Timestamp)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: ts,
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"OFFLINE","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "RECONNECTED"})
	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, _ := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}

func TestFormatNotifyPayload(t *testing.T) {
	payload, _ := FormatNotifyPayload(ts, "woof")
	expected := `{"notify":{"timestamp":"2026-02-10T08:30:00Z","message":"woof"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestParseCommandPayload(t *testing.T) {
	tests := []struct {
		in      string
		want    door.Command
		wantErr bool
	}{
		{`{"action":0}`, door.CommandClose, false},
		{`{"action":1}`, door.CommandOpen, false},
		{`{"action":2}`, door.CommandStop, false},
		{`{"action":3}`, 0, true},
		{`{}`, 0, true},
		{`not json`, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCommandPayload([]byte(tt.in))
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseCommandPayload([]byte(`{}`)); !errors.Is(err, door.ErrInvalidCommand) {
		t.Errorf("missing action: expected ErrInvalidCommand, got %v", err)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	tr := door.Transition{At: ts, From: door.StateIdle, To: door.StateClosing, Command: door.CommandClose}
	if err := f.PublishDoor(tr); err != nil {
		t.Fatalf("PublishDoor: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: ts, Event: "STARTUP"}); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}
	if err := f.Send(context.Background(), "woof"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(f.Transitions) != 1 || f.Transitions[0] != tr {
		t.Errorf("Transitions: got %+v", f.Transitions)
	}
	if len(f.Payloads) != 1 || len(f.SystemPayloads) != 1 {
		t.Errorf("payloads: got %d door, %d system", len(f.Payloads), len(f.SystemPayloads))
	}
	if len(f.Notifications) != 1 || f.Notifications[0] != "woof" {
		t.Errorf("Notifications: got %v", f.Notifications)
	}

	f.Reset()
	if len(f.Transitions) != 0 || len(f.SystemEvents) != 0 || len(f.Notifications) != 0 {
		t.Error("Reset should clear recorded events")
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("door fail")
	f.PublishSystemError = errors.New("system fail")
	f.SendError = errors.New("send fail")

	if err := f.PublishDoor(door.Transition{}); err != f.PublishError {
		t.Errorf("PublishDoor: got %v", err)
	}
	if err := f.PublishSystem(SystemEvent{}); err != f.PublishSystemError {
		t.Errorf("PublishSystem: got %v", err)
	}
	if err := f.Send(context.Background(), "x"); err != f.SendError {
		t.Errorf("Send: got %v", err)
	}
	if len(f.Transitions)+len(f.SystemEvents)+len(f.Notifications) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherDeliver(t *testing.T) {
	f := NewFakePublisher()
	var got []door.Command
	f.SubscribeCommands(func(c door.Command) { got = append(got, c) })

	if err := f.Deliver([]byte(`{"action":1}`)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := f.Deliver([]byte(`{"action":9}`)); err == nil {
		t.Error("expected error for invalid action")
	}
	if len(got) != 1 || got[0] != door.CommandOpen {
		t.Errorf("commands: got %v", got)
	}
}

// fakeToken is a completed paho token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type sentMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of paho.Client the publisher uses.
type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	open         bool
	publishErr   error
	sent         []sentMsg
	handlers     map[string]paho.MessageHandler
	disconnected bool
}

func newFakeClient(open bool) *fakeClient {
	return &fakeClient{open: open, handlers: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newToken(c.publishErr)
	}
	c.sent = append(c.sent, sentMsg{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return newToken(nil)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMsg, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func testPublisher(client *fakeClient) *RealPublisher {
	return newPublisher(client, Options{Prefix: "test", Now: func() time.Time { return ts }})
}

func TestRealPublisherPublishDoor(t *testing.T) {
	client := newFakeClient(true)
	p := testPublisher(client)

	if err := p.PublishDoor(door.Transition{At: ts, From: door.StateIdle, To: door.StateClosing}); err != nil {
		t.Fatalf("PublishDoor: %v", err)
	}
	msgs := client.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].topic != "test/door" || msgs[0].qos != 1 || !msgs[0].retained {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	client := newFakeClient(false)
	p := testPublisher(client)

	p.PublishDoor(door.Transition{At: ts, To: door.StateClosing})
	p.PublishSystem(SystemEvent{Timestamp: ts, Event: "HEARTBEAT"})
	if len(client.messages()) != 0 {
		t.Fatal("nothing should be sent while disconnected")
	}
	if p.buf.len() != 2 {
		t.Fatalf("buffer: got %d, want 2", p.buf.len())
	}

	client.setOpen(true)
	p.handleConnect(client)

	msgs := client.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(msgs))
	}
	if msgs[0].topic != "test/door" || msgs[1].topic != "test/system" {
		t.Errorf("replay order: got %s, %s", msgs[0].topic, msgs[1].topic)
	}
	if p.buf.len() != 0 {
		t.Error("buffer should be empty after replay")
	}
}

func TestRealPublisherPublishesReconnected(t *testing.T) {
	client := newFakeClient(true)
	p := testPublisher(client)

	p.handleConnect(client)
	if len(client.messages()) != 0 {
		t.Fatal("first connect should not publish RECONNECTED")
	}

	p.handleConnect(client)
	msgs := client.messages()
	if len(msgs) != 1 || msgs[0].topic != "test/system" {
		t.Fatalf("expected RECONNECTED on system topic, got %+v", msgs)
	}
	var parsed SystemPayload
	json.Unmarshal(msgs[0].payload, &parsed)
	if parsed.System.Event != "RECONNECTED" {
		t.Errorf("event: got %s", parsed.System.Event)
	}
}

func TestRealPublisherBuffersOnPublishError(t *testing.T) {
	client := newFakeClient(true)
	client.publishErr = errors.New("broken pipe")
	p := testPublisher(client)

	if err := p.PublishDoor(door.Transition{}); err == nil {
		t.Fatal("expected publish error")
	}
	if p.buf.len() != 1 {
		t.Errorf("failed message should be buffered, got %d", p.buf.len())
	}
}

func TestRealPublisherSend(t *testing.T) {
	client := newFakeClient(false)
	p := testPublisher(client)

	err := p.Send(context.Background(), "woof")
	if !errors.Is(err, notify.ErrSend) || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrSend and ErrNotConnected, got %v", err)
	}
	if p.buf.len() != 0 {
		t.Error("notifications must not be buffered")
	}

	client.setOpen(true)
	if err := p.Send(context.Background(), "woof"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := client.messages()
	if len(msgs) != 1 || msgs[0].topic != "test/notify" || msgs[0].retained {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	var parsed NotifyPayload
	json.Unmarshal(msgs[0].payload, &parsed)
	if parsed.Notify.Message != "woof" {
		t.Errorf("message: got %q", parsed.Notify.Message)
	}
}

func TestRealPublisherSubscribeCommands(t *testing.T) {
	client := newFakeClient(true)
	p := testPublisher(client)

	got := make(chan door.Command, 2)
	if err := p.SubscribeCommands(func(c door.Command) { got <- c }); err != nil {
		t.Fatalf("SubscribeCommands: %v", err)
	}
	handler, ok := client.handlers["test/command"]
	if !ok {
		t.Fatal("expected subscription to command topic")
	}

	handler(client, fakeMessage{topic: "test/command", payload: []byte(`{"action":7}`)})
	handler(client, fakeMessage{topic: "test/command", payload: []byte(`{"action":2}`)})

	select {
	case c := <-got:
		if c != door.CommandStop {
			t.Errorf("command: got %s, want STOP", c)
		}
	default:
		t.Fatal("valid command not delivered")
	}
	if len(got) != 0 {
		t.Error("invalid command should be dropped")
	}
}

func TestRealPublisherResubscribesOnConnect(t *testing.T) {
	client := newFakeClient(false)
	p := testPublisher(client)

	p.SubscribeCommands(func(door.Command) {})
	if len(client.handlers) != 0 {
		t.Fatal("should not subscribe while disconnected")
	}

	client.setOpen(true)
	p.handleConnect(client)
	if _, ok := client.handlers["test/command"]; !ok {
		t.Error("expected subscription after connect")
	}
}

func TestRealPublisherClose(t *testing.T) {
	client := newFakeClient(true)
	p := testPublisher(client)
	p.Close()
	if !client.disconnected {
		t.Error("Close should disconnect")
	}
	if !p.IsConnected() {
		t.Error("IsConnected should reflect the client")
	}
}

func TestBuildTLSConfigMissingFile(t *testing.T) {
	if _, err := buildTLSConfig(Options{CACert: "/nonexistent/ca.pem"}); err == nil {
		t.Error("expected error for missing CA file")
	}
}

func TestNewRealPublisherDoesNotConnect(t *testing.T) {
	p, err := NewRealPublisher(Options{Broker: "tcp://127.0.0.1:1", Prefix: "test"})
	if err != nil {
		t.Fatalf("NewRealPublisher: %v", err)
	}
	if p.IsConnected() {
		t.Error("should not be connected before Connect")
	}
	if p.Topics().Command != "test/command" {
		t.Errorf("command topic: got %s", p.Topics().Command)
	}
}
