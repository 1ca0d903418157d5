package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

const (
	connectTimeout = 10 * time.Second
	bufferSize     = 64
)

// Options configures a Client.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics
	Logger   *slog.Logger
	// OnConnectionChange is called from paho's goroutines.
	OnConnectionChange func(connected bool)
}

// Client is a broker connection that serves as a device.Source (latest
// retained telemetry), a device.Dispatcher and a Publisher.
type Client struct {
	client paho.Client
	topics Topics
	logger *slog.Logger
	onConn func(bool)

	mu        sync.Mutex
	heartbeat int64
	sensors   *device.SensorReading
	status    *device.Status
	buf       *ringBuffer
}

// NewClient connects to the broker and subscribes to the board's telemetry.
// An unreachable broker is not fatal: paho keeps retrying in the background
// and events are buffered until it connects.
func NewClient(opts Options) (*Client, error) {
	if opts.Topics.Base == "" {
		opts.Topics.Base = DefaultTopicBase
	}
	if opts.ClientID == "" {
		opts.ClientID = "home-dashboard"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		topics: opts.Topics,
		logger: opts.Logger.With("component", "mqtt"),
		onConn: opts.OnConnectionChange,
		buf:    newRingBuffer(bufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(c.topics.System(), string(will), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.logger.Warn("broker not reachable yet, retrying in background", "broker", opts.Broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *Client) onConnect(cl paho.Client) {
	c.logger.Info("connected to broker")
	subs := map[string]paho.MessageHandler{
		c.topics.Heartbeat(): c.handleHeartbeat,
		c.topics.Sensors():   c.handleSensors,
		c.topics.Status():    c.handleStatus,
	}
	for topic, h := range subs {
		if tok := cl.Subscribe(topic, 1, h); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
			c.logger.Warn("subscribe failed", "topic", topic, "error", tok.Error())
		}
	}

	c.mu.Lock()
	pending := c.buf.drainAll()
	c.mu.Unlock()
	for _, m := range pending {
		if err := c.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			c.logger.Warn("replay buffered message failed", "topic", m.topic, "error", err)
		}
	}
	if len(pending) > 0 {
		c.logger.Info("replayed buffered messages", "count", len(pending))
	}

	if c.onConn != nil {
		c.onConn(true)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("connection to broker lost", "error", err)
	if c.onConn != nil {
		c.onConn(false)
	}
}

func (c *Client) handleHeartbeat(_ paho.Client, msg paho.Message) {
	ms, err := device.ParseHeartbeat(msg.Payload())
	if err != nil {
		c.logger.Debug("ignoring heartbeat", "error", err)
		return
	}
	c.mu.Lock()
	c.heartbeat = ms
	c.mu.Unlock()
}

func (c *Client) handleSensors(_ paho.Client, msg paho.Message) {
	var r device.SensorReading
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		c.logger.Debug("ignoring sensor payload", "error", err)
		return
	}
	r.FromFallback = false
	c.mu.Lock()
	c.sensors = &r
	c.mu.Unlock()
}

func (c *Client) handleStatus(_ paho.Client, msg paho.Message) {
	var s device.Status
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		c.logger.Debug("ignoring status payload", "error", err)
		return
	}
	c.mu.Lock()
	c.status = &s
	c.mu.Unlock()
}

// IsConnected implements ConnectionStatus.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// LastSeen implements device.Source: the last heartbeat, else the last
// sensor sample. While disconnected from the broker the answer is unknowable.
func (c *Client) LastSeen(_ context.Context) (int64, error) {
	if !c.IsConnected() {
		return 0, device.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var sensorTs int64
	if c.sensors != nil {
		sensorTs = c.sensors.Timestamp
	}
	return presence.LastSeen(c.heartbeat, sensorTs), nil
}

// Sensors implements device.Source.
func (c *Client) Sensors(_ context.Context) (*device.SensorReading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sensors == nil {
		return nil, nil
	}
	r := *c.sensors
	return &r, nil
}

// Status implements device.Source.
func (c *Client) Status(_ context.Context) (*device.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		return nil, nil
	}
	s := *c.status
	return &s, nil
}

// CommandPayload is the body published on a control topic.
type CommandPayload struct {
	ID    string         `json:"id"`
	Value map[string]any `json:"value"`
}

// Dispatch implements device.Dispatcher. MQTT has no reply channel, so a
// broker acknowledgement (QoS 1) is the success signal.
func (c *Client) Dispatch(ctx context.Context, cmd device.Command) (device.Ack, error) {
	if !c.IsConnected() {
		return device.Ack{}, device.ErrNotConnected
	}
	payload, err := json.Marshal(CommandPayload{ID: cmd.ID, Value: cmd.Body()})
	if err != nil {
		return device.Ack{}, fmt.Errorf("format command: %w", err)
	}
	if err := c.publishCtx(ctx, c.topics.Control(string(cmd.Kind)), 1, false, payload); err != nil {
		return device.Ack{}, err
	}
	return device.Ack{Success: true}, nil
}

// PublishPresence implements Publisher. Retained, so late subscribers see
// the current state. Buffered while disconnected.
func (c *Client) PublishPresence(event PresenceEvent) error {
	payload, err := FormatPresencePayload(event)
	if err != nil {
		return fmt.Errorf("format presence payload: %w", err)
	}
	return c.publishOrBuffer(c.topics.Presence(), 1, true, payload)
}

// PublishSystem implements Publisher.
func (c *Client) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publishOrBuffer(c.topics.System(), 1, event.Retained, payload)
}

func (c *Client) publishOrBuffer(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		c.mu.Lock()
		if c.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}) {
			c.logger.Warn("buffer full, dropping oldest", "capacity", bufferSize)
		}
		c.mu.Unlock()
		return nil
	}
	return c.publish(topic, qos, retained, payload)
}

func (c *Client) publish(topic string, qos byte, retained bool, payload []byte) error {
	return c.publishCtx(context.Background(), topic, qos, retained, payload)
}

func (c *Client) publishCtx(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(1000) // 1 second quiesce
	return nil
}
