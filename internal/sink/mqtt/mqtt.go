// Package mqtt provides a sink that publishes every sample as a JSON message
// to an MQTT broker. The broker keeps no rotating target, so Initialize only
// establishes the connection.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sample"
	"tempwatchdog/internal/sink"
)

const (
	name = "mqtt"

	// DefaultClientID is used when Options.ClientID is empty.
	DefaultClientID = "tempwatchdog"

	defaultTimeout = 10 * time.Second
)

// Client is the subset of paho.Client the sink uses.
type Client interface {
	Connect() paho.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

var _ Client = paho.Client(nil)

// Options configures an MQTT sink.
type Options struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool

	// Timeout bounds connect and each publish. Default 10s.
	Timeout time.Duration

	// NewClient overrides client construction. Defaults to paho.NewClient.
	NewClient func(*paho.ClientOptions) Client

	Logger *slog.Logger
}

// Payload is the JSON message published per sample.
type Payload struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Sink publishes samples to a broker topic.
type Sink struct {
	opts    Options
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	client Client
}

var (
	_ sink.Sink = (*Sink)(nil)
	_ io.Closer = (*Sink)(nil)
)

// New validates options. It does not connect.
func New(opts Options) (*Sink, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqtt: topic is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", opts.QoS)
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.NewClient == nil {
		opts.NewClient = func(o *paho.ClientOptions) Client { return paho.NewClient(o) }
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sink{
		opts:    opts,
		timeout: timeout,
		logger:  logging.Default(opts.Logger).With("component", "sink", "sink", name),
	}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return name }

// Initialize connects to the broker. Once connected, further calls are
// no-ops; paho reconnects on its own after that.
func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	o := paho.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetConnectTimeout(s.timeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.Warn("connection lost", "broker", s.opts.Broker, "error", err)
		})
	if s.opts.Username != "" {
		o.SetUsername(s.opts.Username)
		o.SetPassword(s.opts.Password)
	}

	client := s.opts.NewClient(o)
	if err := wait(ctx, client.Connect(), s.timeout); err != nil {
		// Stop a connect attempt that is still in progress.
		client.Disconnect(0)
		return &sink.InitError{Sink: name, Err: fmt.Errorf("connect %s: %w", s.opts.Broker, err)}
	}
	s.client = client
	s.logger.Info("connected", "broker", s.opts.Broker, "topic", s.opts.Topic)
	return nil
}

// Record publishes one JSON message for the sample.
func (s *Sink) Record(ctx context.Context, smp sample.Sample) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.New("mqtt: record before initialize")
	}

	payload, err := json.Marshal(Payload{
		Timestamp:   smp.FormatTimestamp(),
		Temperature: smp.Temperature,
		Humidity:    smp.Humidity,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := wait(ctx, client.Publish(s.opts.Topic, s.opts.QoS, s.opts.Retain, payload), s.timeout); err != nil {
		return fmt.Errorf("publish to %s: %w", s.opts.Topic, err)
	}
	return nil
}

// Close disconnects, allowing in-flight messages a short grace period.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

// wait blocks until the token completes, the timeout elapses, or ctx ends.
func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
