package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/formcheck/internal/session"
)

// MQTT defaults.
const (
	DefaultMQTTTopic      = "formcheck/sessions"
	DefaultMQTTClientID   = "formcheck"
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// MQTTConfig configures an MQTTPublisher.
type MQTTConfig struct {
	// Broker is host:port or a full URL such as tcp://host:1883.
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTPublisher publishes summaries to an MQTT topic. The subject id is appended
// to the configured topic.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTPublisher creates an unconnected publisher.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultMQTTTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultMQTTClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &MQTTPublisher{cfg: cfg}
}

// Connect establishes the broker connection. The client reconnects on its own
// after a connection loss.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	broker := p.cfg.Broker
	if broker == "" {
		return fmt.Errorf("mqtt broker not configured")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		log.Printf("MQTT connected to %s", broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		log.Printf("MQTT connection lost: %v", err)
	}

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	if err := wait(ctx, token, p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", broker, err)
	}

	p.setConnected(true)
	return nil
}

// Deliver publishes the summary's payload.
func (p *MQTTPublisher) Deliver(ctx context.Context, s *session.Summary) error {
	if !p.isConnected() {
		p.countError()
		return &Error{Err: fmt.Errorf("mqtt not connected")}
	}

	payload, err := json.Marshal(NewPayload(s))
	if err != nil {
		p.countError()
		return &Error{Err: fmt.Errorf("encode payload: %w", err)}
	}

	topic := p.Topic(s.SubjectID)
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if err := wait(ctx, token, p.cfg.PublishTimeout); err != nil {
		p.countError()
		return &Error{Err: fmt.Errorf("publish %s: %w", topic, err)}
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// Topic returns the topic a subject's summaries are published to.
func (p *MQTTPublisher) Topic(subjectID string) string {
	if subjectID == "" {
		return p.cfg.Topic
	}
	return p.cfg.Topic + "/" + subjectID
}

// Stats returns the number of published summaries and failed deliveries.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	return nil
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// wait blocks until token completes, ctx is done or timeout elapses.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", timeout)
	}
}
