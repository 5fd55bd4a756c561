package mqtt

import (
	"fmt"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"iot-containment-service/pkg/common"
)

const defaultTokenTimeout = 10 * time.Second

// Handler receives one inbound message for a subscribed topic pattern. It
// is an alias so the gateway satisfies the core's transport interface.
type Handler = func(topic string, payload []byte)

// Options carries the broker connection settings. They are passed in at
// construction; the gateway holds no process-wide configuration state.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ReconnectDelay time.Duration
	QoS            byte
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "containment_backend"
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	return o
}

// pahoClient is the slice of paho.Client the gateway uses. It exists so
// tests can substitute a fake broker client.
type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	IsConnected() bool
}

// Gateway owns the single logical MQTT connection and the topic-pattern
// handler registry. At most one handler is active per pattern; subscribing
// an already-registered pattern replaces the prior handler.
type Gateway struct {
	mu       sync.RWMutex
	opts     Options
	client   pahoClient
	handlers map[string]Handler

	// replaced in tests to inject a fake client
	newClient func(*paho.ClientOptions) pahoClient

	logger *zap.Logger
}

func NewGateway(opts Options) *Gateway {
	return &Gateway{
		opts:     opts.withDefaults(),
		handlers: make(map[string]Handler),
		newClient: func(o *paho.ClientOptions) pahoClient {
			return paho.NewClient(o)
		},
		logger: common.GetLoggerWith(common.LoggerNameMqttGateway),
	}
}

func (g *Gateway) clientOptions() *paho.ClientOptions {
	o := paho.NewClientOptions()
	o.AddBroker(g.opts.BrokerURL)
	o.SetClientID(fmt.Sprintf("%s_%.8s", g.opts.ClientID, uuid.NewString()))
	if g.opts.Username != "" {
		o.SetUsername(g.opts.Username)
		o.SetPassword(g.opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetMaxReconnectInterval(g.opts.ReconnectDelay)
	o.SetCleanSession(true)
	o.SetOnConnectHandler(func(paho.Client) {
		g.logger.Info("MQTT connected", zap.String("broker", g.opts.BrokerURL))
		g.resubscribeAll()
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		g.logger.Warn("MQTT connection lost", zap.Error(err))
	})
	return o
}

// Connect establishes the broker connection. Calling Connect on an already
// connected gateway is a no-op.
func (g *Gateway) Connect() error {
	g.mu.Lock()
	if g.client != nil && g.client.IsConnected() {
		g.mu.Unlock()
		return nil
	}
	client := g.newClient(g.clientOptions())
	g.client = client
	g.mu.Unlock()

	if err := waitToken(client.Connect()); err != nil {
		return common.NewTransportError("connect", err)
	}
	return nil
}

func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Disconnect(250)
	g.logger.Info("MQTT disconnected")
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client != nil && g.client.IsConnected()
}

// Publish sends one message. It fails fast with a TransportError while the
// connection is down instead of queuing.
func (g *Gateway) Publish(topic string, payload []byte) error {
	g.mu.RLock()
	client := g.client
	qos := g.opts.QoS
	g.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return common.NewTransportError("publish", fmt.Errorf("not connected"))
	}

	if err := waitToken(client.Publish(topic, qos, false, payload)); err != nil {
		return common.NewTransportError("publish", err)
	}

	g.logger.Info("Published message", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Subscribe registers handler for pattern. A second Subscribe on the same
// pattern replaces the previous handler without creating a second broker
// subscription.
func (g *Gateway) Subscribe(pattern string, handler Handler) error {
	g.mu.Lock()
	client := g.client
	qos := g.opts.QoS
	_, replacing := g.handlers[pattern]
	g.handlers[pattern] = handler
	g.mu.Unlock()

	if client == nil || !client.IsConnected() {
		g.mu.Lock()
		if !replacing {
			delete(g.handlers, pattern)
		}
		g.mu.Unlock()
		return common.NewTransportError("subscribe", fmt.Errorf("not connected"))
	}

	if replacing {
		g.logger.Info("Replaced handler for pattern", zap.String("pattern", pattern))
		return nil
	}

	if err := waitToken(client.Subscribe(pattern, qos, g.onMessage)); err != nil {
		g.mu.Lock()
		delete(g.handlers, pattern)
		g.mu.Unlock()
		return common.NewTransportError("subscribe", err)
	}

	g.logger.Info("Subscribed to pattern", zap.String("pattern", pattern))
	return nil
}

func (g *Gateway) Unsubscribe(pattern string) error {
	g.mu.Lock()
	client := g.client
	delete(g.handlers, pattern)
	g.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return common.NewTransportError("unsubscribe", fmt.Errorf("not connected"))
	}

	if err := waitToken(client.Unsubscribe(pattern)); err != nil {
		return common.NewTransportError("unsubscribe", err)
	}

	g.logger.Info("Unsubscribed from pattern", zap.String("pattern", pattern))
	return nil
}

// Reconfigure tears down the current connection, reconnects with the new
// options and re-applies every registered subscription.
func (g *Gateway) Reconfigure(opts Options) error {
	if err := g.Disconnect(); err != nil {
		return err
	}

	g.mu.Lock()
	g.opts = opts.withDefaults()
	g.mu.Unlock()

	if err := g.Connect(); err != nil {
		return err
	}

	g.resubscribeAll()
	return nil
}

func (g *Gateway) resubscribeAll() {
	g.mu.RLock()
	client := g.client
	qos := g.opts.QoS
	patterns := make([]string, 0, len(g.handlers))
	for pattern := range g.handlers {
		patterns = append(patterns, pattern)
	}
	g.mu.RUnlock()

	if client == nil {
		return
	}

	for _, pattern := range patterns {
		if err := waitToken(client.Subscribe(pattern, qos, g.onMessage)); err != nil {
			g.logger.Error("Failed to resubscribe", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		g.logger.Info("Resubscribed to pattern", zap.String("pattern", pattern))
	}
}

func (g *Gateway) onMessage(_ paho.Client, msg paho.Message) {
	g.Route(msg.Topic(), msg.Payload())
}

// Route hands the message to exactly one registered handler. An exact
// pattern match wins over wildcard matches; among wildcard matches the
// lexicographically smallest pattern wins, so delivery is deterministic
// when patterns overlap. Unmatched topics are dropped with a warning.
func (g *Gateway) Route(topic string, payload []byte) {
	g.mu.RLock()
	handler, ok := g.handlers[topic]
	if !ok {
		patterns := make([]string, 0, len(g.handlers))
		for pattern := range g.handlers {
			if TopicMatches(pattern, topic) {
				patterns = append(patterns, pattern)
			}
		}
		sort.Strings(patterns)
		if len(patterns) > 0 {
			handler = g.handlers[patterns[0]]
			ok = true
		}
	}
	g.mu.RUnlock()

	if !ok {
		g.logger.Warn("Dropping message for unmatched topic", zap.String("topic", topic))
		return
	}

	handler(topic, payload)
}

func waitToken(token paho.Token) error {
	if !token.WaitTimeout(defaultTokenTimeout) {
		return fmt.Errorf("timed out waiting for broker")
	}
	return token.Error()
}
