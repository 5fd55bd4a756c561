package mqtt

import (
	"fmt"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-containment-service/pkg/common"
	_ "iot-containment-service/pkg/testing"
)

// fakeToken is a paho.Token that resolves immediately.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// fakeBrokerClient records calls instead of talking to a broker.
type fakeBrokerClient struct {
	mu            sync.Mutex
	connected     bool
	published     []struct{ topic, payload string }
	subscriptions []string
	unsubscribed  []string
	subscribeErr  error
	publishErr    error
}

func (c *fakeBrokerClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return &fakeToken{}
}

func (c *fakeBrokerClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeBrokerClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.published = append(c.published, struct{ topic, payload string }{topic, string(payload.([]byte))})
	return &fakeToken{}
}

func (c *fakeBrokerClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return &fakeToken{err: c.subscribeErr}
	}
	c.subscriptions = append(c.subscriptions, topic)
	return &fakeToken{}
}

func (c *fakeBrokerClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &fakeToken{}
}

func (c *fakeBrokerClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeBrokerClient) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

func newTestGateway() (*Gateway, *fakeBrokerClient) {
	common.SetTestLoggerNop()
	fake := &fakeBrokerClient{}
	g := NewGateway(Options{BrokerURL: "tcp://localhost:1883"})
	g.newClient = func(*paho.ClientOptions) pahoClient { return fake }
	return g, fake
}

func TestGatewayConnectIsIdempotent(t *testing.T) {
	g, fake := newTestGateway()

	require.NoError(t, g.Connect())
	assert.True(t, g.IsConnected())

	require.NoError(t, g.Connect())
	assert.True(t, fake.IsConnected())
}

func TestGatewayPublishFailsFastWhenDisconnected(t *testing.T) {
	g, _ := newTestGateway()

	err := g.Publish("IOT/Containment/Control", []byte(`{"command":"Open front door"}`))
	assert.ErrorIs(t, err, common.ErrTransport)
}

func TestGatewayPublish(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())

	require.NoError(t, g.Publish("IOT/Containment/Control", []byte(`{"command":"Open ceiling"}`)))
	require.Len(t, fake.published, 1)
	assert.Equal(t, "IOT/Containment/Control", fake.published[0].topic)
	assert.Contains(t, fake.published[0].payload, "Open ceiling")
}

func TestGatewayPublishBrokerError(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())
	fake.publishErr = fmt.Errorf("broker says no")

	err := g.Publish("IOT/Containment/Control", []byte(`{}`))
	assert.ErrorIs(t, err, common.ErrTransport)
}

func TestGatewaySubscribeAndRoute(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())

	var gotTopic string
	var gotPayload []byte
	require.NoError(t, g.Subscribe("IOT/Containment/+/Status", func(topic string, payload []byte) {
		gotTopic = topic
		gotPayload = payload
	}))
	assert.Equal(t, 1, fake.subscribeCount())

	g.Route("IOT/Containment/7/Status", []byte(`{"Lighting status": true}`))
	assert.Equal(t, "IOT/Containment/7/Status", gotTopic)
	assert.NotEmpty(t, gotPayload)
}

func TestGatewayRouteExactMatchBeatsWildcard(t *testing.T) {
	g, _ := newTestGateway()
	require.NoError(t, g.Connect())

	var got string
	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) { got = "wildcard" }))
	require.NoError(t, g.Subscribe("sensors/device/x", func(string, []byte) { got = "exact" }))

	g.Route("sensors/device/x", []byte(`{}`))
	assert.Equal(t, "exact", got)

	g.Route("sensors/device/y", []byte(`{}`))
	assert.Equal(t, "wildcard", got)
}

func TestGatewayRouteOverlappingWildcardsDeterministic(t *testing.T) {
	g, _ := newTestGateway()
	require.NoError(t, g.Connect())

	var got string
	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) { got = "multi" }))
	require.NoError(t, g.Subscribe("sensors/+/data", func(string, []byte) { got = "single" }))

	// both patterns match; the lexicographically smaller one wins,
	// and "sensors/#" sorts before "sensors/+/data"
	g.Route("sensors/abc/data", []byte(`{}`))
	assert.Equal(t, "multi", got)
}

func TestGatewayRouteUnmatchedTopicDropped(t *testing.T) {
	g, _ := newTestGateway()
	require.NoError(t, g.Connect())

	called := false
	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) { called = true }))

	g.Route("actuators/1", []byte(`{}`))
	assert.False(t, called)
}

func TestGatewaySubscribeReplaceSkipsBroker(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())

	var got string
	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) { got = "old" }))
	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) { got = "new" }))

	// a replace must not create a second broker subscription
	assert.Equal(t, 1, fake.subscribeCount())

	g.Route("sensors/a", []byte(`{}`))
	assert.Equal(t, "new", got)
}

func TestGatewaySubscribeWhileDisconnected(t *testing.T) {
	g, _ := newTestGateway()

	err := g.Subscribe("sensors/#", func(string, []byte) {})
	assert.ErrorIs(t, err, common.ErrTransport)

	// nothing registered after the failure
	called := false
	require.NoError(t, g.Connect())
	g.Route("sensors/a", []byte(`{}`))
	assert.False(t, called)
}

func TestGatewaySubscribeBrokerFailureRollsBack(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())
	fake.subscribeErr = fmt.Errorf("subscribe refused")

	err := g.Subscribe("sensors/#", func(string, []byte) {})
	assert.ErrorIs(t, err, common.ErrTransport)

	fake.subscribeErr = nil
	called := false
	g.Route("sensors/a", []byte(`{}`))
	assert.False(t, called)
}

func TestGatewayUnsubscribe(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())

	called := false
	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) { called = true }))
	require.NoError(t, g.Unsubscribe("sensors/#"))
	assert.Contains(t, fake.unsubscribed, "sensors/#")

	g.Route("sensors/a", []byte(`{}`))
	assert.False(t, called)
}

func TestGatewayReconfigureResubscribes(t *testing.T) {
	g, fake := newTestGateway()
	require.NoError(t, g.Connect())

	require.NoError(t, g.Subscribe("sensors/#", func(string, []byte) {}))
	require.NoError(t, g.Subscribe("IOT/Containment/Status", func(string, []byte) {}))
	before := fake.subscribeCount()

	require.NoError(t, g.Reconfigure(Options{BrokerURL: "tcp://other-broker:1883"}))

	// both registered patterns were re-applied on the new connection
	assert.Equal(t, before+2, fake.subscribeCount())
	assert.True(t, g.IsConnected())
}

func TestGatewayDisconnectIdempotent(t *testing.T) {
	g, _ := newTestGateway()
	require.NoError(t, g.Connect())
	require.NoError(t, g.Disconnect())
	assert.False(t, g.IsConnected())
	require.NoError(t, g.Disconnect())
}
