package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/waiter-call/models"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements only what the mirror uses.
type fakeClient struct {
	mqtt.Client
	connected bool
	token     mqtt.Token

	mu   sync.Mutex
	sent []published
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.connected = false }

func TestMQTTMirrorPublishesRetained(t *testing.T) {
	client := &fakeClient{connected: true, token: completedToken(nil)}
	mirror := newMQTTMirror(client, "waitercall")

	evt := CallEvent(EventCallCompleted, testCall(models.CallStatusCompleted, models.UrgencyNormal), testTable(), "Ana", testNow)
	require.NoError(t, mirror.Write(context.Background(), evt))

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, "waitercall/businesses/1/calls/7", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "completed", decoded.State)

	mirror.Close()
	assert.False(t, client.connected)
}

func TestMQTTMirrorErrors(t *testing.T) {
	evt := createdEvent()

	disconnected := newMQTTMirror(&fakeClient{}, "")
	assert.Error(t, disconnected.Write(context.Background(), evt))

	rejected := newMQTTMirror(&fakeClient{connected: true, token: completedToken(errors.New("not authorized"))}, "")
	err := rejected.Write(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")

	// a token that never completes is bounded by the context
	stuck := newMQTTMirror(&fakeClient{connected: true, token: &fakeToken{done: make(chan struct{})}}, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, stuck.Write(ctx, evt), context.DeadlineExceeded)
}

func TestMQTTTopicWithoutPrefix(t *testing.T) {
	mirror := newMQTTMirror(&fakeClient{}, "")
	assert.Equal(t, "businesses/1/tables/11", mirror.Topic(AssignmentEvent(EventTableAssigned, testTable(), 3, "Ana", testNow)))
}
