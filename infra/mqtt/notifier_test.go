package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrelay/dispatch/core/match"
	"github.com/medrelay/dispatch/core/model"
)

type mockToken struct{ err error }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type mockClient struct {
	mu        sync.Mutex
	published map[string][]byte
	handler   paho.MessageHandler
	subTopic  string
	failNext  bool
}

func (m *mockClient) IsConnected() bool        { return true }
func (m *mockClient) Connect() paho.Token      { return &mockToken{} }
func (m *mockClient) Disconnect(quiesce uint)  {}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return &mockToken{err: assert.AnError}
	}
	if m.published == nil {
		m.published = make(map[string][]byte)
	}
	m.published[topic] = payload.([]byte)
	return &mockToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subTopic = topic
	m.handler = cb
	return &mockToken{}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 1 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type mockResponder struct {
	mu    sync.Mutex
	calls []agencyReply
	err   error
}

func (r *mockResponder) RecordResponse(_ context.Context, tripID, agencyID string, answer model.Answer, notes string) (*model.AgencyResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, agencyReply{TripID: tripID, AgencyID: agencyID, Answer: string(answer), Notes: notes})
	if r.err != nil {
		return nil, r.err
	}
	return &model.AgencyResponse{TripID: tripID, AgencyID: agencyID, Answer: answer}, nil
}

func newTestNotifier(t *testing.T, responder Responder) (*Notifier, *mockClient) {
	t.Helper()
	cli := &mockClient{}
	orig := newMQTTClient
	newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return cli }
	t.Cleanup(func() { newMQTTClient = orig })

	n, err := NewNotifier(Config{Enabled: true, Broker: "tcp://localhost:1883"}, responder)
	require.NoError(t, err)
	return n, cli
}

func TestNotifyAgencies(t *testing.T) {
	n, cli := newTestNotifier(t, nil)
	d := 12.5
	trip := model.Trip{ID: "t1", FacilityID: "fac-1", DestinationName: "Rehab Center", Level: model.LevelALS, Urgency: model.UrgencyUrgent}
	candidates := []match.Candidate{
		{Agency: model.Agency{ID: "a1"}, Preferred: true},
		{Agency: model.Agency{ID: "a2"}, DistanceKm: &d},
	}

	require.NoError(t, n.NotifyAgencies(trip, candidates))

	payload, ok := cli.published["medrelay/agency/a2/alerts"]
	require.True(t, ok, "alert for a2 not published")
	var alert tripAlert
	require.NoError(t, json.Unmarshal(payload, &alert))
	assert.Equal(t, "t1", alert.TripID)
	assert.Equal(t, "ALS", alert.Level)
	require.NotNil(t, alert.DistanceKm)
	assert.InDelta(t, 12.5, *alert.DistanceKm, 0.001)
	assert.Contains(t, cli.published, "medrelay/agency/a1/alerts")
}

func TestNotifyAgenciesContinuesPastFailure(t *testing.T) {
	n, cli := newTestNotifier(t, nil)
	n.retries = 0
	n.backoff = 0
	cli.failNext = true
	trip := model.Trip{ID: "t1", Level: model.LevelBLS, Urgency: model.UrgencyRoutine}
	candidates := []match.Candidate{
		{Agency: model.Agency{ID: "a1"}},
		{Agency: model.Agency{ID: "a2"}},
	}

	err := n.NotifyAgencies(trip, candidates)
	assert.Error(t, err)
	assert.Contains(t, cli.published, "medrelay/agency/a2/alerts")
}

func TestOnReply(t *testing.T) {
	responder := &mockResponder{}
	n, _ := newTestNotifier(t, responder)

	payload, _ := json.Marshal(agencyReply{TripID: "t1", AgencyID: "a1", Answer: "ACCEPT", Notes: "eta 10"})
	n.onReply(nil, &mockMessage{topic: "medrelay/trips/t1/responses", payload: payload})

	require.Len(t, responder.calls, 1)
	assert.Equal(t, "t1", responder.calls[0].TripID)
	assert.Equal(t, "ACCEPT", responder.calls[0].Answer)
}

func TestOnReplyIgnoresMalformed(t *testing.T) {
	responder := &mockResponder{}
	n, _ := newTestNotifier(t, responder)

	n.onReply(nil, &mockMessage{topic: "medrelay/trips/t1/responses", payload: []byte("not json")})
	n.onReply(nil, &mockMessage{topic: "medrelay/trips/t1/responses", payload: []byte(`{"answer":"ACCEPT"}`)})
	assert.Empty(t, responder.calls)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true}
	assert.Error(t, cfg.Validate())

	cfg.Broker = "tcp://localhost:1883"
	assert.NoError(t, cfg.Validate())

	cfg.QoS = 3
	assert.Error(t, cfg.Validate())

	disabled := Config{}
	assert.NoError(t, disabled.Validate())
}

func TestConfigSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, "medrelay-dispatch", cfg.ClientID)
	assert.Equal(t, "medrelay", cfg.TopicPrefix)
	assert.Equal(t, byte(1), cfg.QoS)
}
