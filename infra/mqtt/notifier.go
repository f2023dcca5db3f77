// Package mqtt carries dispatch traffic between the engine and EMS agencies.
// Trip alerts fan out to per-agency topics; agencies reply on a shared
// response topic that feeds the response collector.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/match"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled     bool        `json:"enabled"`
	Broker      string      `json:"broker"`
	ClientID    string      `json:"client_id"`
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	TopicPrefix string      `json:"topic_prefix"`
	UseTLS      bool        `json:"use_tls"`
	ClientCert  string      `json:"client_cert"`
	ClientKey   string      `json:"client_key"`
	CABundle    string      `json:"ca_bundle"`
	QoS         byte        `json:"qos"`
	MaxRetries  int         `json:"max_retries"`
	BackoffMS   int         `json:"backoff_ms"`
	TLSConfig   *tls.Config `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "medrelay-dispatch"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "medrelay"
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	return nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// Responder records an agency reply; the response collector satisfies it.
type Responder interface {
	RecordResponse(ctx context.Context, tripID, agencyID string, answer model.Answer, notes string) (*model.AgencyResponse, error)
}

// pahoClient is the slice of the Paho API the notifier uses; tests swap in a
// mock.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Notifier publishes trip alerts and routes agency replies to the responder.
type Notifier struct {
	cli       pahoClient
	cfg       Config
	responder Responder
	log       logger.Logger
	retries   int
	backoff   time.Duration
}

// tripAlert is the wire format published to agency alert topics.
type tripAlert struct {
	TripID          string     `json:"trip_id"`
	FacilityID      string     `json:"facility_id"`
	OriginName      string     `json:"origin_name"`
	DestinationName string     `json:"destination_name"`
	Level           string     `json:"level"`
	Urgency         string     `json:"urgency"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DistanceKm      *float64   `json:"distance_km,omitempty"`
	Preferred       bool       `json:"preferred"`
	Timestamp       int64      `json:"timestamp"`
}

// agencyReply is the wire format agencies publish on the response topic.
type agencyReply struct {
	TripID   string `json:"trip_id"`
	AgencyID string `json:"agency_id"`
	Answer   string `json:"answer"`
	Notes    string `json:"notes"`
}

// NewNotifier connects to the broker and subscribes to the agency response
// topic. responder may be nil when only outbound alerts are needed.
func NewNotifier(cfg Config, responder Responder) (*Notifier, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_notifier")
	n := &Notifier{
		cfg:       cfg,
		responder: responder,
		log:       log,
		retries:   cfg.MaxRetries,
		backoff:   time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		if n.responder == nil {
			return
		}
		topic := cfg.TopicPrefix + "/trips/+/responses"
		if token := c.Subscribe(topic, cfg.QoS, n.onReply); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	n.cli = c
	return n, nil
}

func (n *Notifier) onReply(_ paho.Client, msg paho.Message) {
	var reply agencyReply
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		n.log.Errorf("failed to decode agency reply: %v", err)
		return
	}
	if reply.TripID == "" || reply.AgencyID == "" {
		n.log.Warnf("agency reply missing trip or agency id on %s", msg.Topic())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := n.responder.RecordResponse(ctx, reply.TripID, reply.AgencyID, model.Answer(reply.Answer), reply.Notes); err != nil {
		n.log.Warnf("reply from %s for trip %s rejected: %v", reply.AgencyID, reply.TripID, err)
		return
	}
	n.log.Infof("recorded reply from %s for trip %s", reply.AgencyID, reply.TripID)
}

// NotifyAgencies publishes one alert per candidate to its agency topic.
// Publishing continues past individual failures; the last error is returned.
func (n *Notifier) NotifyAgencies(trip model.Trip, candidates []match.Candidate) error {
	var lastErr error
	for _, cand := range candidates {
		alert := tripAlert{
			TripID:          trip.ID,
			FacilityID:      trip.FacilityID,
			OriginName:      trip.OriginName,
			DestinationName: trip.DestinationName,
			Level:           string(trip.Level),
			Urgency:         string(trip.Urgency),
			ScheduledAt:     trip.ScheduledAt,
			DistanceKm:      cand.DistanceKm,
			Preferred:       cand.Preferred,
			Timestamp:       time.Now().UnixMilli(),
		}
		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		topic := fmt.Sprintf("%s/agency/%s/alerts", n.cfg.TopicPrefix, cand.Agency.ID)
		if err := n.publish(topic, payload); err != nil {
			n.log.Errorf("alert to %s failed: %v", cand.Agency.ID, err)
			lastErr = err
			continue
		}
		n.log.Debugf("alert for trip %s sent to %s", trip.ID, cand.Agency.ID)
	}
	return lastErr
}

func (n *Notifier) publish(topic string, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		token := n.cli.Publish(topic, n.cfg.QoS, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		time.Sleep(n.backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Run forwards candidate announcements from the bus to the agencies until the
// context is cancelled.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			found, ok := ev.(events.CandidatesFound)
			if !ok {
				continue
			}
			if err := n.NotifyAgencies(found.Trip, found.Candidates); err != nil {
				n.log.Errorf("notify agencies for trip %s: %v", found.Trip.ID, err)
			}
		}
	}
}

// Disconnect gracefully closes the MQTT connection.
func (n *Notifier) Disconnect() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}
