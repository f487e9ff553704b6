package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "meshbridge-test",
		},
		QoS:         1,
		TopicPrefix: "meshbridge",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", Topics{Prefix: "meshbridge"}.Status(), "meshbridge/status"},
		{"health", Topics{Prefix: "meshbridge"}.Health(), "meshbridge/health"},
		{"connection", Topics{Prefix: "meshbridge"}.StateConnection(), "meshbridge/state/connection"},
		{"self", Topics{Prefix: "site/radio"}.StateSelf(), "site/radio/state/self"},
		{"contacts", Topics{Prefix: "meshbridge/"}.StateContacts(), "meshbridge/state/contacts"},
		{"node status", Topics{Prefix: "meshbridge"}.NodeStatus("a1b2c3d4e5f6"), "meshbridge/event/status/a1b2c3d4e5f6"},
		{"empty prefix", Topics{}.All(), "meshbridge/#"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != "meshbridge-test" || opts.Username != "bridge" {
		t.Errorf("client id %q user %q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS not configured")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}

	configureLWT(opts, Topics{Prefix: "meshbridge"}, cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "meshbridge/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("offline", "mb", "graceful_shutdown"), &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "mb" || p.Reason != "graceful_shutdown" || p.Timestamp == "" {
		t.Errorf("payload = %+v", p)
	}

	online := string(buildStatusPayload("online", "mb", ""))
	if strings.Contains(online, "reason") {
		t.Errorf("online payload carries a reason: %s", online)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "meshbridge/x", nil, 3, ErrInvalidQoS},
		{"too large", "meshbridge/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "meshbridge/x", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Publish(tc.topic, tc.payload, tc.qos, false)
			if !errors.Is(err, tc.want) {
				t.Errorf("Publish() error = %v, want %v", err, tc.want)
			}
		})
	}

	if err := c.PublishJSON("meshbridge/x", make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(unencodable) error = %v", err)
	}
}

func TestUnconnectedClient(t *testing.T) {
	c := newClient(testConfig())
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
