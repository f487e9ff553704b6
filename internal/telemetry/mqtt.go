package telemetry

import (
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshcore-bridge/internal/session"
)

// keyPrefixLen is the number of hex characters used to name a node in topics.
const keyPrefixLen = 12

// JSONPublisher is the part of the MQTT client the publisher needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Logger is the logging interface used by telemetry sinks.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnectionState is the payload of the connection state topic.
type ConnectionState struct {
	Connected bool      `json:"connected"`
	Target    string    `json:"target,omitempty"`
	Since     time.Time `json:"since"`
}

// ContactsState is the payload of the contacts state topic.
type ContactsState struct {
	Count     int                     `json:"count"`
	Contacts  []session.ContactRecord `json:"contacts"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NodeStatusEvent is the payload of a node status event.
type NodeStatusEvent struct {
	PublicKey  string                `json:"public_key"`
	Status     *session.StatusRecord `json:"status"`
	ReceivedAt time.Time             `json:"received_at"`
}

// MQTTPublisher publishes session events under the bridge's topic tree.
// State topics are retained; status events are not.
type MQTTPublisher struct {
	client JSONPublisher
	topics mqtt.Topics
	logger Logger
}

// NewMQTTPublisher creates a publisher. A nil logger discards.
func NewMQTTPublisher(client JSONPublisher, topics mqtt.Topics, logger Logger) *MQTTPublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTPublisher{client: client, topics: topics, logger: logger}
}

// HandleEvent implements session.Listener.
func (p *MQTTPublisher) HandleEvent(e session.Event) {
	switch e.Kind {
	case session.EventConnected:
		p.publish(p.topics.StateConnection(), ConnectionState{Connected: true, Target: e.Target, Since: e.Time}, true)
		if e.Self != nil {
			p.publish(p.topics.StateSelf(), e.Self, true)
		}
	case session.EventDisconnected:
		p.publish(p.topics.StateConnection(), ConnectionState{Connected: false, Since: e.Time}, true)
	case session.EventSelfUpdated:
		if e.Self != nil {
			p.publish(p.topics.StateSelf(), e.Self, true)
		}
	case session.EventContacts:
		contacts := e.Contacts
		if contacts == nil {
			contacts = []session.ContactRecord{}
		}
		p.publish(p.topics.StateContacts(), ContactsState{
			Count:     len(contacts),
			Contacts:  contacts,
			UpdatedAt: e.Time,
		}, true)
	case session.EventStatus:
		if e.Status == nil {
			return
		}
		p.publish(p.topics.NodeStatus(shortKey(e.StatusKey)), NodeStatusEvent{
			PublicKey:  e.StatusKey,
			Status:     e.Status,
			ReceivedAt: e.Time,
		}, false)
	}
}

func (p *MQTTPublisher) publish(topic string, v any, retained bool) {
	if err := p.client.PublishJSON(topic, v, retained); err != nil {
		p.logger.Warn("telemetry publish failed", "topic", topic, "error", err)
	}
}

func shortKey(key string) string {
	if len(key) > keyPrefixLen {
		return key[:keyPrefixLen]
	}
	return key
}
