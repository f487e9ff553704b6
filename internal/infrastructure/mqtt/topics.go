package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "meshbridge"

// Topics builds the bridge's topic names under one prefix.
//
//	topics := mqtt.Topics{Prefix: "meshbridge"}
//	topics.NodeStatus("a1b2c3d4e5f6") // "meshbridge/event/status/a1b2c3d4e5f6"
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Status is the online/offline topic, also used for the LWT.
func (t Topics) Status() string { return t.join("status") }

// Health carries the periodic health report.
func (t Topics) Health() string { return t.join("health") }

// StateConnection carries the session's connection state.
func (t Topics) StateConnection() string { return t.join("state", "connection") }

// StateSelf carries the node's self-identity.
func (t Topics) StateSelf() string { return t.join("state", "self") }

// StateContacts carries the last contact table.
func (t Topics) StateContacts() string { return t.join("state", "contacts") }

// NodeStatus carries status responses from the remote node whose public key
// starts with keyPrefix.
func (t Topics) NodeStatus(keyPrefix string) string {
	return t.join("event", "status", keyPrefix)
}

// All matches every bridge topic.
func (t Topics) All() string { return t.join("#") }
