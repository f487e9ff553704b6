package health

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/session"
)

// NodeStatus is the last status reply received from one remote node.
type NodeStatus struct {
	PublicKey  string               `json:"public_key"`
	Status     session.StatusRecord `json:"status"`
	ReceivedAt time.Time            `json:"received_at"`
}

// SessionView is a point-in-time copy of the tracked session state.
type SessionView struct {
	Connected bool                    `json:"connected"`
	Target    string                  `json:"target,omitempty"`
	Since     time.Time               `json:"since,omitzero"`
	Self      *session.SelfIdentity   `json:"self,omitempty"`
	Contacts  []session.ContactRecord `json:"contacts"`
	Nodes     []NodeStatus            `json:"nodes"`
	Events    uint64                  `json:"events"`
}

// Tracker follows session events. The zero value is not usable; call
// NewTracker.
type Tracker struct {
	mu        sync.RWMutex
	connected bool
	target    string
	since     time.Time
	self      *session.SelfIdentity
	contacts  []session.ContactRecord
	nodes     map[string]NodeStatus
	events    uint64
}

// NewTracker returns a tracker in the disconnected state.
func NewTracker() *Tracker {
	return &Tracker{nodes: make(map[string]NodeStatus)}
}

// HandleEvent implements session.Listener.
func (t *Tracker) HandleEvent(e session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events++
	switch e.Kind {
	case session.EventConnected:
		t.connected = true
		t.target = e.Target
		t.since = e.Time
		t.self = e.Self
		t.contacts = nil
	case session.EventDisconnected:
		t.connected = false
		t.target = ""
		t.since = e.Time
		t.self = nil
		t.contacts = nil
	case session.EventSelfUpdated:
		t.self = e.Self
	case session.EventContacts:
		t.contacts = e.Contacts
	case session.EventStatus:
		if e.Status != nil {
			t.nodes[e.StatusKey] = NodeStatus{PublicKey: e.StatusKey, Status: *e.Status, ReceivedAt: e.Time}
		}
	}
}

// Connected reports whether the last event left the session connected.
func (t *Tracker) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// View returns a copy of the tracked state. Nodes are ordered by public key.
// Status replies outlive a disconnect; they describe remote nodes, not the
// local link.
func (t *Tracker) View() SessionView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := SessionView{
		Connected: t.connected,
		Target:    t.target,
		Since:     t.since,
		Contacts:  append([]session.ContactRecord{}, t.contacts...),
		Nodes:     make([]NodeStatus, 0, len(t.nodes)),
		Events:    t.events,
	}
	if t.self != nil {
		self := *t.self
		v.Self = &self
	}
	for _, n := range t.nodes {
		v.Nodes = append(v.Nodes, n)
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].PublicKey < v.Nodes[j].PublicKey })
	return v
}
