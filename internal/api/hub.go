package api

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/health"
	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshcore-bridge/internal/session"
)

// Stream channels. A channel is "session." followed by an event kind;
// ChannelAll selects every kind.
const (
	channelPrefix = "session."
	ChannelAll    = channelPrefix + "*"
)

// Frame types written to stream clients.
const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
	FrameAck      = "ack"
	FramePong     = "pong"
	FrameError    = "error"
)

const (
	clientQueueSize       = 256
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 8192
	pongWait              = 10 * time.Second
)

var streamKinds = []session.EventKind{
	session.EventConnected,
	session.EventDisconnected,
	session.EventSelfUpdated,
	session.EventContacts,
	session.EventStatus,
}

// SessionChannel names the channel events of kind are streamed on.
func SessionChannel(kind session.EventKind) string {
	return channelPrefix + string(kind)
}

// parseChannels resolves channel names to event kinds. Any unknown name
// fails the whole set.
func parseChannels(names []string) (map[session.EventKind]struct{}, error) {
	kinds := make(map[session.EventKind]struct{})
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == ChannelAll {
			for _, k := range streamKinds {
				kinds[k] = struct{}{}
			}
			continue
		}
		kind := session.EventKind(strings.TrimPrefix(name, channelPrefix))
		if !strings.HasPrefix(name, channelPrefix) || !slices.Contains(streamKinds, kind) {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		kinds[kind] = struct{}{}
	}
	return kinds, nil
}

// Frame is one message written to a stream client.
//
// Event frames carry a per-client sequence number starting at 1. A gap
// means the client fell behind and events were dropped.
type Frame struct {
	Type     string              `json:"type"`
	ID       string              `json:"id,omitempty"`
	Seq      uint64              `json:"seq,omitempty"`
	Channel  string              `json:"channel,omitempty"`
	Time     time.Time           `json:"time"`
	Event    json.RawMessage     `json:"event,omitempty"`
	Session  *health.SessionView `json:"session,omitempty"`
	Channels []string            `json:"channels,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Control is a message read from a stream client.
type Control struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// HubConfig holds stream limits. Snapshot, when set, supplies the session
// view sent to each client as it connects.
type HubConfig struct {
	MaxMessageSize int
	PingInterval   time.Duration
	Snapshot       func() health.SessionView
}

// Hub fans session events out to stream clients. It is a session listener.
type Hub struct {
	cfg    HubConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}

	dropped atomic.Uint64
}

// streamClient is one connected watcher and the kinds it follows.
type streamClient struct {
	hub   *Hub
	queue chan []byte
	seq   atomic.Uint64

	mu    sync.RWMutex
	kinds map[session.EventKind]struct{}

	// closeConn tears down the transport. Nil for clients built in tests.
	closeConn func()
}

func newStreamClient(h *Hub, kinds map[session.EventKind]struct{}, queueSize int) *streamClient {
	return &streamClient{hub: h, queue: make(chan []byte, queueSize), kinds: kinds}
}

// NewHub creates a hub. Zero limits take defaults.
func NewHub(cfg HubConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*streamClient]struct{})}
}

// Run blocks until ctx ends and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.queue)
		if c.closeConn != nil {
			c.closeConn()
		}
	}
}

// join queues the snapshot for c and starts delivering events to it.
func (h *Hub) join(c *streamClient) {
	if h.cfg.Snapshot != nil {
		view := h.cfg.Snapshot()
		c.push(Frame{Type: FrameSnapshot, Time: time.Now().UTC(), Session: &view})
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client joined", "clients", n)
}

// leave stops delivery to c. Only the call that removes c closes its queue.
func (h *Hub) leave(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.queue)
		h.logger.Debug("stream client left", "clients", n)
	}
}

// HandleEvent streams e to every client following its kind.
func (h *Hub) HandleEvent(e session.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("encoding session event for stream failed", "kind", e.Kind, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		if c.follows(e.Kind) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	at := time.Now().UTC()
	for _, c := range targets {
		c.push(Frame{
			Type:    FrameEvent,
			Seq:     c.seq.Add(1),
			Channel: SessionChannel(e.Kind),
			Time:    at,
			Event:   body,
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (c *streamClient) follows(kind session.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.kinds[kind]
	return ok
}

// update adds or removes kinds and returns the channels now followed.
func (c *streamClient) update(kinds map[session.EventKind]struct{}, add bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range kinds {
		if add {
			c.kinds[k] = struct{}{}
		} else {
			delete(c.kinds, k)
		}
	}
	channels := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		channels = append(channels, SessionChannel(k))
	}
	slices.Sort(channels)
	return channels
}

// push queues f without blocking. A full queue drops the frame; a queue
// closed by a concurrent leave is ignored.
func (c *streamClient) push(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Error("encoding stream frame failed", "type", f.Type, "error", err)
		return
	}

	defer func() {
		recover() //nolint:errcheck // send on a queue closed by leave
	}()
	select {
	case c.queue <- data:
	default:
		c.hub.dropped.Add(1)
	}
}
