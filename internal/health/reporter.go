package health

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/dispatch"
	"github.com/nerrad567/meshcore-bridge/internal/lineproto"
)

// DefaultInterval is the publish interval when none is configured.
const DefaultInterval = 30 * time.Second

// Status is the overall bridge health.
type Status string

// Health states.
const (
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusIdle     Status = "idle"
	StatusDegraded Status = "degraded"
	StatusStopping Status = "stopping"
)

// Publisher is the interface for publishing health messages.
// This is typically implemented by the MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// CommandCounter reports dispatcher counters.
type CommandCounter interface {
	Stats() dispatch.Stats
}

// LineCounter reports line loop counters.
type LineCounter interface {
	Stats() lineproto.Stats
}

// DropCounter reports how many session events were discarded.
type DropCounter interface {
	Dropped() uint64
}

// Logger is the logging interface used by the reporter.
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

// SessionSummary is the compact session section of a health message.
type SessionSummary struct {
	Connected bool   `json:"connected"`
	Target    string `json:"target,omitempty"`
	Contacts  int    `json:"contacts"`
	Nodes     int    `json:"nodes"`
}

// Message is the health payload.
type Message struct {
	Status        Status          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Session       SessionSummary  `json:"session"`
	Commands      dispatch.Stats  `json:"commands"`
	Lines         lineproto.Stats `json:"lines"`
	EventsDropped uint64          `json:"events_dropped"`
}

// ReporterConfig holds configuration for the health reporter. Every source
// is optional.
type ReporterConfig struct {
	Version  string
	Interval time.Duration

	// Publisher and Topic enable periodic MQTT publishing.
	Publisher Publisher
	Topic     string

	Tracker  *Tracker
	Commands CommandCounter
	Lines    LineCounter
	Events   DropCounter
	Logger   Logger
}

// Reporter manages periodic health status reporting.
type Reporter struct {
	cfg       ReporterConfig
	startTime time.Time

	// Counters seen at the previous evaluation, for degradation checks.
	mu          sync.Mutex
	lastPanics  uint64
	lastDropped uint64
	lastStatus  Status
	lastReason  string

	stopping atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *Reporter: Ready to start (call Start to begin reporting)
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Reporter{
		cfg:        cfg,
		startTime:  time.Now(),
		lastStatus: StatusStarting,
		done:       make(chan struct{}),
	}
}

// Start begins periodic health reporting. Without a publisher the interval
// still runs so a degradation seen through Current clears on schedule.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" message.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		close(r.done)
		r.wg.Wait()

		msg := r.build(StatusStopping, "bridge shutting down")
		if err := r.publish(msg); err != nil {
			r.cfg.Logger.Warn("failed to publish stopping health", "error", err)
		}
	})
}

// Current returns the health message without publishing it. Reading it
// leaves any pending degradation in place for the next report.
func (r *Reporter) Current() Message {
	status, reason := r.evaluate(false)
	return r.build(status, reason)
}

// PublishNow publishes the current health immediately and starts a new
// degradation window.
func (r *Reporter) PublishNow() error {
	status, reason := r.evaluate(true)
	return r.publish(r.build(status, reason))
}

func (r *Reporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	if r.cfg.Publisher != nil {
		if err := r.PublishNow(); err != nil {
			r.cfg.Logger.Error("failed to publish initial health", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if r.cfg.Publisher == nil {
				r.evaluate(true)
				continue
			}
			if !r.cfg.Publisher.IsConnected() {
				r.cfg.Logger.Debug("skipping health publish, broker offline")
				continue
			}
			if err := r.PublishNow(); err != nil {
				r.cfg.Logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// evaluate derives the health state. A handler panic or a dropped session
// event since the last interval marks the bridge degraded until the next
// one. Only advance moves the interval baseline forward.
func (r *Reporter) evaluate(advance bool) (Status, string) {
	if r.stopping.Load() {
		return StatusStopping, "bridge shutting down"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var panics, dropped uint64
	if r.cfg.Commands != nil {
		panics = r.cfg.Commands.Stats().Panics
	}
	if r.cfg.Events != nil {
		dropped = r.cfg.Events.Dropped()
	}

	status, reason := StatusIdle, "no device connected"
	switch {
	case panics > r.lastPanics:
		status, reason = StatusDegraded, "command handler panicked"
	case dropped > r.lastDropped:
		status, reason = StatusDegraded, "session events dropped"
	case r.cfg.Tracker != nil && r.cfg.Tracker.Connected():
		status, reason = StatusHealthy, ""
	}
	if !advance {
		return status, reason
	}
	r.lastPanics, r.lastDropped = panics, dropped

	if status != r.lastStatus || reason != r.lastReason {
		r.cfg.Logger.Info("bridge health changed", "status", status, "reason", reason)
		r.lastStatus, r.lastReason = status, reason
	}
	return status, reason
}

func (r *Reporter) build(status Status, reason string) Message {
	now := time.Now()
	msg := Message{
		Status:        status,
		Reason:        reason,
		Version:       r.cfg.Version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(r.startTime).Seconds()),
	}
	if r.cfg.Tracker != nil {
		v := r.cfg.Tracker.View()
		msg.Session = SessionSummary{
			Connected: v.Connected,
			Target:    v.Target,
			Contacts:  len(v.Contacts),
			Nodes:     len(v.Nodes),
		}
	}
	if r.cfg.Commands != nil {
		msg.Commands = r.cfg.Commands.Stats()
	}
	if r.cfg.Lines != nil {
		msg.Lines = r.cfg.Lines.Stats()
	}
	if r.cfg.Events != nil {
		msg.EventsDropped = r.cfg.Events.Dropped()
	}
	return msg
}

func (r *Reporter) publish(msg Message) error {
	if r.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.cfg.Publisher.Publish(r.cfg.Topic, payload, 1, true)
}
