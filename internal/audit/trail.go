package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/dispatch"
)

// Redacted replaces the value of every sensitive parameter.
const Redacted = "[redacted]"

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// sensitiveParams are stored as Redacted.
var sensitiveParams = map[string]bool{
	"password": true,
	"text":     true,
}

// Logger is the logging interface used by the trail.
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

// Trail writes dispatched commands to a Repository from a background
// goroutine. RecordCommand never blocks the request loop: when the queue is
// full the entry is dropped and counted.
type Trail struct {
	repo   Repository
	logger Logger
	queue  chan Entry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewTrail starts a trail with room for buffer pending entries.
func NewTrail(repo Repository, buffer int, logger Logger) *Trail {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = noopLogger{}
	}
	t := &Trail{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, buffer),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// RecordCommand implements dispatch.Recorder.
func (t *Trail) RecordCommand(rec dispatch.Record) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.queue <- EntryFromRecord(rec):
	default:
		t.dropped.Add(1)
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.wg.Wait()
}

// Written returns how many entries were stored.
func (t *Trail) Written() uint64 { return t.written.Load() }

// Dropped returns how many entries were discarded because the queue was full.
func (t *Trail) Dropped() uint64 { return t.dropped.Load() }

// Failed returns how many inserts returned an error.
func (t *Trail) Failed() uint64 { return t.failed.Load() }

func (t *Trail) run() {
	defer t.wg.Done()
	for e := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := t.repo.Create(ctx, &e)
		cancel()

		if err != nil {
			t.failed.Add(1)
			t.logger.Warn("audit write failed", "command", e.Command, "error", err)
			continue
		}
		t.written.Add(1)
	}
}

// EntryFromRecord converts a dispatch record, redacting sensitive values and
// dropping the envelope members.
func EntryFromRecord(rec dispatch.Record) Entry {
	e := Entry{
		Command:    rec.Command,
		Success:    rec.Success,
		Error:      rec.Error,
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  rec.At,
	}
	if len(rec.CorrelationID) > 0 {
		e.CorrelationID = string(rec.CorrelationID)
	}
	e.Params = redactParams(rec.Params)
	return e
}

func redactParams(raw map[string]json.RawMessage) map[string]any {
	params := make(map[string]any, len(raw))
	for name, value := range raw {
		switch {
		case name == "id" || name == "cmd":
			continue
		case sensitiveParams[name]:
			params[name] = Redacted
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				v = string(value)
			}
			params[name] = v
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
