// Package dispatch maps request commands onto device session operations.
//
// The Dispatcher is the only place where errors become wire messages: every
// handler error, and every panic, is turned into a failed Response so a bad
// request can never stop the line loop.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/session"
	"github.com/nerrad567/meshcore-bridge/internal/wire"
)

// Stopper requests a graceful stop of the bridge.
type Stopper interface {
	Stop()
}

// Record describes one dispatched command, for the audit trail.
type Record struct {
	CorrelationID json.RawMessage
	Command       string
	Params        map[string]json.RawMessage
	Success       bool
	Error         string
	Duration      time.Duration
	At            time.Time
}

// Recorder receives a Record after every command. Implementations must not
// block.
type Recorder interface {
	RecordCommand(Record)
}

// Logger is the logging interface used by the dispatcher.
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

// Defaults are the parameter values used when a request omits them.
type Defaults struct {
	SerialPort    string
	Baud          int
	TCPHost       string
	TCPPort       int
	Channel       int
	StatusTimeout time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Defaults Defaults
	Stopper  Stopper
	Recorder Recorder
	Logger   Logger

	// ListPorts enumerates serial ports for list_ports. Optional.
	ListPorts func() ([]string, error)
}

// Stats are cumulative command counters.
type Stats struct {
	Commands uint64 `json:"commands"`
	Failures uint64 `json:"failures"`
	Panics   uint64 `json:"panics"`
}

type handlerFunc func(ctx context.Context, p params) (any, error)

// Dispatcher routes requests to session operations.
type Dispatcher struct {
	session  *session.Session
	defaults Defaults
	stopper  Stopper
	recorder Recorder
	logger   Logger
	ports    func() ([]string, error)

	handlers map[string]handlerFunc

	commands atomic.Uint64
	failures atomic.Uint64
	panics   atomic.Uint64
}

// New creates a dispatcher for s.
func New(s *session.Session, opts Options) *Dispatcher {
	d := &Dispatcher{
		session:  s,
		defaults: opts.Defaults,
		stopper:  opts.Stopper,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		ports:    opts.ListPorts,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.defaults.Baud <= 0 {
		d.defaults.Baud = 115200
	}
	if d.defaults.TCPHost == "" {
		d.defaults.TCPHost = "localhost"
	}
	if d.defaults.TCPPort <= 0 {
		d.defaults.TCPPort = 4403
	}
	if d.defaults.StatusTimeout <= 0 {
		d.defaults.StatusTimeout = 10 * time.Second
	}

	d.handlers = map[string]handlerFunc{
		"connect":       d.connect,
		"disconnect":    d.disconnect,
		"get_self_info": d.getSelfInfo,
		"get_contacts":  d.getContacts,
		"send_message":  d.sendMessage,
		"send_advert":   d.sendAdvert,
		"login":         d.login,
		"get_status":    d.getStatus,
		"set_name":      d.setName,
		"set_radio":     d.setRadio,
		"shutdown":      d.shutdown,
		"ping":          d.ping,
		"list_ports":    d.listPorts,
	}
	return d
}

// Commands returns the supported command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of the command counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Commands: d.commands.Load(),
		Failures: d.failures.Load(),
		Panics:   d.panics.Load(),
	}
}

// Handle executes one request and returns exactly one response.
func (d *Dispatcher) Handle(ctx context.Context, req *wire.Request) (resp wire.Response) {
	start := time.Now()
	d.commands.Add(1)

	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("command handler panicked",
				"cmd", req.Cmd,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp = wire.Failure(req.ID, fmt.Sprintf("Internal error: %v", r))
			resp.Detail = fmt.Sprint(r)
		}
		if !resp.Success {
			d.failures.Add(1)
		}
		d.record(req, resp, start)
	}()

	handler, ok := d.handlers[req.Cmd]
	if !ok {
		return wire.Failure(req.ID, Message(&unknownCommandError{cmd: req.Cmd}))
	}

	data, err := handler(ctx, params(req.Params))
	if err != nil {
		d.logger.Debug("command failed", "cmd", req.Cmd, "error", err)
		return wire.Failure(req.ID, Message(err))
	}
	return wire.Success(req.ID, data)
}

func (d *Dispatcher) record(req *wire.Request, resp wire.Response, start time.Time) {
	if d.recorder == nil {
		return
	}
	d.recorder.RecordCommand(Record{
		CorrelationID: req.ID,
		Command:       req.Cmd,
		Params:        req.Params,
		Success:       resp.Success,
		Error:         resp.Error,
		Duration:      time.Since(start),
		At:            start.UTC(),
	})
}
