// Package lineproto runs the request/response loop over the parent's pipes.
//
// The loop pulls one line at a time from its input, hands it to a Handler
// and writes exactly one response line before asking for the next. Reads are
// performed by a helper goroutine, but only on demand: once the run flag
// drops no further line is consumed from the input.
//
//	input ──► reader goroutine ──(one line)──► Loop ──► Handler
//	                 ▲                           │
//	                 └─────── next request ◄─────┴──► wire.Writer ──► output
package lineproto

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/wire"
)

const (
	// DefaultReadTimeout bounds each wait for input so the run flag is observed.
	DefaultReadTimeout = time.Second

	// DefaultMaxLineBytes caps a single request line.
	DefaultMaxLineBytes = 1 << 20
)

// ErrOutputClosed is returned by Run when a response cannot be written.
var ErrOutputClosed = errors.New("lineproto: output closed")

// Handler executes one decoded request.
type Handler interface {
	Handle(ctx context.Context, req *wire.Request) wire.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *wire.Request) wire.Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *wire.Request) wire.Response {
	return f(ctx, req)
}

// RunFlag tells the loop whether to keep going. Done is closed when the flag
// drops so a pending wait ends early.
type RunFlag interface {
	Running() bool
	Done() <-chan struct{}
}

// Logger is the logging interface used by the loop.
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

// Options configures a Loop.
type Options struct {
	ReadTimeout time.Duration

	// MaxLineBytes caps a request line, excluding its newline. Longer lines
	// are discarded up to the next newline and answered with a protocol
	// error.
	MaxLineBytes int

	Logger Logger
}

// Stats are cumulative loop counters.
type Stats struct {
	Lines          uint64 `json:"lines"`
	ProtocolErrors uint64 `json:"protocol_errors"`
}

type readResult struct {
	line    []byte
	tooLong bool
	err     error
}

// Loop reads requests and writes responses until input ends or the run flag
// drops.
type Loop struct {
	in      *bufio.Reader
	out     *wire.Writer
	handler Handler
	flag    RunFlag
	timeout time.Duration
	maxLine int
	logger  Logger

	want    chan struct{}
	results chan readResult
	pending bool

	lines     atomic.Uint64
	protoErrs atomic.Uint64
}

// New creates a loop reading from r and writing to out.
func New(r io.Reader, out *wire.Writer, handler Handler, flag RunFlag, opts Options) *Loop {
	l := &Loop{
		in:      bufio.NewReader(r),
		out:     out,
		handler: handler,
		flag:    flag,
		timeout: opts.ReadTimeout,
		maxLine: opts.MaxLineBytes,
		logger:  opts.Logger,
		want:    make(chan struct{}),
		results: make(chan readResult, 1),
	}
	if l.timeout <= 0 {
		l.timeout = DefaultReadTimeout
	}
	if l.maxLine <= 0 {
		l.maxLine = DefaultMaxLineBytes
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	return l
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{Lines: l.lines.Load(), ProtocolErrors: l.protoErrs.Load()}
}

// Run serves requests until the input reaches EOF, the run flag drops or ctx
// is cancelled. It returns nil in all of those cases and ErrOutputClosed when
// the output can no longer be written.
//
// A read still pending when Run returns is abandoned; its line is never
// handled.
func (l *Loop) Run(ctx context.Context) error {
	go l.readLoop()
	defer close(l.want)

	for l.flag.Running() {
		if !l.pending {
			l.want <- struct{}{}
			l.pending = true
		}

		res, ok := l.wait(ctx)
		if !ok {
			if ctx.Err() != nil {
				l.logger.Info("context cancelled, stopping", "error", ctx.Err())
				return nil
			}
			continue
		}
		l.pending = false

		if res.tooLong {
			if err := l.rejectOversized(); err != nil {
				return err
			}
		} else if line := bytes.TrimSpace(res.line); len(line) > 0 {
			if err := l.serve(ctx, line); err != nil {
				return err
			}
		}

		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				l.logger.Info("input closed, stopping")
			} else {
				l.logger.Error("reading input failed", "error", res.err)
			}
			return nil
		}
	}

	l.logger.Debug("run flag cleared, leaving loop")
	return nil
}

// wait blocks for the pending read for at most one read timeout. ok is false
// when the timeout elapsed or the loop is stopping.
func (l *Loop) wait(ctx context.Context) (readResult, bool) {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case res := <-l.results:
		return res, true
	case <-timer.C:
		return readResult{}, false
	case <-l.flag.Done():
		return readResult{}, false
	case <-ctx.Done():
		return readResult{}, false
	}
}

// readLoop performs one read per signal on want.
func (l *Loop) readLoop() {
	for range l.want {
		l.results <- l.readLine()
	}
}

// readLine reads through the next newline, keeping at most maxLine bytes
// plus the newline. An oversized line is still consumed to its end so the
// next read starts on a fresh request.
func (l *Loop) readLine() readResult {
	var res readResult
	for {
		chunk, err := l.in.ReadSlice('\n')
		if !res.tooLong {
			if len(res.line)+len(chunk) > l.maxLine+1 {
				res.tooLong = true
				res.line = nil
			} else {
				res.line = append(res.line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		res.err = err
		if !res.tooLong && len(bytes.TrimSuffix(res.line, []byte{'\n'})) > l.maxLine {
			res.tooLong = true
			res.line = nil
		}
		return res
	}
}

// serve handles one non-empty line and writes its response.
func (l *Loop) serve(ctx context.Context, line []byte) error {
	l.lines.Add(1)

	var resp wire.Response
	req, err := wire.DecodeRequest(line)
	if err != nil {
		l.protoErrs.Add(1)
		l.logger.Debug("rejecting malformed line", "error", err)
		resp = wire.ProtocolFailure(req, err)
	} else {
		// A started command always runs to completion; stopping only
		// prevents the next read.
		resp = l.handler.Handle(context.WithoutCancel(ctx), req)
	}
	return l.respond(resp)
}

// rejectOversized answers a line that exceeded maxLine.
func (l *Loop) rejectOversized() error {
	l.lines.Add(1)
	l.protoErrs.Add(1)
	l.logger.Warn("rejecting oversized line", "max_bytes", l.maxLine)

	err := fmt.Errorf("%w: line exceeds %d bytes", wire.ErrInvalidRequest, l.maxLine)
	return l.respond(wire.ProtocolFailure(nil, err))
}

// respond writes resp, falling back to a bare error line if it cannot be
// encoded.
func (l *Loop) respond(resp wire.Response) error {
	if err := l.out.Write(resp); err != nil {
		l.logger.Error("writing response failed", "id", string(resp.ID), "error", err)

		// Usually an unencodable data value; try once more without it.
		fallback := wire.Failure(resp.ID, fmt.Sprintf("Internal error: %v", err))
		if err := l.out.Write(fallback); err != nil {
			return fmt.Errorf("%w: %w", ErrOutputClosed, err)
		}
	}
	return nil
}
