// Package lifecycle starts and stops the bridge.
//
// The Controller announces readiness, runs the line loop until input ends,
// a shutdown request arrives or SIGINT/SIGTERM is received, and then closes
// the device session. All three stop paths end in the same place and the
// process exits with status 0.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/wire"
)

// Session is the part of the device session the controller needs.
type Session interface {
	Disconnect(ctx context.Context)
}

// Loop serves requests until told to stop.
type Loop interface {
	Run(ctx context.Context) error
}

// Logger is the logging interface used by the controller.
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

// Options configures a Controller.
type Options struct {
	Session Session
	Loop    Loop
	Writer  *wire.Writer
	Ready   wire.Ready
	Flag    *RunFlag
	Logger  Logger

	// Signals overrides the OS signal subscription. Tests use it.
	Signals <-chan os.Signal
}

// Controller owns the process lifecycle.
type Controller struct {
	session Session
	loop    Loop
	writer  *wire.Writer
	ready   wire.Ready
	flag    *RunFlag
	signals <-chan os.Signal
	logger  Logger

	startedAt atomic.Int64 // unix nanoseconds
}

// New creates a controller. A nil Flag gets a fresh RunFlag.
func New(opts Options) *Controller {
	c := &Controller{
		session: opts.Session,
		loop:    opts.Loop,
		writer:  opts.Writer,
		ready:   opts.Ready,
		flag:    opts.Flag,
		signals: opts.Signals,
		logger:  opts.Logger,
	}
	if c.flag == nil {
		c.flag = NewRunFlag()
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// Flag returns the run flag shared with the loop and the dispatcher.
func (c *Controller) Flag() *RunFlag {
	return c.flag
}

// Uptime returns how long Run has been serving.
func (c *Controller) Uptime() time.Duration {
	started := c.startedAt.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}

// Run writes the ready line, serves until stopped and disconnects.
//
// Parameters:
//   - ctx: Cancelling it stops the loop like a signal does
//
// Returns:
//   - error: Only when the ready line cannot be written; every later stop
//     path returns nil
func (c *Controller) Run(ctx context.Context) error {
	c.startedAt.Store(time.Now().UnixNano())

	sigs := c.signals
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigs = ch
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go c.watch(ctx, sigs, watchDone)

	if err := c.writer.Write(c.ready); err != nil {
		c.flag.Stop()
		return fmt.Errorf("writing ready line: %w", err)
	}
	c.logger.Info("bridge ready",
		"meshcore_available", c.ready.MeshCoreAvailable,
		"tcp_available", c.ready.TCPAvailable,
	)

	if err := c.loop.Run(ctx); err != nil {
		c.logger.Warn("line loop ended with error", "error", err)
	}
	c.flag.Stop()

	c.shutdown()
	return nil
}

// watch clears the run flag on the first termination signal.
func (c *Controller) watch(ctx context.Context, sigs <-chan os.Signal, done <-chan struct{}) {
	select {
	case sig := <-sigs:
		c.logger.Info("signal received, stopping", "signal", sig.String())
		c.flag.Stop()
	case <-ctx.Done():
		c.flag.Stop()
	case <-c.flag.Done():
	case <-done:
	}
}

func (c *Controller) shutdown() {
	c.logger.Info("stopping bridge", "uptime", c.Uptime().Round(time.Second).String())

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during final disconnect", "panic", r)
		}
	}()
	if c.session != nil {
		c.session.Disconnect(context.Background())
	}
}
