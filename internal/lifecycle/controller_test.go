package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/wire"
)

type fakeSession struct {
	mu          sync.Mutex
	disconnects int
}

func (s *fakeSession) Disconnect(context.Context) {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

func (s *fakeSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// blockingLoop runs until the flag drops or ctx ends.
type blockingLoop struct {
	flag    *RunFlag
	started chan struct{}
}

func (l *blockingLoop) Run(ctx context.Context) error {
	close(l.started)
	select {
	case <-l.flag.Done():
	case <-ctx.Done():
	}
	return nil
}

type funcLoop func(ctx context.Context) error

func (f funcLoop) Run(ctx context.Context) error { return f(ctx) }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRunFlag(t *testing.T) {
	f := NewRunFlag()
	if !f.Running() {
		t.Fatal("new flag should be running")
	}
	f.Stop()
	f.Stop()
	if f.Running() {
		t.Error("flag still running after Stop")
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestController_ReadyLineFirst(t *testing.T) {
	var out bytes.Buffer
	writer := wire.NewWriter(&out)
	sess := &fakeSession{}

	var sawReady string
	loop := funcLoop(func(context.Context) error {
		sawReady = out.String()
		return nil
	})

	c := New(Options{
		Session: sess,
		Loop:    loop,
		Writer:  writer,
		Ready:   wire.NewReady(true, false),
		Signals: make(chan os.Signal),
	})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := `{"type":"ready","meshcore_available":true,"tcp_available":false}` + "\n"
	if sawReady != want {
		t.Errorf("before loop output = %q, want %q", sawReady, want)
	}
	if sess.count() != 1 {
		t.Errorf("Disconnect called %d times, want 1", sess.count())
	}
	if c.Flag().Running() {
		t.Error("flag still set after Run")
	}
}

func TestController_SignalStops(t *testing.T) {
	for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			flag := NewRunFlag()
			loop := &blockingLoop{flag: flag, started: make(chan struct{})}
			sigs := make(chan os.Signal, 1)
			sess := &fakeSession{}

			c := New(Options{
				Session: sess,
				Loop:    loop,
				Writer:  wire.NewWriter(&bytes.Buffer{}),
				Flag:    flag,
				Signals: sigs,
			})

			done := make(chan error, 1)
			go func() { done <- c.Run(context.Background()) }()

			<-loop.started
			sigs <- sig

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("signal did not stop the controller")
			}
			if sess.count() != 1 {
				t.Errorf("Disconnect called %d times, want 1", sess.count())
			}
		})
	}
}

func TestController_ContextCancelStops(t *testing.T) {
	flag := NewRunFlag()
	loop := &blockingLoop{flag: flag, started: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	c := New(Options{
		Session: &fakeSession{},
		Loop:    loop,
		Writer:  wire.NewWriter(&bytes.Buffer{}),
		Flag:    flag,
		Signals: make(chan os.Signal),
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	<-loop.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("context cancel did not stop the controller")
	}
}

func TestController_LoopErrorIsCleanExit(t *testing.T) {
	sess := &fakeSession{}
	c := New(Options{
		Session: sess,
		Loop:    funcLoop(func(context.Context) error { return errors.New("output closed") }),
		Writer:  wire.NewWriter(&bytes.Buffer{}),
		Signals: make(chan os.Signal),
	})

	if err := c.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if sess.count() != 1 {
		t.Errorf("Disconnect called %d times, want 1", sess.count())
	}
}

func TestController_ReadyWriteFailure(t *testing.T) {
	ran := false
	c := New(Options{
		Session: &fakeSession{},
		Loop: funcLoop(func(context.Context) error {
			ran = true
			return nil
		}),
		Writer:  wire.NewWriter(failingWriter{}),
		Signals: make(chan os.Signal),
	})

	err := c.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "writing ready line") {
		t.Fatalf("Run() error = %v, want ready line failure", err)
	}
	if ran {
		t.Error("loop ran although the ready line failed")
	}
}

func TestController_Uptime(t *testing.T) {
	c := New(Options{})
	if c.Uptime() != 0 {
		t.Errorf("Uptime() before Run = %v, want 0", c.Uptime())
	}
}
