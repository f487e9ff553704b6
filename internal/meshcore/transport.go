package meshcore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport moves framed payloads between the host and a companion node.
//
// Open must succeed before Send or Receive are called. Receive blocks until
// a full frame arrives or the transport fails; Close unblocks it.
type Transport interface {
	// Open establishes the link. The context bounds connection setup.
	Open(ctx context.Context) error

	// Send writes one command payload as a single frame.
	Send(payload []byte) error

	// Receive returns the payload of the next inbound frame.
	Receive() ([]byte, error)

	// Close releases the link. Safe to call more than once.
	Close() error

	// String names the endpoint for logs, e.g. "serial:/dev/ttyACM0".
	String() string
}

// streamLink implements framing over any byte stream. Both concrete
// transports embed it once their stream is open.
type streamLink struct {
	mu        sync.Mutex
	conn      io.ReadWriteCloser
	reader    *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

func (l *streamLink) attach(conn io.ReadWriteCloser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = conn
	l.reader = bufio.NewReader(conn)
	l.closeOnce = sync.Once{}
	l.closeErr = nil
}

func (l *streamLink) current() (io.ReadWriteCloser, *bufio.Reader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn, l.reader
}

// Send writes one frame. Writes are serialised so frames never interleave.
func (l *streamLink) Send(payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return fmt.Errorf("%w: link not open", ErrTransport)
	}
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Receive reads the next inbound frame. Only one goroutine may call it.
func (l *streamLink) Receive() ([]byte, error) {
	conn, reader := l.current()
	if conn == nil {
		return nil, fmt.Errorf("%w: link not open", ErrTransport)
	}
	payload, err := ReadFrame(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
	}
	return payload, nil
}

// Close closes the underlying stream once.
func (l *streamLink) Close() error {
	conn, _ := l.current()
	if conn == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		l.closeErr = conn.Close()
	})
	return l.closeErr
}

// SerialTransport reaches a companion node over a USB serial port.
type SerialTransport struct {
	streamLink
	port string
	baud int
}

// NewSerialTransport creates a transport for the given port and baud rate.
// The port is not opened until Open is called.
func NewSerialTransport(port string, baud int) *SerialTransport {
	return &SerialTransport{port: port, baud: baud}
}

// Open opens the serial port (8N1) and discards any bytes already buffered
// by the driver.
func (t *SerialTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	port, err := serial.Open(t.port, &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrTransport, t.port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close() //nolint:errcheck,gosec // best-effort cleanup on failed open
		return fmt.Errorf("%w: resetting %s: %w", ErrTransport, t.port, err)
	}

	t.attach(port)
	return nil
}

func (t *SerialTransport) String() string {
	return "serial:" + t.port
}

// ListSerialPorts returns the serial ports visible to the operating system.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: listing ports: %w", ErrTransport, err)
	}
	if ports == nil {
		ports = []string{}
	}
	return ports, nil
}

// NetworkTransport reaches a companion node over TCP (WiFi firmware).
type NetworkTransport struct {
	streamLink
	host string
	port int

	dialer net.Dialer
}

// NewNetworkTransport creates a transport for host:port.
// The connection is not dialled until Open is called.
func NewNetworkTransport(host string, port int) *NetworkTransport {
	return &NetworkTransport{host: host, port: port}
}

// Open dials the node. The context deadline bounds the dial.
func (t *NetworkTransport) Open(ctx context.Context) error {
	addr := t.address()
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", ErrTransport, addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	t.attach(conn)
	return nil
}

func (t *NetworkTransport) address() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *NetworkTransport) String() string {
	return "tcp:" + t.address()
}

// isClosedErr reports whether err is the expected result of closing a link
// while a read is blocked on it.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
