package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/meshcore-bridge/internal/meshcore"
)

// TransportKind selects how the node is reached.
type TransportKind string

// Supported transport kinds.
const (
	KindSerial TransportKind = "serial"
	KindTCP    TransportKind = "tcp"
)

// ConnectParams describes one connection attempt.
type ConnectParams struct {
	Kind TransportKind

	// Serial
	SerialPort string
	Baud       int

	// TCP
	Host string
	Port int
}

// Target names the endpoint for logs and events.
func (p ConnectParams) Target() string {
	if p.Kind == KindTCP {
		return fmt.Sprintf("tcp:%s:%d", p.Host, p.Port)
	}
	return "serial:" + p.SerialPort
}

// Capabilities reports which transport kinds this runtime can use.
type Capabilities struct {
	Serial bool
	TCP    bool
}

// allows reports whether kind is enabled.
func (c Capabilities) allows(kind TransportKind) bool {
	switch kind {
	case KindSerial:
		return c.Serial
	case KindTCP:
		return c.TCP
	default:
		return false
	}
}

// Device is a companion node reached over one transport.
// *meshcore.Client satisfies it.
type Device interface {
	Connect(ctx context.Context) (*meshcore.SelfInfo, error)
	SelfInfo() *meshcore.SelfInfo
	GetContacts(ctx context.Context) ([]meshcore.Contact, error)
	SendText(ctx context.Context, keyPrefix []byte, text string) error
	SendChannelText(ctx context.Context, channel uint8, text string) error
	SendAdvert(ctx context.Context, flood bool) error
	SendLogin(ctx context.Context, publicKey []byte, password string) error
	RequestStatus(ctx context.Context, publicKey []byte) (*meshcore.Status, error)
	SetAdvertName(ctx context.Context, name string) error
	SetRadioParams(ctx context.Context, p meshcore.RadioParams) error
	Close() error
}

// Opener builds an unconnected Device for params.
type Opener func(params ConnectParams) (Device, error)

// MeshCoreOpener returns an Opener that builds meshcore clients over the
// serial or TCP transport.
func MeshCoreOpener(appName string, logger meshcore.Logger) Opener {
	return func(params ConnectParams) (Device, error) {
		var transport meshcore.Transport
		switch params.Kind {
		case KindSerial:
			transport = meshcore.NewSerialTransport(params.SerialPort, params.Baud)
		case KindTCP:
			transport = meshcore.NewNetworkTransport(params.Host, params.Port)
		default:
			return nil, fmt.Errorf("%w: unknown transport type %q", ErrInvalidArgument, params.Kind)
		}

		client := meshcore.NewClient(transport, appName)
		client.SetLogger(logger)
		return client, nil
	}
}
