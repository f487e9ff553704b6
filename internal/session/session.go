package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/meshcore"
)

// State is the connection state of a Session.
type State int

// Session states.
const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Logger is the logging interface used by the session.
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

// Config holds the device wait limits.
type Config struct {
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	ContactsTimeout time.Duration
	StatusTimeout   time.Duration
}

// DefaultConfig returns the standard wait limits.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		CommandTimeout:  5 * time.Second,
		ContactsTimeout: 15 * time.Second,
		StatusTimeout:   10 * time.Second,
	}
}

// Options configures a Session.
type Options struct {
	Opener       Opener
	Capabilities Capabilities
	Config       Config
	Logger       Logger
	Events       Publisher
}

// Session owns the connection to one companion node and its decoded state.
//
// A Session is not safe for concurrent use. The bridge touches it from the
// line loop only, one request at a time.
type Session struct {
	opener Opener
	caps   Capabilities
	cfg    Config
	logger Logger
	events Publisher

	state      State
	target     string
	device     Device
	self       *SelfIdentity
	contacts   map[string]ContactRecord
	lastStatus map[string]StatusRecord
}

// New creates a disconnected session.
func New(opts Options) *Session {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.ContactsTimeout <= 0 {
		cfg.ContactsTimeout = def.ContactsTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = def.StatusTimeout
	}

	s := &Session{
		opener: opts.Opener,
		caps:   opts.Capabilities,
		cfg:    cfg,
		logger: opts.Logger,
		events: opts.Events,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	s.reset()
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state
}

// Target returns the endpoint of the current connection, or "" when
// disconnected.
func (s *Session) Target() string {
	return s.target
}

// Capabilities returns the transport kinds this session may use.
func (s *Session) Capabilities() Capabilities {
	return s.caps
}

// Connect opens a transport and performs the device handshake.
//
// An existing connection is torn down first. On any failure the session is
// left disconnected with no transport open.
//
// Parameters:
//   - ctx: Parent context; the connect timeout is applied on top of it
//   - params: Transport kind and its endpoint
//
// Returns:
//   - *SelfIdentity: The node's normalised identity
//   - error: ErrTransportUnavailable, ErrNoDeviceResponse or a DeviceError
func (s *Session) Connect(ctx context.Context, params ConnectParams) (*SelfIdentity, error) {
	if s.state == Connected {
		s.logger.Info("reconnecting, closing existing session", "target", s.target)
		s.Disconnect(ctx)
	}

	if params.Kind != KindSerial && params.Kind != KindTCP {
		return nil, fmt.Errorf("%w: unknown transport type %q", ErrInvalidArgument, params.Kind)
	}
	if !s.caps.allows(params.Kind) {
		return nil, fmt.Errorf("%w: %s", ErrTransportUnavailable, params.Kind)
	}

	dev, err := s.opener(params)
	if err != nil {
		return nil, classify(err, ErrNoDeviceResponse)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	info, err := dev.Connect(cctx)
	if err != nil {
		s.closeDevice(dev, params.Target())
		s.logger.Warn("device connect failed", "target", params.Target(), "error", err)
		return nil, classify(err, ErrNoDeviceResponse)
	}

	s.state = Connected
	s.target = params.Target()
	s.device = dev
	s.self = newSelfIdentity(info)
	s.logger.Info("device connected", "target", s.target, "name", s.self.Name)
	s.publish(Event{Kind: EventConnected, Target: s.target, Self: s.SelfInfoCopy()})

	return s.SelfInfoCopy(), nil
}

// Disconnect closes the transport if open and clears all state.
// It always succeeds; close failures are logged.
func (s *Session) Disconnect(_ context.Context) {
	if s.state != Connected {
		return
	}

	target := s.target
	s.closeDevice(s.device, target)
	s.reset()
	s.logger.Info("device disconnected", "target", target)
	s.publish(Event{Kind: EventDisconnected, Target: target})
}

// SelfInfo returns the cached self-identity without querying the device.
func (s *Session) SelfInfo() (*SelfIdentity, error) {
	if s.state != Connected {
		return nil, ErrNotConnected
	}
	return s.SelfInfoCopy(), nil
}

// SelfInfoCopy returns a copy of the cached identity, or nil.
func (s *Session) SelfInfoCopy() *SelfIdentity {
	if s.self == nil {
		return nil
	}
	cp := *s.self
	return &cp
}

// Contacts refreshes the contact table from the device and returns it
// sorted by public key.
func (s *Session) Contacts(ctx context.Context) ([]ContactRecord, error) {
	dev, err := s.requireDevice()
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ContactsTimeout)
	defer cancel()

	contacts, err := dev.GetContacts(cctx)
	if err != nil {
		return nil, classify(err, ErrNoDeviceResponse)
	}

	s.contacts = make(map[string]ContactRecord, len(contacts))
	for _, c := range contacts {
		s.contacts[c.PublicKey] = newContactRecord(c)
	}

	records := make([]ContactRecord, 0, len(s.contacts))
	for _, rec := range s.contacts {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b ContactRecord) int {
		return strings.Compare(a.PublicKey, b.PublicKey)
	})

	s.publish(Event{Kind: EventContacts, Target: s.target, Contacts: slices.Clone(records)})
	return records, nil
}

// SendMessage sends text to the contact whose key starts with to, or
// broadcasts it on channel when to is empty.
func (s *Session) SendMessage(ctx context.Context, text, to string, channel int) error {
	dev, err := s.requireDevice()
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	if to == "" {
		if channel < 0 || channel > 255 {
			return fmt.Errorf("%w: channel %d out of range 0-255", ErrInvalidArgument, channel)
		}
		if err := dev.SendChannelText(cctx, uint8(channel), text); err != nil {
			return classify(err, ErrNoDeviceResponse)
		}
		return nil
	}

	prefix, err := meshcore.ParseKeyPrefix(to)
	if err != nil {
		return classify(err, ErrNoDeviceResponse)
	}
	if err := dev.SendText(cctx, prefix, text); err != nil {
		return classify(err, ErrNoDeviceResponse)
	}
	return nil
}

// SendAdvert broadcasts the node's self-advertisement.
func (s *Session) SendAdvert(ctx context.Context, flood bool) error {
	dev, err := s.requireDevice()
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	if err := dev.SendAdvert(cctx, flood); err != nil {
		return classify(err, ErrNoDeviceResponse)
	}
	return nil
}

// Login sends a login request to a remote node.
func (s *Session) Login(ctx context.Context, publicKey, password string) error {
	dev, err := s.requireDevice()
	if err != nil {
		return err
	}

	key, err := meshcore.ParsePublicKey(publicKey)
	if err != nil {
		return classify(err, ErrNoDeviceResponse)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	if err := dev.SendLogin(cctx, key, password); err != nil {
		return classify(err, ErrNoDeviceResponse)
	}
	return nil
}

// Status requests a remote node's status and waits up to timeout for it.
// A non-positive timeout uses the configured default.
//
// ErrNoStatusResponse is returned only once the full wait has elapsed, or
// when the device refuses to send the request.
func (s *Session) Status(ctx context.Context, publicKey string, timeout time.Duration) (*StatusRecord, error) {
	dev, err := s.requireDevice()
	if err != nil {
		return nil, err
	}

	key, err := meshcore.ParsePublicKey(publicKey)
	if err != nil {
		return nil, classify(err, ErrNoStatusResponse)
	}
	if timeout <= 0 {
		timeout = s.cfg.StatusTimeout
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st, err := dev.RequestStatus(sctx, key)
	if err != nil {
		if errors.Is(err, meshcore.ErrDeviceRejected) {
			s.logger.Warn("device refused status request", "public_key", publicKey, "error", err)
			return nil, ErrNoStatusResponse
		}
		return nil, classify(err, ErrNoStatusResponse)
	}

	canonical := strings.ToLower(strings.TrimSpace(publicKey))
	rec := newStatusRecord(canonical, st, s.self)
	s.lastStatus[canonical] = rec

	cp := rec
	s.publish(Event{Kind: EventStatus, Target: s.target, Status: &cp, StatusKey: canonical})
	return &rec, nil
}

// LastStatus returns the most recent status received from publicKey during
// this connection.
func (s *Session) LastStatus(publicKey string) (StatusRecord, bool) {
	rec, ok := s.lastStatus[strings.ToLower(strings.TrimSpace(publicKey))]
	return rec, ok
}

// SetName changes the node's advertised name.
func (s *Session) SetName(ctx context.Context, name string) error {
	dev, err := s.requireDevice()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	if err := dev.SetAdvertName(cctx, name); err != nil {
		return classify(err, ErrNoDeviceResponse)
	}

	s.self.Name = name
	s.publish(Event{Kind: EventSelfUpdated, Target: s.target, Self: s.SelfInfoCopy()})
	return nil
}

// SetRadio changes the node's LoRa radio settings.
func (s *Session) SetRadio(ctx context.Context, freqMHz, bwKHz float64, sf, cr int) error {
	dev, err := s.requireDevice()
	if err != nil {
		return err
	}
	if sf < 0 || sf > 255 || cr < 0 || cr > 255 {
		return fmt.Errorf("%w: sf %d / cr %d out of range", ErrInvalidArgument, sf, cr)
	}

	params := meshcore.RadioParams{
		FrequencyMHz:    freqMHz,
		BandwidthKHz:    bwKHz,
		SpreadingFactor: uint8(sf),
		CodingRate:      uint8(cr),
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	if err := dev.SetRadioParams(cctx, params); err != nil {
		return classify(err, ErrNoDeviceResponse)
	}

	s.self.RadioFreq, s.self.RadioBW = &freqMHz, &bwKHz
	s.self.RadioSF, s.self.RadioCR = &sf, &cr
	s.publish(Event{Kind: EventSelfUpdated, Target: s.target, Self: s.SelfInfoCopy()})
	return nil
}

func (s *Session) requireDevice() (Device, error) {
	if s.state != Connected || s.device == nil {
		return nil, ErrNotConnected
	}
	return s.device, nil
}

func (s *Session) closeDevice(dev Device, target string) {
	if dev == nil {
		return
	}
	if err := dev.Close(); err != nil {
		s.logger.Warn("error closing device transport", "target", target, "error", err)
	}
}

func (s *Session) reset() {
	s.state = Disconnected
	s.target = ""
	s.device = nil
	s.self = nil
	s.contacts = make(map[string]ContactRecord)
	s.lastStatus = make(map[string]StatusRecord)
}

func (s *Session) publish(e Event) {
	if s.events == nil {
		return
	}
	e.Time = time.Now().UTC()
	s.events.Publish(e)
}
