package meshcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	// contactsBuffer is the per-command queue depth for the contact stream.
	contactsBuffer = 32

	// maxTrackedSignals bounds the advert signal cache.
	maxTrackedSignals = 1024

	// txtTypePlain marks a plain text message.
	txtTypePlain byte = 0x00
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// waiter receives the frames a pending command is interested in.
type waiter struct {
	match func(frame []byte) bool
	ch    chan []byte
	gone  *closeOnce
}

// Client talks to one companion node over one Transport.
//
// A Client is single-use: Connect it once, issue commands, then Close it.
// Reconnecting means building a new Client.
type Client struct {
	transport Transport
	appName   string
	logger    Logger
	now       func() time.Time

	done    *closeOnce
	lost    *closeOnce
	lostMu  sync.Mutex
	lostErr error
	wg      sync.WaitGroup

	waitersMu sync.Mutex
	waiters   []*waiter

	stateMu sync.RWMutex
	self    *SelfInfo
	signals map[string]Signal
}

// NewClient creates a client for the given transport. appName is announced
// to the node during the handshake.
func NewClient(transport Transport, appName string) *Client {
	return &Client{
		transport: transport,
		appName:   appName,
		logger:    noopLogger{},
		now:       time.Now,
		done:      newCloseOnce(),
		lost:      newCloseOnce(),
		signals:   make(map[string]Signal),
	}
}

// SetLogger sets the logger used by the client. Call before Connect.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Transport returns the transport the client was built with.
func (c *Client) Transport() Transport {
	return c.transport
}

// Connect opens the transport and performs the APP_START handshake.
//
// Parameters:
//   - ctx: Bounds both opening the link and waiting for SELF_INFO
//
// Returns:
//   - *SelfInfo: The node's identity and radio settings
//   - error: ErrTransport if the link cannot be opened, ErrNoResponse if
//     the node never answers (typically a repeater rather than a companion)
func (c *Client) Connect(ctx context.Context) (*SelfInfo, error) {
	if err := c.transport.Open(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	payload := make([]byte, 0, 8+len(c.appName))
	payload = append(payload, CmdAppStart, appProtocolVersion)
	payload = append(payload, make([]byte, 6)...)
	payload = append(payload, c.appName...)

	frame, err := c.roundTrip(ctx, payload, codeIn(RespSelfInfo))
	if err != nil {
		c.closeQuietly()
		return nil, err
	}

	info, err := DecodeSelfInfo(frame)
	if err != nil {
		c.closeQuietly()
		return nil, err
	}

	c.stateMu.Lock()
	c.self = info
	c.stateMu.Unlock()

	c.logger.Info("node handshake complete",
		"transport", c.transport.String(),
		"name", info.Name,
		"public_key", info.PublicKey,
	)
	return info, nil
}

// SelfInfo returns a copy of the identity reported at handshake, updated by
// successful SetAdvertName and SetRadioParams calls. Nil before Connect.
func (c *Client) SelfInfo() *SelfInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.self == nil {
		return nil
	}
	cp := *c.self
	if c.self.Radio != nil {
		radio := *c.self.Radio
		cp.Radio = &radio
	}
	return &cp
}

// Close stops the read loop and closes the transport.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	err := c.transport.Close()
	c.wg.Wait()
	if err != nil && !isClosedErr(err) {
		return fmt.Errorf("%w: close: %w", ErrTransport, err)
	}
	return nil
}

func (c *Client) closeQuietly() {
	if err := c.Close(); err != nil {
		c.logger.Warn("closing transport after failed handshake", "error", err)
	}
}

// GetContacts fetches the node's full contact table.
//
// Each contact carries the signal of the last advert overheard from it,
// when one has been seen since Connect.
func (c *Client) GetContacts(ctx context.Context) ([]Contact, error) {
	w := c.addWaiter(codeIn(RespContactsStart, RespContact, RespEndOfContacts, RespErr), contactsBuffer)
	defer c.removeWaiter(w)

	if err := c.send([]byte{CmdGetContacts}); err != nil {
		return nil, err
	}

	contacts := []Contact{}
	for {
		frame, err := c.await(ctx, w)
		if err != nil {
			return nil, err
		}

		switch frame[0] {
		case RespErr:
			return nil, rejection(frame)
		case RespContactsStart:
			if len(frame) >= 5 {
				expected := binary.LittleEndian.Uint32(frame[1:5])
				contacts = make([]Contact, 0, min(int(expected), 512))
			}
		case RespContact:
			contact, err := DecodeContact(frame)
			if err != nil {
				c.logger.Warn("skipping malformed contact", "error", err)
				continue
			}
			c.attachSignal(contact)
			contacts = append(contacts, *contact)
		case RespEndOfContacts:
			return contacts, nil
		}
	}
}

// SendText sends a direct text message to the contact whose public key
// starts with keyPrefix.
func (c *Client) SendText(ctx context.Context, keyPrefix []byte, text string) error {
	if len(keyPrefix) < keyPrefixLen {
		return fmt.Errorf("%w: prefix of %d bytes", ErrInvalidKey, len(keyPrefix))
	}

	payload := make([]byte, 0, 3+4+keyPrefixLen+len(text))
	payload = append(payload, CmdSendTxtMsg, txtTypePlain, 0)
	payload = c.appendTimestamp(payload)
	payload = append(payload, keyPrefix[:keyPrefixLen]...)
	payload = append(payload, text...)

	_, err := c.command(ctx, payload, RespSent)
	return err
}

// SendChannelText broadcasts a text message on a channel index.
func (c *Client) SendChannelText(ctx context.Context, channel uint8, text string) error {
	payload := make([]byte, 0, 3+4+len(text))
	payload = append(payload, CmdSendChannelTxtMsg, txtTypePlain, channel)
	payload = c.appendTimestamp(payload)
	payload = append(payload, text...)

	_, err := c.command(ctx, payload, RespOK)
	return err
}

// SendAdvert broadcasts the node's self-advertisement. A flood advert is
// relayed by repeaters; a zero-hop advert only reaches direct neighbours.
func (c *Client) SendAdvert(ctx context.Context, flood bool) error {
	payload := []byte{CmdSendSelfAdvert}
	if flood {
		payload = append(payload, 0x01)
	}
	_, err := c.command(ctx, payload, RespOK)
	return err
}

// SendLogin sends a login request to a remote repeater or room server.
// Success means the node accepted the request for transmission.
func (c *Client) SendLogin(ctx context.Context, publicKey []byte, password string) error {
	if len(publicKey) != PublicKeySize {
		return fmt.Errorf("%w: key of %d bytes", ErrInvalidKey, len(publicKey))
	}

	payload := make([]byte, 0, 1+PublicKeySize+len(password))
	payload = append(payload, CmdSendLogin)
	payload = append(payload, publicKey...)
	payload = append(payload, password...)

	_, err := c.command(ctx, payload, RespSent)
	return err
}

// RequestStatus asks a remote node for its status and waits for the reply.
//
// Parameters:
//   - ctx: Its deadline is the status wait; exceeding it yields ErrNoResponse
//   - publicKey: Full 32-byte key of the remote node
//
// Returns:
//   - *Status: Decoded status reply
//   - error: ErrNoResponse if no reply arrived before the deadline
func (c *Client) RequestStatus(ctx context.Context, publicKey []byte) (*Status, error) {
	if len(publicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: key of %d bytes", ErrInvalidKey, len(publicKey))
	}

	prefix := publicKey[:keyPrefixLen]
	reply := c.addWaiter(func(frame []byte) bool {
		return frame[0] == PushStatusResponse &&
			len(frame) >= statusHeaderLen &&
			bytes.Equal(frame[2:statusHeaderLen], prefix)
	}, 1)
	defer c.removeWaiter(reply)

	payload := make([]byte, 0, 1+PublicKeySize)
	payload = append(payload, CmdSendStatusReq)
	payload = append(payload, publicKey...)
	if _, err := c.command(ctx, payload, RespSent); err != nil {
		return nil, err
	}

	frame, err := c.await(ctx, reply)
	if err != nil {
		return nil, err
	}
	return DecodeStatus(frame)
}

// SetAdvertName changes the name the node advertises.
func (c *Client) SetAdvertName(ctx context.Context, name string) error {
	payload := append([]byte{CmdSetAdvertName}, name...)
	if _, err := c.command(ctx, payload, RespOK); err != nil {
		return err
	}

	c.stateMu.Lock()
	if c.self != nil {
		c.self.Name = name
	}
	c.stateMu.Unlock()
	return nil
}

// SetRadioParams changes the node's LoRa radio settings.
func (c *Client) SetRadioParams(ctx context.Context, p RadioParams) error {
	if err := p.Validate(); err != nil {
		return err
	}

	payload := make([]byte, 11)
	payload[0] = CmdSetRadioParams
	binary.LittleEndian.PutUint32(payload[1:5], uint32(p.FrequencyMHz*1000+0.5)) //nolint:gosec // range checked by Validate
	binary.LittleEndian.PutUint32(payload[5:9], uint32(p.BandwidthKHz*1000+0.5)) //nolint:gosec // range checked by Validate
	payload[9] = p.SpreadingFactor
	payload[10] = p.CodingRate

	if _, err := c.command(ctx, payload, RespOK); err != nil {
		return err
	}

	c.stateMu.Lock()
	if c.self != nil {
		radio := p
		c.self.Radio = &radio
	}
	c.stateMu.Unlock()
	return nil
}

// command sends payload and waits for one of the accepted response codes.
// An ERR frame becomes ErrDeviceRejected.
func (c *Client) command(ctx context.Context, payload []byte, accept ...byte) ([]byte, error) {
	frame, err := c.roundTrip(ctx, payload, codeIn(append(accept, RespErr)...))
	if err != nil {
		return nil, err
	}
	if frame[0] == RespErr {
		return nil, rejection(frame)
	}
	return frame, nil
}

func (c *Client) roundTrip(ctx context.Context, payload []byte, match func([]byte) bool) ([]byte, error) {
	w := c.addWaiter(match, 1)
	defer c.removeWaiter(w)

	if err := c.send(payload); err != nil {
		return nil, err
	}
	return c.await(ctx, w)
}

func (c *Client) send(payload []byte) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.transport.Send(payload)
}

// usable reports why the client can no longer issue commands, if it can't.
// Close takes precedence over a lost link.
func (c *Client) usable() error {
	select {
	case <-c.done.Done():
		return ErrClosed
	default:
	}
	select {
	case <-c.lost.Done():
		return c.lostError()
	default:
	}
	return nil
}

func (c *Client) await(ctx context.Context, w *waiter) ([]byte, error) {
	select {
	case frame := <-w.ch:
		return frame, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, ctx.Err())
	case <-c.lost.Done():
		return nil, c.usable()
	case <-c.done.Done():
		return nil, ErrClosed
	}
}

func (c *Client) addWaiter(match func([]byte) bool, depth int) *waiter {
	w := &waiter{match: match, ch: make(chan []byte, depth), gone: newCloseOnce()}
	c.waitersMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waitersMu.Unlock()
	return w
}

func (c *Client) removeWaiter(w *waiter) {
	w.gone.Close()
	c.waitersMu.Lock()
	c.waiters = slices.DeleteFunc(c.waiters, func(x *waiter) bool { return x == w })
	c.waitersMu.Unlock()
}

// readLoop routes inbound frames until the transport fails or is closed.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		frame, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done.Done():
			default:
				c.logger.Warn("node link lost", "transport", c.transport.String(), "error", err)
			}
			c.markLost(err)
			return
		}

		if c.deliver(frame) {
			continue
		}
		if isPush(frame[0]) {
			c.handlePush(frame)
			continue
		}
		c.logger.Debug("dropping unsolicited frame", "code", frame[0], "len", len(frame))
	}
}

// deliver hands frame to the oldest waiter that wants it.
func (c *Client) deliver(frame []byte) bool {
	c.waitersMu.Lock()
	var target *waiter
	for _, w := range c.waiters {
		if w.match(frame) {
			target = w
			break
		}
	}
	c.waitersMu.Unlock()

	if target == nil {
		return false
	}
	select {
	case target.ch <- frame:
	case <-target.gone.Done():
	case <-c.done.Done():
	}
	return true
}

func (c *Client) handlePush(frame []byte) {
	switch frame[0] {
	case PushLogRxData:
		key, sig, ok := decodeAdvertSignal(frame)
		if !ok {
			return
		}
		c.stateMu.Lock()
		if _, known := c.signals[key]; known || len(c.signals) < maxTrackedSignals {
			c.signals[key] = sig
		}
		c.stateMu.Unlock()
		c.logger.Debug("advert overheard", "public_key", key, "rssi", sig.RSSI, "snr", sig.SNR)
	case PushAdvert, PushNewAdvert:
		if len(frame) >= 1+PublicKeySize {
			c.logger.Debug("advert received", "public_key", hex.EncodeToString(frame[1:1+PublicKeySize]))
		}
	case PushStatusResponse:
		c.logger.Debug("dropping late status response")
	case PushMsgWaiting:
		c.logger.Debug("message waiting on node")
	case PushLoginSuccess:
		c.logger.Info("remote login accepted")
	case PushLoginFail:
		c.logger.Warn("remote login refused")
	default:
		c.logger.Debug("ignoring push", "code", frame[0])
	}
}

func (c *Client) attachSignal(contact *Contact) {
	c.stateMu.RLock()
	sig, ok := c.signals[contact.PublicKey]
	c.stateMu.RUnlock()
	if !ok {
		return
	}
	rssi, snr := sig.RSSI, sig.SNR
	contact.RSSI, contact.SNR = &rssi, &snr
}

func (c *Client) markLost(err error) {
	c.lostMu.Lock()
	if c.lostErr == nil {
		c.lostErr = err
	}
	c.lostMu.Unlock()
	c.lost.Close()
}

func (c *Client) lostError() error {
	c.lostMu.Lock()
	defer c.lostMu.Unlock()
	if c.lostErr == nil {
		return fmt.Errorf("%w: link lost", ErrTransport)
	}
	return c.lostErr
}

func (c *Client) appendTimestamp(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(c.now().Unix())) //nolint:gosec // firmware clock is u32 seconds
}

// codeIn matches frames whose code is one of codes.
func codeIn(codes ...byte) func([]byte) bool {
	return func(frame []byte) bool {
		return slices.Contains(codes, frame[0])
	}
}

func rejection(frame []byte) error {
	if len(frame) > 1 {
		return fmt.Errorf("%w: error code %d", ErrDeviceRejected, frame[1])
	}
	return ErrDeviceRejected
}
