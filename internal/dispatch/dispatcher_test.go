package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/meshcore"
	"github.com/nerrad567/meshcore-bridge/internal/session"
	"github.com/nerrad567/meshcore-bridge/internal/wire"
)

// stubDevice answers every device call from fixed fields.
type stubDevice struct {
	connectErr error
	sendErr    error
	contacts   []meshcore.Contact
	status     *meshcore.Status
	panicOn    string

	lastText    string
	lastChannel uint8
	lastPrefix  []byte
	lastFlood   bool
	lastRadio   meshcore.RadioParams
}

func (d *stubDevice) Connect(context.Context) (*meshcore.SelfInfo, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return &meshcore.SelfInfo{
		AdvType:   meshcore.AdvTypeChat,
		PublicKey: strings.Repeat("cd", 32),
		Name:      "node",
	}, nil
}

func (d *stubDevice) SelfInfo() *meshcore.SelfInfo { return nil }

func (d *stubDevice) GetContacts(context.Context) ([]meshcore.Contact, error) {
	if d.panicOn == "contacts" {
		panic("contact table corrupt")
	}
	return d.contacts, d.sendErr
}

func (d *stubDevice) SendText(_ context.Context, prefix []byte, text string) error {
	d.lastPrefix, d.lastText = prefix, text
	return d.sendErr
}

func (d *stubDevice) SendChannelText(_ context.Context, channel uint8, text string) error {
	d.lastChannel, d.lastText = channel, text
	return d.sendErr
}

func (d *stubDevice) SendAdvert(_ context.Context, flood bool) error {
	d.lastFlood = flood
	return d.sendErr
}

func (d *stubDevice) SendLogin(context.Context, []byte, string) error { return d.sendErr }

func (d *stubDevice) RequestStatus(ctx context.Context, _ []byte) (*meshcore.Status, error) {
	if d.status != nil {
		return d.status, nil
	}
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", meshcore.ErrNoResponse, ctx.Err())
}

func (d *stubDevice) SetAdvertName(context.Context, string) error { return d.sendErr }

func (d *stubDevice) SetRadioParams(_ context.Context, p meshcore.RadioParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.lastRadio = p
	return d.sendErr
}

func (d *stubDevice) Close() error { return nil }

type stopRecorder struct {
	mu    sync.Mutex
	stops int
}

func (s *stopRecorder) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

type recordSink struct {
	mu      sync.Mutex
	records []Record
}

func (r *recordSink) RecordCommand(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

type fixture struct {
	dispatcher *Dispatcher
	device     *stubDevice
	opened     []session.ConnectParams
	stopper    *stopRecorder
	records    *recordSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		device:  &stubDevice{},
		stopper: &stopRecorder{},
		records: &recordSink{},
	}
	s := session.New(session.Options{
		Opener: func(p session.ConnectParams) (session.Device, error) {
			f.opened = append(f.opened, p)
			return f.device, nil
		},
		Capabilities: session.Capabilities{Serial: true, TCP: true},
		Config:       session.Config{CommandTimeout: time.Second},
	})
	f.dispatcher = New(s, Options{
		Defaults: Defaults{SerialPort: "/dev/ttyUSB0", Baud: 115200, StatusTimeout: 50 * time.Millisecond},
		Stopper:  f.stopper,
		Recorder: f.records,
		ListPorts: func() ([]string, error) {
			return []string{"/dev/ttyACM0", "/dev/ttyUSB0"}, nil
		},
	})
	return f
}

// call decodes line as a request and dispatches it.
func (f *fixture) call(t *testing.T, line string) wire.Response {
	t.Helper()
	req, err := wire.DecodeRequest([]byte(line))
	if err != nil {
		t.Fatalf("DecodeRequest(%s) error = %v", line, err)
	}
	return f.dispatcher.Handle(context.Background(), req)
}

// encode renders resp exactly as the bridge writes it.
func encode(t *testing.T, resp wire.Response) string {
	t.Helper()
	var buf bytes.Buffer
	if err := wire.NewWriter(&buf).Write(resp); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func TestHandle_Ping(t *testing.T) {
	f := newFixture(t)

	got := encode(t, f.call(t, `{"id":"1","cmd":"ping"}`))
	want := `{"id":"1","success":true,"data":"pong"}`
	if got != want {
		t.Errorf("ping = %s, want %s", got, want)
	}
}

func TestHandle_EchoesIDVerbatim(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		line string
		want string
	}{
		{`{"id":7,"cmd":"ping"}`, `7`},
		{`{"id":{"seq":2},"cmd":"ping"}`, `{"seq":2}`},
		{`{"id":null,"cmd":"ping"}`, `null`},
		{`{"cmd":"ping"}`, `"unknown"`},
	}
	for _, tc := range tests {
		resp := f.call(t, tc.line)
		if string(resp.ID) != tc.want {
			t.Errorf("%s: id = %s, want %s", tc.line, resp.ID, tc.want)
		}
	}
}

func TestHandle_RequiresConnection(t *testing.T) {
	f := newFixture(t)

	lines := []string{
		`{"id":1,"cmd":"get_self_info"}`,
		`{"id":1,"cmd":"get_contacts"}`,
		`{"id":1,"cmd":"send_message","text":"hi"}`,
		`{"id":1,"cmd":"send_advert"}`,
		`{"id":1,"cmd":"set_name","name":"x"}`,
	}
	for _, line := range lines {
		resp := f.call(t, line)
		if resp.Success || resp.Error != "Not connected" {
			t.Errorf("%s: got success=%v error=%q, want Not connected", line, resp.Success, resp.Error)
		}
	}
}

func TestHandle_UnknownCommand(t *testing.T) {
	f := newFixture(t)

	got := encode(t, f.call(t, `{"id":"9","cmd":"reboot"}`))
	want := `{"id":"9","success":false,"error":"Unknown command: reboot"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHandle_ConnectDefaults(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"id":1,"cmd":"connect"}`)
	if !resp.Success {
		t.Fatalf("connect failed: %s", resp.Error)
	}
	if len(f.opened) != 1 {
		t.Fatalf("opened %d devices, want 1", len(f.opened))
	}
	p := f.opened[0]
	if p.Kind != session.KindSerial || p.SerialPort != "/dev/ttyUSB0" || p.Baud != 115200 {
		t.Errorf("connect params = %+v", p)
	}

	data := resp.Data.(map[string]any)
	if data["connected"] != true {
		t.Errorf("connected = %v, want true", data["connected"])
	}
	if self, ok := data["self_info"].(*session.SelfIdentity); !ok || self.Name != "node" {
		t.Errorf("self_info = %#v", data["self_info"])
	}
}

func TestHandle_ConnectTCP(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"id":1,"cmd":"connect","type":"tcp","host":"10.0.0.5","tcp_port":5000}`)
	if !resp.Success {
		t.Fatalf("connect failed: %s", resp.Error)
	}
	p := f.opened[0]
	if p.Kind != session.KindTCP || p.Host != "10.0.0.5" || p.Port != 5000 {
		t.Errorf("connect params = %+v", p)
	}
}

func TestHandle_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"bad type", `{"id":1,"cmd":"connect","type":"bluetooth"}`, `Invalid parameter: type must be "serial" or "tcp"`},
		{"string baud", `{"id":1,"cmd":"connect","baud":"fast"}`, "Invalid parameter: baud must be an integer"},
		{"port out of range", `{"id":1,"cmd":"connect","type":"tcp","tcp_port":70000}`, "Invalid parameter: tcp_port must be between 1 and 65535"},
		{"missing radio", `{"id":1,"cmd":"set_radio","freq":869.5}`, "Invalid parameter: bw is required"},
		{"login without key", `{"id":1,"cmd":"login"}`, "Invalid parameter: public_key is required"},
		{"status bad timeout", `{"id":1,"cmd":"get_status","public_key":"aa","timeout":-1}`, "Invalid parameter: timeout must be positive"},
		{"advert flood type", `{"id":1,"cmd":"send_advert","flood":"yes"}`, "Invalid parameter: flood must be a boolean"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.call(t, tc.line)
			if resp.Success {
				t.Fatal("expected failure")
			}
			if resp.Error != tc.want {
				t.Errorf("error = %q, want %q", resp.Error, tc.want)
			}
		})
	}
}

func TestHandle_DeviceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"silent", fmt.Errorf("%w: deadline", meshcore.ErrNoResponse), msgNoDeviceResponse},
		{"rejected", fmt.Errorf("%w: error code 2", meshcore.ErrDeviceRejected), "Device rejected command: error code 2"},
		{"link", fmt.Errorf("%w: broken pipe", meshcore.ErrTransport), "Transport error: broken pipe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if resp := f.call(t, `{"id":1,"cmd":"connect"}`); !resp.Success {
				t.Fatalf("connect failed: %s", resp.Error)
			}
			f.device.sendErr = tc.err

			resp := f.call(t, `{"id":2,"cmd":"send_advert"}`)
			if resp.Error != tc.want {
				t.Errorf("error = %q, want %q", resp.Error, tc.want)
			}
		})
	}
}

func TestHandle_ConnectNoResponse(t *testing.T) {
	f := newFixture(t)
	f.device.connectErr = fmt.Errorf("%w: handshake", meshcore.ErrNoResponse)

	resp := f.call(t, `{"id":1,"cmd":"connect"}`)
	if resp.Error != msgNoDeviceResponse {
		t.Errorf("error = %q, want %q", resp.Error, msgNoDeviceResponse)
	}
}

func TestHandle_SendMessageRouting(t *testing.T) {
	f := newFixture(t)
	f.call(t, `{"id":1,"cmd":"connect"}`)

	resp := f.call(t, `{"id":2,"cmd":"send_message","text":"to all","channel":3}`)
	if !resp.Success {
		t.Fatalf("channel send failed: %s", resp.Error)
	}
	if f.device.lastChannel != 3 || f.device.lastText != "to all" {
		t.Errorf("channel send = %d %q", f.device.lastChannel, f.device.lastText)
	}

	resp = f.call(t, `{"id":3,"cmd":"send_message","text":"direct","to":"a1b2c3d4e5f6"}`)
	if !resp.Success {
		t.Fatalf("direct send failed: %s", resp.Error)
	}
	if len(f.device.lastPrefix) != 6 || f.device.lastText != "direct" {
		t.Errorf("direct send = %x %q", f.device.lastPrefix, f.device.lastText)
	}
	if got := encode(t, resp); got != `{"id":3,"success":true,"data":{"sent":true}}` {
		t.Errorf("response = %s", got)
	}
}

func TestHandle_SetRadio(t *testing.T) {
	f := newFixture(t)
	f.call(t, `{"id":1,"cmd":"connect"}`)

	resp := f.call(t, `{"id":2,"cmd":"set_radio","freq":"869.525","bw":250,"sf":11,"cr":5}`)
	if !resp.Success {
		t.Fatalf("set_radio failed: %s", resp.Error)
	}
	if f.device.lastRadio.FrequencyMHz != 869.525 || f.device.lastRadio.SpreadingFactor != 11 {
		t.Errorf("radio = %+v", f.device.lastRadio)
	}

	resp = f.call(t, `{"id":3,"cmd":"set_radio","freq":869.525,"bw":250,"sf":4,"cr":5}`)
	if resp.Success || !strings.HasPrefix(resp.Error, "Invalid parameter: ") {
		t.Errorf("out-of-range sf: success=%v error=%q", resp.Success, resp.Error)
	}
}

func TestHandle_GetStatusTimesOut(t *testing.T) {
	f := newFixture(t)
	f.call(t, `{"id":1,"cmd":"connect"}`)

	key := strings.Repeat("ef", 32)
	start := time.Now()
	resp := f.call(t, `{"id":2,"cmd":"get_status","public_key":"`+key+`","timeout":0.1}`)
	if resp.Error != msgNoStatusResponse {
		t.Fatalf("error = %q, want %q", resp.Error, msgNoStatusResponse)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, before the requested wait", elapsed)
	}
}

func TestHandle_GetStatus(t *testing.T) {
	f := newFixture(t)
	f.call(t, `{"id":1,"cmd":"connect"}`)
	f.device.status = &meshcore.Status{BatteryMV: 4100, UptimeSecs: 60}

	resp := f.call(t, `{"id":2,"cmd":"get_status","public_key":"`+strings.Repeat("ef", 32)+`"}`)
	if !resp.Success {
		t.Fatalf("get_status failed: %s", resp.Error)
	}
	rec, ok := resp.Data.(*session.StatusRecord)
	if !ok {
		t.Fatalf("data = %T, want *session.StatusRecord", resp.Data)
	}
	if rec.BatteryMV != 4100 {
		t.Errorf("bat_mv = %d, want 4100", rec.BatteryMV)
	}
}

func TestHandle_PanicRecovered(t *testing.T) {
	f := newFixture(t)
	f.call(t, `{"id":1,"cmd":"connect"}`)
	f.device.panicOn = "contacts"

	resp := f.call(t, `{"id":2,"cmd":"get_contacts"}`)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Error != "Internal error: contact table corrupt" {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Detail != "contact table corrupt" {
		t.Errorf("detail = %q", resp.Detail)
	}

	// The dispatcher keeps working afterwards.
	if resp := f.call(t, `{"id":3,"cmd":"ping"}`); !resp.Success {
		t.Errorf("ping after panic failed: %s", resp.Error)
	}
	if st := f.dispatcher.Stats(); st.Panics != 1 || st.Failures != 1 || st.Commands != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHandle_Shutdown(t *testing.T) {
	f := newFixture(t)
	f.call(t, `{"id":1,"cmd":"connect"}`)

	got := encode(t, f.call(t, `{"id":"s","cmd":"shutdown"}`))
	if got != `{"id":"s","success":true,"data":{"shutdown":true}}` {
		t.Errorf("shutdown = %s", got)
	}
	if f.stopper.stops != 1 {
		t.Errorf("Stop() called %d times, want 1", f.stopper.stops)
	}
	if resp := f.call(t, `{"id":2,"cmd":"get_self_info"}`); resp.Error != "Not connected" {
		t.Errorf("after shutdown error = %q, want Not connected", resp.Error)
	}
}

func TestHandle_DisconnectIdempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		got := encode(t, f.call(t, `{"id":1,"cmd":"disconnect"}`))
		if got != `{"id":1,"success":true,"data":{"connected":false}}` {
			t.Errorf("disconnect #%d = %s", i+1, got)
		}
	}
}

func TestHandle_ListPorts(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"id":1,"cmd":"list_ports"}`)
	ports, ok := resp.Data.([]string)
	if !resp.Success || !ok || len(ports) != 2 {
		t.Errorf("list_ports = %+v", resp)
	}
}

func TestHandle_RecordsEveryCommand(t *testing.T) {
	f := newFixture(t)

	f.call(t, `{"id":"a","cmd":"ping"}`)
	f.call(t, `{"id":"b","cmd":"nope"}`)

	f.records.mu.Lock()
	defer f.records.mu.Unlock()
	if len(f.records.records) != 2 {
		t.Fatalf("recorded %d commands, want 2", len(f.records.records))
	}
	first, second := f.records.records[0], f.records.records[1]
	if first.Command != "ping" || !first.Success || string(first.CorrelationID) != `"a"` {
		t.Errorf("first record = %+v", first)
	}
	if second.Success || second.Error != "Unknown command: nope" {
		t.Errorf("second record = %+v", second)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not connected", session.ErrNotConnected, "Not connected"},
		{"unavailable", fmt.Errorf("%w: tcp", session.ErrTransportUnavailable), "Transport unavailable: tcp"},
		{"invalid argument", fmt.Errorf("%w: channel 300 out of range 0-255", session.ErrInvalidArgument), "Invalid parameter: channel 300 out of range 0-255"},
		{"param", &paramError{name: "sf", reason: "is required"}, "Invalid parameter: sf is required"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Message(tc.err); got != tc.want {
				t.Errorf("Message() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	names := f.dispatcher.Commands()
	raw, _ := json.Marshal(names)
	for _, want := range []string{"connect", "get_status", "ping", "shutdown"} {
		if !strings.Contains(string(raw), `"`+want+`"`) {
			t.Errorf("Commands() = %s, missing %s", raw, want)
		}
	}
}
