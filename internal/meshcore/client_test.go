package meshcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"
)

func connectedClient(t *testing.T) (*Client, *fakeNode) {
	t.Helper()
	transport, node := newPipePair(t)
	client := NewClient(transport, "meshbridge")
	t.Cleanup(func() { client.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		node.handshake("base")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-done
	return client, node
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_Connect(t *testing.T) {
	transport, node := newPipePair(t)
	client := NewClient(transport, "meshbridge")
	defer client.Close()

	got := make(chan []byte, 1)
	go func() {
		cmd := node.readCommand()
		got <- cmd
		node.reply(selfInfoFrame("base", 51.5, -0.12))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if info.Name != "base" {
		t.Errorf("Name = %q, want base", info.Name)
	}

	cmd := <-got
	if cmd[0] != CmdAppStart || cmd[1] != appProtocolVersion {
		t.Errorf("APP_START header = %x", cmd[:2])
	}
	if name := string(cmd[8:]); name != "meshbridge" {
		t.Errorf("app name = %q, want meshbridge", name)
	}
	if client.SelfInfo() == nil {
		t.Error("SelfInfo() should be cached after Connect")
	}
}

func TestClient_Connect_NoResponse(t *testing.T) {
	transport, node := newPipePair(t)
	client := NewClient(transport, "meshbridge")

	go node.readCommand() // a repeater swallows APP_START silently

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Connect(ctx)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Connect() error = %v, want ErrNoResponse", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Error("no-response must be distinguishable from a transport failure")
	}
}

func TestClient_Connect_OpenFailure(t *testing.T) {
	transport, _ := newPipePair(t)
	transport.openErr = fmt.Errorf("%w: no such port", ErrTransport)
	client := NewClient(transport, "meshbridge")

	_, err := client.Connect(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Connect() error = %v, want ErrTransport", err)
	}
}

func TestClient_GetContacts(t *testing.T) {
	client, node := connectedClient(t)

	go func() {
		// An advert overheard before the refresh gives contact 0x42 a signal.
		node.reply(advertRxFrame(0x42, 20, -70))

		if cmd := node.readCommand(); len(cmd) == 0 || cmd[0] != CmdGetContacts {
			t.Errorf("command = %v, want GET_CONTACTS", cmd)
			return
		}
		start := []byte{RespContactsStart, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(start[1:], 2)
		node.reply(start)
		node.reply(contactFrame(0x42, "hilltop", 51.4, -0.1))
		node.reply([]byte{PushMsgWaiting})
		node.reply(contactFrame(0x17, "valley", 0, 0))
		node.reply([]byte{RespEndOfContacts})
	}()

	waitFor(t, func() bool {
		client.stateMu.RLock()
		defer client.stateMu.RUnlock()
		_, ok := client.signals[hex.EncodeToString(testKey(0x42))]
		return ok
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	contacts, err := client.GetContacts(ctx)
	if err != nil {
		t.Fatalf("GetContacts() error = %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2", len(contacts))
	}

	hill := contacts[0]
	if hill.Name != "hilltop" {
		t.Errorf("contacts[0].Name = %q, want hilltop", hill.Name)
	}
	if hill.RSSI == nil || *hill.RSSI != -70 || hill.SNR == nil || *hill.SNR != 5 {
		t.Errorf("hilltop signal = %v/%v, want -70/5", hill.RSSI, hill.SNR)
	}
	if contacts[1].RSSI != nil {
		t.Error("valley has not been heard and should carry no signal")
	}
}

func TestClient_SendText(t *testing.T) {
	client, node := connectedClient(t)
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	dst := testKey(0x42)

	got := make(chan []byte, 1)
	go func() {
		cmd := node.readCommand()
		got <- cmd
		node.reply([]byte{RespSent, 0, 1, 2, 3, 4, 5, 6, 7, 8})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.SendText(ctx, dst, "hello mesh"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	cmd := <-got
	if cmd[0] != CmdSendTxtMsg {
		t.Errorf("code = %#x, want SEND_TXT_MSG", cmd[0])
	}
	if ts := binary.LittleEndian.Uint32(cmd[3:7]); ts != 1700000000 {
		t.Errorf("timestamp = %d", ts)
	}
	if !bytes.Equal(cmd[7:13], dst[:6]) {
		t.Errorf("destination prefix = %x", cmd[7:13])
	}
	if string(cmd[13:]) != "hello mesh" {
		t.Errorf("text = %q", cmd[13:])
	}
}

func TestClient_CommandRejected(t *testing.T) {
	client, node := connectedClient(t)

	go func() {
		node.readCommand()
		node.reply([]byte{RespErr, 2})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := client.SendChannelText(ctx, 0, "hi all")
	if !errors.Is(err, ErrDeviceRejected) {
		t.Fatalf("SendChannelText() error = %v, want ErrDeviceRejected", err)
	}
}

func TestClient_SetRadioParams(t *testing.T) {
	client, node := connectedClient(t)

	got := make(chan []byte, 1)
	go func() {
		got <- node.readCommand()
		node.reply([]byte{RespOK})
	}()

	params := RadioParams{FrequencyMHz: 906.875, BandwidthKHz: 250, SpreadingFactor: 11, CodingRate: 8}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.SetRadioParams(ctx, params); err != nil {
		t.Fatalf("SetRadioParams() error = %v", err)
	}

	cmd := <-got
	if freq := binary.LittleEndian.Uint32(cmd[1:5]); freq != 906875 {
		t.Errorf("freq = %d, want 906875", freq)
	}
	if bw := binary.LittleEndian.Uint32(cmd[5:9]); bw != 250000 {
		t.Errorf("bw = %d, want 250000", bw)
	}
	if cmd[9] != 11 || cmd[10] != 8 {
		t.Errorf("sf/cr = %d/%d", cmd[9], cmd[10])
	}
	if r := client.SelfInfo().Radio; r == nil || *r != params {
		t.Errorf("cached radio = %+v, want %+v", r, params)
	}
}

func TestClient_SetRadioParams_Invalid(t *testing.T) {
	client, _ := connectedClient(t)

	err := client.SetRadioParams(context.Background(), RadioParams{FrequencyMHz: 906.875, BandwidthKHz: 250, SpreadingFactor: 20, CodingRate: 8})
	if !errors.Is(err, ErrInvalidRadioParams) {
		t.Fatalf("SetRadioParams() error = %v, want ErrInvalidRadioParams", err)
	}
}

func TestClient_SetAdvertName(t *testing.T) {
	client, node := connectedClient(t)

	go func() {
		node.readCommand()
		node.reply([]byte{RespOK})
	}()

	if err := client.SetAdvertName(context.Background(), "renamed"); err != nil {
		t.Fatalf("SetAdvertName() error = %v", err)
	}
	if name := client.SelfInfo().Name; name != "renamed" {
		t.Errorf("cached name = %q, want renamed", name)
	}
}

func TestClient_RequestStatus(t *testing.T) {
	client, node := connectedClient(t)
	target := testKey(0x55)

	go func() {
		if cmd := node.readCommand(); len(cmd) == 0 || cmd[0] != CmdSendStatusReq {
			t.Errorf("command = %v, want SEND_STATUS_REQ", cmd)
			return
		}
		node.reply([]byte{RespSent, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		node.reply(statusFrame(testKey(0x66)[:6], 3000, 1, false)) // someone else's
		node.reply(statusFrame(target[:6], 4100, 3600, true))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := client.RequestStatus(ctx, target)
	if err != nil {
		t.Fatalf("RequestStatus() error = %v", err)
	}
	if st.BatteryMV != 4100 || st.UptimeSecs != 3600 {
		t.Errorf("status = %+v, want bat 4100 up 3600", st)
	}
	if st.KeyPrefix != hex.EncodeToString(target[:6]) {
		t.Errorf("KeyPrefix = %s", st.KeyPrefix)
	}
}

func TestClient_RequestStatus_Timeout(t *testing.T) {
	client, node := connectedClient(t)

	go func() {
		node.readCommand()
		node.reply([]byte{RespSent, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	}()

	const wait = 80 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	start := time.Now()
	_, err := client.RequestStatus(ctx, testKey(0x55))
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("RequestStatus() error = %v, want ErrNoResponse", err)
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Errorf("gave up after %v, before the %v deadline", elapsed, wait)
	}
}

func TestClient_LinkLost(t *testing.T) {
	client, node := connectedClient(t)

	node.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.SendAdvert(ctx, true)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("SendAdvert() after link loss error = %v, want ErrTransport", err)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	client, _ := connectedClient(t)

	if err := client.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.SendAdvert(context.Background(), false); !errors.Is(err, ErrClosed) {
		t.Errorf("SendAdvert() after Close error = %v, want ErrClosed", err)
	}
}

func TestNetworkTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write(inboundFrame([]byte{RespOK}))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	transport := NewNetworkTransport("127.0.0.1", addr.Port)
	if want := "tcp:127.0.0.1:" + strconv.Itoa(addr.Port); transport.String() != want {
		t.Errorf("String() = %q, want %q", transport.String(), want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := transport.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer transport.Close()

	if err := transport.Send([]byte{CmdGetContacts}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	payload, err := transport.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(payload, []byte{RespOK}) {
		t.Errorf("Receive() = %x, want %x", payload, []byte{RespOK})
	}
}

func TestNetworkTransport_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	transport := NewNetworkTransport("127.0.0.1", port)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := transport.Open(ctx); !errors.Is(err, ErrTransport) {
		t.Errorf("Open() error = %v, want ErrTransport", err)
	}
}

func TestSerialTransport_MissingPort(t *testing.T) {
	transport := NewSerialTransport("/dev/meshbridge-does-not-exist", 115200)
	if transport.String() != "serial:/dev/meshbridge-does-not-exist" {
		t.Errorf("String() = %q", transport.String())
	}
	if err := transport.Open(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("Open() error = %v, want ErrTransport", err)
	}
	if err := transport.Send([]byte{CmdGetContacts}); !errors.Is(err, ErrTransport) {
		t.Errorf("Send() on unopened port error = %v, want ErrTransport", err)
	}
}
