package meshcore

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// pipeTransport is a Transport over one end of a net.Pipe.
type pipeTransport struct {
	streamLink
	conn    net.Conn
	openErr error
}

func (p *pipeTransport) Open(ctx context.Context) error {
	if p.openErr != nil {
		return p.openErr
	}
	p.attach(p.conn)
	return nil
}

func (p *pipeTransport) String() string { return "pipe" }

// fakeNode is the companion side of a pipeTransport.
type fakeNode struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func newPipePair(t *testing.T) (*pipeTransport, *fakeNode) {
	t.Helper()
	hostSide, nodeSide := net.Pipe()
	t.Cleanup(func() {
		hostSide.Close()
		nodeSide.Close()
	})
	return &pipeTransport{conn: hostSide}, &fakeNode{t: t, conn: nodeSide, reader: bufio.NewReader(nodeSide)}
}

// readCommand reads one host → node frame and returns its payload.
func (n *fakeNode) readCommand() []byte {
	n.t.Helper()
	_ = n.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var header [3]byte
	if _, err := io.ReadFull(n.reader, header[:]); err != nil {
		n.t.Errorf("fake node read header: %v", err)
		return nil
	}
	if header[0] != frameOutbound {
		n.t.Errorf("frame marker = %#x, want %#x", header[0], frameOutbound)
	}
	payload := make([]byte, binary.LittleEndian.Uint16(header[1:]))
	if _, err := io.ReadFull(n.reader, payload); err != nil {
		n.t.Errorf("fake node read payload: %v", err)
		return nil
	}
	return payload
}

// reply writes one node → host frame.
func (n *fakeNode) reply(payload []byte) {
	n.t.Helper()
	_ = n.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := n.conn.Write(inboundFrame(payload)); err != nil {
		n.t.Errorf("fake node write: %v", err)
	}
}

// handshake answers APP_START with a SELF_INFO frame.
func (n *fakeNode) handshake(name string) {
	n.t.Helper()
	cmd := n.readCommand()
	if len(cmd) == 0 || cmd[0] != CmdAppStart {
		n.t.Errorf("first command = %v, want APP_START", cmd)
		return
	}
	n.reply(selfInfoFrame(name, 51.5, -0.12))
}

func inboundFrame(payload []byte) []byte {
	frame := make([]byte, 3+len(payload))
	frame[0] = frameInbound
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[3:], payload)
	return frame
}

func testKey(fill byte) []byte {
	key := make([]byte, PublicKeySize)
	for i := range key {
		key[i] = fill
	}
	return key
}

func putCoord(b []byte, deg float64) {
	binary.LittleEndian.PutUint32(b, uint32(int32(deg*1e6)))
}

func selfInfoFrame(name string, lat, lon float64) []byte {
	f := make([]byte, 58, 58+len(name))
	f[0] = RespSelfInfo
	f[1] = AdvTypeChat
	f[2] = 20
	f[3] = 22
	copy(f[4:36], testKey(0xAA))
	putCoord(f[36:40], lat)
	putCoord(f[40:44], lon)
	binary.LittleEndian.PutUint32(f[48:52], 869525)
	binary.LittleEndian.PutUint32(f[52:56], 250000)
	f[56] = 11
	f[57] = 5
	return append(f, name...)
}

func contactFrame(fill byte, name string, lat, lon float64) []byte {
	f := make([]byte, contactModEnd)
	f[0] = RespContact
	copy(f[1:33], testKey(fill))
	f[33] = AdvTypeRepeater
	f[35] = 0xFF // flood
	copy(f[contactNameOff:contactMinLen], name)
	binary.LittleEndian.PutUint32(f[contactMinLen:contactAdvertEnd], 1700000000)
	putCoord(f[contactAdvertEnd:contactAdvertEnd+4], lat)
	putCoord(f[contactAdvertEnd+4:contactGeoEnd], lon)
	return f
}

func statusFrame(prefix []byte, batteryMV uint16, uptime uint32, extended bool) []byte {
	size := statusMinLen
	if extended {
		size = statusSNROff + 8
	}
	f := make([]byte, size)
	f[0] = PushStatusResponse
	copy(f[2:statusHeaderLen], prefix)
	b := f[statusHeaderLen:]
	binary.LittleEndian.PutUint16(b[0:2], batteryMV)
	binary.LittleEndian.PutUint16(b[2:4], 3)
	binary.LittleEndian.PutUint16(b[4:6], uint16(0xFF9C)) // -100
	binary.LittleEndian.PutUint16(b[6:8], uint16(0xFFAF)) // -81
	binary.LittleEndian.PutUint32(b[8:12], 1200)
	binary.LittleEndian.PutUint32(b[12:16], 800)
	binary.LittleEndian.PutUint32(b[16:20], 42)
	binary.LittleEndian.PutUint32(b[20:24], uptime)
	if extended {
		binary.LittleEndian.PutUint16(f[statusSNROff:statusSNROff+2], 26) // 6.5 dB
	}
	return f
}

// advertRxFrame builds a LOG_RX_DATA push carrying a flood-routed advert.
func advertRxFrame(fill byte, snrQuarterDB int8, rssi int8) []byte {
	raw := []byte{payloadTypeAdvert<<2 | 0x01, 2, 0x11, 0x22}
	raw = append(raw, testKey(fill)...)
	raw = append(raw, make([]byte, 40)...)
	return append([]byte{PushLogRxData, byte(snrQuarterDB), byte(rssi)}, raw...)
}
