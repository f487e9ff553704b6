package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Control message types accepted from stream clients.
const (
	ControlSubscribe   = "subscribe"
	ControlUnsubscribe = "unsubscribe"
	ControlPing        = "ping"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback and read-only; any origin may watch.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream upgrades to a WebSocket and streams session events.
//
// The channels query parameter (comma separated) picks what to follow.
// Without it the client follows every channel. An unknown channel fails
// the request with 400 before the upgrade. The first frame is a snapshot
// of the current session view.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	names := []string{ChannelAll}
	if raw := r.URL.Query().Get("channels"); raw != "" {
		names = strings.Split(raw, ",")
	}
	kinds, err := parseChannels(names)
	if err != nil {
		fail(w, r, CodeBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err, "request_id", requestIDFrom(r))
		return
	}

	c := newStreamClient(s.hub, kinds, clientQueueSize)
	c.closeConn = func() { conn.Close() }
	s.hub.join(c)

	go c.writeTo(conn)
	c.readFrom(conn)
}

// readFrom serves control messages until the connection fails or goes
// quiet for longer than one ping interval plus pongWait.
func (c *streamClient) readFrom(conn *websocket.Conn) {
	defer func() {
		c.hub.leave(c)
		conn.Close()
	}()

	idle := c.hub.cfg.PingInterval + pongWait
	extend := func() {
		//nolint:errcheck // a failed deadline surfaces as a read error
		conn.SetReadDeadline(time.Now().Add(idle))
	}

	conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read failed", "error", err)
			}
			return
		}
		extend()
		c.handleControl(data)
	}
}

// writeTo drains the queue onto the connection and keeps it alive with
// pings. A closed queue ends the stream with a close frame.
func (c *streamClient) writeTo(conn *websocket.Conn) {
	ping := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		var err error
		select {
		case data, ok := <-c.queue:
			//nolint:errcheck // a failed deadline surfaces as a write error
			conn.SetWriteDeadline(time.Now().Add(pongWait))
			if !ok {
				//nolint:errcheck // peer may already be gone
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			err = conn.WriteMessage(websocket.TextMessage, data)
		case <-ping.C:
			//nolint:errcheck // a failed deadline surfaces as a write error
			conn.SetWriteDeadline(time.Now().Add(pongWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			c.hub.logger.Debug("stream write failed", "error", err)
			return
		}
	}
}

// handleControl applies one control message and answers it.
func (c *streamClient) handleControl(data []byte) {
	var ctl Control
	if err := json.Unmarshal(data, &ctl); err != nil {
		c.reply(Frame{Type: FrameError, Error: "invalid JSON control message"})
		return
	}

	switch ctl.Type {
	case ControlSubscribe, ControlUnsubscribe:
		kinds, err := parseChannels(ctl.Channels)
		if err != nil {
			c.reply(Frame{Type: FrameError, ID: ctl.ID, Error: err.Error()})
			return
		}
		channels := c.update(kinds, ctl.Type == ControlSubscribe)
		c.hub.logger.Debug("stream subscription changed", "channels", channels)
		c.reply(Frame{Type: FrameAck, ID: ctl.ID, Channels: channels})
	case ControlPing:
		c.reply(Frame{Type: FramePong, ID: ctl.ID})
	default:
		c.reply(Frame{Type: FrameError, ID: ctl.ID, Error: "unknown control type " + ctl.Type})
	}
}

func (c *streamClient) reply(f Frame) {
	f.Time = time.Now().UTC()
	c.push(f)
}
