package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsAck          = "Connected to agent log stream"
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The frontend may be served from anywhere; CORS is open as well.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogsWS streams every task's progress lines over a WebSocket. After
// an acknowledgement frame it drains pending lines on a fixed interval
// without blocking, so an idle stream costs nothing. Closing the socket
// ends only this subscriber; the running task is unaffected.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer trackStream(transportWebSocket)()

	ch, unsub := s.session.Broker().SubscribeAll()
	defer unsub()

	if err := s.writeWS(conn, wsAck); err != nil {
		return
	}

	// Reads only detect the client going away; inbound frames are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.LogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := s.drainToWS(conn, ch); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// drainToWS forwards every line already waiting on ch.
func (s *Server) drainToWS(conn *websocket.Conn, ch <-chan string) error {
	for {
		select {
		case line := <-ch:
			if err := s.writeWS(conn, line); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, text string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}
