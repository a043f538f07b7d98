package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pushbeam/backend/internal/hub"
)

const (
	// writeWait is the maximum time allowed to write a message to the
	// peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the
	// peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize limits inbound frames; subscribers only listen,
	// so anything beyond control traffic is unexpected.
	maxMessageSize = 512
)

// handleWS upgrades the connection and bridges a hub subscription to
// it: every broadcast record is pushed as one JSON text message, in
// publish order, until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// Register before completing the handshake so a record published
	// right after the client sees the 101 is already buffered for it.
	sub := s.hub.Subscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.hub.Unsubscribe(sub.ID)
		return
	}

	log.Printf("server: ws subscriber %s connected (total: %d)", sub.ID, s.hub.Len())

	go s.writePump(conn, sub)
	go s.readPump(conn, sub)
}

// checkOrigin allows requests without an Origin header (non-browser
// clients) and browser requests from a configured origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Origins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	log.Printf("server: rejected ws origin %q", origin)
	return false
}

// writePump pushes hub records to the connection and keeps it alive
// with pings. It exits when the subscription channel closes or a
// write fails, unsubscribing either way.
func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.hub.Unsubscribe(sub.ID)
		conn.Close()
	}()

	for {
		select {
		case rec, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				log.Printf("server: ws subscriber %s write error: %v", sub.ID, err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames to detect disconnects and keep pong
// handling alive. Subscribers have nothing to say; payloads are
// discarded.
func (s *Server) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub.ID)
		conn.Close()
		log.Printf("server: ws subscriber %s disconnected", sub.ID)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("server: ws subscriber %s read error: %v", sub.ID, err)
			}
			return
		}
	}
}
