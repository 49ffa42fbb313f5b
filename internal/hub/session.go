package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/fact"
)

const (
	sessionSendBuffer = 64
	writeDeadline     = 10 * time.Second

	controlRename    = "session.rename"
	controlKeepalive = "ping"
)

// session is one live websocket attachment on the hub side. The send channel
// is never closed: teardown is signalled through done, so a broadcast racing
// a close can still call enqueue safely while the session is being
// unregistered.
type session struct {
	info      fact.SessionInfo
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

type controlMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Attach registers a websocket connection as a session: it assigns identity,
// sends session.joined to the new connection, broadcasts presence, and runs
// the read/write pumps until the connection dies.
func (h *Hub) Attach(conn *websocket.Conn) {
	sessionID := "session-" + uuid.NewString()
	sess := &session{
		info: fact.SessionInfo{
			ID:       sessionID,
			Name:     GenerateDisplayName(sessionID),
			JoinedAt: h.clock().UTC(),
		},
		conn: conn,
		send: make(chan []byte, sessionSendBuffer),
		done: make(chan struct{}),
	}
	h.register(sess)
	h.sendTo(sess, fact.SessionJoined{Session: sess.info})
	h.broadcastPresence()

	go sess.writePump()
	sess.readPump(h)

	h.unregister(sess)
	sess.close()
}

func (s *session) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) readPump(h *Hub) {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var control controlMessage
		if err := json.Unmarshal(message, &control); err != nil {
			h.logger.Warn("undecodable control message",
				zap.String("session_id", s.info.ID), zap.Error(err))
			continue
		}
		switch control.Type {
		case controlRename:
			h.rename(s, control.Name)
		case controlKeepalive:
		default:
			h.logger.Debug("ignoring control message",
				zap.String("session_id", s.info.ID), zap.String("type", control.Type))
		}
	}
}

func (s *session) writePump() {
	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return
		}
	}
}

func truncateRunes(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	runes := []rune(trimmed)
	if len(runes) > max {
		return string(runes[:max])
	}
	return trimmed
}
