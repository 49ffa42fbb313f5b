package client

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/fact"
)

const (
	dialTimeout         = 10 * time.Second
	reconnectMaxBackoff = 30 * time.Second
)

// Run connects to the hub's websocket endpoint and feeds the broadcast
// stream into the reconciliation engine. A lost connection triggers capped
// exponential backoff; every successful (re)connect performs one full
// authoritative refetch, since no fact log is retained server-side to replay
// from. Run blocks until the context is cancelled.
func (s *Session) Run(ctx context.Context, wsURL string) error {
	for {
		conn, err := s.dial(ctx, wsURL)
		if err != nil {
			return err
		}
		if err := s.Refetch(ctx); err != nil {
			s.logger.Warn("refetch after connect failed", zap.Error(err))
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		s.attachConn(conn)
		s.readLoop(ctx, conn)
		s.detachConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("connection lost, reconnecting")
	}
}

func (s *Session) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = reconnectMaxBackoff
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn
	operation := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		dialed, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
		if err != nil {
			s.logger.Warn("dial failed", zap.String("url", wsURL), zap.Error(err))
			return err
		}
		conn = dialed
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// attachConn installs the control-message sender and flushes anything queued
// while disconnected.
func (s *Session) attachConn(conn *websocket.Conn) {
	var writeMu sync.Mutex
	sender := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	s.mu.Lock()
	queued := s.control
	s.control = nil
	s.sender = sender
	s.mu.Unlock()

	for _, payload := range queued {
		if err := sender(payload); err != nil {
			s.logger.Warn("queued control message failed", zap.Error(err))
		}
	}
}

func (s *Session) detachConn() {
	s.mu.Lock()
	s.sender = nil
	s.mu.Unlock()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		envelope, err := fact.Decode(raw)
		if err != nil {
			s.logger.Warn("undecodable fact", zap.Error(err))
			continue
		}
		if err := s.ApplyFact(ctx, envelope); err != nil {
			s.logger.Warn("fact merge failed",
				zap.String("kind", string(envelope.Fact.Kind())), zap.Error(err))
		}
	}
}
