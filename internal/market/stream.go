package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second
)

// PriceUpdateHandler is called for every price refresh received on the stream.
type PriceUpdateHandler func(ctx context.Context, update PriceUpdate)

// Stream connects to the market price websocket, subscribes to the given
// market ids, and invokes the handler on each update. It reconnects with a
// delay on disconnect and runs until the context is cancelled.
type Stream struct {
	wsURL     string
	marketIDs []string
	onUpdate  PriceUpdateHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewStream creates a stream that will subscribe to the given market ids.
func NewStream(wsURL string, marketIDs []string, onUpdate PriceUpdateHandler, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:     wsURL,
		marketIDs: marketIDs,
		onUpdate:  onUpdate,
		logger:    logger.With(slog.String("component", "market_stream")),
		done:      make(chan struct{}),
	}
}

// Run connects and processes updates until ctx is cancelled or Close is
// called. Disconnects trigger a reconnect after a short delay.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.marketIDs) == 0 {
		s.logger.Info("no market ids to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("market stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the stream.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

type subscribeCommand struct {
	Action    string   `json:"action"`
	MarketIDs []string `json:"market_ids"`
}

func (s *Stream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("market/stream: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sub := subscribeCommand{Action: "subscribe", MarketIDs: s.marketIDs}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("market/stream: subscribe: %w", err)
	}
	s.logger.Info("market stream subscribed", slog.Int("markets", len(s.marketIDs)))

	connDone := make(chan struct{})
	defer close(connDone)
	go s.pingLoop(conn, connDone)

	// Unblock the read loop when the stream shuts down.
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-connDone:
			return
		}
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("market/stream: read: %w", err)
		}

		var update PriceUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			s.logger.Warn("dropping undecodable stream message", slog.String("error", err.Error()))
			continue
		}
		if update.MarketID == "" {
			continue
		}
		if s.onUpdate != nil {
			s.onUpdate(ctx, update)
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
