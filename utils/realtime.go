package utils

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport is the bidirectional event channel to the realtime API. The
// protocol core is written against this interface so the WebSocket proxy
// connection and a WebRTC data channel are interchangeable; only the
// connection setup differs per implementation.
type Transport interface {
	// Send writes one outbound event.
	Send(event any) error
	// Receive blocks for the next inbound frame.
	Receive() ([]byte, error)
	Close() error
}

// RealtimeConfig carries what the WebSocket transport needs to dial the
// realtime API.
type RealtimeConfig struct {
	URL   string // defaults to the OpenAI realtime endpoint
	Model string
	Token string // ephemeral client secret or API key
}

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"

	// Connection attempts are bounded; an unresponsive endpoint should
	// surface as a transport failure, not a hang.
	connectTimeout = 30 * time.Second
)

// WebSocketTransport is the gorilla/websocket implementation of Transport.
type WebSocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger
}

// DialRealtime opens the realtime WebSocket connection with the ephemeral
// token. The handshake is bounded by connectTimeout.
func DialRealtime(ctx context.Context, cfg RealtimeConfig) (*WebSocketTransport, error) {
	url := cfg.URL
	if url == "" {
		url = defaultRealtimeURL
	}
	if cfg.Model != "" {
		url = fmt.Sprintf("%s?model=%s", url, cfg.Model)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial realtime API (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial realtime API: %w", err)
	}

	return &WebSocketTransport{
		conn:   conn,
		logger: zap.L().With(zap.String("component", "realtime_transport")),
	}, nil
}

// Send marshals the event to JSON and writes it to the socket. gorilla
// connections allow one concurrent writer, so writes are serialized here.
func (t *WebSocketTransport) Send(event any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to send realtime event: %w", err)
	}
	return nil
}

// SendRaw forwards an already-encoded frame, used when relaying client
// audio events upstream without re-encoding.
func (t *WebSocketTransport) SendRaw(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to forward realtime frame: %w", err)
	}
	return nil
}

// Receive blocks for the next inbound frame.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			t.logger.Warn("Realtime connection closed unexpectedly", zap.Error(err))
		}
		return nil, err
	}
	return data, nil
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}
