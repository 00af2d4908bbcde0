package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/Meridian-Labs/meridian-voice-sdk/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const defaultRealtimeModel = "gpt-4o-realtime-preview"

// ClientMessage is the envelope pushed down to the browser.
type ClientMessage struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Text      string `json:"text,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// clientView renders the conversation over the browser WebSocket. It is
// both the TranscriptView and the AudioSink for relayed sessions.
type clientView struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger
}

func newClientView(conn *websocket.Conn, logger *zap.Logger) *clientView {
	return &clientView{conn: conn, logger: logger}
}

func (v *clientView) push(msg ClientMessage) {
	msg.Timestamp = time.Now().UnixMilli()

	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if err := v.conn.WriteJSON(msg); err != nil {
		v.logger.Warn("Failed to push message to client", zap.Error(err))
	}
}

func (v *clientView) ShowPartial(role models.Role, text string) {
	v.push(ClientMessage{Type: "transcript.partial", Role: string(role), Text: text})
}

func (v *clientView) ShowFinal(role models.Role, text string) {
	v.push(ClientMessage{Type: "transcript.final", Role: string(role), Text: text})
}

func (v *clientView) ShowSystem(text string) {
	v.push(ClientMessage{Type: "system.message", Text: text})
}

func (v *clientView) PlayAudio(delta string) {
	v.push(ClientMessage{Type: "audio.delta", Audio: delta})
}

// HandleVoiceSession upgrades the browser connection, mints an ephemeral
// realtime token from the backend, dials the realtime API and runs the
// session until either side disconnects.
func HandleVoiceSession(w http.ResponseWriter, r *http.Request, redisClient *redis.Client, metrics *utils.Metrics) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("Failed to upgrade client connection", zap.Error(err))
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	logger := zap.L().With(zap.String("session_id", sessionID))
	logger.Info("Client connected")

	view := newClientView(conn, logger)
	backend := utils.NewBackendClient(sessionID)

	session := NewAgentSession(sessionID, nil, backend, view)
	session.Audio = view
	session.Store = utils.NewSessionStore(redisClient)
	session.Metrics = metrics

	session.SetTransportState(models.TransportConnecting)

	ctx := r.Context()
	token, err := backend.RealtimeToken(ctx)
	if err != nil {
		logger.Error("Failed to mint realtime token", zap.Error(err))
		session.SetTransportState(models.TransportError)
		view.ShowSystem("Could not start the voice session. Please try again.")
		return
	}

	model := os.Getenv("REALTIME_MODEL")
	if model == "" {
		model = defaultRealtimeModel
	}
	transport, err := utils.DialRealtime(ctx, utils.RealtimeConfig{
		Model: model,
		Token: token.ClientSecret,
	})
	if err != nil {
		logger.Error("Failed to connect to realtime API", zap.Error(err))
		session.SetTransportState(models.TransportError)
		view.ShowSystem("Could not reach the voice service. Please try again.")
		return
	}
	defer transport.Close()

	session.Transport = transport
	session.SetTransportState(models.TransportOpen)

	metrics.RecordSessionStarted()
	defer metrics.RecordSessionEnded()

	if err := session.Configure(); err != nil {
		logger.Error("Failed to configure session", zap.Error(err))
		view.ShowSystem("Could not configure the voice session.")
		return
	}

	go relayClientFrames(conn, transport, logger)

	session.RunEventLoop()
	logger.Info("Session ended", zap.Duration("duration", time.Since(session.StartTime)))
}

// relayClientFrames forwards browser frames (audio buffer appends and
// response controls) upstream without re-encoding. Frames that are not
// JSON objects with a type are dropped.
func relayClientFrames(conn *websocket.Conn, transport *utils.WebSocketTransport, logger *zap.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Client connection closed unexpectedly", zap.Error(err))
			}
			// Shut the upstream down so the event loop unblocks.
			transport.Close()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
			logger.Debug("Dropping malformed client frame")
			continue
		}
		if envelope.Type == "ping" {
			continue
		}

		if err := transport.SendRaw(data); err != nil {
			logger.Warn("Failed to forward client frame upstream", zap.Error(err))
			return
		}
	}
}

// HandleHealth reports liveness plus Redis reachability.
func HandleHealth(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "redis": "ok"}
		code := http.StatusOK

		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status["redis"] = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
