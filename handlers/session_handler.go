package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/Meridian-Labs/meridian-voice-sdk/utils"
	"go.uber.org/zap"
)

// TranscriptView renders the running conversation. The browser relay
// implements it over the client WebSocket; tests substitute a recorder.
type TranscriptView interface {
	ShowPartial(role models.Role, text string)
	ShowFinal(role models.Role, text string)
	ShowSystem(text string)
}

// AudioSink receives base64 PCM16 agent audio for playback. Playback
// mechanics live entirely behind this seam.
type AudioSink interface {
	PlayAudio(delta string)
}

// AgentSession owns all state for one voice conversation: transport
// lifecycle, verification record, escalation state and the conversation
// history. It replaces the ambient globals of earlier designs with an
// explicit per-connection context that is constructed on connect and
// dropped on disconnect.
type AgentSession struct {
	ID        string
	Logger    *zap.Logger
	Transport utils.Transport
	Backend   utils.BackendAPI
	View      TranscriptView
	Audio     AudioSink
	Store     *utils.SessionStore
	Metrics   *utils.Metrics

	// Config is sent once on transport open. Defaults to
	// models.DefaultSessionConfig.
	Config models.SessionConfig

	StartTime time.Time

	mu           sync.Mutex
	state        models.TransportState
	configured   bool
	Verification models.VerificationRecord
	Escalation   models.EscalationState

	Transcripts *TranscriptAccumulator
	Tools       *ToolDispatcher
	Router      *EventRouter
}

// NewAgentSession creates a session context in the idle transport state.
// Store, Metrics and Audio are optional and may be set before the event
// loop starts.
func NewAgentSession(id string, transport utils.Transport, backend utils.BackendAPI, view TranscriptView) *AgentSession {
	session := &AgentSession{
		ID:        id,
		Logger:    zap.L().With(zap.String("session_id", id)),
		Transport: transport,
		Backend:   backend,
		View:      view,
		Config:    models.DefaultSessionConfig(),
		StartTime: time.Now(),
		state:     models.TransportIdle,
	}

	session.Transcripts = NewTranscriptAccumulator(session)
	session.Tools = NewToolDispatcher(session)
	session.Router = NewEventRouter(session)

	return session
}

// TransportState returns the connection lifecycle state.
func (s *AgentSession) TransportState() models.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetTransportState advances the connection lifecycle.
func (s *AgentSession) SetTransportState(state models.TransportState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Configure sends the session configuration followed by a request for the
// initial agent greeting. It runs exactly once per connection: repeat
// calls are no-ops, and calling before the transport is open is an error
// with no retry.
func (s *AgentSession) Configure() error {
	s.mu.Lock()
	if s.state != models.TransportOpen {
		state := s.state
		s.mu.Unlock()
		err := fmt.Errorf("cannot configure session: transport is %s", state)
		s.Logger.Error("Session configuration skipped", zap.Error(err))
		return err
	}
	if s.configured {
		s.mu.Unlock()
		s.Logger.Warn("Session already configured, ignoring repeat request")
		return nil
	}
	s.configured = true
	config := s.Config
	s.mu.Unlock()

	if err := s.Transport.Send(models.NewSessionUpdate(config)); err != nil {
		return fmt.Errorf("failed to send session configuration: %w", err)
	}

	greeting := models.ResponseCreate{
		Type: "response.create",
		Response: &models.ResponseParams{
			Modalities:   []string{"text", "audio"},
			Instructions: models.GreetingInstructions,
		},
	}
	if err := s.Transport.Send(greeting); err != nil {
		return fmt.Errorf("failed to request initial greeting: %w", err)
	}

	s.Logger.Info("Session configured", zap.Int("tools", len(config.Tools)))
	return nil
}

var (
	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w+`)
	last4Pattern = regexp.MustCompile(`\b\d{4}\b`)
)

// recordFinalTurn appends a finalized turn to the conversation history,
// persists it, and opportunistically fills empty verification form fields
// from what the user said.
func (s *AgentSession) recordFinalTurn(role models.Role, text string) {
	now := time.Now().UTC()

	s.mu.Lock()
	s.Escalation.AppendHistory(role, text, now)
	if role == models.RoleUser {
		s.populateFormFromTranscript(text)
	}
	s.mu.Unlock()

	entry := models.HistoryEntry{Role: string(role), Content: text, Timestamp: now}
	if err := s.Store.AppendTurn(context.Background(), s.ID, entry); err != nil {
		s.Logger.Warn("Failed to persist conversation turn", zap.Error(err))
	}
}

// populateFormFromTranscript extracts an email address, and the last-4
// digits when the user mentions them, into form fields that are still
// empty. Caller holds s.mu.
func (s *AgentSession) populateFormFromTranscript(text string) {
	form := &s.Verification.Form

	if form.Email == "" {
		if match := emailPattern.FindString(text); match != "" {
			form.Email = strings.ToLower(match)
			s.Logger.Debug("Auto-populated email from transcript")
		}
	}

	lower := strings.ToLower(text)
	if form.Last4 == "" && (strings.Contains(lower, "last 4") || strings.Contains(lower, "last four")) {
		if match := last4Pattern.FindString(text); match != "" {
			form.Last4 = match
			s.Logger.Debug("Auto-populated last4 from transcript")
		}
	}
}

// snapshotHistory copies the conversation history for the transfer
// payload.
func (s *AgentSession) snapshotHistory() []models.HistoryEntry {
	history := make([]models.HistoryEntry, len(s.Escalation.ConversationHistory))
	copy(history, s.Escalation.ConversationHistory)
	return history
}

// RunEventLoop consumes inbound realtime events until the transport
// closes. Each event is classified and routed atomically with respect to
// other inbound events; only tool dispatch overlaps, on its own goroutine.
func (s *AgentSession) RunEventLoop() {
	for {
		data, err := s.Transport.Receive()
		if err != nil {
			s.SetTransportState(models.TransportClosed)
			s.Logger.Info("Realtime connection closed", zap.Error(err))
			s.View.ShowSystem("Connection closed.")
			return
		}

		evt, err := models.ParseServerEvent(data)
		if err != nil {
			s.Logger.Warn("Dropping undecodable realtime frame", zap.Error(err))
			continue
		}
		s.Router.Route(evt)
	}
}
