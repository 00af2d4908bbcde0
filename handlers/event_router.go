package handlers

import (
	"context"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"go.uber.org/zap"
)

// EventRouter classifies inbound realtime events and hands them to the
// transcript accumulator, the tool dispatcher or the session lifecycle.
// Route runs on the event-loop goroutine; tool calls are dispatched on
// their own goroutine because they block on backend round trips.
type EventRouter struct {
	session *AgentSession
}

func NewEventRouter(session *AgentSession) *EventRouter {
	return &EventRouter{session: session}
}

// Route handles one inbound event. Unknown event types are logged and
// ignored; the vocabulary grows faster than clients do.
func (r *EventRouter) Route(evt models.ServerEvent) {
	s := r.session
	s.Metrics.RecordEvent(evt.EventType())

	switch e := evt.(type) {
	case models.SessionCreatedEvent:
		s.Logger.Info("Realtime session created")

	case models.SessionUpdatedEvent:
		s.Logger.Debug("Session configuration acknowledged")

	case models.TranscriptionDeltaEvent:
		s.Transcripts.OnDelta(models.RoleUser, e.Delta)

	case models.TranscriptionCompletedEvent:
		s.Transcripts.OnDone(models.RoleUser, e.Transcript)

	case models.ResponseTextDeltaEvent:
		s.Transcripts.OnDelta(models.RoleAgent, e.Delta)

	case models.ResponseTextDoneEvent:
		s.Transcripts.OnDone(models.RoleAgent, e.Text)

	case models.AudioTranscriptDeltaEvent:
		s.Transcripts.OnDelta(models.RoleAgent, e.Delta)

	case models.AudioTranscriptDoneEvent:
		s.Transcripts.OnDone(models.RoleAgent, e.Transcript)

	case models.AudioDeltaEvent:
		if s.Audio != nil {
			s.Audio.PlayAudio(e.Delta)
		}

	case models.SpeechStartedEvent:
		s.Transcripts.OnSpeechStarted()

	case models.SpeechStoppedEvent:
		s.Logger.Debug("User speech stopped")

	case models.ResponseCreatedEvent:
		s.Logger.Debug("Agent response started")

	case models.ResponseDoneEvent:
		r.handleResponseDone(e)

	case models.FunctionCallDoneEvent:
		r.dispatch(models.ToolInvocation{
			CallID:    e.CallID,
			Name:      e.Name,
			Arguments: e.Arguments,
		})

	case models.ToolCallsEvent:
		for _, call := range e.Calls {
			r.dispatch(call)
		}

	case models.ErrorEvent:
		msg := e.Message
		if msg == "" {
			msg = "Unknown error"
		}
		s.Logger.Error("Realtime API error",
			zap.String("code", e.Code),
			zap.String("message", msg))
		s.View.ShowSystem("Error: " + msg)

	case models.UnknownEvent:
		s.Logger.Debug("Ignoring unhandled event", zap.String("type", e.Type))
	}
}

// handleResponseDone surfaces truncated and failed responses, then scans
// the output items for function calls the delta path may not have carried.
func (r *EventRouter) handleResponseDone(e models.ResponseDoneEvent) {
	s := r.session

	switch e.Status {
	case "incomplete":
		if e.StatusDetails.Reason == "max_tokens" {
			s.Logger.Warn("Agent response truncated at token limit")
			s.View.ShowSystem("Response was cut short by the length limit.")
		} else {
			s.Logger.Warn("Agent response incomplete")
		}

	case "failed":
		msg := "Response failed"
		code := ""
		if e.StatusDetails.Error != nil {
			code = e.StatusDetails.Error.Code
			if e.StatusDetails.Error.Message != "" {
				msg = e.StatusDetails.Error.Message
			}
		}
		s.Logger.Error("Agent response failed",
			zap.String("code", code),
			zap.String("message", msg))
		if code == "insufficient_quota" {
			s.View.ShowSystem("The realtime API quota is exhausted. Add credits to the account and reconnect.")
		} else {
			s.View.ShowSystem("Error: " + msg)
		}
	}

	for _, item := range e.Output {
		if item.Type != "function_call" {
			continue
		}
		r.dispatch(models.ToolInvocation{
			CallID:    item.CallID,
			Name:      item.Name,
			Arguments: item.Arguments,
		})
	}
}

func (r *EventRouter) dispatch(call models.ToolInvocation) {
	go r.session.Tools.Dispatch(context.Background(), call)
}
