package handlers

import (
	"testing"
	"time"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteTranscriptionEvents(t *testing.T) {
	session, _, _, view := newTestSession()

	session.Router.Route(models.SpeechStartedEvent{})
	session.Router.Route(models.TranscriptionDeltaEvent{Delta: "I need "})
	session.Router.Route(models.TranscriptionDeltaEvent{Delta: "help"})
	session.Router.Route(models.TranscriptionCompletedEvent{Transcript: "I need help."})

	finals := view.finalTurns()
	require.Len(t, finals, 1)
	assert.Equal(t, "user: I need help.", finals[0])
}

func TestRouteAgentTranscriptEvents(t *testing.T) {
	session, _, _, view := newTestSession()

	session.Router.Route(models.AudioTranscriptDeltaEvent{Delta: "Sure, "})
	session.Router.Route(models.AudioTranscriptDeltaEvent{Delta: "one moment."})
	session.Router.Route(models.AudioTranscriptDoneEvent{Transcript: ""})

	finals := view.finalTurns()
	require.Len(t, finals, 1)
	assert.Equal(t, "agent: Sure, one moment.", finals[0])
}

func TestRouteAudioDelta(t *testing.T) {
	session, _, _, view := newTestSession()

	session.Router.Route(models.AudioDeltaEvent{Delta: "UklGRg=="})

	require.Len(t, view.audio, 1)
	assert.Equal(t, "UklGRg==", view.audio[0])
}

func TestRouteErrorEvent(t *testing.T) {
	session, _, _, view := newTestSession()

	session.Router.Route(models.ErrorEvent{Code: "invalid_request_error", Message: "bad session"})
	session.Router.Route(models.ErrorEvent{})

	msgs := view.systemMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Error: bad session", msgs[0])
	assert.Equal(t, "Error: Unknown error", msgs[1])
}

func TestRouteResponseFailedQuota(t *testing.T) {
	session, _, _, view := newTestSession()

	session.Router.Route(models.ResponseDoneEvent{
		Status: "failed",
		StatusDetails: models.ResponseStatusDetails{
			Error: &models.ServerDetail{Code: "insufficient_quota", Message: "quota exceeded"},
		},
	})

	msgs := view.systemMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "quota")
}

func TestRouteResponseTruncated(t *testing.T) {
	session, _, _, view := newTestSession()

	session.Router.Route(models.ResponseDoneEvent{
		Status:        "incomplete",
		StatusDetails: models.ResponseStatusDetails{Reason: "max_tokens"},
	})

	msgs := view.systemMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "length limit")
}

func TestRouteFunctionCallFromResponseDone(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.verifyResult = true

	session.Router.Route(models.ResponseDoneEvent{
		Status: "completed",
		Output: []models.ResponseOutputItem{
			{Type: "message"},
			{
				Type:      "function_call",
				Name:      models.ToolVerifyCustomer,
				CallID:    "call-9",
				Arguments: `{"email":"jane@example.com"}`,
			},
		},
	})

	// Dispatch runs on its own goroutine.
	require.Eventually(t, func() bool {
		return len(transport.sentEvents()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	output, ok := transport.sentEvents()[0].(models.FunctionCallOutput)
	require.True(t, ok)
	assert.Equal(t, "call-9", output.Item.CallID)
}

func TestRouteFunctionCallDoneEvent(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.verifyResult = true

	session.Router.Route(models.FunctionCallDoneEvent{
		Name:      models.ToolVerifyCustomer,
		CallID:    "call-3",
		Arguments: `{"email":"jane@example.com"}`,
	})

	require.Eventually(t, func() bool {
		return len(transport.sentEvents()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, backend.verifyCallCount())
}

func TestRouteUnknownEventIsIgnored(t *testing.T) {
	session, transport, _, view := newTestSession()

	session.Router.Route(models.UnknownEvent{Type: "rate_limits.updated"})

	assert.Empty(t, transport.sentEvents())
	assert.Empty(t, view.systemMessages())
}
