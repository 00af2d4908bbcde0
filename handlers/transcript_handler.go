package handlers

import (
	"strings"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"go.uber.org/zap"
)

// partialTurn buffers one in-flight utterance.
type partialTurn struct {
	active bool
	buf    strings.Builder
}

// TranscriptAccumulator builds conversation turns out of streamed deltas.
// User and agent partials accumulate independently so interleaved deltas
// never contaminate each other. Methods run on the event-loop goroutine.
type TranscriptAccumulator struct {
	session  *AgentSession
	partials map[models.Role]*partialTurn
}

func NewTranscriptAccumulator(session *AgentSession) *TranscriptAccumulator {
	return &TranscriptAccumulator{
		session: session,
		partials: map[models.Role]*partialTurn{
			models.RoleUser:  {},
			models.RoleAgent: {},
		},
	}
}

// OnDelta appends a transcript fragment to the role's partial turn,
// creating one if none is in flight.
func (t *TranscriptAccumulator) OnDelta(role models.Role, delta string) {
	if delta == "" {
		return
	}

	partial := t.partials[role]
	if !partial.active {
		partial.active = true
		partial.buf.Reset()
	}
	partial.buf.WriteString(delta)

	t.session.View.ShowPartial(role, partial.buf.String())
}

// OnDone finalizes the role's turn. A non-empty finalText is authoritative
// and replaces whatever the deltas accumulated; otherwise the buffer
// stands. A done event with neither a partial in flight nor a final text
// still produces a user turn, marked as audio-only.
func (t *TranscriptAccumulator) OnDone(role models.Role, finalText string) {
	partial := t.partials[role]

	text := finalText
	if text == "" {
		text = partial.buf.String()
	}
	hadPartial := partial.active
	partial.active = false
	partial.buf.Reset()

	if text == "" {
		if role != models.RoleUser {
			return
		}
		text = "(audio)"
	}

	t.session.Logger.Debug("Transcript finalized",
		zap.String("role", string(role)),
		zap.Bool("had_partial", hadPartial),
		zap.Int("chars", len(text)))

	t.session.View.ShowFinal(role, text)
	t.session.recordFinalTurn(role, text)
}

// OnSpeechStarted opens a placeholder user turn so the UI reflects that
// the user is talking before transcription catches up. Idempotent while a
// user partial is already in flight.
func (t *TranscriptAccumulator) OnSpeechStarted() {
	partial := t.partials[models.RoleUser]
	if partial.active {
		return
	}
	partial.active = true
	partial.buf.Reset()

	t.session.View.ShowPartial(models.RoleUser, "...")
}

// HasPartial reports whether a partial turn is in flight for the role.
func (t *TranscriptAccumulator) HasPartial(role models.Role) bool {
	return t.partials[role].active
}
