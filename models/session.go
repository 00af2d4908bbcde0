package models

import (
	"time"
)

// EscalationThreshold is the number of consecutive failed verification
// attempts after which a handoff to a human agent is suggested. The
// suggestion is advisory only; the transfer itself happens when the remote
// agent invokes transfer_to_human_agent.
const EscalationThreshold = 3

// TransportState tracks the lifecycle of the realtime connection.
type TransportState string

const (
	TransportIdle       TransportState = "idle"
	TransportConnecting TransportState = "connecting"
	TransportOpen       TransportState = "open"
	TransportClosed     TransportState = "closed"
	TransportError      TransportState = "error"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// ConversationTurn is one finalized or in-progress message in the transcript.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	IsPartial bool      `json:"is_partial"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry mirrors finalized turns for the transfer payload.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// VerificationForm holds the locally confirmed customer details. Form values
// are ground truth: when the remote agent supplies arguments for
// verify_customer, they only pre-fill fields the form left empty.
type VerificationForm struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Last4    string `json:"last4"`
	OrderID  string `json:"order_id"`
}

// VerificationRecord tracks identity verification for one session.
type VerificationRecord struct {
	Form     VerificationForm
	Verified bool
	Attempts int
}

// RecordFailure increments the attempt counter and reports whether this
// failure crossed the escalation threshold. The report fires exactly once
// per crossing: a fourth consecutive failure returns false.
func (v *VerificationRecord) RecordFailure() (crossed bool) {
	v.Verified = false
	v.Attempts++
	return v.Attempts == EscalationThreshold
}

// RecordSuccess marks the customer verified and resets the attempt counter.
func (v *VerificationRecord) RecordSuccess() {
	v.Verified = true
	v.Attempts = 0
}

// EscalationState tracks the human-handoff status and the conversation
// history that accompanies a transfer request.
type EscalationState struct {
	TransferInProgress  bool
	ConversationHistory []HistoryEntry
}

// AppendHistory records a finalized turn. History is append-only.
func (e *EscalationState) AppendHistory(role Role, content string, at time.Time) {
	e.ConversationHistory = append(e.ConversationHistory, HistoryEntry{
		Role:      string(role),
		Content:   content,
		Timestamp: at,
	})
}

// ToolInvocation is a single tool call requested by the remote agent. It is
// consumed exactly once; exactly one result is emitted with the same CallID
// unless the arguments fail to parse. Batched marks calls that arrived via
// the response.tool_calls vocabulary, which expects its results as
// response.tool_call_output instead of a conversation item.
type ToolInvocation struct {
	CallID    string
	Name      string
	Arguments string
	Batched   bool
}
