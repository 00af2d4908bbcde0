package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/Meridian-Labs/meridian-voice-sdk/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resultPair asserts the call produced exactly one function_call_output
// followed by one response.create, and returns the decoded output payload.
func resultPair(t *testing.T, transport *fakeTransport, callID string) map[string]any {
	t.Helper()

	sent := transport.sentEvents()
	require.Len(t, sent, 2)

	output, ok := sent[0].(models.FunctionCallOutput)
	require.True(t, ok, "first event should be the function_call_output")
	assert.Equal(t, "conversation.item.create", output.Type)
	assert.Equal(t, callID, output.Item.CallID)

	_, ok = sent[1].(models.ResponseCreate)
	require.True(t, ok, "second event should be the response.create continuation")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(output.Item.Output), &payload))
	return payload
}

func dispatch(session *AgentSession, name, callID, args string) {
	session.Tools.Dispatch(context.Background(), models.ToolInvocation{
		CallID:    callID,
		Name:      name,
		Arguments: args,
	})
}

func TestVerifyCustomerSuccess(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.verifyResult = true
	session.Verification.Attempts = 2

	dispatch(session, models.ToolVerifyCustomer, "call-1", `{"email":"jane@example.com","last4":"1234"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, true, payload["verified"])

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.True(t, session.Verification.Verified)
	assert.Equal(t, 0, session.Verification.Attempts, "success resets the attempt counter")
}

func TestVerifyCustomerFormValuesWin(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.verifyResult = true
	session.Verification.Form.Email = "form@example.com"

	dispatch(session, models.ToolVerifyCustomer, "call-1", `{"email":"args@example.com","full_name":"Jane Doe"}`)

	resultPair(t, transport, "call-1")
	assert.Equal(t, "form@example.com", backend.lastVerify.Email, "form email takes precedence")
	assert.Equal(t, "Jane Doe", backend.lastVerify.FullName, "empty form fields fill from arguments")
}

func TestVerifyCustomerEscalationFiresOnceAtThreshold(t *testing.T) {
	session, transport, backend, view := newTestSession()
	backend.verifyResult = false

	for i := 1; i <= 4; i++ {
		dispatch(session, models.ToolVerifyCustomer, fmt.Sprintf("call-%d", i), `{"email":"jane@example.com"}`)
	}

	session.mu.Lock()
	attempts := session.Verification.Attempts
	session.mu.Unlock()
	assert.Equal(t, 4, attempts)

	suggestions := 0
	for _, msg := range view.systemMessages() {
		if msg == "Multiple verification attempts have failed. Suggesting transfer to a human agent." {
			suggestions++
		}
	}
	assert.Equal(t, 1, suggestions, "escalation suggestion fires exactly at the threshold crossing")

	// Each of the four calls still round-trips a result.
	assert.Len(t, transport.sentEvents(), 8)
}

func TestVerifyCustomerBackendError(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.verifyErr = errors.New("backend request failed: connection refused")

	dispatch(session, models.ToolVerifyCustomer, "call-1", `{"email":"jane@example.com"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "Verification request failed", payload["error"])

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 0, session.Verification.Attempts, "transport failures do not count as attempts")
}

func TestPolicyToolsGateOnVerification(t *testing.T) {
	for _, tool := range []string{models.ToolCustomerPolicies, models.ToolGetPolicy} {
		t.Run(tool, func(t *testing.T) {
			session, transport, backend, _ := newTestSession()

			dispatch(session, tool, "call-1", `{"email":"jane@example.com","topic":"claims"}`)

			payload := resultPair(t, transport, "call-1")
			assert.Equal(t, "verification_required", payload["error"])
			assert.Equal(t, 0, backend.policiesCallCount(), "denied path makes no backend call")
		})
	}
}

func TestCustomerPoliciesSuccess(t *testing.T) {
	session, transport, backend, view := newTestSession()
	session.Verification.Verified = true
	backend.policies = []json.RawMessage{
		json.RawMessage(`{"policy_number":"PA-1"}`),
		json.RawMessage(`{"policy_number":"HO-2"}`),
	}

	dispatch(session, models.ToolCustomerPolicies, "call-1", `{"email":"jane@example.com"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, float64(2), payload["count"])
	assert.Contains(t, view.systemMessages(), "Found 2 policies for the customer.")
}

func TestCustomerPoliciesBackendForbidden(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	session.Verification.Verified = true
	backend.policiesErr = &utils.StatusError{StatusCode: 403, Body: "forbidden"}

	dispatch(session, models.ToolCustomerPolicies, "call-1", `{"email":"jane@example.com"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "Failed to fetch policies", payload["error"])
	assert.Equal(t, "Session not verified on backend", payload["message"])
}

func TestCustomerPoliciesBackendStatusError(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	session.Verification.Verified = true
	backend.policiesErr = &utils.StatusError{StatusCode: 502, Body: "bad gateway"}

	dispatch(session, models.ToolCustomerPolicies, "call-1", `{"email":"jane@example.com"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "HTTP 502", payload["message"])
}

func TestGetPolicySurfacesText(t *testing.T) {
	session, transport, backend, view := newTestSession()
	session.Verification.Verified = true
	backend.policyDoc = utils.PolicyDocument{
		Topic: "claims",
		Text:  "Claims are processed within 5 business days.",
	}

	dispatch(session, models.ToolGetPolicy, "call-1", `{"topic":"claims","detail_level":"summary"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "claims", payload["topic"])
	assert.Contains(t, view.systemMessages(), "Claims are processed within 5 business days.")
}

func TestCoverageInfoNeedsNoVerification(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.coverage = json.RawMessage(`{"coverage_type":"collision","description":"Covers collision damage"}`)

	dispatch(session, models.ToolCoverageInfo, "call-1", `{"coverage_type":"collision"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "collision", payload["coverage_type"])
}

func TestCoverageInfoNotFound(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.coverageErr = &utils.StatusError{StatusCode: 404, Body: "not found"}

	dispatch(session, models.ToolCoverageInfo, "call-1", `{"coverage_type":"umbrella"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "Coverage information not found", payload["error"])
}

func TestTransferToHumanAgent(t *testing.T) {
	session, transport, backend, view := newTestSession()
	session.Verification.Verified = true
	session.Verification.Form.Email = "jane@example.com"
	session.Verification.Form.FullName = "Jane Doe"
	session.Transcripts.OnDone(models.RoleUser, "I want to talk to a person")
	backend.transferResult = utils.TransferResult{
		TransferInitiated: true,
		QueuePosition:     "1",
		EstimatedWait:     "3 minutes",
		TransferID:        "T1",
	}

	dispatch(session, models.ToolTransferToHuman, "call-1", `{"reason":"customer_request","summary":"Wants a human"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, true, payload["transfer_initiated"])

	assert.Equal(t, "test-session", backend.lastTransfer.SessionID)
	assert.Equal(t, "jane@example.com", backend.lastTransfer.CustomerEmail)
	assert.Equal(t, "Jane Doe", backend.lastTransfer.CustomerName)
	assert.True(t, backend.lastTransfer.Verified)
	require.Len(t, backend.lastTransfer.ConversationHistory, 1)
	assert.Equal(t, "I want to talk to a person", backend.lastTransfer.ConversationHistory[0].Content)

	session.mu.Lock()
	assert.True(t, session.Escalation.TransferInProgress)
	session.mu.Unlock()

	found := false
	for _, msg := range view.systemMessages() {
		if msg == "Transfer initiated. Queue position: 1. Estimated wait: 3 minutes. Transfer ID: T1." {
			found = true
		}
	}
	assert.True(t, found, "transfer confirmation should include queue position, wait and id")
}

func TestTransferDefaultsWhenBackendOmitsFields(t *testing.T) {
	session, transport, backend, view := newTestSession()
	backend.transferResult = utils.TransferResult{TransferInitiated: true, TransferID: "T2"}

	dispatch(session, models.ToolTransferToHuman, "call-1", `{"reason":"verification_failed","summary":""}`)

	resultPair(t, transport, "call-1")
	assert.Contains(t, view.systemMessages(),
		"Transfer initiated. Queue position: Next available. Estimated wait: < 2 minutes. Transfer ID: T2.")
}

func TestTransferBackendFailure(t *testing.T) {
	session, transport, backend, view := newTestSession()
	backend.transferErr = &utils.StatusError{StatusCode: 500, Body: "oops"}

	dispatch(session, models.ToolTransferToHuman, "call-1", `{"reason":"customer_request","summary":"Wants a human"}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, false, payload["transfer_initiated"])
	assert.Contains(t, view.systemMessages(), "Transfer failed. Please try again or call our support line directly.")

	session.mu.Lock()
	assert.True(t, session.Escalation.TransferInProgress, "transfer stays committed even when the request fails")
	session.mu.Unlock()
}

func TestMalformedArgumentsAreDropped(t *testing.T) {
	session, transport, backend, _ := newTestSession()

	dispatch(session, models.ToolVerifyCustomer, "call-1", `{"email": `)

	assert.Empty(t, transport.sentEvents(), "no result and no continuation for unparseable arguments")
	assert.Equal(t, 0, backend.verifyCallCount())
}

func TestUnknownToolRoundTripsError(t *testing.T) {
	session, transport, _, _ := newTestSession()

	dispatch(session, "reticulate_splines", "call-1", `{}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, "Unknown tool: reticulate_splines", payload["error"])
}

func TestBatchedCallAnswersInToolCallVocabulary(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.coverage = json.RawMessage(`{"coverage_type":"auto"}`)

	session.Tools.Dispatch(context.Background(), models.ToolInvocation{
		CallID:    "call-1",
		Name:      models.ToolCoverageInfo,
		Arguments: `{"coverage_type":"auto"}`,
		Batched:   true,
	})

	sent := transport.sentEvents()
	require.Len(t, sent, 2)
	output, ok := sent[0].(models.ToolCallOutput)
	require.True(t, ok, "batched calls answer with response.tool_call_output")
	assert.Equal(t, "response.tool_call_output", output.Type)
	assert.Equal(t, "call-1", output.CallID)
}

func TestCustomerPoliciesFallsBackToSessionListing(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	session.Verification.Verified = true
	backend.policies = []json.RawMessage{json.RawMessage(`{"policy_number":"PA-1"}`)}

	dispatch(session, models.ToolCustomerPolicies, "call-1", `{}`)

	payload := resultPair(t, transport, "call-1")
	assert.Equal(t, float64(1), payload["count"])
	assert.Equal(t, 1, backend.policiesCallCount())
}

func TestDuplicateCallIDHandledOnce(t *testing.T) {
	session, transport, backend, _ := newTestSession()
	backend.verifyResult = true

	dispatch(session, models.ToolVerifyCustomer, "call-1", `{"email":"jane@example.com"}`)
	dispatch(session, models.ToolVerifyCustomer, "call-1", `{"email":"jane@example.com"}`)

	assert.Len(t, transport.sentEvents(), 2, "second delivery of the same call id emits nothing")
	assert.Equal(t, 1, backend.verifyCallCount())
}
