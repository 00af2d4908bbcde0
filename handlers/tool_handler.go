package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/Meridian-Labs/meridian-voice-sdk/utils"
	"go.uber.org/zap"
)

// ToolDispatcher executes function calls requested by the remote agent and
// reports their results back over the transport. Every consumed call emits
// exactly one function_call_output followed by one response.create so the
// agent can speak to the result; the only exception is unparseable
// arguments, which are dropped without a result.
type ToolDispatcher struct {
	session *AgentSession

	mu      sync.Mutex
	handled map[string]bool
}

func NewToolDispatcher(session *AgentSession) *ToolDispatcher {
	return &ToolDispatcher{
		session: session,
		handled: make(map[string]bool),
	}
}

type verifyArgs struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Last4    string `json:"last4"`
	OrderID  string `json:"order_id"`
}

type policiesArgs struct {
	Email string `json:"email"`
}

type policyArgs struct {
	Topic       string `json:"topic"`
	DetailLevel string `json:"detail_level"`
}

type coverageArgs struct {
	CoverageType string `json:"coverage_type"`
}

type transferArgs struct {
	Reason        string `json:"reason"`
	CustomerEmail string `json:"customer_email"`
	Summary       string `json:"summary"`
}

// errBadArguments marks argument JSON that did not decode. The call is
// dropped: no result, no follow-up response request.
var errBadArguments = errors.New("tool arguments did not decode")

// Dispatch runs one tool invocation to completion. Calls arrive from both
// the argument-done stream and the response.done output scan, so call ids
// are deduplicated here to keep the result exactly-once.
func (d *ToolDispatcher) Dispatch(ctx context.Context, call models.ToolInvocation) {
	logger := d.session.Logger.With(
		zap.String("tool", call.Name),
		zap.String("call_id", call.CallID))

	if call.CallID != "" {
		d.mu.Lock()
		if d.handled[call.CallID] {
			d.mu.Unlock()
			logger.Debug("Duplicate tool call ignored")
			return
		}
		d.handled[call.CallID] = true
		d.mu.Unlock()
	}

	logger.Info("Executing tool call")

	result, err := d.execute(ctx, call, logger)
	if err != nil {
		logger.Error("Tool call dropped", zap.Error(err))
		d.session.Metrics.RecordToolCall(call.Name, "parse_error")
		return
	}

	d.sendResult(call, result, logger)
}

func (d *ToolDispatcher) execute(ctx context.Context, call models.ToolInvocation, logger *zap.Logger) (any, error) {
	switch call.Name {
	case models.ToolVerifyCustomer:
		var args verifyArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.verifyCustomer(ctx, args), nil

	case models.ToolCustomerPolicies:
		var args policiesArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.customerPolicies(ctx, args), nil

	case models.ToolGetPolicy:
		var args policyArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.getPolicy(ctx, args), nil

	case models.ToolCoverageInfo:
		var args coverageArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.coverageInfo(ctx, args), nil

	case models.ToolTransferToHuman:
		var args transferArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.transferToHuman(ctx, args), nil

	default:
		logger.Error("Unknown tool requested")
		d.session.Metrics.RecordToolCall(call.Name, "unknown")
		return map[string]string{"error": "Unknown tool: " + call.Name}, nil
	}
}

// verifyCustomer merges the call arguments under any form values already
// gathered from the transcript (form values win), asks the backend, and
// updates the attempt counter. The escalation suggestion fires exactly
// when the failure count reaches the threshold, not on later failures.
func (d *ToolDispatcher) verifyCustomer(ctx context.Context, args verifyArgs) any {
	s := d.session

	s.mu.Lock()
	form := &s.Verification.Form
	if form.Email == "" {
		form.Email = args.Email
	}
	if form.FullName == "" {
		form.FullName = args.FullName
	}
	if form.Last4 == "" {
		form.Last4 = args.Last4
	}
	if form.OrderID == "" {
		form.OrderID = args.OrderID
	}
	payload := *form
	s.mu.Unlock()

	start := time.Now()
	verified, err := s.Backend.Verify(ctx, payload)
	s.Metrics.ObserveBackendCall("verify", time.Since(start).Seconds())
	if err != nil {
		s.Logger.Error("Verification request failed", zap.Error(err))
		s.Metrics.RecordToolCall(models.ToolVerifyCustomer, "error")
		return map[string]string{
			"error":   "Verification request failed",
			"message": err.Error(),
		}
	}

	s.mu.Lock()
	var crossed bool
	if verified {
		s.Verification.RecordSuccess()
	} else {
		crossed = s.Verification.RecordFailure()
	}
	attempts := s.Verification.Attempts
	s.mu.Unlock()

	if err := s.Store.SetVerified(ctx, s.ID, verified); err != nil {
		s.Logger.Warn("Failed to persist verification state", zap.Error(err))
	}

	if verified {
		s.Logger.Info("Customer verified")
		s.Metrics.RecordToolCall(models.ToolVerifyCustomer, "verified")
		s.View.ShowSystem("Customer verified.")
	} else {
		s.Logger.Warn("Verification failed", zap.Int("attempts", attempts))
		s.Metrics.RecordToolCall(models.ToolVerifyCustomer, "failed")
		s.Metrics.RecordVerificationFailure()
		s.View.ShowSystem(fmt.Sprintf("Verification failed (attempt %d of %d).", attempts, models.EscalationThreshold))
		if crossed {
			s.Metrics.RecordEscalationSuggested()
			s.View.ShowSystem("Multiple verification attempts have failed. Suggesting transfer to a human agent.")
		}
	}

	return map[string]bool{"verified": verified}
}

// verificationGate short-circuits policy tools for unverified sessions.
// No backend call is made on the denied path.
func (d *ToolDispatcher) verificationGate(tool string) (any, bool) {
	s := d.session

	s.mu.Lock()
	verified := s.Verification.Verified
	s.mu.Unlock()
	if verified {
		return nil, true
	}

	s.Logger.Warn("Policy access denied, session not verified", zap.String("tool", tool))
	s.Metrics.RecordToolCall(tool, "denied")
	s.View.ShowSystem("Verification is required before policy details can be shared.")
	return map[string]any{
		"error":    "verification_required",
		"message":  "Customer must be verified before accessing policy information",
		"policies": []any{},
	}, false
}

func (d *ToolDispatcher) customerPolicies(ctx context.Context, args policiesArgs) any {
	s := d.session

	if denied, ok := d.verificationGate(models.ToolCustomerPolicies); !ok {
		return denied
	}

	start := time.Now()
	var policies []json.RawMessage
	var err error
	if args.Email == "" {
		// No customer email on file: fall back to the session-scoped
		// policy listing.
		policies, err = s.Backend.Policies(ctx)
	} else {
		policies, err = s.Backend.CustomerPolicies(ctx, args.Email)
	}
	s.Metrics.ObserveBackendCall("customer_policies", time.Since(start).Seconds())
	if err != nil {
		s.Logger.Error("Failed to fetch customer policies", zap.Error(err))
		s.Metrics.RecordToolCall(models.ToolCustomerPolicies, "error")
		return map[string]any{
			"error":    "Failed to fetch policies",
			"message":  statusMessage(err),
			"policies": []any{},
		}
	}

	s.Metrics.RecordToolCall(models.ToolCustomerPolicies, "ok")
	s.View.ShowSystem(fmt.Sprintf("Found %d policies for the customer.", len(policies)))
	return map[string]any{
		"policies": policies,
		"count":    len(policies),
	}
}

func (d *ToolDispatcher) getPolicy(ctx context.Context, args policyArgs) any {
	s := d.session

	if denied, ok := d.verificationGate(models.ToolGetPolicy); !ok {
		return denied
	}

	start := time.Now()
	doc, err := s.Backend.Policy(ctx, args.Topic, args.DetailLevel)
	s.Metrics.ObserveBackendCall("policy", time.Since(start).Seconds())
	if err != nil {
		s.Logger.Error("Failed to fetch policy", zap.Error(err), zap.String("topic", args.Topic))
		s.Metrics.RecordToolCall(models.ToolGetPolicy, "error")
		return map[string]string{
			"error":   "Failed to fetch policy",
			"message": statusMessage(err),
		}
	}

	s.Metrics.RecordToolCall(models.ToolGetPolicy, "ok")
	if doc.Text != "" {
		s.View.ShowSystem(doc.Text)
	}
	return doc
}

// coverageInfo needs no verification; coverage facts are public product
// information. Any backend status failure collapses to a single not-found
// result, which is what the agent should tell the customer.
func (d *ToolDispatcher) coverageInfo(ctx context.Context, args coverageArgs) any {
	s := d.session

	start := time.Now()
	info, err := s.Backend.CoverageInfo(ctx, args.CoverageType)
	s.Metrics.ObserveBackendCall("coverage_info", time.Since(start).Seconds())
	if err != nil {
		s.Logger.Warn("Coverage lookup failed",
			zap.String("coverage_type", args.CoverageType),
			zap.Error(err))
		s.Metrics.RecordToolCall(models.ToolCoverageInfo, "error")
		var statusErr *utils.StatusError
		if errors.As(err, &statusErr) {
			return map[string]string{"error": "Coverage information not found"}
		}
		return map[string]string{
			"error":   "Coverage lookup failed",
			"message": err.Error(),
		}
	}

	s.Metrics.RecordToolCall(models.ToolCoverageInfo, "ok")
	s.View.ShowSystem(fmt.Sprintf("Retrieved %s coverage information.", args.CoverageType))
	return info
}

// transferToHuman hands the conversation to a human agent. The transfer
// flag stays set even when the backend call fails; the conversation is
// already committed to escalation and there is no automated retry.
func (d *ToolDispatcher) transferToHuman(ctx context.Context, args transferArgs) any {
	s := d.session

	s.mu.Lock()
	s.Escalation.TransferInProgress = true
	email := args.CustomerEmail
	if email == "" {
		email = s.Verification.Form.Email
	}
	record := utils.TransferRecord{
		SessionID:           s.ID,
		Reason:              args.Reason,
		CustomerEmail:       email,
		CustomerName:        s.Verification.Form.FullName,
		Summary:             args.Summary,
		ConversationHistory: s.snapshotHistory(),
		Timestamp:           time.Now().UTC(),
		Verified:            s.Verification.Verified,
	}
	s.mu.Unlock()

	s.Logger.Info("Initiating transfer to human agent", zap.String("reason", args.Reason))
	s.View.ShowSystem("Transferring you to a human agent. Reason: " + strings.ReplaceAll(args.Reason, "_", " ") + ".")

	start := time.Now()
	result, err := s.Backend.InitiateTransfer(ctx, record)
	s.Metrics.ObserveBackendCall("transfer", time.Since(start).Seconds())
	if err != nil {
		s.Logger.Error("Transfer request failed", zap.Error(err))
		s.Metrics.RecordToolCall(models.ToolTransferToHuman, "error")
		s.View.ShowSystem("Transfer failed. Please try again or call our support line directly.")
		return map[string]any{
			"transfer_initiated": false,
			"error":              "Transfer failed",
			"message":            statusMessage(err),
		}
	}

	s.Metrics.RecordToolCall(models.ToolTransferToHuman, "ok")
	s.Metrics.RecordTransferInitiated()

	queue := result.QueuePosition
	if queue == "" {
		queue = "Next available"
	}
	wait := result.EstimatedWait
	if wait == "" {
		wait = "< 2 minutes"
	}
	s.View.ShowSystem(fmt.Sprintf("Transfer initiated. Queue position: %s. Estimated wait: %s. Transfer ID: %s.",
		queue, wait, result.TransferID))

	return result
}

// sendResult emits the result for the call in whichever vocabulary the
// call arrived on, then asks the agent to continue so it speaks to the
// result.
func (d *ToolDispatcher) sendResult(call models.ToolInvocation, result any, logger *zap.Logger) {
	var output any
	var err error
	if call.Batched {
		output, err = models.NewToolCallOutput(call.CallID, result)
	} else {
		output, err = models.NewFunctionCallOutput(call.CallID, result)
	}
	if err != nil {
		logger.Error("Failed to encode tool result", zap.Error(err))
		return
	}

	if err := d.session.Transport.Send(output); err != nil {
		logger.Error("Failed to send tool result", zap.Error(err))
		return
	}
	if err := d.session.Transport.Send(models.NewResponseCreate()); err != nil {
		logger.Error("Failed to request follow-up response", zap.Error(err))
	}
}

func decodeArgs(raw string, out any) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", errBadArguments, err)
	}
	return nil
}

// statusMessage maps backend errors to the message the agent relays: 403
// means the backend lost the session's verification, other statuses are
// reported by code, and transport errors pass through.
func statusMessage(err error) string {
	var statusErr *utils.StatusError
	if !errors.As(err, &statusErr) {
		return err.Error()
	}
	if statusErr.StatusCode == 403 {
		return "Session not verified on backend"
	}
	return fmt.Sprintf("HTTP %d", statusErr.StatusCode)
}
