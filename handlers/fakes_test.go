package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/Meridian-Labs/meridian-voice-sdk/utils"
)

// fakeTransport records outbound events and replays queued inbound frames.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []any
	sendErr error
	frames  chan []byte
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 32)}
}

func (t *fakeTransport) Send(event any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, event)
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	data, ok := <-t.frames
	if !ok {
		return nil, errors.New("transport closed")
	}
	return data, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentEvents() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]any, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeBackend returns scripted results and counts calls.
type fakeBackend struct {
	mu sync.Mutex

	verifyResult bool
	verifyErr    error
	verifyCalls  int
	lastVerify   models.VerificationForm

	policies      []json.RawMessage
	policiesErr   error
	policiesCalls int

	policyDoc utils.PolicyDocument
	policyErr error

	coverage    json.RawMessage
	coverageErr error

	transferResult utils.TransferResult
	transferErr    error
	lastTransfer   utils.TransferRecord
}

func (b *fakeBackend) RealtimeToken(ctx context.Context) (utils.TokenResponse, error) {
	return utils.TokenResponse{ClientSecret: "ek_test", SessionID: "upstream"}, nil
}

func (b *fakeBackend) Verify(ctx context.Context, req models.VerificationForm) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyCalls++
	b.lastVerify = req
	return b.verifyResult, b.verifyErr
}

func (b *fakeBackend) CustomerPolicies(ctx context.Context, email string) ([]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policiesCalls++
	return b.policies, b.policiesErr
}

func (b *fakeBackend) Policies(ctx context.Context) ([]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policiesCalls++
	return b.policies, b.policiesErr
}

func (b *fakeBackend) Policy(ctx context.Context, topic, detailLevel string) (utils.PolicyDocument, error) {
	return b.policyDoc, b.policyErr
}

func (b *fakeBackend) CoverageInfo(ctx context.Context, coverageType string) (json.RawMessage, error) {
	return b.coverage, b.coverageErr
}

func (b *fakeBackend) InitiateTransfer(ctx context.Context, record utils.TransferRecord) (utils.TransferResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTransfer = record
	return b.transferResult, b.transferErr
}

func (b *fakeBackend) verifyCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verifyCalls
}

func (b *fakeBackend) policiesCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policiesCalls
}

// fakeView records everything the session surfaced to the user.
type fakeView struct {
	mu       sync.Mutex
	partials []string
	finals   []string
	system   []string
	audio    []string
}

func (v *fakeView) ShowPartial(role models.Role, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.partials = append(v.partials, string(role)+": "+text)
}

func (v *fakeView) ShowFinal(role models.Role, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finals = append(v.finals, string(role)+": "+text)
}

func (v *fakeView) ShowSystem(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.system = append(v.system, text)
}

func (v *fakeView) PlayAudio(delta string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.audio = append(v.audio, delta)
}

func (v *fakeView) systemMessages() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.system))
	copy(out, v.system)
	return out
}

func (v *fakeView) finalTurns() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.finals))
	copy(out, v.finals)
	return out
}

func (v *fakeView) partialTurns() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.partials))
	copy(out, v.partials)
	return out
}

// newTestSession wires a session to fakes with the transport open.
func newTestSession() (*AgentSession, *fakeTransport, *fakeBackend, *fakeView) {
	transport := newFakeTransport()
	backend := &fakeBackend{}
	view := &fakeView{}

	session := NewAgentSession("test-session", transport, backend, view)
	session.Audio = view
	session.SetTransportState(models.TransportOpen)

	return session, transport, backend, view
}
