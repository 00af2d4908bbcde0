package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"go.uber.org/zap"
)

// BackendAPI is the REST surface the tool dispatcher consumes. Every call
// carries the session id in the X-Session-Id header so the backend can tie
// verification state to the conversation.
type BackendAPI interface {
	RealtimeToken(ctx context.Context) (TokenResponse, error)
	Verify(ctx context.Context, req models.VerificationForm) (bool, error)
	CustomerPolicies(ctx context.Context, email string) ([]json.RawMessage, error)
	Policies(ctx context.Context) ([]json.RawMessage, error)
	Policy(ctx context.Context, topic, detailLevel string) (PolicyDocument, error)
	CoverageInfo(ctx context.Context, coverageType string) (json.RawMessage, error)
	InitiateTransfer(ctx context.Context, record TransferRecord) (TransferResult, error)
}

// TokenResponse is the ephemeral credential for the realtime connection.
type TokenResponse struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at"`
	SessionID    string `json:"session_id"`
}

// PolicyDocument is the single-policy lookup payload.
type PolicyDocument struct {
	Topic          string `json:"topic"`
	Section        string `json:"section"`
	Classification string `json:"classification"`
	Text           string `json:"text"`
	UpdatedAt      string `json:"updated_at"`
}

// TransferRecord is the handoff payload for a human-agent transfer.
type TransferRecord struct {
	SessionID           string                `json:"session_id"`
	Reason              string                `json:"reason"`
	CustomerEmail       string                `json:"customer_email"`
	CustomerName        string                `json:"customer_name"`
	Summary             string                `json:"summary"`
	ConversationHistory []models.HistoryEntry `json:"conversation_history"`
	Timestamp           time.Time             `json:"timestamp"`
	Verified            bool                  `json:"verified"`
}

// TransferResult is the backend's answer to a transfer request.
type TransferResult struct {
	TransferInitiated bool   `json:"transfer_initiated"`
	QueuePosition     string `json:"queue_position,omitempty"`
	EstimatedWait     string `json:"estimated_wait,omitempty"`
	TransferID        string `json:"transfer_id,omitempty"`
}

// StatusError reports a non-2xx backend response. Callers map specific
// statuses (403 vs the rest) to distinct tool results.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// BackendClient calls the voice-agent backend over HTTP.
type BackendClient struct {
	BaseURL   string
	SessionID string
	Client    *http.Client
	Logger    *zap.Logger
}

// backendCallTimeout bounds every BackendAPI round trip so a hung backend
// surfaces to the remote agent as a structured error instead of leaving it
// waiting on the function-call result forever.
const backendCallTimeout = 15 * time.Second

func NewBackendClient(sessionID string) *BackendClient {
	baseURL := os.Getenv("BACKEND_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}

	return &BackendClient{
		BaseURL:   baseURL,
		SessionID: sessionID,
		Client:    &http.Client{Timeout: backendCallTimeout},
		Logger:    zap.L().With(zap.String("session_id", sessionID)),
	}
}

func (c *BackendClient) RealtimeToken(ctx context.Context) (TokenResponse, error) {
	var token TokenResponse
	if err := c.do(ctx, http.MethodGet, "/api/realtime/token", nil, &token); err != nil {
		return TokenResponse{}, err
	}
	if token.ClientSecret == "" {
		return TokenResponse{}, fmt.Errorf("no client_secret in token response")
	}
	return token, nil
}

// Verify checks customer identity. The backend answers 403 with a
// {verified: false} body on failure, so the body is decoded regardless of
// status; a failed verification is a normal outcome, not an error.
func (c *BackendClient) Verify(ctx context.Context, req models.VerificationForm) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to marshal verification payload: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/verify", body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var result struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode verification response: %w", err)
	}
	return result.Verified, nil
}

func (c *BackendClient) CustomerPolicies(ctx context.Context, email string) ([]json.RawMessage, error) {
	var policies []json.RawMessage
	path := fmt.Sprintf("/api/customer/%s/policies", url.PathEscape(email))
	if err := c.do(ctx, http.MethodGet, path, nil, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// Policies lists the policies tied to the session itself, used when no
// customer email is on file.
func (c *BackendClient) Policies(ctx context.Context) ([]json.RawMessage, error) {
	var policies []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/policies", nil, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (c *BackendClient) Policy(ctx context.Context, topic, detailLevel string) (PolicyDocument, error) {
	if detailLevel == "" {
		detailLevel = "summary"
	}
	body, err := json.Marshal(map[string]string{
		"topic":        topic,
		"detail_level": detailLevel,
	})
	if err != nil {
		return PolicyDocument{}, fmt.Errorf("failed to marshal policy query: %w", err)
	}

	var doc PolicyDocument
	if err := c.do(ctx, http.MethodPost, "/api/policy", body, &doc); err != nil {
		return PolicyDocument{}, err
	}
	return doc, nil
}

func (c *BackendClient) CoverageInfo(ctx context.Context, coverageType string) (json.RawMessage, error) {
	var payload json.RawMessage
	path := "/api/pc-coverage/" + url.PathEscape(coverageType)
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *BackendClient) InitiateTransfer(ctx context.Context, record TransferRecord) (TransferResult, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return TransferResult{}, fmt.Errorf("failed to marshal transfer record: %w", err)
	}

	var result TransferResult
	if err := c.do(ctx, http.MethodPost, "/api/transfer-to-agent", body, &result); err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// do performs a request and decodes a 2xx response into out. Non-2xx
// responses become *StatusError.
func (c *BackendClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Logger.Warn("Backend call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// send performs the request. The client's Timeout bounds the whole
// exchange, body included, so no per-call context deadline is layered on.
func (c *BackendClient) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", c.SessionID)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	return resp, nil
}
