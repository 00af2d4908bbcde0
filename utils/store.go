package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Meridian-Labs/meridian-voice-sdk/models"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists per-session verification status and finalized
// conversation turns in Redis. A nil store disables persistence; all
// methods are nil-safe so the protocol core never has to branch on it.
type SessionStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{
		Client: client,
		TTL:    24 * time.Hour,
	}
}

func verifiedKey(sessionID string) string {
	return "voice:session:" + sessionID + ":verified"
}

func historyKey(sessionID string) string {
	return "voice:session:" + sessionID + ":history"
}

// SetVerified records the verification flag for the session.
func (s *SessionStore) SetVerified(ctx context.Context, sessionID string, verified bool) error {
	if s == nil {
		return nil
	}
	if err := s.Client.Set(ctx, verifiedKey(sessionID), verified, s.TTL).Err(); err != nil {
		return fmt.Errorf("failed to persist verification state: %w", err)
	}
	return nil
}

// IsVerified reads the persisted verification flag. Missing keys read as
// unverified.
func (s *SessionStore) IsVerified(ctx context.Context, sessionID string) (bool, error) {
	if s == nil {
		return false, nil
	}
	verified, err := s.Client.Get(ctx, verifiedKey(sessionID)).Bool()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read verification state: %w", err)
	}
	return verified, nil
}

// AppendTurn appends one finalized conversation turn to the session's
// history list.
func (s *SessionStore) AppendTurn(ctx context.Context, sessionID string, entry models.HistoryEntry) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	key := historyKey(sessionID)
	pipe := s.Client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, s.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist conversation turn: %w", err)
	}
	return nil
}

// History returns all persisted turns for the session in order.
func (s *SessionStore) History(ctx context.Context, sessionID string) ([]models.HistoryEntry, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := s.Client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation history: %w", err)
	}

	entries := make([]models.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
