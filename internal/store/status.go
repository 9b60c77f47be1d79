package store

import (
	"context"
	"fmt"
	"time"
)

// StatusStore keeps the last known status and the current pairing payload
// of each tenant. Both values expire on their own.
type StatusStore struct {
	kv        *KV
	statusTTL time.Duration
	qrTTL     time.Duration
}

// NewStatusStore creates a StatusStore. statusTTL applies when SetStatus is
// called without an explicit expiry.
func NewStatusStore(kv *KV, statusTTL, qrTTL time.Duration) *StatusStore {
	return &StatusStore{kv: kv, statusTTL: statusTTL, qrTTL: qrTTL}
}

func statusKey(userID string) string { return "status:" + userID }
func qrKey(userID string) string     { return "qr:" + userID }

// SetStatus persists status for userID. A ttl of zero uses the default.
func (s *StatusStore) SetStatus(ctx context.Context, userID, status string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.statusTTL
	}
	if err := s.kv.Set(ctx, statusKey(userID), status, ttl); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

// GetStatus returns the persisted status, or "" when none is stored.
func (s *StatusStore) GetStatus(ctx context.Context, userID string) (string, error) {
	val, _, err := s.kv.Get(ctx, statusKey(userID))
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return val, nil
}

// DeleteStatus forgets the status of userID.
func (s *StatusStore) DeleteStatus(ctx context.Context, userID string) error {
	if err := s.kv.Del(ctx, statusKey(userID)); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}

// SetQR stores the current pairing payload.
func (s *StatusStore) SetQR(ctx context.Context, userID, payload string) error {
	if err := s.kv.Set(ctx, qrKey(userID), payload, s.qrTTL); err != nil {
		return fmt.Errorf("failed to write qr: %w", err)
	}
	return nil
}

// GetQR returns the current pairing payload, or "" when none is stored.
func (s *StatusStore) GetQR(ctx context.Context, userID string) (string, error) {
	val, _, err := s.kv.Get(ctx, qrKey(userID))
	if err != nil {
		return "", fmt.Errorf("failed to read qr: %w", err)
	}
	return val, nil
}

// DeleteQR removes the pairing payload.
func (s *StatusStore) DeleteQR(ctx context.Context, userID string) error {
	if err := s.kv.Del(ctx, qrKey(userID)); err != nil {
		return fmt.Errorf("failed to delete qr: %w", err)
	}
	return nil
}
