package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/sync/errgroup"

	"wa-gateway/internal/transport"
)

// PersistFunc writes the credential blob of the tenant it was loaded for.
type PersistFunc func(ctx context.Context, creds *transport.Credentials) error

// CredentialStore keeps one credential blob plus any number of named key
// entries per tenant, each with its own expiry.
type CredentialStore struct {
	kv       *KV
	credsTTL time.Duration
	keysTTL  time.Duration
	log      waLog.Logger
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(kv *KV, credsTTL, keysTTL time.Duration, log waLog.Logger) *CredentialStore {
	return &CredentialStore{
		kv:       kv,
		credsTTL: credsTTL,
		keysTTL:  keysTTL,
		log:      log.Sub("Creds"),
	}
}

func authPrefix(userID string) string {
	return "auth:" + userID + ":"
}

func credsKey(userID string) string {
	return authPrefix(userID) + "creds"
}

func entryKey(userID, category, id string) string {
	return authPrefix(userID) + category + "-" + id
}

// Load returns the stored credentials for userID, or fresh empty credentials
// when none are stored or the blob cannot be parsed. The returned persist
// function saves a blob for the same tenant.
func (s *CredentialStore) Load(ctx context.Context, userID string) (*transport.Credentials, PersistFunc, error) {
	persist := func(ctx context.Context, creds *transport.Credentials) error {
		return s.save(ctx, userID, creds)
	}

	raw, ok, err := s.kv.Get(ctx, credsKey(userID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !ok {
		return &transport.Credentials{}, persist, nil
	}

	var creds transport.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		s.log.Warnf("Discarding unreadable credentials for %s: %v", userID, err)
		return &transport.Credentials{}, persist, nil
	}
	return &creds, persist, nil
}

func (s *CredentialStore) save(ctx context.Context, userID string, creds *transport.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := s.kv.Set(ctx, credsKey(userID), string(data), s.credsTTL); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// ReadKeys returns the stored values of category entries named by ids.
// Missing entries are left out of the result.
func (s *CredentialStore) ReadKeys(ctx context.Context, userID, category string, ids []string) (map[string][]byte, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(userID, category, id)
	}

	found, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s keys: %w", category, err)
	}

	out := make(map[string][]byte, len(found))
	for i, id := range ids {
		if v, ok := found[keys[i]]; ok {
			out[id] = []byte(v)
		}
	}
	return out, nil
}

// WriteKeys stores every entry of update concurrently. A nil value deletes
// the entry. All writes are attempted; the first failure is returned.
func (s *CredentialStore) WriteKeys(ctx context.Context, userID string, update transport.KeyUpdate) error {
	var g errgroup.Group
	for category, entries := range update {
		for id, value := range entries {
			key := entryKey(userID, category, id)
			g.Go(func() error {
				if value == nil {
					return s.kv.Del(ctx, key)
				}
				return s.kv.Set(ctx, key, string(value), s.keysTTL)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to write keys: %w", err)
	}
	return nil
}

// Clear deletes the blob and every key entry of userID.
func (s *CredentialStore) Clear(ctx context.Context, userID string) error {
	keys, err := s.kv.Keys(ctx, escapeGlob(authPrefix(userID))+"*")
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	s.log.Infof("Cleared %d credential keys for %s", len(keys), userID)
	return nil
}
