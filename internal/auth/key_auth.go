package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyRecord is a stored API key.
type KeyRecord struct {
	KeyID string
	Hash  string // bcrypt
}

// KeyStore resolves a key prefix to its stored record.
type KeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*KeyRecord, error)
}

// StaticKeyStore serves a single configured key hash for every prefix.
type StaticKeyStore struct {
	Record KeyRecord
}

// NewStaticKeyStore wraps a bcrypt hash from configuration.
func NewStaticKeyStore(hash string) *StaticKeyStore {
	return &StaticKeyStore{Record: KeyRecord{KeyID: "default", Hash: hash}}
}

func (s *StaticKeyStore) LookupByPrefix(context.Context, string) (*KeyRecord, error) {
	rec := s.Record
	return &rec, nil
}

// KeyAuthenticator verifies bcrypt-hashed API keys for the HTTP and gRPC surfaces.
type KeyAuthenticator struct {
	store  KeyStore
	cache  *AuthCache
	logger *zap.Logger
}

// NewKeyAuthenticator creates an authenticator. ttl defaults to 30s.
func NewKeyAuthenticator(store KeyStore, ttl time.Duration, logger *zap.Logger) *KeyAuthenticator {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &KeyAuthenticator{
		store:  store,
		cache:  NewAuthCache(ttl),
		logger: logger,
	}
}

// Authenticate validates the bearer key in gRPC metadata.
func (a *KeyAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	apiKey, err := extractAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	return a.Verify(ctx, apiKey)
}

// Verify checks a raw key, serving cached results when possible.
func (a *KeyAuthenticator) Verify(ctx context.Context, apiKey string) (*Principal, error) {
	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Principal, nil
	}

	p, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			return nil, ErrInvalidAPIKey
		}
		a.logger.Warn("auth backend unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}

	a.cache.Set(apiKey, p)
	return p, nil
}

// backgroundRefresh re-verifies a stale key. On failure the entry is dropped
// so the next request verifies synchronously.
func (a *KeyAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}
	a.cache.Set(apiKey, p)
}

func (a *KeyAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*Principal, error) {
	if len(apiKey) < prefixLen {
		return nil, ErrInvalidAPIKey
	}

	rec, err := a.store.LookupByPrefix(ctx, apiKey[:prefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if rec == nil {
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	return &Principal{KeyID: rec.KeyID}, nil
}
