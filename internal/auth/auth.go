package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/metadata"
)

// KeyPrefix starts every shield API key.
const KeyPrefix = "shk_"

// prefixLen is the length of the stored lookup prefix, e.g. "shk_abcd".
const prefixLen = 8

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// Principal identifies an authenticated caller.
type Principal struct {
	KeyID string
}

// Authenticator validates incoming gRPC requests.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Principal, error)
}

// BearerToken extracts the key from an Authorization header value.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func BearerToken(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if !strings.HasPrefix(token, KeyPrefix) || len(token) < prefixLen {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// extractAPIKey reads the bearer key from gRPC metadata.
func extractAPIKey(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	return BearerToken(values[0])
}

// GenerateAPIKey creates a new shk_ API key with its bcrypt hash.
// Returns (fullKey, hash, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := KeyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	return fullKey, string(hash), nil
}
