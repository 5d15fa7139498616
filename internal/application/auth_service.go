package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	authServiceName = "AuthService"

	// Verified keys are remembered so argon2id runs once per key and TTL
	// rather than on every request.
	keyCacheTTL  = 5 * time.Minute
	keyCacheSize = 64
)

// APIClientKey is a configured caller and the argon2id hash of its key.
type APIClientKey struct {
	Name    string
	KeyHash string
}

// KeyVerifier compares an encoded hash with a presented key.
type KeyVerifier func(encodedHash, key string) error

// AuthService resolves bearer API keys to the calling client.
type AuthService struct {
	clients []APIClientKey
	verify  KeyVerifier
	// cache maps key fingerprints to principals; raw keys are never held.
	cache  *expirable.LRU[string, Principal]
	logger *slog.Logger
}

// NewAuthService constructs an AuthService. A nil verify uses VerifyAPIKey.
func NewAuthService(clients []APIClientKey, verify KeyVerifier, logger *slog.Logger) *AuthService {
	return newAuthService(clients, verify, logger, keyCacheSize, keyCacheTTL)
}

func newAuthService(clients []APIClientKey, verify KeyVerifier, logger *slog.Logger, cacheSize int, cacheTTL time.Duration) *AuthService {
	if verify == nil {
		verify = VerifyAPIKey
	}
	return &AuthService{
		clients: append([]APIClientKey(nil), clients...),
		verify:  verify,
		cache:   expirable.NewLRU[string, Principal](cacheSize, nil, cacheTTL),
		logger:  defaultLogger(logger),
	}
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate returns the principal owning key, or ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, key string) (principal Principal, err error) {
	logger := serviceLogger(ctx, s.logger, authServiceName, "Authenticate")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	key = strings.TrimSpace(key)
	if key == "" {
		return Principal{}, ErrUnauthorized
	}
	id := fingerprint(key)
	if cached, ok := s.cache.Get(id); ok {
		return cached, nil
	}

	for _, client := range s.clients {
		verr := s.verify(client.KeyHash, key)
		if verr == nil {
			principal = Principal{ClientName: client.Name}
			s.cache.Add(id, principal)
			logger.InfoContext(ctx, "client authenticated", "client", client.Name)
			return principal, nil
		}
		if errors.Is(verr, ErrInvalidKeyHash) || errors.Is(verr, ErrIncompatibleKeyVersion) {
			logger.ErrorContext(ctx, "configured key hash is unusable", "client", client.Name, "error", verr)
		}
	}
	return Principal{}, ErrUnauthorized
}
