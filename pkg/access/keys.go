// Package access implements caller authentication and admission control for
// the router: API key issuance and validation, sliding-window rate limiting,
// and the request-level gate applied in front of protected HTTP routes.
package access

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix prefixes every generated API key.
const KeyPrefix = "tg_"

// Permission scopes. PermAll is the wildcard that satisfies every check.
const (
	PermAll   = "*"
	PermRead  = "read"
	PermWrite = "write"
	PermAdmin = "admin"
)

// Validation errors.
var (
	ErrUnknownKey       = errors.New("access: unknown API key")
	ErrKeyExpired       = errors.New("access: API key expired")
	ErrPermissionDenied = errors.New("access: permission denied")
)

// Key is a stored API key record. The raw key string is only ever returned
// once, from Create; lookups afterwards go through redacted Info views.
type Key struct {
	ID          string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero means no expiry
	UseCount    int64
	LastUsed    time.Time
	Exempt      bool // bypasses rate limiting
}

// Has reports whether the key's permission set satisfies the required
// scope, either through the wildcard or an exact match.
func (k *Key) Has(required string) bool {
	for _, p := range k.Permissions {
		if p == PermAll || p == required {
			return true
		}
	}
	return false
}

// Wildcard reports whether the key carries the wildcard scope.
func (k *Key) Wildcard() bool {
	for _, p := range k.Permissions {
		if p == PermAll {
			return true
		}
	}
	return false
}

// Info is the redacted view of a key returned by Store.List.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	KeyPreview  string    `json:"keyPreview"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	UseCount    int64     `json:"useCount"`
	LastUsed    time.Time `json:"lastUsed,omitempty"`
	Exempt      bool      `json:"exempt"`
}

// CreateOptions tunes key creation.
type CreateOptions struct {
	// TTL sets an expiry relative to creation time; zero means no expiry.
	TTL time.Duration

	// Exempt marks the key as rate-limit exempt.
	Exempt bool
}

// Store keeps issued API keys in memory. Keys do not survive a restart.
type Store struct {
	mu     sync.RWMutex
	keys   map[string]*Key // raw key -> record
	logger *slog.Logger
}

// NewStore creates an empty key store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		keys:   make(map[string]*Key),
		logger: logger,
	}
}

// Generate returns a fresh raw key: the fixed prefix plus 24 random bytes
// in hex.
func Generate() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return KeyPrefix + hex.EncodeToString(b)
}

// Create issues a new key with the given name and permission scopes and
// returns the raw key string. This is the only time the raw key is exposed.
func (s *Store) Create(name string, permissions []string, opts CreateOptions) (string, *Key) {
	raw := Generate()
	rec := &Key{
		ID:          uuid.NewString(),
		Name:        name,
		Permissions: append([]string(nil), permissions...),
		CreatedAt:   time.Now(),
		Exempt:      opts.Exempt,
	}
	if opts.TTL > 0 {
		rec.ExpiresAt = rec.CreatedAt.Add(opts.TTL)
	}

	s.mu.Lock()
	s.keys[raw] = rec
	s.mu.Unlock()

	s.logger.Info("api key created", "name", name, "id", rec.ID, "permissions", permissions)
	return raw, rec
}

// Bootstrap issues the startup admin key: wildcard permissions, rate-limit
// exempt, no expiry. The raw key is returned so the operator can capture it.
func (s *Store) Bootstrap() string {
	raw, _ := s.Create("admin", []string{PermAll}, CreateOptions{Exempt: true})
	return raw
}

// Revoke deletes a key by its raw value. It reports whether a key existed.
func (s *Store) Revoke(raw string) bool {
	s.mu.Lock()
	rec, ok := s.keys[raw]
	delete(s.keys, raw)
	s.mu.Unlock()

	if ok {
		s.logger.Info("api key revoked", "name", rec.Name, "id", rec.ID)
	}
	return ok
}

// List returns redacted views of all keys. Raw key material never leaves
// the store; the preview keeps the prefix plus four characters.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.keys))
	for raw, k := range s.keys {
		infos = append(infos, Info{
			ID:          k.ID,
			Name:        k.Name,
			KeyPreview:  preview(raw),
			Permissions: append([]string(nil), k.Permissions...),
			CreatedAt:   k.CreatedAt,
			ExpiresAt:   k.ExpiresAt,
			UseCount:    k.UseCount,
			LastUsed:    k.LastUsed,
			Exempt:      k.Exempt,
		})
	}
	return infos
}

// Validate checks a raw key against the store and the required permission
// scope. On success it bumps the usage counter, stamps last-used, and
// returns a copy of the record.
func (s *Store) Validate(raw, requiredPermission string) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[raw]
	if !ok {
		return nil, ErrUnknownKey
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrKeyExpired, rec.Name)
	}
	if requiredPermission != "" && !rec.Has(requiredPermission) {
		return nil, fmt.Errorf("%w: %s requires %q", ErrPermissionDenied, rec.Name, requiredPermission)
	}

	rec.UseCount++
	rec.LastUsed = time.Now()

	cp := *rec
	cp.Permissions = append([]string(nil), rec.Permissions...)
	return &cp, nil
}

// Count returns the number of stored keys.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func preview(raw string) string {
	keep := len(KeyPrefix) + 4
	if len(raw) <= keep {
		return raw
	}
	return raw[:keep] + "..."
}
