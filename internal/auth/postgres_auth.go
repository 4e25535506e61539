package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// keyPrefixLen is the number of leading characters used for the indexed
// lookup (e.g. "dvk_abcd").
const keyPrefixLen = 8

// DeviceStore abstracts DB queries for testability.
type DeviceStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*deviceRow, error)
}

type deviceRow struct {
	KeyID   string
	Label   string
	KeyHash string
	Revoked bool
}

// sqlDeviceStore is the real implementation using *sql.DB.
type sqlDeviceStore struct {
	db *sql.DB
}

func (s *sqlDeviceStore) LookupByPrefix(ctx context.Context, prefix string) (*deviceRow, error) {
	row := &deviceRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, key_hash, revoked FROM device_keys WHERE key_prefix = $1`,
		prefix,
	).Scan(&row.KeyID, &row.Label, &row.KeyHash, &row.Revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidKey // no key with this prefix — reject, don't fail open
		}
		return nil, fmt.Errorf("sqlDeviceStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// PostgresAuthenticator validates device keys against the device_keys
// table. Uses Cache with stale-while-revalidate to keep DB + bcrypt off
// the telemetry hot path.
type PostgresAuthenticator struct {
	store  DeviceStore
	cache  *Cache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  &sqlDeviceStore{db: cfg.DB},
		cache:  NewCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresAuthenticatorWithStore creates an authenticator with an
// injected store (for testing).
func newPostgresAuthenticatorWithStore(store DeviceStore, cache *Cache, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Authenticate validates a device key.
//
// Flow:
//  1. Format check ("dvk_" prefix, minimum length)
//  2. Cache lookup (stale-while-revalidate):
//     - Fresh hit: return immediately
//     - Stale hit: return stale device, spawn background refresh
//     - Miss: full DB + bcrypt lookup synchronously
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, key string) (*DeviceContext, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingKey
	}
	if len(key) < keyPrefixLen || !strings.HasPrefix(key, "dvk_") {
		return nil, ErrInvalidKey
	}

	result := a.cache.Get(key)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(key)
		}
		return result.Device, nil
	}

	device, err := a.lookupAndVerify(ctx, key)
	if err != nil {
		return nil, a.classifyLookupError(err)
	}

	a.cache.Set(key, device)
	return device, nil
}

// backgroundRefresh performs the DB + bcrypt lookup in a background
// goroutine. Errors are logged but don't affect the caller, which
// already got the stale value.
func (a *PostgresAuthenticator) backgroundRefresh(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	device, err := a.lookupAndVerify(ctx, key)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		// Drop the stale entry so the next request retries synchronously.
		a.cache.Delete(key)
		return
	}

	a.cache.Set(key, device)
}

// lookupAndVerify does the full DB prefix lookup + bcrypt verification.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, key string) (*DeviceContext, error) {
	row, err := a.store.LookupByPrefix(ctx, key[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if row.Revoked {
		return nil, ErrRevokedKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(key)); err != nil {
		return nil, ErrInvalidKey
	}
	return &DeviceContext{KeyID: row.KeyID, Label: row.Label}, nil
}

// classifyLookupError distinguishes a rejected key from an unreachable
// auth backend. Rejections are terminal; backend errors are surfaced as
// unavailable so the client can retry.
func (a *PostgresAuthenticator) classifyLookupError(lookupErr error) error {
	if errors.Is(lookupErr, ErrInvalidKey) {
		return ErrInvalidKey
	}
	if errors.Is(lookupErr, ErrRevokedKey) {
		return ErrRevokedKey
	}
	a.logger.Warn("auth DB unreachable", zap.Error(lookupErr))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}
