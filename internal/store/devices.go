package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DeviceKey identifies a headset (or simulator) permitted to submit
// telemetry. Only the bcrypt hash and a lookup prefix are stored.
type DeviceKey struct {
	ID        string
	Label     string
	KeyHash   string
	KeyPrefix string
	Revoked   bool
	CreatedAt time.Time
}

// GenerateDeviceKey creates a new dvk_ key with its bcrypt hash and
// prefix. Returns (fullKey, hash, prefix, error). The fullKey is shown
// to the operator once.
func GenerateDeviceKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateDeviceKey: %w", err)
	}
	fullKey := "dvk_" + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateDeviceKey: %w", err)
	}

	prefix := fullKey[:8] // "dvk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateDeviceKey inserts a new device key and returns the record along
// with the plaintext key (shown once).
func (s *Store) CreateDeviceKey(ctx context.Context, label string) (*DeviceKey, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateDeviceKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateDeviceKey: %w", err)
	}

	var dk DeviceKey
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO device_keys (label, key_hash, key_prefix)
		VALUES ($1, $2, $3)
		RETURNING id, label, key_hash, key_prefix, revoked, created_at`,
		label, keyHash, keyPrefix,
	).Scan(&dk.ID, &dk.Label, &dk.KeyHash, &dk.KeyPrefix, &dk.Revoked, &dk.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateDeviceKey: %w", err)
	}
	return &dk, fullKey, nil
}

// ListDeviceKeys returns all device keys, newest first.
func (s *Store) ListDeviceKeys(ctx context.Context) ([]*DeviceKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, key_hash, key_prefix, revoked, created_at
		FROM device_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListDeviceKeys: %w", err)
	}
	defer rows.Close()

	var keys []*DeviceKey
	for rows.Next() {
		var dk DeviceKey
		if err := rows.Scan(&dk.ID, &dk.Label, &dk.KeyHash, &dk.KeyPrefix, &dk.Revoked, &dk.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListDeviceKeys: %w", err)
		}
		keys = append(keys, &dk)
	}
	return keys, rows.Err()
}

// RevokeDeviceKey marks a key revoked. Revoked keys fail authentication
// once any cached entry expires.
func (s *Store) RevokeDeviceKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE device_keys SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("RevokeDeviceKey: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
