package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when a user lookup misses.
var ErrUserNotFound = errors.New("ledger: user not found")

// User is an account identity. It is created once and never mutated.
type User struct {
	ID         string
	APIKeyHash string
	CreatedAt  time.Time
}

// CreateUser inserts a new user row and returns it with a freshly
// generated id. The caller supplies apiKeyHash (sha256 hex digest of the
// raw key); the raw key itself is never persisted.
func (s *Storage) CreateUser(apiKeyHash string) (*User, error) {
	u := &User{
		ID:         uuid.NewString(),
		APIKeyHash: apiKeyHash,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, api_key_hash, created_at) VALUES (?, ?, ?)`,
		u.ID, u.APIKeyHash, u.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UserByAPIKeyHash looks up a user by the sha256 hex digest of their key.
func (s *Storage) UserByAPIKeyHash(hash string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, api_key_hash, created_at FROM users WHERE api_key_hash = ?`, hash,
	))
}

// UserByID looks up a user by id.
func (s *Storage) UserByID(id string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, api_key_hash, created_at FROM users WHERE id = ?`, id,
	))
}

func (s *Storage) scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.APIKeyHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// HashAPIKey returns the sha256 hex digest of a raw API key, the only
// form ever persisted.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
