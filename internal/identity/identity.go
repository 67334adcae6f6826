// Package identity issues and verifies account API keys. It never stores
// a raw key: only its hash ever reaches the ledger.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/security"
	"github.com/klingon-exchange/exchanged/pkg/helpers"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// keyBytes is the size of a raw API key before hex-encoding, matching
// the original implementation's 64 hex character (32 byte) key format.
const keyBytes = 32

// ErrInvalidAPIKey is returned when a presented key is malformed or
// unrecognized.
var ErrInvalidAPIKey = errors.New("identity: invalid api key")

// Identity issues and verifies account credentials.
type Identity struct {
	storage *ledger.Storage
	log     *logging.Logger
}

// New returns an Identity backed by storage.
func New(storage *ledger.Storage, log *logging.Logger) *Identity {
	return &Identity{storage: storage, log: log.Component("identity")}
}

// CreateAccount issues a fresh API key and returns it alongside the new
// user record. The raw key is returned exactly once; only its hash is
// persisted.
func (id *Identity) CreateAccount() (rawKey string, user *ledger.User, err error) {
	raw, err := helpers.GenerateSecureRandom(keyBytes)
	if err != nil {
		return "", nil, fmt.Errorf("identity: generate key: %w", err)
	}
	rawKey = hex.EncodeToString(raw)

	user, err = id.storage.CreateUser(ledger.HashAPIKey(rawKey))
	if err != nil {
		return "", nil, err
	}

	security.LogEvent(id.log, "account_created", false, "user_id", user.ID)
	return rawKey, user, nil
}

// Authenticate looks up the account for a presented raw API key. It
// reports ErrInvalidAPIKey for both a malformed key and one that matches
// no account, so callers cannot distinguish the two from the error alone.
func (id *Identity) Authenticate(rawKey string) (*ledger.User, error) {
	if !validKeyFormat(rawKey) {
		security.LogEvent(id.log, "invalid_api_key_format", true)
		return nil, ErrInvalidAPIKey
	}

	computedHash := ledger.HashAPIKey(rawKey)
	user, err := id.storage.UserByAPIKeyHash(computedHash)
	if errors.Is(err, ledger.ErrUserNotFound) {
		security.LogEvent(id.log, "api_key_not_recognized", true)
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	// The lookup above is index-driven, not a secret-dependent branch, but
	// the final equality check is cheap to harden: compare the hashes
	// byte-for-byte in constant time rather than trust the database's own
	// comparison semantics.
	computed, err1 := hex.DecodeString(computedHash)
	stored, err2 := hex.DecodeString(user.APIKeyHash)
	if err1 != nil || err2 != nil || !helpers.ConstantTimeCompare(computed, stored) {
		security.LogEvent(id.log, "api_key_not_recognized", true)
		return nil, ErrInvalidAPIKey
	}
	return user, nil
}

// validKeyFormat checks the wire shape of a presented key (64 lowercase
// hex characters) before it ever reaches the database, matching the
// original SecurityValidator.validate_api_key.
func validKeyFormat(rawKey string) bool {
	if len(rawKey) != keyBytes*2 {
		return false
	}
	for _, c := range rawKey {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
