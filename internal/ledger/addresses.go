package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAddressNotFound is returned when an address lookup misses.
var ErrAddressNotFound = errors.New("ledger: address not found")

// Address is a blockchain receive target bound to one user and one coin.
// AddressIndex is only meaningful for Monero (subaddress minor index); it
// is -1 for chains with no index concept.
type Address struct {
	ID           string
	UserID       string
	CoinSymbol   string
	Address      string
	AddressIndex int
	CreatedAt    time.Time
}

// CreateAddress records a freshly minted deposit address for a user. The
// (coin_symbol, address) pair is globally unique; a collision here means
// the coin node returned an address already on file, which the caller
// should treat as duplicate_address_retry_exhausted after a bounded
// number of retries.
func (s *Storage) CreateAddress(userID, coinSymbol, address string, addressIndex int) (*Address, error) {
	a := &Address{
		ID:           uuid.NewString(),
		UserID:       userID,
		CoinSymbol:   coinSymbol,
		Address:      address,
		AddressIndex: addressIndex,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO addresses (id, user_id, coin_symbol, address, address_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.CoinSymbol, a.Address, a.AddressIndex, a.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}
	return a, nil
}

// AddressesByUser returns every address a user owns, optionally filtered
// to one coin.
func (s *Storage) AddressesByUser(userID, coinSymbol string) ([]*Address, error) {
	query := `SELECT id, user_id, coin_symbol, address, address_index, created_at
	          FROM addresses WHERE user_id = ?`
	args := []interface{}{userID}
	if coinSymbol != "" {
		query += " AND coin_symbol = ?"
		args = append(args, coinSymbol)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []*Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// AddressByCoinAndValue resolves the owning user of a Bitcoin-family
// deposit by its address string.
func (s *Storage) AddressByCoinAndValue(coinSymbol, address string) (*Address, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, coin_symbol, address, address_index, created_at
		 FROM addresses WHERE coin_symbol = ? AND address = ?`,
		coinSymbol, address,
	)
	a, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	return a, err
}

// AddressByCoinAndIndex resolves the owning user of a Monero deposit by
// its subaddress minor index.
func (s *Storage) AddressByCoinAndIndex(coinSymbol string, index int) (*Address, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, coin_symbol, address, address_index, created_at
		 FROM addresses WHERE coin_symbol = ? AND address_index = ?`,
		coinSymbol, index,
	)
	a, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAddress(row rowScanner) (*Address, error) {
	var a Address
	var createdAt int64
	if err := row.Scan(&a.ID, &a.UserID, &a.CoinSymbol, &a.Address, &a.AddressIndex, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}
