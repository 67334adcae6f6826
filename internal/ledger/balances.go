package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/money"
)

// ErrIntegrityViolation signals that total == available + locked or
// non-negativity failed to hold for a balance row inside a transaction.
// It is always fatal to the transaction that raised it.
var ErrIntegrityViolation = errors.New("ledger: balance integrity violation")

// Balance is the per-(user, coin) ledger row. The invariant
// total == available + locked, all three >= 0, holds for every row read
// outside a transaction and is re-checked before every commit.
type Balance struct {
	UserID     string
	CoinSymbol string
	Total      money.Amount
	Available  money.Amount
	Locked     money.Amount
}

func (b *Balance) checkIntegrity() error {
	if b.Total.Sign() < 0 || b.Available.Sign() < 0 || b.Locked.Sign() < 0 {
		return fmt.Errorf("%w: negative component for %s/%s", ErrIntegrityViolation, b.UserID, b.CoinSymbol)
	}
	if b.Total != b.Available.Add(b.Locked) {
		return fmt.Errorf("%w: total %s != available %s + locked %s for %s/%s",
			ErrIntegrityViolation, b.Total, b.Available, b.Locked, b.UserID, b.CoinSymbol)
	}
	return nil
}

// GetOrCreateBalanceTx returns the balance row for (userID, coin) within
// tx, inserting a zeroed row if none exists yet. The caller must already
// hold the balance's lock (see LockManager.LockBalances) before calling
// this during a read-modify-write sequence.
func GetOrCreateBalanceTx(tx *sql.Tx, userID, coinSymbol string) (*Balance, error) {
	b, err := queryBalance(tx, userID, coinSymbol)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query balance: %w", err)
	}

	b = &Balance{UserID: userID, CoinSymbol: coinSymbol}
	_, err = tx.Exec(
		`INSERT INTO balances (user_id, coin_symbol, total, available, locked) VALUES (?, ?, 0, 0, 0)`,
		userID, coinSymbol,
	)
	if err != nil {
		return nil, fmt.Errorf("create balance: %w", err)
	}
	return b, nil
}

func queryBalance(tx *sql.Tx, userID, coinSymbol string) (*Balance, error) {
	var b Balance
	b.UserID, b.CoinSymbol = userID, coinSymbol
	row := tx.QueryRow(
		`SELECT total, available, locked FROM balances WHERE user_id = ? AND coin_symbol = ?`,
		userID, coinSymbol,
	)
	var total, available, locked int64
	if err := row.Scan(&total, &available, &locked); err != nil {
		return nil, err
	}
	b.Total, b.Available, b.Locked = money.Amount(total), money.Amount(available), money.Amount(locked)
	return &b, nil
}

// SaveBalanceTx re-checks the invariant and persists b within tx. Every
// code path that mutates a Balance must route through this before the
// transaction commits.
func SaveBalanceTx(tx *sql.Tx, b *Balance) error {
	if err := b.checkIntegrity(); err != nil {
		return err
	}
	_, err := tx.Exec(
		`INSERT INTO balances (user_id, coin_symbol, total, available, locked)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, coin_symbol) DO UPDATE SET
		   total = excluded.total, available = excluded.available, locked = excluded.locked`,
		b.UserID, b.CoinSymbol, int64(b.Total), int64(b.Available), int64(b.Locked),
	)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// Balance returns a read-only snapshot of a user's balance for one coin,
// outside any transaction. A missing row is reported as a zero balance
// rather than an error, matching get-balances' "no deposit yet" case.
func (s *Storage) Balance(userID, coinSymbol string) (*Balance, error) {
	var total, available, locked int64
	row := s.db.QueryRow(
		`SELECT total, available, locked FROM balances WHERE user_id = ? AND coin_symbol = ?`,
		userID, coinSymbol,
	)
	err := row.Scan(&total, &available, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return &Balance{UserID: userID, CoinSymbol: coinSymbol}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return &Balance{
		UserID: userID, CoinSymbol: coinSymbol,
		Total: money.Amount(total), Available: money.Amount(available), Locked: money.Amount(locked),
	}, nil
}

// BalancesByUser returns every balance row a user has, including rows
// whose amounts are all zero.
func (s *Storage) BalancesByUser(userID string) ([]*Balance, error) {
	rows, err := s.db.Query(
		`SELECT user_id, coin_symbol, total, available, locked FROM balances WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []*Balance
	for rows.Next() {
		var b Balance
		var total, available, locked int64
		if err := rows.Scan(&b.UserID, &b.CoinSymbol, &total, &available, &locked); err != nil {
			return nil, err
		}
		b.Total, b.Available, b.Locked = money.Amount(total), money.Amount(available), money.Amount(locked)
		out = append(out, &b)
	}
	return out, rows.Err()
}
