package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/exchanged/internal/money"
)

// Direction is which way a chain transaction moved funds.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// ChainTransaction is an on-chain ingress or egress record. Immutable;
// the unique constraint on TxID is what makes deposit ingestion
// idempotent.
type ChainTransaction struct {
	ID         string
	UserID     string
	CoinSymbol string
	Direction  Direction
	TxID       string
	Amount     money.Amount
	CreatedAt  time.Time
}

// ErrDuplicateTxID is returned when txid has already been recorded. Per
// the deposit sync's idempotency contract this is not a failure: the
// caller should treat it as "already ingested" and move on.
var ErrDuplicateTxID = errors.New("ledger: transaction id already recorded")

// InsertChainTransactionTx records a chain transaction within tx,
// returning ErrDuplicateTxID (not wrapped as a hard failure) if txid was
// already seen.
func InsertChainTransactionTx(tx *sql.Tx, userID, coinSymbol string, direction Direction, txid string, amount money.Amount) (*ChainTransaction, error) {
	ct := &ChainTransaction{
		ID: uuid.NewString(), UserID: userID, CoinSymbol: coinSymbol,
		Direction: direction, TxID: txid, Amount: amount, CreatedAt: time.Now().UTC(),
	}
	_, err := tx.Exec(
		`INSERT INTO chain_transactions (id, user_id, coin_symbol, direction, txid, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ct.ID, ct.UserID, ct.CoinSymbol, string(ct.Direction), ct.TxID, int64(ct.Amount), ct.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateTxID
		}
		return nil, fmt.Errorf("insert chain transaction: %w", err)
	}
	return ct, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// TransactionsByUser returns a user's chain transactions, optionally
// filtered to one coin, most recent first.
func (s *Storage) TransactionsByUser(userID, coinSymbol string) ([]*ChainTransaction, error) {
	query := `SELECT id, user_id, coin_symbol, direction, txid, amount, created_at
	          FROM chain_transactions WHERE user_id = ?`
	args := []interface{}{userID}
	if coinSymbol != "" {
		query += " AND coin_symbol = ?"
		args = append(args, coinSymbol)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chain transactions: %w", err)
	}
	defer rows.Close()

	var out []*ChainTransaction
	for rows.Next() {
		var ct ChainTransaction
		var direction string
		var amount, createdAt int64
		if err := rows.Scan(&ct.ID, &ct.UserID, &ct.CoinSymbol, &direction, &ct.TxID, &amount, &createdAt); err != nil {
			return nil, err
		}
		ct.Direction = Direction(direction)
		ct.Amount = money.Amount(amount)
		ct.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &ct)
	}
	return out, rows.Err()
}
