package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/klingon-exchange/exchanged/internal/money"
)

// ErrInsufficientFeePool is returned by a fee-pool withdrawal when the
// pool holds less than the requested amount.
var ErrInsufficientFeePool = errors.New("ledger: insufficient fee pool balance")

// InsertFeeTx records one side (base or quote) of a trade's fee.
func InsertFeeTx(tx *sql.Tx, tradeID, coinSymbol string, amount money.Amount) error {
	_, err := tx.Exec(
		`INSERT INTO fees (id, trade_id, coin_symbol, amount) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), tradeID, coinSymbol, int64(amount),
	)
	if err != nil {
		return fmt.Errorf("insert fee: %w", err)
	}
	return nil
}

// CreditFeePoolTx adds amount to the per-coin fee pool within tx, creating
// the row on first credit.
func CreditFeePoolTx(tx *sql.Tx, coinSymbol string, amount money.Amount) error {
	current, err := feePoolAmountTx(tx, coinSymbol)
	if err != nil {
		return err
	}
	return setFeePoolTx(tx, coinSymbol, current.Add(amount))
}

// DebitFeePoolTx subtracts amount from the per-coin fee pool within tx,
// used only by admin fee-pool withdrawals. Fails if the pool would go
// negative.
func DebitFeePoolTx(tx *sql.Tx, coinSymbol string, amount money.Amount) error {
	current, err := feePoolAmountTx(tx, coinSymbol)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return ErrInsufficientFeePool
	}
	return setFeePoolTx(tx, coinSymbol, current.Sub(amount))
}

func feePoolAmountTx(tx *sql.Tx, coinSymbol string) (money.Amount, error) {
	var amount int64
	row := tx.QueryRow(`SELECT amount FROM fee_pool WHERE coin_symbol = ?`, coinSymbol)
	err := row.Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return money.Zero, nil
	}
	if err != nil {
		return money.Zero, fmt.Errorf("query fee pool: %w", err)
	}
	return money.Amount(amount), nil
}

func setFeePoolTx(tx *sql.Tx, coinSymbol string, amount money.Amount) error {
	_, err := tx.Exec(
		`INSERT INTO fee_pool (coin_symbol, amount) VALUES (?, ?)
		 ON CONFLICT(coin_symbol) DO UPDATE SET amount = excluded.amount`,
		coinSymbol, int64(amount),
	)
	if err != nil {
		return fmt.Errorf("save fee pool: %w", err)
	}
	return nil
}

// FeePoolBalance returns the current fee pool amount for a coin, outside
// any transaction.
func (s *Storage) FeePoolBalance(coinSymbol string) (money.Amount, error) {
	var amount int64
	row := s.db.QueryRow(`SELECT amount FROM fee_pool WHERE coin_symbol = ?`, coinSymbol)
	err := row.Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return money.Zero, nil
	}
	if err != nil {
		return money.Zero, fmt.Errorf("query fee pool: %w", err)
	}
	return money.Amount(amount), nil
}
