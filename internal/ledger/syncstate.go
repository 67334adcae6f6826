package ledger

import (
	"database/sql"
	"errors"
	"fmt"
)

// SyncCursor returns the deposit-sync cursor for a coin: a block hash for
// Bitcoin-family coins, an RFC3339 timestamp for Monero. Returns "" if no
// pass has completed yet.
func (s *Storage) SyncCursor(coinSymbol string) (string, error) {
	var cursor sql.NullString
	row := s.db.QueryRow(`SELECT cursor FROM sync_state WHERE coin_symbol = ?`, coinSymbol)
	err := row.Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query sync cursor: %w", err)
	}
	return cursor.String, nil
}

// SetSyncCursorTx advances the cursor for a coin within tx. The deposit
// sync loop writes it in its own transaction after the pass's per-transfer
// credits have committed, and not at all if a credit fails. Transfers the
// pass skipped (too few confirmations, unknown address, unparsable amount)
// do not hold it back: it moves to the cursor of the last transfer that
// was credited or already on record.
func SetSyncCursorTx(tx *sql.Tx, coinSymbol, cursor string) error {
	_, err := tx.Exec(
		`INSERT INTO sync_state (coin_symbol, cursor) VALUES (?, ?)
		 ON CONFLICT(coin_symbol) DO UPDATE SET cursor = excluded.cursor`,
		coinSymbol, cursor,
	)
	if err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}
