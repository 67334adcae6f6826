package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/exchanged/internal/money"
)

// ErrMarketNotFound is returned when a market lookup misses.
var ErrMarketNotFound = errors.New("ledger: market not found")

// ErrMarketExists is returned by CreateMarket when (base, quote) is
// already registered; Existing carries the conflicting market so the
// caller can report its id.
type ErrMarketExists struct {
	Existing *Market
}

func (e *ErrMarketExists) Error() string {
	return fmt.Sprintf("ledger: market %s/%s already exists (id %s)", e.Existing.BaseCoin, e.Existing.QuoteCoin, e.Existing.ID)
}

// Market is an ordered trading pair.
type Market struct {
	ID        string
	BaseCoin  string
	QuoteCoin string
	FeeRate   money.Amount
	Active    bool
	CreatedAt time.Time
}

// CreateMarket validates base != quote and inserts a new market, refusing
// duplicates on (base, quote) with ErrMarketExists carrying the existing
// row.
func (s *Storage) CreateMarket(base, quote string, feeRate money.Amount) (*Market, error) {
	if base == quote {
		return nil, fmt.Errorf("ledger: market base and quote must differ, got %s/%s", base, quote)
	}
	if existing, err := s.MarketByPair(base, quote); err == nil {
		return nil, &ErrMarketExists{Existing: existing}
	} else if !errors.Is(err, ErrMarketNotFound) {
		return nil, err
	}

	m := &Market{
		ID: uuid.NewString(), BaseCoin: base, QuoteCoin: quote,
		FeeRate: feeRate, Active: true, CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO markets (id, base_coin, quote_coin, fee_rate, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		m.ID, m.BaseCoin, m.QuoteCoin, int64(m.FeeRate), m.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}
	return m, nil
}

// MarketByID looks up a market by id.
func (s *Storage) MarketByID(id string) (*Market, error) {
	return scanMarket(s.db.QueryRow(
		`SELECT id, base_coin, quote_coin, fee_rate, active, created_at FROM markets WHERE id = ?`, id,
	))
}

// MarketByPair looks up a market by its (base, quote) pair.
func (s *Storage) MarketByPair(base, quote string) (*Market, error) {
	return scanMarket(s.db.QueryRow(
		`SELECT id, base_coin, quote_coin, fee_rate, active, created_at
		 FROM markets WHERE base_coin = ? AND quote_coin = ?`, base, quote,
	))
}

func scanMarket(row *sql.Row) (*Market, error) {
	var m Market
	var feeRate int64
	var active int
	var createdAt int64
	if err := row.Scan(&m.ID, &m.BaseCoin, &m.QuoteCoin, &feeRate, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("scan market: %w", err)
	}
	m.FeeRate = money.Amount(feeRate)
	m.Active = active != 0
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &m, nil
}
