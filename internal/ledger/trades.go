package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/exchanged/internal/money"
)

// Trade is one atomic matching event between a buy and a sell order.
// Immutable after creation.
type Trade struct {
	ID          string
	MarketID    string
	BuyOrderID  string
	SellOrderID string
	Price       money.Amount
	Amount      money.Amount
	CreatedAt   time.Time
}

// InsertTradeTx records a trade within tx.
func InsertTradeTx(tx *sql.Tx, marketID, buyOrderID, sellOrderID string, price, amount money.Amount) (*Trade, error) {
	t := &Trade{
		ID: uuid.NewString(), MarketID: marketID, BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
		Price: price, Amount: amount, CreatedAt: time.Now().UTC(),
	}
	_, err := tx.Exec(
		`INSERT INTO trades (id, market_id, buy_order_id, sell_order_id, price, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MarketID, t.BuyOrderID, t.SellOrderID, int64(t.Price), int64(t.Amount), t.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	return t, nil
}

// TradesByMarket returns up to limit trades recorded on a market, most
// recent first.
func (s *Storage) TradesByMarket(marketID string, limit int) ([]*Trade, error) {
	rows, err := s.db.Query(
		`SELECT id, market_id, buy_order_id, sell_order_id, price, amount, created_at
		 FROM trades WHERE market_id = ? ORDER BY created_at DESC LIMIT ?`,
		marketID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		var t Trade
		var price, amount, createdAt int64
		if err := rows.Scan(&t.ID, &t.MarketID, &t.BuyOrderID, &t.SellOrderID, &price, &amount, &createdAt); err != nil {
			return nil, err
		}
		t.Price, t.Amount = money.Amount(price), money.Amount(amount)
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
