package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCoinNodeNotFound is returned when a coin-node configuration lookup
// misses.
var ErrCoinNodeNotFound = errors.New("ledger: coin node not found")

// CoinNodeRecord is an admin-managed coin-node connection record. Any
// mutation to one of these must be followed by invalidating that coin's
// cached adapter (see coinnode.Registry.Invalidate).
type CoinNodeRecord struct {
	CoinSymbol string
	NodeType   string
	Host       string
	Port       int
	Username   string
	Password   string
	Enabled    bool
	UpdatedAt  time.Time
}

// UpsertCoinNode creates or replaces the connection record for a coin.
func (s *Storage) UpsertCoinNode(r *CoinNodeRecord) error {
	r.UpdatedAt = time.Now().UTC()
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO coin_nodes (coin_symbol, node_type, host, port, username, password, enabled, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(coin_symbol) DO UPDATE SET
		   node_type = excluded.node_type, host = excluded.host, port = excluded.port,
		   username = excluded.username, password = excluded.password,
		   enabled = excluded.enabled, updated_at = excluded.updated_at`,
		r.CoinSymbol, r.NodeType, r.Host, r.Port, r.Username, r.Password, enabled, r.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert coin node: %w", err)
	}
	return nil
}

// CoinNodeBySymbol looks up a coin's node configuration record.
func (s *Storage) CoinNodeBySymbol(coinSymbol string) (*CoinNodeRecord, error) {
	var r CoinNodeRecord
	var enabled int
	var updatedAt int64
	row := s.db.QueryRow(
		`SELECT coin_symbol, node_type, host, port, username, password, enabled, updated_at
		 FROM coin_nodes WHERE coin_symbol = ?`, coinSymbol,
	)
	err := row.Scan(&r.CoinSymbol, &r.NodeType, &r.Host, &r.Port, &r.Username, &r.Password, &enabled, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCoinNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query coin node: %w", err)
	}
	r.Enabled = enabled != 0
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &r, nil
}

// DeleteCoinNode removes a coin's node configuration record.
func (s *Storage) DeleteCoinNode(coinSymbol string) error {
	_, err := s.db.Exec(`DELETE FROM coin_nodes WHERE coin_symbol = ?`, coinSymbol)
	if err != nil {
		return fmt.Errorf("delete coin node: %w", err)
	}
	return nil
}

// ListCoinNodes returns every configured coin-node record.
func (s *Storage) ListCoinNodes() ([]*CoinNodeRecord, error) {
	rows, err := s.db.Query(
		`SELECT coin_symbol, node_type, host, port, username, password, enabled, updated_at FROM coin_nodes`,
	)
	if err != nil {
		return nil, fmt.Errorf("list coin nodes: %w", err)
	}
	defer rows.Close()

	var out []*CoinNodeRecord
	for rows.Next() {
		var r CoinNodeRecord
		var enabled int
		var updatedAt int64
		if err := rows.Scan(&r.CoinSymbol, &r.NodeType, &r.Host, &r.Port, &r.Username, &r.Password, &enabled, &updatedAt); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}
