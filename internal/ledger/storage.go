// Package ledger is the durable store of balances, orders, trades,
// transactions, and the fee pool. It owns every mutable per-user resource
// in the exchange and enforces the balance invariant on every write.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the SQLite-backed ledger. SQLite only supports one writer at
// a time, so the pool is capped at a single connection; all mutation
// concurrency is instead managed by the keyed locks in locks.go.
type Storage struct {
	db     *sql.DB
	dbPath string
	locks  *LockManager
}

// Config configures where the ledger's database file lives.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the ledger database under cfg.DataDir
// and applies the schema.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "exchange.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath, locks: NewLockManager()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for callers (tests, migrations)
// that need raw access.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		api_key_hash TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		coin_symbol TEXT NOT NULL,
		address TEXT NOT NULL,
		address_index INTEGER NOT NULL DEFAULT -1,
		created_at INTEGER NOT NULL,
		UNIQUE(coin_symbol, address)
	);
	CREATE INDEX IF NOT EXISTS idx_addresses_user_coin ON addresses(user_id, coin_symbol);
	CREATE INDEX IF NOT EXISTS idx_addresses_coin_index ON addresses(coin_symbol, address_index);

	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT NOT NULL REFERENCES users(id),
		coin_symbol TEXT NOT NULL,
		total INTEGER NOT NULL CHECK(total >= 0),
		available INTEGER NOT NULL CHECK(available >= 0),
		locked INTEGER NOT NULL CHECK(locked >= 0),
		PRIMARY KEY(user_id, coin_symbol)
	);

	CREATE TABLE IF NOT EXISTS markets (
		id TEXT PRIMARY KEY,
		base_coin TEXT NOT NULL,
		quote_coin TEXT NOT NULL,
		fee_rate INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		UNIQUE(base_coin, quote_coin)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		market_id TEXT NOT NULL REFERENCES markets(id),
		side TEXT NOT NULL,
		price INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_orders_market_side_status ON orders(market_id, side, status);
	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL REFERENCES markets(id),
		buy_order_id TEXT NOT NULL REFERENCES orders(id),
		sell_order_id TEXT NOT NULL REFERENCES orders(id),
		price INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);

	CREATE TABLE IF NOT EXISTS fees (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL REFERENCES trades(id),
		coin_symbol TEXT NOT NULL,
		amount INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fees_trade ON fees(trade_id);

	CREATE TABLE IF NOT EXISTS fee_pool (
		coin_symbol TEXT PRIMARY KEY,
		amount INTEGER NOT NULL CHECK(amount >= 0)
	);

	CREATE TABLE IF NOT EXISTS chain_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		coin_symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		txid TEXT NOT NULL UNIQUE,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chain_tx_user_coin ON chain_transactions(user_id, coin_symbol);

	CREATE TABLE IF NOT EXISTS sync_state (
		coin_symbol TEXT PRIMARY KEY,
		cursor TEXT
	);

	CREATE TABLE IF NOT EXISTS coin_nodes (
		coin_symbol TEXT PRIMARY KEY,
		node_type TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		username TEXT,
		password TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
