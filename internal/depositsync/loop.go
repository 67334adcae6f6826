// Package depositsync runs the periodic background pass that pulls
// incoming deposits off each coin node and credits them to the owning
// user's balance.
package depositsync

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/pkg/helpers"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// Config configures the sync loop's schedule.
type Config struct {
	PollInterval     time.Duration
	MinConfirmations int64
}

// DefaultConfig mirrors the default confirmation depth and a modest poll
// interval; deposit sync is not latency-sensitive the way matching is.
func DefaultConfig() Config {
	return Config{
		PollInterval:     30 * time.Second,
		MinConfirmations: config.MinConfirmations,
	}
}

// Loop periodically syncs every supported coin's deposits into the ledger.
type Loop struct {
	storage *ledger.Storage
	nodes   *coinnode.Registry
	cfg     Config
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Loop backed by storage and nodes.
func New(storage *ledger.Storage, nodes *coinnode.Registry, cfg Config, log *logging.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		storage: storage,
		nodes:   nodes,
		cfg:     cfg,
		log:     log.Component("depositsync"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start runs the sync loop's background goroutine.
func (l *Loop) Start() {
	go l.run()
	l.log.Info("deposit sync loop started", "poll_interval", l.cfg.PollInterval)
}

// Stop stops the loop.
func (l *Loop) Stop() {
	l.cancel()
	l.log.Info("deposit sync loop stopped")
}

func (l *Loop) run() {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.syncAll()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.syncAll()
		}
	}
}

// syncAll runs one pass over every coin that has an enabled record in the
// coin_nodes table. A coin whose node is configured only through the
// environment-derived config is not synced, even if it has deposit
// addresses on file.
func (l *Loop) syncAll() {
	coins, err := l.coinsWithAddresses()
	if err != nil {
		l.log.Warn("failed to list coins to sync", "error", err)
		return
	}
	for _, coin := range coins {
		if err := l.syncCoin(coin); err != nil {
			l.log.Warn("sync failed", "coin", coin, "error", err)
		}
	}
}

func (l *Loop) coinsWithAddresses() ([]string, error) {
	records, err := l.storage.ListCoinNodes()
	if err != nil {
		return nil, err
	}
	var coins []string
	for _, r := range records {
		if r.Enabled {
			coins = append(coins, r.CoinSymbol)
		}
	}
	return coins, nil
}

// syncCoin pulls every transfer the node has seen since the last cursor,
// credits each one to its owning address's user, and advances the cursor.
// Already-seen transfers are caught by the unique constraint on txid and
// skipped rather than treated as an error, matching the idempotent-replay
// requirement a periodic poll needs.
func (l *Loop) syncCoin(coinSymbol string) error {
	coin, err := config.Lookup(coinSymbol)
	if err != nil {
		return err
	}
	node, err := l.nodes.Get(coinSymbol)
	if err != nil {
		return err
	}

	cursor, err := l.storage.SyncCursor(coinSymbol)
	if err != nil {
		return err
	}

	transfers, err := node.Transfers(l.ctx, cursor)
	if err != nil {
		return err
	}

	var newCursor string
	for _, t := range transfers {
		if t.Confirmations < l.cfg.MinConfirmations {
			continue
		}

		addr, err := l.resolveAddress(coinSymbol, t)
		if err != nil {
			l.log.Warn("deposit to unknown address, skipping", "coin", coinSymbol, "txid", t.TxID, "error", err)
			continue
		}

		amount, err := atomicToAmount(t.AmountAtomic, coin.Decimals)
		if err != nil {
			l.log.Warn("malformed transfer amount, skipping", "coin", coinSymbol, "txid", t.TxID, "error", err)
			continue
		}

		credited, err := l.credit(addr.UserID, coinSymbol, t.TxID, amount)
		if err != nil {
			return err
		}
		if credited {
			l.log.Info("deposit credited", "coin", coinSymbol, "user_id", addr.UserID, "amount", amount.String(), "txid", t.TxID)
		}
		if t.Cursor != "" {
			newCursor = t.Cursor
		}
	}

	if newCursor != "" && newCursor != cursor {
		return l.storage.WithTx(l.ctx, func(tx *sql.Tx) error {
			return ledger.SetSyncCursorTx(tx, coinSymbol, newCursor)
		})
	}
	return nil
}

func (l *Loop) resolveAddress(coinSymbol string, t coinnode.Transfer) (*ledger.Address, error) {
	if t.AddressIndex >= 0 {
		return l.storage.AddressByCoinAndIndex(coinSymbol, t.AddressIndex)
	}
	return l.storage.AddressByCoinAndValue(coinSymbol, t.Address)
}

// credit records the transfer and applies it to the owning user's balance
// inside one transaction, returning false (no error) when the txid has
// already been recorded by a previous pass.
func (l *Loop) credit(userID, coinSymbol, txid string, amount money.Amount) (bool, error) {
	credited := true
	err := l.storage.WithTx(l.ctx, func(tx *sql.Tx) error {
		if _, err := ledger.InsertChainTransactionTx(tx, userID, coinSymbol, ledger.DirectionReceived, txid, amount); err != nil {
			if errors.Is(err, ledger.ErrDuplicateTxID) {
				credited = false
				return nil
			}
			return err
		}

		bal, err := ledger.GetOrCreateBalanceTx(tx, userID, coinSymbol)
		if err != nil {
			return err
		}
		bal.Total = bal.Total.Add(amount)
		bal.Available = bal.Available.Add(amount)
		return ledger.SaveBalanceTx(tx, bal)
	})
	return credited, err
}

func atomicToAmount(atomic string, chainDecimals uint8) (money.Amount, error) {
	raw, err := strconv.ParseUint(atomic, 10, 64)
	if err != nil {
		return 0, err
	}
	// money holds 8 fractional digits; finer chain units are truncated.
	for chainDecimals > money.Decimals {
		raw /= 10
		chainDecimals--
	}
	return money.Parse(helpers.FormatAmount(raw, chainDecimals))
}
