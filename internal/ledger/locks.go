package ledger

import (
	"sort"
	"sync"
)

// LockManager provides per-balance-row and per-market cooperative
// exclusive locks. The storage engine is SQLite with a single writer
// connection, so there is no risk of a lost-update race at the database
// layer, but concurrent goroutines can still interleave read-modify-write
// sequences against the same balance row or the same market's open-order
// set unless they serialize in Go first. LockManager is that
// serialization point.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sync.Mutex)}
}

func (lm *LockManager) mutexFor(key string) *sync.Mutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	m, ok := lm.locks[key]
	if !ok {
		m = &sync.Mutex{}
		lm.locks[key] = m
	}
	return m
}

func balanceLockKey(userID, coinSymbol string) string {
	return "balance:" + userID + ":" + coinSymbol
}

func marketLockKey(marketID string) string {
	return "market:" + marketID
}

// BalanceLockSet holds the locks acquired for one or more balance rows, in
// canonical acquisition order, so the caller can release them together.
type BalanceLockSet struct {
	mutexes []*sync.Mutex
}

// BalanceKey identifies one balance row by its (user, coin) pair.
type BalanceKey struct {
	UserID     string
	CoinSymbol string
}

// LockBalances acquires exclusive locks on every (user, coin) pair in
// keys, always in ascending lexicographic order of "user:coin" regardless
// of the order keys were passed in. This is the deadlock-avoidance rule
// the matching engine relies on when it needs both counterparties' rows:
// every caller that needs more than one balance row acquires them the
// same way, so no two callers can hold one row each and wait on the
// other's.
func (lm *LockManager) LockBalances(keys ...BalanceKey) *BalanceLockSet {
	type entry struct {
		key string
		bk  BalanceKey
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		entries[i] = entry{key: balanceLockKey(k.UserID, k.CoinSymbol), bk: k}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	set := &BalanceLockSet{}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.key] {
			continue // same row requested twice (e.g. self-trade buyer == seller)
		}
		seen[e.key] = true
		m := lm.mutexFor(e.key)
		m.Lock()
		set.mutexes = append(set.mutexes, m)
	}
	return set
}

// Unlock releases every mutex in the set, in reverse acquisition order.
func (s *BalanceLockSet) Unlock() {
	for i := len(s.mutexes) - 1; i >= 0; i-- {
		s.mutexes[i].Unlock()
	}
}

// LockMarket acquires the exclusive matching lease for marketID and holds
// it until the returned function is called. matching.Engine.Match calls it
// when Match returns, which is before the surrounding transaction commits
// or rolls back; the lease does not cover the commit itself.
func (lm *LockManager) LockMarket(marketID string) (unlock func()) {
	m := lm.mutexFor(marketLockKey(marketID))
	m.Lock()
	return m.Unlock
}
