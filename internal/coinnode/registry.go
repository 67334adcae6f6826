package coinnode

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
)

// Registry caches one Node instance per coin symbol, built lazily. Get
// checks the cache, then the admin-managed coin_nodes table, then falls
// back to the <COIN>_NODE_* environment variables config.Load already
// folded into cfg.CoinNodes — the same precedence coinNodes.py's
// get_node applies.
type Registry struct {
	mu      sync.Mutex
	nodes   map[string]Node
	cfg     *config.Config
	storage *ledger.Storage
}

// NewRegistry builds an empty registry backed by storage's coin_nodes
// table, falling back to cfg's environment-derived coin-node entries.
func NewRegistry(cfg *config.Config, storage *ledger.Storage) *Registry {
	return &Registry{
		nodes:   make(map[string]Node),
		cfg:     cfg,
		storage: storage,
	}
}

// Get returns the cached Node for symbol, constructing and caching one on
// first use.
func (r *Registry) Get(symbol string) (Node, error) {
	symbol = strings.ToUpper(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[symbol]; ok {
		return n, nil
	}

	n, err := r.build(symbol)
	if err != nil {
		return nil, err
	}
	r.nodes[symbol] = n
	return n, nil
}

// Invalidate drops the cached Node for symbol, forcing the next Get to
// rebuild it from current configuration. Used after an admin updates a
// coin node's connection details.
func (r *Registry) Invalidate(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, strings.ToUpper(symbol))
}

func (r *Registry) build(symbol string) (Node, error) {
	if r.storage != nil {
		if rec, err := r.storage.CoinNodeBySymbol(symbol); err == nil && rec.Enabled {
			return newNode(symbol, rec.NodeType, rec.Host, rec.Port, rec.Username, rec.Password, r.cfg.RPCTimeout)
		}
	}

	for _, n := range r.cfg.CoinNodes {
		if strings.ToUpper(n.Coin) != symbol {
			continue
		}
		return newNode(symbol, n.NodeType, n.Host, n.Port, n.User, n.Pass, r.cfg.RPCTimeout)
	}
	return nil, fmt.Errorf("coinnode: no node configured for %s", symbol)
}

func newNode(symbol, nodeType, host string, port int, user, pass string, timeout time.Duration) (Node, error) {
	switch strings.ToLower(nodeType) {
	case "monero":
		n := NewMoneroNode(host, port, user, pass)
		if timeout > 0 {
			n.httpClient.Timeout = timeout
		}
		return n, nil
	case "evm":
		key := os.Getenv(symbol + "_HOT_WALLET_KEY")
		if key == "" {
			return nil, fmt.Errorf("coinnode: %s_HOT_WALLET_KEY not set for EVM node", symbol)
		}
		return NewEVMNode(fmt.Sprintf("http://%s:%d", host, port), key, 1)
	default:
		n := NewBitcoinNode(host, port, user, pass)
		if timeout > 0 {
			n.httpClient.Timeout = timeout
		}
		return n, nil
	}
}
