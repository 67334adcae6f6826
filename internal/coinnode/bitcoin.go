package coinnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/exchanged/pkg/helpers"
)

// BitcoinNode talks to any Bitcoin Core-compatible RPC server (BTC, LTC,
// DOGE all speak the same wallet RPC surface).
type BitcoinNode struct {
	url        string
	user, pass string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewBitcoinNode constructs a client for a Bitcoin-family node reachable at
// http://host:port, authenticating with RPC basic auth.
func NewBitcoinNode(host string, port int, user, pass string) *BitcoinNode {
	return &BitcoinNode{
		url:  fmt.Sprintf("http://%s:%d", host, port),
		user: user,
		pass: pass,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (n *BitcoinNode) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := n.requestID.Add(1)
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(n.user, n.pass)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coin node request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse coin node response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("coin node RPC error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// NewAddress calls getnewaddress. Bitcoin-family addresses have no index
// concept, so addressIndex is always -1.
func (n *BitcoinNode) NewAddress(ctx context.Context) (string, int, error) {
	result, err := n.call(ctx, "getnewaddress", []interface{}{})
	if err != nil {
		return "", -1, err
	}
	var addr string
	if err := json.Unmarshal(result, &addr); err != nil {
		return "", -1, fmt.Errorf("parse getnewaddress result: %w", err)
	}
	return addr, -1, nil
}

// BlockHeight calls getblockcount.
func (n *BitcoinNode) BlockHeight(ctx context.Context) (int64, error) {
	result, err := n.call(ctx, "getblockcount", []interface{}{})
	if err != nil {
		return 0, err
	}
	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("parse getblockcount result: %w", err)
	}
	return height, nil
}

// Send calls sendtoaddress with the fee subtracted from the recipient's
// amount disabled, matching a custodial exchange's withdrawal semantics
// (the withdrawing user receives exactly the requested amount; the
// exchange itself absorbs the network fee via its wallet's own balance).
// amountAtomic is in satoshi-like units and goes on the wire as a decimal
// coin-unit string with 8 fractional digits.
func (n *BitcoinNode) Send(ctx context.Context, address string, amountAtomic string) (string, error) {
	sats, err := strconv.ParseUint(amountAtomic, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid bitcoin amount %q: %w", amountAtomic, err)
	}
	amount := helpers.FormatAmount(sats, 8)
	result, err := n.call(ctx, "sendtoaddress", []interface{}{address, amount, "", "", false})
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", fmt.Errorf("parse sendtoaddress result: %w", err)
	}
	return txid, nil
}

// listTransactionsEntry mirrors one element of listtransactions' result.
type listTransactionsEntry struct {
	Address       string  `json:"address"`
	Category      string  `json:"category"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	TxID          string  `json:"txid"`
	BlockHash     string  `json:"blockhash"`
	Time          int64   `json:"time"`
}

// Transfers calls listtransactions for the 1000 most recent wallet entries
// and returns every receive entry among them. sinceCursor is ignored:
// Bitcoin Core's listtransactions does not filter by block hash, so the
// deposit sync loop's own "already recorded" idempotency check (on txid)
// does the deduplication. Receives older than that window are not
// returned.
func (n *BitcoinNode) Transfers(ctx context.Context, sinceCursor string) ([]Transfer, error) {
	result, err := n.call(ctx, "listtransactions", []interface{}{"*", 1000, 0, true})
	if err != nil {
		return nil, err
	}
	var entries []listTransactionsEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("parse listtransactions result: %w", err)
	}

	transfers := make([]Transfer, 0, len(entries))
	for _, e := range entries {
		if e.Category != "receive" {
			continue
		}
		transfers = append(transfers, Transfer{
			TxID:          e.TxID,
			Address:       e.Address,
			AddressIndex:  -1,
			AmountAtomic:  amountToAtomicString(e.Amount, 8),
			Confirmations: e.Confirmations,
			Timestamp:     time.Unix(e.Time, 0).UTC(),
			Cursor:        e.BlockHash,
		})
	}
	return transfers, nil
}

// amountToAtomicString converts a decimal-unit RPC float (e.g. BTC) into
// an integer smallest-unit string at the given decimals, matching the
// precision the ledger's money package expects on deposit credit.
func amountToAtomicString(amount float64, decimals int) string {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return fmt.Sprintf("%d", int64(amount*scale+0.5))
}

var _ Node = (*BitcoinNode)(nil)
