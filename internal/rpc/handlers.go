package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/exchange"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
)

// authenticate resolves the calling user from the request's api_key
// field. Every method that touches a user-scoped resource decodes its
// params into a struct embedding APIKey and calls this first.
func (s *Server) authenticate(apiKey string) (*ledger.User, error) {
	return s.identity.Authenticate(apiKey)
}

// ========================================
// create-account
// ========================================

type createAccountResult struct {
	APIKey string `json:"api_key"`
}

func (s *Server) createAccount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	rawKey, _, err := s.identity.CreateAccount()
	if err != nil {
		return nil, err
	}
	return &createAccountResult{APIKey: rawKey}, nil
}

// ========================================
// generate-address
// ========================================

type generateAddressParams struct {
	APIKey string `json:"api_key"`
	Coin   string `json:"coin"`
}

type generateAddressResult struct {
	Coin    string `json:"coin"`
	Address string `json:"address"`
}

func (s *Server) generateAddress(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p generateAddressParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	user, err := s.authenticate(p.APIKey)
	if err != nil {
		return nil, err
	}

	addr, err := s.identity.GenerateAddress(ctx, s.nodes, user.ID, p.Coin)
	if err != nil {
		return nil, err
	}
	return &generateAddressResult{Coin: addr.CoinSymbol, Address: addr.Address}, nil
}

// ========================================
// list-addresses
// ========================================

type listAddressesParams struct {
	APIKey string `json:"api_key"`
	Coin   string `json:"coin,omitempty"`
}

type addressInfo struct {
	Address   string `json:"address"`
	Coin      string `json:"coin"`
	CreatedAt int64  `json:"created_at"`
}

const maxListedAddresses = 100

func (s *Server) listAddresses(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p listAddressesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	user, err := s.authenticate(p.APIKey)
	if err != nil {
		return nil, err
	}
	if p.Coin != "" {
		if _, err := config.Lookup(p.Coin); err != nil {
			return nil, fmt.Errorf("invalid coin: %w", err)
		}
	}

	addrs, err := s.storage.AddressesByUser(user.ID, p.Coin)
	if err != nil {
		return nil, err
	}
	if len(addrs) > maxListedAddresses {
		addrs = addrs[:maxListedAddresses]
	}

	out := make([]addressInfo, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, addressInfo{Address: a.Address, Coin: a.CoinSymbol, CreatedAt: a.CreatedAt.Unix()})
	}
	return out, nil
}

// ========================================
// get-balances
// ========================================

type getBalancesParams struct {
	APIKey string `json:"api_key"`
	Coin   string `json:"coin,omitempty"`
}

type balanceInfo struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
}

func (s *Server) getBalances(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p getBalancesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	user, err := s.authenticate(p.APIKey)
	if err != nil {
		return nil, err
	}

	if p.Coin != "" {
		if _, err := config.Lookup(p.Coin); err != nil {
			return nil, fmt.Errorf("invalid coin: %w", err)
		}
		bal, err := s.storage.Balance(user.ID, p.Coin)
		if err != nil {
			return nil, err
		}
		return map[string]balanceInfo{
			p.Coin: {Available: bal.Available.String(), Locked: bal.Locked.String(), Total: bal.Total.String()},
		}, nil
	}

	bals, err := s.storage.BalancesByUser(user.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]balanceInfo, len(bals))
	for _, bal := range bals {
		out[bal.CoinSymbol] = balanceInfo{Available: bal.Available.String(), Locked: bal.Locked.String(), Total: bal.Total.String()}
	}
	return out, nil
}

// ========================================
// place-order
// ========================================

type placeOrderParams struct {
	APIKey   string `json:"api_key"`
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Amount   string `json:"amount"`
}

type fillInfo struct {
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type placeOrderResult struct {
	OrderID   string     `json:"order_id"`
	Status    string     `json:"status"`
	Filled    string     `json:"filled"`
	Remaining string     `json:"remaining"`
	Trades    []fillInfo `json:"trades"`
}

func (s *Server) placeOrder(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p placeOrderParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	user, err := s.authenticate(p.APIKey)
	if err != nil {
		return nil, err
	}

	price, err := money.Parse(p.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}
	amount, err := money.Parse(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	res, err := s.exchange.PlaceOrder(ctx, user.ID, p.MarketID, ledger.Side(p.Side), price, amount)
	if err != nil {
		return nil, err
	}

	trades := make([]fillInfo, 0, len(res.Trades))
	for _, f := range res.Trades {
		trades = append(trades, fillInfo{Price: f.Price.String(), Amount: f.Amount.String(), Timestamp: f.Timestamp})
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventOrderPlaced, map[string]string{"order_id": res.OrderID, "market_id": p.MarketID, "status": string(res.Status)})
	}

	return &placeOrderResult{
		OrderID:   res.OrderID,
		Status:    string(res.Status),
		Filled:    res.Filled.String(),
		Remaining: res.Remaining.String(),
		Trades:    trades,
	}, nil
}

// ========================================
// cancel-order
// ========================================

type cancelOrderParams struct {
	APIKey  string `json:"api_key"`
	OrderID string `json:"order_id"`
}

type cancelOrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (s *Server) cancelOrder(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p cancelOrderParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	user, err := s.authenticate(p.APIKey)
	if err != nil {
		return nil, err
	}

	if err := s.exchange.CancelOrder(ctx, user.ID, p.OrderID); err != nil {
		return nil, err
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventOrderCancelled, map[string]string{"order_id": p.OrderID})
	}

	return &cancelOrderResult{OrderID: p.OrderID, Status: string(ledger.OrderCancelled)}, nil
}

// ========================================
// withdraw
// ========================================

type withdrawParams struct {
	APIKey    string `json:"api_key"`
	Coin      string `json:"coin"`
	ToAddress string `json:"to_address"`
	Amount    string `json:"amount"`
}

type withdrawResult struct {
	TxID   string `json:"txid"`
	Amount string `json:"amount"`
	Coin   string `json:"coin"`
	Status string `json:"status"`
}

func (s *Server) withdraw(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p withdrawParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	user, err := s.authenticate(p.APIKey)
	if err != nil {
		return nil, err
	}

	amount, err := money.Parse(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	res, err := s.withdrawals.Withdraw(ctx, user.ID, p.Coin, p.ToAddress, amount)
	if err != nil {
		return nil, err
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventWithdrawalSent, map[string]string{"txid": res.TxID, "coin": res.Coin})
	}

	return &withdrawResult{TxID: res.TxID, Amount: res.Amount.String(), Coin: res.Coin, Status: "success"}, nil
}

// ========================================
// orderbook (public, no authentication)
// ========================================

type orderbookParams struct {
	MarketID string `json:"market_id"`
	Depth    int    `json:"depth"`
}

type priceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type orderbookResult struct {
	Market string       `json:"market"`
	Bids   []priceLevel `json:"bids"`
	Asks   []priceLevel `json:"asks"`
}

const maxOrderbookDepth = 200

func (s *Server) orderbook(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p orderbookParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Depth <= 0 || p.Depth > maxOrderbookDepth {
		return nil, &exchange.Error{Category: exchange.CategoryValidation, Code: "depth_out_of_range",
			Err: fmt.Errorf("depth must be in (0, %d]", maxOrderbookDepth)}
	}

	market, err := s.storage.MarketByID(p.MarketID)
	if err != nil {
		return nil, &exchange.Error{Category: exchange.CategoryPrecondition, Code: "market_not_found", Err: err}
	}

	bids, err := s.storage.OpenOrdersByMarket(market.ID, ledger.SideBuy)
	if err != nil {
		return nil, err
	}
	asks, err := s.storage.OpenOrdersByMarket(market.ID, ledger.SideSell)
	if err != nil {
		return nil, err
	}

	return &orderbookResult{
		Market: market.ID,
		Bids:   aggregateLevels(bids, p.Depth),
		Asks:   aggregateLevels(asks, p.Depth),
	}, nil
}

// aggregateLevels collapses same-price open orders into one depth level
// each, preserving the best-price-first order callers already queried in.
func aggregateLevels(orders []*ledger.Order, depth int) []priceLevel {
	levels := make([]priceLevel, 0, depth)
	var lastPrice money.Amount
	for _, o := range orders {
		if len(levels) > 0 && o.Price == lastPrice {
			amt, _ := money.Parse(levels[len(levels)-1].Amount)
			levels[len(levels)-1].Amount = amt.Add(o.Remaining).String()
			continue
		}
		if len(levels) == depth {
			break
		}
		levels = append(levels, priceLevel{Price: o.Price.String(), Amount: o.Remaining.String()})
		lastPrice = o.Price
	}
	return levels
}

// ========================================
// operator-only admin surface
// ========================================

type adminCreateMarketParams struct {
	Base    string  `json:"base_coin"`
	Quote   string  `json:"quote_coin"`
	FeeRate *string `json:"fee_rate,omitempty"`
}

func (s *Server) adminCreateMarket(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p adminCreateMarketParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var rate *money.Amount
	if p.FeeRate != nil {
		parsed, err := money.Parse(*p.FeeRate)
		if err != nil {
			return nil, fmt.Errorf("invalid fee_rate: %w", err)
		}
		rate = &parsed
	}
	return s.admin.CreateMarket(p.Base, p.Quote, rate)
}

type adminUpsertCoinNodeParams struct {
	Coin     string `json:"coin"`
	NodeType string `json:"node_type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Pass     string `json:"pass"`
	Enabled  bool   `json:"enabled"`
}

func (s *Server) adminUpsertCoinNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p adminUpsertCoinNodeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	rec := &ledger.CoinNodeRecord{
		CoinSymbol: p.Coin,
		NodeType:   p.NodeType,
		Host:       p.Host,
		Port:       p.Port,
		Username:   p.User,
		Password:   p.Pass,
		Enabled:    p.Enabled,
	}
	if err := s.admin.UpsertCoinNode(rec); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type adminWithdrawFeesParams struct {
	Coin   string `json:"coin"`
	Amount string `json:"amount"`
}

type adminWithdrawFeesResult struct {
	Coin      string `json:"coin"`
	Remaining string `json:"remaining"`
}

func (s *Server) adminWithdrawFees(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p adminWithdrawFeesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	amount, err := money.Parse(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	remaining, err := s.admin.WithdrawFees(ctx, p.Coin, amount)
	if err != nil {
		return nil, err
	}
	return &adminWithdrawFeesResult{Coin: p.Coin, Remaining: remaining.String()}, nil
}
