package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/admin"
	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/exchange"
	"github.com/klingon-exchange/exchanged/internal/identity"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/internal/withdrawal"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	storage, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	nodes := coinnode.NewRegistry(config.Default(), storage)
	log := logging.New(&logging.Config{Level: "error"})

	s := NewServer(
		exchange.New(storage, log),
		withdrawal.New(storage, nodes, log),
		identity.New(storage, log),
		admin.New(storage, nodes, log),
		nodes, storage, log,
	)
	s.wsHub = NewWSHub()
	return s
}

func rpcCall(t *testing.T, s *Server, method string, params interface{}) Response {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	reqBody, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: paramsJSON, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func TestTranslateErrorMapsExchangeCategories(t *testing.T) {
	err := &exchange.Error{Category: exchange.CategoryInsufficient, Code: "insufficient_balance"}
	code, msg := translateError(err)
	if code != codeInsufficient || msg != "insufficient_balance" {
		t.Fatalf("got code=%d msg=%s", code, msg)
	}
}

func TestTranslateErrorMapsWithdrawalCategories(t *testing.T) {
	err := &withdrawal.Error{Category: withdrawal.CategoryExternal, Code: "send_failed"}
	code, msg := translateError(err)
	if code != codeExternal || msg != "send_failed" {
		t.Fatalf("got code=%d msg=%s", code, msg)
	}
}

func TestTranslateErrorFallsBackToInternalError(t *testing.T) {
	code, msg := translateError(httpErrForTest{})
	if code != InternalError || msg != "internal error" {
		t.Fatalf("got code=%d msg=%s", code, msg)
	}
}

type httpErrForTest struct{}

func (httpErrForTest) Error() string { return "boom" }

func TestHandleRPCUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "not-a-method", map[string]string{})
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

func TestCreateAccountThenPlaceOrderOverRPC(t *testing.T) {
	s := newTestServer(t)

	resp := rpcCall(t, s, "create-account", map[string]string{})
	if resp.Error != nil {
		t.Fatalf("create-account failed: %+v", resp.Error)
	}
	var created createAccountResult
	remarshal(t, resp.Result, &created)
	if created.APIKey == "" {
		t.Fatal("expected a non-empty api key")
	}

	market, err := s.storage.CreateMarket("BTC", "USDT", money.MustParse("0.001"))
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	resp = rpcCall(t, s, "place-order", map[string]string{
		"api_key": created.APIKey, "market_id": market.ID, "side": "buy", "price": "10", "amount": "1",
	})
	if resp.Error == nil || resp.Error.Code != codeInsufficient {
		t.Fatalf("expected insufficient_funds placing order with no balance, got %+v", resp.Error)
	}
}

func TestOrderbookValidatesDepth(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "orderbook", map[string]interface{}{"market_id": "anything", "depth": 0})
	if resp.Error == nil || resp.Error.Code != codeValidation {
		t.Fatalf("expected validation error for zero depth, got %+v", resp.Error)
	}
}

func TestOrderbookRejectsUnknownMarket(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "orderbook", map[string]interface{}{"market_id": "nope", "depth": 10})
	if resp.Error == nil || resp.Error.Code != codePrecondition {
		t.Fatalf("expected precondition error for unknown market, got %+v", resp.Error)
	}
}

func remarshal(t *testing.T, from interface{}, to interface{}) {
	t.Helper()
	b, err := json.Marshal(from)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if err := json.Unmarshal(b, to); err != nil {
		t.Fatalf("remarshal decode: %v", err)
	}
}
