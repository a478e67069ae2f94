package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketd/core/events"
	"marketd/core/state"
	"marketd/crypto"
	"marketd/ledger"
	"marketd/market"
	"marketd/storage"
)

const testToken = "test-rpc-token"

type rpcFixture struct {
	server     *Server
	ledger     *ledger.Ledger
	owner      [20]byte
	seller     [20]byte
	buyer      [20]byte
	collection [20]byte
}

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func bech(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.MarketPrefix, addr[:]).String()
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	led := ledger.New(manager)
	engine := market.NewEngine(manager, led, led, market.NewFeePolicy(market.DefaultFeePercent))

	fx := &rpcFixture{
		ledger:     led,
		owner:      testAddr(0x0A),
		seller:     testAddr(0x01),
		buyer:      testAddr(0x02),
		collection: testAddr(0xC0),
	}
	engine.SetOwner(fx.owner)
	engine.SetVault(led.Vault())

	stream := events.NewBroadcaster(0)
	engine.SetEmitter(stream)

	if err := led.RegisterAsset(fx.collection, big.NewInt(7), fx.seller); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	if err := led.Credit(fx.buyer, big.NewInt(5000)); err != nil {
		t.Fatalf("credit buyer: %v", err)
	}

	fx.server = NewServer(engine, led, stream, slog.Default())
	fx.server.authToken = testToken
	return fx
}

func (fx *rpcFixture) call(t *testing.T, method string, params interface{}, authed bool) *RPCResponse {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(encoded))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rec, req)

	resp := &RPCResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func resultAs(t *testing.T, resp *RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func (fx *rpcFixture) assetParams(extra map[string]string) map[string]string {
	params := map[string]string{
		"collection": fmt.Sprintf("0x%x", fx.collection),
		"assetId":    "7",
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func TestMarketLifecycleOverRPC(t *testing.T) {
	fx := newRPCFixture(t)

	var listing listingJSON
	resp := fx.call(t, "market_list", fx.assetParams(map[string]string{
		"price":  "1000",
		"caller": bech(fx.seller),
	}), true)
	resultAs(t, resp, &listing)
	if !listing.Active || listing.Price != "1000" || listing.Seller != bech(fx.seller) {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	resp = fx.call(t, "market_getListing", fx.assetParams(nil), false)
	resultAs(t, resp, &listing)
	if listing.AssetID != "7" {
		t.Fatalf("unexpected listing asset: %+v", listing)
	}

	var escrow escrowJSON
	resp = fx.call(t, "market_buy", fx.assetParams(map[string]string{
		"paid":   "1000",
		"caller": bech(fx.buyer),
	}), true)
	resultAs(t, resp, &escrow)
	if escrow.Buyer != bech(fx.buyer) || escrow.AmountHeld != "1000" || escrow.Released {
		t.Fatalf("unexpected escrow: %+v", escrow)
	}

	resp = fx.call(t, "market_confirmReceipt", fx.assetParams(map[string]string{
		"caller": bech(fx.buyer),
	}), true)
	var released map[string]bool
	resultAs(t, resp, &released)
	if !released["released"] {
		t.Fatalf("expected released result, got %+v", released)
	}

	var balance balanceResult
	resp = fx.call(t, "market_getBalance", map[string]string{"address": bech(fx.seller)}, false)
	resultAs(t, resp, &balance)
	if balance.Balance != "980" {
		t.Fatalf("seller balance %s, want 980", balance.Balance)
	}
	resp = fx.call(t, "market_getBalance", map[string]string{"address": bech(fx.owner)}, false)
	resultAs(t, resp, &balance)
	if balance.Balance != "20" {
		t.Fatalf("owner balance %s, want 20", balance.Balance)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	fx := newRPCFixture(t)

	resp := fx.call(t, "market_list", fx.assetParams(map[string]string{
		"price":  "1000",
		"caller": bech(fx.seller),
	}), false)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	// Reads stay open.
	resp = fx.call(t, "market_getFee", nil, false)
	var fee feeResult
	resultAs(t, resp, &fee)
	if fee.Rate != market.DefaultFeePercent {
		t.Fatalf("fee rate %d, want %d", fee.Rate, market.DefaultFeePercent)
	}
}

func TestErrorCodesAreStable(t *testing.T) {
	fx := newRPCFixture(t)

	resp := fx.call(t, "market_getListing", fx.assetParams(nil), false)
	if resp.Error == nil || resp.Error.Code != codeMarketNotFound {
		t.Fatalf("expected not_found, got %+v", resp.Error)
	}

	resp = fx.call(t, "market_list", fx.assetParams(map[string]string{
		"price":  "0",
		"caller": bech(fx.seller),
	}), true)
	if resp.Error == nil || resp.Error.Code != codeMarketInvalidParams {
		t.Fatalf("expected invalid_params for zero price, got %+v", resp.Error)
	}

	resp = fx.call(t, "market_list", fx.assetParams(map[string]string{
		"price":  "1000",
		"caller": "not-an-address",
	}), true)
	if resp.Error == nil || resp.Error.Code != codeMarketInvalidParams {
		t.Fatalf("expected invalid_params for bad address, got %+v", resp.Error)
	}

	resp = fx.call(t, "market_setFeePercentage", map[string]interface{}{
		"rate":   10,
		"caller": bech(fx.buyer),
	}, true)
	if resp.Error == nil || resp.Error.Code != codeMarketForbidden {
		t.Fatalf("expected forbidden for non-owner, got %+v", resp.Error)
	}

	resp = fx.call(t, "market_bogusMethod", nil, false)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestBuyConflictsSurfaceAsConflict(t *testing.T) {
	fx := newRPCFixture(t)

	resp := fx.call(t, "market_list", fx.assetParams(map[string]string{
		"price":  "1000",
		"caller": bech(fx.seller),
	}), true)
	if resp.Error != nil {
		t.Fatalf("list: %+v", resp.Error)
	}

	resp = fx.call(t, "market_buy", fx.assetParams(map[string]string{
		"paid":   "500",
		"caller": bech(fx.buyer),
	}), true)
	if resp.Error == nil || resp.Error.Code != codeMarketConflict {
		t.Fatalf("expected conflict for underpayment, got %+v", resp.Error)
	}

	resp = fx.call(t, "market_buy", fx.assetParams(map[string]string{
		"paid":   "1000",
		"caller": bech(fx.buyer),
	}), true)
	if resp.Error != nil {
		t.Fatalf("buy: %+v", resp.Error)
	}

	resp = fx.call(t, "market_buy", fx.assetParams(map[string]string{
		"paid":   "1000",
		"caller": bech(fx.buyer),
	}), true)
	if resp.Error == nil || resp.Error.Code != codeMarketConflict {
		t.Fatalf("expected conflict for sold listing, got %+v", resp.Error)
	}

	// The buyer holds the asset but settlement is outstanding, so a relist
	// is refused until the escrow is released.
	resp = fx.call(t, "market_list", fx.assetParams(map[string]string{
		"price":  "2000",
		"caller": bech(fx.buyer),
	}), true)
	if resp.Error == nil || resp.Error.Code != codeMarketConflict {
		t.Fatalf("expected conflict for relist over pending escrow, got %+v", resp.Error)
	}
}
