package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"marketd/crypto"
	"marketd/ledger"
	"marketd/market"
)

type marketAssetParams struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
}

type marketListParams struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	Price      string `json:"price"`
	Caller     string `json:"caller"`
}

type marketBuyParams struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	Paid       string `json:"paid"`
	Caller     string `json:"caller"`
}

type marketActorParams struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	Caller     string `json:"caller"`
}

type marketChangePriceParams struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	NewPrice   string `json:"newPrice"`
	Caller     string `json:"caller"`
}

type marketSetFeeParams struct {
	Rate   uint32 `json:"rate"`
	Caller string `json:"caller"`
}

type marketBalanceParams struct {
	Address string `json:"address"`
}

type listingJSON struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
	Active     bool   `json:"active"`
	CreatedAt  int64  `json:"createdAt"`
}

type escrowJSON struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
	Buyer      string `json:"buyer"`
	AmountHeld string `json:"amountHeld"`
	Released   bool   `json:"released"`
	CreatedAt  int64  `json:"createdAt"`
}

type feeResult struct {
	Rate uint32 `json:"rate"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleMarketList(w http.ResponseWriter, req *RPCRequest) {
	var params marketListParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.engine.List(collection, assetID, price, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatListingJSON(listing))
}

func (s *Server) handleMarketBuy(w http.ResponseWriter, req *RPCRequest) {
	var params marketBuyParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	paid, err := parsePositiveBigInt(params.Paid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	escrow, err := s.engine.Buy(collection, assetID, caller, paid)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(escrow))
}

func (s *Server) handleMarketConfirmReceipt(w http.ResponseWriter, req *RPCRequest) {
	var params marketActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.ConfirmReceipt(collection, assetID, caller); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"released": true})
}

func (s *Server) handleMarketChangePrice(w http.ResponseWriter, req *RPCRequest) {
	var params marketChangePriceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	newPrice, err := parsePositiveBigInt(params.NewPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.ChangePrice(collection, assetID, newPrice, caller); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": newPrice.String()})
}

func (s *Server) handleMarketUnlist(w http.ResponseWriter, req *RPCRequest) {
	var params marketActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Unlist(collection, assetID, caller); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"unlisted": true})
}

func (s *Server) handleMarketSetFeePercentage(w http.ResponseWriter, req *RPCRequest) {
	var params marketSetFeeParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SetFeePercentage(params.Rate, caller); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, feeResult{Rate: s.engine.FeePolicy().Rate()})
}

func (s *Server) handleMarketGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params marketAssetParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, ok, err := s.engine.GetListing(collection, assetID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "listing not found")
		return
	}
	writeResult(w, req.ID, formatListingJSON(listing))
}

func (s *Server) handleMarketGetEscrow(w http.ResponseWriter, req *RPCRequest) {
	var params marketAssetParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	collection, assetID, err := parseAssetRef(params.Collection, params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	escrow, ok, err := s.engine.GetEscrow(collection, assetID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "escrow not found")
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(escrow))
}

func (s *Server) handleMarketGetFee(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, feeResult{Rate: s.engine.FeePolicy().Rate()})
}

func (s *Server) handleMarketGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params marketBalanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Address: params.Address, Balance: balance.String()})
}

// decodeSingleParam enforces the single-object parameter convention shared by
// every market method.
func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseCollection(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("collection required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 40 {
		return out, fmt.Errorf("collection must be 20 bytes")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAssetID(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("assetId required")
	}
	id, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid assetId")
	}
	if id.Sign() < 0 {
		return nil, fmt.Errorf("assetId must not be negative")
	}
	return id, nil
}

func parseAssetRef(collection, assetID string) ([20]byte, *big.Int, error) {
	col, err := parseCollection(collection)
	if err != nil {
		return [20]byte{}, nil, err
	}
	id, err := parseAssetID(assetID)
	if err != nil {
		return [20]byte{}, nil, err
	}
	return col, id, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func formatCollection(collection [20]byte) string {
	return "0x" + hex.EncodeToString(collection[:])
}

func formatListingJSON(l *market.Listing) listingJSON {
	price := "0"
	if l.Price != nil {
		price = l.Price.String()
	}
	return listingJSON{
		Collection: formatCollection(l.Collection),
		AssetID:    l.AssetID.String(),
		Seller:     crypto.MustNewAddress(crypto.MarketPrefix, l.Seller[:]).String(),
		Price:      price,
		Active:     l.Active,
		CreatedAt:  l.CreatedAt,
	}
}

func formatEscrowJSON(e *market.Escrow) escrowJSON {
	amount := "0"
	if e.AmountHeld != nil {
		amount = e.AmountHeld.String()
	}
	return escrowJSON{
		Collection: formatCollection(e.Collection),
		AssetID:    e.AssetID.String(),
		Buyer:      crypto.MustNewAddress(crypto.MarketPrefix, e.Buyer[:]).String(),
		AmountHeld: amount,
		Released:   e.Released,
		CreatedAt:  e.CreatedAt,
	}
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeMarketInternal
	message := "internal_error"
	switch {
	case errors.Is(err, market.ErrInvalidPrice) || errors.Is(err, market.ErrInvalidRate) || errors.Is(err, market.ErrInvalidAsset):
		status = http.StatusBadRequest
		code = codeMarketInvalidParams
		message = "invalid_params"
	case errors.Is(err, market.ErrListingNotFound) || errors.Is(err, market.ErrEscrowNotFound):
		status = http.StatusNotFound
		code = codeMarketNotFound
		message = "not_found"
	case errors.Is(err, market.ErrNotSeller) || errors.Is(err, market.ErrNotBuyer) || errors.Is(err, market.ErrNotAuthorized):
		status = http.StatusForbidden
		code = codeMarketForbidden
		message = "forbidden"
	case errors.Is(err, market.ErrNotListed) || errors.Is(err, market.ErrAlreadyReleased) ||
		errors.Is(err, market.ErrEscrowPending) ||
		errors.Is(err, market.ErrInsufficientPayment) || errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusConflict
		code = codeMarketConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, err.Error())
}
