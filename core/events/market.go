package events

import (
	"encoding/hex"
	"math/big"

	"marketd/core/types"
	"marketd/crypto"
)

const (
	TypeMarketListed        = "market.listed"
	TypeMarketSold          = "market.sold"
	TypeMarketPriceChanged  = "market.price_changed"
	TypeMarketUnlisted      = "market.unlisted"
	TypeMarketFundsReleased = "market.funds_released"
)

// MarketListed is emitted when an asset enters marketplace custody and its
// listing becomes active.
type MarketListed struct {
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
	Price      *big.Int
}

func (MarketListed) EventType() string { return TypeMarketListed }

func (e MarketListed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketListed,
		Attributes: map[string]string{
			"collection": formatCollection(e.Collection),
			"assetId":    formatAmount(e.AssetID),
			"seller":     crypto.MustNewAddress(crypto.MarketPrefix, e.Seller[:]).String(),
			"price":      formatAmount(e.Price),
		},
	}
}

// MarketSold is emitted when a buyer pays for a listed asset and the payment
// enters escrow.
type MarketSold struct {
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
	Buyer      [20]byte
	Price      *big.Int
}

func (MarketSold) EventType() string { return TypeMarketSold }

func (e MarketSold) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketSold,
		Attributes: map[string]string{
			"collection": formatCollection(e.Collection),
			"assetId":    formatAmount(e.AssetID),
			"seller":     crypto.MustNewAddress(crypto.MarketPrefix, e.Seller[:]).String(),
			"buyer":      crypto.MustNewAddress(crypto.MarketPrefix, e.Buyer[:]).String(),
			"price":      formatAmount(e.Price),
		},
	}
}

// MarketPriceChanged is emitted when the seller adjusts the asking price of an
// active listing.
type MarketPriceChanged struct {
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
	NewPrice   *big.Int
}

func (MarketPriceChanged) EventType() string { return TypeMarketPriceChanged }

func (e MarketPriceChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketPriceChanged,
		Attributes: map[string]string{
			"collection": formatCollection(e.Collection),
			"assetId":    formatAmount(e.AssetID),
			"seller":     crypto.MustNewAddress(crypto.MarketPrefix, e.Seller[:]).String(),
			"newPrice":   formatAmount(e.NewPrice),
		},
	}
}

// MarketUnlisted is emitted when a seller cancels a listing and the asset
// leaves marketplace custody.
type MarketUnlisted struct {
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
}

func (MarketUnlisted) EventType() string { return TypeMarketUnlisted }

func (e MarketUnlisted) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketUnlisted,
		Attributes: map[string]string{
			"collection": formatCollection(e.Collection),
			"assetId":    formatAmount(e.AssetID),
			"seller":     crypto.MustNewAddress(crypto.MarketPrefix, e.Seller[:]).String(),
		},
	}
}

// MarketFundsReleased is emitted when the buyer confirms receipt and the
// escrowed payment is split between the seller and the fee account.
type MarketFundsReleased struct {
	Collection [20]byte
	AssetID    *big.Int
	Buyer      [20]byte
	Seller     [20]byte
	Amount     *big.Int
}

func (MarketFundsReleased) EventType() string { return TypeMarketFundsReleased }

func (e MarketFundsReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketFundsReleased,
		Attributes: map[string]string{
			"collection": formatCollection(e.Collection),
			"assetId":    formatAmount(e.AssetID),
			"buyer":      crypto.MustNewAddress(crypto.MarketPrefix, e.Buyer[:]).String(),
			"seller":     crypto.MustNewAddress(crypto.MarketPrefix, e.Seller[:]).String(),
			"amount":     formatAmount(e.Amount),
		},
	}
}

func formatCollection(collection [20]byte) string {
	return "0x" + hex.EncodeToString(collection[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
