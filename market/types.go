package market

import (
	"math/big"
)

// Listing captures one asset offered for sale. The seller is the identity
// that deposited the asset into marketplace custody; the asset stays in the
// vault until the listing is bought or cancelled.
//
// A listing keeps Active=false after a sale so settlement can still resolve
// the seller and price, and is deleted once funds are released.
type Listing struct {
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
	Price      *big.Int
	Active     bool
	CreatedAt  int64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.AssetID != nil {
		clone.AssetID = new(big.Int).Set(l.AssetID)
	}
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Escrow records a payment held pending buyer confirmation. AmountHeld is the
// full sum the buyer paid, which may exceed the listing price; settlement
// disburses the listing price split and the flag flips exactly once.
type Escrow struct {
	Collection [20]byte
	AssetID    *big.Int
	Buyer      [20]byte
	AmountHeld *big.Int
	Released   bool
	CreatedAt  int64
}

// Clone returns a deep copy of the escrow record.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.AssetID != nil {
		clone.AssetID = new(big.Int).Set(e.AssetID)
	}
	if e.AmountHeld != nil {
		clone.AmountHeld = new(big.Int).Set(e.AmountHeld)
	} else {
		clone.AmountHeld = big.NewInt(0)
	}
	return &clone
}
