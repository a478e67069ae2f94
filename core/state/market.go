package state

import (
	"fmt"
	"math/big"

	"marketd/market"
)

var (
	listingRecordPrefix = []byte("market/listing:")
	escrowRecordPrefix  = []byte("market/escrow:")
)

// storedListing mirrors market.Listing with RLP-friendly field types.
type storedListing struct {
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
	Price      *big.Int
	Active     bool
	CreatedAt  uint64
}

type storedEscrow struct {
	Collection [20]byte
	AssetID    *big.Int
	Buyer      [20]byte
	AmountHeld *big.Int
	Released   bool
	CreatedAt  uint64
}

func listingStorageKey(collection [20]byte, assetID *big.Int) []byte {
	return kvKey(listingRecordPrefix, collection[:], assetID.Bytes())
}

func escrowStorageKey(collection [20]byte, assetID *big.Int) []byte {
	return kvKey(escrowRecordPrefix, collection[:], assetID.Bytes())
}

// ListingPut overwrites the listing stored at the record's key.
func (m *Manager) ListingPut(l *market.Listing) error {
	if l == nil {
		return fmt.Errorf("state: nil listing")
	}
	if l.AssetID == nil {
		return fmt.Errorf("state: listing asset id required")
	}
	stored := storedListing{
		Collection: l.Collection,
		AssetID:    new(big.Int).Set(l.AssetID),
		Seller:     l.Seller,
		Price:      big.NewInt(0),
		Active:     l.Active,
		CreatedAt:  uint64(l.CreatedAt),
	}
	if l.Price != nil {
		stored.Price = new(big.Int).Set(l.Price)
	}
	return m.kvPut(listingStorageKey(l.Collection, l.AssetID), &stored)
}

// ListingGet loads the listing stored at the key, if any.
func (m *Manager) ListingGet(collection [20]byte, assetID *big.Int) (*market.Listing, bool, error) {
	if assetID == nil {
		return nil, false, fmt.Errorf("state: asset id required")
	}
	var stored storedListing
	ok, err := m.kvGet(listingStorageKey(collection, assetID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &market.Listing{
		Collection: stored.Collection,
		AssetID:    stored.AssetID,
		Seller:     stored.Seller,
		Price:      stored.Price,
		Active:     stored.Active,
		CreatedAt:  int64(stored.CreatedAt),
	}, true, nil
}

// ListingRemove deletes the listing record at the key. Removing an absent
// record is not an error.
func (m *Manager) ListingRemove(collection [20]byte, assetID *big.Int) error {
	if assetID == nil {
		return fmt.Errorf("state: asset id required")
	}
	return m.kvDelete(listingStorageKey(collection, assetID))
}

// ListingSetPrice mutates the stored price in place.
func (m *Manager) ListingSetPrice(collection [20]byte, assetID *big.Int, price *big.Int) error {
	if assetID == nil {
		return fmt.Errorf("state: asset id required")
	}
	if price == nil {
		return fmt.Errorf("state: price required")
	}
	var stored storedListing
	ok, err := m.kvGet(listingStorageKey(collection, assetID), &stored)
	if err != nil {
		return err
	}
	if !ok {
		return market.ErrListingNotFound
	}
	stored.Price = new(big.Int).Set(price)
	return m.kvPut(listingStorageKey(collection, assetID), &stored)
}

// EscrowPut overwrites the escrow record stored at the record's key.
func (m *Manager) EscrowPut(e *market.Escrow) error {
	if e == nil {
		return fmt.Errorf("state: nil escrow")
	}
	if e.AssetID == nil {
		return fmt.Errorf("state: escrow asset id required")
	}
	stored := storedEscrow{
		Collection: e.Collection,
		AssetID:    new(big.Int).Set(e.AssetID),
		Buyer:      e.Buyer,
		AmountHeld: big.NewInt(0),
		Released:   e.Released,
		CreatedAt:  uint64(e.CreatedAt),
	}
	if e.AmountHeld != nil {
		stored.AmountHeld = new(big.Int).Set(e.AmountHeld)
	}
	return m.kvPut(escrowStorageKey(e.Collection, e.AssetID), &stored)
}

// EscrowGet loads the escrow record stored at the key, if any.
func (m *Manager) EscrowGet(collection [20]byte, assetID *big.Int) (*market.Escrow, bool, error) {
	if assetID == nil {
		return nil, false, fmt.Errorf("state: asset id required")
	}
	var stored storedEscrow
	ok, err := m.kvGet(escrowStorageKey(collection, assetID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &market.Escrow{
		Collection: stored.Collection,
		AssetID:    stored.AssetID,
		Buyer:      stored.Buyer,
		AmountHeld: stored.AmountHeld,
		Released:   stored.Released,
		CreatedAt:  int64(stored.CreatedAt),
	}, true, nil
}

// EscrowMarkReleased flips the released flag exactly once.
func (m *Manager) EscrowMarkReleased(collection [20]byte, assetID *big.Int) error {
	if assetID == nil {
		return fmt.Errorf("state: asset id required")
	}
	var stored storedEscrow
	ok, err := m.kvGet(escrowStorageKey(collection, assetID), &stored)
	if err != nil {
		return err
	}
	if !ok {
		return market.ErrEscrowNotFound
	}
	if stored.Released {
		return market.ErrAlreadyReleased
	}
	stored.Released = true
	return m.kvPut(escrowStorageKey(collection, assetID), &stored)
}
