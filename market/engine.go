package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"marketd/core/events"
)

var (
	errNilState    = errors.New("market engine: state not configured")
	errNilCustody  = errors.New("market engine: asset custody not configured")
	errNilPayments = errors.New("market engine: value transfer not configured")
	errNilOwner    = errors.New("market engine: administrator not configured")
	errNilVault    = errors.New("market engine: custody vault not configured")
)

// State is the persistence surface the engine mutates. Implementations carry
// no concurrency control of their own; the engine serializes access per
// listing key.
type State interface {
	// ListingPut overwrites any prior record at the listing key
	// unconditionally. Callers must have verified there is no live
	// conflicting state first.
	ListingPut(l *Listing) error
	ListingGet(collection [20]byte, assetID *big.Int) (*Listing, bool, error)
	ListingRemove(collection [20]byte, assetID *big.Int) error
	// ListingSetPrice fails with ErrListingNotFound when no listing exists.
	ListingSetPrice(collection [20]byte, assetID *big.Int, price *big.Int) error

	EscrowPut(e *Escrow) error
	EscrowGet(collection [20]byte, assetID *big.Int) (*Escrow, bool, error)
	// EscrowMarkReleased fails with ErrEscrowNotFound when no record exists
	// and ErrAlreadyReleased when the flag is already set.
	EscrowMarkReleased(collection [20]byte, assetID *big.Int) error
}

// AssetCustody moves a uniquely identified asset between custodians. The
// marketplace vault must be a valid custody target.
type AssetCustody interface {
	Transfer(collection [20]byte, assetID *big.Int, from, to [20]byte) error
}

// ValueTransfer moves value between accounts and the marketplace vault.
// Collect pulls escrowed funds into the vault; Pay disburses from it.
type ValueTransfer interface {
	Collect(from [20]byte, amount *big.Int) error
	Pay(to [20]byte, amount *big.Int) error
}

// Engine is the marketplace state machine. It validates preconditions against
// the stores, performs asset and value movements through the external
// collaborators, mutates the stores, and emits a domain event per operation.
// External transfers always run before store mutations so a collaborator
// failure leaves the ledger unchanged.
type Engine struct {
	state    State
	custody  AssetCustody
	payments ValueTransfer
	fees     *FeePolicy
	owner    [20]byte
	vault    [20]byte
	emitter  events.Emitter
	nowFn    func() int64

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a per-asset mutex with a reference count so idle entries can be
// evicted from the lock map once no operation holds or awaits them.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine wires the marketplace business logic with its stores, the two
// external transfer capabilities, and the fee policy. Events are discarded
// until an emitter is configured.
func NewEngine(state State, custody AssetCustody, payments ValueTransfer, fees *FeePolicy) *Engine {
	if fees == nil {
		fees = NewFeePolicy(DefaultFeePercent)
	}
	return &Engine{
		state:    state,
		custody:  custody,
		payments: payments,
		fees:     fees,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		locks:    make(map[string]*keyLock),
	}
}

// SetOwner configures the administrator identity that collects fees and may
// change the fee rate.
func (e *Engine) SetOwner(addr [20]byte) { e.owner = addr }

// SetVault configures the identity holding assets and funds while they are
// in the marketplace.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// FeePolicy exposes the policy for read-side consumers.
func (e *Engine) FeePolicy() *FeePolicy { return e.fees }

// Owner returns the administrator identity.
func (e *Engine) Owner() [20]byte { return e.owner }

// Vault returns the custody vault identity.
func (e *Engine) Vault() [20]byte { return e.vault }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockKey serializes all operations touching one (collection, assetID) key.
// The entry is dropped from the map once the last holder releases it.
func (e *Engine) lockKey(collection [20]byte, assetID *big.Int) func() {
	key := fmt.Sprintf("%x/%s", collection, assetID)
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &keyLock{}
		e.locks[key] = l
	}
	l.refs++
	e.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, key)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) checkWiring() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.custody == nil:
		return errNilCustody
	case e.payments == nil:
		return errNilPayments
	case e.owner == ([20]byte{}):
		return errNilOwner
	case e.vault == ([20]byte{}):
		return errNilVault
	}
	return nil
}

// undoBuy returns the asset to the vault and refunds the buyer after a store
// write failed mid-purchase, so both external transfers commit or neither.
func (e *Engine) undoBuy(collection [20]byte, assetID *big.Int, buyer [20]byte, amount *big.Int, cause error) error {
	if undoErr := e.custody.Transfer(collection, assetID, buyer, e.vault); undoErr != nil {
		return fmt.Errorf("%w (asset return also failed: %w)", cause, undoErr)
	}
	if undoErr := e.payments.Pay(buyer, amount); undoErr != nil {
		return fmt.Errorf("%w (refund also failed: %w)", cause, undoErr)
	}
	return cause
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// List deposits the caller's asset into marketplace custody and creates an
// active listing at the supplied price.
func (e *Engine) List(collection [20]byte, assetID *big.Int, price *big.Int, caller [20]byte) (*Listing, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if assetID == nil {
		return nil, ErrInvalidAsset
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	unlock := e.lockKey(collection, assetID)
	defer unlock()

	// A pending escrow at this key belongs to an unsettled sale; relisting
	// would let a later purchase destroy it.
	if existing, ok, err := e.state.EscrowGet(collection, assetID); err != nil {
		return nil, err
	} else if ok && !existing.Released {
		return nil, ErrEscrowPending
	}

	if err := e.custody.Transfer(collection, assetID, caller, e.vault); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetTransferFailed, err)
	}
	listing := &Listing{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Seller:     caller,
		Price:      cloneBigInt(price),
		Active:     true,
		CreatedAt:  e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(events.MarketListed{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Seller:     caller,
		Price:      cloneBigInt(price),
	})
	return listing.Clone(), nil
}

// Buy pays for an active listing. The full paid amount, overpayment
// included, moves into the vault and is recorded verbatim as the amount
// held; the asset transfers to the buyer immediately while funds await
// confirmation. The listing is deactivated so it can no longer be repriced
// or cancelled.
func (e *Engine) Buy(collection [20]byte, assetID *big.Int, caller [20]byte, paid *big.Int) (*Escrow, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if assetID == nil {
		return nil, ErrInvalidAsset
	}
	unlock := e.lockKey(collection, assetID)
	defer unlock()

	listing, ok, err := e.state.ListingGet(collection, assetID)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Active {
		return nil, ErrNotListed
	}
	if paid == nil || paid.Cmp(listing.Price) < 0 {
		return nil, ErrInsufficientPayment
	}
	// Only a settled record may be overwritten; a pending escrow still owes
	// its seller a payout.
	if existing, ok, err := e.state.EscrowGet(collection, assetID); err != nil {
		return nil, err
	} else if ok && !existing.Released {
		return nil, ErrEscrowPending
	}

	amount := cloneBigInt(paid)
	if err := e.payments.Collect(caller, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	if err := e.custody.Transfer(collection, assetID, e.vault, caller); err != nil {
		// Undo the collection so a custody failure leaves no funds stranded.
		if undoErr := e.payments.Pay(caller, amount); undoErr != nil {
			return nil, fmt.Errorf("%w: %w (refund also failed: %w)", ErrAssetTransferFailed, err, undoErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrAssetTransferFailed, err)
	}

	// Store mutations run with the escrow write last so a failure never
	// leaves a sale without its escrow record; any store failure unwinds
	// both external transfers.
	listing.Active = false
	if err := e.state.ListingPut(listing); err != nil {
		return nil, e.undoBuy(collection, assetID, caller, amount, err)
	}
	escrow := &Escrow{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Buyer:      caller,
		AmountHeld: amount,
		Released:   false,
		CreatedAt:  e.now(),
	}
	if err := e.state.EscrowPut(escrow); err != nil {
		listing.Active = true
		if undoErr := e.state.ListingPut(listing); undoErr != nil {
			return nil, fmt.Errorf("%w (listing restore also failed: %w)", err, undoErr)
		}
		return nil, e.undoBuy(collection, assetID, caller, amount, err)
	}
	e.emit(events.MarketSold{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Seller:     listing.Seller,
		Buyer:      caller,
		Price:      cloneBigInt(listing.Price),
	})
	return escrow.Clone(), nil
}

// ConfirmReceipt releases the escrowed payment: the listing price splits
// between seller and administrator per the fee policy, the released flag
// flips, and the listing record is retired. The flag is only committed after
// both payouts succeed; a payout failure restores the vault balance and
// leaves the escrow pending.
func (e *Engine) ConfirmReceipt(collection [20]byte, assetID *big.Int, caller [20]byte) error {
	if err := e.checkWiring(); err != nil {
		return err
	}
	if assetID == nil {
		return ErrInvalidAsset
	}
	unlock := e.lockKey(collection, assetID)
	defer unlock()

	escrow, ok, err := e.state.EscrowGet(collection, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEscrowNotFound
	}
	if caller != escrow.Buyer {
		return ErrNotBuyer
	}
	if escrow.Released {
		return ErrAlreadyReleased
	}
	listing, ok, err := e.state.ListingGet(collection, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}

	fee, sellerAmount := e.fees.Split(listing.Price)
	if sellerAmount.Sign() > 0 {
		if err := e.payments.Pay(listing.Seller, sellerAmount); err != nil {
			return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
		}
	}
	if fee.Sign() > 0 {
		if err := e.payments.Pay(e.owner, fee); err != nil {
			// Pull the seller payout back so both transfers commit or neither.
			if undoErr := e.payments.Collect(listing.Seller, sellerAmount); undoErr != nil {
				return fmt.Errorf("%w: %w (seller payout reversal also failed: %w)", ErrPayoutFailed, err, undoErr)
			}
			return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
		}
	}

	if err := e.state.EscrowMarkReleased(collection, assetID); err != nil {
		return err
	}
	if err := e.state.ListingRemove(collection, assetID); err != nil {
		return err
	}
	e.emit(events.MarketFundsReleased{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Buyer:      escrow.Buyer,
		Seller:     listing.Seller,
		Amount:     cloneBigInt(escrow.AmountHeld),
	})
	return nil
}

// ChangePrice mutates the asking price of an active listing in place.
func (e *Engine) ChangePrice(collection [20]byte, assetID *big.Int, newPrice *big.Int, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if assetID == nil {
		return ErrInvalidAsset
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return ErrInvalidPrice
	}
	unlock := e.lockKey(collection, assetID)
	defer unlock()

	listing, ok, err := e.state.ListingGet(collection, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if !listing.Active {
		return ErrNotListed
	}
	if caller != listing.Seller {
		return ErrNotSeller
	}
	if err := e.state.ListingSetPrice(collection, assetID, newPrice); err != nil {
		return err
	}
	e.emit(events.MarketPriceChanged{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Seller:     listing.Seller,
		NewPrice:   cloneBigInt(newPrice),
	})
	return nil
}

// Unlist cancels an active listing and returns the asset to the seller. A
// listing that has been sold into escrow can no longer be cancelled.
func (e *Engine) Unlist(collection [20]byte, assetID *big.Int, caller [20]byte) error {
	if err := e.checkWiring(); err != nil {
		return err
	}
	if assetID == nil {
		return ErrInvalidAsset
	}
	unlock := e.lockKey(collection, assetID)
	defer unlock()

	listing, ok, err := e.state.ListingGet(collection, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if !listing.Active {
		return ErrNotListed
	}
	if caller != listing.Seller {
		return ErrNotSeller
	}
	if err := e.custody.Transfer(collection, assetID, e.vault, listing.Seller); err != nil {
		return fmt.Errorf("%w: %w", ErrAssetTransferFailed, err)
	}
	if err := e.state.ListingRemove(collection, assetID); err != nil {
		return err
	}
	e.emit(events.MarketUnlisted{
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Seller:     listing.Seller,
	})
	return nil
}

// SetFeePercentage updates the marketplace fee rate. Only the administrator
// may call it.
func (e *Engine) SetFeePercentage(rate uint32, caller [20]byte) error {
	if e == nil {
		return errNilState
	}
	if e.owner == ([20]byte{}) {
		return errNilOwner
	}
	if caller != e.owner {
		return ErrNotAuthorized
	}
	return e.fees.SetRate(rate)
}

// GetListing returns the listing stored at the key, if any.
func (e *Engine) GetListing(collection [20]byte, assetID *big.Int) (*Listing, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	if assetID == nil {
		return nil, false, ErrInvalidAsset
	}
	return e.state.ListingGet(collection, assetID)
}

// GetEscrow returns the escrow record stored at the key, if any.
func (e *Engine) GetEscrow(collection [20]byte, assetID *big.Int) (*Escrow, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	if assetID == nil {
		return nil, false, ErrInvalidAsset
	}
	return e.state.EscrowGet(collection, assetID)
}
