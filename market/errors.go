package market

import "errors"

// Validation errors: the caller supplied an argument no state could accept.
var (
	ErrInvalidPrice = errors.New("market: price must be positive")
	ErrInvalidRate  = errors.New("market: fee rate must be below 100")
	ErrInvalidAsset = errors.New("market: asset id required")
)

// Authorization errors: the caller identity does not match the recorded one.
var (
	ErrNotSeller     = errors.New("market: caller is not the seller")
	ErrNotBuyer      = errors.New("market: caller is not the buyer")
	ErrNotAuthorized = errors.New("market: caller is not the administrator")
)

// State errors: the operation is not eligible in the current lifecycle state.
var (
	ErrNotListed           = errors.New("market: no active listing")
	ErrListingNotFound     = errors.New("market: listing not found")
	ErrEscrowNotFound      = errors.New("market: escrow not found")
	ErrEscrowPending       = errors.New("market: escrow still pending settlement")
	ErrAlreadyReleased     = errors.New("market: funds already released")
	ErrInsufficientPayment = errors.New("market: payment below listing price")
)

// Collaborator errors: an external transfer capability failed. They always
// wrap the underlying cause so callers can log it, and no store mutation is
// committed when one surfaces.
var (
	ErrAssetTransferFailed = errors.New("market: asset transfer failed")
	ErrPaymentFailed       = errors.New("market: payment collection failed")
	ErrPayoutFailed        = errors.New("market: payout failed")
)
