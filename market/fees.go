package market

import (
	"math/big"
	"sync"
)

// DefaultFeePercent is the fee rate configured when a marketplace starts.
const DefaultFeePercent uint32 = 2

// FeePolicy holds the marketplace-wide fee rate, expressed as an integer
// percentage of the sale price. Only the administrator mutates it, through
// Engine.SetFeePercentage.
type FeePolicy struct {
	mu   sync.RWMutex
	rate uint32
}

// NewFeePolicy creates a policy with the supplied rate, falling back to the
// default when the rate is out of range.
func NewFeePolicy(rate uint32) *FeePolicy {
	if rate >= 100 {
		rate = DefaultFeePercent
	}
	return &FeePolicy{rate: rate}
}

// Rate returns the current fee percentage.
func (p *FeePolicy) Rate() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rate
}

// SetRate replaces the fee percentage. Rates of 100 or more are rejected.
func (p *FeePolicy) SetRate(rate uint32) error {
	if rate >= 100 {
		return ErrInvalidRate
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
	return nil
}

// Split divides a sale price into the fee amount and the seller proceeds.
// The fee truncates toward zero and the seller amount is derived from it by
// subtraction, so the two always sum to the price exactly.
func (p *FeePolicy) Split(price *big.Int) (fee, seller *big.Int) {
	total := big.NewInt(0)
	if price != nil {
		total = new(big.Int).Set(price)
	}
	rate := p.Rate()
	fee = new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(rate)))
	fee.Div(fee, big.NewInt(100))
	seller = new(big.Int).Sub(total, fee)
	return fee, seller
}
