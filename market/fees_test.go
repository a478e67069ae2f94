package market

import (
	"errors"
	"math/big"
	"testing"
)

func TestSplitConservesPrice(t *testing.T) {
	prices := []int64{1, 2, 3, 7, 99, 100, 101, 999, 1000, 123456789}
	for rate := uint32(0); rate < 100; rate++ {
		policy := NewFeePolicy(0)
		if err := policy.SetRate(rate); err != nil {
			t.Fatalf("rate %d: %v", rate, err)
		}
		for _, price := range prices {
			fee, seller := policy.Split(big.NewInt(price))
			if new(big.Int).Add(fee, seller).Int64() != price {
				t.Fatalf("rate %d price %d: fee %s + seller %s != price", rate, price, fee, seller)
			}
			wantFee := price * int64(rate) / 100
			if fee.Int64() != wantFee {
				t.Fatalf("rate %d price %d: fee %s, want %d", rate, price, fee, wantFee)
			}
		}
	}
}

func TestSplitTruncatesTowardZero(t *testing.T) {
	policy := NewFeePolicy(2)
	fee, seller := policy.Split(big.NewInt(99))
	// 99 * 2 / 100 = 1.98, truncated to 1.
	if fee.Int64() != 1 || seller.Int64() != 98 {
		t.Fatalf("fee %s seller %s, want 1 and 98", fee, seller)
	}
}

func TestSetRateBounds(t *testing.T) {
	policy := NewFeePolicy(2)
	for _, rate := range []uint32{100, 101, 255, 10000} {
		if err := policy.SetRate(rate); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("rate %d: expected ErrInvalidRate, got %v", rate, err)
		}
	}
	if policy.Rate() != 2 {
		t.Fatalf("rejected rate mutated policy to %d", policy.Rate())
	}
	if err := policy.SetRate(99); err != nil {
		t.Fatalf("rate 99: %v", err)
	}
	if policy.Rate() != 99 {
		t.Fatalf("rate not applied, got %d", policy.Rate())
	}
}

func TestNewFeePolicyFallsBackToDefault(t *testing.T) {
	if rate := NewFeePolicy(250).Rate(); rate != DefaultFeePercent {
		t.Fatalf("out-of-range constructor rate produced %d, want default %d", rate, DefaultFeePercent)
	}
	if rate := NewFeePolicy(7).Rate(); rate != 7 {
		t.Fatalf("constructor rate not kept, got %d", rate)
	}
}

func TestSplitNilPrice(t *testing.T) {
	policy := NewFeePolicy(2)
	fee, seller := policy.Split(nil)
	if fee.Sign() != 0 || seller.Sign() != 0 {
		t.Fatalf("nil price split produced fee %s seller %s", fee, seller)
	}
}
