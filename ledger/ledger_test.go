package ledger

import (
	"errors"
	"math/big"
	"testing"

	"marketd/core/state"
	"marketd/storage"
)

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func newTestLedger() *Ledger {
	return New(state.NewManager(storage.NewMemDB()))
}

func TestVaultAddressIsStable(t *testing.T) {
	if VaultAddress() != VaultAddress() {
		t.Fatal("vault address must be deterministic")
	}
	if VaultAddress() == ([20]byte{}) {
		t.Fatal("vault address must not be zero")
	}
}

func TestAssetCustodyTransfers(t *testing.T) {
	l := newTestLedger()
	collection := testAddr(0xC0)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	err := l.Transfer(collection, big.NewInt(1), alice, bob)
	if !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}

	if err := l.RegisterAsset(collection, big.NewInt(1), alice); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := l.RegisterAsset(collection, big.NewInt(1), bob); !errors.Is(err, ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}

	if err := l.Transfer(collection, big.NewInt(1), bob, alice); !errors.Is(err, ErrNotCustodian) {
		t.Fatalf("expected ErrNotCustodian, got %v", err)
	}
	if err := l.Transfer(collection, big.NewInt(1), alice, [20]byte{}); !errors.Is(err, ErrInvalidCustodyTarget) {
		t.Fatalf("expected ErrInvalidCustodyTarget, got %v", err)
	}

	if err := l.Transfer(collection, big.NewInt(1), alice, l.Vault()); err != nil {
		t.Fatalf("transfer into vault: %v", err)
	}
	custodian, ok, _ := l.Custodian(collection, big.NewInt(1))
	if !ok || custodian != l.Vault() {
		t.Fatal("vault did not take custody")
	}
	if err := l.Transfer(collection, big.NewInt(1), l.Vault(), bob); err != nil {
		t.Fatalf("transfer out of vault: %v", err)
	}
}

func TestCollectAndPay(t *testing.T) {
	l := newTestLedger()
	buyer := testAddr(0x02)
	seller := testAddr(0x01)

	if err := l.Credit(buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := l.Collect(buyer, big.NewInt(1500)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := l.Collect(buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("collect: %v", err)
	}

	vaultBal, _ := l.BalanceOf(l.Vault())
	if vaultBal.Int64() != 1000 {
		t.Fatalf("vault balance %d, want 1000", vaultBal.Int64())
	}

	if err := l.Pay(seller, big.NewInt(980)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := l.Pay(seller, big.NewInt(21)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on overdraw, got %v", err)
	}

	sellerBal, _ := l.BalanceOf(seller)
	if sellerBal.Int64() != 980 {
		t.Fatalf("seller balance %d, want 980", sellerBal.Int64())
	}
}

func TestMoveRejectsBadAmounts(t *testing.T) {
	l := newTestLedger()
	if err := l.Collect(testAddr(0x01), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	if err := l.Collect(testAddr(0x01), big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	// A zero move is a no-op, mirroring a zero fee split.
	if err := l.Pay(testAddr(0x01), big.NewInt(0)); err != nil {
		t.Fatalf("zero pay: %v", err)
	}
}
