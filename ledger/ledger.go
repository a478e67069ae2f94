package ledger

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marketd/core/state"
)

var (
	ErrUnknownAsset         = errors.New("ledger: unknown asset")
	ErrAssetExists          = errors.New("ledger: asset already registered")
	ErrNotCustodian         = errors.New("ledger: sender is not the custodian")
	ErrInvalidCustodyTarget = errors.New("ledger: destination cannot take custody")
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrInvalidAmount        = errors.New("ledger: amount must not be negative")
)

// VaultAddress derives the identity that holds assets and escrowed funds
// while they are in the marketplace. The derivation is fixed so every node
// agrees on the vault without configuration.
func VaultAddress() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("marketd/custody-vault"))
	copy(addr[:], hash[12:])
	return addr
}

// Ledger implements the two transfer capabilities the marketplace engine
// depends on: asset custody (a per-asset custodian registry) and value
// transfer (account balances with a vault for escrowed funds).
type Ledger struct {
	state *state.Manager
	vault [20]byte
}

func New(st *state.Manager) *Ledger {
	return &Ledger{state: st, vault: VaultAddress()}
}

// Vault returns the marketplace custody identity.
func (l *Ledger) Vault() [20]byte { return l.vault }

// RegisterAsset mints a new asset under the supplied custodian. Registering
// an existing asset is rejected so custody history can never be rewritten.
func (l *Ledger) RegisterAsset(collection [20]byte, assetID *big.Int, custodian [20]byte) error {
	if assetID == nil {
		return fmt.Errorf("ledger: asset id required")
	}
	if _, ok, err := l.state.AssetCustodian(collection, assetID); err != nil {
		return err
	} else if ok {
		return ErrAssetExists
	}
	return l.state.SetAssetCustodian(collection, assetID, custodian)
}

// Custodian reports the identity currently holding the asset.
func (l *Ledger) Custodian(collection [20]byte, assetID *big.Int) ([20]byte, bool, error) {
	return l.state.AssetCustodian(collection, assetID)
}

// Transfer moves the asset between custodians. The sender must be the
// current custodian; the zero identity is never a valid custody target. The
// vault is always an acceptable target, which is what makes the marketplace
// a safe deposit destination.
func (l *Ledger) Transfer(collection [20]byte, assetID *big.Int, from, to [20]byte) error {
	if assetID == nil {
		return fmt.Errorf("ledger: asset id required")
	}
	if to == ([20]byte{}) {
		return ErrInvalidCustodyTarget
	}
	custodian, ok, err := l.state.AssetCustodian(collection, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownAsset
	}
	if custodian != from {
		return ErrNotCustodian
	}
	return l.state.SetAssetCustodian(collection, assetID, to)
}

// Credit mints value onto an account. Used to seed balances at genesis.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	account, err := l.state.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return l.state.PutAccount(addr, account)
}

// BalanceOf reports the current balance of an account.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	account, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance), nil
}

// Collect pulls value from an account into the vault, where it stays while
// an escrow is pending.
func (l *Ledger) Collect(from [20]byte, amount *big.Int) error {
	return l.move(from, l.vault, amount)
}

// Pay disburses value from the vault to an account.
func (l *Ledger) Pay(to [20]byte, amount *big.Int) error {
	return l.move(l.vault, to, amount)
}

func (l *Ledger) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}
