package state

import (
	"fmt"
	"math/big"

	"marketd/core/types"
)

var (
	accountRecordPrefix = []byte("ledger/account:")
	assetRecordPrefix   = []byte("ledger/asset:")
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

type storedAsset struct {
	Custodian [20]byte
}

func accountStorageKey(addr [20]byte) []byte {
	return kvKey(accountRecordPrefix, addr[:])
}

func assetStorageKey(collection [20]byte, assetID *big.Int) []byte {
	return kvKey(assetRecordPrefix, collection[:], assetID.Bytes())
}

// GetAccount loads the account for the supplied address. Unknown addresses
// yield a zero-balance account rather than an error.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.kvGet(accountStorageKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance}, nil
}

// PutAccount persists the account under the supplied address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := storedAccount{Nonce: account.Nonce, Balance: big.NewInt(0)}
	if account.Balance != nil {
		stored.Balance = new(big.Int).Set(account.Balance)
	}
	return m.kvPut(accountStorageKey(addr), &stored)
}

// AssetCustodian reports which identity currently holds the asset.
func (m *Manager) AssetCustodian(collection [20]byte, assetID *big.Int) ([20]byte, bool, error) {
	if assetID == nil {
		return [20]byte{}, false, fmt.Errorf("state: asset id required")
	}
	var stored storedAsset
	ok, err := m.kvGet(assetStorageKey(collection, assetID), &stored)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return stored.Custodian, true, nil
}

// SetAssetCustodian records the identity holding the asset.
func (m *Manager) SetAssetCustodian(collection [20]byte, assetID *big.Int, custodian [20]byte) error {
	if assetID == nil {
		return fmt.Errorf("state: asset id required")
	}
	return m.kvPut(assetStorageKey(collection, assetID), &storedAsset{Custodian: custodian})
}
