package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"omnibridge/core/chain"
)

// Factory clones bridged token images. Addresses follow the CREATE rule over
// the factory address and a per-factory nonce, so they are deterministic for a
// given deployment order.
type Factory struct {
	Address common.Address
}

// NewFactory returns a factory deployed at addr.
func NewFactory(addr common.Address) *Factory {
	return &Factory{Address: addr}
}

func (f *Factory) nonceKey() []byte {
	return []byte("token/factory/nonce/" + f.Address.Hex())
}

// Deploy creates a token with the supplied metadata and returns its address.
func (f *Factory) Deploy(tx *chain.Tx, name, symbol string, decimals uint8, minter common.Address) (common.Address, error) {
	if f == nil || f.Address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("token factory: address not configured")
	}
	var nonce uint64
	if _, err := tx.KVGet(f.nonceKey(), &nonce); err != nil {
		return common.Address{}, err
	}
	addr := ethcrypto.CreateAddress(f.Address, nonce)
	ledger := NewLedger(tx)
	if err := ledger.Create(addr, Metadata{Name: name, Symbol: symbol, Decimals: decimals, Minter: minter}); err != nil {
		return common.Address{}, err
	}
	if err := tx.KVPut(f.nonceKey(), nonce+1); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}
