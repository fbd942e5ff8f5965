package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the agent's transaction-signing identity. Vaults are deployed
// trusting exactly one agent address, so the resolved Address feeds both the
// authorization precondition and every transaction sender field.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}
