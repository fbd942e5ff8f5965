package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain"
)

// DepositOutcome reports a completed protocol deposit: what receipt token was
// minted to the agent and how much, learned from the transaction logs.
type DepositOutcome struct {
	TxHashes      []common.Hash
	ReceiptToken  common.Address
	ReceiptAmount *big.Int
}

// RedeemOutcome reports a share redemption. Proceeds are delivered to the
// agent identity; sweeping them back into a vault is the caller's step.
type RedeemOutcome struct {
	TxHashes []common.Hash
	Token    common.Address
	Amount   *big.Int
	Shares   *big.Int
}

// Position is a read-only projection of a holder's stake in one protocol.
// UnderlyingToken identifies what UnderlyingAmount is denominated in, so
// renderers can look up its decimals.
type Position struct {
	ShareToken       common.Address
	Shares           *big.Int
	UnderlyingToken  common.Address
	UnderlyingAmount *big.Int
}

// Adapter is the protocol-agnostic surface the custody pipeline drives. All
// amounts are integer base units.
type Adapter interface {
	Name() string
	// ShareToken resolves the receipt/share token for a market.
	ShareToken(ctx context.Context, market common.Address) (common.Address, error)
	// Deposit moves amount of token from the agent into the protocol and
	// returns the minted receipt amount. A missing mint log after a
	// confirmed transaction is an ambiguous outcome, not a revert.
	Deposit(ctx context.Context, market, token common.Address, amount *big.Int) (*DepositOutcome, error)
	// Redeem burns shares held by the agent for underlying assets.
	Redeem(ctx context.Context, market common.Address, shares *big.Int) (*RedeemOutcome, error)
	// PositionOf projects holder's current stake in market.
	PositionOf(ctx context.Context, market, holder common.Address) (*Position, error)
}

var transferTopic = chain.ERC20ABI().Events["Transfer"].ID

// ExtractMinted scans receipt logs for a transfer-style event whose from
// address is the zero address and whose recipient is to: the mint pattern.
// It returns the emitting token and the minted amount. The called contracts
// return nothing to an off-chain caller, so this scan is the only way to
// learn the minted amount.
func ExtractMinted(receipt *types.Receipt, to common.Address) (common.Address, *big.Int, bool) {
	if receipt == nil {
		return common.Address{}, nil, false
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) != 3 || len(lg.Data) < 32 {
			continue
		}
		if lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != (common.Address{}) {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != to {
			continue
		}
		return lg.Address, new(big.Int).SetBytes(lg.Data[:32]), true
	}
	return common.Address{}, nil, false
}

// ExtractTransferred scans receipt logs for a transfer of token addressed to
// recipient, regardless of sender. Used to learn redemption proceeds.
func ExtractTransferred(receipt *types.Receipt, token, recipient common.Address) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != token || len(lg.Topics) != 3 || len(lg.Data) < 32 {
			continue
		}
		if lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		return new(big.Int).SetBytes(lg.Data[:32]), true
	}
	return nil, false
}
