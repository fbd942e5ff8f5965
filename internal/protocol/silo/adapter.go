package silo

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain"
	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/protocol"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/registry"
)

var siloABI = chain.MustParseABI(registry.SiloABI)

// Adapter drives ERC-4626-style lending silos. A silo is its own share
// token: depositing underlying mints silo shares to the receiver.
type Adapter struct {
	client *chain.Client
	log    *logrus.Entry
}

func New(client *chain.Client, log *logrus.Entry) *Adapter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Adapter{client: client, log: log.WithField("adapter", "silo")}
}

func (a *Adapter) Name() string { return "silo" }

func (a *Adapter) ShareToken(_ context.Context, market common.Address) (common.Address, error) {
	return market, nil
}

// Asset resolves the silo's underlying token.
func (a *Adapter) Asset(ctx context.Context, market common.Address) (common.Address, error) {
	out, err := a.client.Call(ctx, market, siloABI, "asset")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := addressOutput(out)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid asset response")
	}
	return addr, nil
}

func (a *Adapter) Deposit(ctx context.Context, market, token common.Address, amount *big.Int) (*protocol.DepositOutcome, error) {
	agent := a.client.Sender()
	balance, err := a.client.TokenBalance(ctx, token, agent)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, clierr.New(clierr.CodeInsufficientBalance, "agent balance below deposit amount")
	}

	approveReceipt, err := a.client.ApproveToken(ctx, token, market, amount)
	if err != nil {
		return nil, err
	}

	depositReceipt, err := a.client.Transact(ctx, market, nil, siloABI, "deposit", amount, agent)
	if err != nil {
		return nil, err
	}

	minted, mintedAmount, ok := protocol.ExtractMinted(depositReceipt, agent)
	if !ok {
		// The deposit confirmed but the mint log is absent: ambiguous, the
		// pipeline decides whether to try again.
		return nil, clierr.New(clierr.CodeAmbiguousResult, "mint log not found in silo deposit receipt (tx "+depositReceipt.TxHash.Hex()+")")
	}
	a.log.WithFields(logrus.Fields{
		"market": market.Hex(),
		"shares": mintedAmount.String(),
		"tx":     depositReceipt.TxHash.Hex(),
	}).Info("silo deposit confirmed")
	return &protocol.DepositOutcome{
		TxHashes:      []common.Hash{approveReceipt.TxHash, depositReceipt.TxHash},
		ReceiptToken:  minted,
		ReceiptAmount: mintedAmount,
	}, nil
}

func (a *Adapter) Redeem(ctx context.Context, market common.Address, shares *big.Int) (*protocol.RedeemOutcome, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeNoPosition, "no silo shares to redeem")
	}
	agent := a.client.Sender()
	asset, err := a.Asset(ctx, market)
	if err != nil {
		return nil, err
	}
	preview, err := a.previewRedeem(ctx, market, shares)
	if err != nil {
		return nil, err
	}
	receipt, err := a.client.Transact(ctx, market, nil, siloABI, "redeem", shares, agent, agent)
	if err != nil {
		return nil, err
	}
	amount, ok := protocol.ExtractTransferred(receipt, asset, agent)
	if !ok {
		// Redemption confirmed without a matching transfer log; report the
		// previewed amount rather than failing the whole run.
		amount = preview
	}
	return &protocol.RedeemOutcome{
		TxHashes: []common.Hash{receipt.TxHash},
		Token:    asset,
		Amount:   amount,
		Shares:   shares,
	}, nil
}

func (a *Adapter) PositionOf(ctx context.Context, market, holder common.Address) (*protocol.Position, error) {
	shares, err := a.client.TokenBalance(ctx, market, holder)
	if err != nil {
		return nil, err
	}
	asset, err := a.Asset(ctx, market)
	if err != nil {
		return nil, err
	}
	underlying := big.NewInt(0)
	if shares.Sign() > 0 {
		underlying, err = a.previewRedeem(ctx, market, shares)
		if err != nil {
			return nil, err
		}
	}
	return &protocol.Position{
		ShareToken:       market,
		Shares:           shares,
		UnderlyingToken:  asset,
		UnderlyingAmount: underlying,
	}, nil
}

func (a *Adapter) previewRedeem(ctx context.Context, market common.Address, shares *big.Int) (*big.Int, error) {
	out, err := a.client.Call(ctx, market, siloABI, "previewRedeem", shares)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "empty previewRedeem response")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid previewRedeem response")
	}
	return v, nil
}

func addressOutput(out []any) (common.Address, bool) {
	if len(out) == 0 {
		return common.Address{}, false
	}
	if addr, ok := out[0].(common.Address); ok {
		return addr, true
	}
	if ptr, ok := out[0].(*common.Address); ok && ptr != nil {
		return *ptr, true
	}
	return common.Address{}, false
}
