package lst

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

var (
	stakingABI = chain.MustParseABI(registry.StakingABI)
	wrappedABI = chain.MustParseABI(registry.WrappedNativeABI)
)

// Adapter drives the Sonic liquid staking contract. Staking takes native S,
// so a deposit of wrapped wS is a fixed composition: unwrap, then a payable
// stake call that mints stS to the caller. The staking contract and the stS
// token share one address.
type Adapter struct {
	client           *chain.Client
	wrappedNative    common.Address
	defaultValidator *big.Int
	log              *logrus.Entry
}

func New(client *chain.Client, wrappedNative common.Address, defaultValidator int64, log *logrus.Entry) *Adapter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Adapter{
		client:           client,
		wrappedNative:    wrappedNative,
		defaultValidator: big.NewInt(defaultValidator),
		log:              log.WithField("adapter", "lst"),
	}
}

func (a *Adapter) Name() string { return "lst" }

func (a *Adapter) ShareToken(_ context.Context, market common.Address) (common.Address, error) {
	return market, nil
}

func (a *Adapter) Deposit(ctx context.Context, market, token common.Address, amount *big.Int) (*protocol.DepositOutcome, error) {
	if token != a.wrappedNative {
		return nil, clierr.New(clierr.CodeUsage, "staking deposits take the wrapped native token")
	}
	agent := a.client.Sender()
	balance, err := a.client.TokenBalance(ctx, token, agent)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, clierr.New(clierr.CodeInsufficientBalance, "agent balance below stake amount")
	}

	unwrapReceipt, err := a.client.Transact(ctx, token, nil, wrappedABI, "withdraw", amount)
	if err != nil {
		return nil, err
	}

	stakeReceipt, err := a.client.Transact(ctx, market, amount, stakingABI, "deposit")
	if err != nil {
		a.rewrapAfterFailedStake(ctx, token, amount, err)
		return nil, err
	}

	minted, mintedAmount, ok := protocol.ExtractMinted(stakeReceipt, agent)
	if !ok {
		return nil, clierr.New(clierr.CodeAmbiguousResult, "mint log not found in stake receipt (tx "+stakeReceipt.TxHash.Hex()+")")
	}
	a.log.WithFields(logrus.Fields{
		"shares": mintedAmount.String(),
		"tx":     stakeReceipt.TxHash.Hex(),
	}).Info("stake confirmed")
	return &protocol.DepositOutcome{
		TxHashes:      []common.Hash{unwrapReceipt.TxHash, stakeReceipt.TxHash},
		ReceiptToken:  minted,
		ReceiptAmount: mintedAmount,
	}, nil
}

// rewrapAfterFailedStake restores the wrapped balance after the unwrap
// confirmed but the stake did not execute, so a later transfer of the wrapped
// token is funded again. Ambiguous and timed-out stakes are left alone: the
// stake may still land and consume the native balance.
func (a *Adapter) rewrapAfterFailedStake(ctx context.Context, token common.Address, amount *big.Int, stakeErr error) {
	switch clierr.CodeOf(stakeErr) {
	case clierr.CodeAmbiguousResult, clierr.CodeTimeout:
		return
	}
	if _, err := a.client.Transact(ctx, token, amount, wrappedABI, "deposit"); err != nil {
		a.log.WithError(err).Warn("re-wrap after failed stake did not complete")
		return
	}
	a.log.WithField("amount", amount.String()).Info("re-wrapped native after failed stake")
}

// Redeem starts an undelegation of shares. The staking contract burns the
// shares now and releases native S after the unbonding period; the claimable
// amount is reported at the current share rate. Claiming the matured
// withdrawal is a separate operator step.
func (a *Adapter) Redeem(ctx context.Context, market common.Address, shares *big.Int) (*protocol.RedeemOutcome, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeNoPosition, "no staked shares to redeem")
	}
	assets, err := a.convertToAssets(ctx, market, shares)
	if err != nil {
		return nil, err
	}
	receipt, err := a.client.Transact(ctx, market, nil, stakingABI, "undelegate", a.defaultValidator, shares)
	if err != nil {
		return nil, err
	}
	return &protocol.RedeemOutcome{
		TxHashes: []common.Hash{receipt.TxHash},
		Token:    a.wrappedNative,
		Amount:   assets,
		Shares:   shares,
	}, nil
}

func (a *Adapter) PositionOf(ctx context.Context, market, holder common.Address) (*protocol.Position, error) {
	shares, err := a.client.TokenBalance(ctx, market, holder)
	if err != nil {
		return nil, err
	}
	underlying := big.NewInt(0)
	if shares.Sign() > 0 {
		underlying, err = a.convertToAssets(ctx, market, shares)
		if err != nil {
			return nil, err
		}
	}
	return &protocol.Position{
		ShareToken:       market,
		Shares:           shares,
		UnderlyingToken:  a.wrappedNative,
		UnderlyingAmount: underlying,
	}, nil
}

func (a *Adapter) convertToAssets(ctx context.Context, market common.Address, shares *big.Int) (*big.Int, error) {
	out, err := a.client.Call(ctx, market, stakingABI, "convertToAssets", shares)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "empty convertToAssets response")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid convertToAssets response")
	}
	return v, nil
}
