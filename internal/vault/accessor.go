package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain"
	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/registry"
)

var (
	factoryABI = chain.MustParseABI(registry.VaultFactoryABI)
	vaultABI   = chain.MustParseABI(registry.VaultABI)
)

// Accessor resolves and operates per-user custody vaults on behalf of the
// agent identity. The on-chain factory is the source of truth for vault
// ownership; any metadata store is advisory.
type Accessor struct {
	client  *chain.Client
	factory common.Address
	log     *logrus.Entry
}

func NewAccessor(client *chain.Client, factory common.Address, log *logrus.Entry) *Accessor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Accessor{client: client, factory: factory, log: log}
}

// Client exposes the underlying chain facade for collaborators that share
// the accessor's signing identity.
func (a *Accessor) Client() *chain.Client { return a.client }

// Resolve returns the vault owned by owner, or the zero address if none
// exists. The zero address is a distinct non-error outcome.
func (a *Accessor) Resolve(ctx context.Context, owner common.Address) (common.Address, error) {
	out, err := a.client.Call(ctx, a.factory, factoryABI, "vaultFor", owner)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "empty vaultFor response")
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid vaultFor response")
	}
	return addr, nil
}

// CreateResult reports an idempotent vault creation.
type CreateResult struct {
	Vault   common.Address
	Created bool
	TxHash  common.Hash
}

// Create is idempotent: an existing vault is returned without submitting a
// transaction. On actual creation the vault address is taken from the
// factory's VaultCreated event, because the factory returns the address only
// via event.
func (a *Accessor) Create(ctx context.Context, owner common.Address) (CreateResult, error) {
	existing, err := a.Resolve(ctx, owner)
	if err != nil {
		return CreateResult{}, err
	}
	if existing != (common.Address{}) {
		return CreateResult{Vault: existing}, nil
	}

	agent := a.client.Sender()
	receipt, err := a.client.Transact(ctx, a.factory, nil, factoryABI, "createVault", owner, agent)
	if err != nil {
		return CreateResult{}, clierr.Wrap(clierr.CodeVaultCreation, "submit vault creation", err)
	}
	created, ok := extractCreatedVault(receipt, a.factory, owner)
	if !ok {
		return CreateResult{}, clierr.New(clierr.CodeVaultCreation, "vault creation event not found in receipt (tx "+receipt.TxHash.Hex()+")")
	}
	a.log.WithFields(logrus.Fields{
		"owner": owner.Hex(),
		"vault": created.Hex(),
		"tx":    receipt.TxHash.Hex(),
	}).Info("vault created")
	return CreateResult{Vault: created, Created: true, TxHash: receipt.TxHash}, nil
}

func extractCreatedVault(receipt *types.Receipt, factory, owner common.Address) (common.Address, bool) {
	topic := factoryABI.Events["VaultCreated"].ID
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != factory || len(lg.Topics) < 3 {
			continue
		}
		if lg.Topics[0] != topic {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != owner {
			continue
		}
		return common.BytesToAddress(lg.Topics[2].Bytes()), true
	}
	return common.Address{}, false
}

// IsAuthorized reports whether the agent identity holds a non-zero role code
// on the vault.
func (a *Accessor) IsAuthorized(ctx context.Context, vault common.Address) (bool, error) {
	out, err := a.client.Call(ctx, vault, vaultABI, "roles", a.client.Sender())
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, clierr.New(clierr.CodeUnavailable, "empty roles response")
	}
	role, ok := out[0].(*big.Int)
	if !ok {
		return false, clierr.New(clierr.CodeUnavailable, "invalid roles response")
	}
	return role.Sign() != 0, nil
}

// Balance reads the vault's balance of token.
func (a *Accessor) Balance(ctx context.Context, vault, token common.Address) (*big.Int, error) {
	return a.client.TokenBalance(ctx, token, vault)
}

// Withdraw moves amount of token from the vault to the agent identity.
// The call is simulated before submission and the receipt is status-checked.
func (a *Accessor) Withdraw(ctx context.Context, vault, token common.Address, amount *big.Int) (common.Hash, error) {
	receipt, err := a.client.Transact(ctx, vault, nil, vaultABI, "withdraw", token, a.client.Sender(), amount)
	if err != nil {
		return txHashOf(receipt), err
	}
	return receipt.TxHash, nil
}

// Deposit records amount of token into the vault. The vault pulls the token
// from the agent, so the vault must hold an allowance first.
func (a *Accessor) Deposit(ctx context.Context, vault, token common.Address, amount *big.Int) (common.Hash, error) {
	receipt, err := a.client.Transact(ctx, vault, nil, vaultABI, "deposit", token, amount)
	if err != nil {
		return txHashOf(receipt), err
	}
	return receipt.TxHash, nil
}

func txHashOf(receipt *types.Receipt) common.Hash {
	if receipt == nil {
		return common.Hash{}
	}
	return receipt.TxHash
}
