package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain/signer"
	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/registry"
)

type Options struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	GasMultiplier  float64
	Simulate       bool
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
		Simulate:       true,
	}
}

// Client is the chain read/write facade bound to the single agent signing
// identity. All writes flow through one Client so the identity's nonce
// sequence stays ordered.
type Client struct {
	backend  Backend
	txSigner signer.Signer
	opts     Options
	log      *logrus.Entry

	// Serializes submit+wait per signing identity; independent pipeline
	// runs share this client and must not interleave nonces.
	writeMu sync.Mutex
}

func NewClient(backend Backend, txSigner signer.Signer, opts Options, log *logrus.Entry) (*Client, error) {
	if backend == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing chain backend")
	}
	if txSigner == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{backend: backend, txSigner: txSigner, opts: opts, log: log}, nil
}

// Sender returns the agent identity's address.
func (c *Client) Sender() common.Address {
	return c.txSigner.Address()
}

// Call performs a packed read (eth_call) and unpacks the outputs.
func (c *Client) Call(ctx context.Context, to common.Address, contractABI *abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.Sender(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrapRevert(clierr.CodeUnavailable, "read "+method, err)
	}
	decoded, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode "+method+" response", err)
	}
	return decoded, nil
}

// Transact packs, simulates, signs, broadcasts and waits for the receipt of
// one contract write. It returns a failed-receipt as a typed reverted error
// and a missing receipt past the configured timeout as a typed timeout.
func (c *Client) Transact(ctx context.Context, to common.Address, value *big.Int, contractABI *abi.ABI, method string, args ...any) (*types.Receipt, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	return c.submit(ctx, to, value, data, method)
}

func (c *Client) submit(ctx context.Context, to common.Address, value *big.Int, data []byte, label string) (*types.Receipt, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: c.Sender(), To: &to, Value: value, Data: data}

	if c.opts.Simulate {
		if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
			return nil, wrapRevert(clierr.CodeReverted, "simulate "+label+" (eth_call)", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, wrapRevert(clierr.CodeReverted, "estimate gas for "+label, err)
	}
	gasLimit = uint64(float64(gasLimit) * c.opts.GasMultiplier)

	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := c.backend.PendingNonceAt(ctx, c.Sender())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := c.txSigner.SignTx(chainID, tx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	c.log.WithFields(logrus.Fields{
		"tx":     signed.Hash().Hex(),
		"to":     to.Hex(),
		"method": label,
	}).Debug("transaction submitted")

	return c.waitForReceipt(ctx, signed.Hash(), label)
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash, label string) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, clierr.New(clierr.CodeReverted, label+" reverted on-chain (tx "+txHash.Hex()+")")
		}
		if waitCtx.Err() != nil {
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for "+label+" receipt", waitCtx.Err())
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			// Ignore transient RPC polling failures until timeout.
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for "+label+" receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// TokenBalance reads an ERC-20 balance.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI(), "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return uintOutput(out, "balanceOf")
}

// TokenDecimals reads an ERC-20 decimals value.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (int, error) {
	out, err := c.Call(ctx, token, ERC20ABI(), "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, clierr.New(clierr.CodeUnavailable, "empty decimals response")
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, clierr.New(clierr.CodeUnavailable, "invalid decimals response")
	}
	return int(v), nil
}

// ApproveToken approves spender for amount and waits for confirmation.
func (c *Client) ApproveToken(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	return c.Transact(ctx, token, nil, ERC20ABI(), "approve", spender, amount)
}

// TransferToken moves amount of token from the agent identity to recipient.
// The custody pipeline uses it to return withdrawn funds to the vault.
func (c *Client) TransferToken(ctx context.Context, token, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return c.Transact(ctx, token, nil, ERC20ABI(), "transfer", to, amount)
}

var (
	erc20ABIOnce sync.Once
	erc20ABIVal  *abi.ABI
)

// ERC20ABI returns the shared parsed ERC-20 ABI.
func ERC20ABI() *abi.ABI {
	erc20ABIOnce.Do(func() {
		erc20ABIVal = MustParseABI(registry.ERC20ABI)
	})
	return erc20ABIVal
}

func uintOutput(out []any, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "empty "+method+" response")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid "+method+" response")
	}
	return v, nil
}
