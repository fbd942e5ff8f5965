package pipeline

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/journal"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/protocol"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/vault"
)

// Stage names the pipeline's observable states, reported through the
// progress callback and audit log.
type Stage string

const (
	StageAuthorizing Stage = "authorizing"
	StageWithdrawing Stage = "withdrawing_from_vault"
	StageProtocolOp  Stage = "performing_protocol_op"
	StageDepositing  Stage = "depositing_to_vault"
	StageRollingBack Stage = "rolling_back"
)

type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusCritical   Status = "critical"
)

// ProgressFunc is invoked before each protocol-op retry and on stage
// transitions worth surfacing to the caller.
type ProgressFunc func(stage Stage, attempt int, err error)

// DefaultMaxAttempts bounds the protocol-op retry loop. Retries fire only on
// the ambiguous missing-mint-log outcome, never on reverts.
const DefaultMaxAttempts = 3

// Request describes one pipeline invocation. All fields are validated at the
// handler boundary; the pipeline only sees typed values.
type Request struct {
	Protocol string
	Vault    common.Address
	Market   common.Address
	Token    common.Address
	Amount   *big.Int
}

// Result is the discriminated outcome of a run. Err carries the typed error
// classification; Status distinguishes a clean rollback from stranded funds.
type Result struct {
	Status     Status
	Token      common.Address
	Amount     *big.Int
	Shares     *big.Int
	TxHashes   []common.Hash
	RollbackTx *common.Hash
	Attempts   int
	Err        error
}

func (r Result) Success() bool { return r.Status == StatusSucceeded }

// Pipeline orchestrates custody-preserving movements between a user vault
// and external protocols: withdraw, protocol op with bounded retry, then
// either deposit the receipt back or return the original funds.
type Pipeline struct {
	vaults        *vault.Accessor
	adapters      map[string]protocol.Adapter
	locks         *vaultLocks
	journal       *journal.Store
	log           *logrus.Entry
	maxAttempts   int
	expectedAgent common.Address
	progress      ProgressFunc
}

type Config struct {
	Vaults   *vault.Accessor
	Adapters []protocol.Adapter
	Journal  *journal.Store // optional
	Log      *logrus.Entry
	// ExpectedAgent is the agent address vaults were configured with. A
	// signer that resolves to any other address is a deployment
	// misconfiguration, failed fast before any write.
	ExpectedAgent common.Address
	MaxAttempts   int
	Progress      ProgressFunc
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Vaults == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing vault accessor")
	}
	if len(cfg.Adapters) == 0 {
		return nil, clierr.New(clierr.CodeInternal, "missing protocol adapters")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	adapters := make(map[string]protocol.Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Name()] = a
	}
	return &Pipeline{
		vaults:        cfg.Vaults,
		adapters:      adapters,
		locks:         newVaultLocks(),
		journal:       cfg.Journal,
		log:           cfg.Log,
		maxAttempts:   cfg.MaxAttempts,
		expectedAgent: cfg.ExpectedAgent,
		progress:      cfg.Progress,
	}, nil
}

// Deposit runs the full custody pipeline: withdraw req.Amount of req.Token
// from the vault, deposit it at the protocol, and record the minted receipt
// back into the vault. Any failure after funds left the vault triggers a
// rollback transfer of the exact withdrawn amount.
func (p *Pipeline) Deposit(ctx context.Context, req Request) Result {
	adapter, res, ok := p.begin(req)
	if !ok {
		return res
	}
	defer p.locks.release(req.Vault)
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Result{Status: StatusFailed, Err: clierr.New(clierr.CodeUsage, "deposit amount must be positive")}
	}

	entry := journal.NewEntry("deposit", req.Protocol, req.Vault.Hex(), req.Token.Hex(), req.Amount.String())
	p.saveEntry(&entry)

	p.emit(StageAuthorizing, 0, nil)
	if res, ok := p.checkPreconditions(ctx, req); !ok {
		return p.record(&entry, req, res)
	}
	balance, err := p.vaults.Balance(ctx, req.Vault, req.Token)
	if err != nil {
		return p.record(&entry, req, Result{Status: StatusFailed, Err: err})
	}
	if balance.Cmp(req.Amount) < 0 {
		return p.record(&entry, req, Result{Status: StatusFailed, Err: clierr.New(clierr.CodeInsufficientBalance, "vault balance below requested amount")})
	}

	// Funds leave custody here. Every path below must either complete the
	// deposit or move exactly req.Amount back to the vault.
	p.emit(StageWithdrawing, 0, nil)
	withdrawTx, err := p.vaults.Withdraw(ctx, req.Vault, req.Token, req.Amount)
	if err != nil {
		// Vault-side revert: nothing left custody, no rollback needed.
		return p.record(&entry, req, Result{Status: StatusFailed, Err: err})
	}
	txHashes := []common.Hash{withdrawTx}

	var outcome *protocol.DepositOutcome
	var opErr error
	attempts := 0
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attempts = attempt
		p.emit(StageProtocolOp, attempt, opErr)
		outcome, opErr = adapter.Deposit(ctx, req.Market, req.Token, req.Amount)
		if opErr == nil {
			break
		}
		if clierr.CodeOf(opErr) != clierr.CodeAmbiguousResult {
			// Reverted or failed outright: retrying would double-spend.
			break
		}
		p.log.WithFields(logrus.Fields{
			"vault":   req.Vault.Hex(),
			"attempt": attempt,
		}).Warn("protocol deposit outcome ambiguous")
	}
	if opErr != nil {
		res := p.rollback(ctx, req.Vault, req.Token, req.Amount, opErr)
		res.Attempts = attempts
		res.TxHashes = append(txHashes, res.TxHashes...)
		return p.record(&entry, req, res)
	}
	txHashes = append(txHashes, outcome.TxHashes...)

	p.emit(StageDepositing, 0, nil)
	client := p.vaults.Client()
	approveReceipt, err := client.ApproveToken(ctx, outcome.ReceiptToken, req.Vault, outcome.ReceiptAmount)
	if err != nil {
		return p.record(&entry, req, p.strandedReceipt(req, outcome, txHashes, attempts, err))
	}
	txHashes = append(txHashes, approveReceipt.TxHash)
	depositTx, err := p.vaults.Deposit(ctx, req.Vault, outcome.ReceiptToken, outcome.ReceiptAmount)
	if err != nil {
		return p.record(&entry, req, p.strandedReceipt(req, outcome, txHashes, attempts, err))
	}
	txHashes = append(txHashes, depositTx)

	p.log.WithFields(logrus.Fields{
		"vault":          req.Vault.Hex(),
		"protocol":       req.Protocol,
		"receipt_token":  outcome.ReceiptToken.Hex(),
		"receipt_amount": outcome.ReceiptAmount.String(),
		"attempts":       attempts,
	}).Info("custody deposit completed")
	return p.record(&entry, req, Result{
		Status:   StatusSucceeded,
		Token:    outcome.ReceiptToken,
		Amount:   outcome.ReceiptAmount,
		TxHashes: txHashes,
		Attempts: attempts,
	})
}

// WithdrawAll mirrors Deposit: move the vault's full share balance to the
// agent, redeem it at the protocol, and leave the proceeds at the agent
// identity for a separate sweep, matching the withdrawal asymmetry.
func (p *Pipeline) WithdrawAll(ctx context.Context, req Request) Result {
	adapter, res, ok := p.begin(req)
	if !ok {
		return res
	}
	defer p.locks.release(req.Vault)

	entry := journal.NewEntry("withdraw_all", req.Protocol, req.Vault.Hex(), "", "")
	p.saveEntry(&entry)

	p.emit(StageAuthorizing, 0, nil)
	if res, ok := p.checkPreconditions(ctx, req); !ok {
		return p.record(&entry, req, res)
	}
	shareToken, err := adapter.ShareToken(ctx, req.Market)
	if err != nil {
		return p.record(&entry, req, Result{Status: StatusFailed, Err: err})
	}
	shares, err := p.vaults.Balance(ctx, req.Vault, shareToken)
	if err != nil {
		return p.record(&entry, req, Result{Status: StatusFailed, Err: err})
	}
	if shares.Sign() == 0 {
		return p.record(&entry, req, Result{Status: StatusFailed, Err: clierr.New(clierr.CodeNoPosition, "no shares to withdraw")})
	}
	entry.Token = shareToken.Hex()
	entry.Amount = shares.String()

	p.emit(StageWithdrawing, 0, nil)
	withdrawTx, err := p.vaults.Withdraw(ctx, req.Vault, shareToken, shares)
	if err != nil {
		return p.record(&entry, req, Result{Status: StatusFailed, Err: err})
	}
	txHashes := []common.Hash{withdrawTx}

	p.emit(StageProtocolOp, 1, nil)
	outcome, err := adapter.Redeem(ctx, req.Market, shares)
	if err != nil {
		res := p.rollback(ctx, req.Vault, shareToken, shares, err)
		res.TxHashes = append(txHashes, res.TxHashes...)
		return p.record(&entry, req, res)
	}
	txHashes = append(txHashes, outcome.TxHashes...)

	p.log.WithFields(logrus.Fields{
		"vault":    req.Vault.Hex(),
		"protocol": req.Protocol,
		"shares":   shares.String(),
		"amount":   outcome.Amount.String(),
	}).Info("custody withdrawal completed")
	return p.record(&entry, req, Result{
		Status:   StatusSucceeded,
		Token:    outcome.Token,
		Amount:   outcome.Amount,
		Shares:   shares,
		TxHashes: txHashes,
		Attempts: 1,
	})
}

// begin resolves the adapter and takes the per-vault lock.
func (p *Pipeline) begin(req Request) (protocol.Adapter, Result, bool) {
	adapter, ok := p.adapters[req.Protocol]
	if !ok {
		return nil, Result{Status: StatusFailed, Err: clierr.New(clierr.CodeUnsupported, "unknown protocol: "+req.Protocol)}, false
	}
	if !p.locks.acquire(req.Vault) {
		return nil, Result{Status: StatusFailed, Err: clierr.New(clierr.CodeVaultBusy, "another operation is running against this vault")}, false
	}
	return adapter, Result{}, true
}

// checkPreconditions verifies the agent identity before any write: the
// configured signer must be authorized on the vault. Failures here perform
// zero chain writes.
func (p *Pipeline) checkPreconditions(ctx context.Context, req Request) (Result, bool) {
	sender := p.vaults.Client().Sender()
	if p.expectedAgent != (common.Address{}) && sender != p.expectedAgent {
		return Result{Status: StatusFailed, Err: clierr.New(clierr.CodeSignerMismatch,
			"configured signer "+sender.Hex()+" does not match expected agent "+p.expectedAgent.Hex())}, false
	}
	authorized, err := p.vaults.IsAuthorized(ctx, req.Vault)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}, false
	}
	if !authorized {
		return Result{Status: StatusFailed, Err: clierr.New(clierr.CodeNotAuthorized, "agent is not authorized on this vault")}, false
	}
	return Result{}, true
}

// rollback returns exactly amount of token to the vault via a plain ERC-20
// transfer. A failed rollback means funds are stranded at the agent
// identity: that is the one condition that must page an operator, so it is
// surfaced as a distinct critical status and never merged with ordinary
// failure.
func (p *Pipeline) rollback(ctx context.Context, vaultAddr, token common.Address, amount *big.Int, cause error) Result {
	p.emit(StageRollingBack, 0, cause)
	receipt, err := p.vaults.Client().TransferToken(ctx, token, vaultAddr, amount)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"vault":  vaultAddr.Hex(),
			"token":  token.Hex(),
			"amount": amount.String(),
			"cause":  cause.Error(),
			"alert":  "funds_stranded",
		}).Error("rollback transfer failed; funds stranded at agent identity")
		return Result{
			Status: StatusCritical,
			Err:    clierr.Wrap(clierr.CodeCritical, "rollback transfer failed; funds require manual intervention", cause),
		}
	}
	rollbackTx := receipt.TxHash
	p.log.WithFields(logrus.Fields{
		"vault":       vaultAddr.Hex(),
		"token":       token.Hex(),
		"amount":      amount.String(),
		"rollback_tx": rollbackTx.Hex(),
	}).Warn("operation failed; funds returned to vault")
	return Result{
		Status:     StatusRolledBack,
		RollbackTx: &rollbackTx,
		Err:        clierr.Wrap(clierr.CodeRollback, "operation failed; funds were returned to the vault", cause),
	}
}

// strandedReceipt classifies a failure after the protocol deposit succeeded
// but before the receipt token was recorded back into the vault. The user
// no longer holds the original funds, so this escalates like a failed
// rollback rather than degrading to an ordinary failure.
func (p *Pipeline) strandedReceipt(req Request, outcome *protocol.DepositOutcome, txHashes []common.Hash, attempts int, cause error) Result {
	p.log.WithFields(logrus.Fields{
		"vault":          req.Vault.Hex(),
		"receipt_token":  outcome.ReceiptToken.Hex(),
		"receipt_amount": outcome.ReceiptAmount.String(),
		"cause":          cause.Error(),
		"alert":          "funds_stranded",
	}).Error("vault deposit of receipt token failed; receipt stranded at agent identity")
	return Result{
		Status:   StatusCritical,
		Token:    outcome.ReceiptToken,
		Amount:   outcome.ReceiptAmount,
		TxHashes: txHashes,
		Attempts: attempts,
		Err:      clierr.Wrap(clierr.CodeCritical, "receipt tokens stranded at agent identity; funds require manual intervention", cause),
	}
}

func (p *Pipeline) emit(stage Stage, attempt int, err error) {
	if p.progress != nil {
		p.progress(stage, attempt, err)
	}
}

func (p *Pipeline) saveEntry(entry *journal.Entry) {
	if p.journal != nil {
		_ = p.journal.Save(*entry)
	}
}

// record finalizes the audit entry for a finished run. Journal writes are
// best effort; the chain is the source of truth.
func (p *Pipeline) record(entry *journal.Entry, req Request, res Result) Result {
	if p.journal == nil {
		return res
	}
	entry.Status = string(res.Status)
	if res.Err != nil {
		entry.ErrorType = clierr.TypeName(clierr.CodeOf(res.Err))
		entry.ErrorMessage = res.Err.Error()
	}
	for _, h := range res.TxHashes {
		entry.TxHashes = append(entry.TxHashes, h.Hex())
	}
	if res.RollbackTx != nil {
		entry.RollbackTx = res.RollbackTx.Hex()
	}
	entry.Touch()
	_ = p.journal.Save(*entry)
	return res
}
