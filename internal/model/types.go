package model

import "time"

const EnvelopeVersion = "v1"

// Envelope is the discriminated result rendered at the handler boundary.
// Handlers never panic or throw across it; callers branch on Success and
// Error.Type.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	// Critical marks stranded-funds outcomes that require manual
	// intervention; renderers must not fold these into generic failures.
	Critical bool `json:"critical,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

// VaultInfo reports an idempotent vault resolution or creation.
type VaultInfo struct {
	VaultAddress  string `json:"vault_address"`
	WalletAddress string `json:"wallet_address"`
	AgentAddress  string `json:"agent_address"`
	Created       bool   `json:"created"`
	TxHash        string `json:"tx_hash,omitempty"`
}

// VaultBalance is one token balance held by a vault.
type VaultBalance struct {
	VaultAddress string `json:"vault_address"`
	Token        string `json:"token"`
	Symbol       string `json:"symbol,omitempty"`
	Amount       string `json:"amount"`
	AmountBase   string `json:"amount_base_units"`
}

// CustodyReport is the rendered outcome of one custody pipeline run.
type CustodyReport struct {
	Status        string   `json:"status"`
	Protocol      string   `json:"protocol"`
	VaultAddress  string   `json:"vault_address"`
	Token         string   `json:"token,omitempty"`
	Amount        string   `json:"amount,omitempty"`
	AmountBase    string   `json:"amount_base_units,omitempty"`
	Shares        string   `json:"shares,omitempty"`
	Attempts      int      `json:"attempts,omitempty"`
	TxHashes      []string `json:"tx_hashes,omitempty"`
	RollbackTx    string   `json:"rollback_tx,omitempty"`
	FailureCause  string   `json:"failure_cause,omitempty"`
	FundsSafe     bool     `json:"funds_safe"`
	ManualAction  bool     `json:"manual_action_required"`
	StatusMessage string   `json:"message,omitempty"`
}

// PositionReport projects a vault's holding in one protocol.
type PositionReport struct {
	Protocol       string `json:"protocol"`
	VaultAddress   string `json:"vault_address"`
	Market         string `json:"market"`
	ShareToken     string `json:"share_token"`
	Shares         string `json:"shares"`
	Underlying     string `json:"underlying"`
	UnderlyingBase string `json:"underlying_base_units"`
}

// YieldOpportunity is one row of the read-only yield listing.
type YieldOpportunity struct {
	Protocol  string  `json:"protocol"`
	Chain     string  `json:"chain"`
	Symbol    string  `json:"symbol"`
	PoolID    string  `json:"pool_id"`
	APY       float64 `json:"apy"`
	TVLUSD    float64 `json:"tvl_usd"`
	FetchedAt string  `json:"fetched_at"`
}
