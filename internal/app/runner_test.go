package app

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain/signer"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/config"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/pipeline"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/registry"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/version"
)

// Well-known throwaway key; never funded on any network.
const testAgentKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// nullBackend answers every read with zeroed 32-byte words and rejects
// writes, enough for resolve-style commands that never broadcast.
type nullBackend struct{}

func (nullBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(146), nil }

func (nullBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return make([]byte, 32), nil
}

func (nullBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, ethereum.NotFound
}

func (nullBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (nullBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1)}, nil
}

func (nullBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (nullBackend) SendTransaction(context.Context, *types.Transaction) error {
	return ethereum.NotFound
}

func (nullBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return runCLIWithBackend(t, nullBackend{}, args...)
}

func runCLIWithBackend(t *testing.T, backend chain.Backend, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	runner := NewRunnerWithWriters(&stdout, &stderr)
	runner.dialBackend = func(context.Context, string) (chain.Backend, error) {
		return backend, nil
	}
	runner.newSigner = func() (signer.Signer, error) {
		return signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyHex: testAgentKey})
	}

	missing := filepath.Join(t.TempDir(), "config.yaml")
	cacheDir := t.TempDir()
	full := append([]string{}, args...)
	full = append(full, "--config", missing)
	t.Setenv("XDG_CACHE_HOME", cacheDir)

	code := runner.Run(full)
	return code, stdout.String(), stderr.String()
}

func decodeEnvelope(t *testing.T, raw string) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, raw)
	}
	return env
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if strings.TrimSpace(stdout) != version.CLIVersion {
		t.Fatalf("stdout = %q, want version", stdout)
	}
}

func TestVersionLongCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version", "--long")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "commit:") {
		t.Fatalf("stdout = %q, want build metadata", stdout)
	}
}

func TestSchemaCommandMarksDepositAsFundMoving(t *testing.T) {
	code, stdout, stderr := runCLI(t, "schema", "deposit")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}
	env := decodeEnvelope(t, stdout)
	if env["success"] != true {
		t.Fatalf("envelope success = %v, want true", env["success"])
	}
	data, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("envelope data = %T, want object", env["data"])
	}
	if data["moves_funds"] != true {
		t.Fatalf("schema moves_funds = %v, want true for deposit", data["moves_funds"])
	}
}

func TestReadOnlyBlocksDeposit(t *testing.T) {
	code, _, stderr := runCLI(t,
		"deposit", "--read-only",
		"--vault", "0x00000000000000000000000000000000000000b1",
		"--market", "0x00000000000000000000000000000000000000c1",
		"--token", "wS",
		"--amount", "1",
	)
	if code != 21 {
		t.Fatalf("exit code = %d, want 21\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stderr, `"type": "not_authorized"`) {
		t.Fatalf("stderr = %q, want not_authorized envelope", stderr)
	}
}

func TestReadOnlyStillAllowsReads(t *testing.T) {
	code, stdout, stderr := runCLI(t, "schema", "--read-only")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"success": true`) {
		t.Fatalf("stdout = %q, want success envelope", stdout)
	}
}

func TestAllowlistBlocksUnlistedCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "version", "--enable-commands", "schema")
	if code != 21 {
		t.Fatalf("exit code = %d, want 21\nstderr: %s", code, stderr)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, _ := runCLI(t, "version", "--bogus")
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestDepositMissingRequiredFlagsIsUsageError(t *testing.T) {
	code, _, _ := runCLI(t, "deposit")
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestVaultShowWithoutVault(t *testing.T) {
	code, _, stderr := runCLI(t,
		"vault", "show",
		"--wallet", "0x00000000000000000000000000000000000000a1",
		"--vault-factory", "0x00000000000000000000000000000000000000fa",
		"--rpc-url", "http://localhost:0",
	)
	if code != 26 {
		t.Fatalf("exit code = %d, want 26\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stderr, `"type": "no_position"`) {
		t.Fatalf("stderr = %q, want no_position envelope", stderr)
	}
}

var testSiloABI = chain.MustParseABI(registry.SiloABI)

// siloReadBackend answers position reads for one silo market; every other
// contract read yields a zeroed word, so the staking contract reports no
// shares.
type siloReadBackend struct {
	nullBackend
	market  common.Address
	asset   common.Address
	shares  *big.Int
	preview *big.Int
}

func (b siloReadBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || *msg.To != b.market || len(msg.Data) < 4 {
		return make([]byte, 32), nil
	}
	erc20 := chain.ERC20ABI()
	switch string(msg.Data[:4]) {
	case string(erc20.Methods["balanceOf"].ID):
		return erc20.Methods["balanceOf"].Outputs.Pack(b.shares)
	case string(testSiloABI.Methods["asset"].ID):
		return testSiloABI.Methods["asset"].Outputs.Pack(b.asset)
	case string(testSiloABI.Methods["previewRedeem"].ID):
		return testSiloABI.Methods["previewRedeem"].Outputs.Pack(b.preview)
	default:
		return make([]byte, 32), nil
	}
}

func TestPositionsRendersUnderlyingWithTokenDecimals(t *testing.T) {
	usdce := common.HexToAddress("0x29219dd400f2Bf60E5a23d13Be72B486D4038894")
	market := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	backend := siloReadBackend{
		market:  market,
		asset:   usdce,
		shares:  big.NewInt(500),
		preview: big.NewInt(1_500_000),
	}

	code, stdout, stderr := runCLIWithBackend(t, backend,
		"positions",
		"--vault", "0x00000000000000000000000000000000000000b1",
		"--market", market.Hex(),
		"--vault-factory", "0x00000000000000000000000000000000000000fa",
		"--rpc-url", "http://localhost:0",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}
	env := decodeEnvelope(t, stdout)
	rows, ok := env["data"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("envelope data = %v, want one position", env["data"])
	}
	row, ok := rows[0].(map[string]any)
	if !ok || row["protocol"] != "silo" {
		t.Fatalf("position = %v, want silo row", rows[0])
	}
	// USDC.e has 6 decimals in the registry; 1500000 base units is 1.5.
	if row["underlying"] != "1.5" {
		t.Fatalf("underlying = %v, want 1.5", row["underlying"])
	}
	if row["underlying_base_units"] != "1500000" {
		t.Fatalf("underlying_base_units = %v, want 1500000", row["underlying_base_units"])
	}
}

func TestTokenDecimalsResolution(t *testing.T) {
	s := &runtimeState{settings: config.Settings{ChainID: 146}}
	usdce := common.HexToAddress("0x29219dd400f2Bf60E5a23d13Be72B486D4038894")
	if d := s.tokenDecimals(context.Background(), usdce); d != 6 {
		t.Fatalf("tokenDecimals(USDC.e) = %d, want 6 from registry", d)
	}
	if d := s.tokenDecimals(context.Background(), common.Address{}); d != 18 {
		t.Fatalf("tokenDecimals(zero) = %d, want 18", d)
	}
	unknown := common.HexToAddress("0x0000000000000000000000000000000000009999")
	if d := s.tokenDecimals(context.Background(), unknown); d != 18 {
		t.Fatalf("tokenDecimals(unknown, no client) = %d, want 18 fallback", d)
	}
}

func TestCustodyReportSixDecimalRedemption(t *testing.T) {
	usdce := common.HexToAddress("0x29219dd400f2Bf60E5a23d13Be72B486D4038894")
	vaultAddr := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	result := pipeline.Result{
		Status: pipeline.StatusSucceeded,
		Token:  usdce,
		Amount: big.NewInt(1_500_000),
		Shares: big.NewInt(500),
	}
	report := custodyReport("silo", vaultAddr, "", result, 6)
	if report.Amount != "1.5" {
		t.Fatalf("Amount = %q, want 1.5 for a 6-decimal token", report.Amount)
	}
	if report.AmountBase != "1500000" {
		t.Fatalf("AmountBase = %q, want 1500000", report.AmountBase)
	}
}

func TestUnknownTokenIsUsageError(t *testing.T) {
	code, _, stderr := runCLI(t,
		"deposit",
		"--vault", "0x00000000000000000000000000000000000000b1",
		"--market", "0x00000000000000000000000000000000000000c1",
		"--token", "DOGE",
		"--amount", "1",
	)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2\nstderr: %s", code, stderr)
	}
}
