package app

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/id"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/pipeline"
)

func (s *runtimeState) newDepositCommand() *cobra.Command {
	var vaultArg, marketArg, tokenArg, amountArg, amountBaseArg string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Move vault funds into a Silo lending market",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runCustodyDeposit(cmd, "silo", vaultArg, marketArg, tokenArg, amountArg, amountBaseArg)
		},
	}
	cmd.Flags().StringVar(&vaultArg, "vault", "", "Vault address")
	cmd.Flags().StringVar(&marketArg, "market", "", "Silo market (ERC-4626 vault) address")
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token symbol or address")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Decimal amount (e.g. 1.5)")
	cmd.Flags().StringVar(&amountBaseArg, "amount-base", "", "Amount in integer base units")
	_ = cmd.MarkFlagRequired("vault")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (s *runtimeState) newStakeCommand() *cobra.Command {
	var vaultArg, amountArg, amountBaseArg string
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Stake vault wS through the liquid staking protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.contracts.Staking == "" {
				return clierr.New(clierr.CodeUsage, "staking contract is not configured for this chain")
			}
			return s.runCustodyDeposit(cmd, "lst", vaultArg, s.contracts.Staking, s.contracts.WrappedNative, amountArg, amountBaseArg)
		},
	}
	cmd.Flags().StringVar(&vaultArg, "vault", "", "Vault address")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Decimal wS amount")
	cmd.Flags().StringVar(&amountBaseArg, "amount-base", "", "Amount in integer base units")
	_ = cmd.MarkFlagRequired("vault")
	return cmd
}

func (s *runtimeState) newUnstakeCommand() *cobra.Command {
	var vaultArg string
	cmd := &cobra.Command{
		Use:   "unstake",
		Short: "Undelegate the vault's full staked position",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.contracts.Staking == "" {
				return clierr.New(clierr.CodeUsage, "staking contract is not configured for this chain")
			}
			return s.runCustodyWithdrawAll(cmd, "lst", vaultArg, s.contracts.Staking)
		},
	}
	cmd.Flags().StringVar(&vaultArg, "vault", "", "Vault address")
	_ = cmd.MarkFlagRequired("vault")
	return cmd
}

func (s *runtimeState) newWithdrawAllCommand() *cobra.Command {
	var vaultArg, marketArg string
	cmd := &cobra.Command{
		Use:   "withdraw-all",
		Short: "Redeem the vault's full Silo market position",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runCustodyWithdrawAll(cmd, "silo", vaultArg, marketArg)
		},
	}
	cmd.Flags().StringVar(&vaultArg, "vault", "", "Vault address")
	cmd.Flags().StringVar(&marketArg, "market", "", "Silo market (ERC-4626 vault) address")
	_ = cmd.MarkFlagRequired("vault")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func (s *runtimeState) runCustodyDeposit(cmd *cobra.Command, protocolName, vaultArg, marketArg, tokenArg, amountArg, amountBaseArg string) error {
	vaultAddr, err := parseAddress(vaultArg, "vault address")
	if err != nil {
		return err
	}
	market, err := parseAddress(marketArg, "market address")
	if err != nil {
		return err
	}
	token, decimals, _, err := s.resolveTokenArg(tokenArg, 18)
	if err != nil {
		return err
	}
	amount, display, err := id.NormalizeAmount(amountBaseArg, amountArg, decimals)
	if err != nil {
		return err
	}

	ctx, cancel := s.commandContext()
	defer cancel()
	if err := s.ensurePipeline(ctx); err != nil {
		return err
	}

	result := s.custody.Deposit(ctx, pipeline.Request{
		Protocol: protocolName,
		Vault:    vaultAddr,
		Market:   market,
		Token:    token,
		Amount:   amount,
	})
	return s.emitCustodyResult(cmd, protocolName, vaultAddr, display, result, decimals)
}

func (s *runtimeState) runCustodyWithdrawAll(cmd *cobra.Command, protocolName, vaultArg, marketArg string) error {
	vaultAddr, err := parseAddress(vaultArg, "vault address")
	if err != nil {
		return err
	}
	market, err := parseAddress(marketArg, "market address")
	if err != nil {
		return err
	}

	ctx, cancel := s.commandContext()
	defer cancel()
	if err := s.ensurePipeline(ctx); err != nil {
		return err
	}

	result := s.custody.WithdrawAll(ctx, pipeline.Request{
		Protocol: protocolName,
		Vault:    vaultAddr,
		Market:   market,
	})
	// The redeemed token is only known from the outcome; resolve its
	// decimals for the display amount.
	return s.emitCustodyResult(cmd, protocolName, vaultAddr, "", result, s.tokenDecimals(ctx, result.Token))
}

// emitCustodyResult renders a pipeline outcome. Failed and rolled-back runs
// surface through the error path; critical outcomes additionally carry the
// manual-intervention marking that renderers must keep distinct.
func (s *runtimeState) emitCustodyResult(cmd *cobra.Command, protocolName string, vaultAddr common.Address, requested string, result pipeline.Result, decimals int) error {
	report := custodyReport(protocolName, vaultAddr, requested, result, decimals)
	if result.Success() {
		return s.emitSuccess(trimRootPath(cmd.CommandPath()), report, nil)
	}
	logFields := map[string]any{
		"status":   string(result.Status),
		"vault":    vaultAddr.Hex(),
		"protocol": protocolName,
	}
	if result.Status == pipeline.StatusCritical {
		logFields["alert"] = "funds_stranded"
	}
	s.log.WithFields(logFields).Error("custody operation failed")
	s.lastReport = &report
	return result.Err
}

func custodyReport(protocolName string, vaultAddr common.Address, requested string, result pipeline.Result, decimals int) model.CustodyReport {
	report := model.CustodyReport{
		Status:       string(result.Status),
		Protocol:     protocolName,
		VaultAddress: vaultAddr.Hex(),
		Amount:       requested,
		Attempts:     result.Attempts,
		FundsSafe:    result.Status == pipeline.StatusSucceeded || result.Status == pipeline.StatusRolledBack,
		ManualAction: result.Status == pipeline.StatusCritical,
	}
	if result.Token != (common.Address{}) {
		report.Token = result.Token.Hex()
	}
	if result.Amount != nil {
		report.AmountBase = result.Amount.String()
		if requested == "" {
			report.Amount = id.FromBaseUnits(result.Amount, decimals)
		}
	}
	if result.Shares != nil && result.Shares.Sign() > 0 {
		report.Shares = result.Shares.String()
	}
	for _, h := range result.TxHashes {
		report.TxHashes = append(report.TxHashes, h.Hex())
	}
	if result.RollbackTx != nil {
		report.RollbackTx = result.RollbackTx.Hex()
	}
	if result.Err != nil {
		report.FailureCause = result.Err.Error()
	}
	switch result.Status {
	case pipeline.StatusSucceeded:
		report.StatusMessage = "operation completed"
	case pipeline.StatusRolledBack:
		report.StatusMessage = "operation failed; funds returned to the vault"
	case pipeline.StatusCritical:
		report.StatusMessage = "operation failed and funds are outside the vault; manual intervention required"
	default:
		report.StatusMessage = "operation failed before funds left the vault"
	}
	return report
}
