package app

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/id"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/metastore"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/registry"
)

func (s *runtimeState) registryTokens() []registry.Token {
	return registry.Tokens(s.settings.ChainID)
}

func (s *runtimeState) newVaultCommand() *cobra.Command {
	root := &cobra.Command{Use: "vault", Short: "Vault lifecycle commands"}
	root.AddCommand(s.newVaultCreateCommand())
	root.AddCommand(s.newVaultShowCommand())
	root.AddCommand(s.newVaultBalanceCommand())
	return root
}

func (s *runtimeState) newVaultCreateCommand() *cobra.Command {
	var walletArg, userID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a vault for a wallet (no-op if one exists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(walletArg, "wallet address")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			if err := s.ensureChain(ctx); err != nil {
				return err
			}
			if err := s.ensureMetastore(); err != nil {
				return err
			}

			result, err := s.vaults.Create(ctx, owner)
			if err != nil {
				return err
			}
			info := model.VaultInfo{
				VaultAddress:  result.Vault.Hex(),
				WalletAddress: owner.Hex(),
				AgentAddress:  s.client.Sender().Hex(),
				Created:       result.Created,
			}
			if result.Created {
				info.TxHash = result.TxHash.Hex()
			}
			if err := s.meta.Record(metastore.Record{
				WalletAddress:   owner.Hex(),
				VaultAddress:    result.Vault.Hex(),
				UserID:          userID,
				TransactionHash: info.TxHash,
			}); err != nil {
				s.log.WithError(err).Warn("record vault metadata")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info, nil)
		},
	}
	cmd.Flags().StringVar(&walletArg, "wallet", "", "Owner wallet address")
	cmd.Flags().StringVar(&userID, "user-id", "", "Opaque user identifier stored with the vault record")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func (s *runtimeState) newVaultShowCommand() *cobra.Command {
	var walletArg string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Resolve the vault for a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(walletArg, "wallet address")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			if err := s.ensureChain(ctx); err != nil {
				return err
			}
			vaultAddr, err := s.vaults.Resolve(ctx, owner)
			if err != nil {
				return err
			}
			if vaultAddr == (common.Address{}) {
				return clierr.New(clierr.CodeNoPosition, "no vault exists for wallet "+owner.Hex())
			}
			info := model.VaultInfo{
				VaultAddress:  vaultAddr.Hex(),
				WalletAddress: owner.Hex(),
				AgentAddress:  s.client.Sender().Hex(),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info, nil)
		},
	}
	cmd.Flags().StringVar(&walletArg, "wallet", "", "Owner wallet address")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func (s *runtimeState) newVaultBalanceCommand() *cobra.Command {
	var vaultArg, tokenArg string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Read a vault's token balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			vaultAddr, err := parseAddress(vaultArg, "vault address")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			if err := s.ensureChain(ctx); err != nil {
				return err
			}

			refs := s.balanceTokenRefs(tokenArg)
			if len(refs) == 0 {
				return clierr.New(clierr.CodeUsage, "--token is required on chains without a token registry")
			}
			balances := make([]model.VaultBalance, 0, len(refs))
			for _, ref := range refs {
				token, decimals, symbol, err := s.resolveTokenArg(ref, 18)
				if err != nil {
					return err
				}
				amount, err := s.vaults.Balance(ctx, vaultAddr, token)
				if err != nil {
					return err
				}
				balances = append(balances, model.VaultBalance{
					VaultAddress: vaultAddr.Hex(),
					Token:        token.Hex(),
					Symbol:       symbol,
					Amount:       id.FromBaseUnits(amount, decimals),
					AmountBase:   amount.String(),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), balances, nil)
		},
	}
	cmd.Flags().StringVar(&vaultArg, "vault", "", "Vault address")
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token symbol or address (default: all registry tokens)")
	_ = cmd.MarkFlagRequired("vault")
	return cmd
}

// balanceTokenRefs returns the explicit token if given, otherwise every
// registry token on the configured chain.
func (s *runtimeState) balanceTokenRefs(tokenArg string) []string {
	if strings.TrimSpace(tokenArg) != "" {
		return []string{tokenArg}
	}
	refs := []string{}
	for _, t := range s.registryTokens() {
		refs = append(refs, t.Symbol)
	}
	return refs
}
