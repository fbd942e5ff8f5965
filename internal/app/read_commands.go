package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/id"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
)

const yieldsCacheTTL = 5 * time.Minute

// Default DefiLlama project slugs for the protocols the pipeline integrates.
var defaultYieldProjects = []string{"silo-v2", "beets-staked-sonic"}

func (s *runtimeState) newPositionsCommand() *cobra.Command {
	var vaultArg, marketArg string
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Read a vault's protocol positions",
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
			adapters, err := s.buildAdapters()
			if err != nil {
				return err
			}

			type probe struct {
				name   string
				market common.Address
			}
			probes := []probe{}
			if marketArg != "" {
				market, err := parseAddress(marketArg, "market address")
				if err != nil {
					return err
				}
				probes = append(probes, probe{name: "silo", market: market})
			}
			if s.contracts.Staking != "" {
				staking, err := parseAddress(s.contracts.Staking, "staking contract")
				if err != nil {
					return err
				}
				probes = append(probes, probe{name: "lst", market: staking})
			}
			if len(probes) == 0 {
				return clierr.New(clierr.CodeUsage, "--market is required when no staking contract is configured")
			}

			reports := []model.PositionReport{}
			for _, p := range probes {
				adapter, ok := adapters[p.name]
				if !ok {
					continue
				}
				position, err := adapter.PositionOf(ctx, p.market, vaultAddr)
				if err != nil {
					return err
				}
				if position.Shares.Sign() == 0 {
					continue
				}
				decimals := s.tokenDecimals(ctx, position.UnderlyingToken)
				reports = append(reports, model.PositionReport{
					Protocol:       p.name,
					VaultAddress:   vaultAddr.Hex(),
					Market:         p.market.Hex(),
					ShareToken:     position.ShareToken.Hex(),
					Shares:         position.Shares.String(),
					Underlying:     id.FromBaseUnits(position.UnderlyingAmount, decimals),
					UnderlyingBase: position.UnderlyingAmount.String(),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), reports, nil)
		},
	}
	cmd.Flags().StringVar(&vaultArg, "vault", "", "Vault address")
	cmd.Flags().StringVar(&marketArg, "market", "", "Silo market to probe (optional)")
	_ = cmd.MarkFlagRequired("vault")
	return cmd
}

func (s *runtimeState) newYieldsCommand() *cobra.Command {
	var chainName string
	var projectsArg []string
	var limit int
	cmd := &cobra.Command{
		Use:   "yields",
		Short: "List yield opportunities for the integrated protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureYields(); err != nil {
				return err
			}
			projects := projectsArg
			if len(projects) == 0 {
				projects = defaultYieldProjects
			}
			key := yieldsCacheKey(chainName, projects, limit)
			warnings := []string{}

			if s.cache != nil {
				cached, err := s.cache.Get(key, 0)
				if err == nil && cached.Hit && !cached.Stale {
					var data []model.YieldOpportunity
					if err := json.Unmarshal(cached.Value, &data); err == nil {
						return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings)
					}
				}
			}

			ctx, cancel := s.commandContext()
			defer cancel()
			data, err := s.yields.Opportunities(ctx, chainName, projects, limit)
			if err != nil {
				return err
			}
			if s.cache != nil {
				if payload, err := json.Marshal(data); err == nil {
					_ = s.cache.Set(key, payload, yieldsCacheTTL)
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings)
		},
	}
	cmd.Flags().StringVar(&chainName, "chain", "Sonic", "Chain name as reported by the yield provider")
	cmd.Flags().StringSliceVar(&projectsArg, "projects", nil, "Project slugs to include")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum opportunities to return")
	return cmd
}

func (s *runtimeState) newRunsCommand() *cobra.Command {
	root := &cobra.Command{Use: "runs", Short: "Custody run audit log"}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded custody runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureJournal(); err != nil {
				return err
			}
			entries, err := s.journal.List(status, limit)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entries, nil)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by run status")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to return")

	var runID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show one custody run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return clierr.New(clierr.CodeUsage, "--id is required")
			}
			if err := s.ensureJournal(); err != nil {
				return err
			}
			entry, err := s.journal.Get(runID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entry, nil)
		},
	}
	show.Flags().StringVar(&runID, "id", "", "Run identifier")

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func yieldsCacheKey(chain string, projects []string, limit int) string {
	req := map[string]any{"chain": chain, "projects": projects, "limit": limit}
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte("yields|"), buf...))
	return hex.EncodeToString(sum[:])
}
