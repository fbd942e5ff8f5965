package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/cache"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/chain/signer"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/config"
	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/httpx"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/journal"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/metastore"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/out"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/pipeline"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/policy"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/protocol"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/protocol/lst"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/protocol/silo"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/registry"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/schema"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/vault"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/version"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/yields"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// dialBackend is swapped in tests to avoid real RPC connections.
	dialBackend func(ctx context.Context, rpcURL string) (chain.Backend, error)
	// newSigner is swapped in tests to inject a deterministic key.
	newSigner func() (signer.Signer, error)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dialBackend: func(ctx context.Context, rpcURL string) (chain.Backend, error) {
			return chain.Dial(ctx, rpcURL)
		},
		newSigner: func() (signer.Signer, error) {
			return signer.NewLocalSignerFromEnv("")
		},
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         *logrus.Entry
	root        *cobra.Command
	lastCommand string
	// lastReport carries the custody outcome into the error envelope so a
	// rolled-back or critical run still reports its transaction hashes.
	lastReport *model.CustodyReport

	client    *chain.Client
	vaults    *vault.Accessor
	adapters  map[string]protocol.Adapter
	custody   *pipeline.Pipeline
	meta      *metastore.Store
	journal   *journal.Store
	cache     *cache.Store
	yields    *yields.Client
	contracts registry.Contracts
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.closeStores()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Vault-custody agent CLI for Sonic DeFi protocols",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			s.log = newLogger(s.runner.stderr, settings.LogLevel)

			if err := policy.CheckCommandAllowed(settings.EnableCommands, settings.ReadOnly, s.lastCommand); err != nil {
				return err
			}

			if contracts, ok := registry.ContractsFor(settings.ChainID); ok {
				s.contracts = contracts
			}
			if settings.VaultFactory != "" {
				s.contracts.VaultFactory = settings.VaultFactory
			}
			if settings.Staking != "" {
				s.contracts.Staking = settings.Staking
			}
			if settings.WrappedNative != "" {
				s.contracts.WrappedNative = settings.WrappedNative
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Chain RPC endpoint")
	cmd.PersistentFlags().Int64Var(&s.flags.ChainID, "chain-id", 0, "EVM chain id (default 146)")
	cmd.PersistentFlags().StringVar(&s.flags.VaultFactory, "vault-factory", "", "Vault factory contract address")
	cmd.PersistentFlags().StringVar(&s.flags.AgentAddress, "agent-address", "", "Agent address vaults were configured with")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Overall command timeout")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the yields cache")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ReadOnly, "read-only", false, "Block every fund-moving command")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newVaultCommand())
	cmd.AddCommand(s.newDepositCommand())
	cmd.AddCommand(s.newStakeCommand())
	cmd.AddCommand(s.newUnstakeCommand())
	cmd.AddCommand(s.newWithdrawAllCommand())
	cmd.AddCommand(s.newPositionsCommand())
	cmd.AddCommand(s.newYieldsCommand())
	cmd.AddCommand(s.newRunsCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func newLogger(w io.Writer, level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.WarnLevel
	}
	logger.SetLevel(parsed)
	return logrus.NewEntry(logger)
}

// ensureChain dials the RPC endpoint, loads the signer, and builds the write
// client. Read-only commands that never reach a custody operation skip it.
func (s *runtimeState) ensureChain(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return err
	}
	backend, err := s.runner.dialBackend(ctx, rpcURL)
	if err != nil {
		return err
	}
	txSigner, err := s.runner.newSigner()
	if err != nil {
		return err
	}
	opts := chain.DefaultOptions()
	opts.PollInterval = s.settings.PollInterval
	opts.ReceiptTimeout = s.settings.ReceiptTimeout
	client, err := chain.NewClient(backend, txSigner, opts, s.log)
	if err != nil {
		return err
	}
	s.client = client
	if s.contracts.VaultFactory == "" {
		return clierr.New(clierr.CodeUsage, "vault factory address is not configured")
	}
	factory, err := parseAddress(s.contracts.VaultFactory, "vault factory")
	if err != nil {
		return err
	}
	s.vaults = vault.NewAccessor(client, factory, s.log)
	return nil
}

func (s *runtimeState) ensurePipeline(ctx context.Context) error {
	if s.custody != nil {
		return nil
	}
	if err := s.ensureChain(ctx); err != nil {
		return err
	}
	if err := s.ensureJournal(); err != nil {
		return err
	}
	adapters, err := s.buildAdapters()
	if err != nil {
		return err
	}
	var expectedAgent common.Address
	if s.settings.AgentAddress != "" {
		expectedAgent, err = parseAddress(s.settings.AgentAddress, "agent address")
		if err != nil {
			return err
		}
	}
	custody, err := pipeline.New(pipeline.Config{
		Vaults:        s.vaults,
		Adapters:      adapterList(adapters),
		Journal:       s.journal,
		Log:           s.log,
		ExpectedAgent: expectedAgent,
		MaxAttempts:   s.settings.MaxAttempts,
		Progress: func(stage pipeline.Stage, attempt int, err error) {
			fields := logrus.Fields{"stage": string(stage)}
			if attempt > 0 {
				fields["attempt"] = attempt
			}
			if err != nil {
				s.log.WithFields(fields).WithError(err).Warn("custody stage retrying")
				return
			}
			s.log.WithFields(fields).Debug("custody stage")
		},
	})
	if err != nil {
		return err
	}
	s.custody = custody
	return nil
}

func (s *runtimeState) buildAdapters() (map[string]protocol.Adapter, error) {
	if s.adapters != nil {
		return s.adapters, nil
	}
	adapters := map[string]protocol.Adapter{}
	siloAdapter := silo.New(s.client, s.log)
	adapters[siloAdapter.Name()] = siloAdapter
	if s.contracts.WrappedNative != "" {
		wrapped, err := parseAddress(s.contracts.WrappedNative, "wrapped native token")
		if err != nil {
			return nil, err
		}
		lstAdapter := lst.New(s.client, wrapped, s.settings.DefaultValidatorID, s.log)
		adapters[lstAdapter.Name()] = lstAdapter
	}
	s.adapters = adapters
	return adapters, nil
}

func adapterList(m map[string]protocol.Adapter) []protocol.Adapter {
	list := make([]protocol.Adapter, 0, len(m))
	for _, a := range m {
		list = append(list, a)
	}
	return list
}

func (s *runtimeState) ensureMetastore() error {
	if s.meta != nil {
		return nil
	}
	store, err := metastore.Open(s.settings.MetastorePath, s.settings.MetastoreLock)
	if err != nil {
		return err
	}
	s.meta = store
	return nil
}

func (s *runtimeState) ensureJournal() error {
	if s.journal != nil {
		return nil
	}
	store, err := journal.Open(s.settings.JournalPath, s.settings.JournalLock)
	if err != nil {
		return err
	}
	s.journal = store
	return nil
}

func (s *runtimeState) ensureYields() error {
	if s.yields != nil {
		return nil
	}
	s.yields = yields.New(httpx.New(s.settings.Timeout, 2))
	if s.settings.CacheEnabled && s.cache == nil {
		store, err := cache.Open(s.settings.CachePath, s.settings.CacheLock)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.cache = store
	}
	return nil
}

func (s *runtimeState) closeStores() {
	if s.meta != nil {
		_ = s.meta.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func (s *runtimeState) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.settings.Timeout)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings.OutputMode)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	body := &model.ErrorBody{
		Code:    clierr.ExitCode(err),
		Type:    "internal",
		Message: err.Error(),
	}
	if cErr, ok := clierr.As(err); ok {
		body.Type = clierr.TypeName(cErr.Code)
		body.Message = cErr.Message
		if cErr.Cause != nil {
			body.Message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		body.Critical = clierr.IsCritical(err)
	}
	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error:   body,
	}
	if s.lastReport != nil {
		env.Data = *s.lastReport
	}
	env.Meta = model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
	}
	if body.Critical {
		env.Warnings = append(env.Warnings, "funds require manual intervention; do not retry automatically")
	}
	_ = out.Render(s.runner.stderr, env, mode)
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func parseAddress(raw, label string) (common.Address, error) {
	clean := strings.TrimSpace(raw)
	if !common.IsHexAddress(clean) {
		return common.Address{}, clierr.New(clierr.CodeUsage, "invalid "+label+": "+raw)
	}
	return common.HexToAddress(clean), nil
}

// resolveTokenArg accepts a registry symbol or a raw address. Unknown
// addresses pass through with the provided decimals fallback.
func (s *runtimeState) resolveTokenArg(ref string, fallbackDecimals int) (common.Address, int, string, error) {
	if token, ok := registry.ResolveToken(s.settings.ChainID, ref); ok {
		addr, err := parseAddress(token.Address, "token")
		if err != nil {
			return common.Address{}, 0, "", err
		}
		return addr, token.Decimals, token.Symbol, nil
	}
	addr, err := parseAddress(ref, "token")
	if err != nil {
		return common.Address{}, 0, "", clierr.New(clierr.CodeUsage, "unknown token: "+ref)
	}
	return addr, fallbackDecimals, "", nil
}

// tokenDecimals resolves a token's display decimals: the static registry
// first, then an on-chain read, then 18. Display only; base-unit amounts are
// never scaled by this.
func (s *runtimeState) tokenDecimals(ctx context.Context, token common.Address) int {
	if token == (common.Address{}) {
		return 18
	}
	if known, ok := registry.ResolveToken(s.settings.ChainID, token.Hex()); ok {
		return known.Decimals
	}
	if s.client != nil {
		if d, err := s.client.TokenDecimals(ctx, token); err == nil {
			return d
		}
	}
	return 18
}
