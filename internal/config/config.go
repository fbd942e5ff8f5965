package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalFlags captures the persistent cobra flags applied on top of file and
// environment configuration.
type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	RPCURL         string
	ChainID        int64
	VaultFactory   string
	AgentAddress   string
	Timeout        string
	NoCache        bool
	EnableCommands string
	ReadOnly       bool
}

type Settings struct {
	OutputMode string
	LogLevel   string

	RPCURL       string
	ChainID      int64
	VaultFactory string
	// AgentAddress is the address vaults were configured to trust. The
	// resolved signer must match it or the pipeline refuses to run.
	AgentAddress string

	Staking            string
	WrappedNative      string
	DefaultValidatorID int64

	Timeout        time.Duration
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	MaxAttempts    int

	CacheEnabled bool
	MaxStale     time.Duration
	CachePath    string
	CacheLock    string

	MetastorePath string
	MetastoreLock string
	JournalPath   string
	JournalLock   string

	// EnableCommands restricts the CLI to an allowlist of command paths.
	// ReadOnly blocks every fund-moving command regardless of the list.
	EnableCommands []string
	ReadOnly       bool
}

type fileConfig struct {
	Output   string `yaml:"output"`
	LogLevel string `yaml:"log_level"`
	Chain    struct {
		RPCURL  string `yaml:"rpc_url"`
		ChainID *int64 `yaml:"chain_id"`
	} `yaml:"chain"`
	Vault struct {
		Factory string `yaml:"factory"`
		Agent   string `yaml:"agent"`
	} `yaml:"vault"`
	Staking struct {
		Contract      string `yaml:"contract"`
		WrappedNative string `yaml:"wrapped_native"`
		ValidatorID   *int64 `yaml:"validator_id"`
	} `yaml:"staking"`
	Pipeline struct {
		MaxAttempts    *int   `yaml:"max_attempts"`
		PollInterval   string `yaml:"poll_interval"`
		ReceiptTimeout string `yaml:"receipt_timeout"`
	} `yaml:"pipeline"`
	Timeout string `yaml:"timeout"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Storage struct {
		MetastorePath string `yaml:"metastore_path"`
		JournalPath   string `yaml:"journal_path"`
	} `yaml:"storage"`
	Policy struct {
		EnableCommands []string `yaml:"enable_commands"`
		ReadOnly       *bool    `yaml:"read_only"`
	} `yaml:"policy"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 5 * time.Minute
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 3
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}
	if settings.ReceiptTimeout <= 0 {
		settings.ReceiptTimeout = 2 * time.Minute
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Settings{}, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "noir")
	return Settings{
		OutputMode:     "json",
		LogLevel:       "info",
		ChainID:        146,
		Timeout:        5 * time.Minute,
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		MaxAttempts:    3,
		CacheEnabled:   true,
		MaxStale:       5 * time.Minute,
		CachePath:      filepath.Join(dir, "cache.db"),
		CacheLock:      filepath.Join(dir, "cache.lock"),
		MetastorePath:  filepath.Join(dir, "vaults.db"),
		MetastoreLock:  filepath.Join(dir, "vaults.lock"),
		JournalPath:    filepath.Join(dir, "runs.db"),
		JournalLock:    filepath.Join(dir, "runs.lock"),
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "noir", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Chain.RPCURL != "" {
		settings.RPCURL = cfg.Chain.RPCURL
	}
	if cfg.Chain.ChainID != nil {
		settings.ChainID = *cfg.Chain.ChainID
	}
	if cfg.Vault.Factory != "" {
		settings.VaultFactory = cfg.Vault.Factory
	}
	if cfg.Vault.Agent != "" {
		settings.AgentAddress = cfg.Vault.Agent
	}
	if cfg.Staking.Contract != "" {
		settings.Staking = cfg.Staking.Contract
	}
	if cfg.Staking.WrappedNative != "" {
		settings.WrappedNative = cfg.Staking.WrappedNative
	}
	if cfg.Staking.ValidatorID != nil {
		settings.DefaultValidatorID = *cfg.Staking.ValidatorID
	}
	if cfg.Pipeline.MaxAttempts != nil {
		settings.MaxAttempts = *cfg.Pipeline.MaxAttempts
	}
	if cfg.Pipeline.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Pipeline.PollInterval)
		if err != nil {
			return fmt.Errorf("config pipeline.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Pipeline.ReceiptTimeout != "" {
		d, err := time.ParseDuration(cfg.Pipeline.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("config pipeline.receipt_timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLock = cfg.Cache.LockPath
	}
	if cfg.Storage.MetastorePath != "" {
		settings.MetastorePath = cfg.Storage.MetastorePath
		settings.MetastoreLock = cfg.Storage.MetastorePath + ".lock"
	}
	if cfg.Storage.JournalPath != "" {
		settings.JournalPath = cfg.Storage.JournalPath
		settings.JournalLock = cfg.Storage.JournalPath + ".lock"
	}
	if len(cfg.Policy.EnableCommands) > 0 {
		settings.EnableCommands = cfg.Policy.EnableCommands
	}
	if cfg.Policy.ReadOnly != nil {
		settings.ReadOnly = *cfg.Policy.ReadOnly
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("NOIR_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("NOIR_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("NOIR_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("NOIR_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("NOIR_VAULT_FACTORY"); v != "" {
		settings.VaultFactory = v
	}
	if v := os.Getenv("NOIR_AGENT_ADDRESS"); v != "" {
		settings.AgentAddress = v
	}
	if v := os.Getenv("NOIR_STAKING_CONTRACT"); v != "" {
		settings.Staking = v
	}
	if v := os.Getenv("NOIR_WRAPPED_NATIVE"); v != "" {
		settings.WrappedNative = v
	}
	if v := os.Getenv("NOIR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("NOIR_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.MaxAttempts = n
		}
	}
	if v := os.Getenv("NOIR_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("NOIR_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("NOIR_METASTORE_PATH"); v != "" {
		settings.MetastorePath = v
		settings.MetastoreLock = v + ".lock"
	}
	if v := os.Getenv("NOIR_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
		settings.JournalLock = v + ".lock"
	}
	if v := os.Getenv("NOIR_ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = splitCSV(v)
	}
	if v := os.Getenv("NOIR_READ_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.ReadOnly = b
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if norm := strings.TrimSpace(part); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if flags.ChainID != 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.VaultFactory) != "" {
		settings.VaultFactory = strings.TrimSpace(flags.VaultFactory)
	}
	if strings.TrimSpace(flags.AgentAddress) != "" {
		settings.AgentAddress = strings.TrimSpace(flags.AgentAddress)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}
	if flags.ReadOnly {
		settings.ReadOnly = true
	}
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}
