package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/libs/httpserver"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// FinalityLatest trusts the newest block the chain node reports.
	FinalityLatest = "latest"
	// FinalitySafe trusts the node's safe block.
	FinalitySafe = "safe"
	// FinalityFinalized trusts the node's finalized block.
	FinalityFinalized = "finalized"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultStakelightDir = ".stakelight"
	defaultConfigDir     = "config"
	defaultDataDir       = "data"

	defaultConfigFileName = "config.toml"
	defaultKeyName        = "node_key.hex"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultKeyPath        = filepath.Join(defaultConfigDir, defaultKeyName)
)

// Config defines the top level configuration for a stakelight node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Provider        *ProviderConfig        `mapstructure:"provider"`
	Watcher         *WatcherConfig         `mapstructure:"watcher"`
	Light           *LightConfig           `mapstructure:"light"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a stakelight node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Provider:        DefaultProviderConfig(),
		Watcher:         DefaultWatcherConfig(),
		Light:           DefaultLightConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Provider:        TestProviderConfig(),
		Watcher:         TestWatcherConfig(),
		Light:           TestLightConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Provider.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [provider] section: %w", err)
	}
	if err := cfg.Watcher.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [watcher] section: %w", err)
	}
	if err := cfg.Light.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [light] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a stakelight node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// JSON-RPC endpoint of the chain node every role reads headers and
	// proofs from
	ChainRPC string `mapstructure:"chain-rpc"`

	// Which block the chain node is trusted to report as final:
	// latest | safe | finalized
	Finality string `mapstructure:"finality"`

	// Address of the registry contract
	RegistryAddress string `mapstructure:"registry-address"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db-backend"`

	// Database directory
	DBPath string `mapstructure:"db-dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`

	// File holding the hex encoded secp256k1 key used to sign attestations
	// and registry transactions
	Key string `mapstructure:"key-file"`
}

// DefaultBaseConfig returns a default base configuration for a stakelight node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		ChainRPC:  "http://127.0.0.1:8545",
		Finality:  FinalityFinalized,
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
		LogLevel:  "info",
		LogFormat: LogFormatPlain,
		Key:       defaultKeyPath,
	}
}

// TestBaseConfig returns a base configuration for testing a stakelight node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Finality = FinalityLatest
	cfg.DBBackend = "memdb"
	cfg.RegistryAddress = "0x00000000000000000000000000000000000000aa"
	return cfg
}

// KeyFile returns the full path to the node key file
func (cfg BaseConfig) KeyFile() string {
	return rootify(cfg.Key, cfg.RootDir)
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// Registry returns the parsed registry address.
func (cfg BaseConfig) Registry() common.Address {
	return common.HexToAddress(cfg.RegistryAddress)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain' or 'json')")
	}
	switch cfg.Finality {
	case FinalityLatest, FinalitySafe, FinalityFinalized:
	default:
		return fmt.Errorf("unknown finality %q (must be 'latest', 'safe' or 'finalized')", cfg.Finality)
	}
	if cfg.RegistryAddress != "" && !common.IsHexAddress(cfg.RegistryAddress) {
		return fmt.Errorf("registry-address %q is not a hex address", cfg.RegistryAddress)
	}
	if cfg.ChainRPC != "" {
		if _, err := url.Parse(cfg.ChainRPC); err != nil {
			return fmt.Errorf("chain-rpc: %w", err)
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// ProviderConfig

// ProviderConfig defines the configuration of the data provider service
type ProviderConfig struct {
	// TCP or UNIX socket address for the data provider server to listen on
	ListenAddress string `mapstructure:"laddr"`

	// Hostname and port announced in the registry. Light clients dial these.
	ExternalHost string `mapstructure:"external-host"`
	ExternalPort uint16 `mapstructure:"external-port"`

	// A list of origins a cross-domain request can be executed from
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`

	// Maximum size of request body, in bytes
	MaxBodyBytes int64 `mapstructure:"max-body-bytes"`

	// How long a single GetData may take, including the chain node round trips
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultProviderConfig returns a default configuration for the data provider
func DefaultProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		ListenAddress: "tcp://127.0.0.1:8645",
		ExternalHost:  "127.0.0.1",
		ExternalPort:  8645,
		MaxBodyBytes:  1000000, // 1MB
		Timeout:       10 * time.Second,
	}
}

// TestProviderConfig returns a configuration for testing the data provider
func TestProviderConfig() *ProviderConfig {
	cfg := DefaultProviderConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	cfg.Timeout = time.Second
	return cfg
}

// HTTP returns the server configuration of the data provider.
func (cfg *ProviderConfig) HTTP(prometheus bool) httpserver.Config {
	hc := httpserver.DefaultConfig(cfg.ListenAddress)
	hc.CORSAllowedOrigins = cfg.CORSAllowedOrigins
	hc.MaxBodyBytes = cfg.MaxBodyBytes
	hc.Prometheus = prometheus
	return hc
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ProviderConfig) ValidateBasic() error {
	if err := validateListenAddress(cfg.ListenAddress); err != nil {
		return err
	}
	if len(cfg.ExternalHost) > 32 {
		return errors.New("external-host can't be longer than 32 bytes")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("max-body-bytes can't be negative")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// WatcherConfig

// WatcherConfig defines the configuration of the watcher service
type WatcherConfig struct {
	// TCP or UNIX socket address for the watcher server to listen on
	ListenAddress string `mapstructure:"laddr"`

	// A list of origins a cross-domain request can be executed from
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`

	// Maximum size of request body, in bytes
	MaxBodyBytes int64 `mapstructure:"max-body-bytes"`

	// Use the local ledger in the database instead of the registry contract.
	// Slashing then only affects the local ledger.
	LocalLedger bool `mapstructure:"local-ledger"`
}

// DefaultWatcherConfig returns a default configuration for the watcher
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		ListenAddress: "tcp://127.0.0.1:8646",
		MaxBodyBytes:  1000000, // 1MB
	}
}

// TestWatcherConfig returns a configuration for testing the watcher
func TestWatcherConfig() *WatcherConfig {
	cfg := DefaultWatcherConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	cfg.LocalLedger = true
	return cfg
}

// HTTP returns the server configuration of the watcher.
func (cfg *WatcherConfig) HTTP(prometheus bool) httpserver.Config {
	hc := httpserver.DefaultConfig(cfg.ListenAddress)
	hc.CORSAllowedOrigins = cfg.CORSAllowedOrigins
	hc.MaxBodyBytes = cfg.MaxBodyBytes
	hc.Prometheus = prometheus
	return hc
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *WatcherConfig) ValidateBasic() error {
	if err := validateListenAddress(cfg.ListenAddress); err != nil {
		return err
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("max-body-bytes can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// LightConfig

// LightConfig defines the configuration of the light client
type LightConfig struct {
	// Minimum total stake, in wei, a quorum must carry
	MinStake string `mapstructure:"min-stake"`

	// Watcher endpoints every attestation is forwarded to
	Watchers []string `mapstructure:"watchers"`

	// How long to wait for fraud alerts before accepting an answer
	AlertWindow time.Duration `mapstructure:"alert-window"`

	// How long to wait for a single provider
	ProviderTimeout time.Duration `mapstructure:"provider-timeout"`
}

// DefaultLightConfig returns a default configuration for the light client
func DefaultLightConfig() *LightConfig {
	return &LightConfig{
		MinStake:        "1000000000000000000", // 1 ether
		Watchers:        []string{"http://127.0.0.1:8646"},
		AlertWindow:     3 * time.Second,
		ProviderTimeout: 5 * time.Second,
	}
}

// TestLightConfig returns a configuration for testing the light client
func TestLightConfig() *LightConfig {
	cfg := DefaultLightConfig()
	cfg.AlertWindow = 100 * time.Millisecond
	cfg.ProviderTimeout = time.Second
	return cfg
}

// MinTotalStake returns MinStake parsed as a wei amount.
func (cfg *LightConfig) MinTotalStake() (*uint256.Int, error) {
	return uint256.FromDecimal(cfg.MinStake)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *LightConfig) ValidateBasic() error {
	stake, err := cfg.MinTotalStake()
	if err != nil {
		return fmt.Errorf("min-stake %q: %w", cfg.MinStake, err)
	}
	if stake.IsZero() {
		return errors.New("min-stake must be positive")
	}
	if len(cfg.Watchers) == 0 {
		return errors.New("at least one watcher is required")
	}
	for _, w := range cfg.Watchers {
		if _, err := url.ParseRequestURI(w); err != nil {
			return fmt.Errorf("watcher %q: %w", w, err)
		}
	}
	if cfg.AlertWindow <= 0 {
		return errors.New("alert-window must be positive")
	}
	if cfg.ProviderTimeout <= 0 {
		return errors.New("provider-timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on the
	// provider and watcher servers.
	Prometheus bool `mapstructure:"prometheus"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: false,
		Namespace:  "stakelight",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.Namespace == "" {
		return errors.New("namespace can't be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return errors.New("laddr can't be empty")
	}
	if !strings.HasPrefix(addr, "tcp://") && !strings.HasPrefix(addr, "unix://") {
		return fmt.Errorf("laddr %q must start with tcp:// or unix://", addr)
	}
	return nil
}

// DefaultHome returns $HOME/.stakelight, or the relative directory if the
// home directory can't be determined.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultStakelightDir
	}
	return filepath.Join(home, DefaultStakelightDir)
}
