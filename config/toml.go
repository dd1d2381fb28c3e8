package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	tmos "github.com/stakelight/stakelight/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := tmos.EnsureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath. This function is called by cmd/stakelight/commands/init.go
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return tmos.WriteFileAtomic(path, buffer.Bytes(), 0644)
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !tmos.FileExists(configFilePath) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/stakelight/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.stakelight" by default, but could be changed via $SLHOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# JSON-RPC endpoint of the chain node headers and proofs are read from
chain-rpc = "{{ .BaseConfig.ChainRPC }}"

# Which block the chain node is trusted to report as final:
# latest | safe | finalized
finality = "{{ .BaseConfig.Finality }}"

# Address of the registry contract
registry-address = "{{ .BaseConfig.RegistryAddress }}"

# Database backend: goleveldb | memdb
db-backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db-dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging: debug | info | error
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# File holding the hex encoded secp256k1 key used to sign attestations
# and registry transactions
key-file = "{{ js .BaseConfig.Key }}"

#######################################################################
###                 Data Provider Configuration Options             ###
#######################################################################
[provider]

# TCP or UNIX socket address for the data provider server to listen on
laddr = "{{ .Provider.ListenAddress }}"

# Hostname (at most 32 bytes) and port announced in the registry
external-host = "{{ .Provider.ExternalHost }}"
external-port = {{ .Provider.ExternalPort }}

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors-allowed-origins = [{{ range .Provider.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# Maximum size of request body, in bytes
max-body-bytes = {{ .Provider.MaxBodyBytes }}

# How long a single request may take, including the chain node round trips
timeout = "{{ .Provider.Timeout }}"

#######################################################################
###                    Watcher Configuration Options                ###
#######################################################################
[watcher]

# TCP or UNIX socket address for the watcher server to listen on
laddr = "{{ .Watcher.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
cors-allowed-origins = [{{ range .Watcher.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# Maximum size of request body, in bytes
max-body-bytes = {{ .Watcher.MaxBodyBytes }}

# Use the ledger kept in the database instead of the registry contract.
# Slashing then only affects the local ledger.
local-ledger = {{ .Watcher.LocalLedger }}

#######################################################################
###                  Light Client Configuration Options             ###
#######################################################################
[light]

# Minimum total stake, in wei, a quorum must carry
min-stake = "{{ .Light.MinStake }}"

# Watcher endpoints every attestation is forwarded to
watchers = [{{ range .Light.Watchers }}{{ printf "%q, " . }}{{end}}]

# How long to wait for fraud alerts before accepting an answer
alert-window = "{{ .Light.AlertWindow }}"

# How long to wait for a single provider
provider-timeout = "{{ .Light.ProviderTimeout }}"

#######################################################################
###                  Instrumentation Configuration Options          ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on the
# provider and watcher servers
prometheus = {{ .Instrumentation.Prometheus }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a fresh root directory with a test config file.
func ResetTestRoot(testName string) (*Config, error) {
	rootDir, err := os.MkdirTemp("", fmt.Sprintf("%s_", testName))
	if err != nil {
		return nil, err
	}
	if err := EnsureRoot(rootDir); err != nil {
		return nil, err
	}
	config := TestConfig().SetRoot(rootDir)
	if err := WriteConfigFile(rootDir, config); err != nil {
		return nil, err
	}
	return config, nil
}
