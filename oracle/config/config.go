package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"

	"github.com/openllm-network/oracled/oracle/log"
)

const (
	// EnvContract supplies the coordination contract address for the local
	// network, where no fixed deployment exists.
	EnvContract = "LLM_SERVICE_CONTRACT"

	// EnvConfigDir overrides the directory holding the event cursor file.
	EnvConfigDir = "CONFIG_PATH"
)

var (
	globalConfig configData
	mu           sync.Mutex
)

type configData struct {
	home     string
	network  string
	rpc      string
	wss      string
	contract common.Address
}

// networkEntry is one row of the built-in network table. Entries may be
// overridden per network through <home>/config.toml.
type networkEntry struct {
	RPC      string `toml:"rpc"`
	WSS      string `toml:"wss"`
	Contract string `toml:"contract"`
}

type fileConfig struct {
	Networks map[string]networkEntry `toml:"networks"`
}

var networks = map[string]networkEntry{
	"local": {
		RPC: "http://localhost:8545",
		WSS: "ws://localhost:8545",
	},
	"sepolia": {
		RPC:      "https://ethereum-sepolia-rpc.publicnode.com",
		WSS:      "wss://ethereum-sepolia-rpc.publicnode.com",
		Contract: "0x6f3a9cf0c6a4bd5de7dd4f0bcd68a57c2a1d8f31",
	},
	"mainnet": {
		RPC:      "https://ethereum-rpc.publicnode.com",
		WSS:      "wss://ethereum-rpc.publicnode.com",
		Contract: "0x41bd27f5c5cdb6e1e3c8f620de5c17ecaab73e8d",
	},
}

// Load resolves the configuration for the named network. The built-in table
// is consulted first, then <home>/config.toml overrides, then environment
// variables. A missing or unknown network is an error the caller turns into
// exit code 1.
func Load(home, network string) error {
	mu.Lock()
	defer mu.Unlock()

	entry, ok := networks[network]
	if !ok {
		return fmt.Errorf("unknown network %q", network)
	}

	path := filepath.Join(home, "config.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if override, ok := fc.Networks[network]; ok {
		if override.RPC != "" {
			entry.RPC = override.RPC
		}
		if override.WSS != "" {
			entry.WSS = override.WSS
		}
		if override.Contract != "" {
			entry.Contract = override.Contract
		}
	}

	if network == "local" {
		entry.Contract = os.Getenv(EnvContract)
		if entry.Contract == "" {
			return fmt.Errorf("network %q requires %s to be set", network, EnvContract)
		}
	}

	if entry.RPC == "" {
		return fmt.Errorf("network %q has no rpc endpoint", network)
	}
	if !common.IsHexAddress(entry.Contract) {
		return fmt.Errorf("network %q has invalid contract address %q", network, entry.Contract)
	}

	globalConfig = configData{
		home:     home,
		network:  network,
		rpc:      entry.RPC,
		wss:      entry.WSS,
		contract: common.HexToAddress(entry.Contract),
	}

	log.Infof("Loaded config for network %s (rpc %s)", network, entry.RPC)

	return nil
}

func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := toml.Marshal(fileConfig{Networks: networks})
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultHome returns ~/.oracled.
func DefaultHome() string {
	osHome, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get user home directory: %v", err)
	}

	return filepath.Join(osHome, ".oracled")
}

func Print() {
	log.Infof("%-15s: %s", "Home", Home())
	log.Infof("%-15s: %s", "Network", Network())
	log.Infof("%-15s: %s", "RPC Endpoint", RPCEndpoint())
	log.Infof("%-15s: %s", "WS Endpoint", WSEndpoint())
	log.Infof("%-15s: %s", "Contract", ContractAddress().Hex())
	log.Infof("%-15s: %s", "Cursor Dir", CursorDir())
	log.Infof("%-15s: %s", "Storage Dir", StorageDir())
}

func Home() string {
	mu.Lock()
	defer mu.Unlock()

	return globalConfig.home
}

func Network() string {
	mu.Lock()
	defer mu.Unlock()

	return globalConfig.network
}

func RPCEndpoint() string {
	mu.Lock()
	defer mu.Unlock()

	return globalConfig.rpc
}

func WSEndpoint() string {
	mu.Lock()
	defer mu.Unlock()

	return globalConfig.wss
}

func ContractAddress() common.Address {
	mu.Lock()
	defer mu.Unlock()

	return globalConfig.contract
}

// CursorDir is where the event cursor file lives. CONFIG_PATH overrides the
// node home.
func CursorDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}

	return Home()
}

// CursorFile names the persisted watermark for the configured contract.
func CursorFile() string {
	name := strings.ToLower(ContractAddress().Hex()) + ".last-processed-block"

	return filepath.Join(CursorDir(), name)
}

func StorageDir() string {
	return filepath.Join(Home(), "storage-data")
}

func KeyFile() string {
	return filepath.Join(Home(), "account-evm.data")
}

func ChannelSize() int {
	return 1 << 10
}

// SetForTesting installs a fully resolved configuration, bypassing Load.
func SetForTesting(home, network, rpc, wss string, contract common.Address) {
	mu.Lock()
	defer mu.Unlock()

	globalConfig = configData{
		home:     home,
		network:  network,
		rpc:      rpc,
		wss:      wss,
		contract: contract,
	}
}
