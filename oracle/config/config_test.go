package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openllm-network/oracled/oracle/log"
)

func TestMain(m *testing.M) {
	log.InitLogger()
	m.Run()
}

func TestLoadUnknownNetwork(t *testing.T) {
	err := Load(t.TempDir(), "testnet-42")
	assert.Error(t, err)
}

func TestLoadLocalRequiresContractEnv(t *testing.T) {
	t.Setenv(EnvContract, "")

	err := Load(t.TempDir(), "local")
	assert.Error(t, err)
}

func TestLoadLocalFromEnv(t *testing.T) {
	t.Setenv(EnvContract, "0x5FbDB2315678afecb367f032d93F642f64180aa3")

	home := t.TempDir()
	require.NoError(t, Load(home, "local"))

	assert.Equal(t, "local", Network())
	assert.Equal(t, "http://localhost:8545", RPCEndpoint())
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), ContractAddress())
	assert.Equal(t, home, Home())
}

func TestLoadWritesDefaultConfig(t *testing.T) {
	t.Setenv(EnvContract, "0x5FbDB2315678afecb367f032d93F642f64180aa3")

	home := t.TempDir()
	require.NoError(t, Load(home, "local"))

	data, err := os.ReadFile(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sepolia")
}

func TestLoadAppliesTomlOverrides(t *testing.T) {
	t.Setenv(EnvContract, "0x5FbDB2315678afecb367f032d93F642f64180aa3")

	home := t.TempDir()
	override := "[networks.local]\nrpc = \"http://10.0.0.7:8545\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(override), 0644))

	require.NoError(t, Load(home, "local"))
	assert.Equal(t, "http://10.0.0.7:8545", RPCEndpoint())
}

func TestLoadInvalidContractEnv(t *testing.T) {
	t.Setenv(EnvContract, "not-an-address")

	err := Load(t.TempDir(), "local")
	assert.Error(t, err)
}

func TestCursorFileNaming(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	SetForTesting(t.TempDir(), "local", "http://localhost:8545", "", contract)

	name := filepath.Base(CursorFile())
	assert.Equal(t, strings.ToLower(contract.Hex())+".last-processed-block", name)
	assert.Equal(t, name, strings.ToLower(name))
}

func TestCursorDirFromEnv(t *testing.T) {
	SetForTesting(t.TempDir(), "local", "http://localhost:8545", "", common.Address{})

	t.Setenv(EnvConfigDir, "/var/lib/oracled")
	assert.Equal(t, "/var/lib/oracled", CursorDir())

	t.Setenv(EnvConfigDir, "")
	assert.Equal(t, Home(), CursorDir())
}

func TestDerivedPaths(t *testing.T) {
	home := t.TempDir()
	SetForTesting(home, "local", "http://localhost:8545", "", common.Address{})

	assert.Equal(t, filepath.Join(home, "storage-data"), StorageDir())
	assert.Equal(t, filepath.Join(home, "account-evm.data"), KeyFile())
}
