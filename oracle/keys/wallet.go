package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openllm-network/oracled/oracle/log"
)

// Wallet holds the node's single signing key. The derived address is the
// node's identity in the authorized set.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// Load reads the one-line hex private key at path, generating and persisting
// a fresh key on first run.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generate(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	raw = strings.TrimPrefix(raw, "0x")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}

	w := &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	log.Infof("Loaded wallet %s", w.address.Hex())

	return w, nil
}

func generate(path string) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	encoded := hex.EncodeToString(crypto.FromECDSA(key)) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	w := &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	log.Infof("Generated new wallet %s at %s", w.address.Hex(), path)

	return w, nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

// SignTx signs a transaction for the given chain using EIP-155 replay
// protection.
func (w *Wallet) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}

	return signed, nil
}
