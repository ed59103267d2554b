// Package config loads the validator's static configuration: chain
// connection details, the two on-chain contract addresses, the
// participant set, and the epoch/key-gen/signing timeout parameters
// spec.md §4.10 names.
package config

import (
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/store"
)

// Config is the validator's full static configuration.
type Config struct {
	ChainID            *big.Int            `json:"chain_id"`
	RPCURL             string               `json:"rpc_url"`
	PrivateKeyHex      string               `json:"private_key"`
	ConsensusAddress   [20]byte             `json:"consensus_address"`
	CoordinatorAddress [20]byte             `json:"coordinator_address"`
	Participants       []store.Participant  `json:"participants"`
	Threshold          int                  `json:"threshold"`
	BlocksPerEpoch     uint64               `json:"blocks_per_epoch"`
	KeyGenTimeout      uint64               `json:"key_gen_timeout"`
	SigningTimeout     uint64               `json:"signing_timeout"`
	GenesisSalt        [32]byte             `json:"genesis_salt"`
	MetricsPort        int                  `json:"metrics_port"`
	NonceBatchSize     int                  `json:"nonce_batch_size"`
	DataDir            string               `json:"data_dir"`
	GasLimit           uint64               `json:"gas_limit"`
}

// Load reads and validates a JSON configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.NonceBatchSize <= 0 {
		c.NonceBatchSize = 32
	}
	if c.GasLimit == 0 {
		c.GasLimit = 300000
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return errors.New("chain_id must be positive")
	}
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if c.PrivateKeyHex == "" {
		return errors.New("private_key is required")
	}
	if len(c.Participants) == 0 {
		return errors.New("participants must be non-empty")
	}
	if c.Threshold <= 0 || c.Threshold > len(c.Participants) {
		return errors.New("threshold must satisfy 1 <= threshold <= len(participants)")
	}
	if c.BlocksPerEpoch == 0 {
		return errors.New("blocks_per_epoch must be positive")
	}
	if c.KeyGenTimeout == 0 || c.SigningTimeout == 0 {
		return errors.New("key_gen_timeout and signing_timeout must be positive")
	}
	return nil
}

// PrivateKey decodes the configured hex-encoded ECDSA signing key.
func (c *Config) PrivateKey() (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(trimHexPrefix(c.PrivateKeyHex))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// OwnParticipant returns this validator's own entry in Participants,
// matched by the address derived from PrivateKey.
func (c *Config) OwnParticipant() (store.Participant, error) {
	key, err := c.PrivateKey()
	if err != nil {
		return store.Participant{}, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	for _, p := range c.Participants {
		if p.Address == address {
			return p, nil
		}
	}
	return store.Participant{}, errors.New("this validator's address is not among the configured participants")
}
