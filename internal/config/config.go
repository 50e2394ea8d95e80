// Package config loads the riddled configuration file.
//
// Example:
//
//	rpc: http://127.0.0.1:8545
//	owner: "0x..."
//	maxGas: 3000000
//	fundAmount: "2000000000000000000"
//	timeouts:
//	  rpc: 5s
//	  mined: 2m
//	devnode:
//	  image: ethereum/client-go:v1.13.15
package config

import (
	"crypto/ecdsa"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

// Defaults.
const (
	DefaultRPC          = "http://127.0.0.1:8545"
	DefaultMaxGas       = 3000000
	DefaultFundAmount   = "2000000000000000000" // 2 ether
	DefaultRPCTimeout   = 5 * time.Second
	DefaultMinedTimeout = 2 * time.Minute
	DefaultPollInterval = time.Second
	DefaultDevnodeImage = "ethereum/client-go:v1.13.15"
	DefaultStartTimeout = time.Minute
	DefaultLogLevel     = 3
)

// Config is the riddled configuration.
type Config struct {
	RPC        string `yaml:"rpc"`
	ChainID    uint64 `yaml:"chainID"`
	Owner      string `yaml:"owner"`
	Password   string `yaml:"password"`
	PrivateKey string `yaml:"privateKey"`
	MaxGas     uint64 `yaml:"maxGas"`
	FundAmount string `yaml:"fundAmount"` // wei, decimal or 0x-prefixed hex

	PollInterval Duration `yaml:"pollInterval"`
	Timeouts     Timeouts `yaml:"timeouts"`
	Devnode      Devnode  `yaml:"devnode"`

	LogLevel int `yaml:"logLevel"`
}

type Timeouts struct {
	RPC   Duration `yaml:"rpc"`
	Mined Duration `yaml:"mined"`
}

type Devnode struct {
	Enabled      bool     `yaml:"enabled"`
	Image        string   `yaml:"image"`
	StartTimeout Duration `yaml:"startTimeout"`
}

// Duration is a time.Duration written as "1m30s" in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalYAML implements yaml.InterfaceMarshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.RPC == "" {
		c.RPC = DefaultRPC
	}
	if c.MaxGas == 0 {
		c.MaxGas = DefaultMaxGas
	}
	if c.FundAmount == "" {
		c.FundAmount = DefaultFundAmount
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval.Duration = DefaultPollInterval
	}
	if c.Timeouts.RPC.Duration == 0 {
		c.Timeouts.RPC.Duration = DefaultRPCTimeout
	}
	if c.Timeouts.Mined.Duration == 0 {
		c.Timeouts.Mined.Duration = DefaultMinedTimeout
	}
	if c.Devnode.Image == "" {
		c.Devnode.Image = DefaultDevnodeImage
	}
	if c.Devnode.StartTimeout.Duration == 0 {
		c.Devnode.StartTimeout.Duration = DefaultStartTimeout
	}
	if c.LogLevel == 0 {
		c.LogLevel = DefaultLogLevel
	}
}

// Load reads a configuration file. Unset fields get their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "can't read config")
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return c, nil
}

// Parse decodes a configuration. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalWithOptions(data, &c, yaml.Strict()); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the fields that need parsing.
func (c Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if _, err := c.Key(); err != nil {
		return err
	}
	if _, err := c.Fund(); err != nil {
		return err
	}
	return nil
}

// OwnerAddress returns the configured owner, or the zero address.
func (c Config) OwnerAddress() (common.Address, error) {
	if c.Owner == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(c.Owner) {
		return common.Address{}, errors.Errorf("invalid owner address %q", c.Owner)
	}
	return common.HexToAddress(c.Owner), nil
}

// Key returns the configured signing key, or nil.
func (c Config) Key() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	return key, nil
}

// Fund returns the balance the owner must hold, in wei.
func (c Config) Fund() (*big.Int, error) {
	v, ok := math.ParseBig256(c.FundAmount)
	if !ok {
		return nil, errors.Errorf("invalid fund amount %q", c.FundAmount)
	}
	return v, nil
}

// ChainIDBig returns the configured chain id, or nil when it should be
// queried from the node.
func (c Config) ChainIDBig() *big.Int {
	if c.ChainID == 0 {
		return nil
	}
	return new(big.Int).SetUint64(c.ChainID)
}
