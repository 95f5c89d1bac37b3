package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/screa/create2-deployer/internal/crypto"
	"github.com/screa/create2-deployer/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Errors
var (
	ErrNoPrefixSpecified     = errors.New("must specify --prefix")
	ErrNoBytecodeSpecified   = errors.New("must specify either --bytecode or --bytecode-file")
	ErrNoArtifactSpecified   = errors.New("must specify --artifact")
	ErrNoRPCSpecified        = errors.New("must specify --rpc-url")
	ErrNoPrivateKeySpecified = errors.New("must specify --private-key")
	ErrNoAddressSpecified    = errors.New("must specify --address")
	ErrNoSaltSpecified       = errors.New("must specify --salt")
	ErrInvalidMaxSalt        = errors.New("invalid --max-salt")
)

const (
	// DefaultMaxSalt is 2^56.
	DefaultMaxSalt = "0x100000000000000"

	DefaultCachePath     = "knownHashes.json"
	DefaultGasLimit      = 10_000_000
	DefaultVerifyCommand = "npx hardhat verify"

	// EnvPrefix is prepended to environment overrides, e.g. CREATE2_RPC_URL.
	EnvPrefix = "CREATE2"
)

// Config holds the application configuration
type Config struct {
	Workers      int    `mapstructure:"workers"`
	Prefix       string `mapstructure:"prefix"`
	Verbose      bool   `mapstructure:"verbose"`
	LogFile      string `mapstructure:"log-file"`
	Bytecode     string `mapstructure:"bytecode"`
	BytecodeFile string `mapstructure:"bytecode-file"`
	LogInterval  int    `mapstructure:"log-interval"` // Logging interval in seconds

	Relay     string `mapstructure:"relay"`
	MaxSalt   string `mapstructure:"max-salt"`
	CachePath string `mapstructure:"cache"`
	Salt      string `mapstructure:"salt"`

	RPCURL        string        `mapstructure:"rpc-url"`
	PrivateKey    string        `mapstructure:"private-key"`
	Artifact      string        `mapstructure:"artifact"`
	Args          []string      `mapstructure:"args"`
	Address       string        `mapstructure:"address"`
	GasLimit      uint64        `mapstructure:"gas-limit"`
	PollInterval  time.Duration `mapstructure:"poll-interval"`
	SubmitTimeout time.Duration `mapstructure:"submit-timeout"` // relay submission and receipt wait
	Timeout       time.Duration `mapstructure:"timeout"`        // verification command
	NoVerify      bool          `mapstructure:"no-verify"`
	VerifyCommand string        `mapstructure:"verify-command"`
	VerifyNetwork string        `mapstructure:"verify-network"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:       runtime.NumCPU(),
		LogInterval:   5, // Default 5 seconds
		Relay:         crypto.FactoryAddress,
		MaxSalt:       DefaultMaxSalt,
		CachePath:     DefaultCachePath,
		GasLimit:      DefaultGasLimit,
		PollInterval:  time.Second,
		SubmitTimeout: 5 * time.Minute,
		Timeout:       10 * time.Minute,
		VerifyCommand: DefaultVerifyCommand,
	}
}

// Load overlays an optional yaml config file, CREATE2_* environment variables
// and the flags of cmd onto the defaults.
func Load(cmd *cobra.Command, file string) (*Config, error) {
	c := NewConfig()
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Validate validates the configuration for mining
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return ErrNoPrefixSpecified
	}
	if c.Bytecode == "" && c.BytecodeFile == "" {
		return ErrNoBytecodeSpecified
	}
	_, err := c.Target()
	return err
}

// ValidateAddress validates the configuration for the address command
func (c *Config) ValidateAddress() error {
	if c.Bytecode == "" && c.BytecodeFile == "" {
		return ErrNoBytecodeSpecified
	}
	if c.Salt == "" {
		return ErrNoSaltSpecified
	}
	if _, err := c.SaltHash(); err != nil {
		return err
	}
	_, err := c.RelayAddress()
	return err
}

// ValidateDeploy validates the configuration for deployment
func (c *Config) ValidateDeploy() error {
	if c.Prefix == "" {
		return ErrNoPrefixSpecified
	}
	if c.Artifact == "" {
		return ErrNoArtifactSpecified
	}
	if c.RPCURL == "" {
		return ErrNoRPCSpecified
	}
	if c.PrivateKey == "" {
		return ErrNoPrivateKeySpecified
	}
	_, err := c.Target()
	return err
}

// ValidateVerify validates the configuration for standalone verification
func (c *Config) ValidateVerify() error {
	if c.Address == "" {
		return ErrNoAddressSpecified
	}
	if c.Artifact == "" {
		return ErrNoArtifactSpecified
	}
	if c.RPCURL == "" {
		return ErrNoRPCSpecified
	}
	_, err := crypto.ParseAddress(c.Address)
	return err
}

// GetTargetDescription returns a human-readable description of the target
func (c *Config) GetTargetDescription() string {
	if c.Prefix != "" {
		return "prefix: " + c.Prefix
	}
	return "unknown"
}

// IsZeroPrefix returns true if the prefix is a series of 0's
func (c *Config) IsZeroPrefix() bool {
	if c.Prefix == "" {
		return false
	}
	p, err := crypto.ParsePrefix(c.Prefix)
	if err != nil {
		return false
	}
	return p.IsZero()
}

// RelayAddress returns the relay contract address
func (c *Config) RelayAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Relay)
}

// MaxSaltValue parses MaxSalt, accepting decimal or 0x-prefixed hex.
func (c *Config) MaxSaltValue() (uint64, error) {
	v, err := parseUint256(c.MaxSalt)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidMaxSalt, c.MaxSalt, err)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %q exceeds 64 bits", ErrInvalidMaxSalt, c.MaxSalt)
	}
	return v.Uint64(), nil
}

// SaltHash parses Salt as a 256-bit value, decimal or 0x-prefixed hex.
func (c *Config) SaltHash() (common.Hash, error) {
	v, err := parseUint256(c.Salt)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid --salt %q: %v", c.Salt, err)
	}
	return common.Hash(v.Bytes32()), nil
}

func parseUint256(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// uint256 rejects leading zeros, bytes32 salts are full of them
		h := strings.TrimLeft(s[2:], "0")
		if h == "" {
			h = "0"
		}
		return uint256.FromHex("0x" + h)
	}
	return uint256.FromDecimal(s)
}

// Target assembles the mining target from Relay, Prefix and MaxSalt.
func (c *Config) Target() (types.Target, error) {
	relay, err := c.RelayAddress()
	if err != nil {
		return types.Target{}, err
	}
	prefix, err := crypto.ParsePrefix(c.Prefix)
	if err != nil {
		return types.Target{}, err
	}
	maxSalt, err := c.MaxSaltValue()
	if err != nil {
		return types.Target{}, err
	}
	return types.Target{Relay: relay, Prefix: prefix, MaxSalt: maxSalt}, nil
}

// GetBytecode returns the bytecode to use for address calculation
func (c *Config) GetBytecode() ([]byte, error) {
	// Check if bytecode file is specified
	if c.BytecodeFile != "" {
		return readBytecodeFromFile(c.BytecodeFile)
	}

	// Check if bytecode is provided directly
	if c.Bytecode != "" {
		return decodeHex(c.Bytecode)
	}

	// This should not happen if validation passes
	return nil, ErrNoBytecodeSpecified
}

// readBytecodeFromFile reads bytecode from a file
func readBytecodeFromFile(filename string) ([]byte, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return decodeHex(string(content))
}

func decodeHex(s string) ([]byte, error) {
	code := crypto.TrimHexPrefix(s)
	b, err := hexutil.Decode("0x" + code)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	return b, nil
}
