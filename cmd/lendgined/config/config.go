package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr      = ":8545"
	DefaultMetricsAddr     = ":9090"
	DefaultAccrualInterval = time.Minute
	DefaultPublishBuffer   = 16
)

// Token identifiers used by genesis balances.
const (
	Token0 = "token0"
	Token1 = "token1"
)

var ErrAmount = errors.New("invalid amount")

// Config is the daemon configuration file.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr" validate:"required"`
	MetricsAddr     string        `yaml:"metrics_addr" validate:"required"`
	LogLevel        slog.Level    `yaml:"log_level"`
	AccrualInterval time.Duration `yaml:"accrual_interval" validate:"gt=0"`
	PublishBuffer   uint          `yaml:"publish_buffer" validate:"gte=1"`

	Pair     PairConfig     `yaml:"pair"`
	Lendgine LendgineConfig `yaml:"lendgine"`
	Router   RouterConfig   `yaml:"router"`
	Genesis  GenesisConfig  `yaml:"genesis"`
}

type TokenConfig struct {
	Address  string `yaml:"address" validate:"required,eth_addr"`
	Symbol   string `yaml:"symbol" validate:"required"`
	Decimals uint8  `yaml:"decimals" validate:"gte=6,lte=18"`
}

type PairConfig struct {
	Address string      `yaml:"address" validate:"required,eth_addr"`
	Token0  TokenConfig `yaml:"token0"`
	Token1  TokenConfig `yaml:"token1"`
	// UpperBound is the price bound in base units per speculative unit, e.g. "5".
	UpperBound string `yaml:"upper_bound" validate:"required,numeric"`
}

type LendgineConfig struct {
	Address string `yaml:"address" validate:"required,eth_addr"`
}

type RouterConfig struct {
	Address string `yaml:"address" validate:"required,eth_addr"`
}

// GenesisConfig seeds balances, maker stakes and borrows at startup. Amounts are
// decimal strings in whole token units.
type GenesisConfig struct {
	Balances []BalanceConfig `yaml:"balances" validate:"dive"`
	Stakes   []StakeConfig   `yaml:"stakes" validate:"dive"`
	Borrows  []BorrowConfig  `yaml:"borrows" validate:"dive"`
}

type BalanceConfig struct {
	Owner  string `yaml:"owner" validate:"required,eth_addr"`
	Token  string `yaml:"token" validate:"oneof=token0 token1"`
	Amount string `yaml:"amount" validate:"required,numeric"`
}

type StakeConfig struct {
	Owner     string `yaml:"owner" validate:"required,eth_addr"`
	Tick      uint32 `yaml:"tick" validate:"gte=1"`
	Liquidity string `yaml:"liquidity" validate:"required,numeric"`
}

type BorrowConfig struct {
	Owner  string `yaml:"owner" validate:"required,eth_addr"`
	Amount string `yaml:"amount" validate:"required,numeric"`
}

// LoadConfig reads, normalizes and validates the file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	c.MetricsAddr = strings.TrimSpace(c.MetricsAddr)
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.AccrualInterval == 0 {
		c.AccrualInterval = DefaultAccrualInterval
	}
	if c.PublishBuffer == 0 {
		c.PublishBuffer = DefaultPublishBuffer
	}
	for i := range c.Genesis.Balances {
		c.Genesis.Balances[i].Token = strings.ToLower(strings.TrimSpace(c.Genesis.Balances[i].Token))
	}
}

// Validate checks struct constraints and the values that need parsing.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.UpperBound(); err != nil {
		return fmt.Errorf("config: upper_bound: %w", err)
	}
	for i, b := range c.Genesis.Balances {
		decimals := c.Pair.Token0.Decimals
		if b.Token == Token1 {
			decimals = c.Pair.Token1.Decimals
		}
		if _, err := ParseAmount(b.Amount, decimals); err != nil {
			return fmt.Errorf("config: genesis.balances[%d]: %w", i, err)
		}
	}
	for i, s := range c.Genesis.Stakes {
		if _, err := ParseAmount(s.Liquidity, 18); err != nil {
			return fmt.Errorf("config: genesis.stakes[%d]: %w", i, err)
		}
	}
	for i, b := range c.Genesis.Borrows {
		if _, err := ParseAmount(b.Amount, c.Pair.Token1.Decimals); err != nil {
			return fmt.Errorf("config: genesis.borrows[%d]: %w", i, err)
		}
	}
	return nil
}

// UpperBound returns the pair's upper bound in 1e18 fixed point.
func (c *Config) UpperBound() (*uint256.Int, error) {
	return ParseAmount(c.Pair.UpperBound, 18)
}

// Address converts a validated hex address.
func Address(s string) common.Address {
	return common.HexToAddress(s)
}

var decimalContext = apd.BaseContext.WithPrecision(100)

// ParseAmount converts a non-negative decimal string into an integer amount
// with the given number of decimals. Digits beyond those decimals are rejected.
func ParseAmount(s string, decimals uint8) (*uint256.Int, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrAmount, s, err)
	}
	if d.Negative || d.Form != apd.Finite {
		return nil, fmt.Errorf("%w: %q must be a finite non-negative number", ErrAmount, s)
	}

	var scaled apd.Decimal
	if _, err := decimalContext.Mul(&scaled, d, apd.New(1, int32(decimals))); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrAmount, s, err)
	}
	var integ, frac apd.Decimal
	scaled.Modf(&integ, &frac)
	if !frac.IsZero() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrAmount, s, decimals)
	}
	integ.Reduce(&integ)

	amount, err := uint256.FromDecimal(integ.Text('f'))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrAmount, s, err)
	}
	return amount, nil
}

// FormatAmount renders an integer amount with the given number of decimals.
func FormatAmount(amount *uint256.Int, decimals uint8) string {
	var coeff apd.BigInt
	coeff.SetMathBigInt(amount.ToBig())
	d := apd.NewWithBigInt(&coeff, -int32(decimals))
	d.Reduce(d)
	return d.Text('f')
}
