package pair

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/metrics"
	"github.com/defistate/lendgine-go/protocols/pair/calculator"
	"github.com/defistate/lendgine-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const component = "pair"

var (
	// ErrInvariant is returned when the reserves no longer back the supply on the curve.
	ErrInvariant = errors.New("invariant violated")
	// ErrSpeculativeInvariant is returned when the speculative reserve exceeds the curve's cap.
	ErrSpeculativeInvariant = calculator.ErrSpeculativeInvariant
	// ErrBuffer is returned when the buffer would exceed the supply or drop below zero.
	ErrBuffer = errors.New("buffer out of range")
	// ErrLendgine is returned when a buffer adjustment is attempted without the pool's key.
	ErrLendgine = errors.New("caller is not the paired lendgine")
	// ErrInsufficientOutput is returned for a mint, burn or swap that would move nothing.
	ErrInsufficientOutput = errors.New("insufficient output")
	// ErrScale is returned for token decimals outside the supported range.
	ErrScale = calculator.ErrScale
)

// Logger is the structured, leveled logger the pool writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BufferKey is the capability required to move the buffer. It is handed out once,
// by New, and belongs to the engine paired with the pool.
type BufferKey struct {
	pair *Pair
}

// Config describes a pool.
type Config struct {
	Address        common.Address
	Token0         token.Token // base asset
	Token1         token.Token // speculative asset
	Token0Decimals uint8
	Token1Decimals uint8
	UpperBound     *uint256.Int
	Journal        *chain.Journal
	Logger         Logger
	Metrics        *metrics.Metrics // optional
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address cannot be the zero address")
	}
	if c.Token0 == nil || c.Token1 == nil {
		return errors.New("config: Token0 and Token1 cannot be nil")
	}
	if c.Token0.Address() == c.Token1.Address() {
		return errors.New("config: Token0 and Token1 must differ")
	}
	if c.Journal == nil {
		return errors.New("config: Journal cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if err := calculator.ValidateUpperBound(c.UpperBound); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Pair is a two-asset reserve pool whose reserves must back its supply of
// liquidity units on the invariant curve. Reserves are the pool's own balances
// in the two token contracts, so callers transfer assets in before calling Mint
// or after receiving a Swap output.
//
// Pair is NOT safe for concurrent use.
type Pair struct {
	address    common.Address
	token0     token.Token
	token1     token.Token
	scale0     *uint256.Int
	scale1     *uint256.Int
	upperBound *uint256.Int

	journal *chain.Journal
	guard   chain.Guard
	key     *BufferKey
	logger  Logger
	metrics *metrics.Metrics

	totalSupply uint256.Int
	buffer      uint256.Int
}

// New creates an empty pool and the key authorizing buffer adjustments.
func New(cfg Config) (*Pair, *BufferKey, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	scale0, err := calculator.Scale(cfg.Token0Decimals)
	if err != nil {
		return nil, nil, fmt.Errorf("token0: %w", err)
	}
	scale1, err := calculator.Scale(cfg.Token1Decimals)
	if err != nil {
		return nil, nil, fmt.Errorf("token1: %w", err)
	}

	p := &Pair{
		address:    cfg.Address,
		token0:     cfg.Token0,
		token1:     cfg.Token1,
		scale0:     scale0,
		scale1:     scale1,
		upperBound: new(uint256.Int).Set(cfg.UpperBound),
		journal:    cfg.Journal,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	p.key = &BufferKey{pair: p}
	return p, p.key, nil
}

func (p *Pair) Address() common.Address { return p.address }
func (p *Pair) Token0() token.Token     { return p.token0 }
func (p *Pair) Token1() token.Token     { return p.token1 }

// Scale0 returns the base asset's normalization factor. It MUST NOT be modified.
func (p *Pair) Scale0() *uint256.Int { return p.scale0 }

// Scale1 returns the speculative asset's normalization factor. It MUST NOT be modified.
func (p *Pair) Scale1() *uint256.Int { return p.scale1 }

// UpperBound returns a copy of the curve's upper bound price.
func (p *Pair) UpperBound() *uint256.Int { return new(uint256.Int).Set(p.upperBound) }

// TotalSupply returns a copy of the minted liquidity.
func (p *Pair) TotalSupply() *uint256.Int { return new(uint256.Int).Set(&p.totalSupply) }

// Buffer returns a copy of the liquidity minted but not yet assigned.
func (p *Pair) Buffer() *uint256.Int { return new(uint256.Int).Set(&p.buffer) }

// Reserves returns the pool's balances of token0 and token1.
func (p *Pair) Reserves() (*uint256.Int, *uint256.Int, error) {
	balance0, err := token.Balance(p.token0, p.address)
	if err != nil {
		return nil, nil, err
	}
	balance1, err := token.Balance(p.token1, p.address)
	if err != nil {
		return nil, nil, err
	}
	return balance0, balance1, nil
}

// Invariant reports whether reserves (amount0, amount1) back liquidity on this
// pool's curve.
func (p *Pair) Invariant(amount0, amount1, liquidity *uint256.Int) (bool, error) {
	return calculator.Invariant(amount0, amount1, liquidity, p.scale0, p.scale1, p.upperBound)
}

// Mint creates liquidity units backed by assets already transferred to the
// pool. The new units are added to the buffer.
func (p *Pair) Mint(liquidity *uint256.Int) error {
	start := time.Now()
	err := p.journal.Call(&p.guard, func() error {
		if liquidity.IsZero() {
			return ErrInsufficientOutput
		}
		balance0, balance1, err := p.Reserves()
		if err != nil {
			return err
		}

		var supply uint256.Int
		if _, overflow := supply.AddOverflow(&p.totalSupply, liquidity); overflow {
			return fmt.Errorf("%w: supply overflow", ErrInvariant)
		}
		if err := p.checkInvariant(balance0, balance1, &supply); err != nil {
			return err
		}

		var buffer uint256.Int
		buffer.Add(&p.buffer, liquidity)
		chain.Set(p.journal, &p.totalSupply, supply)
		chain.Set(p.journal, &p.buffer, buffer)

		p.logger.Debug("minted liquidity", "liquidity", liquidity.Dec(), "totalSupply", supply.Dec())
		return nil
	})
	p.observe("mint", start, err)
	return err
}

// Burn destroys liquidity units taken from the buffer and sends their pro-rata
// share of both reserves to to.
func (p *Pair) Burn(to common.Address, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	start := time.Now()
	err = p.journal.Call(&p.guard, func() error {
		if liquidity.IsZero() {
			return ErrInsufficientOutput
		}
		if liquidity.Gt(&p.buffer) {
			return fmt.Errorf("%w: burn %s above buffer %s", ErrBuffer, liquidity.Dec(), p.buffer.Dec())
		}

		balance0, balance1, err := p.Reserves()
		if err != nil {
			return err
		}
		amount0, _ = new(uint256.Int).MulDivOverflow(balance0, liquidity, &p.totalSupply)
		amount1, _ = new(uint256.Int).MulDivOverflow(balance1, liquidity, &p.totalSupply)
		if amount0.IsZero() && amount1.IsZero() {
			return ErrInsufficientOutput
		}

		var supply, buffer uint256.Int
		supply.Sub(&p.totalSupply, liquidity)
		buffer.Sub(&p.buffer, liquidity)
		chain.Set(p.journal, &p.totalSupply, supply)
		chain.Set(p.journal, &p.buffer, buffer)

		if err := p.pay(to, amount0, amount1); err != nil {
			return err
		}

		balance0, balance1, err = p.Reserves()
		if err != nil {
			return err
		}
		if err := p.checkInvariant(balance0, balance1, &supply); err != nil {
			return err
		}

		p.logger.Debug("burned liquidity", "liquidity", liquidity.Dec(), "amount0", amount0.Dec(), "amount1", amount1.Dec(), "to", to)
		return nil
	})
	p.observe("burn", start, err)
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Swap sends the requested outputs to to and then requires the reserves left
// behind to still back the unchanged supply. Callers deposit the counter-asset
// beforehand.
func (p *Pair) Swap(to common.Address, amount0Out, amount1Out *uint256.Int) error {
	start := time.Now()
	err := p.journal.Call(&p.guard, func() error {
		if amount0Out.IsZero() && amount1Out.IsZero() {
			return ErrInsufficientOutput
		}
		if err := p.pay(to, amount0Out, amount1Out); err != nil {
			return err
		}

		balance0, balance1, err := p.Reserves()
		if err != nil {
			return err
		}
		if err := p.checkInvariant(balance0, balance1, &p.totalSupply); err != nil {
			return err
		}

		p.logger.Debug("swapped", "amount0Out", amount0Out.Dec(), "amount1Out", amount1Out.Dec(), "to", to)
		return nil
	})
	p.observe("swap", start, err)
	return err
}

// AddBuffer moves amount of supply into the buffer.
func (p *Pair) AddBuffer(key *BufferKey, amount *uint256.Int) error {
	start := time.Now()
	err := p.journal.Call(&p.guard, func() error {
		if err := p.authorize(key); err != nil {
			return err
		}
		var buffer uint256.Int
		if _, overflow := buffer.AddOverflow(&p.buffer, amount); overflow || buffer.Gt(&p.totalSupply) {
			return fmt.Errorf("%w: add %s to %s exceeds supply %s", ErrBuffer, amount.Dec(), p.buffer.Dec(), p.totalSupply.Dec())
		}
		chain.Set(p.journal, &p.buffer, buffer)
		return nil
	})
	p.observe("add_buffer", start, err)
	return err
}

// RemoveBuffer takes amount out of the buffer.
func (p *Pair) RemoveBuffer(key *BufferKey, amount *uint256.Int) error {
	start := time.Now()
	err := p.journal.Call(&p.guard, func() error {
		if err := p.authorize(key); err != nil {
			return err
		}
		if amount.Gt(&p.buffer) {
			return fmt.Errorf("%w: remove %s from %s", ErrBuffer, amount.Dec(), p.buffer.Dec())
		}
		var buffer uint256.Int
		buffer.Sub(&p.buffer, amount)
		chain.Set(p.journal, &p.buffer, buffer)
		return nil
	})
	p.observe("remove_buffer", start, err)
	return err
}

func (p *Pair) authorize(key *BufferKey) error {
	if key == nil || key != p.key {
		return ErrLendgine
	}
	return nil
}

func (p *Pair) checkInvariant(balance0, balance1, supply *uint256.Int) error {
	ok, err := p.Invariant(balance0, balance1, supply)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: reserves (%s, %s) for supply %s", ErrInvariant, balance0.Dec(), balance1.Dec(), supply.Dec())
	}
	return nil
}

func (p *Pair) pay(to common.Address, amount0, amount1 *uint256.Int) error {
	if !amount0.IsZero() {
		if err := p.token0.Transfer(p.address, to, amount0); err != nil {
			return err
		}
	}
	if !amount1.IsZero() {
		if err := p.token1.Transfer(p.address, to, amount1); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pair) observe(operation string, start time.Time, err error) {
	p.metrics.Observe(component, operation, start, err)
	if err == nil {
		p.metrics.RecordPool(&p.totalSupply, &p.buffer)
	}
}
