// Package router bundles the multi-step flows a caller runs against a pool and
// its engine into single all-or-nothing calls. It pulls funds with allowances
// granted to the router's address and acts as the engine's deposit payer.
package router

import (
	"errors"
	"fmt"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/defistate/lendgine-go/protocols/pair"
	"github.com/defistate/lendgine-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrToken is returned when a configured token does not match the pool's.
	ErrToken = errors.New("token mismatch")
	// ErrCallback is returned when the deposit callback does not come from an
	// in-flight borrow.
	ErrCallback = errors.New("unexpected callback")
	// ErrSlippage is returned when a flow would move more than the caller allowed.
	ErrSlippage = errors.New("slippage")
)

// Logger is the structured, leveled logger the router writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Spendable is a token the router can pull from an owner with an allowance.
type Spendable interface {
	token.Token
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// Config describes a router.
type Config struct {
	Address  common.Address
	Pair     *pair.Pair
	Lendgine *lendgine.Lendgine
	Token0   Spendable
	Token1   Spendable
	Journal  *chain.Journal
	Logger   Logger
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address cannot be the zero address")
	}
	if c.Pair == nil {
		return errors.New("config: Pair cannot be nil")
	}
	if c.Lendgine == nil {
		return errors.New("config: Lendgine cannot be nil")
	}
	if c.Token0 == nil || c.Token1 == nil {
		return errors.New("config: Token0 and Token1 cannot be nil")
	}
	if c.Journal == nil {
		return errors.New("config: Journal cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Token0.Address() != c.Pair.Token0().Address() {
		return fmt.Errorf("%w: token0 %s, pool token0 %s", ErrToken, c.Token0.Address(), c.Pair.Token0().Address())
	}
	if c.Token1.Address() != c.Pair.Token1().Address() {
		return fmt.Errorf("%w: token1 %s, pool token1 %s", ErrToken, c.Token1.Address(), c.Pair.Token1().Address())
	}
	if c.Lendgine.Pool().Address() != c.Pair.Address() {
		return errors.New("config: Lendgine is not paired with Pair")
	}
	return nil
}

// Router is NOT safe for concurrent use.
type Router struct {
	address  common.Address
	pair     *pair.Pair
	lendgine *lendgine.Lendgine
	token0   Spendable
	token1   Spendable
	journal  *chain.Journal
	guard    chain.Guard
	logger   Logger

	// payer is the owner whose deposit is in flight.
	payer *common.Address
}

func New(cfg Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Router{
		address:  cfg.Address,
		pair:     cfg.Pair,
		lendgine: cfg.Lendgine,
		token0:   cfg.Token0,
		token1:   cfg.Token1,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
	}, nil
}

func (r *Router) Address() common.Address { return r.address }

// MintAndStake pulls amount0 and amount1 from owner into the pool, mints
// liquidity and stakes it at tick t for owner.
func (r *Router) MintAndStake(owner common.Address, t uint32, amount0, amount1, liquidity *uint256.Int) (staked *uint256.Int, err error) {
	err = r.journal.Call(&r.guard, func() error {
		if err := r.pull(owner, r.pair.Address(), amount0, amount1); err != nil {
			return err
		}
		if err := r.pair.Mint(liquidity); err != nil {
			return err
		}
		staked, err = r.lendgine.Stake(owner, t)
		if err != nil {
			return err
		}
		r.logger.Debug("minted and staked", "owner", owner, "tick", t, "liquidity", staked.Dec())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return staked, nil
}

// UnstakeAndBurn unstakes liquidity from owner's position at tick t and burns
// what the engine frees for the underlying reserves, sent to recipient. Less
// than liquidity is burned when part of the stake was diluted away by interest.
func (r *Router) UnstakeAndBurn(owner common.Address, t uint32, liquidity *uint256.Int, recipient common.Address) (amount0, amount1 *uint256.Int, err error) {
	err = r.journal.Call(&r.guard, func() error {
		before := r.pair.Buffer()
		if err := r.lendgine.Unstake(owner, t, liquidity); err != nil {
			return err
		}
		freed := new(uint256.Int).Sub(r.pair.Buffer(), before)
		amount0, amount1, err = r.pair.Burn(recipient, freed)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Borrow deposits amount of owner's speculative asset into the engine, mints
// the shares to owner and burns the borrowed liquidity for its reserves, sent
// to recipient. The burn must yield at least minAmount0 of the base asset.
func (r *Router) Borrow(owner common.Address, amount, minAmount0 *uint256.Int, recipient common.Address) (shares, amount0, amount1 *uint256.Int, err error) {
	err = r.journal.Call(&r.guard, func() error {
		liquidity, err := r.lendgine.ConvertAssetToLiquidity(amount)
		if err != nil {
			return err
		}

		r.payer = &owner
		shares, err = r.lendgine.Deposit(r, owner, amount, owner.Bytes())
		r.payer = nil
		if err != nil {
			return err
		}

		amount0, amount1, err = r.pair.Burn(recipient, liquidity)
		if err != nil {
			return err
		}
		if minAmount0 != nil && amount0.Lt(minAmount0) {
			return fmt.Errorf("%w: burn returned %s base, want at least %s", ErrSlippage, amount0.Dec(), minAmount0.Dec())
		}

		r.logger.Debug("borrowed", "owner", owner, "amount", amount.Dec(), "shares", shares.Dec(), "liquidity", liquidity.Dec())
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return shares, amount0, amount1, nil
}

// LendgineCallback pays a deposit started by Borrow from the owner encoded in
// data.
func (r *Router) LendgineCallback(amount *uint256.Int, data []byte) error {
	if r.payer == nil || len(data) != common.AddressLength || common.BytesToAddress(data) != *r.payer {
		return ErrCallback
	}
	return r.token1.TransferFrom(r.address, *r.payer, r.lendgine.Address(), amount)
}

// Repay accrues interest, mints back the liquidity behind shares from owner's
// reserves, and withdraws the speculative asset it frees to recipient. The
// reserves are pulled rounded up so the pool never loses to rounding; at most
// maxAmount0 of the base asset is pulled.
func (r *Router) Repay(owner common.Address, shares, maxAmount0 *uint256.Int, recipient common.Address) (amount *uint256.Int, err error) {
	err = r.journal.Call(&r.guard, func() error {
		if err := r.lendgine.AccrueInterest(); err != nil {
			return err
		}
		liquidity, err := r.lendgine.ConvertSharesToLiquidity(shares)
		if err != nil {
			return err
		}
		if liquidity.IsZero() {
			return lendgine.ErrInsufficientOutput
		}

		reserve0, reserve1, err := r.pair.Reserves()
		if err != nil {
			return err
		}
		supply := r.pair.TotalSupply()
		var amount0, amount1 uint256.Int
		if err := liquiditymath.MulDivRoundingUp(&amount0, reserve0, liquidity, supply); err != nil {
			return err
		}
		if err := liquiditymath.MulDivRoundingUp(&amount1, reserve1, liquidity, supply); err != nil {
			return err
		}
		if maxAmount0 != nil && amount0.Gt(maxAmount0) {
			return fmt.Errorf("%w: repay needs %s base, allowed %s", ErrSlippage, amount0.Dec(), maxAmount0.Dec())
		}

		if err := r.pull(owner, r.pair.Address(), &amount0, &amount1); err != nil {
			return err
		}
		if err := r.pair.Mint(liquidity); err != nil {
			return err
		}
		if err := r.lendgine.Shares().TransferFrom(r.address, owner, r.lendgine.Address(), shares); err != nil {
			return err
		}

		_, _, amount, err = r.lendgine.Withdraw(recipient)
		if err != nil {
			return err
		}
		r.logger.Debug("repaid", "owner", owner, "shares", shares.Dec(), "liquidity", liquidity.Dec(), "amount", amount.Dec())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// pull moves the non-zero amounts from owner to to.
func (r *Router) pull(owner, to common.Address, amount0, amount1 *uint256.Int) error {
	if amount0 != nil && !amount0.IsZero() {
		if err := r.token0.TransferFrom(r.address, owner, to, amount0); err != nil {
			return fmt.Errorf("token0: %w", err)
		}
	}
	if amount1 != nil && !amount1.IsZero() {
		if err := r.token1.TransferFrom(r.address, owner, to, amount1); err != nil {
			return fmt.Errorf("token1: %w", err)
		}
	}
	return nil
}
