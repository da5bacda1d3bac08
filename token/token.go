package token

import (
	"errors"
	"fmt"

	"github.com/defistate/lendgine-go/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrBalanceReturn is returned when a balance query fails or returns no value.
	ErrBalanceReturn = errors.New("balance query returned no value")
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when transferFrom exceeds the spender's allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrSupplyOverflow is returned when minting would overflow the total supply.
	ErrSupplyOverflow = errors.New("total supply overflow")
)

// Token is the asset contract interface the pool and the engine depend on: a
// read-only balance query and a transfer primitive used for all outbound
// movement.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Balance reads owner's balance of t. A failed read or a nil result surfaces as
// ErrBalanceReturn.
func Balance(t Token, owner common.Address) (*uint256.Int, error) {
	balance, err := t.BalanceOf(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: token %s: %v", ErrBalanceReturn, t.Address(), err)
	}
	if balance == nil {
		return nil, fmt.Errorf("%w: token %s", ErrBalanceReturn, t.Address())
	}
	return balance, nil
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Config holds the static description of a ledger.
type Config struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Journal  *chain.Journal
}

func (c *Config) validate() error {
	if c.Journal == nil {
		return errors.New("config: Journal cannot be nil")
	}
	if c.Address == (common.Address{}) {
		return errors.New("config: Address cannot be the zero address")
	}
	return nil
}

// Ledger is an in-memory fungible balance ledger with transfer/approve
// semantics. Every write is journaled so it rolls back with the call that made it.
//
// Ledger is NOT safe for concurrent use.
type Ledger struct {
	address  common.Address
	symbol   string
	decimals uint8
	journal  *chain.Journal

	totalSupply uint256.Int
	balances    map[common.Address]uint256.Int
	allowances  map[allowanceKey]uint256.Int
}

// NewLedger creates an empty ledger.
func NewLedger(cfg Config) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		address:    cfg.Address,
		symbol:     cfg.Symbol,
		decimals:   cfg.Decimals,
		journal:    cfg.Journal,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
	}, nil
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }

// TotalSupply returns a copy of the total supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(&l.totalSupply)
}

// BalanceOf returns a copy of owner's balance. It never fails.
func (l *Ledger) BalanceOf(owner common.Address) (*uint256.Int, error) {
	balance := l.balances[owner]
	return new(uint256.Int).Set(&balance), nil
}

// Allowance returns a copy of the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	allowance := l.allowances[allowanceKey{owner: owner, spender: spender}]
	return new(uint256.Int).Set(&allowance)
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	return l.journal.Call(nil, func() error {
		return l.transfer(from, to, amount)
	})
}

// Approve sets the amount spender may move on behalf of owner.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	return l.journal.Call(nil, func() error {
		l.setAllowance(allowanceKey{owner: owner, spender: spender}, *amount)
		return nil
	})
}

// TransferFrom moves amount from from to to, spending spender's allowance. An
// allowance equal to the maximum uint256 value is never decreased.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	return l.journal.Call(nil, func() error {
		key := allowanceKey{owner: from, spender: spender}
		allowance := l.allowances[key]
		if !isMaxUint(&allowance) {
			if allowance.Lt(amount) {
				return fmt.Errorf("%w: %s allows %s, want %s", ErrInsufficientAllowance, from, allowance.Dec(), amount.Dec())
			}
			var remaining uint256.Int
			remaining.Sub(&allowance, amount)
			l.setAllowance(key, remaining)
		}
		return l.transfer(from, to, amount)
	})
}

// Mint creates amount new units owned by to.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	return l.journal.Call(nil, func() error {
		var supply uint256.Int
		if _, overflow := supply.AddOverflow(&l.totalSupply, amount); overflow {
			return ErrSupplyOverflow
		}
		chain.Set(l.journal, &l.totalSupply, supply)
		balance := l.balances[to]
		balance.Add(&balance, amount)
		l.setBalance(to, balance)
		return nil
	})
}

// Burn destroys amount units owned by from.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	return l.journal.Call(nil, func() error {
		balance := l.balances[from]
		if balance.Lt(amount) {
			return fmt.Errorf("%w: %s holds %s, burn %s", ErrInsufficientBalance, from, balance.Dec(), amount.Dec())
		}
		balance.Sub(&balance, amount)
		l.setBalance(from, balance)

		var supply uint256.Int
		supply.Sub(&l.totalSupply, amount)
		chain.Set(l.journal, &l.totalSupply, supply)
		return nil
	})
}

func (l *Ledger) transfer(from, to common.Address, amount *uint256.Int) error {
	fromBalance := l.balances[from]
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, transfer %s", ErrInsufficientBalance, from, fromBalance.Dec(), l.symbol, amount.Dec())
	}
	if from == to || amount.IsZero() {
		return nil
	}
	fromBalance.Sub(&fromBalance, amount)
	l.setBalance(from, fromBalance)

	toBalance := l.balances[to]
	toBalance.Add(&toBalance, amount)
	l.setBalance(to, toBalance)
	return nil
}

func (l *Ledger) setBalance(owner common.Address, balance uint256.Int) {
	prev, existed := l.balances[owner]
	l.journal.Append(func() {
		if existed {
			l.balances[owner] = prev
		} else {
			delete(l.balances, owner)
		}
	})
	l.balances[owner] = balance
}

func (l *Ledger) setAllowance(key allowanceKey, allowance uint256.Int) {
	prev, existed := l.allowances[key]
	l.journal.Append(func() {
		if existed {
			l.allowances[key] = prev
		} else {
			delete(l.allowances, key)
		}
	})
	l.allowances[key] = allowance
}

func isMaxUint(x *uint256.Int) bool {
	return x[0] == ^uint64(0) && x[1] == ^uint64(0) && x[2] == ^uint64(0) && x[3] == ^uint64(0)
}

// MaxUint256 returns a fresh copy of the largest uint256 value, the conventional
// "unlimited" allowance.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}
