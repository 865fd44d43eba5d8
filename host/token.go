package host

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Asset transfer failures. Callers treat any of these as a reason to fail
// the whole call.
var (
	ErrInsufficientBalance   = errors.New("host: insufficient balance")
	ErrInsufficientAllowance = errors.New("host: insufficient allowance")
	ErrInvalidTransferAmount = errors.New("host: transfer amount must be positive")
)

// Token is the fungible-asset capability the settlement core depends on.
// It mirrors the ERC-20 surface: direct transfers, allowance-based pulls,
// and allowance grants. All mutating methods take the frame they execute
// in so their writes join the call's journal. The caller identity for a
// mutation is the frame's caller (the on-chain msg.sender).
type Token interface {
	BalanceOf(addr common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Transfer(f *Frame, to common.Address, amount *big.Int) error
	TransferFrom(f *Frame, from, to common.Address, amount *big.Int) error
	Approve(f *Frame, spender common.Address, amount *big.Int) error
}

// TransferObserver is invoked synchronously after every balance movement,
// inside the moving call's frame. This is the adversarial hook a hostile
// token implementation could use to re-enter the settlement core, and what
// the reentrancy tests attack through.
type TransferObserver func(f *Frame, from, to common.Address, amount *big.Int)

// StandardToken is an in-memory ERC-20-style asset whose balances and
// allowances write through the call journal, so a reverted call leaves no
// trace in token state.
type StandardToken struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	observer   TransferObserver
}

// NewStandardToken creates an empty token. Balances are seeded with Mint.
func NewStandardToken(symbol string) *StandardToken {
	return &StandardToken{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Symbol returns the token's display symbol.
func (t *StandardToken) Symbol() string {
	return t.symbol
}

// SetTransferObserver installs the post-transfer hook. Passing nil removes it.
func (t *StandardToken) SetTransferObserver(obs TransferObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = obs
}

// Mint credits addr outside any call frame. Fixture/seeding helper; the
// settlement core never mints.
func (t *StandardToken) Mint(addr common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[addr] = new(big.Int).Add(t.balance(addr), amount)
}

// BalanceOf returns addr's balance, zero for unknown accounts.
func (t *StandardToken) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(addr))
}

// Allowance returns the amount spender may pull from owner.
func (t *StandardToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.allowance(owner, spender))
}

// Transfer moves amount from the frame's caller to recipient.
func (t *StandardToken) Transfer(f *Frame, to common.Address, amount *big.Int) error {
	return t.move(f, f.Caller(), to, amount)
}

// TransferFrom moves amount from the owner to recipient, debiting the
// frame caller's allowance. The allowance write and the balance writes all
// join the journal.
func (t *StandardToken) TransferFrom(f *Frame, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransferAmount
	}
	spender := f.Caller()

	t.mu.Lock()
	allowed := t.allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		t.mu.Unlock()
		return ErrInsufficientAllowance
	}
	t.setAllowance(f, from, spender, new(big.Int).Sub(allowed, amount))
	t.mu.Unlock()

	return t.move(f, from, to, amount)
}

// Approve sets (not increments) spender's allowance over the frame
// caller's balance.
func (t *StandardToken) Approve(f *Frame, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidTransferAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(f, f.Caller(), spender, new(big.Int).Set(amount))
	return nil
}

func (t *StandardToken) move(f *Frame, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransferAmount
	}

	t.mu.Lock()
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		t.mu.Unlock()
		return ErrInsufficientBalance
	}
	t.setBalance(f, from, new(big.Int).Sub(bal, amount))
	t.setBalance(f, to, new(big.Int).Add(t.balance(to), amount))
	obs := t.observer
	t.mu.Unlock()

	// The observer runs after the balance writes, inside the same frame.
	if obs != nil {
		obs(f, from, to, amount)
	}
	return nil
}

// balance must be called with t.mu held.
func (t *StandardToken) balance(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

// allowance must be called with t.mu held.
func (t *StandardToken) allowance(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

// setBalance journals the previous value before writing. Must be called
// with t.mu held.
func (t *StandardToken) setBalance(f *Frame, addr common.Address, v *big.Int) {
	prev, had := t.balances[addr]
	f.Journal(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if had {
			t.balances[addr] = prev
		} else {
			delete(t.balances, addr)
		}
	})
	t.balances[addr] = v
}

// setAllowance journals the previous value before writing. Must be called
// with t.mu held.
func (t *StandardToken) setAllowance(f *Frame, owner, spender common.Address, v *big.Int) {
	m, hadMap := t.allowances[owner]
	if !hadMap {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	prev, had := m[spender]
	f.Journal(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if had {
			m[spender] = prev
		} else {
			delete(m, spender)
		}
		if !hadMap && len(m) == 0 {
			delete(t.allowances, owner)
		}
	})
	m[spender] = v
}
