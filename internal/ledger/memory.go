package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNegativeAmount      = errors.New("ledger: negative amount")
)

// Memory is an in-process share book. The engine is the only writer, but a
// mutex keeps concurrent view reads safe.
type Memory struct {
	mu         sync.RWMutex
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (m *Memory) TotalSupply(ctx context.Context) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.supply), nil
}

func (m *Memory) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal, ok := m.balances[holder]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (m *Memory) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(to, amount)
	m.supply.Add(m.supply, amount)
	return nil
}

func (m *Memory) Burn(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(from, amount); err != nil {
		return err
	}
	m.supply.Sub(m.supply, amount)
	return nil
}

func (m *Memory) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(from, amount); err != nil {
		return err
	}
	m.credit(to, amount)
	return nil
}

func (m *Memory) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byOwner, ok := m.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		m.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

func (m *Memory) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byOwner, ok := m.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return new(big.Int).Set(a), nil
		}
	}
	return new(big.Int), nil
}

func (m *Memory) credit(to common.Address, amount *big.Int) {
	bal, ok := m.balances[to]
	if !ok {
		bal = new(big.Int)
		m.balances[to] = bal
	}
	bal.Add(bal, amount)
}

func (m *Memory) debit(from common.Address, amount *big.Int) error {
	bal, ok := m.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}
