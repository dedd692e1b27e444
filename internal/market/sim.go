package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrReserveInactive     = errors.New("market: reserve inactive or frozen")
	ErrReservePaused       = errors.New("market: reserve paused")
	ErrSupplyCapExceeded   = errors.New("market: supply cap exceeded")
	ErrInsufficientFunds   = errors.New("market: insufficient balance")
	ErrInsufficientApprove = errors.New("market: insufficient allowance")
)

// rayDiv returns floor(a*Ray/b).
func rayDiv(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Ray)
	return out.Div(out, b)
}

// Sim is an in-memory rendition of the pool, its wrapped token and the
// rewards controller, with a controllable liquidity index. It backs the
// service in local mode and the end-to-end tests.
type Sim struct {
	mu sync.Mutex

	cfg    ReserveConfig
	index  *big.Int // ray-scaled liquidity index
	client common.Address

	underlying *SimToken

	// wrapped token book, index-scaled like the real pool
	scaled            map[common.Address]*big.Int
	scaledSupply      *big.Int
	accruedToTreasury *big.Int
	allowances        map[common.Address]map[common.Address]*big.Int

	wrappedAddr common.Address

	rewardToken   common.Address
	pendingReward *big.Int
}

// NewSim builds a reserve for underlying with a 1.0 liquidity index.
// client is the account pool withdrawals are debited from (the vault).
func NewSim(underlying *SimToken, wrappedAddr, client common.Address, cfg ReserveConfig) *Sim {
	return &Sim{
		cfg:               cfg,
		index:             new(big.Int).Set(Ray),
		client:            client,
		underlying:        underlying,
		scaled:            make(map[common.Address]*big.Int),
		scaledSupply:      new(big.Int),
		accruedToTreasury: new(big.Int),
		allowances:        make(map[common.Address]map[common.Address]*big.Int),
		wrappedAddr:       wrappedAddr,
		pendingReward:     new(big.Int),
	}
}

// SetIndex replaces the liquidity index, making every wrapped balance grow
// (or shrink) proportionally. This is the sim's yield event.
func (s *Sim) SetIndex(index *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Set(index)
}

// SetConfig swaps the reserve configuration (flags, cap).
func (s *Sim) SetConfig(cfg ReserveConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// SetReward arms the rewards controller with a pending claim.
func (s *Sim) SetReward(token common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewardToken = token
	s.pendingReward = new(big.Int).Set(amount)
}

func (s *Sim) Pool() Pool                 { return (*simPool)(s) }
func (s *Sim) Wrapped() WrappedAsset      { return (*simWrapped)(s) }
func (s *Sim) Rewards() RewardsController { return (*simRewards)(s) }

func (s *Sim) scaledOf(holder common.Address) *big.Int {
	bal, ok := s.scaled[holder]
	if !ok {
		bal = new(big.Int)
		s.scaled[holder] = bal
	}
	return bal
}

func (s *Sim) balanceOf(holder common.Address) *big.Int {
	if bal, ok := s.scaled[holder]; ok {
		return RayMul(bal, s.index)
	}
	return new(big.Int)
}

// suppliedTotal is the cap-validation amount: (scaledSupply + treasury) * index.
func (s *Sim) suppliedTotal() *big.Int {
	total := new(big.Int).Add(s.scaledSupply, s.accruedToTreasury)
	return RayMul(total, s.index)
}

// ── Pool ───────────────────────────────────────────────────────────────────

type simPool Sim

func (p *simPool) Supply(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error {
	s := (*Sim)(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Active || s.cfg.Frozen {
		return ErrReserveInactive
	}
	if s.cfg.Paused {
		return ErrReservePaused
	}
	if s.cfg.SupplyCap > 0 {
		capWei := new(big.Int).SetUint64(s.cfg.SupplyCap)
		capWei.Mul(capWei, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.cfg.Decimals)), nil))
		if new(big.Int).Add(s.suppliedTotal(), amount).Cmp(capWei) > 0 {
			return ErrSupplyCapExceeded
		}
	}

	// pull the underlying from the supplier, credit index-scaled shares
	if err := s.underlying.debit(onBehalfOf, amount); err != nil {
		return err
	}
	scaled := rayDiv(amount, s.index)
	s.scaledOf(onBehalfOf).Add(s.scaledOf(onBehalfOf), scaled)
	s.scaledSupply.Add(s.scaledSupply, scaled)
	return nil
}

func (p *simPool) Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	s := (*Sim)(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Active {
		return nil, ErrReserveInactive
	}
	if s.cfg.Paused {
		return nil, ErrReservePaused
	}

	scaled := rayDiv(amount, s.index)
	bal := s.scaledOf(s.client)
	if bal.Cmp(scaled) < 0 {
		return nil, ErrInsufficientFunds
	}
	bal.Sub(bal, scaled)
	s.scaledSupply.Sub(s.scaledSupply, scaled)
	s.underlying.credit(to, amount)
	return new(big.Int).Set(amount), nil
}

func (p *simPool) GetReserveData(ctx context.Context, asset common.Address) (*ReserveData, error) {
	s := (*Sim)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	return &ReserveData{
		Configuration:     EncodeReserveConfig(s.cfg),
		LiquidityIndex:    new(big.Int).Set(s.index),
		AccruedToTreasury: new(big.Int).Set(s.accruedToTreasury),
		WrappedAsset:      s.wrappedAddr,
	}, nil
}

// ── Wrapped asset ──────────────────────────────────────────────────────────

type simWrapped Sim

func (w *simWrapped) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	s := (*Sim)(w)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceOf(holder), nil
}

func (w *simWrapped) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	s := (*Sim)(w)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveScaled(s.client, to, amount)
}

func (w *simWrapped) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	s := (*Sim)(w)
	s.mu.Lock()
	defer s.mu.Unlock()
	if from != s.client {
		byOwner := s.allowances[from]
		allowance, ok := byOwner[s.client]
		if !ok || allowance.Cmp(amount) < 0 {
			return ErrInsufficientApprove
		}
		allowance.Sub(allowance, amount)
	}
	return s.moveScaled(from, to, amount)
}

func (w *simWrapped) Approve(ctx context.Context, spender common.Address, amount *big.Int) error {
	// owner is the sim client; user approvals are set with ApproveWrapped
	s := (*Sim)(w)
	return s.ApproveWrapped(s.client, spender, amount)
}

func (w *simWrapped) ScaledTotalSupply(ctx context.Context) (*big.Int, error) {
	s := (*Sim)(w)
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.scaledSupply), nil
}

// ApproveWrapped records a wrapped-token allowance from owner to spender.
func (s *Sim) ApproveWrapped(owner, spender common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byOwner, ok := s.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		s.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

func (s *Sim) moveScaled(from, to common.Address, amount *big.Int) error {
	scaled := rayDiv(amount, s.index)
	bal := s.scaledOf(from)
	if bal.Cmp(scaled) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, scaled)
	s.scaledOf(to).Add(s.scaledOf(to), scaled)
	return nil
}

// ── Rewards ────────────────────────────────────────────────────────────────

type simRewards Sim

func (r *simRewards) ClaimAllRewards(ctx context.Context, assets []common.Address, to common.Address) ([]common.Address, []*big.Int, error) {
	s := (*Sim)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingReward.Sign() == 0 {
		return nil, nil, nil
	}
	amount := new(big.Int).Set(s.pendingReward)
	s.pendingReward.SetUint64(0)
	return []common.Address{s.rewardToken}, []*big.Int{amount}, nil
}

// ── Plain ERC-20 ───────────────────────────────────────────────────────────

// SimToken is a plain in-memory ERC-20 used for the underlying asset and
// stray rescue tokens.
type SimToken struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	// spender whose TransferFrom calls are authorized against allowances;
	// zero means any (tests)
	operator common.Address
}

func NewSimToken() *SimToken {
	return &SimToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// SetOperator pins the address TransferFrom spends allowances for.
func (t *SimToken) SetOperator(op common.Address) { t.operator = op }

// Fund credits a holder out of thin air (test / faucet helper).
func (t *SimToken) Fund(holder common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(holder, amount)
}

func (t *SimToken) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bal, ok := t.balances[holder]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (t *SimToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debitLocked(t.operator, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

func (t *SimToken) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.operator != (common.Address{}) && from != t.operator {
		byOwner := t.allowances[from]
		allowance, ok := byOwner[t.operator]
		if !ok || allowance.Cmp(amount) < 0 {
			return ErrInsufficientApprove
		}
		allowance.Sub(allowance, amount)
	}
	if err := t.debitLocked(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

func (t *SimToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) error {
	return nil // the sim pool pulls without allowance bookkeeping
}

// ApproveFor records an allowance from owner to spender.
func (t *SimToken) ApproveFor(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byOwner, ok := t.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		t.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
}

func (t *SimToken) credit(to common.Address, amount *big.Int) {
	bal, ok := t.balances[to]
	if !ok {
		bal = new(big.Int)
		t.balances[to] = bal
	}
	bal.Add(bal, amount)
}

func (t *SimToken) debit(from common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.debitLocked(from, amount)
}

func (t *SimToken) debitLocked(from common.Address, amount *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, from.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}
