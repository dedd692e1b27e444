package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openyield/avault/internal/ledger"
	"github.com/openyield/avault/internal/market"
)

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000ca0")
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

var errFaultInjected = errors.New("fault injected")

// stepClock only moves when the test says so.
type stepClock struct{ now uint64 }

func (c *stepClock) Now() uint64      { return c.now }
func (c *stepClock) Advance(d uint64) { c.now += d }

// fakeToken is a minimal balance book implementing market.ERC20. Transfer
// debits the vault (the only caller of outbound transfers in the engine).
type fakeToken struct {
	balances map[common.Address]*big.Int
	// spender → last approved amount
	approvals map[common.Address]*big.Int

	failTransfer     bool
	failTransferFrom bool
	failApprove      bool
	onTransfer       func(to common.Address, amount *big.Int)
}

func newFakeToken() *fakeToken {
	return &fakeToken{balances: make(map[common.Address]*big.Int)}
}

func (t *fakeToken) bal(a common.Address) *big.Int {
	b, ok := t.balances[a]
	if !ok {
		b = new(big.Int)
		t.balances[a] = b
	}
	return b
}

func (t *fakeToken) set(a common.Address, amount int64) { t.bal(a).SetInt64(amount) }

func (t *fakeToken) add(a common.Address, amount int64) {
	t.bal(a).Add(t.bal(a), big.NewInt(amount))
}

func (t *fakeToken) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return new(big.Int).Set(t.bal(holder)), nil
}

func (t *fakeToken) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	if t.failTransfer {
		return errFaultInjected
	}
	if t.onTransfer != nil {
		t.onTransfer(to, amount)
	}
	return t.move(vaultAddr, to, amount)
}

func (t *fakeToken) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) error {
	if t.failTransferFrom {
		return errFaultInjected
	}
	return t.move(from, to, amount)
}

func (t *fakeToken) Approve(_ context.Context, spender common.Address, amount *big.Int) error {
	if t.failApprove {
		return errFaultInjected
	}
	if t.approvals == nil {
		t.approvals = make(map[common.Address]*big.Int)
	}
	t.approvals[spender] = new(big.Int).Set(amount)
	return nil
}

func (t *fakeToken) move(from, to common.Address, amount *big.Int) error {
	if t.bal(from).Cmp(amount) < 0 {
		return errors.New("insufficient token balance")
	}
	t.bal(from).Sub(t.bal(from), amount)
	t.bal(to).Add(t.bal(to), amount)
	return nil
}

// fakeWrapped adds the scaled-supply view on top of fakeToken.
type fakeWrapped struct {
	fakeToken
	scaledSupply *big.Int
}

func newFakeWrapped() *fakeWrapped {
	return &fakeWrapped{
		fakeToken:    fakeToken{balances: make(map[common.Address]*big.Int)},
		scaledSupply: new(big.Int),
	}
}

func (w *fakeWrapped) ScaledTotalSupply(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(w.scaledSupply), nil
}

// fakePool mints/burns wrapped 1:1 against supplied underlying, which keeps
// expected values exact in tests.
type fakePool struct {
	underlying *fakeToken
	wrapped    *fakeWrapped
	reserve    market.ReserveData

	failSupply   bool
	failWithdraw bool
}

func (p *fakePool) Supply(_ context.Context, _ common.Address, amount *big.Int, onBehalfOf common.Address, _ uint16) error {
	if p.failSupply {
		return errFaultInjected
	}
	// pull from the supplier, mint wrapped
	if err := p.underlying.move(onBehalfOf, common.Address{}, amount); err != nil {
		return err
	}
	p.wrapped.bal(onBehalfOf).Add(p.wrapped.bal(onBehalfOf), amount)
	return nil
}

func (p *fakePool) Withdraw(_ context.Context, _ common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if p.failWithdraw {
		return nil, errFaultInjected
	}
	if p.wrapped.bal(vaultAddr).Cmp(amount) < 0 {
		return nil, errors.New("pool: insufficient wrapped balance")
	}
	p.wrapped.bal(vaultAddr).Sub(p.wrapped.bal(vaultAddr), amount)
	p.underlying.bal(to).Add(p.underlying.bal(to), amount)
	return new(big.Int).Set(amount), nil
}

func (p *fakePool) GetReserveData(_ context.Context, _ common.Address) (*market.ReserveData, error) {
	rd := p.reserve
	return &rd, nil
}

type fakeRewards struct {
	token  common.Address
	amount *big.Int
	to     common.Address
}

func (r *fakeRewards) ClaimAllRewards(_ context.Context, _ []common.Address, to common.Address) ([]common.Address, []*big.Int, error) {
	r.to = to
	if r.amount == nil || r.amount.Sign() == 0 {
		return nil, nil, nil
	}
	return []common.Address{r.token}, []*big.Int{new(big.Int).Set(r.amount)}, nil
}

// harness bundles a vault with all fake collaborators at t=1000.
type harness struct {
	v          *Vault
	underlying *fakeToken
	wrapped    *fakeWrapped
	pool       *fakePool
	rewards    *fakeRewards
	shares     ledger.Ledger
	clock      *stepClock
}

// newHarness builds a vault with the given wad fee.
func newHarness(t *testing.T, feeWad *big.Int) *harness {
	t.Helper()

	underlying := newFakeToken()
	wrapped := newFakeWrapped()
	pool := &fakePool{
		underlying: underlying,
		wrapped:    wrapped,
		reserve: market.ReserveData{
			Configuration:     market.EncodeReserveConfig(market.ReserveConfig{Active: true, Decimals: 6}),
			LiquidityIndex:    new(big.Int).Set(market.Ray),
			AccruedToTreasury: new(big.Int),
			WrappedAsset:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		},
	}
	rewards := &fakeRewards{token: common.HexToAddress("0x00000000000000000000000000000000000000cc")}
	shares := ledger.NewMemory()
	clock := &stepClock{now: 1000}

	state := NewState()
	state.FeeWad.Set(feeWad)

	v := New(Params{
		Addr:       vaultAddr,
		Owner:      ownerAddr,
		Underlying: common.HexToAddress("0x00000000000000000000000000000000000000dd"),
		Wrapped:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		PoolAddr:   poolAddr,
		ChainID:    big.NewInt(31337),

		UnderlyingToken: underlying,
		WrappedToken:    wrapped,
		Pool:            pool,
		Rewards:         rewards,
		Shares:          shares,

		State: state,
		Clock: clock,
	})

	return &harness{
		v:          v,
		underlying: underlying,
		wrapped:    wrapped,
		pool:       pool,
		rewards:    rewards,
		shares:     shares,
		clock:      clock,
	}
}

// seed funds alice and runs the mandatory first deposit.
func (h *harness) seed(t *testing.T, amount int64) {
	t.Helper()
	h.underlying.add(alice, amount)
	if _, err := h.v.Initialize(context.Background(), alice, big.NewInt(amount)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

// yield simulates external interest: the wrapped balance grows in place.
func (h *harness) yield(amount int64) {
	h.wrapped.add(vaultAddr, amount)
	h.clock.Advance(1)
}

func (h *harness) sharesOf(t *testing.T, holder common.Address) *big.Int {
	t.Helper()
	b, err := h.shares.BalanceOf(context.Background(), holder)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// tenPercent is 0.1e18.
func tenPercent() *big.Int {
	fee, _ := new(big.Int).SetString("100000000000000000", 10)
	return fee
}
