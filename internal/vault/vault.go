// Package vault is the custodial accounting engine: it supplies a pooled
// underlying asset into an external lending market, issues proportional
// claim shares, and skims a configurable fraction of the yield as a
// protocol fee. All state lives in a single exclusively-owned aggregate;
// every public operation is atomic (snapshot in, restore on failure).
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openyield/avault/internal/ledger"
	"github.com/openyield/avault/internal/market"
	"github.com/openyield/avault/internal/sigauth"
)

// AssetForm selects which token the caller supplies or receives: the raw
// underlying (routed through the pool) or the already-yield-bearing wrapped
// asset (moved directly).
type AssetForm uint8

const (
	FormUnderlying AssetForm = iota
	FormWrapped
)

// Params wires a Vault. Addr is the vault's on-market identity: the holder
// of the wrapped asset, the pool's onBehalfOf, and the EIP-712 verifying
// contract.
type Params struct {
	Addr       common.Address
	Owner      common.Address
	Underlying common.Address
	Wrapped    common.Address
	PoolAddr   common.Address
	ChainID    *big.Int

	UnderlyingToken market.ERC20
	WrappedToken    market.WrappedAsset
	Pool            market.Pool
	Rewards         market.RewardsController
	Shares          ledger.Ledger

	State    *State   // nil starts fresh
	Clock    Clock    // nil uses the system clock
	Recorder Recorder // nil discards events
	Log      *zap.Logger
}

// Vault orchestrates accrual, conversion, external transfers and share
// mutation for all deposit/withdraw variants.
type Vault struct {
	addr           common.Address
	owner          common.Address
	underlyingAddr common.Address
	wrappedAddr    common.Address
	poolAddr       common.Address

	underlying market.ERC20
	wrapped    market.WrappedAsset
	pool       market.Pool
	rewards    market.RewardsController
	shares     ledger.Ledger

	state    *State
	clock    Clock
	verifier *sigauth.Verifier
	rec      Recorder
	log      *zap.Logger
}

func New(p Params) *Vault {
	st := p.State
	if st == nil {
		st = NewState()
	}
	clk := p.Clock
	if clk == nil {
		clk = SystemClock
	}
	rec := p.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Vault{
		addr:           p.Addr,
		owner:          p.Owner,
		underlyingAddr: p.Underlying,
		wrappedAddr:    p.Wrapped,
		poolAddr:       p.PoolAddr,
		underlying:     p.UnderlyingToken,
		wrapped:        p.WrappedToken,
		pool:           p.Pool,
		rewards:        p.Rewards,
		shares:         p.Shares,
		state:          st,
		clock:          clk,
		verifier:       sigauth.NewVerifier(p.ChainID, p.Addr),
		rec:            rec,
		log:            log,
	}
}

// ── Lifecycle ──────────────────────────────────────────────────────────────

func (v *Vault) initialized() bool { return v.state.LastUpdated != 0 }

// Initialize seeds the vault with a mandatory non-zero first deposit from
// the seeder, deterring first-depositor share-price manipulation. Returns
// the seed shares minted to the seeder.
func (v *Vault) Initialize(ctx context.Context, seeder common.Address, seed *big.Int) (*big.Int, error) {
	if v.initialized() {
		return nil, ErrAlreadyInitialized
	}
	if seed == nil || seed.Sign() == 0 {
		return nil, ErrZeroSeed
	}
	return v.deposit(ctx, seeder, seed, seeder, FormUnderlying)
}

// ── Deposit / Mint ─────────────────────────────────────────────────────────

// Deposit pulls assets from the caller, supplies them, and mints the
// proportional shares to receiver.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, assets *big.Int, receiver common.Address, form AssetForm) (*big.Int, error) {
	if !v.initialized() {
		return nil, ErrNotInitialized
	}
	return v.deposit(ctx, caller, assets, receiver, form)
}

func (v *Vault) deposit(ctx context.Context, caller common.Address, assets *big.Int, receiver common.Address, form AssetForm) (shares *big.Int, err error) {
	if receiver == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()

	if err = v.Accrue(ctx); err != nil {
		return nil, err
	}
	shares, err = v.PreviewDeposit(ctx, assets)
	if err != nil {
		return nil, err
	}
	if err = v.depositFlow(ctx, caller, receiver, assets, shares, form); err != nil {
		return nil, err
	}
	v.rec.Deposited(caller, receiver, assets, shares)
	return shares, nil
}

// Mint issues exactly shares to receiver, pulling the (rounded-up) asset
// cost from the caller.
func (v *Vault) Mint(ctx context.Context, caller common.Address, shares *big.Int, receiver common.Address, form AssetForm) (assets *big.Int, err error) {
	if !v.initialized() {
		return nil, ErrNotInitialized
	}
	if receiver == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()

	if err = v.Accrue(ctx); err != nil {
		return nil, err
	}
	assets, err = v.PreviewMint(ctx, shares)
	if err != nil {
		return nil, err
	}
	if err = v.depositFlow(ctx, caller, receiver, assets, shares, form); err != nil {
		return nil, err
	}
	v.rec.Deposited(caller, receiver, assets, shares)
	return assets, nil
}

// depositFlow is the shared deposit-direction pipeline. Funds are pulled
// before any share mint: shares must never exist for assets that were not
// actually transferred.
func (v *Vault) depositFlow(ctx context.Context, caller, receiver common.Address, assets, shares *big.Int, form AssetForm) error {
	switch form {
	case FormUnderlying:
		if err := v.underlying.TransferFrom(ctx, caller, v.addr, assets); err != nil {
			return fmt.Errorf("deposit: pull underlying: %w", err)
		}
		// the pool pulls from the vault, so it needs allowance first
		if err := v.underlying.Approve(ctx, v.poolAddr, assets); err != nil {
			if rerr := v.underlying.Transfer(ctx, caller, assets); rerr != nil {
				v.log.Error("deposit: refund after approve failure", zap.Error(rerr))
			}
			return fmt.Errorf("deposit: approve pool: %w", err)
		}
		if err := v.pool.Supply(ctx, v.underlyingAddr, assets, v.addr, 0); err != nil {
			// hand the pulled funds back; the operation must leave no trace
			if rerr := v.underlying.Transfer(ctx, caller, assets); rerr != nil {
				v.log.Error("deposit: refund after supply failure", zap.Error(rerr))
			}
			return fmt.Errorf("deposit: pool supply: %w", err)
		}
	case FormWrapped:
		if err := v.wrapped.TransferFrom(ctx, caller, v.addr, assets); err != nil {
			return fmt.Errorf("deposit: pull wrapped: %w", err)
		}
	}

	v.state.LastVaultBalance.Add(v.state.LastVaultBalance, assets)

	if err := v.shares.Mint(ctx, receiver, shares); err != nil {
		v.refundDeposit(ctx, caller, assets, form)
		return fmt.Errorf("deposit: mint shares: %w", err)
	}
	return nil
}

func (v *Vault) refundDeposit(ctx context.Context, caller common.Address, assets *big.Int, form AssetForm) {
	var err error
	switch form {
	case FormUnderlying:
		_, err = v.pool.Withdraw(ctx, v.underlyingAddr, assets, caller)
	case FormWrapped:
		err = v.wrapped.Transfer(ctx, caller, assets)
	}
	if err != nil {
		v.log.Error("deposit: refund failed", zap.Error(err))
	}
}

// ── Withdraw / Redeem ──────────────────────────────────────────────────────

// Withdraw sends exactly assets to receiver, burning the (rounded-up) share
// cost from owner. A caller other than the owner spends the owner's share
// allowance.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, assets *big.Int, receiver, owner common.Address, form AssetForm) (shares *big.Int, err error) {
	if !v.initialized() {
		return nil, ErrNotInitialized
	}
	if receiver == (common.Address{}) || owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()

	if err = v.Accrue(ctx); err != nil {
		return nil, err
	}
	shares, err = v.PreviewWithdraw(ctx, assets)
	if err != nil {
		return nil, err
	}
	if err = v.withdrawFlow(ctx, caller, receiver, owner, assets, shares, form); err != nil {
		return nil, err
	}
	v.rec.Withdrawn(caller, receiver, owner, assets, shares)
	return shares, nil
}

// Redeem burns exactly shares from owner and sends the (rounded-down) asset
// value to receiver.
func (v *Vault) Redeem(ctx context.Context, caller common.Address, shares *big.Int, receiver, owner common.Address, form AssetForm) (assets *big.Int, err error) {
	if !v.initialized() {
		return nil, ErrNotInitialized
	}
	if receiver == (common.Address{}) || owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()

	if err = v.Accrue(ctx); err != nil {
		return nil, err
	}
	assets, err = v.PreviewRedeem(ctx, shares)
	if err != nil {
		return nil, err
	}
	if err = v.withdrawFlow(ctx, caller, receiver, owner, assets, shares, form); err != nil {
		return nil, err
	}
	v.rec.Withdrawn(caller, receiver, owner, assets, shares)
	return assets, nil
}

// withdrawFlow is the shared withdraw-direction pipeline. The share burn and
// balance decrement strictly precede the outbound transfer: the transfer may
// call back into the vault, and by then the burned shares must already be
// gone or the reentrant call must fail.
func (v *Vault) withdrawFlow(ctx context.Context, caller, receiver, owner common.Address, assets, shares *big.Int, form AssetForm) error {
	var restoreAllowance func()
	if caller != owner {
		var err error
		restoreAllowance, err = v.spendAllowance(ctx, owner, caller, shares)
		if err != nil {
			return err
		}
	}

	if v.state.LastVaultBalance.Cmp(assets) < 0 {
		return fmt.Errorf("withdraw %s of %s: %w", assets, v.state.LastVaultBalance, ErrBalanceUnderflow)
	}
	v.state.LastVaultBalance.Sub(v.state.LastVaultBalance, assets)

	if err := v.shares.Burn(ctx, owner, shares); err != nil {
		if restoreAllowance != nil {
			restoreAllowance()
		}
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("burn %s: %w", shares, ErrInsufficientShares)
		}
		return fmt.Errorf("withdraw: burn shares: %w", err)
	}

	var terr error
	switch form {
	case FormUnderlying:
		_, terr = v.pool.Withdraw(ctx, v.underlyingAddr, assets, receiver)
	case FormWrapped:
		terr = v.wrapped.Transfer(ctx, receiver, assets)
	}
	if terr != nil {
		// compensate the ledger; the state snapshot is restored by the caller
		if merr := v.shares.Mint(ctx, owner, shares); merr != nil {
			v.log.Error("withdraw: re-mint after transfer failure", zap.Error(merr))
		}
		if restoreAllowance != nil {
			restoreAllowance()
		}
		return fmt.Errorf("withdraw: transfer out: %w", terr)
	}
	return nil
}

// spendAllowance decrements the owner's share allowance for the spender.
// An unlimited allowance is never decremented. The returned func restores
// the prior allowance if a later step fails.
func (v *Vault) spendAllowance(ctx context.Context, owner, spender common.Address, shares *big.Int) (restore func(), err error) {
	allowance, err := v.shares.Allowance(ctx, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("withdraw: allowance: %w", err)
	}
	if allowance.Cmp(ledger.MaxAllowance) == 0 {
		return nil, nil
	}
	if allowance.Cmp(shares) < 0 {
		return nil, fmt.Errorf("spend %s of %s: %w", shares, allowance, ErrInsufficientAllowance)
	}
	remaining := new(big.Int).Sub(allowance, shares)
	if err := v.shares.Approve(ctx, owner, spender, remaining); err != nil {
		return nil, fmt.Errorf("withdraw: spend allowance: %w", err)
	}
	return func() {
		if err := v.shares.Approve(ctx, owner, spender, allowance); err != nil {
			v.log.Error("withdraw: restore allowance", zap.Error(err))
		}
	}, nil
}

// ── Delegated (signature-authorized) variants ──────────────────────────────

func formOf(a *sigauth.Authorization) AssetForm {
	if a.Wrapped {
		return FormWrapped
	}
	return FormUnderlying
}

// verifyAuthorization gates a delegated call: the recovered signer must
// match, the deadline must not have passed, and the nonce must be the
// signer's current one. The digest binds the nonce value before increment;
// the increment happens in the surrounding atomic call, so one nonce
// authorizes exactly one digest.
func (v *Vault) verifyAuthorization(a *sigauth.Authorization, want sigauth.Action) error {
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return fmt.Errorf("authorization amount: %w", ErrZeroAmount)
	}
	if a.Action != want {
		return fmt.Errorf("authorization action %s, want %s: %w", a.Action, want, ErrBadSignature)
	}
	if v.clock.Now() > a.Deadline {
		return fmt.Errorf("deadline %d passed: %w", a.Deadline, ErrDeadlineExpired)
	}
	if a.Nonce != v.state.Nonce(a.Signer) {
		return fmt.Errorf("nonce %d, current %d: %w", a.Nonce, v.state.Nonce(a.Signer), ErrBadNonce)
	}
	recovered, err := v.verifier.Recover(a)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrBadSignature)
	}
	if recovered != a.Signer {
		return fmt.Errorf("recovered %s, want %s: %w", recovered.Hex(), a.Signer.Hex(), ErrBadSignature)
	}
	return nil
}

// DepositWithSig executes a deposit on behalf of the authorization's signer.
// A failure anywhere leaves the nonce, and all other state, unchanged.
func (v *Vault) DepositWithSig(ctx context.Context, a *sigauth.Authorization) (shares *big.Int, err error) {
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()
	if err = v.verifyAuthorization(a, sigauth.ActionDeposit); err != nil {
		return nil, err
	}
	v.state.Nonces[a.Signer] = a.Nonce + 1
	return v.Deposit(ctx, a.Signer, a.Amount, a.Receiver, formOf(a))
}

// MintWithSig executes a mint on behalf of the authorization's signer.
func (v *Vault) MintWithSig(ctx context.Context, a *sigauth.Authorization) (assets *big.Int, err error) {
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()
	if err = v.verifyAuthorization(a, sigauth.ActionMint); err != nil {
		return nil, err
	}
	v.state.Nonces[a.Signer] = a.Nonce + 1
	return v.Mint(ctx, a.Signer, a.Amount, a.Receiver, formOf(a))
}

// WithdrawWithSig executes a withdrawal of the signer's own shares.
func (v *Vault) WithdrawWithSig(ctx context.Context, a *sigauth.Authorization) (shares *big.Int, err error) {
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()
	if err = v.verifyAuthorization(a, sigauth.ActionWithdraw); err != nil {
		return nil, err
	}
	v.state.Nonces[a.Signer] = a.Nonce + 1
	return v.Withdraw(ctx, a.Signer, a.Amount, a.Receiver, a.Signer, formOf(a))
}

// RedeemWithSig executes a redemption of the signer's own shares.
func (v *Vault) RedeemWithSig(ctx context.Context, a *sigauth.Authorization) (assets *big.Int, err error) {
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()
	if err = v.verifyAuthorization(a, sigauth.ActionRedeem); err != nil {
		return nil, err
	}
	v.state.Nonces[a.Signer] = a.Nonce + 1
	return v.Redeem(ctx, a.Signer, a.Amount, a.Receiver, a.Signer, formOf(a))
}

// ── Owner-restricted surface ───────────────────────────────────────────────

// SetFee updates the yield fee fraction. Accrues first so the outgoing fee
// applies to all yield earned before this call.
func (v *Vault) SetFee(ctx context.Context, feeWad *big.Int) (err error) {
	if feeWad.Cmp(Wad) > 0 {
		return fmt.Errorf("fee %s: %w", feeWad, ErrFeeTooHigh)
	}
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()
	if err = v.Accrue(ctx); err != nil {
		return err
	}
	old := new(big.Int).Set(v.state.FeeWad)
	v.state.FeeWad.Set(feeWad)
	v.rec.FeeUpdated(old, feeWad)
	return nil
}

// WithdrawFees transfers accumulated protocol fees (in the wrapped asset)
// to the recipient.
func (v *Vault) WithdrawFees(ctx context.Context, to common.Address, amount *big.Int) (err error) {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	snap := v.state.Snapshot()
	defer func() {
		if err != nil {
			v.state.Restore(snap)
		}
	}()
	if err = v.Accrue(ctx); err != nil {
		return err
	}
	if amount.Cmp(v.state.AccumulatedFees) > 0 {
		return fmt.Errorf("withdraw %s of %s: %w", amount, v.state.AccumulatedFees, ErrFeeExceedsClaimable)
	}
	v.state.AccumulatedFees.Sub(v.state.AccumulatedFees, amount)
	if err = v.wrapped.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("withdraw fees: transfer: %w", err)
	}
	v.rec.FeesWithdrawn(to, amount)
	return nil
}

// ClaimRewards passes through the rewards controller's claim for the
// wrapped asset, sending everything to the recipient.
func (v *Vault) ClaimRewards(ctx context.Context, to common.Address) ([]common.Address, []*big.Int, error) {
	if to == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	tokens, amounts, err := v.rewards.ClaimAllRewards(ctx, []common.Address{v.wrappedAddr}, to)
	if err != nil {
		return nil, nil, fmt.Errorf("claim rewards: %w", err)
	}
	return tokens, amounts, nil
}

// EmergencyRescue moves a stray token out of the vault. The wrapped asset
// is protected: rescuing it would steal user deposits and fees.
func (v *Vault) EmergencyRescue(ctx context.Context, token market.ERC20, tokenAddr, to common.Address, amount *big.Int) error {
	if tokenAddr == v.wrappedAddr {
		return ErrRescueProtected
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := token.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("rescue: transfer: %w", err)
	}
	return nil
}

// ── Views ──────────────────────────────────────────────────────────────────

func (v *Vault) Addr() common.Address  { return v.addr }
func (v *Vault) Owner() common.Address { return v.owner }

func (v *Vault) Fee() *big.Int { return new(big.Int).Set(v.state.FeeWad) }

func (v *Vault) LastUpdated() uint64 { return v.state.LastUpdated }

func (v *Vault) LastVaultBalance() *big.Int {
	return new(big.Int).Set(v.state.LastVaultBalance)
}

func (v *Vault) SigNonce(signer common.Address) uint64 { return v.state.Nonce(signer) }

func (v *Vault) DomainSeparator() [32]byte { return v.verifier.DomainSeparator() }

// ExportState returns a deep copy of the aggregate for persistence.
func (v *Vault) ExportState() *State { return v.state.Snapshot() }
