package vault

import (
	"context"
	"fmt"
	"math/big"
)

// Wad is the fixed-point scale for the fee fraction (1e18 = 100%).
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Accrue snapshots external balance growth and splits it into protocol fee
// and user yield. Idempotent within one second: repeated calls in the same
// second must not double-count yield. Every state-changing operation calls
// this first, before any externally observable effect, so fees are computed
// against the ledger state prior to the triggering action.
//
// Invariant maintained: immediately after an accrual,
// LastVaultBalance + AccumulatedFees == wrapped.BalanceOf(vault).
func (v *Vault) Accrue(ctx context.Context) error {
	now := v.clock.Now()
	if now == v.state.LastUpdated {
		return nil
	}

	balance, err := v.wrapped.BalanceOf(ctx, v.addr)
	if err != nil {
		return fmt.Errorf("accrue: wrapped balance: %w", err)
	}

	yield, fee, err := v.splitYield(balance)
	if err != nil {
		return err
	}

	v.state.AccumulatedFees.Add(v.state.AccumulatedFees, fee)
	v.state.LastVaultBalance.Sub(balance, v.state.AccumulatedFees)
	v.state.LastUpdated = now

	v.rec.Accrued(yield, fee, balance)
	return nil
}

// ClaimableFees returns the fees an accrual at this instant would persist,
// without mutating state. Within the accrual second it is exactly
// AccumulatedFees; otherwise the pending fee is added on top.
func (v *Vault) ClaimableFees(ctx context.Context) (*big.Int, error) {
	if v.clock.Now() == v.state.LastUpdated {
		return new(big.Int).Set(v.state.AccumulatedFees), nil
	}

	balance, err := v.wrapped.BalanceOf(ctx, v.addr)
	if err != nil {
		return nil, fmt.Errorf("claimable fees: wrapped balance: %w", err)
	}
	_, pending, err := v.splitYield(balance)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(v.state.AccumulatedFees, pending), nil
}

// splitYield computes (yield, fee) for a fresh external balance reading.
// Yield is the growth of the pot net of fees already owed. A balance below
// the last snapshot is a fatal arithmetic condition: the subtraction is
// deliberately unguarded rather than clamped, so a loss event in the
// external market surfaces instead of being absorbed silently.
func (v *Vault) splitYield(balance *big.Int) (yield, fee *big.Int, err error) {
	yield = new(big.Int).Sub(balance, v.state.AccumulatedFees)
	yield.Sub(yield, v.state.LastVaultBalance)
	if yield.Sign() < 0 {
		return nil, nil, fmt.Errorf("accrue: balance %s below snapshot %s+%s: %w",
			balance, v.state.LastVaultBalance, v.state.AccumulatedFees, ErrBalanceDecreased)
	}
	fee = new(big.Int).Mul(yield, v.state.FeeWad)
	fee.Div(fee, Wad)
	return yield, fee, nil
}
