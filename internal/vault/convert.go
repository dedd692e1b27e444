package vault

import (
	"context"
	"fmt"
	"math/big"
)

// MaxUint256 is the largest representable amount; used for uncapped limits
// and unlimited allowances.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var one = big.NewInt(1)

// mulDivFloor returns floor(a*b/d).
func mulDivFloor(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, d)
}

// mulDivCeil returns ceil(a*b/d).
func mulDivCeil(a, b, d *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	out, rem := num.DivMod(num, d, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, one)
	}
	return out
}

// TotalAssets is the wrapped-asset balance net of claimable fees: the pool
// of assets share conversion is priced against.
func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	balance, err := v.wrapped.BalanceOf(ctx, v.addr)
	if err != nil {
		return nil, fmt.Errorf("total assets: wrapped balance: %w", err)
	}
	fees, err := v.ClaimableFees(ctx)
	if err != nil {
		return nil, err
	}
	return balance.Sub(balance, fees), nil
}

// totals returns (totalAssets+1, totalSupply+1): the virtual-offset
// denominators that prevent division by zero and blunt first-depositor
// share-price manipulation.
func (v *Vault) totals(ctx context.Context) (assets, supply *big.Int, err error) {
	assets, err = v.TotalAssets(ctx)
	if err != nil {
		return nil, nil, err
	}
	supply, err = v.shares.TotalSupply(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("total supply: %w", err)
	}
	return assets.Add(assets, one), supply.Add(supply, one), nil
}

// ConvertToShares converts an asset amount to shares, rounding down.
func (v *Vault) ConvertToShares(ctx context.Context, assets *big.Int) (*big.Int, error) {
	ta, ts, err := v.totals(ctx)
	if err != nil {
		return nil, err
	}
	return mulDivFloor(assets, ts, ta), nil
}

// ConvertToAssets converts a share amount to assets, rounding down.
func (v *Vault) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	ta, ts, err := v.totals(ctx)
	if err != nil {
		return nil, err
	}
	return mulDivFloor(shares, ta, ts), nil
}

// PreviewDeposit returns the shares minted for a deposit of assets. Rounds
// down; a zero result fails so a depositor can never pay assets for nothing.
func (v *Vault) PreviewDeposit(ctx context.Context, assets *big.Int) (*big.Int, error) {
	shares, err := v.ConvertToShares(ctx, assets)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	return shares, nil
}

// PreviewMint returns the assets required to mint shares, rounding up.
func (v *Vault) PreviewMint(ctx context.Context, shares *big.Int) (*big.Int, error) {
	ta, ts, err := v.totals(ctx)
	if err != nil {
		return nil, err
	}
	return mulDivCeil(shares, ta, ts), nil
}

// PreviewWithdraw returns the shares burned to withdraw assets, rounding up.
func (v *Vault) PreviewWithdraw(ctx context.Context, assets *big.Int) (*big.Int, error) {
	ta, ts, err := v.totals(ctx)
	if err != nil {
		return nil, err
	}
	return mulDivCeil(assets, ts, ta), nil
}

// PreviewRedeem returns the assets paid for redeeming shares. Rounds down; a
// zero result fails so shares are never burned for nothing.
func (v *Vault) PreviewRedeem(ctx context.Context, shares *big.Int) (*big.Int, error) {
	assets, err := v.ConvertToAssets(ctx, shares)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return nil, ErrZeroAssets
	}
	return assets, nil
}
