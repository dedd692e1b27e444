package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/openyield/avault/internal/market"
)

// MaxDeposit is the externally derived deposit ceiling: how much underlying
// the pool will still accept for this reserve. Zero when the reserve is
// inactive, frozen or paused; unbounded when the supply cap is zero.
func (v *Vault) MaxDeposit(ctx context.Context) (*big.Int, error) {
	rd, err := v.pool.GetReserveData(ctx, v.underlyingAddr)
	if err != nil {
		return nil, fmt.Errorf("max deposit: reserve data: %w", err)
	}
	cfg := market.DecodeReserveConfig(rd.Configuration)
	if !cfg.Active || cfg.Frozen || cfg.Paused {
		return new(big.Int), nil
	}
	if cfg.SupplyCap == 0 {
		return new(big.Int).Set(MaxUint256), nil
	}

	scaled, err := v.wrapped.ScaledTotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("max deposit: scaled supply: %w", err)
	}

	// Same normalization the pool applies when validating new supply:
	// supplied = rayMul(scaledTotalSupply + accruedToTreasury, liquidityIndex)
	scaled.Add(scaled, rd.AccruedToTreasury)
	supplied := market.RayMul(scaled, rd.LiquidityIndex)

	capWei := new(big.Int).SetUint64(cfg.SupplyCap)
	capWei.Mul(capWei, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.Decimals)), nil))

	if supplied.Cmp(capWei) >= 0 {
		return new(big.Int), nil
	}
	return capWei.Sub(capWei, supplied), nil
}

// MaxMint is MaxDeposit converted to shares; an unbounded ceiling passes
// through unconverted.
func (v *Vault) MaxMint(ctx context.Context) (*big.Int, error) {
	assets, err := v.MaxDeposit(ctx)
	if err != nil {
		return nil, err
	}
	if assets.Cmp(MaxUint256) == 0 {
		return assets, nil
	}
	return v.ConvertToShares(ctx, assets)
}
