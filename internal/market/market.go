// Package market models the external Aave-v3-style lending pool the vault
// supplies into, along with the ERC-20 collaborators around it. The vault
// core only sees these interfaces; chain-backed and in-memory
// implementations live alongside.
package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is the lending market.
type Pool interface {
	// Supply deposits amount of asset into the pool, crediting onBehalfOf
	// with the wrapped (yield-bearing) token.
	Supply(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error
	// Withdraw redeems amount of the wrapped token for the underlying,
	// sending it to `to`. Returns the amount actually withdrawn.
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	// GetReserveData returns the pool's reserve snapshot for asset.
	GetReserveData(ctx context.Context, asset common.Address) (*ReserveData, error)
}

// ERC20 is the standard fungible-token surface the vault consumes.
type ERC20 interface {
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, spender common.Address, amount *big.Int) error
}

// WrappedAsset is the interest-accruing token received from the pool. Its
// balance grows over time; ScaledTotalSupply is the pool-internal
// index-normalized supply used for supply-cap validation.
type WrappedAsset interface {
	ERC20
	ScaledTotalSupply(ctx context.Context) (*big.Int, error)
}

// RewardsController distributes liquidity-mining rewards for wrapped assets.
type RewardsController interface {
	ClaimAllRewards(ctx context.Context, assets []common.Address, to common.Address) (rewards []common.Address, amounts []*big.Int, err error)
}

// ReserveData is the read-only reserve snapshot consumed by the deposit
// ceiling computation. Field semantics mirror the pool's own storage:
// AccruedToTreasury is index-scaled, LiquidityIndex is ray-scaled.
type ReserveData struct {
	Configuration     *big.Int
	LiquidityIndex    *big.Int
	AccruedToTreasury *big.Int
	WrappedAsset      common.Address
}

// Reserve configuration bitmap layout (Aave v3 ReserveConfigurationMap).
const (
	decimalsShift  = 48
	activeBit      = 56
	frozenBit      = 57
	pausedBit      = 60
	supplyCapShift = 116
)

var (
	decimalsMask  = big.NewInt(0xFF)
	supplyCapMask = new(big.Int).SetUint64(1<<36 - 1)
)

// ReserveConfig is the decoded subset of the configuration bitmap the vault
// needs.
type ReserveConfig struct {
	Active   bool
	Frozen   bool
	Paused   bool
	Decimals uint8
	// SupplyCap is in whole tokens; zero means uncapped.
	SupplyCap uint64
}

// DecodeReserveConfig unpacks the flags, decimals and supply cap from the
// reserve configuration bitmap.
func DecodeReserveConfig(bitmap *big.Int) ReserveConfig {
	dec := new(big.Int).Rsh(bitmap, decimalsShift)
	dec.And(dec, decimalsMask)
	cap := new(big.Int).Rsh(bitmap, supplyCapShift)
	cap.And(cap, supplyCapMask)
	return ReserveConfig{
		Active:    bitmap.Bit(activeBit) == 1,
		Frozen:    bitmap.Bit(frozenBit) == 1,
		Paused:    bitmap.Bit(pausedBit) == 1,
		Decimals:  uint8(dec.Uint64()),
		SupplyCap: cap.Uint64(),
	}
}

// EncodeReserveConfig is the inverse of DecodeReserveConfig. The pool
// simulator and tests build bitmaps with it.
func EncodeReserveConfig(cfg ReserveConfig) *big.Int {
	bitmap := new(big.Int)
	if cfg.Active {
		bitmap.SetBit(bitmap, activeBit, 1)
	}
	if cfg.Frozen {
		bitmap.SetBit(bitmap, frozenBit, 1)
	}
	if cfg.Paused {
		bitmap.SetBit(bitmap, pausedBit, 1)
	}
	dec := new(big.Int).Lsh(big.NewInt(int64(cfg.Decimals)), decimalsShift)
	bitmap.Or(bitmap, dec)
	cap := new(big.Int).Lsh(new(big.Int).SetUint64(cfg.SupplyCap), supplyCapShift)
	bitmap.Or(bitmap, cap)
	return bitmap
}

// Ray is the pool's 1e27 fixed-point unit.
var Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

var halfRay = new(big.Int).Rsh(Ray, 1)

// RayMul multiplies two ray-scaled values with half-up rounding, the same
// rounding the pool applies when validating new supply against the cap.
func RayMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	out.Add(out, halfRay)
	return out.Div(out, Ray)
}
