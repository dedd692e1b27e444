// Package ledger is the custodial share book: fungible claim shares minted
// and burned exclusively by the vault engine. Share decimals match the
// underlying asset's decimals.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the fungible share surface the vault mutates. Mint and Burn are
// reserved to the engine; holders move shares with Transfer/Approve.
type Ledger interface {
	TotalSupply(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, from common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// MaxAllowance marks an unlimited approval; spends do not decrement it.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
