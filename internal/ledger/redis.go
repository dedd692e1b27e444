package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Redis key templates
const (
	supplyKey       = "shares:supply"
	balanceKeyFmt   = "shares:bal:%s"      // %s = holder (lowercase)
	allowanceKeyFmt = "shares:allow:%s:%s" // %s = owner, spender
)

// Redis is the durable share book used by the service. The engine is the
// single writer, so plain read-modify-write is sufficient.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func balanceKey(holder common.Address) string {
	return fmt.Sprintf(balanceKeyFmt, strings.ToLower(holder.Hex()))
}

func allowanceKey(owner, spender common.Address) string {
	return fmt.Sprintf(allowanceKeyFmt, strings.ToLower(owner.Hex()), strings.ToLower(spender.Hex()))
}

func (r *Redis) getInt(ctx context.Context, key string) (*big.Int, error) {
	raw, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get %s: %w", key, err)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: corrupt value at %s: %q", key, raw)
	}
	return n, nil
}

func (r *Redis) setInt(ctx context.Context, key string, n *big.Int) error {
	if err := r.rdb.Set(ctx, key, n.String(), 0).Err(); err != nil {
		return fmt.Errorf("ledger: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) TotalSupply(ctx context.Context) (*big.Int, error) {
	return r.getInt(ctx, supplyKey)
}

func (r *Redis) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return r.getInt(ctx, balanceKey(holder))
}

func (r *Redis) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := r.getInt(ctx, balanceKey(to))
	if err != nil {
		return err
	}
	if err := r.setInt(ctx, balanceKey(to), bal.Add(bal, amount)); err != nil {
		return err
	}
	supply, err := r.getInt(ctx, supplyKey)
	if err != nil {
		return err
	}
	return r.setInt(ctx, supplyKey, supply.Add(supply, amount))
}

func (r *Redis) Burn(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := r.getInt(ctx, balanceKey(from))
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := r.setInt(ctx, balanceKey(from), bal.Sub(bal, amount)); err != nil {
		return err
	}
	supply, err := r.getInt(ctx, supplyKey)
	if err != nil {
		return err
	}
	return r.setInt(ctx, supplyKey, supply.Sub(supply, amount))
}

func (r *Redis) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal, err := r.getInt(ctx, balanceKey(from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := r.getInt(ctx, balanceKey(to))
	if err != nil {
		return err
	}
	if err := r.setInt(ctx, balanceKey(from), fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return r.setInt(ctx, balanceKey(to), toBal.Add(toBal, amount))
}

func (r *Redis) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return r.setInt(ctx, allowanceKey(owner, spender), amount)
}

func (r *Redis) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return r.getInt(ctx, allowanceKey(owner, spender))
}
