package store

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/openyield/avault/internal/vault"
)

const (
	stateKey       = "avault:state"
	nonceKeyPrefix = "avault:nonce:"
)

func nonceKey(signer common.Address) string {
	return nonceKeyPrefix + strings.ToLower(signer.Hex())
}

// SaveState persists the accounting scalars as a Redis hash.
func SaveState(ctx context.Context, rdb *redis.Client, s *vault.State) error {
	return rdb.HSet(ctx, stateKey,
		"last_updated", s.LastUpdated,
		"last_vault_balance", s.LastVaultBalance.String(),
		"fee_wad", s.FeeWad.String(),
		"accumulated_fees", s.AccumulatedFees.String(),
	).Err()
}

// LoadState reads the accounting scalars back. Returns nil when the vault has
// never been persisted.
func LoadState(ctx context.Context, rdb *redis.Client) (*vault.State, error) {
	vals, err := rdb.HGetAll(ctx, stateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return stateFromMap(vals)
}

// SaveNonce records the next expected signature nonce for a signer.
func SaveNonce(ctx context.Context, rdb *redis.Client, signer common.Address, nonce uint64) error {
	return rdb.Set(ctx, nonceKey(signer), nonce, 0).Err()
}

// LoadNonces scans every persisted signer nonce into the state's table.
func LoadNonces(ctx context.Context, rdb *redis.Client, s *vault.State) error {
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, nonceKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan nonces: %w", err)
		}
		for _, key := range keys {
			val, err := rdb.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			nonce, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				continue
			}
			signer := common.HexToAddress(strings.TrimPrefix(key, nonceKeyPrefix))
			s.Nonces[signer] = nonce
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return nil
}

func stateFromMap(m map[string]string) (*vault.State, error) {
	lastUpdated, err := strconv.ParseUint(m["last_updated"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}
	s := vault.NewState()
	s.LastUpdated = lastUpdated
	for field, dst := range map[string]*big.Int{
		"last_vault_balance": s.LastVaultBalance,
		"fee_wad":            s.FeeWad,
		"accumulated_fees":   s.AccumulatedFees,
	} {
		if _, ok := dst.SetString(m[field], 10); !ok {
			return nil, fmt.Errorf("parse %s: %q", field, m[field])
		}
	}
	return s, nil
}
