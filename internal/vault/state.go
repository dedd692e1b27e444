package vault

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the vault's single mutable aggregate: the four accrual scalars
// plus the per-signer nonce table. It is owned exclusively by the Vault;
// collaborators only ever read it through Vault views.
type State struct {
	// LastUpdated is the unix second of the last accrual.
	LastUpdated uint64
	// LastVaultBalance is the wrapped-asset balance attributed to users
	// (fees excluded) as of the last accrual.
	LastVaultBalance *big.Int
	// FeeWad is the protocol's cut of yield, wad-scaled (1e18 = 100%).
	FeeWad *big.Int
	// AccumulatedFees is the fee amount owed to the protocol, denominated
	// in the wrapped asset.
	AccumulatedFees *big.Int
	// Nonces maps signer address to its next delegated-action nonce.
	// Entries are created lazily at zero and only ever increment.
	Nonces map[common.Address]uint64
}

// NewState returns a zeroed aggregate.
func NewState() *State {
	return &State{
		LastVaultBalance: new(big.Int),
		FeeWad:           new(big.Int),
		AccumulatedFees:  new(big.Int),
		Nonces:           make(map[common.Address]uint64),
	}
}

// Nonce returns the signer's current nonce (zero for unseen signers).
func (s *State) Nonce(signer common.Address) uint64 {
	return s.Nonces[signer]
}

// Snapshot deep-copies the aggregate so a failed operation can restore it.
func (s *State) Snapshot() *State {
	cp := &State{
		LastUpdated:      s.LastUpdated,
		LastVaultBalance: new(big.Int).Set(s.LastVaultBalance),
		FeeWad:           new(big.Int).Set(s.FeeWad),
		AccumulatedFees:  new(big.Int).Set(s.AccumulatedFees),
		Nonces:           make(map[common.Address]uint64, len(s.Nonces)),
	}
	for addr, n := range s.Nonces {
		cp.Nonces[addr] = n
	}
	return cp
}

// Restore overwrites the aggregate with a previously taken snapshot.
func (s *State) Restore(snap *State) {
	s.LastUpdated = snap.LastUpdated
	s.LastVaultBalance.Set(snap.LastVaultBalance)
	s.FeeWad.Set(snap.FeeWad)
	s.AccumulatedFees.Set(snap.AccumulatedFees)
	s.Nonces = make(map[common.Address]uint64, len(snap.Nonces))
	for addr, n := range snap.Nonces {
		s.Nonces[addr] = n
	}
}

// Clock supplies the vault's notion of "now" in unix seconds. Accrual is
// idempotent within one second, so tests drive a fake clock.
type Clock interface {
	Now() uint64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(func() uint64 { return uint64(time.Now().Unix()) })
