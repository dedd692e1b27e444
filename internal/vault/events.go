package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Recorder receives the success-path records each operation emits.
// Decoupled as an interface so tests can capture events.
type Recorder interface {
	Accrued(yield, fee, newBalance *big.Int)
	Deposited(caller, receiver common.Address, assets, shares *big.Int)
	Withdrawn(caller, receiver, owner common.Address, assets, shares *big.Int)
	FeeUpdated(oldWad, newWad *big.Int)
	FeesWithdrawn(to common.Address, amount *big.Int)
}

// LogRecorder emits events as structured zap logs.
type LogRecorder struct {
	log *zap.Logger
}

func NewLogRecorder(log *zap.Logger) *LogRecorder {
	return &LogRecorder{log: log}
}

func (r *LogRecorder) Accrued(yield, fee, newBalance *big.Int) {
	r.log.Info("yield accrued",
		zap.String("yield", yield.String()),
		zap.String("fee", fee.String()),
		zap.String("balance", newBalance.String()),
	)
}

func (r *LogRecorder) Deposited(caller, receiver common.Address, assets, shares *big.Int) {
	r.log.Info("deposit",
		zap.String("caller", caller.Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("assets", assets.String()),
		zap.String("shares", shares.String()),
	)
}

func (r *LogRecorder) Withdrawn(caller, receiver, owner common.Address, assets, shares *big.Int) {
	r.log.Info("withdraw",
		zap.String("caller", caller.Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("assets", assets.String()),
		zap.String("shares", shares.String()),
	)
}

func (r *LogRecorder) FeeUpdated(oldWad, newWad *big.Int) {
	r.log.Info("fee updated",
		zap.String("old", oldWad.String()),
		zap.String("new", newWad.String()),
	)
}

func (r *LogRecorder) FeesWithdrawn(to common.Address, amount *big.Int) {
	r.log.Info("fees withdrawn",
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
	)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Accrued(_, _, _ *big.Int)                        {}
func (NopRecorder) Deposited(_, _ common.Address, _, _ *big.Int)    {}
func (NopRecorder) Withdrawn(_, _, _ common.Address, _, _ *big.Int) {}
func (NopRecorder) FeeUpdated(_, _ *big.Int)                        {}
func (NopRecorder) FeesWithdrawn(_ common.Address, _ *big.Int)      {}
