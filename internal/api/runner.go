package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openyield/avault/internal/store"
)

// RunAccrual periodically settles pending yield so fee accumulation keeps
// pace with the pool's interest even when no user operation arrives. Shares
// the handler mutex with the HTTP surface.
func (h *Handler) RunAccrual(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.log.Info("accrual runner started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			h.log.Info("accrual runner stopped")
			return
		case <-ticker.C:
			h.runAccrual(ctx)
		}
	}
}

func (h *Handler) runAccrual(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.vault.LastUpdated() == 0 {
		return // nothing to settle before the seed deposit
	}
	if err := h.vault.Accrue(ctx); err != nil {
		h.log.Error("accrual runner: accrue", zap.Error(err))
		return
	}
	if err := store.SaveState(ctx, h.rdb, h.vault.ExportState()); err != nil {
		h.log.Error("accrual runner: persist state", zap.Error(err))
	}
}
