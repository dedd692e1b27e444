package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openyield/avault/internal/auth"
	"github.com/openyield/avault/internal/market"
	"github.com/openyield/avault/internal/sigauth"
	"github.com/openyield/avault/internal/store"
	"github.com/openyield/avault/internal/vault"
)

// TokenBinder resolves an ERC-20 at an arbitrary address, used by the
// emergency rescue endpoint.
type TokenBinder func(common.Address) market.ERC20

// Handler serves the relayer surface: signed user operations, read-only
// vault views and the owner-guarded admin endpoints. A single mutex
// serializes every state-changing call; the engine itself is not locked.
type Handler struct {
	mu     sync.Mutex
	vault  *vault.Vault
	rdb    *redis.Client
	tokens TokenBinder
	log    *zap.Logger
}

func NewHandler(v *vault.Vault, rdb *redis.Client, tokens TokenBinder, log *zap.Logger) *Handler {
	return &Handler{vault: v, rdb: rdb, tokens: tokens, log: log}
}

// Register mounts all routes. The admin group gets the owner signature guard.
func (h *Handler) Register(r *gin.Engine) {
	relay := r.Group("/relay")
	relay.POST("/deposit", h.relayHandler(sigauth.ActionDeposit))
	relay.POST("/mint", h.relayHandler(sigauth.ActionMint))
	relay.POST("/withdraw", h.relayHandler(sigauth.ActionWithdraw))
	relay.POST("/redeem", h.relayHandler(sigauth.ActionRedeem))

	vt := r.Group("/vault")
	vt.GET("/total-assets", h.handleTotalAssets)
	vt.GET("/fee", h.handleFee)
	vt.GET("/claimable-fees", h.handleClaimableFees)
	vt.GET("/nonce/:addr", h.handleNonce)
	vt.GET("/max-deposit", h.handleMaxDeposit)
	vt.GET("/max-mint", h.handleMaxMint)
	vt.GET("/preview/deposit", h.previewHandler(h.vault.PreviewDeposit))
	vt.GET("/preview/mint", h.previewHandler(h.vault.PreviewMint))
	vt.GET("/preview/withdraw", h.previewHandler(h.vault.PreviewWithdraw))
	vt.GET("/preview/redeem", h.previewHandler(h.vault.PreviewRedeem))

	admin := r.Group("/admin", auth.AdminGuard(h.rdb, h.vault.Owner()))
	admin.POST("/initialize", h.handleInitialize)
	admin.POST("/accrue", h.handleAccrue)
	admin.POST("/fee", h.handleSetFee)
	admin.POST("/withdraw-fees", h.handleWithdrawFees)
	admin.POST("/claim-rewards", h.handleClaimRewards)
	admin.POST("/rescue", h.handleRescue)
}

// ── Relay ──────────────────────────────────────────────────────────────────

func (h *Handler) relayHandler(action sigauth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		var a sigauth.Authorization
		if err := c.ShouldBindJSON(&a); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid authorization JSON"})
			return
		}
		a.Action = action

		h.mu.Lock()
		defer h.mu.Unlock()

		var (
			out *big.Int
			err error
		)
		ctx := c.Request.Context()
		switch action {
		case sigauth.ActionDeposit:
			out, err = h.vault.DepositWithSig(ctx, &a)
		case sigauth.ActionMint:
			out, err = h.vault.MintWithSig(ctx, &a)
		case sigauth.ActionWithdraw:
			out, err = h.vault.WithdrawWithSig(ctx, &a)
		case sigauth.ActionRedeem:
			out, err = h.vault.RedeemWithSig(ctx, &a)
		}
		if err != nil {
			h.log.Warn("relay rejected",
				zap.String("action", action.String()),
				zap.String("signer", a.Signer.Hex()),
				zap.Error(err))
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}

		h.persist(c, a.Signer)

		field := "shares"
		if action == sigauth.ActionMint || action == sigauth.ActionRedeem {
			field = "assets"
		}
		h.log.Info("relay executed",
			zap.String("action", action.String()),
			zap.String("signer", a.Signer.Hex()),
			zap.String(field, out.String()))
		c.JSON(http.StatusOK, gin.H{field: out.String()})
	}
}

// persist flushes the scalars and the signer's nonce after a mutation. A
// write failure is logged, not surfaced; the in-memory state is canonical
// until the next successful flush.
func (h *Handler) persist(c *gin.Context, signer common.Address) {
	ctx := c.Request.Context()
	if err := store.SaveState(ctx, h.rdb, h.vault.ExportState()); err != nil {
		h.log.Error("persist state", zap.Error(err))
	}
	if signer != (common.Address{}) {
		if err := store.SaveNonce(ctx, h.rdb, signer, h.vault.SigNonce(signer)); err != nil {
			h.log.Error("persist nonce", zap.String("signer", signer.Hex()), zap.Error(err))
		}
	}
}

// ── Views ──────────────────────────────────────────────────────────────────

func (h *Handler) handleTotalAssets(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	total, err := h.vault.TotalAssets(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_assets": total.String()})
}

func (h *Handler) handleFee(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"fee_wad": h.vault.Fee().String()})
}

func (h *Handler) handleClaimableFees(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fees, err := h.vault.ClaimableFees(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimable_fees": fees.String()})
}

func (h *Handler) handleNonce(c *gin.Context) {
	addr := c.Param("addr")
	if !common.IsHexAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"nonce": h.vault.SigNonce(common.HexToAddress(addr))})
}

func (h *Handler) handleMaxDeposit(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	max, err := h.vault.MaxDeposit(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_deposit": max.String()})
}

func (h *Handler) handleMaxMint(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	max, err := h.vault.MaxMint(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_mint": max.String()})
}

func (h *Handler) previewHandler(preview func(ctx context.Context, amount *big.Int) (*big.Int, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, ok := new(big.Int).SetString(c.Query("amount"), 10)
		if !ok || amount.Sign() < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		out, err := preview(c.Request.Context(), amount)
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": out.String()})
	}
}

// ── Admin ──────────────────────────────────────────────────────────────────

func (h *Handler) handleInitialize(c *gin.Context) {
	var req struct {
		Seeder string `json:"seeder"`
		Seed   string `json:"seed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	seed, ok := new(big.Int).SetString(req.Seed, 10)
	if !ok || !common.IsHexAddress(req.Seeder) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seeder or seed"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	shares, err := h.vault.Initialize(c.Request.Context(), common.HexToAddress(req.Seeder), seed)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.persist(c, common.Address{})
	h.log.Info("vault initialized", zap.String("seed", seed.String()))
	c.JSON(http.StatusOK, gin.H{"shares": shares.String()})
}

func (h *Handler) handleAccrue(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.vault.Accrue(c.Request.Context()); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.persist(c, common.Address{})
	c.JSON(http.StatusOK, gin.H{"last_updated": h.vault.LastUpdated()})
}

func (h *Handler) handleSetFee(c *gin.Context) {
	var req struct {
		FeeWad string `json:"fee_wad"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	fee, ok := new(big.Int).SetString(req.FeeWad, 10)
	if !ok || fee.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fee_wad"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.vault.SetFee(c.Request.Context(), fee); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.persist(c, common.Address{})
	c.JSON(http.StatusOK, gin.H{"fee_wad": fee.String()})
}

func (h *Handler) handleWithdrawFees(c *gin.Context) {
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || !common.IsHexAddress(req.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to or amount"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.vault.WithdrawFees(c.Request.Context(), common.HexToAddress(req.To), amount); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.persist(c, common.Address{})
	h.log.Info("fees withdrawn", zap.String("to", req.To), zap.String("amount", amount.String()))
	c.JSON(http.StatusOK, gin.H{"amount": amount.String()})
}

func (h *Handler) handleClaimRewards(c *gin.Context) {
	var req struct {
		To string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to address"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	tokens, amounts, err := h.vault.ClaimRewards(c.Request.Context(), common.HexToAddress(req.To))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	resp := make([]gin.H, len(tokens))
	for i := range tokens {
		resp[i] = gin.H{"token": tokens[i].Hex(), "amount": amounts[i].String()}
	}
	c.JSON(http.StatusOK, gin.H{"claimed": resp})
}

func (h *Handler) handleRescue(c *gin.Context) {
	var req struct {
		Token  string `json:"token"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || !common.IsHexAddress(req.Token) || !common.IsHexAddress(req.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token, to or amount"})
		return
	}
	tokenAddr := common.HexToAddress(req.Token)

	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.vault.EmergencyRescue(c.Request.Context(), h.tokens(tokenAddr), tokenAddr, common.HexToAddress(req.To), amount)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.log.Warn("emergency rescue executed",
		zap.String("token", tokenAddr.Hex()),
		zap.String("to", req.To),
		zap.String("amount", amount.String()))
	c.JSON(http.StatusOK, gin.H{"rescued": amount.String()})
}

// httpStatus maps engine error categories onto response codes. Anything
// uncategorized is treated as an upstream failure.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, vault.ErrAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, vault.ErrAllowance):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrArithmetic):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
