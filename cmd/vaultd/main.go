package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openyield/avault/internal/api"
	"github.com/openyield/avault/internal/config"
	"github.com/openyield/avault/internal/keyd"
	"github.com/openyield/avault/internal/ledger"
	"github.com/openyield/avault/internal/market"
	"github.com/openyield/avault/internal/store"
	"github.com/openyield/avault/internal/vault"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Market collaborators ──────────────────────────────────────────────────
	vaultAddr := common.HexToAddress(cfg.Vault.Address)
	var (
		pool        market.Pool
		rewards     market.RewardsController
		underlying  market.ERC20
		wrapped     market.WrappedAsset
		wrappedAddr common.Address
		tokens      api.TokenBinder
	)
	if cfg.Chain.Local {
		// In-memory market: an unconstrained reserve for development runs.
		token := market.NewSimToken()
		token.SetOperator(vaultAddr)
		wrappedAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		sim := market.NewSim(token, wrappedAddr, vaultAddr, market.ReserveConfig{
			Active:   true,
			Decimals: 18,
		})
		pool, rewards = sim.Pool(), sim.Rewards()
		underlying, wrapped = token, sim.Wrapped()
		tokens = func(common.Address) market.ERC20 { return token }
		log.Info("running against in-memory market")
	} else {
		operatorKey := cfg.Chain.OperatorKey
		if operatorKey == "" {
			key, err := keyd.Get(ctx)
			if err != nil {
				log.Fatal("operator key fetch failed", zap.Error(err))
			}
			operatorKey = key.PrivateKeyHex
			log.Info("operator key fetched from key daemon", zap.String("address", key.Address))
		}
		client, err := market.Dial(cfg.Chain.RPCURL, operatorKey, cfg.Chain.ChainID)
		if err != nil {
			log.Fatal("chain client init failed", zap.Error(err))
		}
		wrappedAddr = common.HexToAddress(cfg.Chain.WrappedAsset)
		pool = client.Pool(common.HexToAddress(cfg.Chain.PoolAddress))
		rewards = client.Rewards(common.HexToAddress(cfg.Chain.RewardsAddress))
		underlying = client.ERC20(common.HexToAddress(cfg.Chain.UnderlyingAsset))
		wrapped = client.Wrapped(wrappedAddr)
		tokens = client.ERC20
	}

	// ── Accounting state (Redis is the source of truth across restarts) ──────
	state, err := store.LoadState(ctx, rdb)
	if err != nil {
		log.Fatal("state load failed", zap.Error(err))
	}
	if state == nil {
		state = vault.NewState()
		feeWad, ok := new(big.Int).SetString(cfg.Vault.FeeWad, 10)
		if !ok {
			log.Fatal("invalid VAULT_FEE_WAD")
		}
		state.FeeWad.Set(feeWad)
		log.Info("starting with fresh state", zap.String("fee_wad", feeWad.String()))
	} else if err := store.LoadNonces(ctx, rdb, state); err != nil {
		log.Fatal("nonce load failed", zap.Error(err))
	}

	v := vault.New(vault.Params{
		Addr:       vaultAddr,
		Owner:      common.HexToAddress(cfg.Vault.Owner),
		Underlying: common.HexToAddress(cfg.Chain.UnderlyingAsset),
		Wrapped:    wrappedAddr,
		PoolAddr:   common.HexToAddress(cfg.Chain.PoolAddress),
		ChainID:    big.NewInt(cfg.Chain.ChainID),

		UnderlyingToken: underlying,
		WrappedToken:    wrapped,
		Pool:            pool,
		Rewards:         rewards,
		Shares:          ledger.NewRedis(rdb),

		State:    state,
		Recorder: vault.NewLogRecorder(log),
		Log:      log,
	})

	handler := api.NewHandler(v, rdb, tokens, log)

	// ── Background accrual ────────────────────────────────────────────────────
	go handler.RunAccrual(ctx, time.Duration(cfg.Vault.AccrueIntervalSec)*time.Second)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	handler.Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
