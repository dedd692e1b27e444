package main

// TestE2E_DepositYieldRedeem exercises the complete service pipeline the way
// a deployment would run it in local mode:
//
//  1. Builds the full stack: simulated market, share ledger, vault engine and
//     the Gin relayer surface backed by miniredis.
//  2. Initializes the vault with the owner's seed deposit through the
//     EIP-191-guarded admin endpoint.
//  3. Relays a user deposit authorized by an EIP-712 signature.
//  4. Raises the market's liquidity index 20% and settles the yield; the 10%
//     fee sticks to the protocol.
//  5. Relays a full redemption and checks the user walked away with their
//     stake plus their yield share, net of fees.
//  6. Rebuilds the state from Redis and checks the persisted scalars match
//     the live engine.

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openyield/avault/internal/api"
	"github.com/openyield/avault/internal/auth"
	"github.com/openyield/avault/internal/ledger"
	"github.com/openyield/avault/internal/market"
	"github.com/openyield/avault/internal/sigauth"
	"github.com/openyield/avault/internal/store"
	"github.com/openyield/avault/internal/vault"
)

var (
	e2eVaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	e2eWrappedAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	e2eChainID     = big.NewInt(31337)
)

type e2eStack struct {
	srv      *httptest.Server
	rdb      *redis.Client
	v        *vault.Vault
	token    *market.SimToken
	sim      *market.Sim
	ownerKey *ecdsa.PrivateKey
	owner    common.Address
	now      uint64
}

func newE2EStack(t *testing.T) *e2eStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ownerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	st := &e2eStack{
		rdb:      rdb,
		ownerKey: ownerKey,
		owner:    crypto.PubkeyToAddress(ownerKey.PublicKey),
		now:      1_700_000_000,
	}

	st.token = market.NewSimToken()
	st.token.SetOperator(e2eVaultAddr)
	st.sim = market.NewSim(st.token, e2eWrappedAddr, e2eVaultAddr, market.ReserveConfig{Active: true, Decimals: 18})

	st.v = vault.New(vault.Params{
		Addr:            e2eVaultAddr,
		Owner:           st.owner,
		Wrapped:         e2eWrappedAddr,
		ChainID:         e2eChainID,
		UnderlyingToken: st.token,
		WrappedToken:    st.sim.Wrapped(),
		Pool:            st.sim.Pool(),
		Rewards:         st.sim.Rewards(),
		Shares:          ledger.NewMemory(),
		Clock:           vault.ClockFunc(func() uint64 { return st.now }),
		Log:             zap.NewNop(),
	})

	h := api.NewHandler(st.v, rdb, func(common.Address) market.ERC20 { return st.token }, zap.NewNop())
	r := gin.New()
	h.Register(r)
	st.srv = httptest.NewServer(r)
	t.Cleanup(st.srv.Close)
	return st
}

func (st *e2eStack) adminPost(t *testing.T, path, action string, payload []byte) {
	t.Helper()
	msg, err := json.Marshal(auth.SignedRequest{
		Action:    action,
		ExpiresAt: time.Now().Unix() + 60,
		Nonce:     fmt.Sprintf("e2e-%s-%d", action, st.now),
		Payload:   payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(auth.PersonalHash(msg), st.ownerKey)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27

	req, err := http.NewRequest(http.MethodPost, st.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msg))
	req.Header.Set("X-Wallet-Signature", hex.EncodeToString(sig))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		t.Fatalf("POST %s: status %d, body %s", path, resp.StatusCode, body.String())
	}
}

func (st *e2eStack) relay(t *testing.T, key *ecdsa.PrivateKey, action sigauth.Action, amount int64, nonce uint64) map[string]any {
	t.Helper()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	a := &sigauth.Authorization{
		Action:   action,
		Signer:   signer,
		Receiver: signer,
		Amount:   big.NewInt(amount),
		Nonce:    nonce,
		Deadline: st.now + 3600,
	}
	if err := sigauth.Sign(a, key, e2eChainID, e2eVaultAddr); err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}

	paths := map[sigauth.Action]string{
		sigauth.ActionDeposit:  "/relay/deposit",
		sigauth.ActionMint:     "/relay/mint",
		sigauth.ActionWithdraw: "/relay/withdraw",
		sigauth.ActionRedeem:   "/relay/redeem",
	}
	resp, err := http.Post(st.srv.URL+paths[action], "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relay %s: status %d, body %v", action, resp.StatusCode, out)
	}
	return out
}

func TestE2E_DepositYieldRedeem(t *testing.T) {
	st := newE2EStack(t)
	ctx := context.Background()

	// 1-2. seed the vault: owner deposits 10000
	st.token.Fund(st.owner, big.NewInt(10_000))
	st.token.ApproveFor(st.owner, e2eVaultAddr, big.NewInt(10_000))
	st.adminPost(t, "/admin/initialize", "initialize",
		[]byte(fmt.Sprintf(`{"seeder":%q,"seed":"10000"}`, st.owner.Hex())))

	// 10% fee, set before any yield arrives
	st.adminPost(t, "/admin/fee", "set-fee", []byte(`{"fee_wad":"100000000000000000"}`))

	// 3. user deposits 5000 by signature
	userKey, _ := crypto.GenerateKey()
	user := crypto.PubkeyToAddress(userKey.PublicKey)
	st.token.Fund(user, big.NewInt(5000))
	st.token.ApproveFor(user, e2eVaultAddr, big.NewInt(5000))

	out := st.relay(t, userKey, sigauth.ActionDeposit, 5000, 0)
	if out["shares"] != "5000" {
		t.Fatalf("deposit shares = %v, want 5000", out["shares"])
	}

	// 4. 20% yield: index 1.0 → 1.2, balance 15000 → 18000
	index := new(big.Int).Mul(market.Ray, big.NewInt(12))
	index.Div(index, big.NewInt(10))
	st.sim.SetIndex(index)
	st.now++
	st.adminPost(t, "/admin/accrue", "accrue", nil)

	fees, err := st.v.ClaimableFees(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fees.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("claimable fees = %s, want 300 (10%% of 3000)", fees)
	}

	// 5. user redeems all 5000 shares
	out = st.relay(t, userKey, sigauth.ActionRedeem, 5000, 1)
	bal, _ := st.token.BalanceOf(ctx, user)
	if out["assets"] != bal.String() {
		t.Errorf("relay reported %v assets, balance is %s", out["assets"], bal)
	}
	// 5000 of 15001 virtual shares over 17701 virtual assets, rounded down
	if bal.Cmp(big.NewInt(5899)) != 0 {
		t.Errorf("user underlying = %s, want 5899", bal)
	}

	// fees pay out in the wrapped asset
	st.adminPost(t, "/admin/withdraw-fees", "withdraw-fees",
		[]byte(fmt.Sprintf(`{"to":%q,"amount":"300"}`, st.owner.Hex())))
	wb, _ := st.sim.Wrapped().BalanceOf(ctx, st.owner)
	if wb.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("owner wrapped = %s, want 300", wb)
	}

	// 6. a restart would rebuild this exact state from Redis
	persisted, err := store.LoadState(ctx, st.rdb)
	if err != nil {
		t.Fatal(err)
	}
	if persisted == nil {
		t.Fatal("no persisted state")
	}
	live := st.v.ExportState()
	if persisted.LastUpdated != live.LastUpdated ||
		persisted.LastVaultBalance.Cmp(live.LastVaultBalance) != 0 ||
		persisted.AccumulatedFees.Cmp(live.AccumulatedFees) != 0 ||
		persisted.FeeWad.Cmp(live.FeeWad) != 0 {
		t.Errorf("persisted %+v diverges from live %+v", persisted, live)
	}
	restored := vault.NewState()
	if err := store.LoadNonces(ctx, st.rdb, restored); err != nil {
		t.Fatal(err)
	}
	if restored.Nonces[user] != 2 {
		t.Errorf("restored user nonce = %d, want 2", restored.Nonces[user])
	}
}
