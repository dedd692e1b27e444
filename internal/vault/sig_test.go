package vault

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openyield/avault/internal/sigauth"
)

// signedAuth builds and signs an authorization for the harness vault's
// domain (chain 31337, the harness vault address).
func signedAuth(t *testing.T, h *harness, key *ecdsa.PrivateKey, action sigauth.Action, amount int64, nonce uint64) *sigauth.Authorization {
	t.Helper()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	a := &sigauth.Authorization{
		Action:   action,
		Signer:   signer,
		Receiver: signer,
		Amount:   big.NewInt(amount),
		Nonce:    nonce,
		Deadline: h.clock.Now() + 3600,
	}
	if err := sigauth.Sign(a, key, big.NewInt(31337), vaultAddr); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestDepositWithSig(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	h.underlying.add(signer, 500)

	a := signedAuth(t, h, key, sigauth.ActionDeposit, 500, 0)
	shares, err := h.v.DepositWithSig(ctx, a)
	if err != nil {
		t.Fatalf("deposit with sig: %v", err)
	}
	if shares.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("shares = %s, want 500", shares)
	}
	if got := h.v.SigNonce(signer); got != 1 {
		t.Errorf("nonce = %d, want 1", got)
	}
}

func TestWithSig_NonceReplay(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	h.underlying.add(signer, 1000)

	a := signedAuth(t, h, key, sigauth.ActionDeposit, 500, 0)
	if _, err := h.v.DepositWithSig(ctx, a); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// the very same authorization must be rejected on replay
	_, err := h.v.DepositWithSig(ctx, a)
	if !errors.Is(err, ErrBadNonce) {
		t.Fatalf("replay: err = %v, want ErrBadNonce", err)
	}
	if !errors.Is(err, ErrAuthorization) {
		t.Error("ErrBadNonce must classify as ErrAuthorization")
	}
}

func TestWithSig_DeadlineExpired(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	a := signedAuth(t, h, key, sigauth.ActionDeposit, 100, 0)
	h.clock.Advance(3601)

	_, err := h.v.DepositWithSig(ctx, a)
	if !errors.Is(err, ErrDeadlineExpired) {
		t.Fatalf("err = %v, want ErrDeadlineExpired", err)
	}
}

func TestWithSig_ForgedSigner(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	// signed by one key but claiming another signer
	key, _ := crypto.GenerateKey()
	a := signedAuth(t, h, key, sigauth.ActionDeposit, 100, 0)
	a.Signer = bob

	_, err := h.v.DepositWithSig(ctx, a)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestWithSig_ActionMismatch(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	a := signedAuth(t, h, key, sigauth.ActionDeposit, 100, 0)

	_, err := h.v.WithdrawWithSig(ctx, a)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

// A failure inside the delegated flow must leave the nonce unburned so the
// signer can retry with the same authorization.
func TestWithSig_FailureLeavesNonceUnburned(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	// signer has no funds: the pull fails after nonce verification

	a := signedAuth(t, h, key, sigauth.ActionDeposit, 500, 0)
	if _, err := h.v.DepositWithSig(ctx, a); err == nil {
		t.Fatal("expected deposit to fail")
	}
	if got := h.v.SigNonce(signer); got != 0 {
		t.Errorf("nonce = %d, want 0 (unburned)", got)
	}

	// fund and retry with the identical authorization
	h.underlying.add(signer, 500)
	if _, err := h.v.DepositWithSig(ctx, a); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.v.SigNonce(signer); got != 1 {
		t.Errorf("nonce = %d, want 1", got)
	}
}

func TestMintWithSig(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	h.underlying.add(signer, 200)

	a := signedAuth(t, h, key, sigauth.ActionMint, 200, 0)
	assets, err := h.v.MintWithSig(ctx, a)
	if err != nil {
		t.Fatalf("mint with sig: %v", err)
	}
	if assets.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("assets = %s, want 200", assets)
	}
	if got := h.sharesOf(t, signer); got.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("signer shares = %s, want 200", got)
	}
}

func TestWithdrawRedeemWithSig_SignerIsOwner(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	h.underlying.add(signer, 600)

	dep := signedAuth(t, h, key, sigauth.ActionDeposit, 600, 0)
	if _, err := h.v.DepositWithSig(ctx, dep); err != nil {
		t.Fatal(err)
	}

	wd := signedAuth(t, h, key, sigauth.ActionWithdraw, 200, 1)
	if _, err := h.v.WithdrawWithSig(ctx, wd); err != nil {
		t.Fatalf("withdraw with sig: %v", err)
	}
	if got := h.underlying.bal(signer); got.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("signer underlying = %s, want 200", got)
	}

	rd := signedAuth(t, h, key, sigauth.ActionRedeem, 400, 2)
	if _, err := h.v.RedeemWithSig(ctx, rd); err != nil {
		t.Fatalf("redeem with sig: %v", err)
	}
	if got := h.sharesOf(t, signer); got.Sign() != 0 {
		t.Errorf("signer shares = %s, want 0", got)
	}
	if got := h.v.SigNonce(signer); got != 3 {
		t.Errorf("nonce = %d, want 3", got)
	}
}

func TestWithSig_WrappedFlagSelectsForm(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	h.wrapped.add(signer, 300)

	a := &sigauth.Authorization{
		Action:   sigauth.ActionDeposit,
		Signer:   signer,
		Receiver: signer,
		Amount:   big.NewInt(300),
		Wrapped:  true,
		Nonce:    0,
		Deadline: h.clock.Now() + 3600,
	}
	if err := sigauth.Sign(a, key, big.NewInt(31337), vaultAddr); err != nil {
		t.Fatal(err)
	}

	if _, err := h.v.DepositWithSig(ctx, a); err != nil {
		t.Fatalf("wrapped deposit with sig: %v", err)
	}
	if got := h.wrapped.bal(signer); got.Sign() != 0 {
		t.Errorf("signer wrapped = %s, want 0", got)
	}
	if got := h.sharesOf(t, signer); got.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("signer shares = %s, want 300", got)
	}
}

// A relayed payload can arrive without an amount at all; the authorization
// check must reject it before any digest work touches the field.
func TestWithSig_MissingAmount(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	a := &sigauth.Authorization{
		Action:    sigauth.ActionDeposit,
		Signer:    alice,
		Receiver:  alice,
		Amount:    nil,
		Deadline:  h.clock.Now() + 3600,
		Signature: make([]byte, 65),
	}

	_, err := h.v.DepositWithSig(ctx, a)
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("err = %v, want ErrZeroAmount", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("ErrZeroAmount must classify as ErrValidation")
	}
}

func TestWithSig_ZeroAmount(t *testing.T) {
	h := newHarness(t, tenPercent())
	h.seed(t, 1000)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	a := signedAuth(t, h, key, sigauth.ActionDeposit, 0, 0)

	_, err := h.v.DepositWithSig(ctx, a)
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("err = %v, want ErrZeroAmount", err)
	}
}
