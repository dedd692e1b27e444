package sigauth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testChainID = big.NewInt(31337)
	testVault   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func testAuth(action Action) *Authorization {
	return &Authorization{
		Action:   action,
		Signer:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Receiver: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount:   big.NewInt(1_000_000),
		Nonce:    0,
		Deadline: 1_900_000_000,
	}
}

func TestDomainSeparator_DependsOnChainAndVault(t *testing.T) {
	base := DomainSeparator(testChainID, testVault)

	otherChain := DomainSeparator(big.NewInt(1), testVault)
	if base == otherChain {
		t.Error("different chain IDs produced the same domain separator")
	}

	otherVault := DomainSeparator(testChainID, common.HexToAddress("0xdead"))
	if base == otherVault {
		t.Error("different vault addresses produced the same domain separator")
	}

	again := DomainSeparator(testChainID, testVault)
	if base != again {
		t.Error("domain separator is not deterministic")
	}
}

func TestDigest_ActionsDiffer(t *testing.T) {
	seen := map[[32]byte]Action{}
	for _, action := range []Action{ActionDeposit, ActionMint, ActionWithdraw, ActionRedeem} {
		d, err := Digest(testAuth(action), testChainID, testVault)
		if err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		if prev, dup := seen[d]; dup {
			t.Fatalf("%s and %s share a digest", action, prev)
		}
		seen[d] = action
	}
}

func TestDigest_WrappedFlagChangesDigest(t *testing.T) {
	a := testAuth(ActionDeposit)
	plain, _ := Digest(a, testChainID, testVault)

	a.Wrapped = true
	wrapped, _ := Digest(a, testChainID, testVault)

	if plain == wrapped {
		t.Error("wrapped flag did not change the digest")
	}
}

func TestDigest_UnknownAction(t *testing.T) {
	a := testAuth(Action(99))
	if _, err := Digest(a, testChainID, testVault); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestSignRecover_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	for _, action := range []Action{ActionDeposit, ActionMint, ActionWithdraw, ActionRedeem} {
		a := testAuth(action)
		a.Signer = signer
		if err := Sign(a, key, testChainID, testVault); err != nil {
			t.Fatalf("%s: sign: %v", action, err)
		}
		if len(a.Signature) != 65 {
			t.Fatalf("%s: signature length %d", action, len(a.Signature))
		}

		got, err := Recover(a, testChainID, testVault)
		if err != nil {
			t.Fatalf("%s: recover: %v", action, err)
		}
		if got != signer {
			t.Errorf("%s: recovered %s, want %s", action, got.Hex(), signer.Hex())
		}
	}
}

func TestRecover_TamperedAmount(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	a := testAuth(ActionWithdraw)
	a.Signer = signer
	if err := Sign(a, key, testChainID, testVault); err != nil {
		t.Fatal(err)
	}

	a.Amount = big.NewInt(2_000_000)
	got, err := Recover(a, testChainID, testVault)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == signer {
		t.Error("tampered amount still recovers the original signer")
	}
}

func TestRecover_WrongDomain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	a := testAuth(ActionDeposit)
	a.Signer = signer
	if err := Sign(a, key, testChainID, testVault); err != nil {
		t.Fatal(err)
	}

	// Same message on another chain must not verify.
	got, err := Recover(a, big.NewInt(1), testVault)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == signer {
		t.Error("signature verified under a foreign domain")
	}
}

func TestRecover_InvalidLength(t *testing.T) {
	a := testAuth(ActionDeposit)
	a.Signature = []byte{1, 2, 3}
	if _, err := Recover(a, testChainID, testVault); err == nil {
		t.Fatal("expected error for short signature")
	}
}

func TestVerifier_MatchesFreeFunctions(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	v := NewVerifier(testChainID, testVault)
	if v.DomainSeparator() != DomainSeparator(testChainID, testVault) {
		t.Fatal("verifier domain separator diverges")
	}

	a := testAuth(ActionRedeem)
	a.Signer = signer
	if err := Sign(a, key, testChainID, testVault); err != nil {
		t.Fatal(err)
	}
	got, err := v.Recover(a)
	if err != nil {
		t.Fatal(err)
	}
	if got != signer {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Hex())
	}
}
