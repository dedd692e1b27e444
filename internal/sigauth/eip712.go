// Package sigauth builds and verifies the EIP-712 digests that authorize
// delegated vault actions. A signed Authorization binds (action, parameters,
// signer nonce, deadline) to this deployment's domain separator, so a
// signature can never be replayed on another chain or vault instance.
package sigauth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Action identifies which pipeline flow an Authorization targets.
type Action uint8

const (
	ActionDeposit Action = iota
	ActionMint
	ActionWithdraw
	ActionRedeem
)

func (a Action) String() string {
	switch a {
	case ActionDeposit:
		return "DEPOSIT"
	case ActionMint:
		return "MINT"
	case ActionWithdraw:
		return "WITHDRAW"
	case ActionRedeem:
		return "REDEEM"
	default:
		return "UNKNOWN"
	}
}

// One typehash per flow; the wrapped flag inside the struct covers the
// underlying-vs-aToken variants, so eight entry points share four types.
var actionTypeHashes = map[Action]common.Hash{
	ActionDeposit: crypto.Keccak256Hash([]byte(
		"Deposit(address signer,address receiver,uint256 assets,bool wrapped,uint256 nonce,uint256 deadline)",
	)),
	ActionMint: crypto.Keccak256Hash([]byte(
		"Mint(address signer,address receiver,uint256 shares,bool wrapped,uint256 nonce,uint256 deadline)",
	)),
	ActionWithdraw: crypto.Keccak256Hash([]byte(
		"Withdraw(address signer,address receiver,uint256 assets,bool wrapped,uint256 nonce,uint256 deadline)",
	)),
	ActionRedeem: crypto.Keccak256Hash([]byte(
		"Redeem(address signer,address receiver,uint256 shares,bool wrapped,uint256 nonce,uint256 deadline)",
	)),
}

// Authorization is a delegated-action message. Amount carries assets for
// Deposit/Withdraw and shares for Mint/Redeem. Nonce must equal the signer's
// current vault nonce at execution time.
type Authorization struct {
	Action    Action         `json:"action"`
	Signer    common.Address `json:"signer"`
	Receiver  common.Address `json:"receiver"`
	Amount    *big.Int       `json:"amount"`
	Wrapped   bool           `json:"wrapped"`
	Nonce     uint64         `json:"nonce"`
	Deadline  uint64         `json:"deadline"`
	Signature []byte         `json:"signature"`
}

// DomainSeparator computes the EIP-712 domain separator for one deployment.
func DomainSeparator(chainID *big.Int, vaultAddr common.Address) [32]byte {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash := crypto.Keccak256Hash([]byte("avault"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address), each slot
	// 32 bytes, address right-aligned.
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], vaultAddr.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// Digest returns the final signable hash:
// keccak256(0x1901 || domainSeparator || structHash).
func Digest(a *Authorization, chainID *big.Int, vaultAddr common.Address) ([32]byte, error) {
	typeHash, ok := actionTypeHashes[a.Action]
	if !ok {
		return [32]byte{}, fmt.Errorf("sigauth: unknown action %d", a.Action)
	}

	encoded := make([]byte, 7*32)
	copy(encoded[0:32], typeHash[:])
	copy(encoded[44:64], a.Signer.Bytes())
	copy(encoded[76:96], a.Receiver.Bytes())
	a.Amount.FillBytes(encoded[96:128])
	if a.Wrapped {
		encoded[159] = 1
	}
	new(big.Int).SetUint64(a.Nonce).FillBytes(encoded[160:192])
	new(big.Int).SetUint64(a.Deadline).FillBytes(encoded[192:224])

	structHash := crypto.Keccak256Hash(encoded)
	sep := DomainSeparator(chainID, vaultAddr)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg), nil
}

// Sign signs the authorization in-place with the signer's private key.
func Sign(a *Authorization, privKey *ecdsa.PrivateKey, chainID *big.Int, vaultAddr common.Address) error {
	digest, err := Digest(a, chainID, vaultAddr)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return err
	}
	// Convert V from 0/1 to 27/28 for ecrecover parity
	sig[64] += 27
	a.Signature = sig
	return nil
}

// Recover extracts the signing address from the authorization's signature.
func Recover(a *Authorization, chainID *big.Int, vaultAddr common.Address) (common.Address, error) {
	if len(a.Signature) != 65 {
		return common.Address{}, fmt.Errorf("sigauth: invalid signature length %d", len(a.Signature))
	}
	digest, err := Digest(a, chainID, vaultAddr)
	if err != nil {
		return common.Address{}, err
	}
	sig := make([]byte, 65)
	copy(sig, a.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("sigauth: ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier pins a chain ID and vault address so callers don't thread the
// domain around.
type Verifier struct {
	chainID   *big.Int
	vaultAddr common.Address
}

func NewVerifier(chainID *big.Int, vaultAddr common.Address) *Verifier {
	return &Verifier{chainID: new(big.Int).Set(chainID), vaultAddr: vaultAddr}
}

func (v *Verifier) DomainSeparator() [32]byte {
	return DomainSeparator(v.chainID, v.vaultAddr)
}

func (v *Verifier) Recover(a *Authorization) (common.Address, error) {
	return Recover(a, v.chainID, v.vaultAddr)
}
