// cmd/vaultctl drives a running vaultd from the command line: read-only
// status and the owner-signed admin operations.
//
// Usage:
//
//	OWNER_KEY=0x<key> go run ./cmd/vaultctl/ \
//	  --url http://localhost:8080 \
//	  <command> [args]
//
// Commands:
//
//	status                      print fee, total assets and claimable fees
//	initialize <seeder> <seed>  seed the vault with its first deposit
//	accrue                      settle pending yield now
//	set-fee <fee-wad>           update the yield fee fraction
//	withdraw-fees <to> <amount> pay out accumulated fees
//	claim-rewards <to>          claim market rewards
//	rescue <token> <to> <amt>   move a stray token out of the vault
package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openyield/avault/internal/auth"
)

func main() {
	url := flag.String("url", "http://localhost:8080", "vaultd base URL")
	flag.Parse()

	if flag.NArg() == 0 {
		fatalf("missing command; see -h")
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "status":
		status(*url)
	case "initialize":
		requireArgs(args, 2, "initialize <seeder> <seed>")
		adminPost(*url, "/admin/initialize", "initialize",
			map[string]string{"seeder": args[0], "seed": args[1]})
	case "accrue":
		adminPost(*url, "/admin/accrue", "accrue", nil)
	case "set-fee":
		requireArgs(args, 1, "set-fee <fee-wad>")
		adminPost(*url, "/admin/fee", "set-fee",
			map[string]string{"fee_wad": args[0]})
	case "withdraw-fees":
		requireArgs(args, 2, "withdraw-fees <to> <amount>")
		adminPost(*url, "/admin/withdraw-fees", "withdraw-fees",
			map[string]string{"to": args[0], "amount": args[1]})
	case "claim-rewards":
		requireArgs(args, 1, "claim-rewards <to>")
		adminPost(*url, "/admin/claim-rewards", "claim-rewards",
			map[string]string{"to": args[0]})
	case "rescue":
		requireArgs(args, 3, "rescue <token> <to> <amount>")
		adminPost(*url, "/admin/rescue", "rescue",
			map[string]string{"token": args[0], "to": args[1], "amount": args[2]})
	default:
		fatalf("unknown command %q", cmd)
	}
}

func status(url string) {
	for _, view := range []string{"/vault/fee", "/vault/total-assets", "/vault/claimable-fees", "/vault/max-deposit"} {
		resp, err := http.Get(url + view)
		if err != nil {
			fatalf("GET %s: %v", view, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		fmt.Printf("%-22s %s\n", strings.TrimPrefix(view, "/vault/")+":", body)
	}
}

// adminPost signs the payload with the owner key and sends it with the
// EIP-191 auth headers vaultd expects.
func adminPost(url, path, action string, payload map[string]string) {
	key := ownerKey()

	body, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	msg, err := json.Marshal(auth.SignedRequest{
		Action:    action,
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
		Nonce:     randomNonce(),
		Payload:   body,
	})
	if err != nil {
		fatalf("marshal signed message: %v", err)
	}
	sig, err := crypto.Sign(auth.PersonalHash(msg), key)
	if err != nil {
		fatalf("sign: %v", err)
	}
	sig[64] += 27

	req, err := http.NewRequest(http.MethodPost, url+path, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msg))
	req.Header.Set("X-Wallet-Signature", hex.EncodeToString(sig))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s\n%s\n", resp.Status, path, out)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func ownerKey() *ecdsa.PrivateKey {
	keyHex := strings.TrimPrefix(os.Getenv("OWNER_KEY"), "0x")
	if keyHex == "" {
		fatalf("OWNER_KEY not set")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		fatalf("parse OWNER_KEY: %v", err)
	}
	return key
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		fatalf("nonce: %v", err)
	}
	return hex.EncodeToString(buf)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) != n {
		fatalf("usage: vaultctl %s", usage)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
