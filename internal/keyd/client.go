// Package keyd retrieves the vault operator signing key.
//
// In production the key is held by a local key daemon and fetched over gRPC
// (keyd.KeyService/GetOperatorKey). Outside that environment the
// MOCK_OPERATOR_KEY environment variable is used instead.
package keyd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// OperatorKey holds the key material returned by the daemon.
type OperatorKey struct {
	// PrivateKeyHex is the Ethereum private key as a lowercase hex string
	// without the "0x" prefix.
	PrivateKeyHex string
	// Address is the derived Ethereum address (checksummed hex, "0x…").
	Address string
}

var (
	once      sync.Once
	cachedKey *OperatorKey
	cachedErr error
)

// Get returns the operator signing key.
//
// Decision tree:
//  1. MOCK_KEYD env var set → use MOCK_OPERATOR_KEY (error if absent)
//  2. Otherwise → gRPC call to the daemon at KEYD_HOST:KEYD_PORT
//
// Result is cached after the first successful call; errors are NOT cached
// so the caller can retry after a transient failure.
func Get(ctx context.Context) (*OperatorKey, error) {
	once.Do(func() {
		cachedKey, cachedErr = fetch(ctx)
		if cachedErr != nil {
			// Don't cache errors — allow retry on next call.
			once = sync.Once{}
		}
	})
	return cachedKey, cachedErr
}

func fetch(ctx context.Context) (*OperatorKey, error) {
	if os.Getenv("MOCK_KEYD") != "" {
		return fetchMock()
	}
	return fetchGRPC(ctx)
}

// fetchMock builds the key from environment variables (development / CI).
func fetchMock() (*OperatorKey, error) {
	raw := os.Getenv("MOCK_OPERATOR_KEY")
	if raw == "" {
		return nil, fmt.Errorf("keyd: MOCK_KEYD is set but MOCK_OPERATOR_KEY is empty")
	}
	keyHex := strings.TrimPrefix(raw, "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("keyd: MOCK_OPERATOR_KEY must be a 32-byte hex string (got %d chars)", len(keyHex))
	}
	return fromHex(keyHex)
}

// fetchGRPC calls the key daemon. The service exchanges structpb payloads so
// no generated stubs are needed on the client side.
//
// Required env vars:
//
//	KEYD_HOST      host of the daemon  (default: 127.0.0.1)
//	KEYD_PORT      port of the daemon  (default: 8090)
//	KEYD_APP_NAME  application identifier
func fetchGRPC(ctx context.Context) (*OperatorKey, error) {
	host := envOrDefault("KEYD_HOST", "127.0.0.1")
	port := envOrDefault("KEYD_PORT", "8090")
	appID := os.Getenv("KEYD_APP_NAME")
	target := host + ":" + port

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("keyd: grpc dial %s: %w", target, err)
	}
	defer conn.Close()

	req, err := structpb.NewStruct(map[string]interface{}{
		"app_id":   appID,
		"key_type": "ethereum",
	})
	if err != nil {
		return nil, fmt.Errorf("keyd: build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/keyd.KeyService/GetOperatorKey", req, resp); err != nil {
		return nil, fmt.Errorf("keyd: GetOperatorKey: %w", err)
	}

	fields := resp.GetFields()
	if ok := fields["success"].GetBoolValue(); !ok {
		return nil, fmt.Errorf("keyd: GetOperatorKey failed: %s", fields["message"].GetStringValue())
	}
	keyHex := strings.TrimPrefix(fields["private_key"].GetStringValue(), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("keyd: GetOperatorKey returned empty private key")
	}
	return fromHex(keyHex)
}

// fromHex validates the key and derives its address.
func fromHex(keyHex string) (*OperatorKey, error) {
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keyd: parse private key: %w", err)
	}
	return &OperatorKey{
		PrivateKeyHex: keyHex,
		Address:       crypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}, nil
}

func envOrDefault(key, dflt string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return dflt
}
