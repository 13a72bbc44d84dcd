package solana

import (
	"errors"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go/rpc"
)

// NewRPCClient creates a new RPCClient backed by the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return rpc.New(rpcURL)
}

// SelectRandomEndpoint picks one of endpoints uniformly at random.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", errors.New("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}
