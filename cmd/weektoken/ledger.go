package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	weektoken "github.com/brojonat/weektoken/client"
	"github.com/brojonat/weektoken/service/runtime"
	cluster "github.com/brojonat/weektoken/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/urfave/cli/v2"
)

// ledger is where the token commands read accounts and send transactions:
// the validator API on localnet, a cluster RPC endpoint elsewhere.
type ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Airdrop(ctx context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error)
	GetMint(ctx context.Context, address solana.PublicKey) (*weektoken.Mint, error)
	GetTokenAccount(ctx context.Context, address solana.PublicKey) (*weektoken.TokenAccount, error)
	MinimumBalance(ctx context.Context, size uint64) (uint64, error)
}

func newLedger(c *cli.Context) (ledger, error) {
	if isLocalnet(c) {
		cl, err := newAPIClient(c)
		if err != nil {
			return nil, err
		}
		return apiLedger{cl}, nil
	}
	rpc, err := newClusterClient(c)
	if err != nil {
		return nil, err
	}
	return rpcLedger{rpc}, nil
}

func isLocalnet(c *cli.Context) bool {
	network := c.String("network")
	return network == "" || network == "localnet"
}

// newClusterClient connects to one of the --rpc-url endpoints.
func newClusterClient(c *cli.Context) (*cluster.Client, error) {
	network := c.String("network")
	var endpoints []string
	for _, u := range strings.Split(c.String("rpc-url"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			endpoints = append(endpoints, u)
		}
	}
	endpoint, err := cluster.SelectRandomEndpoint(endpoints)
	if err != nil {
		return nil, fmt.Errorf("rpc-url is required on %s (set SOLANA_RPC_URLS env var or use --rpc-url)", network)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return cluster.NewClient(cluster.NewRPCClient(endpoint), network, nil, logger), nil
}

// apiLedger talks to the local validator API. Rent follows the validator's
// fixed schedule.
type apiLedger struct {
	*weektoken.Client
}

func (l apiLedger) MinimumBalance(ctx context.Context, size uint64) (uint64, error) {
	return runtime.DefaultRent.MinimumBalance(int(size)), nil
}

// rpcLedger reads and writes a real cluster.
type rpcLedger struct {
	rpc *cluster.Client
}

func (l rpcLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return l.rpc.LatestBlockhash(ctx)
}

func (l rpcLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return l.rpc.SendTransaction(ctx, tx)
}

func (l rpcLedger) Airdrop(ctx context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error) {
	return l.rpc.RequestAirdrop(ctx, address, lamports)
}

func (l rpcLedger) MinimumBalance(ctx context.Context, size uint64) (uint64, error) {
	return l.rpc.MinimumBalance(ctx, size)
}

func (l rpcLedger) GetMint(ctx context.Context, address solana.PublicKey) (*weektoken.Mint, error) {
	mint, err := l.rpc.GetMint(ctx, address)
	if err != nil {
		return nil, err
	}
	out := &weektoken.Mint{
		Address:       address.String(),
		Supply:        mint.Supply,
		Decimals:      mint.Decimals,
		IsInitialized: mint.IsInitialized,
	}
	if mint.MintAuthority != nil {
		authority := mint.MintAuthority.String()
		out.MintAuthority = &authority
	}
	return out, nil
}

func (l rpcLedger) GetTokenAccount(ctx context.Context, address solana.PublicKey) (*weektoken.TokenAccount, error) {
	acct, err := l.rpc.GetTokenAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	state := "initialized"
	switch acct.State {
	case token.Uninitialized:
		state = "uninitialized"
	case token.Frozen:
		state = "frozen"
	}
	return &weektoken.TokenAccount{
		Address: address.String(),
		Mint:    acct.Mint.String(),
		Owner:   acct.Owner.String(),
		Amount:  acct.Amount,
		State:   state,
	}, nil
}
