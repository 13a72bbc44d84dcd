package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"

	weektoken "github.com/brojonat/weektoken/client"
	"github.com/brojonat/weektoken/service/program"
	cluster "github.com/brojonat/weektoken/service/solana"
	"github.com/brojonat/weektoken/service/txn"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// newAPIClient builds a validator API client from the global flags.
// Only errors are logged, to stderr.
func newAPIClient(c *cli.Context) (*weektoken.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return weektoken.NewClient(serverURL, nil, logger), nil
}

// cliLogger is handed to txn.Submit so failed sends show up on stderr.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func loadAuthority(c *cli.Context) (solana.PrivateKey, error) {
	path := c.String("keypair")
	if path == "" {
		return nil, fmt.Errorf("keypair is required (set AUTHORITY_KEYPAIR env var or use --keypair)")
	}
	return txn.LoadKeypair(path)
}

func parseAddress(name, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("%s address is required", name)
	}
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s address %q: %w", name, value, err)
	}
	return pk, nil
}

// parseAmount converts a user-entered token amount into base units. With
// raw set the value is taken as base units already. Zero is accepted; the
// program forwards it unchanged.
func parseAmount(value string, raw bool) (uint64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if !raw {
		d = d.Shift(int32(program.Decimals))
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", value, program.Decimals)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("amount must not be negative")
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows a u64", value)
	}
	return n.Uint64(), nil
}

// formatAmount renders base units as a decimal WEEK amount.
func formatAmount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(program.Decimals)).String()
}

// explainError appends the program error name when err carries a known
// WEEK program error code.
func explainError(err error) error {
	var code *uint32
	var apiErr *weektoken.TransactionError
	var clusterErr *cluster.TransactionError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &clusterErr):
		code = clusterErr.Code
	}
	if code == nil {
		return err
	}
	if pe, ok := program.ErrorFromCode(*code); ok {
		return fmt.Errorf("%w (%s: %s)", err, pe.Name, pe.Message)
	}
	return fmt.Errorf("%w (custom error %d)", err, *code)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
