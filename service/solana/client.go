package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/weektoken/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
// *rpc.Client satisfies it.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

var (
	// ErrAccountNotFound is returned when an account does not exist on chain.
	ErrAccountNotFound = errors.New("account not found")

	// ErrWrongOwner is returned when an account is not owned by the token program.
	ErrWrongOwner = errors.New("account is not owned by the token program")

	// ErrTransactionFailed is matched by every *TransactionError, whether the
	// cluster rejected the transaction at preflight or it landed with an error.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Client is a cluster-backed transaction sender and account reader.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)

	commitment   rpc.CommitmentType
	pollInterval time.Duration
	retryBackoff time.Duration
	maxAttempts  int
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: 500 * time.Millisecond,
		retryBackoff: time.Second,
		maxAttempts:  3,
	}
}

// LatestBlockhash returns the cluster's most recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := call(ctx, c, "GetLatestBlockhash", func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, c.commitment)
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("failed to get latest blockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits tx and blocks until the cluster reports it at the
// client's commitment level. A transaction that lands with an error returns
// a *TransactionError, as does a transaction that fails preflight simulation.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := call(ctx, c, "SendTransaction", func() (solana.Signature, error) {
		return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: c.commitment,
		})
	})
	if err != nil {
		if txErr, ok := preflightFailure(err); ok {
			return solana.Signature{}, txErr
		}
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.DebugContext(ctx, "transaction sent", "signature", sig.String())
	return sig, c.WaitForConfirmation(ctx, sig)
}

// WaitForConfirmation polls the signature status until it reaches the
// client's commitment level or ctx is done.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	start := time.Now()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		c.recordCall("GetSignatureStatuses", start, err)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to get signature status",
				"signature", sig.String(),
				"error", err,
			)
		} else if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				c.recordConfirmation("failed", start)
				return statusFailure(sig, status.Err)
			}
			if reached(status.ConfirmationStatus, c.commitment) {
				c.recordConfirmation("confirmed", start)
				c.logger.DebugContext(ctx, "transaction confirmed",
					"signature", sig.String(),
					"slot", status.Slot,
					"status", status.ConfirmationStatus,
				)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			c.recordConfirmation("timeout", start)
			return fmt.Errorf("waiting for confirmation of %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func reached(status rpc.ConfirmationStatusType, commitment rpc.CommitmentType) bool {
	switch commitment {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentConfirmed:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	default:
		return status != ""
	}
}

// GetMint reads and decodes a mint account.
func (c *Client) GetMint(ctx context.Context, address solana.PublicKey) (*token.Mint, error) {
	data, err := c.tokenAccountData(ctx, address)
	if err != nil {
		return nil, err
	}
	var mint token.Mint
	if err := bin.NewBinDecoder(data).Decode(&mint); err != nil {
		return nil, fmt.Errorf("failed to decode mint %s: %w", address, err)
	}
	return &mint, nil
}

// GetTokenAccount reads and decodes a token account.
func (c *Client) GetTokenAccount(ctx context.Context, address solana.PublicKey) (*token.Account, error) {
	data, err := c.tokenAccountData(ctx, address)
	if err != nil {
		return nil, err
	}
	var account token.Account
	if err := bin.NewBinDecoder(data).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to decode token account %s: %w", address, err)
	}
	return &account, nil
}

func (c *Client) tokenAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	out, err := call(ctx, c, "GetAccountInfo", func() (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfo(ctx, address)
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	if !out.Value.Owner.Equals(solana.TokenProgramID) {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrWrongOwner, address, out.Value.Owner)
	}
	return out.Value.Data.GetBinary(), nil
}

// MinimumBalance returns the rent-exempt minimum for an account of size bytes.
func (c *Client) MinimumBalance(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := call(ctx, c, "GetMinimumBalanceForRentExemption", func() (uint64, error) {
		return c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get minimum balance: %w", err)
	}
	return lamports, nil
}

// RequestAirdrop asks the cluster faucet for lamports and waits for the
// airdrop to confirm.
func (c *Client) RequestAirdrop(ctx context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error) {
	sig, err := call(ctx, c, "RequestAirdrop", func() (solana.Signature, error) {
		return c.rpc.RequestAirdrop(ctx, address, lamports, c.commitment)
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to request airdrop: %w", err)
	}
	return sig, c.WaitForConfirmation(ctx, sig)
}

// GetProgramTransaction fetches a confirmed transaction and decodes the
// instructions it sent to programID.
func (c *Client) GetProgramTransaction(ctx context.Context, sig solana.Signature, programID solana.PublicKey) (*ProgramTransaction, error) {
	result, err := call(ctx, c, "GetTransaction", func() (*rpc.GetTransactionResult, error) {
		return c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrAccountNotFound, sig)
	}

	txn, err := parseProgramTransaction(sig, result, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %w", sig, err)
	}
	return txn, nil
}

// call runs fn with the client's retry policy: 429 responses back off
// exponentially and other errors are retried with a shorter backoff.
// Not-found results and failed preflight simulations are returned at once.
func call[T any](ctx context.Context, c *Client, method string, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := range c.maxAttempts {
		start := time.Now()
		out, err = fn()
		c.recordCall(method, start, err)
		if err == nil || errors.Is(err, rpc.ErrNotFound) {
			return out, err
		}
		if _, ok := preflightFailure(err); ok {
			return out, err
		}

		backoff := time.Duration(1<<uint(attempt)) * c.retryBackoff
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			backoff *= 2
			reason = "rate_limit"
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		c.logger.WarnContext(ctx, "RPC call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"reason", reason,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, reason)
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return out, err
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func (c *Client) recordConfirmation(status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordConfirmationWait(status, time.Since(start).Seconds())
	}
}
