package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/weektoken/client"
	"github.com/brojonat/weektoken/service/metrics"
	"github.com/brojonat/weektoken/service/program"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/brojonat/weektoken/service/solana"
	"github.com/brojonat/weektoken/service/txn"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/sdk/temporal"
)

// Application error types that are never retried.
const (
	ErrTypeProgram      = "ProgramError"
	ErrTypeInvalidInput = "InvalidInput"
)

// MintToRecipientInput contains the parameters for minting to one recipient.
type MintToRecipientInput struct {
	Mint         string `json:"mint"`
	TokenAccount string `json:"token_account"`
	Amount       uint64 `json:"amount"`
}

// MintToRecipientResult contains the signature of the mint transaction.
type MintToRecipientResult struct {
	Signature string `json:"signature"`
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	sender        txn.Sender
	authority     solanago.PrivateKey
	submitTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// authority signs and pays for every mint. If metrics is nil, no metrics
// will be recorded.
func NewActivities(sender txn.Sender, authority solanago.PrivateKey, submitTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		sender:        sender,
		authority:     authority,
		submitTimeout: submitTimeout,
		metrics:       m,
		logger:        logger,
	}
}

// MintToRecipient mints input.Amount tokens of input.Mint into one token
// account through the WEEK program.
func (a *Activities) MintToRecipient(ctx context.Context, input MintToRecipientInput) (*MintToRecipientResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("MintToRecipient", status, time.Since(start).Seconds())
		}
	}()

	mint, err := solanago.PublicKeyFromBase58(input.Mint)
	if err != nil {
		status = "invalid"
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("invalid mint %q", input.Mint), ErrTypeInvalidInput, err)
	}
	dest, err := solanago.PublicKeyFromBase58(input.TokenAccount)
	if err != nil {
		status = "invalid"
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("invalid token account %q", input.TokenAccount), ErrTypeInvalidInput, err)
	}

	if a.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.submitTimeout)
		defer cancel()
	}

	sig, err := txn.Submit(ctx, a.sender, a.logger, a.authority, nil,
		program.NewMintTokensInstruction(input.Amount, mint, dest, a.authority.PublicKey()).Build(),
	)
	if err != nil {
		status = "failed"
		a.logger.WarnContext(ctx, "mint to recipient failed",
			"mint", input.Mint,
			"token_account", input.TokenAccount,
			"amount", input.Amount,
			"error", err,
		)
		return nil, classifySendError(err)
	}

	a.logger.InfoContext(ctx, "minted to recipient",
		"mint", input.Mint,
		"token_account", input.TokenAccount,
		"amount", input.Amount,
		"signature", sig.String(),
	)
	return &MintToRecipientResult{Signature: sig.String()}, nil
}

// classifySendError marks failures of executed transactions as
// non-retryable. Such a transaction landed, so resending it cannot succeed
// without a change of state. The custom error code, when known, travels
// as the error details.
func classifySendError(err error) error {
	var apiErr *client.TransactionError
	if errors.As(err, &apiErr) {
		if apiErr.Code != nil {
			return temporal.NewNonRetryableApplicationError(describe(err, *apiErr.Code), ErrTypeProgram, err, *apiErr.Code)
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeProgram, err)
	}

	var bankErr *runtime.TransactionFailedError
	if errors.As(err, &bankErr) {
		if code, ok := runtime.CustomCode(bankErr.Err); ok {
			return temporal.NewNonRetryableApplicationError(describe(err, code), ErrTypeProgram, err, code)
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeProgram, err)
	}

	var clusterErr *solana.TransactionError
	if errors.As(err, &clusterErr) && clusterErr.Code != nil {
		return temporal.NewNonRetryableApplicationError(describe(err, *clusterErr.Code), ErrTypeProgram, err, *clusterErr.Code)
	}
	if errors.Is(err, solana.ErrTransactionFailed) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeProgram, err)
	}

	return err
}

func describe(err error, code uint32) string {
	if pe, ok := program.ErrorFromCode(code); ok {
		return fmt.Sprintf("%s (%s)", err.Error(), pe.Name)
	}
	return err.Error()
}
