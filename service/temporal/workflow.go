package temporal

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// Recipient statuses.
const (
	RecipientStatusMinted = "minted"
	RecipientStatusFailed = "failed"
)

// Recipient is one token account to mint into.
type Recipient struct {
	TokenAccount string `json:"token_account"`
	Amount       uint64 `json:"amount"`
}

// DistributeTokensInput contains the parameters for a distribution.
type DistributeTokensInput struct {
	Mint       string      `json:"mint"`
	Recipients []Recipient `json:"recipients"`
}

// RecipientResult is the outcome for one recipient.
type RecipientResult struct {
	TokenAccount string  `json:"token_account"`
	Amount       uint64  `json:"amount"`
	Status       string  `json:"status"`
	Signature    string  `json:"signature,omitempty"`
	Error        string  `json:"error,omitempty"`
	ErrorCode    *uint32 `json:"error_code,omitempty"`
}

// DistributeTokensResult summarizes a distribution.
type DistributeTokensResult struct {
	Mint        string            `json:"mint"`
	Results     []RecipientResult `json:"results"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	TotalMinted uint64            `json:"total_minted"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// DistributeTokensWorkflow mints tokens of one mint into each recipient's
// token account. Recipients are minted to concurrently; a recipient whose
// mint fails is reported in the result and does not fail the workflow.
func DistributeTokensWorkflow(ctx workflow.Context, input DistributeTokensInput) (*DistributeTokensResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("DistributeTokensWorkflow started", "mint", input.Mint, "recipients", len(input.Recipients))

	if input.Mint == "" {
		return nil, temporal.NewNonRetryableApplicationError("mint is required", ErrTypeInvalidInput, nil)
	}
	if len(input.Recipients) == 0 {
		return nil, temporal.NewNonRetryableApplicationError("at least one recipient is required", ErrTypeInvalidInput, nil)
	}

	result := &DistributeTokensResult{
		Mint:      input.Mint,
		Results:   make([]RecipientResult, len(input.Recipients)),
		StartedAt: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeProgram, ErrTypeInvalidInput},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	futures := make([]workflow.Future, len(input.Recipients))
	for i, r := range input.Recipients {
		futures[i] = workflow.ExecuteActivity(ctx, a.MintToRecipient, MintToRecipientInput{
			Mint:         input.Mint,
			TokenAccount: r.TokenAccount,
			Amount:       r.Amount,
		})
	}

	for i, f := range futures {
		r := input.Recipients[i]
		rr := RecipientResult{
			TokenAccount: r.TokenAccount,
			Amount:       r.Amount,
		}

		var out *MintToRecipientResult
		if err := f.Get(ctx, &out); err != nil {
			rr.Status = RecipientStatusFailed
			rr.Error = recipientError(err)
			var appErr *temporal.ApplicationError
			if errors.As(err, &appErr) && appErr.HasDetails() {
				var code uint32
				if appErr.Details(&code) == nil {
					rr.ErrorCode = &code
				}
			}
			result.Failed++
			logger.Warn("recipient failed", "token_account", r.TokenAccount, "error", err)
		} else {
			rr.Status = RecipientStatusMinted
			rr.Signature = out.Signature
			result.Succeeded++
			result.TotalMinted += r.Amount
		}
		result.Results[i] = rr
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("DistributeTokensWorkflow completed",
		"mint", input.Mint,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"total_minted", result.TotalMinted,
	)
	return result, nil
}

// recipientError strips the activity wrapper from err.
func recipientError(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return fmt.Sprint(err)
}
