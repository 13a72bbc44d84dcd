package server

import (
	"context"
	"log/slog"

	"github.com/brojonat/weektoken/service/db"
	"github.com/brojonat/weektoken/service/metrics"
	natspkg "github.com/brojonat/weektoken/service/nats"
	"github.com/brojonat/weektoken/service/program"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/gagliardetto/solana-go"
)

// Indexer records the WEEK instructions of processed transactions: it
// counts them, stores them and publishes them. Every sink is optional.
type Indexer struct {
	programID solana.PublicKey
	bank      *runtime.Bank
	store     EventStore
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIndexer creates an Indexer. store, publisher and m may be nil.
func NewIndexer(programID solana.PublicKey, bank *runtime.Bank, store EventStore, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Indexer {
	return &Indexer{
		programID: programID,
		bank:      bank,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Record indexes the WEEK instructions of tx given its result. Sink
// failures are logged; the transaction itself has already been processed.
func (ix *Indexer) Record(ctx context.Context, tx *solana.Transaction, res *runtime.TransactionResult) []*db.InstructionEvent {
	parsed := program.ParseTransaction(tx, ix.programID)

	txStatus := db.StatusSuccess
	var txErrText *string
	if res.Err != nil {
		txStatus = db.StatusFailed
		msg := res.Err.Error()
		txErrText = &msg
	}

	events := make([]*db.InstructionEvent, 0, len(parsed))
	for _, p := range parsed {
		status, errText := txStatus, txErrText
		if p.Err != nil {
			ix.logger.WarnContext(ctx, "failed to decode program instruction",
				"signature", res.Signature.String(),
				"index", p.Index,
				"error", p.Err,
			)
			status = db.StatusInvalid
			msg := p.Err.Error()
			errText = &msg
		}

		params := ix.eventParams(p, res, status, errText)
		ix.recordMetrics(p, params, status)

		event := &db.InstructionEvent{
			Signature:        params.Signature,
			InstructionIndex: params.InstructionIndex,
			Instruction:      params.Instruction,
			Mint:             params.Mint,
			Source:           params.Source,
			Destination:      params.Destination,
			Authority:        params.Authority,
			Amount:           params.Amount,
			Decimals:         params.Decimals,
			Slot:             params.Slot,
			Status:           params.Status,
			Error:            params.Error,
		}

		if ix.store != nil {
			stored, err := ix.store.CreateInstructionEvent(ctx, params)
			if err != nil {
				ix.logger.ErrorContext(ctx, "failed to store instruction event",
					"signature", params.Signature,
					"index", params.InstructionIndex,
					"error", err,
				)
			} else {
				event = stored
			}

			if p.Name == program.InstructionInitializeToken && status == db.StatusSuccess {
				ix.recordMint(ctx, p, res)
			}
		}

		if ix.publisher != nil {
			if err := ix.publisher.PublishInstructionEvent(ctx, natspkg.FromDBEvent(event)); err != nil {
				ix.logger.ErrorContext(ctx, "failed to publish instruction event",
					"signature", params.Signature,
					"index", params.InstructionIndex,
					"error", err,
				)
			}
		}

		events = append(events, event)
	}

	return events
}

func (ix *Indexer) eventParams(p *program.ParsedInstruction, res *runtime.TransactionResult, status string, errText *string) db.CreateInstructionEventParams {
	params := db.CreateInstructionEventParams{
		Signature:        res.Signature.String(),
		InstructionIndex: p.Index,
		Instruction:      p.Name,
		Authority:        keyPtr(p.Authority),
		Slot:             res.Slot,
		Status:           status,
		Error:            errText,
	}
	if p.Err != nil {
		return params
	}

	switch p.Name {
	case program.InstructionInitializeToken:
		decimals := p.Decimals
		params.Mint = keyPtr(p.Mint)
		params.Decimals = &decimals
	case program.InstructionMintTokens:
		amount := p.Amount
		params.Mint = keyPtr(p.Mint)
		params.Destination = keyPtr(p.Destination)
		params.Amount = &amount
	case program.InstructionTransferTokens:
		amount := p.Amount
		params.Source = keyPtr(p.Source)
		params.Destination = keyPtr(p.Destination)
		params.Amount = &amount
		// The transfer does not name its mint; take it from the source account.
		if acct, err := ix.bank.GetTokenAccount(p.Source); err == nil {
			params.Mint = keyPtr(acct.Mint)
		}
	}
	return params
}

func (ix *Indexer) recordMint(ctx context.Context, p *program.ParsedInstruction, res *runtime.TransactionResult) {
	mint, err := ix.bank.GetMint(p.Mint)
	if err != nil {
		ix.logger.WarnContext(ctx, "failed to read initialized mint", "mint", p.Mint.String(), "error", err)
		return
	}
	authority := p.Authority
	if mint.MintAuthority != nil {
		authority = *mint.MintAuthority
	}
	if _, err := ix.store.UpsertMint(ctx, db.UpsertMintParams{
		Address:       p.Mint.String(),
		Decimals:      mint.Decimals,
		MintAuthority: authority.String(),
		CreatedSlot:   res.Slot,
		Signature:     res.Signature.String(),
	}); err != nil {
		ix.logger.ErrorContext(ctx, "failed to store mint", "mint", p.Mint.String(), "error", err)
	}
}

func (ix *Indexer) recordMetrics(p *program.ParsedInstruction, params db.CreateInstructionEventParams, status string) {
	if ix.metrics == nil {
		return
	}
	ix.metrics.RecordInstruction(p.Name, status)
	if status != db.StatusSuccess || params.Mint == nil {
		return
	}
	switch p.Name {
	case program.InstructionMintTokens:
		ix.metrics.RecordTokensMinted(*params.Mint, p.Amount)
	case program.InstructionTransferTokens:
		ix.metrics.RecordTokensTransferred(*params.Mint, p.Amount)
	}
}

func keyPtr(k solana.PublicKey) *string {
	if k.IsZero() {
		return nil
	}
	s := k.String()
	return &s
}
