package solana

import (
	"errors"
	"fmt"

	"github.com/brojonat/weektoken/service/program"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// parseProgramTransaction converts a GetTransactionResult into a
// ProgramTransaction holding the decoded WEEK instructions.
func parseProgramTransaction(sig solana.Signature, result *rpc.GetTransactionResult, programID solana.PublicKey) (*ProgramTransaction, error) {
	if result.Transaction == nil {
		return nil, errors.New("transaction body missing from response")
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	txn := &ProgramTransaction{
		Signature:    sig.String(),
		Slot:         result.Slot,
		Instructions: program.ParseTransaction(tx, programID),
	}

	if result.BlockTime != nil {
		bt := result.BlockTime.Time()
		txn.BlockTime = &bt
	}

	if result.Meta != nil {
		txn.Fee = result.Meta.Fee
		txn.Logs = result.Meta.LogMessages
		if result.Meta.Err != nil {
			errStr := fmt.Sprintf("%v", result.Meta.Err)
			txn.Err = &errStr
		}
	}

	return txn, nil
}
