package runtime

import (
	"errors"
	"fmt"
)

// Transaction-level errors. These are raised before or around instruction
// execution and are not attributable to a single instruction.
var (
	ErrSignatureFailure        = errors.New("transaction signature verification failure")
	ErrBlockhashNotFound       = errors.New("blockhash not found")
	ErrAlreadyProcessed        = errors.New("this transaction has already been processed")
	ErrInsufficientFundsForFee = errors.New("insufficient funds for fee")
	ErrAccountNotFound         = errors.New("attempt to debit an account but found no record of a prior credit")
	ErrNoInstructions          = errors.New("transaction contains no instructions")
	ErrProgramNotFound         = errors.New("attempt to load a program that does not exist")

	// The bank keeps no address lookup tables, so any v0 lookup fails.
	ErrAddressLookupTableNotFound = errors.New("transaction loads an address table account that doesn't exist")
)

// Instruction-level errors, mirroring the runtime's InstructionError variants.
var (
	ErrInvalidArgument          = errors.New("invalid program argument")
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInvalidAccountData       = errors.New("invalid account data for instruction")
	ErrAccountDataTooSmall      = errors.New("account data too small for instruction")
	ErrInsufficientFunds        = errors.New("insufficient funds for instruction")
	ErrIncorrectProgramID       = errors.New("incorrect program id for instruction")
	ErrMissingRequiredSignature = errors.New("missing required signature for instruction")
	ErrAccountAlreadyInit       = errors.New("instruction requires an uninitialized account")
	ErrUninitializedAccount     = errors.New("instruction requires an initialized account")
	ErrNotEnoughAccountKeys     = errors.New("insufficient account keys for instruction")
	ErrReadonlyDataModified     = errors.New("instruction modified data of a read-only account")
	ErrPrivilegeEscalation      = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrMissingAccount           = errors.New("an account required by the instruction is missing")
	ErrCallDepth                = errors.New("cross-program invocation call depth too deep")
	ErrUnsupportedProgram       = errors.New("unsupported program id")
	ErrArithmeticOverflow       = errors.New("program arithmetic overflowed")
	ErrExternalDataModified     = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend     = errors.New("instruction spent from the balance of an account it does not own")
	ErrModifiedProgramID        = errors.New("instruction illegally modified the program id of an account")
	ErrUnbalancedInstruction    = errors.New("sum of account balances before and after instruction do not match")
)

// CustomError is a program-specific error code, surfaced by the runtime as
// Custom(code).
type CustomError struct {
	Code    uint32
	Message string
}

func (e *CustomError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("custom program error: 0x%x", e.Code)
	}
	return fmt.Sprintf("custom program error: 0x%x (%s)", e.Code, e.Message)
}

// Custom returns a CustomError for code.
func Custom(code uint32, message string) *CustomError {
	return &CustomError{Code: code, Message: message}
}

// InstructionError wraps the error raised while executing the instruction at
// Index of a transaction.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("error processing instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// CustomCode extracts a Custom(code) from err. The second return is false when
// err does not carry a custom program error.
func CustomCode(err error) (uint32, bool) {
	var coded interface{ CustomCode() uint32 }
	if errors.As(err, &coded) {
		return coded.CustomCode(), true
	}
	var custom *CustomError
	if errors.As(err, &custom) {
		return custom.Code, true
	}
	return 0, false
}
