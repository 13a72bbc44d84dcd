// Package program implements the WEEK token program: a thin instruction
// dispatcher that validates its account bundles and forwards mint
// initialization, minting and transfers to the SPL token program.
package program

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the address the WEEK program is deployed at.
var DefaultProgramID = solana.MustPublicKeyFromBase58("A7FGoLcEt2qJD32UvzT1ndnBUPWEanprxxYH1PtFouCm")

// ProgramID is the address used by the instruction builders. Override it with
// SetProgramID when targeting a different deployment.
var ProgramID = DefaultProgramID

// SetProgramID changes the program id used by the instruction builders.
func SetProgramID(id solana.PublicKey) {
	ProgramID = id
}

// Decimals is the precision every WEEK mint is created with.
const Decimals uint8 = 9

// Instruction names as they appear in the program's interface.
const (
	InstructionInitializeToken = "initialize_token"
	InstructionMintTokens      = "mint_tokens"
	InstructionTransferTokens  = "transfer_tokens"

	// InstructionUnknown names a parsed instruction whose discriminator
	// matches none of the above.
	InstructionUnknown = "unknown"
)

// Instruction discriminators: the first 8 bytes of sha256("global:<name>").
var (
	InitializeTokenDiscriminator = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, InstructionInitializeToken)
	MintTokensDiscriminator      = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, InstructionMintTokens)
	TransferTokensDiscriminator  = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, InstructionTransferTokens)
)

// DisplayName returns the CamelCase name logged when an instruction runs.
func DisplayName(name string) string {
	switch name {
	case InstructionInitializeToken:
		return "InitializeToken"
	case InstructionMintTokens:
		return "MintTokens"
	case InstructionTransferTokens:
		return "TransferTokens"
	default:
		return name
	}
}

// InstructionNameForDiscriminator returns the instruction name for a
// discriminator, or "" when it is unknown.
func InstructionNameForDiscriminator(id bin.TypeID) string {
	switch id {
	case InitializeTokenDiscriminator:
		return InstructionInitializeToken
	case MintTokensDiscriminator:
		return InstructionMintTokens
	case TransferTokensDiscriminator:
		return InstructionTransferTokens
	default:
		return ""
	}
}

// Options configures the on-chain behavior of the program.
type Options struct {
	// Preflight enables local checks that raise InsufficientBalance and
	// UnauthorizedMintAuthority before forwarding to the token program.
	// When false, those failures surface from the token program instead.
	Preflight bool
}

// Error is an error raised by the program itself. Codes below 6000 follow
// the framework error table; codes from 6000 are program specific.
type Error struct {
	Code    uint32
	Name    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error Code: %s. Error Number: %d. Error Message: %s.", e.Name, e.Code, e.Message)
}

// CustomCode returns the code the runtime reports as Custom(code).
func (e *Error) CustomCode() uint32 {
	return e.Code
}

// Program errors.
var (
	ErrInsufficientBalance       = &Error{Code: 6000, Name: "InsufficientBalance", Message: "Insufficient balance for transfer"}
	ErrUnauthorizedMintAuthority = &Error{Code: 6001, Name: "UnauthorizedMintAuthority", Message: "Unauthorized mint authority"}
)

// Framework errors raised while dispatching and validating accounts.
var (
	ErrInstructionMissing           = &Error{Code: 100, Name: "InstructionMissing", Message: "8 byte instruction identifier not provided"}
	ErrInstructionFallbackNotFound  = &Error{Code: 101, Name: "InstructionFallbackNotFound", Message: "Fallback functions are not supported"}
	ErrInstructionDidNotDeserialize = &Error{Code: 102, Name: "InstructionDidNotDeserialize", Message: "The program could not deserialize the given instruction"}
	ErrConstraintMut                = &Error{Code: 2000, Name: "ConstraintMut", Message: "A mut constraint was violated"}
	ErrAccountDidNotDeserialize     = &Error{Code: 3003, Name: "AccountDidNotDeserialize", Message: "Failed to deserialize the account"}
	ErrAccountNotEnoughKeys         = &Error{Code: 3005, Name: "AccountNotEnoughKeys", Message: "Not enough account keys given to the instruction"}
	ErrAccountOwnedByWrongProgram   = &Error{Code: 3007, Name: "AccountOwnedByWrongProgram", Message: "The given account is owned by a different program than expected"}
	ErrInvalidProgramID             = &Error{Code: 3008, Name: "InvalidProgramId", Message: "Program ID was not as expected"}
	ErrInvalidProgramExecutable     = &Error{Code: 3009, Name: "InvalidProgramExecutable", Message: "Program account is not executable"}
	ErrAccountNotSigner             = &Error{Code: 3010, Name: "AccountNotSigner", Message: "The given account did not sign"}
	ErrAccountNotInitialized        = &Error{Code: 3012, Name: "AccountNotInitialized", Message: "The program expected this account to be already initialized"}
	ErrAccountSysvarMismatch        = &Error{Code: 3015, Name: "AccountSysvarMismatch", Message: "The given public key does not match the required sysvar"}
)

var errorsByCode = map[uint32]*Error{}

func init() {
	for _, e := range []*Error{
		ErrInsufficientBalance,
		ErrUnauthorizedMintAuthority,
		ErrInstructionMissing,
		ErrInstructionFallbackNotFound,
		ErrInstructionDidNotDeserialize,
		ErrConstraintMut,
		ErrAccountDidNotDeserialize,
		ErrAccountNotEnoughKeys,
		ErrAccountOwnedByWrongProgram,
		ErrInvalidProgramID,
		ErrInvalidProgramExecutable,
		ErrAccountNotSigner,
		ErrAccountNotInitialized,
		ErrAccountSysvarMismatch,
	} {
		errorsByCode[e.Code] = e
	}
}

// ErrorFromCode returns the program error with the given code, if any.
func ErrorFromCode(code uint32) (*Error, bool) {
	e, ok := errorsByCode[code]
	return e, ok
}

// AccountError attributes an error to a named account of the bundle.
type AccountError struct {
	Account string
	Err     error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("%v Error caused by account: %s.", e.Err, e.Account)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

func accountErr(name string, err error) error {
	return &AccountError{Account: name, Err: err}
}
