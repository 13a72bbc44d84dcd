package runtime

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// MaxAccountDataLen is the largest account the system program will allocate.
const MaxAccountDataLen = 10 * 1024 * 1024

// System program custom errors.
var (
	ErrSystemAccountAlreadyInUse = Custom(0, "an account with the same address already exists")
	ErrSystemResultNegative      = Custom(1, "account does not have enough SOL to perform the operation")
	ErrSystemInvalidAccountSize  = Custom(3, "cannot allocate account data of this length")
)

// SystemProgram implements the subset of the system program used to fund
// and allocate accounts.
type SystemProgram struct{}

// Execute implements Program.
func (p *SystemProgram) Execute(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	inst, err := system.DecodeInstruction(accounts, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	switch ix := inst.Impl.(type) {
	case *system.CreateAccount:
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Lamports == nil || ix.Space == nil || ix.Owner == nil {
			return ErrInvalidInstructionData
		}
		return p.createAccount(ctx, accounts[0].PublicKey, accounts[1].PublicKey, *ix.Lamports, *ix.Space, *ix.Owner)
	case *system.Transfer:
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Lamports == nil {
			return ErrInvalidInstructionData
		}
		return p.transfer(ctx, accounts[0].PublicKey, accounts[1].PublicKey, *ix.Lamports)
	case *system.Allocate:
		if len(accounts) < 1 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Space == nil {
			return ErrInvalidInstructionData
		}
		return p.allocate(ctx, accounts[0].PublicKey, *ix.Space)
	case *system.Assign:
		if len(accounts) < 1 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Owner == nil {
			return ErrInvalidInstructionData
		}
		return p.assign(ctx, accounts[0].PublicKey, *ix.Owner)
	default:
		return fmt.Errorf("%w: system instruction %T", ErrInvalidInstructionData, inst.Impl)
	}
}

func (p *SystemProgram) createAccount(ctx *InvokeContext, from, to solana.PublicKey, lamports, space uint64, owner solana.PublicKey) error {
	if !ctx.IsSigner(to) {
		ctx.Log("Create Account: account %s must sign", to)
		return ErrMissingRequiredSignature
	}

	newAcct, err := ctx.AccountMut(to)
	if err != nil {
		return err
	}
	if newAcct.Lamports > 0 || len(newAcct.Data) > 0 || !newAcct.Owner.Equals(solana.SystemProgramID) {
		ctx.Log("Create Account: account %s already in use", to)
		return ErrSystemAccountAlreadyInUse
	}
	if space > MaxAccountDataLen {
		return ErrSystemInvalidAccountSize
	}

	if err := p.transfer(ctx, from, to, lamports); err != nil {
		return err
	}

	newAcct.Data = make([]byte, space)
	newAcct.Owner = owner
	return nil
}

func (p *SystemProgram) transfer(ctx *InvokeContext, from, to solana.PublicKey, lamports uint64) error {
	if !ctx.IsSigner(from) {
		ctx.Log("Transfer: `from` account %s must sign", from)
		return ErrMissingRequiredSignature
	}

	src, err := ctx.AccountMut(from)
	if err != nil {
		return err
	}
	dst, err := ctx.AccountMut(to)
	if err != nil {
		return err
	}
	if len(src.Data) > 0 {
		ctx.Log("Transfer: `from` must not carry data")
		return ErrInvalidArgument
	}
	if src.Lamports < lamports {
		ctx.Log("Transfer: insufficient lamports %d, need %d", src.Lamports, lamports)
		return ErrSystemResultNegative
	}
	if dst.Lamports+lamports < dst.Lamports {
		return ErrArithmeticOverflow
	}

	src.Lamports -= lamports
	dst.Lamports += lamports
	return nil
}

func (p *SystemProgram) allocate(ctx *InvokeContext, key solana.PublicKey, space uint64) error {
	if !ctx.IsSigner(key) {
		ctx.Log("Allocate: 'to' account %s must sign", key)
		return ErrMissingRequiredSignature
	}
	acct, err := ctx.AccountMut(key)
	if err != nil {
		return err
	}
	if len(acct.Data) > 0 || !acct.Owner.Equals(solana.SystemProgramID) {
		ctx.Log("Allocate: account %s already in use", key)
		return ErrSystemAccountAlreadyInUse
	}
	if space > MaxAccountDataLen {
		return ErrSystemInvalidAccountSize
	}
	acct.Data = make([]byte, space)
	return nil
}

func (p *SystemProgram) assign(ctx *InvokeContext, key, owner solana.PublicKey) error {
	if !ctx.IsSigner(key) {
		return ErrMissingRequiredSignature
	}
	acct, err := ctx.AccountMut(key)
	if err != nil {
		return err
	}
	acct.Owner = owner
	return nil
}
