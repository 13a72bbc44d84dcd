package runtime

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Account layouts of the token program.
const (
	MintSize         = token.MINT_SIZE
	TokenAccountSize = 165
)

// Token program custom errors.
var (
	ErrTokenNotRentExempt       = Custom(0, "lamport balance below rent-exempt threshold")
	ErrTokenInsufficientFunds   = Custom(1, "insufficient funds")
	ErrTokenInvalidMint         = Custom(2, "invalid mint")
	ErrTokenMintMismatch        = Custom(3, "account not associated with this mint")
	ErrTokenOwnerMismatch       = Custom(4, "owner does not match")
	ErrTokenFixedSupply         = Custom(5, "fixed supply")
	ErrTokenAlreadyInUse        = Custom(6, "already in use")
	ErrTokenUninitializedState  = Custom(9, "state is uninitialized")
	ErrTokenOverflow            = Custom(14, "operation overflowed")
	ErrTokenAccountFrozen       = Custom(17, "account is frozen")
)

// TokenProgram implements the mint and transfer subset of the token program.
type TokenProgram struct{}

// Execute implements Program.
func (p *TokenProgram) Execute(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	inst, err := token.DecodeInstruction(accounts, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	switch ix := inst.Impl.(type) {
	case *token.InitializeMint:
		ctx.Log("Instruction: InitializeMint")
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		if !accounts[1].PublicKey.Equals(solana.SysVarRentPubkey) {
			return ErrInvalidArgument
		}
		return p.initializeMint(ctx, accounts[0].PublicKey, ix.Decimals, ix.MintAuthority, ix.FreezeAuthority)
	case *token.InitializeMint2:
		ctx.Log("Instruction: InitializeMint2")
		if len(accounts) < 1 {
			return ErrNotEnoughAccountKeys
		}
		return p.initializeMint(ctx, accounts[0].PublicKey, ix.Decimals, ix.MintAuthority, ix.FreezeAuthority)
	case *token.InitializeAccount:
		ctx.Log("Instruction: InitializeAccount")
		if len(accounts) < 4 {
			return ErrNotEnoughAccountKeys
		}
		return p.initializeAccount(ctx, accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey)
	case *token.InitializeAccount3:
		ctx.Log("Instruction: InitializeAccount3")
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Owner == nil {
			return ErrInvalidInstructionData
		}
		return p.initializeAccount(ctx, accounts[0].PublicKey, accounts[1].PublicKey, *ix.Owner)
	case *token.MintTo:
		ctx.Log("Instruction: MintTo")
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Amount == nil {
			return ErrInvalidInstructionData
		}
		return p.mintTo(ctx, accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey, *ix.Amount)
	case *token.Transfer:
		ctx.Log("Instruction: Transfer")
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		if ix.Amount == nil {
			return ErrInvalidInstructionData
		}
		return p.transfer(ctx, accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey, *ix.Amount)
	default:
		return fmt.Errorf("%w: token instruction %T", ErrInvalidInstructionData, inst.Impl)
	}
}

func (p *TokenProgram) initializeMint(ctx *InvokeContext, key solana.PublicKey, decimals *uint8, authority, freeze *solana.PublicKey) error {
	if decimals == nil || authority == nil {
		return ErrInvalidInstructionData
	}

	acct, err := p.ownedMut(ctx, key)
	if err != nil {
		return err
	}
	if len(acct.Data) != MintSize {
		return ErrInvalidAccountData
	}
	mint, err := DecodeMint(acct.Data)
	if err != nil {
		return err
	}
	if mint.IsInitialized {
		return ErrTokenAlreadyInUse
	}
	if !ctx.Rent().IsExempt(acct.Lamports, len(acct.Data)) {
		return ErrTokenNotRentExempt
	}

	mint.MintAuthority = authority
	mint.Decimals = *decimals
	mint.IsInitialized = true
	mint.FreezeAuthority = freeze
	return encodeInto(acct.Data, mint)
}

func (p *TokenProgram) initializeAccount(ctx *InvokeContext, key, mintKey, owner solana.PublicKey) error {
	acct, err := p.ownedMut(ctx, key)
	if err != nil {
		return err
	}
	if len(acct.Data) != TokenAccountSize {
		return ErrInvalidAccountData
	}
	state, err := DecodeTokenAccount(acct.Data)
	if err != nil {
		return err
	}
	if state.State != token.Uninitialized {
		return ErrTokenAlreadyInUse
	}
	if !ctx.Rent().IsExempt(acct.Lamports, len(acct.Data)) {
		return ErrTokenNotRentExempt
	}

	mintAcct, err := ctx.Account(mintKey)
	if err != nil {
		return err
	}
	if !mintAcct.Owner.Equals(ctx.ProgramID()) {
		return ErrIncorrectProgramID
	}
	mint, err := DecodeMint(mintAcct.Data)
	if err != nil || !mint.IsInitialized {
		return ErrTokenInvalidMint
	}

	state.Mint = mintKey
	state.Owner = owner
	state.State = token.Initialized
	return encodeInto(acct.Data, state)
}

func (p *TokenProgram) mintTo(ctx *InvokeContext, mintKey, destKey, authority solana.PublicKey, amount uint64) error {
	destAcct, err := p.ownedMut(ctx, destKey)
	if err != nil {
		return err
	}
	dest, err := loadInitializedTokenAccount(destAcct)
	if err != nil {
		return err
	}
	if dest.State == token.Frozen {
		return ErrTokenAccountFrozen
	}
	if !dest.Mint.Equals(mintKey) {
		return ErrTokenMintMismatch
	}

	mintAcct, err := p.ownedMut(ctx, mintKey)
	if err != nil {
		return err
	}
	mint, err := DecodeMint(mintAcct.Data)
	if err != nil {
		return err
	}
	if !mint.IsInitialized {
		return ErrUninitializedAccount
	}
	if mint.MintAuthority == nil {
		return ErrTokenFixedSupply
	}
	if !mint.MintAuthority.Equals(authority) {
		return ErrTokenOwnerMismatch
	}
	if !ctx.IsSigner(authority) {
		return ErrMissingRequiredSignature
	}

	if dest.Amount+amount < dest.Amount || mint.Supply+amount < mint.Supply {
		return ErrTokenOverflow
	}
	dest.Amount += amount
	mint.Supply += amount

	if err := encodeInto(destAcct.Data, dest); err != nil {
		return err
	}
	return encodeInto(mintAcct.Data, mint)
}

func (p *TokenProgram) transfer(ctx *InvokeContext, srcKey, dstKey, authority solana.PublicKey, amount uint64) error {
	srcAcct, err := p.ownedMut(ctx, srcKey)
	if err != nil {
		return err
	}
	src, err := loadInitializedTokenAccount(srcAcct)
	if err != nil {
		return err
	}
	dstAcct, err := p.ownedMut(ctx, dstKey)
	if err != nil {
		return err
	}
	dst, err := loadInitializedTokenAccount(dstAcct)
	if err != nil {
		return err
	}

	if src.State == token.Frozen || dst.State == token.Frozen {
		return ErrTokenAccountFrozen
	}
	if src.Amount < amount {
		return ErrTokenInsufficientFunds
	}
	if !src.Mint.Equals(dst.Mint) {
		return ErrTokenMintMismatch
	}

	if !src.Owner.Equals(authority) {
		return ErrTokenOwnerMismatch
	}
	if !ctx.IsSigner(authority) {
		return ErrMissingRequiredSignature
	}

	if srcKey.Equals(dstKey) {
		return nil
	}

	if dst.Amount+amount < dst.Amount {
		return ErrTokenOverflow
	}
	src.Amount -= amount
	dst.Amount += amount

	if err := encodeInto(srcAcct.Data, src); err != nil {
		return err
	}
	return encodeInto(dstAcct.Data, dst)
}

// ownedMut returns a writable account that must belong to the token program.
func (p *TokenProgram) ownedMut(ctx *InvokeContext, key solana.PublicKey) (*Account, error) {
	acct, err := ctx.AccountMut(key)
	if err != nil {
		return nil, err
	}
	if !acct.Owner.Equals(ctx.ProgramID()) {
		return nil, ErrIncorrectProgramID
	}
	return acct, nil
}

func loadInitializedTokenAccount(acct *Account) (*token.Account, error) {
	state, err := DecodeTokenAccount(acct.Data)
	if err != nil {
		return nil, err
	}
	if state.State == token.Uninitialized {
		return nil, ErrUninitializedAccount
	}
	return state, nil
}

// DecodeMint parses mint account data.
func DecodeMint(data []byte) (*token.Mint, error) {
	if len(data) != MintSize {
		return nil, ErrInvalidAccountData
	}
	var mint token.Mint
	if err := bin.NewBinDecoder(data).Decode(&mint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return &mint, nil
}

// DecodeTokenAccount parses token account data.
func DecodeTokenAccount(data []byte) (*token.Account, error) {
	if len(data) != TokenAccountSize {
		return nil, ErrInvalidAccountData
	}
	var acct token.Account
	if err := bin.NewBinDecoder(data).Decode(&acct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return &acct, nil
}

// EncodeMint serializes a mint into its on-chain layout.
func EncodeMint(mint *token.Mint) ([]byte, error) {
	out := make([]byte, MintSize)
	if err := encodeInto(out, mint); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeTokenAccount serializes a token account into its on-chain layout.
func EncodeTokenAccount(acct *token.Account) ([]byte, error) {
	out := make([]byte, TokenAccountSize)
	if err := encodeInto(out, acct); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeInto(dst []byte, v any) error {
	var buf bytes.Buffer
	if err := bin.NewBinEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	if buf.Len() != len(dst) {
		return ErrAccountDataTooSmall
	}
	copy(dst, buf.Bytes())
	return nil
}

// GetMint returns the decoded mint stored at key.
func (b *Bank) GetMint(key solana.PublicKey) (*token.Mint, error) {
	acct, ok := b.GetAccount(key)
	if !ok {
		return nil, ErrAccountNotFound
	}
	if !acct.Owner.Equals(solana.TokenProgramID) {
		return nil, ErrIncorrectProgramID
	}
	mint, err := DecodeMint(acct.Data)
	if err != nil {
		return nil, err
	}
	if !mint.IsInitialized {
		return nil, ErrUninitializedAccount
	}
	return mint, nil
}

// GetTokenAccount returns the decoded token account stored at key.
func (b *Bank) GetTokenAccount(key solana.PublicKey) (*token.Account, error) {
	acct, ok := b.GetAccount(key)
	if !ok {
		return nil, ErrAccountNotFound
	}
	if !acct.Owner.Equals(solana.TokenProgramID) {
		return nil, ErrIncorrectProgramID
	}
	return loadInitializedTokenAccount(acct)
}
