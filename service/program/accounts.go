package program

import (
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// InitializeTokenAccounts is the validated account bundle of InitializeToken.
type InitializeTokenAccounts struct {
	Mint          solana.PublicKey
	Authority     solana.PublicKey
	TokenProgram  solana.PublicKey
	SystemProgram solana.PublicKey
	Rent          solana.PublicKey
}

// MintTokensAccounts is the validated account bundle of MintTokens.
type MintTokensAccounts struct {
	Mint         solana.PublicKey
	MintState    *token.Mint
	Destination  solana.PublicKey
	DestState    *token.Account
	Authority    solana.PublicKey
	TokenProgram solana.PublicKey
}

// TransferTokensAccounts is the validated account bundle of TransferTokens.
type TransferTokensAccounts struct {
	From         solana.PublicKey
	FromState    *token.Account
	To           solana.PublicKey
	ToState      *token.Account
	Authority    solana.PublicKey
	TokenProgram solana.PublicKey
}

func loadInitializeTokenAccounts(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta) (*InitializeTokenAccounts, error) {
	if len(accounts) < 5 {
		return nil, ErrAccountNotEnoughKeys
	}
	a := &InitializeTokenAccounts{
		Mint:          accounts[0].PublicKey,
		Authority:     accounts[1].PublicKey,
		TokenProgram:  accounts[2].PublicKey,
		SystemProgram: accounts[3].PublicKey,
		Rent:          accounts[4].PublicKey,
	}

	if !ctx.IsSigner(a.Authority) {
		return nil, accountErr("authority", ErrAccountNotSigner)
	}
	if err := checkProgram(ctx, "token_program", a.TokenProgram, solana.TokenProgramID); err != nil {
		return nil, err
	}
	if err := checkProgram(ctx, "system_program", a.SystemProgram, solana.SystemProgramID); err != nil {
		return nil, err
	}
	if !a.Rent.Equals(solana.SysVarRentPubkey) {
		return nil, accountErr("rent", ErrAccountSysvarMismatch)
	}

	if !ctx.IsWritable(a.Mint) {
		return nil, accountErr("mint", ErrConstraintMut)
	}
	if !ctx.IsWritable(a.Authority) {
		return nil, accountErr("authority", ErrConstraintMut)
	}
	return a, nil
}

func loadMintTokensAccounts(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta) (*MintTokensAccounts, error) {
	if len(accounts) < 4 {
		return nil, ErrAccountNotEnoughKeys
	}
	a := &MintTokensAccounts{
		Mint:         accounts[0].PublicKey,
		Destination:  accounts[1].PublicKey,
		Authority:    accounts[2].PublicKey,
		TokenProgram: accounts[3].PublicKey,
	}

	var err error
	if a.MintState, err = loadMint(ctx, "mint", a.Mint); err != nil {
		return nil, err
	}
	if a.DestState, err = loadTokenAccount(ctx, "destination", a.Destination); err != nil {
		return nil, err
	}
	if !ctx.IsSigner(a.Authority) {
		return nil, accountErr("authority", ErrAccountNotSigner)
	}
	if err := checkProgram(ctx, "token_program", a.TokenProgram, solana.TokenProgramID); err != nil {
		return nil, err
	}

	if !ctx.IsWritable(a.Mint) {
		return nil, accountErr("mint", ErrConstraintMut)
	}
	if !ctx.IsWritable(a.Destination) {
		return nil, accountErr("destination", ErrConstraintMut)
	}
	if !ctx.IsWritable(a.Authority) {
		return nil, accountErr("authority", ErrConstraintMut)
	}
	return a, nil
}

func loadTransferTokensAccounts(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta) (*TransferTokensAccounts, error) {
	if len(accounts) < 4 {
		return nil, ErrAccountNotEnoughKeys
	}
	a := &TransferTokensAccounts{
		From:         accounts[0].PublicKey,
		To:           accounts[1].PublicKey,
		Authority:    accounts[2].PublicKey,
		TokenProgram: accounts[3].PublicKey,
	}

	var err error
	if a.FromState, err = loadTokenAccount(ctx, "from", a.From); err != nil {
		return nil, err
	}
	if a.ToState, err = loadTokenAccount(ctx, "to", a.To); err != nil {
		return nil, err
	}
	if !ctx.IsSigner(a.Authority) {
		return nil, accountErr("authority", ErrAccountNotSigner)
	}
	if err := checkProgram(ctx, "token_program", a.TokenProgram, solana.TokenProgramID); err != nil {
		return nil, err
	}

	if !ctx.IsWritable(a.From) {
		return nil, accountErr("from", ErrConstraintMut)
	}
	if !ctx.IsWritable(a.To) {
		return nil, accountErr("to", ErrConstraintMut)
	}
	return a, nil
}

func checkProgram(ctx *runtime.InvokeContext, name string, key, want solana.PublicKey) error {
	if !key.Equals(want) {
		return accountErr(name, ErrInvalidProgramID)
	}
	acct, err := ctx.Account(key)
	if err != nil {
		return err
	}
	if !acct.Executable {
		return accountErr(name, ErrInvalidProgramExecutable)
	}
	return nil
}

// loadOwned fetches an account that must already exist and belong to the
// token program.
func loadOwned(ctx *runtime.InvokeContext, name string, key solana.PublicKey) (*runtime.Account, error) {
	acct, err := ctx.Account(key)
	if err != nil {
		return nil, err
	}
	if acct.Owner.Equals(solana.SystemProgramID) && acct.Lamports == 0 {
		return nil, accountErr(name, ErrAccountNotInitialized)
	}
	if !acct.Owner.Equals(solana.TokenProgramID) {
		return nil, accountErr(name, ErrAccountOwnedByWrongProgram)
	}
	return acct, nil
}

func loadMint(ctx *runtime.InvokeContext, name string, key solana.PublicKey) (*token.Mint, error) {
	acct, err := loadOwned(ctx, name, key)
	if err != nil {
		return nil, err
	}
	mint, err := runtime.DecodeMint(acct.Data)
	if err != nil || !mint.IsInitialized {
		return nil, accountErr(name, ErrAccountDidNotDeserialize)
	}
	return mint, nil
}

func loadTokenAccount(ctx *runtime.InvokeContext, name string, key solana.PublicKey) (*token.Account, error) {
	acct, err := loadOwned(ctx, name, key)
	if err != nil {
		return nil, err
	}
	state, err := runtime.DecodeTokenAccount(acct.Data)
	if err != nil || state.State == token.Uninitialized {
		return nil, accountErr(name, ErrAccountDidNotDeserialize)
	}
	return state, nil
}
