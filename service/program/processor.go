package program

import (
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Processor executes WEEK program instructions inside a runtime.Bank.
type Processor struct {
	opts Options
}

var _ runtime.Program = (*Processor)(nil)

// NewProcessor creates a processor with the given options.
func NewProcessor(opts Options) *Processor {
	return &Processor{opts: opts}
}

// Register installs the program in bank at id.
func Register(bank *runtime.Bank, id solana.PublicKey, opts Options) *Processor {
	p := NewProcessor(opts)
	bank.RegisterProgram(id, p)
	return p
}

// Execute implements runtime.Program.
func (p *Processor) Execute(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	name, args, err := decodeData(data)
	if name != "" {
		ctx.Log("Instruction: %s", DisplayName(name))
	}
	if err != nil {
		return err
	}

	switch name {
	case InstructionInitializeToken:
		return p.initializeToken(ctx, accounts, args.decimals)
	case InstructionMintTokens:
		return p.mintTokens(ctx, accounts, args.amount)
	case InstructionTransferTokens:
		return p.transferTokens(ctx, accounts, args.amount)
	default:
		return ErrInstructionFallbackNotFound
	}
}

// initializeToken creates the mint account and initializes it with Decimals
// regardless of the decimals argument, which is only logged.
func (p *Processor) initializeToken(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta, decimals uint8) error {
	a, err := loadInitializeTokenAccounts(ctx, accounts)
	if err != nil {
		return err
	}

	if err := p.createMintAccount(ctx, a); err != nil {
		return err
	}

	initMint := token.NewInitializeMintInstructionBuilder().
		SetDecimals(Decimals).
		SetMintAuthority(a.Authority).
		SetMintAccount(a.Mint).
		SetSysVarRentPubkeyAccount(a.Rent).
		Build()
	if err := ctx.Invoke(initMint); err != nil {
		return err
	}

	ctx.Log("Initializing WEEK Token with %d decimals", decimals)
	return nil
}

// createMintAccount allocates the mint, topping up an address that already
// holds lamports instead of creating it from scratch.
func (p *Processor) createMintAccount(ctx *runtime.InvokeContext, a *InitializeTokenAccounts) error {
	mint, err := ctx.Account(a.Mint)
	if err != nil {
		return err
	}
	required := ctx.Rent().MinimumBalance(runtime.MintSize)

	if mint.Lamports == 0 {
		return ctx.Invoke(system.NewCreateAccountInstruction(
			required, runtime.MintSize, solana.TokenProgramID, a.Authority, a.Mint,
		).Build())
	}

	if required > mint.Lamports {
		if err := ctx.Invoke(system.NewTransferInstruction(required-mint.Lamports, a.Authority, a.Mint).Build()); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.NewAllocateInstruction(runtime.MintSize, a.Mint).Build()); err != nil {
		return err
	}
	return ctx.Invoke(system.NewAssignInstruction(solana.TokenProgramID, a.Mint).Build())
}

func (p *Processor) mintTokens(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta, amount uint64) error {
	a, err := loadMintTokensAccounts(ctx, accounts)
	if err != nil {
		return err
	}

	if p.opts.Preflight {
		if a.MintState.MintAuthority == nil || !a.MintState.MintAuthority.Equals(a.Authority) {
			return ErrUnauthorizedMintAuthority
		}
	}

	ctx.Log("Minting %d WEEK tokens", amount)
	return ctx.Invoke(token.NewMintToInstruction(amount, a.Mint, a.Destination, a.Authority, nil).Build())
}

func (p *Processor) transferTokens(ctx *runtime.InvokeContext, accounts []*solana.AccountMeta, amount uint64) error {
	a, err := loadTransferTokensAccounts(ctx, accounts)
	if err != nil {
		return err
	}

	if p.opts.Preflight && a.FromState.Amount < amount {
		return ErrInsufficientBalance
	}

	ctx.Log("Transferring %d WEEK tokens", amount)
	return ctx.Invoke(token.NewTransferInstruction(amount, a.From, a.To, a.Authority, nil).Build())
}
