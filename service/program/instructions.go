package program

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction is an encoded WEEK program instruction. It implements
// solana.Instruction.
type Instruction struct {
	programID     solana.PublicKey
	discriminator bin.TypeID
	accounts      solana.AccountMetaSlice
	args          []byte
}

var _ solana.Instruction = (*Instruction)(nil)

func (inst *Instruction) ProgramID() solana.PublicKey {
	return inst.programID
}

func (inst *Instruction) Accounts() []*solana.AccountMeta {
	return inst.accounts
}

func (inst *Instruction) Data() ([]byte, error) {
	out := make([]byte, 0, len(inst.discriminator)+len(inst.args))
	out = append(out, inst.discriminator[:]...)
	return append(out, inst.args...), nil
}

// InitializeToken creates a WEEK mint owned by the token program with the
// authority as its mint authority.
//
// Accounts:
//
//	[0] = [WRITE, SIGNER] mint
//	[1] = [WRITE, SIGNER] authority (payer)
//	[2] = [] token program
//	[3] = [] system program
//	[4] = [] rent sysvar
type InitializeToken struct {
	Decimals *uint8

	solana.AccountMetaSlice `bin:"-"`
}

// NewInitializeTokenInstructionBuilder creates a builder with the program
// accounts preset.
func NewInitializeTokenInstructionBuilder() *InitializeToken {
	inst := &InitializeToken{
		AccountMetaSlice: make(solana.AccountMetaSlice, 5),
	}
	inst.AccountMetaSlice[2] = solana.Meta(solana.TokenProgramID)
	inst.AccountMetaSlice[3] = solana.Meta(solana.SystemProgramID)
	inst.AccountMetaSlice[4] = solana.Meta(solana.SysVarRentPubkey)
	return inst
}

// NewInitializeTokenInstruction builds an InitializeToken instruction. The
// decimals argument is recorded in the instruction but the mint is always
// created with Decimals.
func NewInitializeTokenInstruction(decimals uint8, mint, authority solana.PublicKey) *InitializeToken {
	return NewInitializeTokenInstructionBuilder().
		SetDecimals(decimals).
		SetMintAccount(mint).
		SetAuthorityAccount(authority)
}

func (inst *InitializeToken) SetDecimals(decimals uint8) *InitializeToken {
	inst.Decimals = &decimals
	return inst
}

func (inst *InitializeToken) SetMintAccount(mint solana.PublicKey) *InitializeToken {
	inst.AccountMetaSlice[0] = solana.Meta(mint).WRITE().SIGNER()
	return inst
}

func (inst *InitializeToken) GetMintAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[0]
}

func (inst *InitializeToken) SetAuthorityAccount(authority solana.PublicKey) *InitializeToken {
	inst.AccountMetaSlice[1] = solana.Meta(authority).WRITE().SIGNER()
	return inst
}

func (inst *InitializeToken) GetAuthorityAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[1]
}

func (inst *InitializeToken) Validate() error {
	if inst.Decimals == nil {
		return errors.New("Decimals parameter is not set")
	}
	return validateAccounts(inst.AccountMetaSlice, "mint", "authority", "tokenProgram", "systemProgram", "rent")
}

func (inst InitializeToken) Build() *Instruction {
	var decimals uint8
	if inst.Decimals != nil {
		decimals = *inst.Decimals
	}
	return &Instruction{
		programID:     ProgramID,
		discriminator: InitializeTokenDiscriminator,
		accounts:      inst.AccountMetaSlice,
		args:          []byte{decimals},
	}
}

// ValidateAndBuild validates the instruction and builds it.
func (inst InitializeToken) ValidateAndBuild() (*Instruction, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst.Build(), nil
}

// MintTokens mints amount tokens of mint into destination.
//
// Accounts:
//
//	[0] = [WRITE] mint
//	[1] = [WRITE] destination token account
//	[2] = [WRITE, SIGNER] mint authority
//	[3] = [] token program
type MintTokens struct {
	Amount *uint64

	solana.AccountMetaSlice `bin:"-"`
}

// NewMintTokensInstructionBuilder creates a builder with the token program preset.
func NewMintTokensInstructionBuilder() *MintTokens {
	inst := &MintTokens{
		AccountMetaSlice: make(solana.AccountMetaSlice, 4),
	}
	inst.AccountMetaSlice[3] = solana.Meta(solana.TokenProgramID)
	return inst
}

// NewMintTokensInstruction builds a MintTokens instruction.
func NewMintTokensInstruction(amount uint64, mint, destination, authority solana.PublicKey) *MintTokens {
	return NewMintTokensInstructionBuilder().
		SetAmount(amount).
		SetMintAccount(mint).
		SetDestinationAccount(destination).
		SetAuthorityAccount(authority)
}

func (inst *MintTokens) SetAmount(amount uint64) *MintTokens {
	inst.Amount = &amount
	return inst
}

func (inst *MintTokens) SetMintAccount(mint solana.PublicKey) *MintTokens {
	inst.AccountMetaSlice[0] = solana.Meta(mint).WRITE()
	return inst
}

func (inst *MintTokens) GetMintAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[0]
}

func (inst *MintTokens) SetDestinationAccount(destination solana.PublicKey) *MintTokens {
	inst.AccountMetaSlice[1] = solana.Meta(destination).WRITE()
	return inst
}

func (inst *MintTokens) GetDestinationAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[1]
}

func (inst *MintTokens) SetAuthorityAccount(authority solana.PublicKey) *MintTokens {
	inst.AccountMetaSlice[2] = solana.Meta(authority).WRITE().SIGNER()
	return inst
}

func (inst *MintTokens) GetAuthorityAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[2]
}

func (inst *MintTokens) Validate() error {
	if inst.Amount == nil {
		return errors.New("Amount parameter is not set")
	}
	return validateAccounts(inst.AccountMetaSlice, "mint", "destination", "authority", "tokenProgram")
}

func (inst MintTokens) Build() *Instruction {
	return &Instruction{
		programID:     ProgramID,
		discriminator: MintTokensDiscriminator,
		accounts:      inst.AccountMetaSlice,
		args:          encodeAmount(inst.Amount),
	}
}

// ValidateAndBuild validates the instruction and builds it.
func (inst MintTokens) ValidateAndBuild() (*Instruction, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst.Build(), nil
}

// TransferTokens moves amount tokens from one token account to another.
//
// Accounts:
//
//	[0] = [WRITE] source token account
//	[1] = [WRITE] destination token account
//	[2] = [SIGNER] source owner
//	[3] = [] token program
type TransferTokens struct {
	Amount *uint64

	solana.AccountMetaSlice `bin:"-"`
}

// NewTransferTokensInstructionBuilder creates a builder with the token program preset.
func NewTransferTokensInstructionBuilder() *TransferTokens {
	inst := &TransferTokens{
		AccountMetaSlice: make(solana.AccountMetaSlice, 4),
	}
	inst.AccountMetaSlice[3] = solana.Meta(solana.TokenProgramID)
	return inst
}

// NewTransferTokensInstruction builds a TransferTokens instruction.
func NewTransferTokensInstruction(amount uint64, from, to, authority solana.PublicKey) *TransferTokens {
	return NewTransferTokensInstructionBuilder().
		SetAmount(amount).
		SetFromAccount(from).
		SetToAccount(to).
		SetAuthorityAccount(authority)
}

func (inst *TransferTokens) SetAmount(amount uint64) *TransferTokens {
	inst.Amount = &amount
	return inst
}

func (inst *TransferTokens) SetFromAccount(from solana.PublicKey) *TransferTokens {
	inst.AccountMetaSlice[0] = solana.Meta(from).WRITE()
	return inst
}

func (inst *TransferTokens) GetFromAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[0]
}

func (inst *TransferTokens) SetToAccount(to solana.PublicKey) *TransferTokens {
	inst.AccountMetaSlice[1] = solana.Meta(to).WRITE()
	return inst
}

func (inst *TransferTokens) GetToAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[1]
}

func (inst *TransferTokens) SetAuthorityAccount(authority solana.PublicKey) *TransferTokens {
	inst.AccountMetaSlice[2] = solana.Meta(authority).SIGNER()
	return inst
}

func (inst *TransferTokens) GetAuthorityAccount() *solana.AccountMeta {
	return inst.AccountMetaSlice[2]
}

func (inst *TransferTokens) Validate() error {
	if inst.Amount == nil {
		return errors.New("Amount parameter is not set")
	}
	return validateAccounts(inst.AccountMetaSlice, "from", "to", "authority", "tokenProgram")
}

func (inst TransferTokens) Build() *Instruction {
	return &Instruction{
		programID:     ProgramID,
		discriminator: TransferTokensDiscriminator,
		accounts:      inst.AccountMetaSlice,
		args:          encodeAmount(inst.Amount),
	}
}

// ValidateAndBuild validates the instruction and builds it.
func (inst TransferTokens) ValidateAndBuild() (*Instruction, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst.Build(), nil
}

func validateAccounts(accounts solana.AccountMetaSlice, names ...string) error {
	for i, name := range names {
		if i >= len(accounts) || accounts[i] == nil {
			return fmt.Errorf("accounts.%s is not set", name)
		}
	}
	return nil
}

func encodeAmount(amount *uint64) []byte {
	var v uint64
	if amount != nil {
		v = *amount
	}
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = bin.NewBorshEncoder(&buf).WriteUint64(v, bin.LE)
	return buf.Bytes()
}

// ParsedInstruction is a decoded WEEK program instruction with its accounts
// resolved to their roles.
type ParsedInstruction struct {
	// Index is the position of the instruction within its transaction.
	Index       int
	Name        string
	Decimals    uint8
	Amount      uint64
	Mint        solana.PublicKey
	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	// Err is set when the instruction could not be decoded. Only Index and
	// Name are meaningful then.
	Err error
}

// DecodeInstruction decodes instruction data and maps accounts to their roles.
func DecodeInstruction(accounts []*solana.AccountMeta, data []byte) (*ParsedInstruction, error) {
	name, args, err := decodeData(data)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedInstruction{Name: name}
	switch name {
	case InstructionInitializeToken:
		if len(accounts) < 5 {
			return nil, ErrAccountNotEnoughKeys
		}
		parsed.Decimals = args.decimals
		parsed.Mint = accounts[0].PublicKey
		parsed.Authority = accounts[1].PublicKey
	case InstructionMintTokens:
		if len(accounts) < 4 {
			return nil, ErrAccountNotEnoughKeys
		}
		parsed.Amount = args.amount
		parsed.Mint = accounts[0].PublicKey
		parsed.Destination = accounts[1].PublicKey
		parsed.Authority = accounts[2].PublicKey
	case InstructionTransferTokens:
		if len(accounts) < 4 {
			return nil, ErrAccountNotEnoughKeys
		}
		parsed.Amount = args.amount
		parsed.Source = accounts[0].PublicKey
		parsed.Destination = accounts[1].PublicKey
		parsed.Authority = accounts[2].PublicKey
	}
	return parsed, nil
}

// ParseTransaction returns every instruction of tx addressed to programID.
// An instruction that fails to decode is returned with Err set, so one bad
// instruction does not hide the others. Instructions whose program cannot be
// resolved are skipped.
func ParseTransaction(tx *solana.Transaction, programID solana.PublicKey) []*ParsedInstruction {
	var out []*ParsedInstruction
	for i := range tx.Message.Instructions {
		ci := &tx.Message.Instructions[i]
		id, err := tx.Message.ResolveProgramIDIndex(ci.ProgramIDIndex)
		if err != nil || !id.Equals(programID) {
			continue
		}

		var parsed *ParsedInstruction
		accounts, err := ci.ResolveInstructionAccounts(&tx.Message)
		if err == nil {
			parsed, err = DecodeInstruction(accounts, ci.Data)
		}
		if err != nil {
			name, _, _ := decodeData(ci.Data)
			if name == "" {
				name = InstructionUnknown
			}
			parsed = &ParsedInstruction{
				Name: name,
				Err:  fmt.Errorf("failed to decode instruction %d: %w", i, err),
			}
		}
		parsed.Index = i
		out = append(out, parsed)
	}
	return out
}

type instructionArgs struct {
	decimals uint8
	amount   uint64
}

// decodeData splits instruction data into its name and Borsh-encoded
// arguments. The name is returned even when the arguments fail to decode.
func decodeData(data []byte) (string, instructionArgs, error) {
	var args instructionArgs
	if len(data) < 8 {
		return "", args, ErrInstructionMissing
	}

	dec := bin.NewBorshDecoder(data)
	id, err := dec.ReadTypeID()
	if err != nil {
		return "", args, ErrInstructionMissing
	}
	name := InstructionNameForDiscriminator(id)
	if name == "" {
		return "", args, ErrInstructionFallbackNotFound
	}

	switch name {
	case InstructionInitializeToken:
		args.decimals, err = dec.ReadUint8()
	default:
		args.amount, err = dec.ReadUint64(bin.LE)
	}
	if err != nil {
		return name, args, ErrInstructionDidNotDeserialize
	}
	return name, args, nil
}
