package runtime

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forwardingProgram forwards a system transfer of 1 lamport from accounts[0]
// to accounts[1] through a cross-program invocation.
var forwardingProgram = ProgramFunc(func(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	ctx.Log("forwarding")
	return ctx.Invoke(system.NewTransferInstruction(1, accounts[0].PublicKey, accounts[1].PublicKey).Build())
})

// TestInvoke_ForwardsSignerPrivileges tests a CPI that reuses the signer
// privilege of the outer instruction.
func TestInvoke_ForwardsSignerPrivileges(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	programID := newKey(t).PublicKey()
	bank.RegisterProgram(programID, forwardingProgram)

	payer := newFundedKey(t, bank, oneSOL)
	recipient := newKey(t).PublicKey()

	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).WRITE().SIGNER(),
		solana.Meta(recipient).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, nil)

	res, err := bank.ProcessTransaction(context.Background(), buildTx(t, bank, payer, nil, ix))
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, uint64(1), lamportsOf(t, bank, recipient))
	assert.Contains(t, res.Logs, "Program log: forwarding")
	assert.Contains(t, res.Logs, "Program 11111111111111111111111111111111 invoke [2]")
}

// TestInvoke_RejectsPrivilegeEscalation tests that a CPI cannot promote an
// account to signer.
func TestInvoke_RejectsPrivilegeEscalation(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	programID := newKey(t).PublicKey()
	bank.RegisterProgram(programID, forwardingProgram)

	payer := newFundedKey(t, bank, oneSOL)
	victim := newFundedKey(t, bank, oneSOL)
	recipient := newKey(t).PublicKey()

	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(victim.PublicKey()).WRITE(),
		solana.Meta(recipient).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, nil)

	res, err := bank.ProcessTransaction(context.Background(), buildTx(t, bank, payer, nil, ix))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrPrivilegeEscalation)
	assert.Equal(t, uint64(oneSOL), lamportsOf(t, bank, victim.PublicKey()))
}

// TestInvoke_RequiresProgramAccount tests that the callee program must be
// passed to the caller.
func TestInvoke_RequiresProgramAccount(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	programID := newKey(t).PublicKey()
	bank.RegisterProgram(programID, forwardingProgram)

	payer := newFundedKey(t, bank, oneSOL)

	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).WRITE().SIGNER(),
		solana.Meta(newKey(t).PublicKey()).WRITE(),
	}, nil)

	res, err := bank.ProcessTransaction(context.Background(), buildTx(t, bank, payer, nil, ix))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrMissingAccount)
}

// TestInvoke_ExternalDataModified tests that a program cannot write into an
// account owned by another program.
func TestInvoke_ExternalDataModified(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	programID := newKey(t).PublicKey()
	bank.RegisterProgram(programID, ProgramFunc(func(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		acct, err := ctx.AccountMut(accounts[0].PublicKey)
		if err != nil {
			return err
		}
		acct.Data[0] = 0xff
		return nil
	}))

	payer := newFundedKey(t, bank, oneSOL)
	target := newKey(t).PublicKey()
	bank.SetAccount(target, &Account{Lamports: 1, Owner: solana.TokenProgramID, Data: make([]byte, 8)})

	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(target).WRITE(),
	}, nil)

	res, err := bank.ProcessTransaction(context.Background(), buildTx(t, bank, payer, nil, ix))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrExternalDataModified)

	acct, ok := bank.GetAccount(target)
	require.True(t, ok)
	assert.Equal(t, byte(0), acct.Data[0])
}

// TestInvoke_CallDepth tests the nesting limit of cross-program invocations.
func TestInvoke_CallDepth(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	programID := newKey(t).PublicKey()
	var maxDepth int
	bank.RegisterProgram(programID, ProgramFunc(func(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		maxDepth = ctx.Depth()
		return ctx.Invoke(solana.NewInstruction(programID, solana.AccountMetaSlice{
			solana.Meta(programID),
		}, nil))
	}))

	payer := newFundedKey(t, bank, oneSOL)
	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{solana.Meta(programID)}, nil)

	res, err := bank.ProcessTransaction(context.Background(), buildTx(t, bank, payer, nil, ix))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrCallDepth)
	assert.Equal(t, MaxInvokeDepth, maxDepth)
}
