package runtime

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createMint allocates and initializes a mint with the given authority.
func createMint(t *testing.T, bank *Bank, payer, authority solana.PrivateKey, decimals uint8) solana.PublicKey {
	t.Helper()
	mint := newKey(t)

	tx := buildTx(t, bank, payer, []solana.PrivateKey{mint},
		system.NewCreateAccountInstruction(
			bank.MinimumBalance(MintSize), MintSize, solana.TokenProgramID,
			payer.PublicKey(), mint.PublicKey(),
		).Build(),
		token.NewInitializeMintInstructionBuilder().
			SetDecimals(decimals).
			SetMintAuthority(authority.PublicKey()).
			SetMintAccount(mint.PublicKey()).
			Build(),
	)
	_, err := bank.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	return mint.PublicKey()
}

// createTokenAccount allocates and initializes a token account for owner.
func createTokenAccount(t *testing.T, bank *Bank, payer solana.PrivateKey, mint, owner solana.PublicKey) solana.PublicKey {
	t.Helper()
	acct := newKey(t)

	tx := buildTx(t, bank, payer, []solana.PrivateKey{acct},
		system.NewCreateAccountInstruction(
			bank.MinimumBalance(TokenAccountSize), TokenAccountSize, solana.TokenProgramID,
			payer.PublicKey(), acct.PublicKey(),
		).Build(),
		token.NewInitializeAccount3Instruction(owner, acct.PublicKey(), mint).Build(),
	)
	_, err := bank.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	return acct.PublicKey()
}

// TestTokenProgram_MintAndTransfer tests the happy path from mint creation
// through a transfer between two holders.
func TestTokenProgram_MintAndTransfer(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	payer := newFundedKey(t, bank, 10*oneSOL)
	authority := newKey(t)
	holder := newKey(t)

	mint := createMint(t, bank, payer, authority, 9)
	alice := createTokenAccount(t, bank, payer, mint, holder.PublicKey())
	bob := createTokenAccount(t, bank, payer, mint, newKey(t).PublicKey())

	m, err := bank.GetMint(mint)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), m.Decimals)
	assert.Equal(t, uint64(0), m.Supply)
	require.NotNil(t, m.MintAuthority)
	assert.Equal(t, authority.PublicKey(), *m.MintAuthority)
	assert.Nil(t, m.FreezeAuthority)

	mintTx := buildTx(t, bank, payer, []solana.PrivateKey{authority},
		token.NewMintToInstruction(100, mint, alice, authority.PublicKey(), nil).Build(),
	)
	_, err = bank.SendTransaction(context.Background(), mintTx)
	require.NoError(t, err)

	transferTx := buildTx(t, bank, payer, []solana.PrivateKey{holder},
		token.NewTransferInstruction(40, alice, bob, holder.PublicKey(), nil).Build(),
	)
	_, err = bank.SendTransaction(context.Background(), transferTx)
	require.NoError(t, err)

	aliceAcct, err := bank.GetTokenAccount(alice)
	require.NoError(t, err)
	bobAcct, err := bank.GetTokenAccount(bob)
	require.NoError(t, err)
	m, err = bank.GetMint(mint)
	require.NoError(t, err)

	assert.Equal(t, uint64(60), aliceAcct.Amount)
	assert.Equal(t, uint64(40), bobAcct.Amount)
	assert.Equal(t, uint64(100), m.Supply)
}

// TestTokenProgram_Errors tests the token program's custom error codes.
func TestTokenProgram_Errors(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	payer := newFundedKey(t, bank, 10*oneSOL)
	authority := newKey(t)
	holder := newKey(t)

	mint := createMint(t, bank, payer, authority, 9)
	otherMint := createMint(t, bank, payer, authority, 6)
	alice := createTokenAccount(t, bank, payer, mint, holder.PublicKey())
	bob := createTokenAccount(t, bank, payer, mint, newKey(t).PublicKey())
	stranger := createTokenAccount(t, bank, payer, otherMint, holder.PublicKey())

	_, err := bank.SendTransaction(context.Background(), buildTx(t, bank, payer, []solana.PrivateKey{authority},
		token.NewMintToInstruction(10, mint, alice, authority.PublicKey(), nil).Build(),
	))
	require.NoError(t, err)

	impostor := newKey(t)

	tests := []struct {
		name     string
		signers  []solana.PrivateKey
		ix       solana.Instruction
		wantCode uint32
	}{
		{
			name:     "mint with wrong authority",
			signers:  []solana.PrivateKey{impostor},
			ix:       token.NewMintToInstruction(1, mint, alice, impostor.PublicKey(), nil).Build(),
			wantCode: 4,
		},
		{
			name:     "transfer more than balance",
			signers:  []solana.PrivateKey{holder},
			ix:       token.NewTransferInstruction(11, alice, bob, holder.PublicKey(), nil).Build(),
			wantCode: 1,
		},
		{
			name:     "transfer across mints",
			signers:  []solana.PrivateKey{holder},
			ix:       token.NewTransferInstruction(1, alice, stranger, holder.PublicKey(), nil).Build(),
			wantCode: 3,
		},
		{
			name:     "transfer by non-owner",
			signers:  []solana.PrivateKey{impostor},
			ix:       token.NewTransferInstruction(1, alice, bob, impostor.PublicKey(), nil).Build(),
			wantCode: 4,
		},
		{
			name:     "mint to account of another mint",
			signers:  []solana.PrivateKey{authority},
			ix:       token.NewMintToInstruction(1, mint, stranger, authority.PublicKey(), nil).Build(),
			wantCode: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bank.SendTransaction(context.Background(), buildTx(t, bank, payer, tt.signers, tt.ix))
			require.Error(t, err)
			code, ok := CustomCode(err)
			require.True(t, ok, "expected custom error, got %v", err)
			assert.Equal(t, tt.wantCode, code)
		})
	}

	aliceAcct, err := bank.GetTokenAccount(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), aliceAcct.Amount)
}

// TestTokenProgram_InitializeMintTwice tests that an initialized mint cannot
// be re-initialized.
func TestTokenProgram_InitializeMintTwice(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	payer := newFundedKey(t, bank, 10*oneSOL)
	authority := newKey(t)
	mint := createMint(t, bank, payer, authority, 9)

	_, err := bank.SendTransaction(context.Background(), buildTx(t, bank, payer, nil,
		token.NewInitializeMintInstructionBuilder().
			SetDecimals(2).
			SetMintAuthority(payer.PublicKey()).
			SetMintAccount(mint).
			Build(),
	))
	require.Error(t, err)
	code, ok := CustomCode(err)
	require.True(t, ok)
	assert.Equal(t, uint32(6), code)
}

// TestTokenProgram_CreateAccountInUse tests that the system program refuses
// to allocate an address that already holds an account.
func TestTokenProgram_CreateAccountInUse(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	payer := newFundedKey(t, bank, 10*oneSOL)
	mint := newKey(t)

	create := func() error {
		_, err := bank.SendTransaction(context.Background(), buildTx(t, bank, payer, []solana.PrivateKey{mint},
			system.NewCreateAccountInstruction(
				bank.MinimumBalance(MintSize), MintSize, solana.TokenProgramID,
				payer.PublicKey(), mint.PublicKey(),
			).Build(),
		))
		return err
	}

	require.NoError(t, create())
	err := create()
	require.Error(t, err)
	code, ok := CustomCode(err)
	require.True(t, ok)
	assert.Equal(t, uint32(0), code)
}

// TestDecodeMint_RoundTrip tests the mint layout helpers.
func TestDecodeMint_RoundTrip(t *testing.T) {
	authority := newKey(t).PublicKey()
	data, err := EncodeMint(&token.Mint{
		MintAuthority: &authority,
		Supply:        42,
		Decimals:      9,
		IsInitialized: true,
	})
	require.NoError(t, err)
	require.Len(t, data, MintSize)

	mint, err := DecodeMint(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), mint.Supply)
	assert.Equal(t, authority, *mint.MintAuthority)

	_, err = DecodeMint(data[:10])
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}
