package txn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/brojonat/weektoken/service/program"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBank(t *testing.T) *runtime.Bank {
	t.Helper()
	bank := runtime.NewBank(runtime.DefaultConfig(), nil, testLogger())
	program.Register(bank, program.ProgramID, program.Options{})
	return bank
}

func fundedKey(t *testing.T, bank *runtime.Bank) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = bank.Airdrop(context.Background(), key.PublicKey(), 10_000_000_000)
	require.NoError(t, err)
	return key
}

type failingSender struct{}

func (failingSender) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, errors.New("cluster unavailable")
}

func (failingSender) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, errors.New("unreachable")
}

// TestBuild_SignsWithAllSigners tests that Build collects every signature.
func TestBuild_SignsWithAllSigners(t *testing.T) {
	bank := newBank(t)
	payer := fundedKey(t, bank)
	mint, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	tx, err := Build(context.Background(), bank, payer, []solana.PrivateKey{mint},
		program.NewInitializeTokenInstruction(9, mint.PublicKey(), payer.PublicKey()).Build(),
	)
	require.NoError(t, err)

	assert.Len(t, tx.Signatures, 2)
	assert.NoError(t, tx.VerifySignatures())
	assert.Equal(t, payer.PublicKey(), tx.Message.AccountKeys[0])
}

// TestBuild_Errors tests the failure paths of Build.
func TestBuild_Errors(t *testing.T) {
	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	_, err = Build(context.Background(), failingSender{}, payer, nil)
	assert.ErrorIs(t, err, ErrNoInstructions)

	_, err = Build(context.Background(), failingSender{}, payer, nil,
		system.NewTransferInstruction(1, payer.PublicKey(), payer.PublicKey()).Build(),
	)
	assert.ErrorContains(t, err, "cluster unavailable")

	bank := newBank(t)
	other, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = Build(context.Background(), bank, payer, nil,
		system.NewTransferInstruction(1, other.PublicKey(), payer.PublicKey()).Build(),
	)
	assert.ErrorContains(t, err, "failed to sign")
}

// TestSubmit_EndToEnd tests creating a mint, a token account and minting
// into it through the local bank.
func TestSubmit_EndToEnd(t *testing.T) {
	ctx := context.Background()
	bank := newBank(t)
	logger := testLogger()
	authority := fundedKey(t, bank)

	mint, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = Submit(ctx, bank, logger, authority, []solana.PrivateKey{mint},
		program.NewInitializeTokenInstruction(9, mint.PublicKey(), authority.PublicKey()).Build(),
	)
	require.NoError(t, err)

	account, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = Submit(ctx, bank, logger, authority, []solana.PrivateKey{account},
		CreateTokenAccountInstructions(
			authority.PublicKey(), account.PublicKey(), mint.PublicKey(), authority.PublicKey(),
			bank.MinimumBalance(runtime.TokenAccountSize),
		)...,
	)
	require.NoError(t, err)

	sig, err := Submit(ctx, bank, logger, authority, nil,
		program.NewMintTokensInstruction(250, mint.PublicKey(), account.PublicKey(), authority.PublicKey()).Build(),
	)
	require.NoError(t, err)

	res, ok := bank.GetTransaction(sig)
	require.True(t, ok)
	assert.NoError(t, res.Err)

	state, err := bank.GetTokenAccount(account.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(250), state.Amount)
}

// TestKeypair_SaveAndLoad tests the keypair file helpers.
func TestKeypair_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "id.json")
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	require.NoError(t, SaveKeypair(path, key))

	loaded, err := LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), loaded.PublicKey())

	assert.Error(t, SaveKeypair(path, key), "should not overwrite")

	_, err = LoadKeypair(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
