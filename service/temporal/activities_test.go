package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/weektoken/client"
	"github.com/brojonat/weektoken/service/metrics"
	"github.com/brojonat/weektoken/service/program"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/brojonat/weektoken/service/solana"
	"github.com/brojonat/weektoken/service/txn"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type bankFixture struct {
	bank      *runtime.Bank
	authority solanago.PrivateKey
	mint      solanago.PublicKey
}

func newBankFixture(t *testing.T) *bankFixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	bank := runtime.NewBank(runtime.DefaultConfig(), nil, logger)
	program.Register(bank, program.ProgramID, program.Options{})

	authority, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = bank.Airdrop(ctx, authority.PublicKey(), 10_000_000_000)
	require.NoError(t, err)

	mint, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = txn.Submit(ctx, bank, logger, authority, []solanago.PrivateKey{mint},
		program.NewInitializeTokenInstruction(9, mint.PublicKey(), authority.PublicKey()).Build(),
	)
	require.NoError(t, err)

	return &bankFixture{bank: bank, authority: authority, mint: mint.PublicKey()}
}

func (f *bankFixture) tokenAccount(t *testing.T, mint solanago.PublicKey) solanago.PublicKey {
	t.Helper()
	acct, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = txn.Submit(context.Background(), f.bank, testLogger(), f.authority, []solanago.PrivateKey{acct},
		txn.CreateTokenAccountInstructions(
			f.authority.PublicKey(), acct.PublicKey(), mint, f.authority.PublicKey(),
			f.bank.MinimumBalance(runtime.TokenAccountSize),
		)...,
	)
	require.NoError(t, err)
	return acct.PublicKey()
}

func TestMintToRecipient_Success(t *testing.T) {
	f := newBankFixture(t)
	dest := f.tokenAccount(t, f.mint)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	acts := NewActivities(f.bank, f.authority, 5*time.Second, m, testLogger())

	result, err := acts.MintToRecipient(context.Background(), MintToRecipientInput{
		Mint:         f.mint.String(),
		TokenAccount: dest.String(),
		Amount:       1_500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Signature)

	state, err := f.bank.GetTokenAccount(dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500), state.Amount)

	count, err := testutil.GatherAndCount(reg, "distribution_activity_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMintToRecipient_ProgramErrorIsNonRetryable(t *testing.T) {
	f := newBankFixture(t)

	// A token account of a different mint
	other, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = txn.Submit(context.Background(), f.bank, testLogger(), f.authority, []solanago.PrivateKey{other},
		program.NewInitializeTokenInstruction(9, other.PublicKey(), f.authority.PublicKey()).Build(),
	)
	require.NoError(t, err)
	dest := f.tokenAccount(t, other.PublicKey())

	acts := NewActivities(f.bank, f.authority, 0, nil, testLogger())
	_, err = acts.MintToRecipient(context.Background(), MintToRecipientInput{
		Mint:         f.mint.String(),
		TokenAccount: dest.String(),
		Amount:       1,
	})

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, ErrTypeProgram, appErr.Type())

	var code uint32
	require.NoError(t, appErr.Details(&code))
	assert.Equal(t, uint32(3), code, "token MintMismatch")
}

func TestMintToRecipient_InvalidInput(t *testing.T) {
	acts := NewActivities(nil, nil, 0, nil, testLogger())

	for _, input := range []MintToRecipientInput{
		{Mint: "not-a-key", TokenAccount: testMint, Amount: 1},
		{Mint: testMint, TokenAccount: "", Amount: 1},
	} {
		_, err := acts.MintToRecipient(context.Background(), input)
		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, ErrTypeInvalidInput, appErr.Type())
	}
}

type unavailableSender struct{}

func (unavailableSender) LatestBlockhash(ctx context.Context) (solanago.Hash, error) {
	return solanago.Hash{}, errors.New("connection refused")
}

func (unavailableSender) SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	return solanago.Signature{}, errors.New("connection refused")
}

func TestMintToRecipient_TransientErrorIsRetryable(t *testing.T) {
	authority, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	acts := NewActivities(unavailableSender{}, authority, 0, nil, testLogger())

	_, err = acts.MintToRecipient(context.Background(), MintToRecipientInput{
		Mint:         testMint,
		TokenAccount: testMint,
		Amount:       1,
	})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	assert.False(t, errors.As(err, &appErr), "transient failures keep the default retry policy")
}

func TestClassifySendError(t *testing.T) {
	code := uint32(6001)
	tokenCode := uint32(4)
	tests := []struct {
		name         string
		err          error
		nonRetryable bool
		wantCode     *uint32
		wantMessage  string
	}{
		{
			name:         "api instruction failure",
			err:          &client.TransactionError{Message: "custom program error", Code: &code},
			nonRetryable: true,
			wantCode:     &code,
			wantMessage:  "UnauthorizedMintAuthority",
		},
		{
			name:         "bank instruction failure",
			err:          &runtime.TransactionFailedError{Err: &runtime.InstructionError{Index: 0, Err: runtime.ErrTokenOwnerMismatch}},
			nonRetryable: true,
		},
		{
			name:         "cluster instruction failure",
			err:          fmt.Errorf("%w: sig: InstructionError", solana.ErrTransactionFailed),
			nonRetryable: true,
		},
		{
			name:         "cluster preflight failure",
			err:          &solana.TransactionError{Reason: "custom program error: 0x4", Code: &tokenCode},
			nonRetryable: true,
			wantCode:     &tokenCode,
		},
		{
			name: "rejected before execution",
			err:  runtime.ErrBlockhashNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySendError(tt.err)
			var appErr *temporal.ApplicationError
			if !tt.nonRetryable {
				assert.False(t, errors.As(err, &appErr))
				assert.Equal(t, tt.err, err)
				return
			}
			require.ErrorAs(t, err, &appErr)
			assert.True(t, appErr.NonRetryable())
			if tt.wantMessage != "" {
				assert.Contains(t, appErr.Error(), tt.wantMessage)
			}
			if tt.wantCode != nil {
				var got uint32
				require.NoError(t, appErr.Details(&got))
				assert.Equal(t, *tt.wantCode, got)
			}
		})
	}
}

// simulationFailureRPC is a JSON-RPC endpoint whose sendTransaction always
// fails preflight with the token program's OwnerMismatch.
func simulationFailureRPC(t *testing.T, sends *atomic.Int32) *httptest.Server {
	t.Helper()
	blockhash := solanago.HashFromBytes(make([]byte, 32))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "getLatestBlockhash":
			resp["result"] = map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value":   map[string]interface{}{"blockhash": blockhash.String(), "lastValidBlockHeight": 100},
			}
		case "sendTransaction":
			sends.Add(1)
			resp["error"] = map[string]interface{}{
				"code":    -32002,
				"message": "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x4",
				"data": map[string]interface{}{
					"err":  map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 4}}},
					"logs": []string{"Program log: Instruction: MintTokens", "Program log: Error: owner does not match"},
				},
			}
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestMintToRecipient_ClusterPreflightFailureIsNonRetryable(t *testing.T) {
	var sends atomic.Int32
	server := simulationFailureRPC(t, &sends)

	authority, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	sender := solana.NewClient(solana.NewRPCClient(server.URL), "test", nil, testLogger())
	acts := NewActivities(sender, authority, 5*time.Second, nil, testLogger())

	_, err = acts.MintToRecipient(context.Background(), MintToRecipientInput{
		Mint:         testMint,
		TokenAccount: testMint,
		Amount:       1,
	})

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, ErrTypeProgram, appErr.Type())

	var code uint32
	require.NoError(t, appErr.Details(&code))
	assert.Equal(t, uint32(4), code, "token OwnerMismatch")
	assert.Equal(t, int32(1), sends.Load())
}
