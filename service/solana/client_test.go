package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/weektoken/service/metrics"
	"github.com/brojonat/weektoken/service/program"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	blockhash     solana.Hash
	blockhashErrs []error // consumed one per call before succeeding

	sendSig solana.Signature
	sendErr error
	sent    []*solana.Transaction

	statuses []*rpc.SignatureStatusesResult // returned in order, last one repeats

	accounts map[solana.PublicKey]*rpc.Account
	rent     uint64

	transactions map[solana.Signature]*rpc.GetTransactionResult
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.blockhashErrs) > 0 {
		err := m.blockhashErrs[0]
		m.blockhashErrs = m.blockhashErrs[1:]
		return nil, err
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash}}, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, tx)
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	return m.sendSig, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	status := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	acct, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (m *mockRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	return m.rent, nil
}

func (m *mockRPCClient) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error) {
	return m.sendSig, m.sendErr
}

func (m *mockRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	result, ok := m.transactions[signature]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return result, nil
}

func newTestClient(mock *mockRPCClient, m *metrics.Metrics) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(mock, "test", m, logger)
	c.pollInterval = time.Millisecond
	c.retryBackoff = time.Millisecond
	return c
}

func confirmed(status rpc.ConfirmationStatusType) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{Slot: 10, ConfirmationStatus: status}
}

// tokenAccount builds an rpc.Account through its JSON form, the same way
// the RPC client decodes a getAccountInfo response.
func tokenAccount(t *testing.T, owner solana.PublicKey, v interface{}) *rpc.Account {
	t.Helper()
	data, err := bin.MarshalBin(v)
	require.NoError(t, err)

	raw := fmt.Sprintf(`{"lamports":1000,"owner":%q,"data":[%q,"base64"],"executable":false,"rentEpoch":0,"space":%d}`,
		owner.String(), base64.StdEncoding.EncodeToString(data), len(data))
	var acct rpc.Account
	require.NoError(t, json.Unmarshal([]byte(raw), &acct))
	return &acct
}

func TestLatestBlockhash_RetriesTransientErrors(t *testing.T) {
	want := solana.HashFromBytes([]byte("blockhash-blockhash-blockhash-32"))
	mock := &mockRPCClient{
		blockhash:     want,
		blockhashErrs: []error{errors.New("HTTP 429 Too Many Requests"), errors.New("connection reset")},
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	got, err := newTestClient(mock, m).LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLatestBlockhash_GivesUp(t *testing.T) {
	mock := &mockRPCClient{
		blockhashErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")},
	}

	_, err := newTestClient(mock, nil).LatestBlockhash(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c")
}

func TestSendTransaction_WaitsForConfirmation(t *testing.T) {
	sig := solana.SignatureFromBytes(make([]byte, 64))
	mock := &mockRPCClient{
		sendSig: sig,
		statuses: []*rpc.SignatureStatusesResult{
			nil,
			confirmed(rpc.ConfirmationStatusProcessed),
			confirmed(rpc.ConfirmationStatusConfirmed),
		},
	}

	got, err := newTestClient(mock, nil).SendTransaction(context.Background(), &solana.Transaction{})
	require.NoError(t, err)
	assert.Equal(t, sig, got)
	assert.Len(t, mock.sent, 1)
}

func TestSendTransaction_OnChainFailure(t *testing.T) {
	mock := &mockRPCClient{
		statuses: []*rpc.SignatureStatusesResult{
			{Slot: 3, Err: map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 1}}}},
		},
	}

	_, err := newTestClient(mock, nil).SendTransaction(context.Background(), &solana.Transaction{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.Contains(t, err.Error(), "Custom")

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.NotNil(t, txErr.Code)
	assert.Equal(t, uint32(1), *txErr.Code)
}

func TestSendTransaction_PreflightFailureIsNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		data     interface{}
		wantLogs []string
	}{
		{
			name: "structured error data",
			data: map[string]interface{}{
				"err":  map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 4}}},
				"logs": []interface{}{"Program log: Instruction: MintTokens"},
			},
			wantLogs: []string{"Program log: Instruction: MintTokens"},
		},
		{
			name: "code from message only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockRPCClient{
				sendErr: &jsonrpc.RPCError{
					Code:    -32002,
					Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x4",
					Data:    tt.data,
				},
			}
			reg := prometheus.NewRegistry()

			_, err := newTestClient(mock, metrics.NewMetrics(reg)).SendTransaction(context.Background(), &solana.Transaction{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTransactionFailed)
			assert.Len(t, mock.sent, 1)

			var txErr *TransactionError
			require.ErrorAs(t, err, &txErr)
			assert.True(t, txErr.Signature.IsZero())
			require.NotNil(t, txErr.Code)
			assert.Equal(t, uint32(4), *txErr.Code)
			assert.Equal(t, tt.wantLogs, txErr.Logs)

			retries, err := testutil.GatherAndCount(reg, "solana_rpc_retries_total")
			require.NoError(t, err)
			assert.Zero(t, retries)
		})
	}
}

func TestSendTransaction_OtherRPCErrorsAreRetried(t *testing.T) {
	mock := &mockRPCClient{
		sendErr: &jsonrpc.RPCError{Code: -32005, Message: "Node is behind"},
	}

	_, err := newTestClient(mock, nil).SendTransaction(context.Background(), &solana.Transaction{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransactionFailed)
	assert.Len(t, mock.sent, 3)
}

func TestCustomCodeFromMessage(t *testing.T) {
	code := customCodeFromMessage("Error processing Instruction 0: custom program error: 0x1771")
	require.NotNil(t, code)
	assert.Equal(t, uint32(6001), *code)

	assert.Nil(t, customCodeFromMessage("Blockhash not found"))
	assert.Nil(t, customCodeFromMessage("custom program error: 0x"))
}

func TestWaitForConfirmation_ContextDone(t *testing.T) {
	mock := &mockRPCClient{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newTestClient(mock, nil).WaitForConfirmation(ctx, solana.Signature{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetMintAndTokenAccount(t *testing.T) {
	mintKey := solana.NewWallet().PublicKey()
	acctKey := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		accounts: map[solana.PublicKey]*rpc.Account{
			mintKey: tokenAccount(t, solana.TokenProgramID, token.Mint{
				MintAuthority: &authority,
				Supply:        500,
				Decimals:      9,
				IsInitialized: true,
			}),
			acctKey: tokenAccount(t, solana.TokenProgramID, token.Account{
				Mint:   mintKey,
				Owner:  authority,
				Amount: 500,
				State:  token.Initialized,
			}),
			stranger: tokenAccount(t, solana.SystemProgramID, token.Mint{}),
		},
	}
	c := newTestClient(mock, nil)
	ctx := context.Background()

	mint, err := c.GetMint(ctx, mintKey)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), mint.Decimals)
	assert.Equal(t, uint64(500), mint.Supply)
	require.NotNil(t, mint.MintAuthority)
	assert.Equal(t, authority, *mint.MintAuthority)

	acct, err := c.GetTokenAccount(ctx, acctKey)
	require.NoError(t, err)
	assert.Equal(t, mintKey, acct.Mint)
	assert.Equal(t, uint64(500), acct.Amount)

	_, err = c.GetMint(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = c.GetMint(ctx, stranger)
	assert.ErrorIs(t, err, ErrWrongOwner)
}

func TestMinimumBalanceAndAirdrop(t *testing.T) {
	sig := solana.SignatureFromBytes(make([]byte, 64))
	mock := &mockRPCClient{
		rent:     1_461_600,
		sendSig:  sig,
		statuses: []*rpc.SignatureStatusesResult{confirmed(rpc.ConfirmationStatusFinalized)},
	}
	c := newTestClient(mock, nil)
	ctx := context.Background()

	lamports, err := c.MinimumBalance(ctx, 82)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_461_600), lamports)

	got, err := c.RequestAirdrop(ctx, solana.NewWallet().PublicKey(), 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestGetProgramTransaction(t *testing.T) {
	payer := solana.NewWallet()
	mint := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{program.NewMintTokensInstruction(42, mint, dest, payer.PublicKey()).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(payer.PublicKey()) {
			return &payer.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	body := fmt.Sprintf(`{"slot":77,"blockTime":1700000000,"transaction":[%q,"base64"],"meta":{"err":null,"fee":5000,"logMessages":["Program log: Instruction: MintTokens"]}}`,
		base64.StdEncoding.EncodeToString(raw))
	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))

	sig := tx.Signatures[0]
	mock := &mockRPCClient{transactions: map[solana.Signature]*rpc.GetTransactionResult{sig: &result}}

	got, err := newTestClient(mock, nil).GetProgramTransaction(context.Background(), sig, program.ProgramID)
	require.NoError(t, err)

	assert.Equal(t, sig.String(), got.Signature)
	assert.Equal(t, uint64(77), got.Slot)
	assert.Equal(t, uint64(5000), got.Fee)
	require.NotNil(t, got.BlockTime)
	assert.Equal(t, int64(1700000000), got.BlockTime.Unix())
	assert.Nil(t, got.Err)
	assert.Equal(t, []string{"Program log: Instruction: MintTokens"}, got.Logs)

	require.Len(t, got.Instructions, 1)
	ix := got.Instructions[0]
	assert.Equal(t, program.InstructionMintTokens, ix.Name)
	assert.Equal(t, uint64(42), ix.Amount)
	assert.Equal(t, mint, ix.Mint)
	assert.Equal(t, dest, ix.Destination)
	assert.Equal(t, payer.PublicKey(), ix.Authority)

	_, err = newTestClient(mock, nil).GetProgramTransaction(context.Background(), solana.Signature{}, program.ProgramID)
	assert.Error(t, err)
}
