package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/weektoken/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// Program is an executable program registered with the bank. Execute runs a
// single instruction addressed to the program.
type Program interface {
	Execute(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error

// Execute calls f.
func (f ProgramFunc) Execute(ctx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	return f(ctx, accounts, data)
}

// Config holds the cluster parameters of a Bank.
type Config struct {
	Rent            Rent
	FeePerSignature uint64
	// BlockhashTTL is the number of slots a blockhash is accepted for.
	BlockhashTTL int
}

// DefaultConfig returns mainnet-like parameters.
func DefaultConfig() Config {
	return Config{
		Rent:            DefaultRent,
		FeePerSignature: 5000,
		BlockhashTTL:    150,
	}
}

// TransactionResult is the outcome of a transaction that was accepted by the
// bank. A non-nil Err means the instructions failed and no state other than
// the fee payment was committed.
type TransactionResult struct {
	Signature solana.Signature
	Slot      uint64
	Fee       uint64
	Logs      []string
	Err       error
}

// TransactionFailedError is returned by SendTransaction when a transaction
// was accepted but its instructions failed.
type TransactionFailedError struct {
	Signature solana.Signature
	Logs      []string
	Err       error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

func (e *TransactionFailedError) Unwrap() error {
	return e.Err
}

type blockhashEntry struct {
	hash solana.Hash
	slot uint64
}

// Bank is an in-process ledger that executes transactions against a set of
// registered programs. Transactions are executed one at a time.
type Bank struct {
	mu          sync.Mutex
	cfg         Config
	accounts    map[solana.PublicKey]*Account
	programs    map[solana.PublicKey]Program
	slot        uint64
	blockhashes []blockhashEntry
	processed   map[solana.Signature]*TransactionResult
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewBank creates a bank with the system and token programs registered and
// the rent sysvar populated. If m is nil, no metrics are recorded.
func NewBank(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Bank {
	if cfg.BlockhashTTL <= 0 {
		cfg.BlockhashTTL = DefaultConfig().BlockhashTTL
	}
	if cfg.Rent.LamportsPerByteYear == 0 {
		cfg.Rent = DefaultRent
	}

	b := &Bank{
		cfg:       cfg,
		accounts:  make(map[solana.PublicKey]*Account),
		programs:  make(map[solana.PublicKey]Program),
		processed: make(map[solana.Signature]*TransactionResult),
		metrics:   m,
		logger:    logger.With("component", "bank"),
	}

	b.RegisterProgram(solana.SystemProgramID, &SystemProgram{})
	b.RegisterProgram(solana.TokenProgramID, &TokenProgram{})
	b.accounts[solana.SysVarRentPubkey] = &Account{
		Lamports: 1,
		Owner:    SysvarOwnerID,
		Data:     encodeRent(cfg.Rent),
	}

	b.blockhashes = append(b.blockhashes, blockhashEntry{
		hash: nextBlockhash(solana.Hash{}, 0),
		slot: 0,
	})

	return b
}

// RegisterProgram makes prog callable at id and creates its executable
// account.
func (b *Bank) RegisterProgram(id solana.PublicKey, prog Program) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.programs[id] = prog
	b.accounts[id] = &Account{
		Lamports:   1,
		Owner:      NativeLoaderID,
		Executable: true,
	}
	b.logger.Debug("registered program", "program_id", id.String())
}

// Rent returns the rent parameters of the bank.
func (b *Bank) Rent() Rent {
	return b.cfg.Rent
}

// MinimumBalance returns the rent-exempt minimum for an account of dataLen bytes.
func (b *Bank) MinimumBalance(dataLen int) uint64 {
	return b.cfg.Rent.MinimumBalance(dataLen)
}

// Slot returns the current slot.
func (b *Bank) Slot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// LatestBlockhash returns the most recent blockhash.
func (b *Bank) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := ctx.Err(); err != nil {
		return solana.Hash{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockhashes[len(b.blockhashes)-1].hash, nil
}

// GetAccount returns a copy of the account stored at key.
func (b *Bank) GetAccount(key solana.PublicKey) (*Account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.accounts[key]
	if !ok {
		return nil, false
	}
	return acct.Clone(), true
}

// SetAccount overwrites the account stored at key.
func (b *Bank) SetAccount(key solana.PublicKey, acct *Account) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if acct.IsEmpty() {
		delete(b.accounts, key)
		return
	}
	b.accounts[key] = acct.Clone()
}

// Airdrop credits lamports to key. The returned signature identifies the
// credit in the processed-transaction cache.
func (b *Bank) Airdrop(ctx context.Context, key solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.accounts[key]
	if !ok {
		acct = &Account{Owner: solana.SystemProgramID}
		b.accounts[key] = acct
	}
	if acct.Lamports+lamports < acct.Lamports {
		return solana.Signature{}, ErrArithmeticOverflow
	}
	acct.Lamports += lamports

	sig := airdropSignature(key, b.slot, lamports)
	b.processed[sig] = &TransactionResult{
		Signature: sig,
		Slot:      b.slot,
		Logs:      []string{fmt.Sprintf("Airdrop %d lamports to %s", lamports, key)},
	}
	b.advanceSlot()

	b.logger.DebugContext(ctx, "airdrop", "address", key.String(), "lamports", lamports)
	return sig, nil
}

// GetTransaction returns the result of a transaction processed while its
// blockhash is still live.
func (b *Bank) GetTransaction(sig solana.Signature) (*TransactionResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, ok := b.processed[sig]
	return res, ok
}

// SendTransaction processes tx and reports instruction failures as a
// *TransactionFailedError.
func (b *Bank) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	res, err := b.ProcessTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if res.Err != nil {
		return res.Signature, &TransactionFailedError{
			Signature: res.Signature,
			Logs:      res.Logs,
			Err:       res.Err,
		}
	}
	return res.Signature, nil
}

// ProcessTransaction verifies and executes tx.
//
// An error return means the transaction was rejected outright and left no
// trace. Otherwise the fee is charged and the instructions are applied
// atomically: either every instruction succeeds and all changes commit, or
// the result carries the failing instruction's error and nothing but the
// fee is committed.
func (b *Bank) ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.sanitize(tx); err != nil {
		b.recordTransaction("rejected", start)
		return nil, err
	}

	metas, err := tx.Message.AccountMetaList()
	if err != nil {
		b.recordTransaction("rejected", start)
		return nil, fmt.Errorf("%w: %v", ErrAddressLookupTableNotFound, err)
	}

	sig := tx.Signatures[0]
	payer := tx.Message.AccountKeys[0]
	fee := b.cfg.FeePerSignature * uint64(len(tx.Signatures))

	payerAcct, ok := b.accounts[payer]
	if !ok || payerAcct.IsEmpty() {
		b.recordTransaction("rejected", start)
		return nil, ErrAccountNotFound
	}
	if payerAcct.Lamports < fee {
		b.recordTransaction("rejected", start)
		return nil, ErrInsufficientFundsForFee
	}
	payerAcct.Lamports -= fee

	state := newTxState(b, metas)
	var execErr error
	for i := range tx.Message.Instructions {
		ci := &tx.Message.Instructions[i]
		programID, err := tx.Message.ResolveProgramIDIndex(ci.ProgramIDIndex)
		if err != nil {
			execErr = &InstructionError{Index: i, Err: fmt.Errorf("%w: %v", ErrProgramNotFound, err)}
			break
		}
		accounts, err := ci.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			execErr = &InstructionError{Index: i, Err: fmt.Errorf("%w: %v", ErrNotEnoughAccountKeys, err)}
			break
		}
		if err := state.execute(programID, accounts, ci.Data, 1); err != nil {
			execErr = &InstructionError{Index: i, Err: err}
			break
		}
	}

	if execErr == nil {
		state.commit()
	}

	result := &TransactionResult{
		Signature: sig,
		Slot:      b.slot,
		Fee:       fee,
		Logs:      state.logs,
		Err:       execErr,
	}
	b.processed[sig] = result
	b.advanceSlot()

	status := "success"
	if execErr != nil {
		status = "failed"
		b.logger.DebugContext(ctx, "transaction failed",
			"signature", sig.String(),
			"slot", result.Slot,
			"error", execErr,
		)
	} else {
		b.logger.DebugContext(ctx, "transaction committed",
			"signature", sig.String(),
			"slot", result.Slot,
			"instructions", len(tx.Message.Instructions),
		)
	}
	b.recordTransaction(status, start)

	return result, nil
}

// sanitize performs the checks that reject a transaction before any fee is
// charged. Callers must hold b.mu.
func (b *Bank) sanitize(tx *solana.Transaction) error {
	if tx == nil || len(tx.Signatures) == 0 || len(tx.Message.AccountKeys) == 0 {
		return ErrSignatureFailure
	}
	if len(tx.Message.Instructions) == 0 {
		return ErrNoInstructions
	}
	if err := tx.VerifySignatures(); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureFailure, err)
	}
	if !b.isRecentBlockhash(tx.Message.RecentBlockhash) {
		return ErrBlockhashNotFound
	}
	if _, ok := b.processed[tx.Signatures[0]]; ok {
		return ErrAlreadyProcessed
	}
	return nil
}

func (b *Bank) isRecentBlockhash(hash solana.Hash) bool {
	for _, entry := range b.blockhashes {
		if entry.hash.Equals(hash) {
			return true
		}
	}
	return false
}

// advanceSlot moves to the next slot and rotates the blockhash queue.
// Results processed before the oldest live blockhash are dropped: their
// blockhash has expired, so a resend is rejected before the duplicate check.
// Callers must hold b.mu.
func (b *Bank) advanceSlot() {
	prev := b.blockhashes[len(b.blockhashes)-1].hash
	b.slot++
	b.blockhashes = append(b.blockhashes, blockhashEntry{
		hash: nextBlockhash(prev, b.slot),
		slot: b.slot,
	})
	if len(b.blockhashes) <= b.cfg.BlockhashTTL {
		return
	}
	b.blockhashes = b.blockhashes[len(b.blockhashes)-b.cfg.BlockhashTTL:]

	oldest := b.blockhashes[0].slot
	for sig, res := range b.processed {
		if res.Slot < oldest {
			delete(b.processed, sig)
		}
	}
}

func (b *Bank) recordTransaction(status string, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordTransactionProcessed(status, time.Since(start).Seconds())
	}
}

func nextBlockhash(prev solana.Hash, slot uint64) solana.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], slot)
	h := sha256.New()
	h.Write(prev[:])
	h.Write(buf[:])
	return solana.HashFromBytes(h.Sum(nil))
}

func airdropSignature(key solana.PublicKey, slot, lamports uint64) solana.Signature {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], slot)
	binary.LittleEndian.PutUint64(buf[8:], lamports)
	first := sha256.Sum256(append(key[:], buf[:]...))
	second := sha256.Sum256(first[:])

	var sig solana.Signature
	copy(sig[:32], first[:])
	copy(sig[32:], second[:])
	return sig
}

func encodeRent(r Rent) []byte {
	out := make([]byte, 17)
	binary.LittleEndian.PutUint64(out[:8], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(out[8:16], uint64(r.ExemptionThreshold*1e9))
	out[16] = 50 // burn percent
	return out
}
