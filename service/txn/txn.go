// Package txn assembles, signs and submits transactions against any
// cluster-like backend.
package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Sender is anything that can hand out recent blockhashes and accept signed
// transactions: the in-process bank, an RPC cluster, or the HTTP API.
type Sender interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// ErrNoInstructions is returned when a transaction would be empty.
var ErrNoInstructions = errors.New("no instructions to send")

// Build compiles ixs into a transaction paid for by payer and signs it with
// payer and signers.
func Build(ctx context.Context, sender Sender, payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) (*solana.Transaction, error) {
	if len(ixs) == 0 {
		return nil, ErrNoInstructions
	}

	blockhash, err := sender.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile transaction: %w", err)
	}

	keys := make(map[solana.PublicKey]solana.PrivateKey, len(signers)+1)
	keys[payer.PublicKey()] = payer
	for _, s := range signers {
		keys[s.PublicKey()] = s
	}
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if k, ok := keys[pk]; ok {
			return &k
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return tx, nil
}

// Submit builds, signs and sends a transaction.
func Submit(ctx context.Context, sender Sender, logger *slog.Logger, payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) (solana.Signature, error) {
	tx, err := Build(ctx, sender, payer, signers, ixs...)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := sender.SendTransaction(ctx, tx)
	if err != nil {
		logger.WarnContext(ctx, "transaction failed",
			"signature", tx.Signatures[0].String(),
			"error", err,
		)
		return sig, err
	}

	logger.DebugContext(ctx, "transaction submitted",
		"signature", sig.String(),
		"instructions", len(ixs),
	)
	return sig, nil
}

// CreateTokenAccountInstructions returns the instructions that allocate
// account and initialize it as a token account of mint held by owner.
// lamports should be the rent-exempt minimum for a token account.
func CreateTokenAccountInstructions(payer, account, mint, owner solana.PublicKey, lamports uint64) []solana.Instruction {
	return []solana.Instruction{
		system.NewCreateAccountInstruction(lamports, tokenAccountSize, solana.TokenProgramID, payer, account).Build(),
		token.NewInitializeAccount3Instruction(owner, account, mint).Build(),
	}
}

const tokenAccountSize = 165

// LoadKeypair reads a keypair stored in the Solana CLI JSON format.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return key, nil
}

// SaveKeypair writes key in the Solana CLI JSON format with owner-only
// permissions. It refuses to overwrite an existing file.
func SaveKeypair(path string, key solana.PrivateKey) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing keypair at %s", path)
	}

	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode keypair: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create keypair directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keypair: %w", err)
	}
	return nil
}
