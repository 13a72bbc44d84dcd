package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/weektoken/service/db"
	"github.com/brojonat/weektoken/service/runtime"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - far above the 1232 byte packet limit
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// transactionResponse is the JSON response for a processed transaction.
// Error is set when the transaction landed but its instructions failed.
type transactionResponse struct {
	Signature        string   `json:"signature"`
	Slot             uint64   `json:"slot"`
	Fee              uint64   `json:"fee"`
	Logs             []string `json:"logs"`
	Error            string   `json:"error,omitempty"`
	InstructionIndex *int     `json:"instruction_index,omitempty"`
	ErrorCode        *uint32  `json:"error_code,omitempty"`
}

func resultToResponse(res *runtime.TransactionResult) transactionResponse {
	resp := transactionResponse{
		Signature: res.Signature.String(),
		Slot:      res.Slot,
		Fee:       res.Fee,
		Logs:      res.Logs,
	}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
		var ie *runtime.InstructionError
		if errors.As(res.Err, &ie) {
			idx := ie.Index
			resp.InstructionIndex = &idx
		}
		if code, ok := runtime.CustomCode(res.Err); ok {
			resp.ErrorCode = &code
		}
	}
	return resp
}

// handleSendTransaction returns a handler that executes a signed transaction.
// POST /api/v1/transactions {"transaction": "<base64 wire transaction>"}
func handleSendTransaction(bank *runtime.Bank, indexer *Indexer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Transaction string `json:"transaction"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		raw, err := base64.StdEncoding.DecodeString(req.Transaction)
		if err != nil || len(raw) == 0 {
			writeError(w, "transaction must be non-empty base64", http.StatusBadRequest)
			return
		}
		tx, err := solanago.TransactionFromBytes(raw)
		if err != nil {
			logger.DebugContext(r.Context(), "failed to decode transaction", "error", err)
			writeError(w, fmt.Sprintf("invalid transaction: %v", err), http.StatusBadRequest)
			return
		}

		res, err := bank.ProcessTransaction(r.Context(), tx)
		if err != nil {
			logger.DebugContext(r.Context(), "transaction rejected", "error", err)
			writeError(w, fmt.Sprintf("transaction rejected: %v", err), http.StatusBadRequest)
			return
		}

		if indexer != nil {
			indexer.Record(r.Context(), tx, res)
		}

		logger.InfoContext(r.Context(), "transaction processed",
			"signature", res.Signature.String(),
			"slot", res.Slot,
			"success", res.Err == nil,
		)
		writeJSON(w, resultToResponse(res), http.StatusOK)
	})
}

// handleLatestBlockhash returns a handler that reports the newest blockhash.
// GET /api/v1/blockhash
func handleLatestBlockhash(bank *runtime.Bank, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash, err := bank.LatestBlockhash(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get blockhash", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"blockhash": hash.String(),
			"slot":      bank.Slot(),
		}, http.StatusOK)
	})
}

// handleAirdrop returns a handler that credits lamports to an address.
// POST /api/v1/airdrop {"address": "...", "lamports": N}
func handleAirdrop(bank *runtime.Bank, maxLamports uint64, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address  string `json:"address"`
			Lamports uint64 `json:"lamports"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		key, err := parseAddress(req.Address)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Lamports == 0 {
			writeError(w, "lamports must be positive", http.StatusBadRequest)
			return
		}
		if maxLamports > 0 && req.Lamports > maxLamports {
			writeError(w, fmt.Sprintf("lamports cannot exceed %d", maxLamports), http.StatusBadRequest)
			return
		}

		sig, err := bank.Airdrop(r.Context(), key, req.Lamports)
		if err != nil {
			logger.ErrorContext(r.Context(), "airdrop failed", "address", req.Address, "error", err)
			writeError(w, fmt.Sprintf("airdrop failed: %v", err), http.StatusBadRequest)
			return
		}

		logger.InfoContext(r.Context(), "airdrop", "address", req.Address, "lamports", req.Lamports)
		writeJSON(w, map[string]string{"signature": sig.String()}, http.StatusOK)
	})
}

// accountResponse is the JSON response format for a raw account.
type accountResponse struct {
	Address    string `json:"address"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	Data       string `json:"data"` // base64
}

// handleGetAccount returns a handler that reads a raw account.
// GET /api/v1/accounts/{address}
func handleGetAccount(bank *runtime.Bank, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := parseAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		acct, ok := bank.GetAccount(key)
		if !ok {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}

		writeJSON(w, accountResponse{
			Address:    key.String(),
			Lamports:   acct.Lamports,
			Owner:      acct.Owner.String(),
			Executable: acct.Executable,
			Data:       base64.StdEncoding.EncodeToString(acct.Data),
		}, http.StatusOK)
	})
}

// mintResponse is the JSON response format for a mint.
type mintResponse struct {
	Address       string  `json:"address"`
	MintAuthority *string `json:"mint_authority,omitempty"`
	Supply        uint64  `json:"supply"`
	Decimals      uint8   `json:"decimals"`
	IsInitialized bool    `json:"is_initialized"`
}

// handleGetMint returns a handler that reads a mint.
// GET /api/v1/mints/{address}
func handleGetMint(bank *runtime.Bank, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := parseAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mint, err := bank.GetMint(key)
		if err != nil {
			writeTokenStateError(w, "mint", err)
			return
		}

		resp := mintResponse{
			Address:       key.String(),
			Supply:        mint.Supply,
			Decimals:      mint.Decimals,
			IsInitialized: mint.IsInitialized,
		}
		if mint.MintAuthority != nil {
			authority := mint.MintAuthority.String()
			resp.MintAuthority = &authority
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// tokenAccountResponse is the JSON response format for a token account.
type tokenAccountResponse struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
	State   string `json:"state"`
}

// handleGetTokenAccount returns a handler that reads a token account.
// GET /api/v1/token-accounts/{address}
func handleGetTokenAccount(bank *runtime.Bank, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := parseAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		acct, err := bank.GetTokenAccount(key)
		if err != nil {
			writeTokenStateError(w, "token account", err)
			return
		}

		state := "initialized"
		if acct.State == token.Frozen {
			state = "frozen"
		}
		writeJSON(w, tokenAccountResponse{
			Address: key.String(),
			Mint:    acct.Mint.String(),
			Owner:   acct.Owner.String(),
			Amount:  acct.Amount,
			State:   state,
		}, http.StatusOK)
	})
}

func writeTokenStateError(w http.ResponseWriter, kind string, err error) {
	switch {
	case errors.Is(err, runtime.ErrAccountNotFound):
		writeError(w, kind+" not found", http.StatusNotFound)
	default:
		writeError(w, fmt.Sprintf("not a valid %s: %v", kind, err), http.StatusUnprocessableEntity)
	}
}

// eventResponse is the JSON response format for an instruction event.
type eventResponse struct {
	Signature        string    `json:"signature"`
	InstructionIndex int       `json:"instruction_index"`
	Instruction      string    `json:"instruction"`
	Mint             *string   `json:"mint,omitempty"`
	Source           *string   `json:"source,omitempty"`
	Destination      *string   `json:"destination,omitempty"`
	Authority        *string   `json:"authority,omitempty"`
	Amount           *uint64   `json:"amount,omitempty"`
	Decimals         *uint8    `json:"decimals,omitempty"`
	Slot             uint64    `json:"slot"`
	Status           string    `json:"status"`
	Error            *string   `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func eventToResponse(e *db.InstructionEvent) eventResponse {
	return eventResponse{
		Signature:        e.Signature,
		InstructionIndex: e.InstructionIndex,
		Instruction:      e.Instruction,
		Mint:             e.Mint,
		Source:           e.Source,
		Destination:      e.Destination,
		Authority:        e.Authority,
		Amount:           e.Amount,
		Decimals:         e.Decimals,
		Slot:             e.Slot,
		Status:           e.Status,
		Error:            e.Error,
		CreatedAt:        e.CreatedAt,
	}
}

// handleListEvents returns a handler that lists recorded instruction events.
// GET /api/v1/events?mint=ADDRESS&account=ADDRESS&instruction=NAME&limit=N&offset=N
func handleListEvents(store EventStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "event log is not configured", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		params := db.ListInstructionEventsParams{
			Mint:        query.Get("mint"),
			Account:     query.Get("account"),
			Instruction: query.Get("instruction"),
		}

		for name, value := range map[string]string{"mint": params.Mint, "account": params.Account} {
			if value == "" {
				continue
			}
			if err := validateAddress(value); err != nil {
				writeError(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
				return
			}
		}
		if err := validateInstruction(params.Instruction); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		params.Limit, params.Offset = limit, offset

		events, err := store.ListInstructionEvents(r.Context(), params)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list events", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]eventResponse, len(events))
		for i := range events {
			resp[i] = eventToResponse(events[i])
		}

		writeJSON(w, map[string]interface{}{
			"events": resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// mintRecordResponse is the JSON response format for a mint seen by the indexer.
type mintRecordResponse struct {
	Address       string    `json:"address"`
	Decimals      uint8     `json:"decimals"`
	MintAuthority string    `json:"mint_authority"`
	CreatedSlot   uint64    `json:"created_slot"`
	Signature     string    `json:"signature"`
	CreatedAt     time.Time `json:"created_at"`
}

// handleListMints returns a handler that lists mints initialized through
// the WEEK program, oldest first.
// GET /api/v1/mints?limit=N&offset=N
func handleListMints(store EventStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "event log is not configured", http.StatusServiceUnavailable)
			return
		}

		limit, offset, err := parsePagination(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mints, err := store.ListMints(r.Context(), limit, offset)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list mints", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]mintRecordResponse, len(mints))
		for i, m := range mints {
			resp[i] = mintRecordResponse{
				Address:       m.Address,
				Decimals:      m.Decimals,
				MintAuthority: m.MintAuthority,
				CreatedSlot:   m.CreatedSlot,
				Signature:     m.Signature,
				CreatedAt:     m.CreatedAt,
			}
		}

		writeJSON(w, map[string]interface{}{
			"mints":  resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// parsePagination parses limit (default 100, max 1000) and offset (default 0).
func parsePagination(limitStr, offsetStr string) (int32, int32, error) {
	limit := int32(100)
	if limitStr != "" {
		var parsedLimit int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsedLimit < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsedLimit > 1000 {
			return 0, 0, errorf("limit cannot exceed 1000")
		}
		limit = int32(parsedLimit)
	}

	offset := int32(0)
	if offsetStr != "" {
		var parsedOffset int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsedOffset < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsedOffset)
	}
	return limit, offset, nil
}

// decodeBody decodes a JSON request body, writing the error response itself
// when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request body", "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseAddress validates and decodes a base58 public key.
func parseAddress(address string) (solanago.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solanago.PublicKey{}, err
	}
	key, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("invalid address: %v", err)
	}
	return key, nil
}

// validateAddress validates an address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateInstruction accepts an empty filter or a WEEK instruction name.
func validateInstruction(name string) error {
	switch name {
	case "", "initialize_token", "mint_tokens", "transfer_tokens", "unknown":
		return nil
	default:
		return errorf("invalid instruction: must be initialize_token, mint_tokens, transfer_tokens or unknown")
	}
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
