package solana

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// preflightFailureCode is the JSON-RPC error code the cluster returns when
// sendTransaction's simulation fails.
const preflightFailureCode = -32002

// TransactionError is a transaction failure reported by the cluster, either
// by preflight simulation or by the status of a landed transaction. It
// matches ErrTransactionFailed.
type TransactionError struct {
	// Signature is zero when the transaction was rejected at preflight.
	Signature solana.Signature
	// Code is the custom program error code, if the failure carried one.
	Code *uint32
	Logs []string
	// Reason is the cluster's description of the failure.
	Reason interface{}
}

func (e *TransactionError) Error() string {
	if e.Signature.IsZero() {
		return fmt.Sprintf("%v at preflight: %v", ErrTransactionFailed, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrTransactionFailed, e.Signature, e.Reason)
}

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransactionFailed
}

// preflightFailure reports whether err is a failed preflight simulation and
// converts it. Such a failure is deterministic, so it is never retried.
func preflightFailure(err error) (*TransactionError, bool) {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != preflightFailureCode {
		return nil, false
	}

	txErr := &TransactionError{Reason: rpcErr.Message}
	var data struct {
		Err  json.RawMessage `json:"err"`
		Logs []string        `json:"logs"`
	}
	if raw, mErr := json.Marshal(rpcErr.Data); mErr == nil && json.Unmarshal(raw, &data) == nil {
		txErr.Logs = data.Logs
		txErr.Code = customCode(data.Err)
	}
	if txErr.Code == nil {
		txErr.Code = customCodeFromMessage(rpcErr.Message)
	}
	return txErr, true
}

// statusFailure converts the error of a landed transaction's status.
func statusFailure(sig solana.Signature, reason interface{}) *TransactionError {
	txErr := &TransactionError{Signature: sig, Reason: reason}
	if raw, err := json.Marshal(reason); err == nil {
		txErr.Code = customCode(raw)
	}
	return txErr
}

// customCode extracts n from {"InstructionError":[i,{"Custom":n}]}.
func customCode(raw json.RawMessage) *uint32 {
	var ixErr struct {
		InstructionError []json.RawMessage
	}
	if len(raw) == 0 || json.Unmarshal(raw, &ixErr) != nil || len(ixErr.InstructionError) != 2 {
		return nil
	}
	var inner struct {
		Custom *uint32
	}
	if json.Unmarshal(ixErr.InstructionError[1], &inner) != nil {
		return nil
	}
	return inner.Custom
}

// customCodeFromMessage parses "custom program error: 0x1771".
func customCodeFromMessage(msg string) *uint32 {
	const marker = "custom program error: 0x"
	i := strings.Index(msg, marker)
	if i < 0 {
		return nil
	}
	hex := msg[i+len(marker):]
	end := strings.IndexFunc(hex, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdefABCDEF", r)
	})
	if end >= 0 {
		hex = hex[:end]
	}
	code, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil
	}
	c := uint32(code)
	return &c
}
