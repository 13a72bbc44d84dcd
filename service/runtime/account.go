package runtime

import (
	"bytes"

	"github.com/gagliardetto/solana-go"
)

// NativeLoaderID owns builtin program accounts.
var NativeLoaderID = solana.MustPublicKeyFromBase58("NativeLoader1111111111111111111111111111111")

// SysvarOwnerID owns sysvar accounts.
var SysvarOwnerID = solana.MustPublicKeyFromBase58("Sysvar1111111111111111111111111111111111111")

// Account is the runtime's view of a single on-chain account.
type Account struct {
	Lamports   uint64
	Owner      solana.PublicKey
	Data       []byte
	Executable bool
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Data != nil {
		out.Data = make([]byte, len(a.Data))
		copy(out.Data, a.Data)
	}
	return &out
}

// Equal reports whether two accounts hold the same state.
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Lamports == b.Lamports &&
		a.Owner.Equals(b.Owner) &&
		a.Executable == b.Executable &&
		bytes.Equal(a.Data, b.Data)
}

// IsEmpty reports whether the account has never been funded or allocated.
// Such accounts are treated as non-existent by the runtime.
func (a *Account) IsEmpty() bool {
	return a == nil || (a.Lamports == 0 && len(a.Data) == 0)
}

// Rent holds the rent-exemption parameters of the cluster.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
}

// accountStorageOverhead is the fixed number of bytes charged for every
// account on top of its data.
const accountStorageOverhead = 128

// DefaultRent matches the mainnet rent sysvar.
var DefaultRent = Rent{
	LamportsPerByteYear: 3480,
	ExemptionThreshold:  2.0,
}

// MinimumBalance returns the lamports an account of dataLen bytes needs to
// be rent exempt.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	return uint64(float64((accountStorageOverhead+uint64(dataLen))*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether lamports cover the exemption minimum for dataLen.
func (r Rent) IsExempt(lamports uint64, dataLen int) bool {
	return lamports >= r.MinimumBalance(dataLen)
}
