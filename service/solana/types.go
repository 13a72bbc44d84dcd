package solana

import (
	"time"

	"github.com/brojonat/weektoken/service/program"
)

// ProgramTransaction is a confirmed transaction together with the WEEK
// instructions it carried.
// This is our domain model, independent of the RPC response format.
type ProgramTransaction struct {
	Signature    string
	Slot         uint64
	BlockTime    *time.Time
	Fee          uint64
	Instructions []*program.ParsedInstruction
	Logs         []string
	Err          *string // nil if transaction succeeded, contains error message if failed
}
