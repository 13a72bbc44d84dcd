package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/weektoken/service/db"
)

// InstructionEvent represents a WEEK program instruction published to NATS.
// This is published to the subject "week.{instruction}.{mint}" in JetStream.
type InstructionEvent struct {
	// Transaction identifiers
	Signature        string `json:"signature"`
	InstructionIndex int    `json:"instruction_index"`
	Slot             uint64 `json:"slot"`

	Instruction string `json:"instruction"`
	Mint        string `json:"mint,omitempty"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Authority   string `json:"authority,omitempty"`
	Amount      uint64 `json:"amount"`
	Decimals    *uint8 `json:"decimals,omitempty"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// UnknownMint is the subject token used when an event's mint is not known.
const UnknownMint = "unknown"

// Subject returns the JetStream subject the event is published on.
func (e *InstructionEvent) Subject() string {
	mint := e.Mint
	if mint == "" {
		mint = UnknownMint
	}
	return fmt.Sprintf("week.%s.%s", e.Instruction, mint)
}

// MintSubject returns the subject filter matching every event of mint.
func MintSubject(mint string) string {
	return fmt.Sprintf("week.*.%s", mint)
}

// FromDBEvent converts a stored instruction event to an InstructionEvent for publishing.
func FromDBEvent(e *db.InstructionEvent) *InstructionEvent {
	event := &InstructionEvent{
		Signature:        e.Signature,
		InstructionIndex: e.InstructionIndex,
		Slot:             e.Slot,
		Instruction:      e.Instruction,
		Decimals:         e.Decimals,
		Status:           e.Status,
		PublishedAt:      time.Now().UTC(),
	}

	// Convert optional fields
	if e.Mint != nil {
		event.Mint = *e.Mint
	}
	if e.Source != nil {
		event.Source = *e.Source
	}
	if e.Destination != nil {
		event.Destination = *e.Destination
	}
	if e.Authority != nil {
		event.Authority = *e.Authority
	}
	if e.Amount != nil {
		event.Amount = *e.Amount
	}
	if e.Error != nil {
		event.Error = *e.Error
	}

	return event
}
