package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/weektoken/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionEvent_Subject(t *testing.T) {
	e := &InstructionEvent{Instruction: "mint_tokens", Mint: "Mint111"}
	assert.Equal(t, "week.mint_tokens.Mint111", e.Subject())

	e = &InstructionEvent{Instruction: "transfer_tokens"}
	assert.Equal(t, "week.transfer_tokens.unknown", e.Subject())

	assert.Equal(t, "week.*.Mint111", MintSubject("Mint111"))
}

func TestFromDBEvent(t *testing.T) {
	mint, dest, errText := "Mint111", "Dest111", "boom"
	amount := uint64(77)
	decimals := uint8(9)

	event := FromDBEvent(&db.InstructionEvent{
		Signature:        "sig",
		InstructionIndex: 2,
		Instruction:      "mint_tokens",
		Mint:             &mint,
		Destination:      &dest,
		Amount:           &amount,
		Decimals:         &decimals,
		Slot:             9,
		Status:           db.StatusFailed,
		Error:            &errText,
	})

	assert.Equal(t, "sig", event.Signature)
	assert.Equal(t, 2, event.InstructionIndex)
	assert.Equal(t, "Mint111", event.Mint)
	assert.Equal(t, "Dest111", event.Destination)
	assert.Empty(t, event.Source)
	assert.Equal(t, uint64(77), event.Amount)
	assert.Equal(t, uint64(9), event.Slot)
	assert.Equal(t, "boom", event.Error)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishInstructionEvent(ctx, &InstructionEvent{Instruction: "mint_tokens", Mint: "a"}))
	require.NoError(t, m.PublishInstructionEventBatch(ctx, []*InstructionEvent{
		{Instruction: "mint_tokens", Mint: "b"},
		{Instruction: "transfer_tokens", Mint: "a"},
	}))
	assert.Equal(t, 3, m.GetPublishedEventCount())
	assert.Len(t, m.GetPublishedEventsForMint("a"), 2)

	m.SetPublishError(errors.New("down"))
	assert.Error(t, m.PublishInstructionEvent(ctx, &InstructionEvent{}))

	m.Reset()
	assert.Zero(t, m.GetPublishedEventCount())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
