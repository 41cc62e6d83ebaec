package commands

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
)

func TestCreateDeliberationValidatesInput(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()

	if _, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "   ",
	}); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("blank question err = %v, want %v", err, domainerrors.ErrInvalidInput)
	}
	if _, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question:       "Which mascot?",
		AllocationMode: "ranked",
	}); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("bad allocation mode err = %v, want %v", err, domainerrors.ErrInvalidInput)
	}

	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "Which mascot?",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if deliberation.Phase != entities.PhaseSubmission {
		t.Fatalf("new deliberation phase = %s", deliberation.Phase)
	}
	if deliberation.AllocationMode != entities.AllocationFCFS {
		t.Fatalf("default allocation mode = %s", deliberation.AllocationMode)
	}
}

func TestCloseDeliberationEndsAccumulation(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()

	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question:    "Rolling agenda: what ships next?",
		RollingMode: true,
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}

	// A deliberation still taking submissions cannot be closed.
	if _, err := h.deliberations.CloseDeliberation(ctx, deliberation.DeliberationID); !errors.Is(err, domainerrors.ErrPhaseClosed) {
		t.Fatalf("submission-phase close err = %v, want %v", err, domainerrors.ErrPhaseClosed)
	}

	for i, text := range ideaTexts(3) {
		if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       fmt.Sprintf("author-%d", i),
			Text:           text,
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
		h.clock.Advance(time.Second)
	}
	cells, err := h.deliberations.OpenVoting(ctx, OpenVotingCommand{DeliberationID: deliberation.DeliberationID})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}

	// Mid-vote close is also rejected.
	if _, err := h.deliberations.CloseDeliberation(ctx, deliberation.DeliberationID); !errors.Is(err, domainerrors.ErrPhaseClosed) {
		t.Fatalf("voting-phase close err = %v, want %v", err, domainerrors.ErrPhaseClosed)
	}

	h.runCellToQuorum(t, cells[0], "voter")
	h.finalizeAfterGrace(t, cells[0].CellID)
	if err := h.coordinator.MaybeAdvanceTier(ctx, deliberation.DeliberationID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	accumulating, _ := h.store.GetDeliberation(ctx, deliberation.DeliberationID)
	if accumulating.Phase != entities.PhaseAccumulating {
		t.Fatalf("rolling mode should accumulate after a winner: %s", accumulating.Phase)
	}

	closed, err := h.deliberations.CloseDeliberation(ctx, deliberation.DeliberationID)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Phase != entities.PhaseCompleted {
		t.Fatalf("closed phase = %s", closed.Phase)
	}

	// The champion stands after a manual close.
	if _, found, err := h.store.GetChampion(ctx, deliberation.DeliberationID); err != nil || !found {
		t.Fatalf("champion after close: found=%v err=%v", found, err)
	}

	// Closing again is a no-op.
	again, err := h.deliberations.CloseDeliberation(ctx, deliberation.DeliberationID)
	if err != nil {
		t.Fatalf("repeat close failed: %v", err)
	}
	if again.Phase != entities.PhaseCompleted {
		t.Fatalf("repeat close phase = %s", again.Phase)
	}
}

func TestCloseDeliberationRequiresRollingMode(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()

	deliberation, cells := h.seedContest(t, ideaTexts(3))
	h.runCellToQuorum(t, cells[0], "voter")
	h.finalizeAfterGrace(t, cells[0].CellID)
	if err := h.coordinator.MaybeAdvanceTier(ctx, deliberation.DeliberationID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	// A one-shot deliberation completes on its own; there is nothing to close,
	// and the call degrades to a no-op read.
	closed, err := h.deliberations.CloseDeliberation(ctx, deliberation.DeliberationID)
	if err != nil {
		t.Fatalf("close of completed deliberation failed: %v", err)
	}
	if closed.Phase != entities.PhaseCompleted {
		t.Fatalf("phase = %s", closed.Phase)
	}
}

func TestOpenVotingWithTwoIdeasFormsFinalShowdown(t *testing.T) {
	h := newHarness(quickConfig())
	_, cells := h.seedContest(t, ideaTexts(2))

	if len(cells) != 1 {
		t.Fatalf("two ideas should form one cell, got %d", len(cells))
	}
	cell := cells[0]
	if len(cell.IdeaIDs) != 2 {
		t.Fatalf("cell ideas = %v", cell.IdeaIDs)
	}
	// An undersized pool cannot feed another tier, so the showdown decides it.
	if !cell.IsFinalVote {
		t.Fatalf("a two-idea cell must be the final vote: %+v", cell)
	}
	if cell.HumanPriorityUntil == nil {
		t.Fatalf("final cells open with a human-priority window")
	}
}
