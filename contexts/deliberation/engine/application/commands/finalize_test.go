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

func TestFinalizeCellAppliesOutcome(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	_, cells := h.seedContest(t, ideaTexts(3))
	cell := cells[0]

	if _, err := h.votes.CastVote(ctx, CastVoteCommand{
		CellID:        cell.CellID,
		ParticipantID: "voter-1",
		Allocations: []entities.Allocation{
			{IdeaID: cell.IdeaIDs[0], Points: 7},
			{IdeaID: cell.IdeaIDs[1], Points: 3},
		},
	}); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if _, err := h.votes.CastVote(ctx, CastVoteCommand{
		CellID:        cell.CellID,
		ParticipantID: "voter-2",
		Allocations: []entities.Allocation{
			{IdeaID: cell.IdeaIDs[0], Points: 5},
			{IdeaID: cell.IdeaIDs[1], Points: 5},
		},
	}); err != nil {
		t.Fatalf("second vote failed: %v", err)
	}

	// The grace window is still open.
	if _, err := h.finalizer.FinalizeCell(ctx, cell.CellID); !errors.Is(err, domainerrors.ErrCellClosed) {
		t.Fatalf("premature finalize err = %v, want %v", err, domainerrors.ErrCellClosed)
	}

	h.clock.Advance(h.cfg.GraceWindow + time.Second)
	result, err := h.finalizer.FinalizeCell(ctx, cell.CellID)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if !result.Finalized {
		t.Fatalf("finalize should report Finalized: %+v", result)
	}
	if len(result.Outcome.Winners) != 1 || result.Outcome.Winners[0] != cell.IdeaIDs[0] {
		t.Fatalf("winners = %v", result.Outcome.Winners)
	}
	if len(result.Outcome.Recycled) != 1 || result.Outcome.Recycled[0] != cell.IdeaIDs[1] {
		t.Fatalf("recycled = %v", result.Outcome.Recycled)
	}
	if len(result.Outcome.Eliminated) != 1 || result.Outcome.Eliminated[0] != cell.IdeaIDs[2] {
		t.Fatalf("eliminated = %v", result.Outcome.Eliminated)
	}

	winner, err := h.store.GetIdea(ctx, cell.IdeaIDs[0])
	if err != nil {
		t.Fatalf("get winner failed: %v", err)
	}
	if winner.Status != entities.IdeaStatusAdvancing || winner.Tier != cell.Tier+1 {
		t.Fatalf("winner = %s tier %d", winner.Status, winner.Tier)
	}
	if winner.TotalPoints != 12 || winner.TotalVoters != 2 {
		t.Fatalf("winner accumulators = %d points, %d voters", winner.TotalPoints, winner.TotalVoters)
	}
	recycled, _ := h.store.GetIdea(ctx, cell.IdeaIDs[1])
	if recycled.Status != entities.IdeaStatusRecycled || recycled.Tier != cell.Tier {
		t.Fatalf("recycled = %s tier %d", recycled.Status, recycled.Tier)
	}
	eliminated, _ := h.store.GetIdea(ctx, cell.IdeaIDs[2])
	if eliminated.Status != entities.IdeaStatusEliminated {
		t.Fatalf("eliminated = %s", eliminated.Status)
	}

	updated, _ := h.store.GetCell(ctx, cell.CellID)
	if updated.Status != entities.CellStatusCompleted {
		t.Fatalf("cell status = %s", updated.Status)
	}

	// A second trigger finds the cell already closed and does nothing.
	again, err := h.finalizer.FinalizeCell(ctx, cell.CellID)
	if err != nil {
		t.Fatalf("repeat finalize failed: %v", err)
	}
	if again.Finalized {
		t.Fatalf("repeat finalize should be a no-op")
	}
}

func TestEnforceDeadlineExtendsThenAbandons(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()

	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question:       "Who gets the last word?",
		AllocationMode: entities.AllocationBalanced,
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i, text := range ideaTexts(3) {
		if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       fmt.Sprintf("author-%d", i),
			Text:           text,
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
	}
	deadline := h.clock.Now().Add(time.Minute)
	cells, err := h.deliberations.OpenVoting(ctx, OpenVotingCommand{
		DeliberationID: deliberation.DeliberationID,
		Participants:   []string{"voter-1", "voter-2"},
		MustVoteIDs:    []string{"voter-2"},
		Deadline:       &deadline,
	})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	cell := cells[0]

	if _, err := h.votes.CastVote(ctx, CastVoteCommand{
		CellID:        cell.CellID,
		ParticipantID: "voter-1",
		Allocations:   allocateAll(cell.IdeaIDs[0], 10),
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	// Before the deadline nothing happens.
	if result, err := h.finalizer.EnforceDeadline(ctx, cell.CellID); err != nil || result.Extended || result.Finalized || result.Abandoned {
		t.Fatalf("early enforcement = %+v, %v", result, err)
	}

	h.clock.Advance(2 * time.Minute)
	result, err := h.finalizer.EnforceDeadline(ctx, cell.CellID)
	if err != nil {
		t.Fatalf("enforcement failed: %v", err)
	}
	if !result.Extended {
		t.Fatalf("missing must-vote should buy one extension: %+v", result)
	}
	extended, _ := h.store.GetCell(ctx, cell.CellID)
	if extended.VotingDeadline == nil || !extended.VotingDeadline.Equal(h.clock.Now().Add(h.cfg.MustVoteExtension)) {
		t.Fatalf("extended deadline = %v", extended.VotingDeadline)
	}
	if !extended.DeadlineExtended {
		t.Fatalf("extension should be recorded so it only happens once")
	}

	// The extension runs out and only one voter showed: the cell folds.
	h.clock.Advance(h.cfg.MustVoteExtension + time.Second)
	result, err = h.finalizer.EnforceDeadline(ctx, cell.CellID)
	if err != nil {
		t.Fatalf("second enforcement failed: %v", err)
	}
	if !result.Abandoned {
		t.Fatalf("under the forced-vote floor the cell should be abandoned: %+v", result)
	}
	abandoned, _ := h.store.GetCell(ctx, cell.CellID)
	if abandoned.Status != entities.CellStatusAbandoned {
		t.Fatalf("cell status = %s", abandoned.Status)
	}
	for _, ideaID := range cell.IdeaIDs {
		idea, _ := h.store.GetIdea(ctx, ideaID)
		if idea.Status != entities.IdeaStatusEliminated {
			t.Fatalf("idea %s = %s after abandonment", ideaID, idea.Status)
		}
	}

	if repeat, err := h.finalizer.EnforceDeadline(ctx, cell.CellID); err != nil || repeat.Abandoned {
		t.Fatalf("repeat enforcement = %+v, %v", repeat, err)
	}
}

func TestEnforceDeadlineAdvancesSoleVoterlessCell(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()

	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "Does anyone care about this one?",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i, text := range ideaTexts(3) {
		if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       fmt.Sprintf("author-%d", i),
			Text:           text,
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
	}
	deadline := h.clock.Now().Add(time.Minute)
	cells, err := h.deliberations.OpenVoting(ctx, OpenVotingCommand{
		DeliberationID: deliberation.DeliberationID,
		Deadline:       &deadline,
	})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	cell := cells[0]

	// Nobody votes. The deadline passes on the tier's only cell.
	h.clock.Advance(2 * time.Minute)
	result, err := h.finalizer.EnforceDeadline(ctx, cell.CellID)
	if err != nil {
		t.Fatalf("enforcement failed: %v", err)
	}
	if !result.Abandoned {
		t.Fatalf("voterless cell should be abandoned: %+v", result)
	}
	abandoned, _ := h.store.GetCell(ctx, cell.CellID)
	if abandoned.Status != entities.CellStatusAbandoned {
		t.Fatalf("cell status = %s", abandoned.Status)
	}
	// With no rival cell and no ballots, the ideas go forward unopposed
	// instead of being wiped out by silence.
	for _, ideaID := range cell.IdeaIDs {
		idea, _ := h.store.GetIdea(ctx, ideaID)
		if idea.Status != entities.IdeaStatusAdvancing || idea.Tier != cell.Tier+1 {
			t.Fatalf("idea %s = %s tier %d after sole-cell abandonment", ideaID, idea.Status, idea.Tier)
		}
	}
}

func TestEnforceDeadlineForceEvaluates(t *testing.T) {
	cfg := quickConfig()
	cfg.TargetVotersPerCell = 3
	h := newHarness(cfg)
	ctx := context.Background()

	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "Pick a direction under time pressure",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i, text := range ideaTexts(3) {
		if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       fmt.Sprintf("author-%d", i),
			Text:           text,
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
	}
	deadline := h.clock.Now().Add(time.Minute)
	cells, err := h.deliberations.OpenVoting(ctx, OpenVotingCommand{
		DeliberationID: deliberation.DeliberationID,
		Deadline:       &deadline,
	})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	cell := cells[0]

	for _, voter := range []string{"voter-1", "voter-2"} {
		if _, err := h.votes.CastVote(ctx, CastVoteCommand{
			CellID:        cell.CellID,
			ParticipantID: voter,
			Allocations:   allocateAll(cell.IdeaIDs[0], 10),
		}); err != nil {
			t.Fatalf("vote by %s failed: %v", voter, err)
		}
	}

	h.clock.Advance(2 * time.Minute)
	result, err := h.finalizer.EnforceDeadline(ctx, cell.CellID)
	if err != nil {
		t.Fatalf("enforcement failed: %v", err)
	}
	if !result.Finalized {
		t.Fatalf("two ballots meet the forced-vote floor: %+v", result)
	}
	if len(result.Outcome.Winners) != 1 || result.Outcome.Winners[0] != cell.IdeaIDs[0] {
		t.Fatalf("winners = %v", result.Outcome.Winners)
	}
	updated, _ := h.store.GetCell(ctx, cell.CellID)
	if updated.Status != entities.CellStatusCompleted {
		t.Fatalf("cell status = %s", updated.Status)
	}
}
