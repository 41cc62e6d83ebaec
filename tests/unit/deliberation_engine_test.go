package unit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	engine "chant/contexts/deliberation/engine"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	httptransport "chant/contexts/deliberation/engine/transport/http"
)

func TestDeliberationEngineVotingFlow(t *testing.T) {
	module := engine.NewInMemoryModule(nil)
	ctx := context.Background()

	deliberation, err := module.Handler.CreateDeliberationHandler(ctx, httptransport.CreateDeliberationRequest{
		Question: "Which feature ships in the next release?",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	if deliberation.Phase != "submission" {
		t.Fatalf("new deliberation phase = %s", deliberation.Phase)
	}

	for i := 1; i <= 3; i++ {
		if _, err := module.Handler.SubmitIdeaHandler(ctx, deliberation.DeliberationID, fmt.Sprintf("author-%d", i), httptransport.SubmitIdeaRequest{
			Text: fmt.Sprintf("feature proposal %d", i),
		}); err != nil {
			t.Fatalf("submit idea %d failed: %v", i, err)
		}
	}
	ideas, err := module.Handler.ListIdeasHandler(ctx, deliberation.DeliberationID)
	if err != nil {
		t.Fatalf("list ideas failed: %v", err)
	}
	if len(ideas.Items) != 3 {
		t.Fatalf("ideas = %d", len(ideas.Items))
	}

	cells, err := module.Handler.OpenVotingHandler(ctx, deliberation.DeliberationID, httptransport.OpenVotingRequest{})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	if len(cells.Items) != 1 {
		t.Fatalf("cells = %d", len(cells.Items))
	}
	cell := cells.Items[0]
	if cell.Status != "voting" || len(cell.IdeaIDs) != 3 {
		t.Fatalf("first cell = %+v", cell)
	}

	// Submission is closed now.
	if _, err := module.Handler.SubmitIdeaHandler(ctx, deliberation.DeliberationID, "latecomer", httptransport.SubmitIdeaRequest{
		Text: "too late",
	}); !errors.Is(err, domainerrors.ErrPhaseClosed) {
		t.Fatalf("late submit err = %v", err)
	}

	reservation, err := module.Handler.ReserveSeatHandler(ctx, cell.CellID, "voter-1")
	if err != nil {
		t.Fatalf("reserve seat failed: %v", err)
	}
	if reservation.ExpiresAt == "" {
		t.Fatalf("reservation carries no expiry")
	}

	var lastVote httptransport.CastVoteResponse
	for i := 1; i <= cell.VotesNeeded; i++ {
		lastVote, err = module.Handler.CastVoteHandler(ctx, cell.CellID, fmt.Sprintf("voter-%d", i), httptransport.CastVoteRequest{
			Allocations: []httptransport.AllocationItem{
				{IdeaID: cell.IdeaIDs[0], Points: 6},
				{IdeaID: cell.IdeaIDs[1], Points: 4},
			},
		})
		if err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
		if i < cell.VotesNeeded && lastVote.CellComplete {
			t.Fatalf("cell completed after %d of %d votes", i, cell.VotesNeeded)
		}
	}
	if !lastVote.CellComplete || lastVote.FinalizesAt == "" {
		t.Fatalf("quorum vote should open the grace window: %+v", lastVote)
	}

	view, err := module.Handler.CellViewHandler(ctx, cell.CellID, "voter-1")
	if err != nil {
		t.Fatalf("cell view failed: %v", err)
	}
	if view.Cell.Status != "deliberating" {
		t.Fatalf("cell status = %s", view.Cell.Status)
	}
	if view.Ballot == nil || len(view.Ballot.Allocations) != 2 {
		t.Fatalf("voter's own ballot missing from view: %+v", view.Ballot)
	}

	// Running tallies stay hidden until the cell closes.
	if _, err := module.Handler.CellResultsHandler(ctx, cell.CellID); !errors.Is(err, domainerrors.ErrCellClosed) {
		t.Fatalf("open-cell results err = %v", err)
	}

	state, err := module.Handler.DeliberationStateHandler(ctx, deliberation.DeliberationID)
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if state.Deliberation.Phase != "voting" || state.Deliberation.CurrentTier != 1 {
		t.Fatalf("state deliberation = %+v", state.Deliberation)
	}
	if len(state.Tiers) != 1 || len(state.Cells) != 1 {
		t.Fatalf("state shape: %d tiers, %d cells", len(state.Tiers), len(state.Cells))
	}
	if state.Cells[0].Results != nil {
		t.Fatalf("open cell leaked results")
	}
}

func TestDeliberationEngineCommentFlow(t *testing.T) {
	module := engine.NewInMemoryModule(nil)
	ctx := context.Background()

	deliberation, err := module.Handler.CreateDeliberationHandler(ctx, httptransport.CreateDeliberationRequest{
		Question: "Name the release",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := module.Handler.SubmitIdeaHandler(ctx, deliberation.DeliberationID, fmt.Sprintf("author-%d", i), httptransport.SubmitIdeaRequest{
			Text: fmt.Sprintf("release name %d", i),
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
	}
	cells, err := module.Handler.OpenVotingHandler(ctx, deliberation.DeliberationID, httptransport.OpenVotingRequest{})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	cell := cells.Items[0]

	// Commenting requires a seat.
	if _, err := module.Handler.PostCommentHandler(ctx, cell.CellID, "bystander", httptransport.PostCommentRequest{
		Text: "observations from the gallery",
	}); !errors.Is(err, domainerrors.ErrNotAParticipant) {
		t.Fatalf("unseated comment err = %v", err)
	}

	if _, err := module.Handler.ReserveSeatHandler(ctx, cell.CellID, "voter-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	comment, err := module.Handler.PostCommentHandler(ctx, cell.CellID, "voter-1", httptransport.PostCommentRequest{
		IdeaID: cell.IdeaIDs[0],
		Text:   "this one has the best ring to it",
	})
	if err != nil {
		t.Fatalf("comment failed: %v", err)
	}
	if comment.ReachTier != 0 {
		t.Fatalf("fresh comment reach = %d", comment.ReachTier)
	}

	upvoted, err := module.Handler.UpvoteCommentHandler(ctx, comment.CommentID)
	if err != nil {
		t.Fatalf("upvote failed: %v", err)
	}
	if upvoted.UpvoteCount != 1 || upvoted.ReachTier != 1 {
		t.Fatalf("upvoted comment = %+v", upvoted)
	}

	view, err := module.Handler.CellViewHandler(ctx, cell.CellID, "voter-1")
	if err != nil {
		t.Fatalf("cell view failed: %v", err)
	}
	if len(view.Comments) != 1 || view.Comments[0].CommentID != comment.CommentID {
		t.Fatalf("view comments = %+v", view.Comments)
	}
}

func TestDeliberationEngineRejectsInvalidBallots(t *testing.T) {
	module := engine.NewInMemoryModule(nil)
	ctx := context.Background()

	deliberation, err := module.Handler.CreateDeliberationHandler(ctx, httptransport.CreateDeliberationRequest{
		Question: "Ballot validation",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := module.Handler.SubmitIdeaHandler(ctx, deliberation.DeliberationID, fmt.Sprintf("author-%d", i), httptransport.SubmitIdeaRequest{
			Text: fmt.Sprintf("candidate %d", i),
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
	}
	cells, err := module.Handler.OpenVotingHandler(ctx, deliberation.DeliberationID, httptransport.OpenVotingRequest{})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	cell := cells.Items[0]

	if _, err := module.Handler.CastVoteHandler(ctx, cell.CellID, "voter-1", httptransport.CastVoteRequest{
		Allocations: []httptransport.AllocationItem{{IdeaID: cell.IdeaIDs[0], Points: 7}},
	}); !errors.Is(err, domainerrors.ErrInvalidAllocationSum) {
		t.Fatalf("short ballot err = %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, cell.CellID, "voter-1", httptransport.CastVoteRequest{
		Allocations: []httptransport.AllocationItem{{IdeaID: "idea-outside", Points: 10}},
	}); !errors.Is(err, domainerrors.ErrIdeaNotInCell) {
		t.Fatalf("foreign-idea ballot err = %v", err)
	}

	if _, err := module.Handler.GetDeliberationHandler(ctx, "missing"); !errors.Is(err, domainerrors.ErrDeliberationNotFound) {
		t.Fatalf("unknown deliberation err = %v", err)
	}

	// Voting cannot be opened twice.
	if _, err := module.Handler.OpenVotingHandler(ctx, deliberation.DeliberationID, httptransport.OpenVotingRequest{}); !errors.Is(err, domainerrors.ErrPhaseClosed) {
		t.Fatalf("reopen voting err = %v", err)
	}
}
