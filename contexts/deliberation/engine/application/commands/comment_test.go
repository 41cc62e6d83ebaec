package commands

import (
	"context"
	"errors"
	"testing"

	domainerrors "chant/contexts/deliberation/engine/domain/errors"
)

func TestPostCommentRequiresSeat(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	_, cells := h.seedContest(t, ideaTexts(3))
	cell := cells[0]

	if _, err := h.comments.PostComment(ctx, PostCommentCommand{
		CellID:   cell.CellID,
		AuthorID: "drive-by",
		Text:     "unsolicited opinion",
	}); !errors.Is(err, domainerrors.ErrNotAParticipant) {
		t.Fatalf("unseated comment err = %v, want %v", err, domainerrors.ErrNotAParticipant)
	}

	// A live reservation is a seat.
	if _, err := h.votes.ReserveSeat(ctx, ReserveSeatCommand{CellID: cell.CellID, ParticipantID: "voter-1"}); err != nil {
		t.Fatalf("reservation failed: %v", err)
	}
	if _, err := h.comments.PostComment(ctx, PostCommentCommand{
		CellID:   cell.CellID,
		AuthorID: "voter-1",
		Text:     "thinking about it",
	}); err != nil {
		t.Fatalf("reserved-seat comment failed: %v", err)
	}

	// So is a cast ballot.
	if _, err := h.votes.CastVote(ctx, CastVoteCommand{
		CellID:        cell.CellID,
		ParticipantID: "voter-1",
		Allocations:   allocateAll(cell.IdeaIDs[0], 10),
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if _, err := h.comments.PostComment(ctx, PostCommentCommand{
		CellID:   cell.CellID,
		AuthorID: "voter-1",
		Text:     "voted, here is why",
	}); err != nil {
		t.Fatalf("voter comment failed: %v", err)
	}
}

func TestPostCommentPinnedIdeaMustBeInCell(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	_, cells := h.seedContest(t, ideaTexts(3))
	cell := cells[0]

	if _, err := h.votes.ReserveSeat(ctx, ReserveSeatCommand{CellID: cell.CellID, ParticipantID: "voter-1"}); err != nil {
		t.Fatalf("reservation failed: %v", err)
	}
	if _, err := h.comments.PostComment(ctx, PostCommentCommand{
		CellID:   cell.CellID,
		AuthorID: "voter-1",
		IdeaID:   "idea-from-another-cell",
		Text:     "pinned to the wrong idea",
	}); !errors.Is(err, domainerrors.ErrIdeaNotInCell) {
		t.Fatalf("foreign-idea pin err = %v, want %v", err, domainerrors.ErrIdeaNotInCell)
	}

	comment, err := h.comments.PostComment(ctx, PostCommentCommand{
		CellID:   cell.CellID,
		AuthorID: "voter-1",
		IdeaID:   cell.IdeaIDs[1],
		Text:     "pinned correctly",
	})
	if err != nil {
		t.Fatalf("pinned comment failed: %v", err)
	}
	if comment.IdeaID != cell.IdeaIDs[1] {
		t.Fatalf("comment pinned to %s", comment.IdeaID)
	}
}

func TestUpvoteCommentRaisesReach(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	_, cells := h.seedContest(t, ideaTexts(3))
	cell := cells[0]

	if _, err := h.votes.ReserveSeat(ctx, ReserveSeatCommand{CellID: cell.CellID, ParticipantID: "voter-1"}); err != nil {
		t.Fatalf("reservation failed: %v", err)
	}
	comment, err := h.comments.PostComment(ctx, PostCommentCommand{
		CellID:   cell.CellID,
		AuthorID: "voter-1",
		Text:     "worth spreading",
	})
	if err != nil {
		t.Fatalf("comment failed: %v", err)
	}
	if comment.ReachTier != 0 {
		t.Fatalf("fresh comment reach = %d", comment.ReachTier)
	}

	// One upvote reaches tier 1, four reach tier 2.
	wantReach := []int{1, 1, 1, 2}
	for i, want := range wantReach {
		updated, err := h.comments.UpvoteComment(ctx, UpvoteCommentCommand{CommentID: comment.CommentID})
		if err != nil {
			t.Fatalf("upvote %d failed: %v", i+1, err)
		}
		if updated.UpvoteCount != i+1 {
			t.Fatalf("upvotes after %d = %d", i+1, updated.UpvoteCount)
		}
		if updated.ReachTier != want {
			t.Fatalf("reach after %d upvotes = %d, want %d", i+1, updated.ReachTier, want)
		}
	}

	if _, err := h.comments.UpvoteComment(ctx, UpvoteCommentCommand{CommentID: "missing"}); !errors.Is(err, domainerrors.ErrCommentNotFound) {
		t.Fatalf("missing comment err = %v, want %v", err, domainerrors.ErrCommentNotFound)
	}
}
