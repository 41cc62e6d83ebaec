package commands

import (
	"context"
	"log/slog"
	"strings"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/domain/services"
	"chant/contexts/deliberation/engine/ports"
)

// PostCommentCommand attaches a comment to a cell, optionally pinned to one of
// the cell's ideas.
type PostCommentCommand struct {
	CellID   string
	AuthorID string
	IdeaID   string
	Text     string
}

// UpvoteCommentCommand bumps a comment's upvote count and, with it, how far
// the comment travels.
type UpvoteCommentCommand struct {
	CommentID string
}

// CommentUseCase handles cell discussion: posting and upvoting. Cross-cell
// visibility is a read-side concern; writes only maintain the reach tier.
type CommentUseCase struct {
	Cells        ports.CellRepository
	Ballots      ports.BallotRepository
	Reservations ports.ReservationRepository
	Comments     ports.CommentRepository
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	Logger       *slog.Logger
}

// PostComment stores a comment from a seated participant. Idea-pinned
// comments must reference an idea inside the cell.
func (uc CommentUseCase) PostComment(ctx context.Context, cmd PostCommentCommand) (entities.Comment, error) {
	logger := application.ResolveLogger(uc.Logger)
	cellID := strings.TrimSpace(cmd.CellID)
	authorID := strings.TrimSpace(cmd.AuthorID)
	ideaID := strings.TrimSpace(cmd.IdeaID)
	text := strings.TrimSpace(cmd.Text)
	if cellID == "" || authorID == "" || text == "" {
		return entities.Comment{}, domainerrors.ErrInvalidInput
	}

	cell, err := uc.Cells.GetCell(ctx, cellID)
	if err != nil {
		return entities.Comment{}, err
	}
	if ideaID != "" && !cell.ContainsIdea(ideaID) {
		return entities.Comment{}, domainerrors.ErrIdeaNotInCell
	}
	seated, err := uc.holdsSeat(ctx, cell, authorID)
	if err != nil {
		return entities.Comment{}, err
	}
	if !seated {
		return entities.Comment{}, domainerrors.ErrNotAParticipant
	}

	now := uc.Clock.Now()
	commentID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Comment{}, err
	}
	comment := entities.Comment{
		CommentID:      commentID,
		DeliberationID: cell.DeliberationID,
		CellID:         cellID,
		IdeaID:         ideaID,
		AuthorID:       authorID,
		Text:           text,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.Comments.CreateComment(ctx, comment); err != nil {
		return entities.Comment{}, err
	}
	logger.Info("comment posted",
		"event", "engine_comment_posted",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", cell.DeliberationID,
		"cell_id", cellID,
		"comment_id", comment.CommentID,
		"idea_linked", ideaID != "",
	)
	return comment, nil
}

// UpvoteComment increments the count and recomputes the reach tier. Reach only
// ever rises; the repository write keeps the increment and the raise atomic.
func (uc CommentUseCase) UpvoteComment(ctx context.Context, cmd UpvoteCommentCommand) (entities.Comment, error) {
	logger := application.ResolveLogger(uc.Logger)
	commentID := strings.TrimSpace(cmd.CommentID)
	if commentID == "" {
		return entities.Comment{}, domainerrors.ErrInvalidInput
	}
	comment, err := uc.Comments.GetComment(ctx, commentID)
	if err != nil {
		return entities.Comment{}, err
	}
	now := uc.Clock.Now()
	reach := services.ReachTier(comment.UpvoteCount + 1)
	updated, err := uc.Comments.UpvoteComment(ctx, commentID, reach, now)
	if err != nil {
		return entities.Comment{}, err
	}
	logger.Info("comment upvoted",
		"event", "engine_comment_upvoted",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", updated.DeliberationID,
		"comment_id", updated.CommentID,
		"upvotes", updated.UpvoteCount,
		"reach_tier", updated.ReachTier,
	)
	return updated, nil
}

// holdsSeat accepts assigned participants, anyone with a ballot, and anyone
// holding a live reservation.
func (uc CommentUseCase) holdsSeat(ctx context.Context, cell entities.Cell, participantID string) (bool, error) {
	if cell.HasParticipant(participantID) {
		return true, nil
	}
	if _, found, err := uc.Ballots.GetBallot(ctx, cell.CellID, participantID); err != nil {
		return false, err
	} else if found {
		return true, nil
	}
	reservation, found, err := uc.Reservations.GetReservation(ctx, cell.CellID, participantID)
	if err != nil {
		return false, err
	}
	return found && !reservation.Expired(uc.Clock.Now()), nil
}
