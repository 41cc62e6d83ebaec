package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"chant/contexts/deliberation/engine/application/commands"
	"chant/contexts/deliberation/engine/application/queries"
	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/domain/services"
	httptransport "chant/contexts/deliberation/engine/transport/http"
)

type Handler struct {
	Deliberations commands.DeliberationUseCase
	Ideas         commands.IdeaUseCase
	Votes         commands.VoteUseCase
	Comments      commands.CommentUseCase
	Coordinator   commands.CoordinatorUseCase
	State         queries.StateUseCase
	Logger        *slog.Logger
}

func (h Handler) CreateDeliberationHandler(
	ctx context.Context,
	req httptransport.CreateDeliberationRequest,
) (httptransport.DeliberationResponse, error) {
	deliberation, err := h.Deliberations.CreateDeliberation(ctx, commands.CreateDeliberationCommand{
		Question:       req.Question,
		RollingMode:    req.RollingMode,
		OnePerAuthor:   req.OnePerAuthor,
		IdeaCap:        req.IdeaCap,
		AllocationMode: entities.AllocationMode(req.AllocationMode),
	})
	if err != nil {
		return httptransport.DeliberationResponse{}, err
	}
	return mapDeliberation(deliberation), nil
}

func (h Handler) GetDeliberationHandler(ctx context.Context, deliberationID string) (httptransport.DeliberationResponse, error) {
	state, err := h.State.DeliberationState(ctx, deliberationID)
	if err != nil {
		return httptransport.DeliberationResponse{}, err
	}
	return mapDeliberation(state.Deliberation), nil
}

func (h Handler) DeliberationStateHandler(ctx context.Context, deliberationID string) (httptransport.DeliberationStateResponse, error) {
	state, err := h.State.DeliberationState(ctx, deliberationID)
	if err != nil {
		return httptransport.DeliberationStateResponse{}, err
	}
	resp := httptransport.DeliberationStateResponse{
		Deliberation: mapDeliberation(state.Deliberation),
		Tiers:        make([]httptransport.TierResponse, 0, len(state.Tiers)),
		Cells:        make([]httptransport.CellSummaryItem, 0, len(state.Cells)),
	}
	for _, tier := range state.Tiers {
		resp.Tiers = append(resp.Tiers, httptransport.TierResponse{
			Number:   tier.Number,
			Status:   string(tier.Status),
			Deadline: formatOptionalTime(tier.Deadline),
		})
	}
	for _, summary := range state.Cells {
		item := httptransport.CellSummaryItem{
			Cell:  mapCell(summary.Cell),
			Ideas: mapIdeas(summary.Ideas),
		}
		if summary.Results != nil {
			results := mapOutcome(summary.Cell.CellID, *summary.Results)
			item.Results = &results
		}
		resp.Cells = append(resp.Cells, item)
	}
	if state.Champion != nil {
		champion := mapChampion(*state.Champion)
		resp.Champion = &champion
	}
	return resp, nil
}

func (h Handler) CloseDeliberationHandler(ctx context.Context, deliberationID string) (httptransport.DeliberationResponse, error) {
	deliberation, err := h.Deliberations.CloseDeliberation(ctx, deliberationID)
	if err != nil {
		return httptransport.DeliberationResponse{}, err
	}
	return mapDeliberation(deliberation), nil
}

func (h Handler) SubmitIdeaHandler(
	ctx context.Context,
	deliberationID string,
	authorID string,
	req httptransport.SubmitIdeaRequest,
) (httptransport.IdeaResponse, error) {
	idea, err := h.Ideas.SubmitIdea(ctx, commands.SubmitIdeaCommand{
		DeliberationID: deliberationID,
		AuthorID:       authorID,
		Text:           req.Text,
	})
	if err != nil {
		return httptransport.IdeaResponse{}, err
	}
	return mapIdea(idea), nil
}

func (h Handler) ListIdeasHandler(ctx context.Context, deliberationID string) (httptransport.IdeaListResponse, error) {
	ideas, err := h.State.ListIdeas(ctx, deliberationID)
	if err != nil {
		return httptransport.IdeaListResponse{}, err
	}
	return httptransport.IdeaListResponse{Items: mapIdeas(ideas)}, nil
}

func (h Handler) OpenVotingHandler(
	ctx context.Context,
	deliberationID string,
	req httptransport.OpenVotingRequest,
) (httptransport.CellListResponse, error) {
	deadline, err := parseOptionalTime(req.Deadline)
	if err != nil {
		return httptransport.CellListResponse{}, err
	}
	cells, err := h.Deliberations.OpenVoting(ctx, commands.OpenVotingCommand{
		DeliberationID: deliberationID,
		Participants:   req.Participants,
		MustVoteIDs:    req.MustVoteIDs,
		Deadline:       deadline,
	})
	if err != nil {
		return httptransport.CellListResponse{}, err
	}
	resp := httptransport.CellListResponse{Items: make([]httptransport.CellResponse, 0, len(cells))}
	for _, cell := range cells {
		resp.Items = append(resp.Items, mapCell(cell))
	}
	return resp, nil
}

func (h Handler) ChallengeRoundHandler(
	ctx context.Context,
	deliberationID string,
	req httptransport.ChallengeRoundRequest,
) (httptransport.CellResponse, error) {
	deadline, err := parseOptionalTime(req.Deadline)
	if err != nil {
		return httptransport.CellResponse{}, err
	}
	cell, err := h.Coordinator.TriggerChallengeRound(ctx, commands.TriggerChallengeRoundCommand{
		DeliberationID: deliberationID,
		Deadline:       deadline,
	})
	if err != nil {
		return httptransport.CellResponse{}, err
	}
	return mapCell(cell), nil
}

func (h Handler) CellViewHandler(ctx context.Context, cellID string, participantID string) (httptransport.CellViewResponse, error) {
	view, err := h.State.CellView(ctx, cellID, participantID)
	if err != nil {
		return httptransport.CellViewResponse{}, err
	}
	resp := httptransport.CellViewResponse{
		Cell:     mapCell(view.Cell),
		Ideas:    mapIdeas(view.Ideas),
		Comments: make([]httptransport.CommentResponse, 0, len(view.Comments)),
	}
	if view.Ballot != nil {
		ballot := mapBallot(*view.Ballot, false, nil)
		resp.Ballot = &ballot
	}
	for _, comment := range view.Comments {
		resp.Comments = append(resp.Comments, mapComment(comment))
	}
	return resp, nil
}

func (h Handler) ReserveSeatHandler(ctx context.Context, cellID string, participantID string) (httptransport.ReservationResponse, error) {
	reservation, err := h.Votes.ReserveSeat(ctx, commands.ReserveSeatCommand{
		CellID:        cellID,
		ParticipantID: participantID,
	})
	if err != nil {
		return httptransport.ReservationResponse{}, err
	}
	return httptransport.ReservationResponse{
		CellID:        reservation.CellID,
		ParticipantID: reservation.ParticipantID,
		ExpiresAt:     reservation.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	cellID string,
	participantID string,
	req httptransport.CastVoteRequest,
) (httptransport.CastVoteResponse, error) {
	allocations := make([]entities.Allocation, 0, len(req.Allocations))
	for _, item := range req.Allocations {
		allocations = append(allocations, entities.Allocation{IdeaID: item.IdeaID, Points: item.Points})
	}
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		CellID:        cellID,
		ParticipantID: participantID,
		Allocations:   allocations,
		Automated:     req.Automated,
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return mapBallot(result.Ballot, result.CellComplete, result.FinalizesAt), nil
}

func (h Handler) PostCommentHandler(
	ctx context.Context,
	cellID string,
	authorID string,
	req httptransport.PostCommentRequest,
) (httptransport.CommentResponse, error) {
	comment, err := h.Comments.PostComment(ctx, commands.PostCommentCommand{
		CellID:   cellID,
		AuthorID: authorID,
		IdeaID:   req.IdeaID,
		Text:     req.Text,
	})
	if err != nil {
		return httptransport.CommentResponse{}, err
	}
	return mapComment(comment), nil
}

func (h Handler) UpvoteCommentHandler(ctx context.Context, commentID string) (httptransport.CommentResponse, error) {
	comment, err := h.Comments.UpvoteComment(ctx, commands.UpvoteCommentCommand{CommentID: commentID})
	if err != nil {
		return httptransport.CommentResponse{}, err
	}
	return mapComment(comment), nil
}

func (h Handler) CellResultsHandler(ctx context.Context, cellID string) (httptransport.CellResultsResponse, error) {
	outcome, err := h.State.CellResults(ctx, cellID)
	if err != nil {
		return httptransport.CellResultsResponse{}, err
	}
	return mapOutcome(cellID, outcome), nil
}

func mapDeliberation(deliberation entities.Deliberation) httptransport.DeliberationResponse {
	return httptransport.DeliberationResponse{
		DeliberationID: deliberation.DeliberationID,
		Question:       deliberation.Question,
		Phase:          string(deliberation.Phase),
		CurrentTier:    deliberation.CurrentTier,
		RollingMode:    deliberation.RollingMode,
		OnePerAuthor:   deliberation.OnePerAuthor,
		IdeaCap:        deliberation.IdeaCap,
		AllocationMode: string(deliberation.AllocationMode),
		CreatedAt:      deliberation.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func mapIdea(idea entities.Idea) httptransport.IdeaResponse {
	return httptransport.IdeaResponse{
		IdeaID:         idea.IdeaID,
		DeliberationID: idea.DeliberationID,
		AuthorID:       idea.AuthorID,
		Text:           idea.Text,
		Status:         string(idea.Status),
		Tier:           idea.Tier,
		TimesPresented: idea.TimesPresented,
		TotalPoints:    idea.TotalPoints,
		TotalVoters:    idea.TotalVoters,
		CreatedAt:      idea.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func mapIdeas(ideas []entities.Idea) []httptransport.IdeaResponse {
	items := make([]httptransport.IdeaResponse, 0, len(ideas))
	for _, idea := range ideas {
		items = append(items, mapIdea(idea))
	}
	return items
}

func mapCell(cell entities.Cell) httptransport.CellResponse {
	return httptransport.CellResponse{
		CellID:             cell.CellID,
		DeliberationID:     cell.DeliberationID,
		Tier:               cell.Tier,
		Status:             string(cell.Status),
		IdeaIDs:            cell.IdeaIDs,
		ParticipantIDs:     cell.ParticipantIDs,
		VotesNeeded:        cell.VotesNeeded,
		IsFinalVote:        cell.IsFinalVote,
		VotingDeadline:     formatOptionalTime(cell.VotingDeadline),
		FinalizesAt:        formatOptionalTime(cell.FinalizesAt),
		HumanPriorityUntil: formatOptionalTime(cell.HumanPriorityUntil),
	}
}

func mapBallot(ballot entities.Ballot, complete bool, finalizesAt *time.Time) httptransport.CastVoteResponse {
	allocations := make([]httptransport.AllocationItem, 0, len(ballot.Allocations))
	for _, allocation := range ballot.Allocations {
		allocations = append(allocations, httptransport.AllocationItem{
			IdeaID: allocation.IdeaID,
			Points: allocation.Points,
		})
	}
	return httptransport.CastVoteResponse{
		CellID:        ballot.CellID,
		ParticipantID: ballot.ParticipantID,
		Allocations:   allocations,
		CellComplete:  complete,
		FinalizesAt:   formatOptionalTime(finalizesAt),
	}
}

func mapComment(comment entities.Comment) httptransport.CommentResponse {
	return httptransport.CommentResponse{
		CommentID:      comment.CommentID,
		DeliberationID: comment.DeliberationID,
		CellID:         comment.CellID,
		IdeaID:         comment.IdeaID,
		AuthorID:       comment.AuthorID,
		Text:           comment.Text,
		UpvoteCount:    comment.UpvoteCount,
		ReachTier:      comment.ReachTier,
		CreatedAt:      comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func mapChampion(champion entities.Champion) httptransport.ChampionResponse {
	return httptransport.ChampionResponse{
		DeliberationID: champion.DeliberationID,
		IdeaID:         champion.IdeaID,
		TotalTiers:     champion.TotalTiers,
		TotalVoters:    champion.TotalVoters,
		DeclaredAt:     champion.DeclaredAt.UTC().Format(time.RFC3339),
	}
}

func mapOutcome(cellID string, outcome services.Outcome) httptransport.CellResultsResponse {
	return httptransport.CellResultsResponse{
		CellID:         cellID,
		Winners:        outcome.Winners,
		Recycled:       outcome.Recycled,
		Eliminated:     outcome.Eliminated,
		Totals:         outcome.Totals,
		DistinctVoters: outcome.DistinctVoters,
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domainerrors.ErrInvalidInput
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
