package queries

import (
	"context"
	"sort"
	"strings"

	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/domain/services"
	"chant/contexts/deliberation/engine/ports"
)

// CellSummary is the public shape of a cell. Open cells never expose running
// totals; results appear only after completion.
type CellSummary struct {
	Cell    entities.Cell
	Ideas   []entities.Idea
	Results *services.Outcome
}

// DeliberationState is the full read model for one deliberation.
type DeliberationState struct {
	Deliberation entities.Deliberation
	Tiers        []entities.Tier
	Cells        []CellSummary
	Champion     *entities.Champion
}

// CellView is what one participant sees inside a cell: the ideas, their own
// ballot if any, and the comments visible to this cell after up-pollination.
type CellView struct {
	Cell     entities.Cell
	Ideas    []entities.Idea
	Ballot   *entities.Ballot
	Comments []entities.Comment
}

// StateUseCase serves read-only projections of engine state.
type StateUseCase struct {
	Deliberations ports.DeliberationRepository
	Ideas         ports.IdeaRepository
	Cells         ports.CellRepository
	Ballots       ports.BallotRepository
	Comments      ports.CommentRepository
	Tiers         ports.TierRepository
	Config        entities.EngineConfig
}

// DeliberationState assembles the tier and cell overview. In-flight tallies
// stay hidden: only closed cells carry results, recomputed deterministically
// from their stored ballots.
func (uc StateUseCase) DeliberationState(ctx context.Context, deliberationID string) (DeliberationState, error) {
	deliberation, err := uc.Deliberations.GetDeliberation(ctx, strings.TrimSpace(deliberationID))
	if err != nil {
		return DeliberationState{}, err
	}
	tiers, err := uc.Tiers.ListTiers(ctx, deliberation.DeliberationID)
	if err != nil {
		return DeliberationState{}, err
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Number < tiers[j].Number })

	state := DeliberationState{Deliberation: deliberation, Tiers: tiers}
	for _, tier := range tiers {
		cells, err := uc.Cells.ListCellsByTier(ctx, deliberation.DeliberationID, tier.Number)
		if err != nil {
			return DeliberationState{}, err
		}
		sort.Slice(cells, func(i, j int) bool { return cells[i].CellID < cells[j].CellID })
		for _, cell := range cells {
			summary, err := uc.summarize(ctx, cell)
			if err != nil {
				return DeliberationState{}, err
			}
			state.Cells = append(state.Cells, summary)
		}
	}
	if champion, found, err := uc.Deliberations.GetChampion(ctx, deliberation.DeliberationID); err != nil {
		return DeliberationState{}, err
	} else if found {
		state.Champion = &champion
	}
	return state, nil
}

// CellView renders a cell for one participant, applying comment
// up-pollination across sibling and lower-tier cells.
func (uc StateUseCase) CellView(ctx context.Context, cellID string, participantID string) (CellView, error) {
	cell, err := uc.Cells.GetCell(ctx, strings.TrimSpace(cellID))
	if err != nil {
		return CellView{}, err
	}
	view := CellView{Cell: cell}
	for _, ideaID := range cell.IdeaIDs {
		idea, err := uc.Ideas.GetIdea(ctx, ideaID)
		if err != nil {
			return CellView{}, err
		}
		view.Ideas = append(view.Ideas, idea)
	}
	if participantID = strings.TrimSpace(participantID); participantID != "" {
		if ballot, found, err := uc.Ballots.GetBallot(ctx, cell.CellID, participantID); err != nil {
			return CellView{}, err
		} else if found {
			view.Ballot = &ballot
		}
	}
	comments, err := uc.visibleComments(ctx, cell)
	if err != nil {
		return CellView{}, err
	}
	view.Comments = comments
	return view, nil
}

// CellResults returns the outcome of a closed cell. Open cells refuse: the
// engine never leaks a running tally.
func (uc StateUseCase) CellResults(ctx context.Context, cellID string) (services.Outcome, error) {
	cell, err := uc.Cells.GetCell(ctx, strings.TrimSpace(cellID))
	if err != nil {
		return services.Outcome{}, err
	}
	if !cell.Closed() {
		return services.Outcome{}, domainerrors.ErrCellClosed
	}
	return uc.tally(ctx, cell)
}

// ListIdeas returns a deliberation's ideas ordered by submission time.
func (uc StateUseCase) ListIdeas(ctx context.Context, deliberationID string) ([]entities.Idea, error) {
	ideas, err := uc.Ideas.ListIdeasByDeliberation(ctx, strings.TrimSpace(deliberationID))
	if err != nil {
		return nil, err
	}
	sort.Slice(ideas, func(i, j int) bool {
		if ideas[i].CreatedAt.Equal(ideas[j].CreatedAt) {
			return ideas[i].IdeaID < ideas[j].IdeaID
		}
		return ideas[i].CreatedAt.Before(ideas[j].CreatedAt)
	})
	return ideas, nil
}

func (uc StateUseCase) summarize(ctx context.Context, cell entities.Cell) (CellSummary, error) {
	summary := CellSummary{Cell: cell}
	for _, ideaID := range cell.IdeaIDs {
		idea, err := uc.Ideas.GetIdea(ctx, ideaID)
		if err != nil {
			return CellSummary{}, err
		}
		summary.Ideas = append(summary.Ideas, idea)
	}
	if cell.Status == entities.CellStatusCompleted {
		outcome, err := uc.tally(ctx, cell)
		if err != nil {
			return CellSummary{}, err
		}
		summary.Results = &outcome
	}
	return summary, nil
}

func (uc StateUseCase) tally(ctx context.Context, cell entities.Cell) (services.Outcome, error) {
	ballots, err := uc.Ballots.ListBallotsByCell(ctx, cell.CellID)
	if err != nil {
		return services.Outcome{}, err
	}
	ideas := make(map[string]entities.Idea, len(cell.IdeaIDs))
	for _, ideaID := range cell.IdeaIDs {
		idea, err := uc.Ideas.GetIdea(ctx, ideaID)
		if err != nil {
			return services.Outcome{}, err
		}
		ideas[ideaID] = idea
	}
	return services.Evaluate(cell, ballots, ideas, uc.Config), nil
}

// visibleComments collects the cell's own comments plus pollinated ones:
// idea-following comments from the ideas' earlier cells, and probabilistic
// crossover from same-tier siblings that share an idea.
func (uc StateUseCase) visibleComments(ctx context.Context, cell entities.Cell) ([]entities.Comment, error) {
	seen := make(map[string]struct{})
	visible := make([]entities.Comment, 0)

	own, err := uc.Comments.ListCommentsByCell(ctx, cell.CellID)
	if err != nil {
		return nil, err
	}
	for _, comment := range own {
		seen[comment.CommentID] = struct{}{}
		visible = append(visible, comment)
	}

	for _, ideaID := range cell.IdeaIDs {
		followers, err := uc.Comments.ListCommentsByIdea(ctx, ideaID)
		if err != nil {
			return nil, err
		}
		for _, comment := range followers {
			if _, dup := seen[comment.CommentID]; dup {
				continue
			}
			origin, err := uc.Cells.GetCell(ctx, comment.CellID)
			if err != nil {
				return nil, err
			}
			if services.VisibleInCell(comment, origin, cell) {
				seen[comment.CommentID] = struct{}{}
				visible = append(visible, comment)
			}
		}
	}

	siblings, err := uc.Cells.ListCellsByTier(ctx, cell.DeliberationID, cell.Tier)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.CellID == cell.CellID {
			continue
		}
		comments, err := uc.Comments.ListCommentsByCell(ctx, sibling.CellID)
		if err != nil {
			return nil, err
		}
		for _, comment := range comments {
			if _, dup := seen[comment.CommentID]; dup {
				continue
			}
			if services.VisibleInCell(comment, sibling, cell) {
				seen[comment.CommentID] = struct{}{}
				visible = append(visible, comment)
			}
		}
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CommentID < visible[j].CommentID
		}
		return visible[i].CreatedAt.Before(visible[j].CreatedAt)
	})
	return visible, nil
}
