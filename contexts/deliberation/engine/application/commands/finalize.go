package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/domain/services"
	"chant/contexts/deliberation/engine/ports"
)

// FinalizeResult reports what finalization did with a cell, if anything.
type FinalizeResult struct {
	Finalized bool
	Abandoned bool
	Extended  bool
	Outcome   services.Outcome
}

// FinalizeUseCase closes cells: the scheduled finalize after a grace window,
// and the deadline path that force-evaluates or abandons late cells. The
// completion claim is a compare-and-swap, so two concurrent triggers (a late
// vote and a timer) finalize a cell exactly once.
type FinalizeUseCase struct {
	Ideas   ports.IdeaRepository
	Cells   ports.CellRepository
	Ballots ports.BallotRepository
	Outbox  ports.OutboxWriter
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Config  entities.EngineConfig
	Logger  *slog.Logger
}

// FinalizeCell executes the scheduled finalize for a cell whose grace window
// has elapsed. It re-validates the cell state before acting; a cell someone
// else already finalized is a no-op, not an error.
func (uc FinalizeUseCase) FinalizeCell(ctx context.Context, cellID string) (FinalizeResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	cell, err := uc.Cells.GetCell(ctx, strings.TrimSpace(cellID))
	if err != nil {
		return FinalizeResult{}, err
	}
	if cell.Closed() {
		return FinalizeResult{}, nil
	}
	now := uc.Clock.Now()
	if cell.Status != entities.CellStatusDeliberating ||
		cell.FinalizesAt == nil || now.Before(*cell.FinalizesAt) {
		return FinalizeResult{}, domainerrors.ErrCellClosed
	}

	claimed, err := uc.Cells.ClaimCompletion(ctx, cell.CellID, now)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !claimed {
		return FinalizeResult{}, nil
	}
	outcome, err := uc.applyOutcome(ctx, cell, now)
	if err != nil {
		return FinalizeResult{}, err
	}
	logger.Info("cell finalized",
		"event", "engine_cell_finalized",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", cell.DeliberationID,
		"cell_id", cell.CellID,
		"tier", cell.Tier,
		"winners", len(outcome.Winners),
		"recycled", len(outcome.Recycled),
		"eliminated", len(outcome.Eliminated),
		"distinct_voters", outcome.DistinctVoters,
	)
	return FinalizeResult{Finalized: true, Outcome: outcome}, nil
}

// EnforceDeadline handles a cell whose voting deadline passed without quorum.
// A missing must-vote participant buys the cell one fixed extension; after
// that the cell is force-evaluated with whatever ballots exist, or abandoned
// when even the forced-evaluation floor is unmet.
func (uc FinalizeUseCase) EnforceDeadline(ctx context.Context, cellID string) (FinalizeResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	cell, err := uc.Cells.GetCell(ctx, strings.TrimSpace(cellID))
	if err != nil {
		return FinalizeResult{}, err
	}
	if cell.Closed() {
		return FinalizeResult{}, nil
	}
	now := uc.Clock.Now()
	if !cell.DeadlinePassed(now) {
		return FinalizeResult{}, nil
	}

	ballots, err := uc.Ballots.ListBallotsByCell(ctx, cell.CellID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if missing := uc.missingMustVotes(cell, ballots); len(missing) > 0 && !cell.DeadlineExtended {
		extended := now.Add(uc.Config.MustVoteExtension)
		cell.VotingDeadline = &extended
		cell.DeadlineExtended = true
		if err := uc.Cells.UpdateCell(ctx, cell, cell.Version); err != nil {
			if errors.Is(err, domainerrors.ErrConflict) {
				return FinalizeResult{}, nil
			}
			return FinalizeResult{}, err
		}
		logger.Info("cell deadline extended for must-vote participants",
			"event", "engine_cell_deadline_extended",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", cell.DeliberationID,
			"cell_id", cell.CellID,
			"missing_must_votes", len(missing),
		)
		return FinalizeResult{Extended: true}, nil
	}

	voters := make(map[string]struct{}, len(ballots))
	for _, ballot := range ballots {
		voters[ballot.ParticipantID] = struct{}{}
	}
	if len(voters) >= uc.Config.MinForcedVotes {
		claimed, err := uc.Cells.ClaimCompletion(ctx, cell.CellID, now)
		if err != nil {
			return FinalizeResult{}, err
		}
		if !claimed {
			return FinalizeResult{}, nil
		}
		outcome, err := uc.applyOutcome(ctx, cell, now)
		if err != nil {
			return FinalizeResult{}, err
		}
		logger.Info("cell force-evaluated at deadline",
			"event", "engine_cell_force_evaluated",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", cell.DeliberationID,
			"cell_id", cell.CellID,
			"tier", cell.Tier,
			"distinct_voters", outcome.DistinctVoters,
		)
		return FinalizeResult{Finalized: true, Outcome: outcome}, nil
	}

	claimed, err := uc.Cells.ClaimAbandonment(ctx, cell.CellID, now)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !claimed {
		return FinalizeResult{}, nil
	}
	if len(voters) == 0 {
		sole, err := uc.soleCellAtTier(ctx, cell)
		if err != nil {
			return FinalizeResult{}, err
		}
		if sole {
			// Nothing competed against these ideas and no opinions arrived.
			// The tier's only container advances unopposed rather than
			// erasing the pool on silence.
			if err := uc.advanceAll(ctx, cell, now); err != nil {
				return FinalizeResult{}, err
			}
			if err := uc.appendCellEvent(ctx, "cell_abandoned", cell, services.Outcome{}, now); err != nil {
				return FinalizeResult{}, err
			}
			logger.Warn("sole voterless cell abandoned, ideas advance unopposed",
				"event", "engine_cell_abandoned_unopposed",
				"module", "deliberation/engine",
				"layer", "application",
				"deliberation_id", cell.DeliberationID,
				"cell_id", cell.CellID,
				"tier", cell.Tier,
			)
			return FinalizeResult{Abandoned: true}, nil
		}
	}
	if err := uc.eliminateAll(ctx, cell, now); err != nil {
		return FinalizeResult{}, err
	}
	if err := uc.appendCellEvent(ctx, "cell_abandoned", cell, services.Outcome{}, now); err != nil {
		return FinalizeResult{}, err
	}
	logger.Warn("cell abandoned at deadline",
		"event", "engine_cell_abandoned",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", cell.DeliberationID,
		"cell_id", cell.CellID,
		"tier", cell.Tier,
		"distinct_voters", len(voters),
	)
	return FinalizeResult{Abandoned: true}, nil
}

// applyOutcome tallies the cell and writes every idea transition: winners
// advance a tier, recycled ideas rejoin the current tier's queue, the rest
// are eliminated. Idea score accumulators only ever grow.
func (uc FinalizeUseCase) applyOutcome(ctx context.Context, cell entities.Cell, now time.Time) (services.Outcome, error) {
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
	outcome := services.Evaluate(cell, ballots, ideas, uc.Config)

	apply := func(ideaID string, status entities.IdeaStatus, tier int) error {
		idea := ideas[ideaID]
		idea.Status = status
		idea.Tier = tier
		idea.TotalPoints += outcome.Totals[ideaID]
		idea.TotalVoters += outcome.VoterCounts[ideaID]
		idea.UpdatedAt = now
		return uc.Ideas.UpdateIdea(ctx, idea)
	}
	for _, ideaID := range outcome.Winners {
		if err := apply(ideaID, entities.IdeaStatusAdvancing, cell.Tier+1); err != nil {
			return services.Outcome{}, err
		}
	}
	for _, ideaID := range outcome.Recycled {
		if err := apply(ideaID, entities.IdeaStatusRecycled, cell.Tier); err != nil {
			return services.Outcome{}, err
		}
	}
	for _, ideaID := range outcome.Eliminated {
		if err := apply(ideaID, entities.IdeaStatusEliminated, cell.Tier); err != nil {
			return services.Outcome{}, err
		}
	}
	if err := uc.appendCellEvent(ctx, "cell_completed", cell, outcome, now); err != nil {
		return services.Outcome{}, err
	}
	return outcome, nil
}

// soleCellAtTier reports whether the cell is its tier's only container.
func (uc FinalizeUseCase) soleCellAtTier(ctx context.Context, cell entities.Cell) (bool, error) {
	siblings, err := uc.Cells.ListCellsByTier(ctx, cell.DeliberationID, cell.Tier)
	if err != nil {
		return false, err
	}
	for _, sibling := range siblings {
		if sibling.CellID != cell.CellID {
			return false, nil
		}
	}
	return true, nil
}

func (uc FinalizeUseCase) advanceAll(ctx context.Context, cell entities.Cell, now time.Time) error {
	for _, ideaID := range cell.IdeaIDs {
		idea, err := uc.Ideas.GetIdea(ctx, ideaID)
		if err != nil {
			return err
		}
		idea.Status = entities.IdeaStatusAdvancing
		idea.Tier = cell.Tier + 1
		idea.UpdatedAt = now
		if err := uc.Ideas.UpdateIdea(ctx, idea); err != nil {
			return err
		}
	}
	return nil
}

func (uc FinalizeUseCase) eliminateAll(ctx context.Context, cell entities.Cell, now time.Time) error {
	for _, ideaID := range cell.IdeaIDs {
		idea, err := uc.Ideas.GetIdea(ctx, ideaID)
		if err != nil {
			return err
		}
		idea.Status = entities.IdeaStatusEliminated
		idea.UpdatedAt = now
		if err := uc.Ideas.UpdateIdea(ctx, idea); err != nil {
			return err
		}
	}
	return nil
}

func (uc FinalizeUseCase) missingMustVotes(cell entities.Cell, ballots []entities.Ballot) []string {
	voted := make(map[string]struct{}, len(ballots))
	for _, ballot := range ballots {
		voted[ballot.ParticipantID] = struct{}{}
	}
	missing := make([]string, 0)
	for _, participantID := range cell.MustVoteIDs {
		if _, ok := voted[participantID]; !ok {
			missing = append(missing, participantID)
		}
	}
	return missing
}

func (uc FinalizeUseCase) appendCellEvent(
	ctx context.Context,
	eventType string,
	cell entities.Cell,
	outcome services.Outcome,
	occurredAt time.Time,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newEngineEnvelope(eventID, eventType, cell.DeliberationID, occurredAt, map[string]any{
		"deliberation_id": cell.DeliberationID,
		"cell_id":         cell.CellID,
		"tier":            cell.Tier,
		"winners":         outcome.Winners,
		"recycled":        outcome.Recycled,
		"eliminated":      outcome.Eliminated,
		"totals":          outcome.Totals,
		"distinct_voters": outcome.DistinctVoters,
		"occurred_at":     occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}
