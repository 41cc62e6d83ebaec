package commands

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/domain/services"
	"chant/contexts/deliberation/engine/ports"
)

// TriggerChallengeRoundCommand pits the sitting champion against accumulated
// challenger ideas in rolling mode.
type TriggerChallengeRoundCommand struct {
	DeliberationID string
	Deadline       *time.Time
}

// CoordinatorUseCase owns tier progression. It is the only writer of tier
// records and the only code path that declares a champion, so every
// advancement decision funnels through one place.
type CoordinatorUseCase struct {
	Deliberations ports.DeliberationRepository
	Ideas         ports.IdeaRepository
	Cells         ports.CellRepository
	Tiers         ports.TierRepository
	Outbox        ports.OutboxWriter
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Config        entities.EngineConfig
	Logger        *slog.Logger
}

// MaybeAdvanceTier inspects the current tier and moves the deliberation
// forward when the tier is exhausted: no open cells and no queue that could
// still form one. It is safe to call after every cell completion and from
// timer-driven sweeps; when nothing is ready it does nothing.
func (uc CoordinatorUseCase) MaybeAdvanceTier(ctx context.Context, deliberationID string) error {
	logger := application.ResolveLogger(uc.Logger)
	deliberation, err := uc.Deliberations.GetDeliberation(ctx, strings.TrimSpace(deliberationID))
	if err != nil {
		return err
	}
	if deliberation.Phase != entities.PhaseVoting {
		return nil
	}
	now := uc.Clock.Now()
	tier := deliberation.CurrentTier

	cells, err := uc.Cells.ListCellsByTier(ctx, deliberation.DeliberationID, tier)
	if err != nil {
		return err
	}
	open := 0
	for _, cell := range cells {
		if cell.Open() {
			open++
		}
	}
	if open > 0 {
		return uc.pressStragglers(ctx, deliberation, cells, open, now)
	}

	// Recycled ideas re-enter the same tier while enough remain for a viable
	// cell; a sub-minimum leftover advances unopposed instead of waiting for
	// reinforcements that will never come.
	pool, err := uc.Ideas.ListPackableIdeas(ctx, deliberation.DeliberationID, tier, uc.Config.RetryCap)
	if err != nil {
		return err
	}
	if len(pool) >= uc.Config.MinCellSize {
		// Recycled cells stay on the tier's clock and reseat the opening roster.
		tierRecord, _, err := uc.Tiers.GetTier(ctx, deliberation.DeliberationID, tier)
		if err != nil {
			return err
		}
		rerun, err := formCells(ctx, formCellsInput{
			Deliberation: deliberation,
			Tier:         tier,
			Pool:         pool,
			Participants: deliberation.Participants,
			MustVoteIDs:  deliberation.MustVoteIDs,
			Deadline:     tierRecord.Deadline,
			Now:          now,
			Config:       uc.Config,
			Ideas:        uc.Ideas,
			Cells:        uc.Cells,
			IDGen:        uc.IDGen,
		})
		if err != nil {
			return err
		}
		logger.Info("recycle pass formed cells",
			"event", "engine_tier_recycle_pass",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberation.DeliberationID,
			"tier", tier,
			"cell_count", len(rerun),
		)
		return nil
	}
	for _, idea := range pool {
		idea.Status = entities.IdeaStatusAdvancing
		idea.Tier = tier + 1
		idea.UpdatedAt = now
		if err := uc.Ideas.UpdateIdea(ctx, idea); err != nil {
			return err
		}
	}

	if err := uc.Tiers.UpsertTier(ctx, entities.Tier{
		DeliberationID: deliberation.DeliberationID,
		Number:         tier,
		Status:         entities.TierStatusComplete,
		StartedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return err
	}
	if err := uc.appendCoordinatorEvent(ctx, "tier_complete", deliberation, now, map[string]any{
		"tier": tier,
	}); err != nil {
		return err
	}
	logger.Info("tier complete",
		"event", "engine_tier_complete",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberation.DeliberationID,
		"tier", tier,
	)
	return uc.openNextTier(ctx, deliberation, tier+1, now)
}

// pressStragglers applies the supermajority rule: once enough of a tier's
// cells have closed, the remaining open cells get a hard deadline so a single
// slow cell cannot stall the tier indefinitely.
func (uc CoordinatorUseCase) pressStragglers(
	ctx context.Context,
	deliberation entities.Deliberation,
	cells []entities.Cell,
	open int,
	now time.Time,
) error {
	if len(cells) < 2 {
		return nil
	}
	closedFraction := float64(len(cells)-open) / float64(len(cells))
	if closedFraction < uc.Config.SupermajorityFraction {
		return nil
	}
	cutoff := now.Add(uc.Config.SupermajorityDelay)
	logger := application.ResolveLogger(uc.Logger)
	for _, cell := range cells {
		if !cell.Open() {
			continue
		}
		if cell.VotingDeadline != nil && cell.VotingDeadline.Before(cutoff) {
			continue
		}
		deadline := cutoff
		cell.VotingDeadline = &deadline
		if err := uc.Cells.UpdateCell(ctx, cell, cell.Version); err != nil {
			if errors.Is(err, domainerrors.ErrConflict) {
				continue
			}
			return err
		}
		logger.Info("straggler cell deadline set",
			"event", "engine_supermajority_deadline_set",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberation.DeliberationID,
			"cell_id", cell.CellID,
			"tier", cell.Tier,
		)
	}
	return nil
}

// openNextTier seeds the next round from the advancing pool, or ends the
// deliberation when the pool has collapsed to one idea or none.
func (uc CoordinatorUseCase) openNextTier(
	ctx context.Context,
	deliberation entities.Deliberation,
	tier int,
	now time.Time,
) error {
	logger := application.ResolveLogger(uc.Logger)
	pool, err := uc.Ideas.ListPackableIdeas(ctx, deliberation.DeliberationID, tier, uc.Config.RetryCap)
	if err != nil {
		return err
	}
	switch {
	case len(pool) == 0:
		deliberation.Phase = entities.PhaseCompleted
		deliberation.UpdatedAt = now
		if err := uc.Deliberations.UpdateDeliberation(ctx, deliberation); err != nil {
			return err
		}
		if err := uc.appendCoordinatorEvent(ctx, "deliberation_completed", deliberation, now, map[string]any{
			"winner": false,
		}); err != nil {
			return err
		}
		logger.Warn("deliberation completed without a winner",
			"event", "engine_deliberation_exhausted",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberation.DeliberationID,
		)
		return nil
	case len(pool) == 1:
		return uc.declareWinner(ctx, deliberation, pool[0], now)
	}

	final := len(pool) <= uc.Config.MaxCellSize
	cells, err := formCells(ctx, formCellsInput{
		Deliberation: deliberation,
		Tier:         tier,
		Pool:         pool,
		Participants: deliberation.Participants,
		MustVoteIDs:  deliberation.MustVoteIDs,
		FinalVote:    final,
		Now:          now,
		Config:       uc.Config,
		Ideas:        uc.Ideas,
		Cells:        uc.Cells,
		IDGen:        uc.IDGen,
	})
	if err != nil {
		return err
	}
	if err := uc.Tiers.UpsertTier(ctx, entities.Tier{
		DeliberationID: deliberation.DeliberationID,
		Number:         tier,
		Status:         entities.TierStatusOpen,
		StartedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return err
	}
	deliberation.CurrentTier = tier
	deliberation.UpdatedAt = now
	if err := uc.Deliberations.UpdateDeliberation(ctx, deliberation); err != nil {
		return err
	}
	if err := uc.appendCoordinatorEvent(ctx, "tier_opened", deliberation, now, map[string]any{
		"tier":       tier,
		"cell_count": len(cells),
		"final_vote": final,
	}); err != nil {
		return err
	}
	logger.Info("tier opened",
		"event", "engine_tier_opened",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberation.DeliberationID,
		"tier", tier,
		"cell_count", len(cells),
		"final_vote", final,
	)
	return nil
}

func (uc CoordinatorUseCase) declareWinner(
	ctx context.Context,
	deliberation entities.Deliberation,
	idea entities.Idea,
	now time.Time,
) error {
	logger := application.ResolveLogger(uc.Logger)
	idea.Status = entities.IdeaStatusWinner
	idea.UpdatedAt = now
	if err := uc.Ideas.UpdateIdea(ctx, idea); err != nil {
		return err
	}
	champion := entities.Champion{
		DeliberationID: deliberation.DeliberationID,
		IdeaID:         idea.IdeaID,
		TotalTiers:     deliberation.CurrentTier,
		TotalVoters:    idea.TotalVoters,
		DeclaredAt:     now,
	}
	if err := uc.Deliberations.SaveChampion(ctx, champion); err != nil {
		return err
	}
	if deliberation.RollingMode {
		deliberation.Phase = entities.PhaseAccumulating
	} else {
		deliberation.Phase = entities.PhaseCompleted
	}
	deliberation.UpdatedAt = now
	if err := uc.Deliberations.UpdateDeliberation(ctx, deliberation); err != nil {
		return err
	}
	if err := uc.appendCoordinatorEvent(ctx, "winner_declared", deliberation, now, map[string]any{
		"idea_id":      idea.IdeaID,
		"total_tiers":  champion.TotalTiers,
		"total_voters": champion.TotalVoters,
	}); err != nil {
		return err
	}
	logger.Info("winner declared",
		"event", "engine_winner_declared",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberation.DeliberationID,
		"idea_id", idea.IdeaID,
		"total_tiers", champion.TotalTiers,
	)
	return nil
}

// TriggerChallengeRound moves an accumulating rolling-mode deliberation back
// into voting: the champion defends its title in a final-vote cell against the
// challengers gathered since the last round. Challengers beyond the cell's
// capacity go to the bench and rejoin the pool next round.
func (uc CoordinatorUseCase) TriggerChallengeRound(ctx context.Context, cmd TriggerChallengeRoundCommand) (entities.Cell, error) {
	logger := application.ResolveLogger(uc.Logger)
	deliberationID := strings.TrimSpace(cmd.DeliberationID)
	if deliberationID == "" {
		return entities.Cell{}, domainerrors.ErrInvalidInput
	}
	deliberation, err := uc.Deliberations.GetDeliberation(ctx, deliberationID)
	if err != nil {
		return entities.Cell{}, err
	}
	if !deliberation.RollingMode || deliberation.Phase != entities.PhaseAccumulating {
		return entities.Cell{}, domainerrors.ErrPhaseClosed
	}
	champion, found, err := uc.Deliberations.GetChampion(ctx, deliberationID)
	if err != nil {
		return entities.Cell{}, err
	}
	if !found {
		return entities.Cell{}, domainerrors.ErrIdeaNotFound
	}

	now := uc.Clock.Now()
	challengers, err := uc.challengerPool(ctx, deliberationID)
	if err != nil {
		return entities.Cell{}, err
	}
	if len(challengers) == 0 {
		return entities.Cell{}, domainerrors.ErrInvalidInput
	}

	tier := deliberation.CurrentTier + 1
	incumbent, err := uc.Ideas.GetIdea(ctx, champion.IdeaID)
	if err != nil {
		return entities.Cell{}, err
	}
	incumbent.Status = entities.IdeaStatusDefending
	incumbent.Tier = tier
	incumbent.UpdatedAt = now
	if err := uc.Ideas.UpdateIdea(ctx, incumbent); err != nil {
		return entities.Cell{}, err
	}

	seats := uc.Config.MaxCellSize - 1
	for i, challenger := range challengers {
		if i < seats {
			challenger.Status = entities.IdeaStatusQueued
			challenger.Tier = tier
		} else {
			challenger.Status = entities.IdeaStatusBenched
		}
		challenger.UpdatedAt = now
		if err := uc.Ideas.UpdateIdea(ctx, challenger); err != nil {
			return entities.Cell{}, err
		}
	}

	pool, err := uc.Ideas.ListPackableIdeas(ctx, deliberationID, tier, uc.Config.RetryCap)
	if err != nil {
		return entities.Cell{}, err
	}
	cells, err := formCells(ctx, formCellsInput{
		Deliberation: deliberation,
		Tier:         tier,
		Pool:         pool,
		Participants: deliberation.Participants,
		MustVoteIDs:  deliberation.MustVoteIDs,
		FinalVote:    true,
		Deadline:     cmd.Deadline,
		Now:          now,
		Config:       uc.Config,
		Ideas:        uc.Ideas,
		Cells:        uc.Cells,
		IDGen:        uc.IDGen,
	})
	if err != nil {
		return entities.Cell{}, err
	}
	if err := uc.Tiers.UpsertTier(ctx, entities.Tier{
		DeliberationID: deliberationID,
		Number:         tier,
		Status:         entities.TierStatusOpen,
		StartedAt:      now,
		Deadline:       cmd.Deadline,
		UpdatedAt:      now,
	}); err != nil {
		return entities.Cell{}, err
	}

	deliberation.Phase = entities.PhaseVoting
	deliberation.CurrentTier = tier
	deliberation.UpdatedAt = now
	if err := uc.Deliberations.UpdateDeliberation(ctx, deliberation); err != nil {
		return entities.Cell{}, err
	}
	if err := uc.appendCoordinatorEvent(ctx, "challenge_round_started", deliberation, now, map[string]any{
		"tier":             tier,
		"champion_idea_id": champion.IdeaID,
		"challenger_count": len(pool) - 1,
	}); err != nil {
		return entities.Cell{}, err
	}
	logger.Info("challenge round started",
		"event", "engine_challenge_round_started",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberationID,
		"tier", tier,
		"champion_idea_id", champion.IdeaID,
		"challenger_count", len(pool)-1,
	)
	return cells[0], nil
}

// challengerPool gathers queued first-tier submissions plus previously benched
// challengers, oldest first.
func (uc CoordinatorUseCase) challengerPool(ctx context.Context, deliberationID string) ([]entities.Idea, error) {
	queued, err := uc.Ideas.ListIdeasByStatus(ctx, deliberationID, entities.IdeaStatusQueued)
	if err != nil {
		return nil, err
	}
	benched, err := uc.Ideas.ListIdeasByStatus(ctx, deliberationID, entities.IdeaStatusBenched)
	if err != nil {
		return nil, err
	}
	pool := append(benched, queued...)
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].CreatedAt.Equal(pool[j].CreatedAt) {
			return pool[i].IdeaID < pool[j].IdeaID
		}
		return pool[i].CreatedAt.Before(pool[j].CreatedAt)
	})
	return pool, nil
}

func (uc CoordinatorUseCase) appendCoordinatorEvent(
	ctx context.Context,
	eventType string,
	deliberation entities.Deliberation,
	occurredAt time.Time,
	data map[string]any,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"deliberation_id": deliberation.DeliberationID,
		"phase":           string(deliberation.Phase),
		"occurred_at":     occurredAt.Format(time.RFC3339),
	}
	for key, value := range data {
		payload[key] = value
	}
	envelope, err := newEngineEnvelope(eventID, eventType, deliberation.DeliberationID, occurredAt, payload)
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

type formCellsInput struct {
	Deliberation entities.Deliberation
	Tier         int
	Pool         []entities.Idea
	Participants []string
	MustVoteIDs  []string
	FinalVote    bool
	Deadline     *time.Time
	Now          time.Time
	Config       entities.EngineConfig
	Ideas        ports.IdeaRepository
	Cells        ports.CellRepository
	IDGen        ports.IDGenerator
}

// formCells cuts the pool into cells, seats participants for balanced
// allocation, and flips every packed idea to IN_VOTING with its presentation
// counter bumped. A pool too small for the standard packer still forms one
// undersized cell, promoted to a final vote: a two-idea showdown decides the
// deliberation, it cannot feed another tier.
func formCells(ctx context.Context, in formCellsInput) ([]entities.Cell, error) {
	groups := services.PackIdeas(in.Pool, in.Tier, in.Config)
	if len(groups) == 0 {
		if len(in.Pool) < 2 {
			return nil, domainerrors.ErrInvalidInput
		}
		group := make([]string, 0, len(in.Pool))
		for _, idea := range in.Pool {
			group = append(group, idea.IdeaID)
		}
		groups = [][]string{group}
		in.FinalVote = true
	}

	var seated [][]string
	if in.Deliberation.AllocationMode == entities.AllocationBalanced && len(in.Participants) > 0 {
		authorByIdea := make(map[string]string, len(in.Pool))
		for _, idea := range in.Pool {
			authorByIdea[idea.IdeaID] = idea.AuthorID
		}
		seated = services.AssignParticipants(groups, in.Participants, authorByIdea)
	}
	mustVote := make(map[string]struct{}, len(in.MustVoteIDs))
	for _, id := range in.MustVoteIDs {
		mustVote[id] = struct{}{}
	}

	cells := make([]entities.Cell, 0, len(groups))
	for i, group := range groups {
		cellID, err := in.IDGen.NewID(ctx)
		if err != nil {
			return nil, err
		}
		cell := entities.Cell{
			CellID:         cellID,
			DeliberationID: in.Deliberation.DeliberationID,
			Tier:           in.Tier,
			Status:         entities.CellStatusVoting,
			IdeaIDs:        group,
			VotesNeeded:    in.Config.TargetVotersPerCell,
			IsFinalVote:    in.FinalVote,
			CreatedAt:      in.Now,
			VotingDeadline: in.Deadline,
			Version:        1,
		}
		if seated != nil {
			cell.ParticipantIDs = seated[i]
			for _, participantID := range cell.ParticipantIDs {
				if _, ok := mustVote[participantID]; ok {
					cell.MustVoteIDs = append(cell.MustVoteIDs, participantID)
				}
			}
		}
		if in.FinalVote {
			until := in.Now.Add(in.Config.HumanPriorityWindow)
			cell.HumanPriorityUntil = &until
		}
		cells = append(cells, cell)
	}
	if err := in.Cells.CreateCells(ctx, cells); err != nil {
		return nil, err
	}

	packed := make(map[string]struct{})
	for _, group := range groups {
		for _, ideaID := range group {
			packed[ideaID] = struct{}{}
		}
	}
	for _, idea := range in.Pool {
		if _, ok := packed[idea.IdeaID]; !ok {
			continue
		}
		idea.Status = entities.IdeaStatusInVoting
		idea.Tier = in.Tier
		idea.TimesPresented++
		idea.UpdatedAt = in.Now
		if err := in.Ideas.UpdateIdea(ctx, idea); err != nil {
			return nil, err
		}
	}
	return cells, nil
}
