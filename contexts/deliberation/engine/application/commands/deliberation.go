package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/ports"
)

// CreateDeliberationCommand is the write-model input for starting a new
// deliberation in its submission phase.
type CreateDeliberationCommand struct {
	Question       string
	RollingMode    bool
	OnePerAuthor   bool
	IdeaCap        int
	AllocationMode entities.AllocationMode
}

// OpenVotingCommand closes the submission phase and forms the first tier of
// cells. Participants and must-vote designations only matter for balanced
// allocation; FCFS cells fill through reservations instead.
type OpenVotingCommand struct {
	DeliberationID string
	Participants   []string
	MustVoteIDs    []string
	Deadline       *time.Time
}

// DeliberationUseCase orchestrates deliberation lifecycle commands: creation,
// the submission-to-voting transition, and first-tier cell formation.
type DeliberationUseCase struct {
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

// CreateDeliberation opens a deliberation in the submission phase. No cells
// exist until voting opens.
func (uc DeliberationUseCase) CreateDeliberation(ctx context.Context, cmd CreateDeliberationCommand) (entities.Deliberation, error) {
	logger := application.ResolveLogger(uc.Logger)
	question := strings.TrimSpace(cmd.Question)
	if question == "" {
		logger.Warn("deliberation create validation failed",
			"event", "engine_deliberation_create_validation_failed",
			"module", "deliberation/engine",
			"layer", "application",
		)
		return entities.Deliberation{}, domainerrors.ErrInvalidInput
	}
	if cmd.IdeaCap < 0 {
		return entities.Deliberation{}, domainerrors.ErrInvalidInput
	}
	mode := cmd.AllocationMode
	if mode == "" {
		mode = entities.AllocationFCFS
	}
	if mode != entities.AllocationFCFS && mode != entities.AllocationBalanced {
		return entities.Deliberation{}, domainerrors.ErrInvalidInput
	}

	now := uc.Clock.Now()
	deliberationID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Deliberation{}, err
	}
	deliberation := entities.Deliberation{
		DeliberationID: deliberationID,
		Question:       question,
		Phase:          entities.PhaseSubmission,
		CurrentTier:    0,
		RollingMode:    cmd.RollingMode,
		OnePerAuthor:   cmd.OnePerAuthor,
		IdeaCap:        cmd.IdeaCap,
		AllocationMode: mode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.Deliberations.CreateDeliberation(ctx, deliberation); err != nil {
		return entities.Deliberation{}, err
	}
	if err := uc.appendDeliberationEvent(ctx, "deliberation_created", deliberation, now, map[string]any{
		"question":     deliberation.Question,
		"rolling_mode": deliberation.RollingMode,
	}); err != nil {
		return entities.Deliberation{}, err
	}
	logger.Info("deliberation created",
		"event", "engine_deliberation_created",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberation.DeliberationID,
		"rolling_mode", deliberation.RollingMode,
	)
	return deliberation, nil
}

// OpenVoting freezes the submission queue and cuts tier-one cells from it.
// It fails when the queue cannot seed a contest: voting needs at least two
// ideas.
func (uc DeliberationUseCase) OpenVoting(ctx context.Context, cmd OpenVotingCommand) ([]entities.Cell, error) {
	logger := application.ResolveLogger(uc.Logger)
	deliberationID := strings.TrimSpace(cmd.DeliberationID)
	if deliberationID == "" {
		return nil, domainerrors.ErrInvalidInput
	}
	deliberation, err := uc.Deliberations.GetDeliberation(ctx, deliberationID)
	if err != nil {
		return nil, err
	}
	if deliberation.Phase != entities.PhaseSubmission {
		logger.Warn("voting open rejected",
			"event", "engine_voting_open_rejected",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberationID,
			"phase", string(deliberation.Phase),
		)
		return nil, domainerrors.ErrPhaseClosed
	}

	now := uc.Clock.Now()
	pool, err := uc.Ideas.ListPackableIdeas(ctx, deliberationID, 1, uc.Config.RetryCap)
	if err != nil {
		return nil, err
	}
	if len(pool) < 2 {
		return nil, domainerrors.ErrInvalidInput
	}

	cells, err := formCells(ctx, formCellsInput{
		Deliberation: deliberation,
		Tier:         1,
		Pool:         pool,
		Participants: cmd.Participants,
		MustVoteIDs:  cmd.MustVoteIDs,
		Deadline:     cmd.Deadline,
		Now:          now,
		Config:       uc.Config,
		Ideas:        uc.Ideas,
		Cells:        uc.Cells,
		IDGen:        uc.IDGen,
	})
	if err != nil {
		return nil, err
	}

	if err := uc.Tiers.UpsertTier(ctx, entities.Tier{
		DeliberationID: deliberationID,
		Number:         1,
		Status:         entities.TierStatusOpen,
		StartedAt:      now,
		Deadline:       cmd.Deadline,
		UpdatedAt:      now,
	}); err != nil {
		return nil, err
	}

	deliberation.Phase = entities.PhaseVoting
	deliberation.CurrentTier = 1
	// The roster outlives tier one: recycle passes and later tiers reseat the
	// same participants, so it is pinned on the deliberation itself.
	deliberation.Participants = cmd.Participants
	deliberation.MustVoteIDs = cmd.MustVoteIDs
	deliberation.UpdatedAt = now
	if err := uc.Deliberations.UpdateDeliberation(ctx, deliberation); err != nil {
		return nil, err
	}
	if err := uc.appendDeliberationEvent(ctx, "voting_opened", deliberation, now, map[string]any{
		"tier":       1,
		"cell_count": len(cells),
		"idea_count": len(pool),
	}); err != nil {
		return nil, err
	}
	logger.Info("voting opened",
		"event", "engine_voting_opened",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberationID,
		"tier", 1,
		"cell_count", len(cells),
		"idea_count", len(pool),
	)
	return cells, nil
}

// CloseDeliberation terminally closes a rolling-mode deliberation that is
// accumulating challengers. The sitting champion stands; parked challengers
// never get their round. Closing an already-completed deliberation is a no-op.
func (uc DeliberationUseCase) CloseDeliberation(ctx context.Context, deliberationID string) (entities.Deliberation, error) {
	logger := application.ResolveLogger(uc.Logger)
	deliberationID = strings.TrimSpace(deliberationID)
	if deliberationID == "" {
		return entities.Deliberation{}, domainerrors.ErrInvalidInput
	}
	deliberation, err := uc.Deliberations.GetDeliberation(ctx, deliberationID)
	if err != nil {
		return entities.Deliberation{}, err
	}
	if deliberation.Phase == entities.PhaseCompleted {
		return deliberation, nil
	}
	if !deliberation.RollingMode || deliberation.Phase != entities.PhaseAccumulating {
		logger.Warn("deliberation close rejected",
			"event", "engine_deliberation_close_rejected",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberationID,
			"phase", string(deliberation.Phase),
		)
		return entities.Deliberation{}, domainerrors.ErrPhaseClosed
	}

	now := uc.Clock.Now()
	deliberation.Phase = entities.PhaseCompleted
	deliberation.UpdatedAt = now
	if err := uc.Deliberations.UpdateDeliberation(ctx, deliberation); err != nil {
		return entities.Deliberation{}, err
	}
	if err := uc.appendDeliberationEvent(ctx, "deliberation_closed", deliberation, now, nil); err != nil {
		return entities.Deliberation{}, err
	}
	logger.Info("deliberation closed",
		"event", "engine_deliberation_closed",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberationID,
	)
	return deliberation, nil
}

func (uc DeliberationUseCase) appendDeliberationEvent(
	ctx context.Context,
	eventType string,
	deliberation entities.Deliberation,
	occurredAt time.Time,
	data map[string]any,
) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
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
