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

// SubmitIdeaCommand is the write-model input for idea submission.
type SubmitIdeaCommand struct {
	DeliberationID string
	AuthorID       string
	Text           string
}

// IdeaUseCase handles idea intake: phase gating, per-author limits, the idea
// cap, and exact-duplicate rejection.
type IdeaUseCase struct {
	Deliberations ports.DeliberationRepository
	Ideas         ports.IdeaRepository
	Outbox        ports.OutboxWriter
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Config        entities.EngineConfig
	Logger        *slog.Logger
}

// SubmitIdea accepts an idea into the queue. Submission-phase deliberations
// always accept; a rolling-mode deliberation also accepts while accumulating,
// where new ideas become challengers for the next round.
func (uc IdeaUseCase) SubmitIdea(ctx context.Context, cmd SubmitIdeaCommand) (entities.Idea, error) {
	logger := application.ResolveLogger(uc.Logger)
	deliberationID := strings.TrimSpace(cmd.DeliberationID)
	authorID := strings.TrimSpace(cmd.AuthorID)
	text := strings.TrimSpace(cmd.Text)
	if deliberationID == "" || authorID == "" || text == "" {
		logger.Warn("idea submit validation failed",
			"event", "engine_idea_submit_validation_failed",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberationID,
			"author_id", authorID,
		)
		return entities.Idea{}, domainerrors.ErrInvalidInput
	}

	deliberation, err := uc.Deliberations.GetDeliberation(ctx, deliberationID)
	if err != nil {
		return entities.Idea{}, err
	}
	accepting := deliberation.Phase == entities.PhaseSubmission ||
		(deliberation.RollingMode && deliberation.Phase == entities.PhaseAccumulating)
	if !accepting {
		logger.Warn("idea submit rejected",
			"event", "engine_idea_submit_phase_closed",
			"module", "deliberation/engine",
			"layer", "application",
			"deliberation_id", deliberationID,
			"phase", string(deliberation.Phase),
		)
		return entities.Idea{}, domainerrors.ErrPhaseClosed
	}

	if deliberation.IdeaCap > 0 {
		count, err := uc.Ideas.CountIdeas(ctx, deliberationID)
		if err != nil {
			return entities.Idea{}, err
		}
		if count >= deliberation.IdeaCap {
			return entities.Idea{}, domainerrors.ErrCapacityExceeded
		}
	}
	if deliberation.OnePerAuthor {
		count, err := uc.Ideas.CountIdeasByAuthor(ctx, deliberationID, authorID)
		if err != nil {
			return entities.Idea{}, err
		}
		if count > 0 {
			return entities.Idea{}, domainerrors.ErrDuplicateSubmission
		}
	}
	if _, found, err := uc.Ideas.GetIdeaByContent(ctx, deliberationID, text); err != nil {
		return entities.Idea{}, err
	} else if found {
		return entities.Idea{}, domainerrors.ErrDuplicateSubmission
	}

	now := uc.Clock.Now()
	ideaID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Idea{}, err
	}
	idea := entities.Idea{
		IdeaID:         ideaID,
		DeliberationID: deliberationID,
		AuthorID:       authorID,
		Text:           text,
		Status:         entities.IdeaStatusQueued,
		Tier:           1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.Ideas.CreateIdea(ctx, idea); err != nil {
		return entities.Idea{}, err
	}
	if err := uc.appendIdeaEvent(ctx, "idea_submitted", idea, now); err != nil {
		return entities.Idea{}, err
	}
	logger.Info("idea submitted",
		"event", "engine_idea_submitted",
		"module", "deliberation/engine",
		"layer", "application",
		"deliberation_id", deliberationID,
		"idea_id", idea.IdeaID,
		"author_id", authorID,
		"phase", string(deliberation.Phase),
	)
	return idea, nil
}

func (uc IdeaUseCase) appendIdeaEvent(
	ctx context.Context,
	eventType string,
	idea entities.Idea,
	occurredAt time.Time,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newEngineEnvelope(eventID, eventType, idea.DeliberationID, occurredAt, map[string]any{
		"deliberation_id": idea.DeliberationID,
		"idea_id":         idea.IdeaID,
		"author_id":       idea.AuthorID,
		"status":          string(idea.Status),
		"occurred_at":     occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}
