package workers

import (
	"context"
	"log/slog"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/application/commands"
	"chant/contexts/deliberation/engine/ports"
)

// DeadlineEnforcer handles cells whose voting deadline passed before quorum:
// force-evaluation with whatever ballots exist, the one-time must-vote
// extension, or abandonment when too few voted.
type DeadlineEnforcer struct {
	Cells       ports.CellRepository
	Finalizer   commands.FinalizeUseCase
	Coordinator commands.CoordinatorUseCase
	Clock       ports.Clock
	BatchSize   int
	Logger      *slog.Logger
}

// RunOnce enforces one batch of expired deadlines and nudges the coordinator
// for every deliberation whose cells closed as a result.
func (w DeadlineEnforcer) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(w.Logger)
	limit := w.BatchSize
	if limit <= 0 {
		limit = 50
	}
	expired, err := w.Cells.ListExpiredCells(ctx, w.Clock.Now(), limit)
	if err != nil {
		logger.Error("expired cell listing failed",
			"event", "engine_deadline_list_failed",
			"module", "deliberation/engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	touched := make(map[string]struct{})
	for _, cell := range expired {
		result, err := w.Finalizer.EnforceDeadline(ctx, cell.CellID)
		if err != nil {
			logger.Error("deadline enforcement failed",
				"event", "engine_deadline_enforce_failed",
				"module", "deliberation/engine",
				"layer", "worker",
				"cell_id", cell.CellID,
				"error", err.Error(),
			)
			return err
		}
		if result.Finalized || result.Abandoned {
			touched[cell.DeliberationID] = struct{}{}
		}
	}
	for deliberationID := range touched {
		if err := w.Coordinator.MaybeAdvanceTier(ctx, deliberationID); err != nil {
			logger.Error("tier advancement failed",
				"event", "engine_deadline_advance_failed",
				"module", "deliberation/engine",
				"layer", "worker",
				"deliberation_id", deliberationID,
				"error", err.Error(),
			)
			return err
		}
	}
	return nil
}
