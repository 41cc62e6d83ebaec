package workers

import (
	"context"
	"errors"
	"log/slog"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/application/commands"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/ports"
)

// GraceFinalizer executes scheduled cell finalizations. Cells park in
// DELIBERATING with a due time instead of holding an in-process timer, so a
// restart or a second instance never loses or duplicates a finalize.
type GraceFinalizer struct {
	Cells       ports.CellRepository
	Finalizer   commands.FinalizeUseCase
	Coordinator commands.CoordinatorUseCase
	Clock       ports.Clock
	BatchSize   int
	Logger      *slog.Logger
}

// RunOnce finalizes every cell whose grace window has elapsed, then gives the
// coordinator a chance to advance each affected deliberation.
func (w GraceFinalizer) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(w.Logger)
	limit := w.BatchSize
	if limit <= 0 {
		limit = 50
	}
	due, err := w.Cells.ListFinalizableCells(ctx, w.Clock.Now(), limit)
	if err != nil {
		logger.Error("finalizable cell listing failed",
			"event", "engine_grace_finalizer_list_failed",
			"module", "deliberation/engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	touched := make(map[string]struct{})
	for _, cell := range due {
		result, err := w.Finalizer.FinalizeCell(ctx, cell.CellID)
		if err != nil {
			// A cell that slipped back out of its window is a race loser,
			// not a failure.
			if errors.Is(err, domainerrors.ErrCellClosed) {
				continue
			}
			logger.Error("scheduled finalize failed",
				"event", "engine_grace_finalize_failed",
				"module", "deliberation/engine",
				"layer", "worker",
				"cell_id", cell.CellID,
				"error", err.Error(),
			)
			return err
		}
		if result.Finalized {
			touched[cell.DeliberationID] = struct{}{}
		}
	}
	for deliberationID := range touched {
		if err := w.Coordinator.MaybeAdvanceTier(ctx, deliberationID); err != nil {
			logger.Error("tier advancement failed",
				"event", "engine_grace_advance_failed",
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
