package workers

import (
	"context"
	"log/slog"

	application "chant/contexts/deliberation/engine/application"
	"chant/contexts/deliberation/engine/ports"
)

// ReservationSweeper removes expired seat reservations so their capacity
// returns to the pool. Sweeps run on a fixed interval; the expiry check itself
// also happens inline on reads, so a late sweep never admits a stale claim.
type ReservationSweeper struct {
	Reservations ports.ReservationRepository
	Clock        ports.Clock
	BatchSize    int
	Logger       *slog.Logger
}

// RunOnce sweeps one bounded batch of expired reservations.
func (w ReservationSweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(w.Logger)
	limit := w.BatchSize
	if limit <= 0 {
		limit = 100
	}
	swept, err := w.Reservations.SweepExpired(ctx, w.Clock.Now(), limit)
	if err != nil {
		logger.Error("reservation sweep failed",
			"event", "engine_reservation_sweep_failed",
			"module", "deliberation/engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(swept) == 0 {
		return nil
	}
	for _, reservation := range swept {
		logger.Info("expired reservation swept",
			"event", "engine_reservation_swept",
			"module", "deliberation/engine",
			"layer", "worker",
			"cell_id", reservation.CellID,
			"participant_id", reservation.ParticipantID,
		)
	}
	return nil
}
