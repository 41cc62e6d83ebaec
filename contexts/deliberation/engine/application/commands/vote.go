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
	"chant/contexts/deliberation/engine/ports"
)

// ReserveSeatCommand requests a time-boxed claim on one of a cell's open
// voting seats.
type ReserveSeatCommand struct {
	CellID        string
	ParticipantID string
}

// CastVoteCommand carries a participant's full point allocation for one cell.
// Resubmitting replaces any earlier ballot wholesale.
type CastVoteCommand struct {
	CellID        string
	ParticipantID string
	Allocations   []entities.Allocation
	Automated     bool
}

// CastVoteResult reports the stored ballot and whether this vote pushed the
// cell to quorum, which opens the grace window.
type CastVoteResult struct {
	Ballot       entities.Ballot
	CellComplete bool
	FinalizesAt  *time.Time
}

// VoteUseCase orchestrates seat claims and ballot writes. Ballot replacement
// is atomic at the repository and cell-state transitions use optimistic
// version checks, so concurrent voters never corrupt a tally.
type VoteUseCase struct {
	Cells        ports.CellRepository
	Ballots      ports.BallotRepository
	Reservations ports.ReservationRepository
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	Config       entities.EngineConfig
	Logger       *slog.Logger
}

// ReserveSeat claims a seat so two participants cannot both take the last
// slot. The claim expires on its own if no ballot follows; re-reserving while
// a claim is live returns the existing claim.
func (uc VoteUseCase) ReserveSeat(ctx context.Context, cmd ReserveSeatCommand) (entities.Reservation, error) {
	logger := application.ResolveLogger(uc.Logger)
	cellID := strings.TrimSpace(cmd.CellID)
	participantID := strings.TrimSpace(cmd.ParticipantID)
	if cellID == "" || participantID == "" {
		return entities.Reservation{}, domainerrors.ErrInvalidInput
	}

	cell, err := uc.Cells.GetCell(ctx, cellID)
	if err != nil {
		return entities.Reservation{}, err
	}
	now := uc.Clock.Now()
	if cell.Status != entities.CellStatusVoting || cell.DeadlinePassed(now) {
		return entities.Reservation{}, domainerrors.ErrCellClosed
	}
	if cell.HasParticipant(participantID) {
		return entities.Reservation{}, domainerrors.ErrInvalidInput
	}
	if len(cell.ParticipantIDs) > 0 {
		// Balanced cells carry a fixed roster; there is nothing to reserve.
		return entities.Reservation{}, domainerrors.ErrNotEligible
	}
	if existing, found, err := uc.Reservations.GetReservation(ctx, cellID, participantID); err != nil {
		return entities.Reservation{}, err
	} else if found && !existing.Expired(now) {
		return existing, nil
	}

	seatsTaken, err := uc.seatsTaken(ctx, cell, now)
	if err != nil {
		return entities.Reservation{}, err
	}
	reservation := entities.Reservation{
		ParticipantID: participantID,
		CellID:        cellID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(uc.Config.ReservationTTL),
	}
	claimed, err := uc.Reservations.ClaimSeat(ctx, reservation, cell.VotesNeeded, seatsTaken)
	if err != nil {
		return entities.Reservation{}, err
	}
	if !claimed {
		logger.Info("seat claim rejected",
			"event", "engine_seat_claim_rejected",
			"module", "deliberation/engine",
			"layer", "application",
			"cell_id", cellID,
			"participant_id", participantID,
		)
		return entities.Reservation{}, domainerrors.ErrCellFull
	}
	logger.Info("seat reserved",
		"event", "engine_seat_reserved",
		"module", "deliberation/engine",
		"layer", "application",
		"cell_id", cellID,
		"participant_id", participantID,
	)
	return reservation, nil
}

// CastVote validates and stores a participant's allocation. A first ballot
// needs a seat; a replacement rides the existing ballot, including during the
// post-quorum grace window. When the vote reaches quorum the cell moves to
// DELIBERATING and finalization is scheduled for after the grace window.
func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	cellID := strings.TrimSpace(cmd.CellID)
	participantID := strings.TrimSpace(cmd.ParticipantID)
	if cellID == "" || participantID == "" {
		return CastVoteResult{}, domainerrors.ErrInvalidInput
	}

	cell, err := uc.Cells.GetCell(ctx, cellID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if err := uc.validateAllocations(cmd.Allocations, cell); err != nil {
		logger.Warn("vote cast validation failed",
			"event", "engine_vote_cast_validation_failed",
			"module", "deliberation/engine",
			"layer", "application",
			"cell_id", cellID,
			"participant_id", participantID,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}

	now := uc.Clock.Now()
	if cell.Closed() {
		return CastVoteResult{}, domainerrors.ErrCellClosed
	}
	if cell.DeadlinePassed(now) {
		return CastVoteResult{}, domainerrors.ErrDeadlinePassed
	}
	if cmd.Automated && cell.IsFinalVote &&
		cell.HumanPriorityUntil != nil && now.Before(*cell.HumanPriorityUntil) {
		return CastVoteResult{}, domainerrors.ErrHumanPriority
	}

	_, revote, err := uc.Ballots.GetBallot(ctx, cellID, participantID)
	if err != nil {
		return CastVoteResult{}, err
	}
	hadReservation := false
	if !revote && !cell.HasParticipant(participantID) {
		hadReservation, err = uc.admitNewVoter(ctx, cell, participantID, now)
		if err != nil {
			return CastVoteResult{}, err
		}
	}

	ballot := entities.Ballot{
		CellID:        cellID,
		ParticipantID: participantID,
		Allocations:   cmd.Allocations,
		Automated:     cmd.Automated,
		VotedAt:       now,
	}
	distinctVoters, err := uc.Ballots.ReplaceBallot(ctx, ballot)
	if err != nil {
		return CastVoteResult{}, err
	}
	if hadReservation {
		if err := uc.Reservations.ReleaseReservation(ctx, cellID, participantID); err != nil {
			return CastVoteResult{}, err
		}
	}

	result := CastVoteResult{Ballot: ballot}
	if cell.Status == entities.CellStatusVoting && distinctVoters >= cell.VotesNeeded {
		finalizesAt, err := uc.openGraceWindow(ctx, cell, now)
		if err != nil {
			return CastVoteResult{}, err
		}
		result.CellComplete = true
		result.FinalizesAt = finalizesAt
	} else if cell.Status == entities.CellStatusDeliberating {
		result.CellComplete = true
		result.FinalizesAt = cell.FinalizesAt
	}

	if err := uc.appendVoteEvent(ctx, cell, ballot, distinctVoters, result.CellComplete, now); err != nil {
		return CastVoteResult{}, err
	}
	logger.Info("vote cast",
		"event", "engine_vote_cast",
		"module", "deliberation/engine",
		"layer", "application",
		"cell_id", cellID,
		"participant_id", participantID,
		"distinct_voters", distinctVoters,
		"cell_complete", result.CellComplete,
		"revote", revote,
	)
	return result, nil
}

// validateAllocations enforces the ballot shape: ideas inside the cell, no
// duplicates, positive points summing to the full budget. Legacy plurality
// reduces the ballot to a single one-point allocation.
func (uc VoteUseCase) validateAllocations(allocations []entities.Allocation, cell entities.Cell) error {
	if len(allocations) == 0 {
		return domainerrors.ErrInvalidInput
	}
	budget := uc.Config.PointBudget
	if uc.Config.LegacyPlurality {
		if len(allocations) != 1 {
			return domainerrors.ErrInvalidInput
		}
		budget = 1
	}
	seen := make(map[string]struct{}, len(allocations))
	total := 0
	for _, allocation := range allocations {
		if allocation.Points <= 0 {
			return domainerrors.ErrInvalidAllocationSum
		}
		if !cell.ContainsIdea(allocation.IdeaID) {
			return domainerrors.ErrIdeaNotInCell
		}
		if _, dup := seen[allocation.IdeaID]; dup {
			return domainerrors.ErrDuplicateIdea
		}
		seen[allocation.IdeaID] = struct{}{}
		total += allocation.Points
	}
	if total != budget {
		return domainerrors.ErrInvalidAllocationSum
	}
	return nil
}

// admitNewVoter checks the participant may take a first seat right now.
// Balanced cells admit only their assigned roster; FCFS cells admit anyone
// holding a live reservation or, while seats remain, by claiming one on the
// spot. The walk-up claim goes through ClaimSeat so two racers for the last
// seat cannot both be admitted; the implicit reservation is released once the
// ballot lands.
func (uc VoteUseCase) admitNewVoter(
	ctx context.Context,
	cell entities.Cell,
	participantID string,
	now time.Time,
) (bool, error) {
	if cell.Status != entities.CellStatusVoting {
		// Grace window: existing voters only.
		return false, domainerrors.ErrNotAParticipant
	}
	if len(cell.ParticipantIDs) > 0 {
		return false, domainerrors.ErrNotEligible
	}
	if reservation, found, err := uc.Reservations.GetReservation(ctx, cell.CellID, participantID); err != nil {
		return false, err
	} else if found && !reservation.Expired(now) {
		return true, nil
	}
	seatsTaken, err := uc.seatsTaken(ctx, cell, now)
	if err != nil {
		return false, err
	}
	reservation := entities.Reservation{
		ParticipantID: participantID,
		CellID:        cell.CellID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(uc.Config.ReservationTTL),
	}
	claimed, err := uc.Reservations.ClaimSeat(ctx, reservation, cell.VotesNeeded, seatsTaken)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, domainerrors.ErrCellFull
	}
	return true, nil
}

// seatsTaken counts occupied capacity: distinct voters plus live reservations.
func (uc VoteUseCase) seatsTaken(ctx context.Context, cell entities.Cell, now time.Time) (int, error) {
	voters, err := uc.Ballots.CountDistinctVoters(ctx, cell.CellID)
	if err != nil {
		return 0, err
	}
	reserved, err := uc.Reservations.CountActiveReservations(ctx, cell.CellID, now)
	if err != nil {
		return 0, err
	}
	return voters + reserved, nil
}

// openGraceWindow moves the cell to DELIBERATING and schedules finalization.
// Losing the version race means another voter got there first, which is fine:
// the window is already open.
func (uc VoteUseCase) openGraceWindow(ctx context.Context, cell entities.Cell, now time.Time) (*time.Time, error) {
	finalizesAt := now.Add(uc.Config.GraceWindow)
	cell.Status = entities.CellStatusDeliberating
	cell.FinalizesAt = &finalizesAt
	if err := uc.Cells.UpdateCell(ctx, cell, cell.Version); err != nil {
		if errors.Is(err, domainerrors.ErrConflict) {
			current, getErr := uc.Cells.GetCell(ctx, cell.CellID)
			if getErr != nil {
				return nil, getErr
			}
			return current.FinalizesAt, nil
		}
		return nil, err
	}
	return &finalizesAt, nil
}

func (uc VoteUseCase) appendVoteEvent(
	ctx context.Context,
	cell entities.Cell,
	ballot entities.Ballot,
	distinctVoters int,
	cellComplete bool,
	occurredAt time.Time,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newEngineEnvelope(eventID, "vote_cast", cell.DeliberationID, occurredAt, map[string]any{
		"deliberation_id": cell.DeliberationID,
		"cell_id":         cell.CellID,
		"participant_id":  ballot.ParticipantID,
		"tier":            cell.Tier,
		"distinct_voters": distinctVoters,
		"cell_complete":   cellComplete,
		"automated":       ballot.Automated,
		"occurred_at":     occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}
