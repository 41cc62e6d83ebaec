package errors

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDeliberationNotFound = errors.New("deliberation not found")
	ErrIdeaNotFound         = errors.New("idea not found")
	ErrCellNotFound         = errors.New("cell not found")
	ErrCommentNotFound      = errors.New("comment not found")

	ErrPhaseClosed         = errors.New("deliberation phase does not accept this operation")
	ErrDuplicateSubmission = errors.New("author already submitted an idea")
	ErrCapacityExceeded    = errors.New("idea cap reached")

	ErrCellFull        = errors.New("cell has no open seats")
	ErrNotEligible     = errors.New("participant is not eligible for this cell")
	ErrNotAParticipant = errors.New("participant holds no seat in this cell")

	ErrInvalidAllocationSum = errors.New("allocation points must sum to the full budget")
	ErrDuplicateIdea        = errors.New("allocation lists an idea more than once")
	ErrIdeaNotInCell        = errors.New("allocation references an idea outside the cell")
	ErrDeadlinePassed       = errors.New("voting deadline has passed")
	ErrCellClosed           = errors.New("cell is no longer voting")
	ErrHumanPriority        = errors.New("final vote is reserved for human voters")

	// ErrConflict marks concurrent write contention; callers retry the whole
	// operation, the engine never partially applies a conflicting write.
	ErrConflict = errors.New("write conflict")
)
