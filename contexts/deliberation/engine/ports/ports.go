package ports

import (
	"context"
	"time"

	contractsv1 "chant/contracts/gen/events/v1"
	"chant/contexts/deliberation/engine/domain/entities"
)

type DeliberationRepository interface {
	CreateDeliberation(ctx context.Context, deliberation entities.Deliberation) error
	GetDeliberation(ctx context.Context, deliberationID string) (entities.Deliberation, error)
	UpdateDeliberation(ctx context.Context, deliberation entities.Deliberation) error
	ListDeliberations(ctx context.Context, limit int, offset int) ([]entities.Deliberation, error)
	SaveChampion(ctx context.Context, champion entities.Champion) error
	GetChampion(ctx context.Context, deliberationID string) (entities.Champion, bool, error)
}

type IdeaRepository interface {
	CreateIdea(ctx context.Context, idea entities.Idea) error
	GetIdea(ctx context.Context, ideaID string) (entities.Idea, error)
	GetIdeaByContent(ctx context.Context, deliberationID string, text string) (entities.Idea, bool, error)
	UpdateIdea(ctx context.Context, idea entities.Idea) error
	ListIdeasByDeliberation(ctx context.Context, deliberationID string) ([]entities.Idea, error)
	ListIdeasByStatus(ctx context.Context, deliberationID string, status entities.IdeaStatus) ([]entities.Idea, error)
	// ListPackableIdeas returns ideas waiting to enter a cell at the given
	// tier, ordered by submission time then id. Recycled ideas that have hit
	// the retry cap are excluded.
	ListPackableIdeas(ctx context.Context, deliberationID string, tier int, retryCap int) ([]entities.Idea, error)
	CountIdeasByAuthor(ctx context.Context, deliberationID string, authorID string) (int, error)
	CountIdeas(ctx context.Context, deliberationID string) (int, error)
}

type CellRepository interface {
	CreateCells(ctx context.Context, cells []entities.Cell) error
	GetCell(ctx context.Context, cellID string) (entities.Cell, error)
	// UpdateCell applies the write only if the stored version still equals
	// expectedVersion, then bumps it. Returns the domain conflict error on a
	// lost race.
	UpdateCell(ctx context.Context, cell entities.Cell, expectedVersion int64) error
	// ClaimCompletion atomically moves an open cell to COMPLETED and reports
	// whether this caller won the claim. Exactly one concurrent finalizer
	// observes true.
	ClaimCompletion(ctx context.Context, cellID string, completedAt time.Time) (bool, error)
	// ClaimAbandonment is the failure-path twin of ClaimCompletion.
	ClaimAbandonment(ctx context.Context, cellID string, abandonedAt time.Time) (bool, error)
	ListCellsByTier(ctx context.Context, deliberationID string, tier int) ([]entities.Cell, error)
	ListOpenCells(ctx context.Context, deliberationID string) ([]entities.Cell, error)
	// ListFinalizableCells returns deliberating cells whose grace window has
	// elapsed at now.
	ListFinalizableCells(ctx context.Context, now time.Time, limit int) ([]entities.Cell, error)
	// ListExpiredCells returns voting cells whose deadline has passed at now.
	ListExpiredCells(ctx context.Context, now time.Time, limit int) ([]entities.Cell, error)
}

type BallotRepository interface {
	// ReplaceBallot upserts the participant's full allocation set for the cell
	// in one atomic step and returns the distinct voter count after the write.
	ReplaceBallot(ctx context.Context, ballot entities.Ballot) (int, error)
	GetBallot(ctx context.Context, cellID string, participantID string) (entities.Ballot, bool, error)
	ListBallotsByCell(ctx context.Context, cellID string) ([]entities.Ballot, error)
	CountDistinctVoters(ctx context.Context, cellID string) (int, error)
}

type ReservationRepository interface {
	// ClaimSeat inserts the reservation only if the cell's combined seat usage
	// (participants, live reservations, ballots) stays within capacity.
	// Returns false when the cell is full.
	ClaimSeat(ctx context.Context, reservation entities.Reservation, capacity int, seatsTaken int) (bool, error)
	GetReservation(ctx context.Context, cellID string, participantID string) (entities.Reservation, bool, error)
	ReleaseReservation(ctx context.Context, cellID string, participantID string) error
	CountActiveReservations(ctx context.Context, cellID string, now time.Time) (int, error)
	// SweepExpired removes reservations past their expiry and returns what was
	// removed so callers can log and re-open seats.
	SweepExpired(ctx context.Context, now time.Time, limit int) ([]entities.Reservation, error)
}

type CommentRepository interface {
	CreateComment(ctx context.Context, comment entities.Comment) error
	GetComment(ctx context.Context, commentID string) (entities.Comment, error)
	// UpvoteComment increments the count and raises the stored reach tier to
	// reachTier if higher, atomically, returning the updated comment.
	UpvoteComment(ctx context.Context, commentID string, reachTier int, updatedAt time.Time) (entities.Comment, error)
	ListCommentsByCell(ctx context.Context, cellID string) ([]entities.Comment, error)
	ListCommentsByIdea(ctx context.Context, ideaID string) ([]entities.Comment, error)
}

type TierRepository interface {
	UpsertTier(ctx context.Context, tier entities.Tier) error
	GetTier(ctx context.Context, deliberationID string, number int) (entities.Tier, bool, error)
	ListTiers(ctx context.Context, deliberationID string) ([]entities.Tier, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventEnvelope = contractsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}
