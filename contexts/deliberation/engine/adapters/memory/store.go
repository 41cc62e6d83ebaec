package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// Store is the single-process implementation of every engine port. One mutex
// covers all maps so multi-entity operations (seat claims, completion claims,
// ballot replacement) are atomic the same way their Postgres counterparts are.
type Store struct {
	mu sync.RWMutex

	deliberations map[string]entities.Deliberation
	champions     map[string]entities.Champion
	ideas         map[string]entities.Idea
	cells         map[string]entities.Cell
	ballots       map[string]map[string]entities.Ballot
	reservations  map[string]map[string]entities.Reservation
	comments      map[string]entities.Comment
	tiers         map[string]map[int]entities.Tier
	outbox        map[string]outboxRecord
	eventDedup    map[string]dedupRecord
}

func NewStore() *Store {
	return &Store{
		deliberations: make(map[string]entities.Deliberation),
		champions:     make(map[string]entities.Champion),
		ideas:         make(map[string]entities.Idea),
		cells:         make(map[string]entities.Cell),
		ballots:       make(map[string]map[string]entities.Ballot),
		reservations:  make(map[string]map[string]entities.Reservation),
		comments:      make(map[string]entities.Comment),
		tiers:         make(map[string]map[int]entities.Tier),
		outbox:        make(map[string]outboxRecord),
		eventDedup:    make(map[string]dedupRecord),
	}
}

func (s *Store) CreateDeliberation(_ context.Context, deliberation entities.Deliberation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(deliberation.DeliberationID)
	if _, exists := s.deliberations[id]; exists {
		return domainerrors.ErrConflict
	}
	s.deliberations[id] = deliberation
	return nil
}

func (s *Store) GetDeliberation(_ context.Context, deliberationID string) (entities.Deliberation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deliberation, ok := s.deliberations[strings.TrimSpace(deliberationID)]
	if !ok {
		return entities.Deliberation{}, domainerrors.ErrDeliberationNotFound
	}
	return deliberation, nil
}

func (s *Store) UpdateDeliberation(_ context.Context, deliberation entities.Deliberation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(deliberation.DeliberationID)
	if _, ok := s.deliberations[id]; !ok {
		return domainerrors.ErrDeliberationNotFound
	}
	s.deliberations[id] = deliberation
	return nil
}

func (s *Store) ListDeliberations(_ context.Context, limit int, offset int) ([]entities.Deliberation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Deliberation, 0, len(s.deliberations))
	for _, deliberation := range s.deliberations {
		items = append(items, deliberation)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].DeliberationID < items[j].DeliberationID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) SaveChampion(_ context.Context, champion entities.Champion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.champions[strings.TrimSpace(champion.DeliberationID)] = champion
	return nil
}

func (s *Store) GetChampion(_ context.Context, deliberationID string) (entities.Champion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	champion, ok := s.champions[strings.TrimSpace(deliberationID)]
	return champion, ok, nil
}

func (s *Store) CreateIdea(_ context.Context, idea entities.Idea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(idea.IdeaID)
	if _, exists := s.ideas[id]; exists {
		return domainerrors.ErrConflict
	}
	s.ideas[id] = idea
	return nil
}

func (s *Store) GetIdea(_ context.Context, ideaID string) (entities.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idea, ok := s.ideas[strings.TrimSpace(ideaID)]
	if !ok {
		return entities.Idea{}, domainerrors.ErrIdeaNotFound
	}
	return idea, nil
}

func (s *Store) GetIdeaByContent(_ context.Context, deliberationID string, text string) (entities.Idea, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deliberationID = strings.TrimSpace(deliberationID)
	text = strings.TrimSpace(text)
	for _, idea := range s.ideas {
		if idea.DeliberationID == deliberationID && idea.Text == text {
			return idea, true, nil
		}
	}
	return entities.Idea{}, false, nil
}

func (s *Store) UpdateIdea(_ context.Context, idea entities.Idea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(idea.IdeaID)
	if _, ok := s.ideas[id]; !ok {
		return domainerrors.ErrIdeaNotFound
	}
	s.ideas[id] = idea
	return nil
}

func (s *Store) ListIdeasByDeliberation(_ context.Context, deliberationID string) ([]entities.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Idea, 0)
	for _, idea := range s.ideas {
		if idea.DeliberationID == strings.TrimSpace(deliberationID) {
			items = append(items, idea)
		}
	}
	sortIdeasBySubmission(items)
	return items, nil
}

func (s *Store) ListIdeasByStatus(
	_ context.Context,
	deliberationID string,
	status entities.IdeaStatus,
) ([]entities.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Idea, 0)
	for _, idea := range s.ideas {
		if idea.DeliberationID == strings.TrimSpace(deliberationID) && idea.Status == status {
			items = append(items, idea)
		}
	}
	sortIdeasBySubmission(items)
	return items, nil
}

func (s *Store) ListPackableIdeas(_ context.Context, deliberationID string, tier int, retryCap int) ([]entities.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Idea, 0)
	for _, idea := range s.ideas {
		if idea.DeliberationID != strings.TrimSpace(deliberationID) {
			continue
		}
		if idea.Packable(tier, retryCap) {
			items = append(items, idea)
		}
	}
	sortIdeasBySubmission(items)
	return items, nil
}

func (s *Store) CountIdeasByAuthor(_ context.Context, deliberationID string, authorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, idea := range s.ideas {
		if idea.DeliberationID == strings.TrimSpace(deliberationID) &&
			idea.AuthorID == strings.TrimSpace(authorID) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountIdeas(_ context.Context, deliberationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, idea := range s.ideas {
		if idea.DeliberationID == strings.TrimSpace(deliberationID) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateCells(_ context.Context, cells []entities.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cell := range cells {
		if _, exists := s.cells[cell.CellID]; exists {
			return domainerrors.ErrConflict
		}
	}
	for _, cell := range cells {
		s.cells[cell.CellID] = cell
	}
	return nil
}

func (s *Store) GetCell(_ context.Context, cellID string) (entities.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.cells[strings.TrimSpace(cellID)]
	if !ok {
		return entities.Cell{}, domainerrors.ErrCellNotFound
	}
	return cell, nil
}

func (s *Store) UpdateCell(_ context.Context, cell entities.Cell, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cells[strings.TrimSpace(cell.CellID)]
	if !ok {
		return domainerrors.ErrCellNotFound
	}
	if current.Version != expectedVersion {
		return domainerrors.ErrConflict
	}
	cell.Version = expectedVersion + 1
	s.cells[cell.CellID] = cell
	return nil
}

func (s *Store) ClaimCompletion(_ context.Context, cellID string, completedAt time.Time) (bool, error) {
	return s.claimClose(cellID, entities.CellStatusCompleted)
}

func (s *Store) ClaimAbandonment(_ context.Context, cellID string, abandonedAt time.Time) (bool, error) {
	return s.claimClose(cellID, entities.CellStatusAbandoned)
}

func (s *Store) claimClose(cellID string, status entities.CellStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, ok := s.cells[strings.TrimSpace(cellID)]
	if !ok {
		return false, domainerrors.ErrCellNotFound
	}
	if cell.Closed() {
		return false, nil
	}
	cell.Status = status
	cell.Version++
	s.cells[cell.CellID] = cell
	return true, nil
}

func (s *Store) ListCellsByTier(_ context.Context, deliberationID string, tier int) ([]entities.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Cell, 0)
	for _, cell := range s.cells {
		if cell.DeliberationID == strings.TrimSpace(deliberationID) && cell.Tier == tier {
			items = append(items, cell)
		}
	}
	sortCellsByCreation(items)
	return items, nil
}

func (s *Store) ListOpenCells(_ context.Context, deliberationID string) ([]entities.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Cell, 0)
	for _, cell := range s.cells {
		if cell.DeliberationID == strings.TrimSpace(deliberationID) && cell.Open() {
			items = append(items, cell)
		}
	}
	sortCellsByCreation(items)
	return items, nil
}

func (s *Store) ListFinalizableCells(_ context.Context, now time.Time, limit int) ([]entities.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]entities.Cell, 0)
	for _, cell := range s.cells {
		if cell.Status != entities.CellStatusDeliberating || cell.FinalizesAt == nil {
			continue
		}
		if !now.Before(*cell.FinalizesAt) {
			items = append(items, cell)
		}
	}
	sortCellsByCreation(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) ListExpiredCells(_ context.Context, now time.Time, limit int) ([]entities.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]entities.Cell, 0)
	for _, cell := range s.cells {
		if cell.Status == entities.CellStatusVoting && cell.DeadlinePassed(now) {
			items = append(items, cell)
		}
	}
	sortCellsByCreation(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) ReplaceBallot(_ context.Context, ballot entities.Ballot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cellID := strings.TrimSpace(ballot.CellID)
	if s.ballots[cellID] == nil {
		s.ballots[cellID] = make(map[string]entities.Ballot)
	}
	s.ballots[cellID][strings.TrimSpace(ballot.ParticipantID)] = ballot
	return len(s.ballots[cellID]), nil
}

func (s *Store) GetBallot(_ context.Context, cellID string, participantID string) (entities.Ballot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ballot, ok := s.ballots[strings.TrimSpace(cellID)][strings.TrimSpace(participantID)]
	return ballot, ok, nil
}

func (s *Store) ListBallotsByCell(_ context.Context, cellID string) ([]entities.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Ballot, 0, len(s.ballots[strings.TrimSpace(cellID)]))
	for _, ballot := range s.ballots[strings.TrimSpace(cellID)] {
		items = append(items, ballot)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].VotedAt.Equal(items[j].VotedAt) {
			return items[i].ParticipantID < items[j].ParticipantID
		}
		return items[i].VotedAt.Before(items[j].VotedAt)
	})
	return items, nil
}

func (s *Store) CountDistinctVoters(_ context.Context, cellID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ballots[strings.TrimSpace(cellID)]), nil
}

func (s *Store) ClaimSeat(
	_ context.Context,
	reservation entities.Reservation,
	capacity int,
	_ int,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cellID := strings.TrimSpace(reservation.CellID)

	// Recount under the lock; the caller's snapshot may be stale.
	taken := len(s.ballots[cellID])
	for _, existing := range s.reservations[cellID] {
		if _, voted := s.ballots[cellID][existing.ParticipantID]; voted {
			continue
		}
		if !existing.Expired(reservation.CreatedAt) {
			taken++
		}
	}
	if taken >= capacity {
		return false, nil
	}
	if s.reservations[cellID] == nil {
		s.reservations[cellID] = make(map[string]entities.Reservation)
	}
	s.reservations[cellID][strings.TrimSpace(reservation.ParticipantID)] = reservation
	return true, nil
}

func (s *Store) GetReservation(_ context.Context, cellID string, participantID string) (entities.Reservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reservation, ok := s.reservations[strings.TrimSpace(cellID)][strings.TrimSpace(participantID)]
	return reservation, ok, nil
}

func (s *Store) ReleaseReservation(_ context.Context, cellID string, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations[strings.TrimSpace(cellID)], strings.TrimSpace(participantID))
	return nil
}

func (s *Store) CountActiveReservations(_ context.Context, cellID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, reservation := range s.reservations[strings.TrimSpace(cellID)] {
		if !reservation.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (s *Store) SweepExpired(_ context.Context, now time.Time, limit int) ([]entities.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	swept := make([]entities.Reservation, 0)
	for cellID, byParticipant := range s.reservations {
		for participantID, reservation := range byParticipant {
			if len(swept) >= limit {
				return swept, nil
			}
			if reservation.Expired(now) {
				delete(s.reservations[cellID], participantID)
				swept = append(swept, reservation)
			}
		}
	}
	return swept, nil
}

func (s *Store) CreateComment(_ context.Context, comment entities.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(comment.CommentID)
	if _, exists := s.comments[id]; exists {
		return domainerrors.ErrConflict
	}
	s.comments[id] = comment
	return nil
}

func (s *Store) GetComment(_ context.Context, commentID string) (entities.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.comments[strings.TrimSpace(commentID)]
	if !ok {
		return entities.Comment{}, domainerrors.ErrCommentNotFound
	}
	return comment, nil
}

func (s *Store) UpvoteComment(
	_ context.Context,
	commentID string,
	reachTier int,
	updatedAt time.Time,
) (entities.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comment, ok := s.comments[strings.TrimSpace(commentID)]
	if !ok {
		return entities.Comment{}, domainerrors.ErrCommentNotFound
	}
	comment.UpvoteCount++
	if reachTier > comment.ReachTier {
		comment.ReachTier = reachTier
	}
	comment.UpdatedAt = updatedAt
	s.comments[comment.CommentID] = comment
	return comment, nil
}

func (s *Store) ListCommentsByCell(_ context.Context, cellID string) ([]entities.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Comment, 0)
	for _, comment := range s.comments {
		if comment.CellID == strings.TrimSpace(cellID) {
			items = append(items, comment)
		}
	}
	sortCommentsByCreation(items)
	return items, nil
}

func (s *Store) ListCommentsByIdea(_ context.Context, ideaID string) ([]entities.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Comment, 0)
	for _, comment := range s.comments {
		if comment.IdeaID == strings.TrimSpace(ideaID) {
			items = append(items, comment)
		}
	}
	sortCommentsByCreation(items)
	return items, nil
}

func (s *Store) UpsertTier(_ context.Context, tier entities.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(tier.DeliberationID)
	if s.tiers[id] == nil {
		s.tiers[id] = make(map[int]entities.Tier)
	}
	if existing, ok := s.tiers[id][tier.Number]; ok {
		tier.StartedAt = existing.StartedAt
	}
	s.tiers[id][tier.Number] = tier
	return nil
}

func (s *Store) GetTier(_ context.Context, deliberationID string, number int) (entities.Tier, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tier, ok := s.tiers[strings.TrimSpace(deliberationID)][number]
	return tier, ok, nil
}

func (s *Store) ListTiers(_ context.Context, deliberationID string) ([]entities.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Tier, 0, len(s.tiers[strings.TrimSpace(deliberationID)]))
	for _, tier := range s.tiers[strings.TrimSpace(deliberationID)] {
		items = append(items, tier)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Number < items[j].Number })
	return items, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortIdeasBySubmission(items []entities.Idea) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].IdeaID < items[j].IdeaID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func sortCellsByCreation(items []entities.Cell) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CellID < items[j].CellID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func sortCommentsByCreation(items []entities.Comment) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CommentID < items[j].CommentID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
