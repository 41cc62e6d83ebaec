package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"chant/contexts/deliberation/engine/domain/entities"
)

type deliberationModel struct {
	ID             string    `gorm:"column:id;primaryKey"`
	Question       string    `gorm:"column:question"`
	Phase          string    `gorm:"column:phase"`
	CurrentTier    int       `gorm:"column:current_tier"`
	RollingMode    bool      `gorm:"column:rolling_mode"`
	OnePerAuthor   bool      `gorm:"column:one_per_author"`
	IdeaCap        int       `gorm:"column:idea_cap"`
	AllocationMode string    `gorm:"column:allocation_mode"`
	Participants   []byte    `gorm:"column:participants;type:jsonb"`
	MustVoteIDs    []byte    `gorm:"column:must_vote_ids;type:jsonb"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (deliberationModel) TableName() string {
	return "deliberations"
}

func deliberationModelFromEntity(deliberation entities.Deliberation) (deliberationModel, error) {
	participants, err := json.Marshal(deliberation.Participants)
	if err != nil {
		return deliberationModel{}, err
	}
	mustVoteIDs, err := json.Marshal(deliberation.MustVoteIDs)
	if err != nil {
		return deliberationModel{}, err
	}
	row := deliberationModel{
		ID:             strings.TrimSpace(deliberation.DeliberationID),
		Question:       strings.TrimSpace(deliberation.Question),
		Phase:          string(deliberation.Phase),
		CurrentTier:    deliberation.CurrentTier,
		RollingMode:    deliberation.RollingMode,
		OnePerAuthor:   deliberation.OnePerAuthor,
		IdeaCap:        deliberation.IdeaCap,
		AllocationMode: string(deliberation.AllocationMode),
		Participants:   participants,
		MustVoteIDs:    mustVoteIDs,
		CreatedAt:      deliberation.CreatedAt.UTC(),
		UpdatedAt:      deliberation.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m deliberationModel) toEntity() (entities.Deliberation, error) {
	deliberation := entities.Deliberation{
		DeliberationID: m.ID,
		Question:       m.Question,
		Phase:          entities.Phase(m.Phase),
		CurrentTier:    m.CurrentTier,
		RollingMode:    m.RollingMode,
		OnePerAuthor:   m.OnePerAuthor,
		IdeaCap:        m.IdeaCap,
		AllocationMode: entities.AllocationMode(m.AllocationMode),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if len(m.Participants) > 0 {
		if err := json.Unmarshal(m.Participants, &deliberation.Participants); err != nil {
			return entities.Deliberation{}, err
		}
	}
	if len(m.MustVoteIDs) > 0 {
		if err := json.Unmarshal(m.MustVoteIDs, &deliberation.MustVoteIDs); err != nil {
			return entities.Deliberation{}, err
		}
	}
	return deliberation, nil
}

type championModel struct {
	DeliberationID string    `gorm:"column:deliberation_id;primaryKey"`
	IdeaID         string    `gorm:"column:idea_id"`
	TotalTiers     int       `gorm:"column:total_tiers"`
	TotalVoters    int       `gorm:"column:total_voters"`
	DeclaredAt     time.Time `gorm:"column:declared_at"`
}

func (championModel) TableName() string {
	return "champions"
}

type ideaModel struct {
	ID             string    `gorm:"column:id;primaryKey"`
	DeliberationID string    `gorm:"column:deliberation_id"`
	AuthorID       string    `gorm:"column:author_id"`
	Text           string    `gorm:"column:text"`
	Status         string    `gorm:"column:status"`
	Tier           int       `gorm:"column:tier"`
	TimesPresented int       `gorm:"column:times_presented"`
	TotalPoints    int       `gorm:"column:total_points"`
	TotalVoters    int       `gorm:"column:total_voters"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (ideaModel) TableName() string {
	return "ideas"
}

func ideaModelFromEntity(idea entities.Idea) ideaModel {
	row := ideaModel{
		ID:             strings.TrimSpace(idea.IdeaID),
		DeliberationID: strings.TrimSpace(idea.DeliberationID),
		AuthorID:       strings.TrimSpace(idea.AuthorID),
		Text:           strings.TrimSpace(idea.Text),
		Status:         string(idea.Status),
		Tier:           idea.Tier,
		TimesPresented: idea.TimesPresented,
		TotalPoints:    idea.TotalPoints,
		TotalVoters:    idea.TotalVoters,
		CreatedAt:      idea.CreatedAt.UTC(),
		UpdatedAt:      idea.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m ideaModel) toEntity() entities.Idea {
	return entities.Idea{
		IdeaID:         m.ID,
		DeliberationID: m.DeliberationID,
		AuthorID:       m.AuthorID,
		Text:           m.Text,
		Status:         entities.IdeaStatus(m.Status),
		Tier:           m.Tier,
		TimesPresented: m.TimesPresented,
		TotalPoints:    m.TotalPoints,
		TotalVoters:    m.TotalVoters,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func toIdeaEntities(rows []ideaModel) []entities.Idea {
	items := make([]entities.Idea, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

// cellModel stores the id slices as JSON; cells are always read whole, so the
// join never needs relational access.
type cellModel struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	DeliberationID     string     `gorm:"column:deliberation_id"`
	Tier               int        `gorm:"column:tier"`
	Status             string     `gorm:"column:status"`
	IdeaIDs            []byte     `gorm:"column:idea_ids;type:jsonb"`
	ParticipantIDs     []byte     `gorm:"column:participant_ids;type:jsonb"`
	MustVoteIDs        []byte     `gorm:"column:must_vote_ids;type:jsonb"`
	VotesNeeded        int        `gorm:"column:votes_needed"`
	IsFinalVote        bool       `gorm:"column:is_final_vote"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	VotingDeadline     *time.Time `gorm:"column:voting_deadline"`
	DeadlineExtended   bool       `gorm:"column:deadline_extended"`
	FinalizesAt        *time.Time `gorm:"column:finalizes_at"`
	HumanPriorityUntil *time.Time `gorm:"column:human_priority_until"`
	Version            int64      `gorm:"column:version"`
}

func (cellModel) TableName() string {
	return "cells"
}

func cellModelFromEntity(cell entities.Cell) (cellModel, error) {
	ideaIDs, err := json.Marshal(cell.IdeaIDs)
	if err != nil {
		return cellModel{}, err
	}
	participantIDs, err := json.Marshal(cell.ParticipantIDs)
	if err != nil {
		return cellModel{}, err
	}
	mustVoteIDs, err := json.Marshal(cell.MustVoteIDs)
	if err != nil {
		return cellModel{}, err
	}
	row := cellModel{
		ID:                 strings.TrimSpace(cell.CellID),
		DeliberationID:     strings.TrimSpace(cell.DeliberationID),
		Tier:               cell.Tier,
		Status:             string(cell.Status),
		IdeaIDs:            ideaIDs,
		ParticipantIDs:     participantIDs,
		MustVoteIDs:        mustVoteIDs,
		VotesNeeded:        cell.VotesNeeded,
		IsFinalVote:        cell.IsFinalVote,
		CreatedAt:          cell.CreatedAt.UTC(),
		VotingDeadline:     normalizeOptionalTime(cell.VotingDeadline),
		DeadlineExtended:   cell.DeadlineExtended,
		FinalizesAt:        normalizeOptionalTime(cell.FinalizesAt),
		HumanPriorityUntil: normalizeOptionalTime(cell.HumanPriorityUntil),
		Version:            cell.Version,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}

func (m cellModel) toEntity() (entities.Cell, error) {
	cell := entities.Cell{
		CellID:             m.ID,
		DeliberationID:     m.DeliberationID,
		Tier:               m.Tier,
		Status:             entities.CellStatus(m.Status),
		VotesNeeded:        m.VotesNeeded,
		IsFinalVote:        m.IsFinalVote,
		CreatedAt:          m.CreatedAt.UTC(),
		VotingDeadline:     normalizeOptionalTime(m.VotingDeadline),
		DeadlineExtended:   m.DeadlineExtended,
		FinalizesAt:        normalizeOptionalTime(m.FinalizesAt),
		HumanPriorityUntil: normalizeOptionalTime(m.HumanPriorityUntil),
		Version:            m.Version,
	}
	if len(m.IdeaIDs) > 0 {
		if err := json.Unmarshal(m.IdeaIDs, &cell.IdeaIDs); err != nil {
			return entities.Cell{}, err
		}
	}
	if len(m.ParticipantIDs) > 0 {
		if err := json.Unmarshal(m.ParticipantIDs, &cell.ParticipantIDs); err != nil {
			return entities.Cell{}, err
		}
	}
	if len(m.MustVoteIDs) > 0 {
		if err := json.Unmarshal(m.MustVoteIDs, &cell.MustVoteIDs); err != nil {
			return entities.Cell{}, err
		}
	}
	return cell, nil
}

func toCellEntities(rows []cellModel) ([]entities.Cell, error) {
	items := make([]entities.Cell, 0, len(rows))
	for _, row := range rows {
		cell, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, cell)
	}
	return items, nil
}

type ballotModel struct {
	CellID        string    `gorm:"column:cell_id;primaryKey"`
	ParticipantID string    `gorm:"column:participant_id;primaryKey"`
	Allocations   []byte    `gorm:"column:allocations;type:jsonb"`
	Automated     bool      `gorm:"column:automated"`
	VotedAt       time.Time `gorm:"column:voted_at"`
}

func (ballotModel) TableName() string {
	return "ballots"
}

func ballotModelFromEntity(ballot entities.Ballot) (ballotModel, error) {
	allocations, err := json.Marshal(ballot.Allocations)
	if err != nil {
		return ballotModel{}, err
	}
	return ballotModel{
		CellID:        strings.TrimSpace(ballot.CellID),
		ParticipantID: strings.TrimSpace(ballot.ParticipantID),
		Allocations:   allocations,
		Automated:     ballot.Automated,
		VotedAt:       ballot.VotedAt.UTC(),
	}, nil
}

func (m ballotModel) toEntity() (entities.Ballot, error) {
	ballot := entities.Ballot{
		CellID:        m.CellID,
		ParticipantID: m.ParticipantID,
		Automated:     m.Automated,
		VotedAt:       m.VotedAt.UTC(),
	}
	if len(m.Allocations) > 0 {
		if err := json.Unmarshal(m.Allocations, &ballot.Allocations); err != nil {
			return entities.Ballot{}, err
		}
	}
	return ballot, nil
}

type reservationModel struct {
	CellID        string    `gorm:"column:cell_id;primaryKey"`
	ParticipantID string    `gorm:"column:participant_id;primaryKey"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	ExpiresAt     time.Time `gorm:"column:expires_at"`
}

func (reservationModel) TableName() string {
	return "reservations"
}

func (m reservationModel) toEntity() entities.Reservation {
	return entities.Reservation{
		CellID:        m.CellID,
		ParticipantID: m.ParticipantID,
		CreatedAt:     m.CreatedAt.UTC(),
		ExpiresAt:     m.ExpiresAt.UTC(),
	}
}

type commentModel struct {
	ID             string    `gorm:"column:id;primaryKey"`
	DeliberationID string    `gorm:"column:deliberation_id"`
	CellID         string    `gorm:"column:cell_id"`
	IdeaID         *string   `gorm:"column:idea_id"`
	AuthorID       string    `gorm:"column:author_id"`
	Text           string    `gorm:"column:text"`
	UpvoteCount    int       `gorm:"column:upvote_count"`
	ReachTier      int       `gorm:"column:reach_tier"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (commentModel) TableName() string {
	return "comments"
}

func commentModelFromEntity(comment entities.Comment) commentModel {
	row := commentModel{
		ID:             strings.TrimSpace(comment.CommentID),
		DeliberationID: strings.TrimSpace(comment.DeliberationID),
		CellID:         strings.TrimSpace(comment.CellID),
		AuthorID:       strings.TrimSpace(comment.AuthorID),
		Text:           strings.TrimSpace(comment.Text),
		UpvoteCount:    comment.UpvoteCount,
		ReachTier:      comment.ReachTier,
		CreatedAt:      comment.CreatedAt.UTC(),
		UpdatedAt:      comment.UpdatedAt.UTC(),
	}
	if strings.TrimSpace(comment.IdeaID) != "" {
		ideaID := strings.TrimSpace(comment.IdeaID)
		row.IdeaID = &ideaID
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m commentModel) toEntity() entities.Comment {
	ideaID := ""
	if m.IdeaID != nil {
		ideaID = *m.IdeaID
	}
	return entities.Comment{
		CommentID:      m.ID,
		DeliberationID: m.DeliberationID,
		CellID:         m.CellID,
		IdeaID:         ideaID,
		AuthorID:       m.AuthorID,
		Text:           m.Text,
		UpvoteCount:    m.UpvoteCount,
		ReachTier:      m.ReachTier,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func toCommentEntities(rows []commentModel) []entities.Comment {
	items := make([]entities.Comment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

type tierModel struct {
	DeliberationID string     `gorm:"column:deliberation_id;primaryKey"`
	Number         int        `gorm:"column:number;primaryKey"`
	Status         string     `gorm:"column:status"`
	StartedAt      time.Time  `gorm:"column:started_at"`
	Deadline       *time.Time `gorm:"column:deadline"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (tierModel) TableName() string {
	return "tiers"
}

func (m tierModel) toEntity() entities.Tier {
	return entities.Tier{
		DeliberationID: m.DeliberationID,
		Number:         m.Number,
		Status:         entities.TierStatus(m.Status),
		StartedAt:      m.StartedAt.UTC(),
		Deadline:       normalizeOptionalTime(m.Deadline),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload;type:jsonb"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "engine_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "engine_event_dedup"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}
