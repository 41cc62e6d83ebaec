package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
	"chant/contexts/deliberation/engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateDeliberation(ctx context.Context, deliberation entities.Deliberation) error {
	row, err := deliberationModelFromEntity(deliberation)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("engine_repo_create_deliberation_failed", err,
			"deliberation_id", row.ID,
		)
	}
	return nil
}

func (r *Repository) GetDeliberation(ctx context.Context, deliberationID string) (entities.Deliberation, error) {
	var row deliberationModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(deliberationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Deliberation{}, domainerrors.ErrDeliberationNotFound
		}
		return entities.Deliberation{}, r.logError("engine_repo_get_deliberation_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	return row.toEntity()
}

func (r *Repository) UpdateDeliberation(ctx context.Context, deliberation entities.Deliberation) error {
	row, err := deliberationModelFromEntity(deliberation)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&deliberationModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"question":        row.Question,
			"phase":           row.Phase,
			"current_tier":    row.CurrentTier,
			"rolling_mode":    row.RollingMode,
			"one_per_author":  row.OnePerAuthor,
			"idea_cap":        row.IdeaCap,
			"allocation_mode": row.AllocationMode,
			"participants":    row.Participants,
			"must_vote_ids":   row.MustVoteIDs,
			"updated_at":      row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("engine_repo_update_deliberation_failed", result.Error,
			"deliberation_id", row.ID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrDeliberationNotFound
	}
	return nil
}

func (r *Repository) ListDeliberations(ctx context.Context, limit int, offset int) ([]entities.Deliberation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []deliberationModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_deliberations_failed", err, "limit", limit)
	}
	items := make([]entities.Deliberation, 0, len(rows))
	for _, row := range rows {
		item, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Repository) SaveChampion(ctx context.Context, champion entities.Champion) error {
	row := championModel{
		DeliberationID: strings.TrimSpace(champion.DeliberationID),
		IdeaID:         strings.TrimSpace(champion.IdeaID),
		TotalTiers:     champion.TotalTiers,
		TotalVoters:    champion.TotalVoters,
		DeclaredAt:     champion.DeclaredAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "deliberation_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"idea_id":      row.IdeaID,
			"total_tiers":  row.TotalTiers,
			"total_voters": row.TotalVoters,
			"declared_at":  row.DeclaredAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("engine_repo_save_champion_failed", create.Error,
			"deliberation_id", row.DeliberationID,
		)
	}
	return nil
}

func (r *Repository) GetChampion(ctx context.Context, deliberationID string) (entities.Champion, bool, error) {
	var row championModel
	err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Champion{}, false, nil
		}
		return entities.Champion{}, false, r.logError("engine_repo_get_champion_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	return entities.Champion{
		DeliberationID: row.DeliberationID,
		IdeaID:         row.IdeaID,
		TotalTiers:     row.TotalTiers,
		TotalVoters:    row.TotalVoters,
		DeclaredAt:     row.DeclaredAt.UTC(),
	}, true, nil
}

func (r *Repository) CreateIdea(ctx context.Context, idea entities.Idea) error {
	row := ideaModelFromEntity(idea)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("engine_repo_create_idea_failed", err, "idea_id", row.ID)
	}
	return nil
}

func (r *Repository) GetIdea(ctx context.Context, ideaID string) (entities.Idea, error) {
	var row ideaModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(ideaID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Idea{}, domainerrors.ErrIdeaNotFound
		}
		return entities.Idea{}, r.logError("engine_repo_get_idea_failed", err, "idea_id", strings.TrimSpace(ideaID))
	}
	return row.toEntity(), nil
}

func (r *Repository) GetIdeaByContent(
	ctx context.Context,
	deliberationID string,
	text string,
) (entities.Idea, bool, error) {
	var row ideaModel
	err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("text = ?", strings.TrimSpace(text)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Idea{}, false, nil
		}
		return entities.Idea{}, false, r.logError("engine_repo_get_idea_by_content_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) UpdateIdea(ctx context.Context, idea entities.Idea) error {
	row := ideaModelFromEntity(idea)
	result := r.db.WithContext(ctx).
		Model(&ideaModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"status":          row.Status,
			"tier":            row.Tier,
			"times_presented": row.TimesPresented,
			"total_points":    row.TotalPoints,
			"total_voters":    row.TotalVoters,
			"updated_at":      row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("engine_repo_update_idea_failed", result.Error, "idea_id", row.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrIdeaNotFound
	}
	return nil
}

func (r *Repository) ListIdeasByDeliberation(ctx context.Context, deliberationID string) ([]entities.Idea, error) {
	var rows []ideaModel
	if err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_ideas_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	return toIdeaEntities(rows), nil
}

func (r *Repository) ListIdeasByStatus(
	ctx context.Context,
	deliberationID string,
	status entities.IdeaStatus,
) ([]entities.Idea, error) {
	var rows []ideaModel
	if err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("status = ?", string(status)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_ideas_by_status_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
			"status", string(status),
		)
	}
	return toIdeaEntities(rows), nil
}

func (r *Repository) ListPackableIdeas(ctx context.Context, deliberationID string, tier int, retryCap int) ([]entities.Idea, error) {
	var rows []ideaModel
	if err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("tier = ?", tier).
		Where("status IN ?", []string{
			string(entities.IdeaStatusQueued),
			string(entities.IdeaStatusRecycled),
			string(entities.IdeaStatusAdvancing),
			string(entities.IdeaStatusDefending),
		}).
		Where("status <> ? OR times_presented < ?", string(entities.IdeaStatusRecycled), retryCap).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_packable_ideas_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
			"tier", tier,
		)
	}
	return toIdeaEntities(rows), nil
}

func (r *Repository) CountIdeasByAuthor(ctx context.Context, deliberationID string, authorID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ideaModel{}).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("author_id = ?", strings.TrimSpace(authorID)).
		Count(&count).Error; err != nil {
		return 0, r.logError("engine_repo_count_ideas_by_author_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
			"author_id", strings.TrimSpace(authorID),
		)
	}
	return int(count), nil
}

func (r *Repository) CountIdeas(ctx context.Context, deliberationID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ideaModel{}).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Count(&count).Error; err != nil {
		return 0, r.logError("engine_repo_count_ideas_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	return int(count), nil
}

func (r *Repository) CreateCells(ctx context.Context, cells []entities.Cell) error {
	if len(cells) == 0 {
		return nil
	}
	rows := make([]cellModel, 0, len(cells))
	for _, cell := range cells {
		row, err := cellModelFromEntity(cell)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("engine_repo_create_cells_failed", err, "cell_count", len(cells))
	}
	return nil
}

func (r *Repository) GetCell(ctx context.Context, cellID string) (entities.Cell, error) {
	var row cellModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(cellID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Cell{}, domainerrors.ErrCellNotFound
		}
		return entities.Cell{}, r.logError("engine_repo_get_cell_failed", err, "cell_id", strings.TrimSpace(cellID))
	}
	return row.toEntity()
}

// UpdateCell writes only when the stored version still matches, bumping it in
// the same statement. A zero-row update is a lost race, not a missing cell;
// callers that need the distinction re-read.
func (r *Repository) UpdateCell(ctx context.Context, cell entities.Cell, expectedVersion int64) error {
	row, err := cellModelFromEntity(cell)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&cellModel{}).
		Where("id = ?", row.ID).
		Where("version = ?", expectedVersion).
		Updates(map[string]any{
			"status":               row.Status,
			"idea_ids":             row.IdeaIDs,
			"participant_ids":      row.ParticipantIDs,
			"must_vote_ids":        row.MustVoteIDs,
			"votes_needed":         row.VotesNeeded,
			"is_final_vote":        row.IsFinalVote,
			"voting_deadline":      row.VotingDeadline,
			"deadline_extended":    row.DeadlineExtended,
			"finalizes_at":         row.FinalizesAt,
			"human_priority_until": row.HumanPriorityUntil,
			"version":              expectedVersion + 1,
		})
	if result.Error != nil {
		return r.logError("engine_repo_update_cell_failed", result.Error, "cell_id", row.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ClaimCompletion(ctx context.Context, cellID string, completedAt time.Time) (bool, error) {
	return r.claimClose(ctx, cellID, entities.CellStatusCompleted)
}

func (r *Repository) ClaimAbandonment(ctx context.Context, cellID string, abandonedAt time.Time) (bool, error) {
	return r.claimClose(ctx, cellID, entities.CellStatusAbandoned)
}

func (r *Repository) claimClose(ctx context.Context, cellID string, status entities.CellStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&cellModel{}).
		Where("id = ?", strings.TrimSpace(cellID)).
		Where("status IN ?", []string{
			string(entities.CellStatusVoting),
			string(entities.CellStatusDeliberating),
		}).
		Updates(map[string]any{
			"status":  string(status),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, r.logError("engine_repo_claim_close_failed", result.Error,
			"cell_id", strings.TrimSpace(cellID),
			"status", string(status),
		)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) ListCellsByTier(ctx context.Context, deliberationID string, tier int) ([]entities.Cell, error) {
	var rows []cellModel
	if err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("tier = ?", tier).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_cells_by_tier_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
			"tier", tier,
		)
	}
	return toCellEntities(rows)
}

func (r *Repository) ListOpenCells(ctx context.Context, deliberationID string) ([]entities.Cell, error) {
	var rows []cellModel
	if err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("status IN ?", []string{
			string(entities.CellStatusVoting),
			string(entities.CellStatusDeliberating),
		}).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_open_cells_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	return toCellEntities(rows)
}

func (r *Repository) ListFinalizableCells(ctx context.Context, now time.Time, limit int) ([]entities.Cell, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []cellModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.CellStatusDeliberating)).
		Where("finalizes_at IS NOT NULL AND finalizes_at <= ?", now.UTC()).
		Order("finalizes_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_finalizable_cells_failed", err, "limit", limit)
	}
	return toCellEntities(rows)
}

func (r *Repository) ListExpiredCells(ctx context.Context, now time.Time, limit int) ([]entities.Cell, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []cellModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.CellStatusVoting)).
		Where("voting_deadline IS NOT NULL AND voting_deadline < ?", now.UTC()).
		Order("voting_deadline ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_expired_cells_failed", err, "limit", limit)
	}
	return toCellEntities(rows)
}

// ReplaceBallot upserts on (cell_id, participant_id) and counts voters inside
// one transaction, so the returned count always reflects this write.
func (r *Repository) ReplaceBallot(ctx context.Context, ballot entities.Ballot) (int, error) {
	row, err := ballotModelFromEntity(ballot)
	if err != nil {
		return 0, err
	}
	var count int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cell_id"}, {Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"allocations": row.Allocations,
				"automated":   row.Automated,
				"voted_at":    row.VotedAt,
			}),
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		return tx.Model(&ballotModel{}).
			Where("cell_id = ?", row.CellID).
			Count(&count).Error
	})
	if err != nil {
		return 0, r.logError("engine_repo_replace_ballot_failed", err,
			"cell_id", row.CellID,
			"participant_id", row.ParticipantID,
		)
	}
	return int(count), nil
}

func (r *Repository) GetBallot(ctx context.Context, cellID string, participantID string) (entities.Ballot, bool, error) {
	var row ballotModel
	err := r.db.WithContext(ctx).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Where("participant_id = ?", strings.TrimSpace(participantID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Ballot{}, false, nil
		}
		return entities.Ballot{}, false, r.logError("engine_repo_get_ballot_failed", err,
			"cell_id", strings.TrimSpace(cellID),
			"participant_id", strings.TrimSpace(participantID),
		)
	}
	ballot, err := row.toEntity()
	if err != nil {
		return entities.Ballot{}, false, err
	}
	return ballot, true, nil
}

func (r *Repository) ListBallotsByCell(ctx context.Context, cellID string) ([]entities.Ballot, error) {
	var rows []ballotModel
	if err := r.db.WithContext(ctx).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Order("voted_at ASC, participant_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_ballots_failed", err, "cell_id", strings.TrimSpace(cellID))
	}
	items := make([]entities.Ballot, 0, len(rows))
	for _, row := range rows {
		ballot, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, ballot)
	}
	return items, nil
}

func (r *Repository) CountDistinctVoters(ctx context.Context, cellID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ballotModel{}).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Count(&count).Error; err != nil {
		return 0, r.logError("engine_repo_count_voters_failed", err, "cell_id", strings.TrimSpace(cellID))
	}
	return int(count), nil
}

// ClaimSeat recounts seat usage inside the transaction before inserting; the
// caller's snapshot only pre-filters the obvious full-cell case.
func (r *Repository) ClaimSeat(
	ctx context.Context,
	reservation entities.Reservation,
	capacity int,
	_ int,
) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cellID := strings.TrimSpace(reservation.CellID)
		var voters int64
		if err := tx.Model(&ballotModel{}).
			Where("cell_id = ?", cellID).
			Count(&voters).Error; err != nil {
			return err
		}
		var reserved int64
		if err := tx.Model(&reservationModel{}).
			Where("cell_id = ?", cellID).
			Where("expires_at > ?", reservation.CreatedAt.UTC()).
			Where("participant_id NOT IN (?)",
				tx.Model(&ballotModel{}).Select("participant_id").Where("cell_id = ?", cellID),
			).
			Count(&reserved).Error; err != nil {
			return err
		}
		if int(voters+reserved) >= capacity {
			return nil
		}
		row := reservationModel{
			CellID:        cellID,
			ParticipantID: strings.TrimSpace(reservation.ParticipantID),
			CreatedAt:     reservation.CreatedAt.UTC(),
			ExpiresAt:     reservation.ExpiresAt.UTC(),
		}
		create := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cell_id"}, {Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"created_at": row.CreatedAt,
				"expires_at": row.ExpiresAt,
			}),
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, r.logError("engine_repo_claim_seat_failed", err,
			"cell_id", strings.TrimSpace(reservation.CellID),
			"participant_id", strings.TrimSpace(reservation.ParticipantID),
		)
	}
	return claimed, nil
}

func (r *Repository) GetReservation(
	ctx context.Context,
	cellID string,
	participantID string,
) (entities.Reservation, bool, error) {
	var row reservationModel
	err := r.db.WithContext(ctx).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Where("participant_id = ?", strings.TrimSpace(participantID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Reservation{}, false, nil
		}
		return entities.Reservation{}, false, r.logError("engine_repo_get_reservation_failed", err,
			"cell_id", strings.TrimSpace(cellID),
			"participant_id", strings.TrimSpace(participantID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ReleaseReservation(ctx context.Context, cellID string, participantID string) error {
	if err := r.db.WithContext(ctx).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Where("participant_id = ?", strings.TrimSpace(participantID)).
		Delete(&reservationModel{}).Error; err != nil {
		return r.logError("engine_repo_release_reservation_failed", err,
			"cell_id", strings.TrimSpace(cellID),
			"participant_id", strings.TrimSpace(participantID),
		)
	}
	return nil
}

func (r *Repository) CountActiveReservations(ctx context.Context, cellID string, now time.Time) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&reservationModel{}).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Where("expires_at > ?", now.UTC()).
		Count(&count).Error; err != nil {
		return 0, r.logError("engine_repo_count_reservations_failed", err,
			"cell_id", strings.TrimSpace(cellID),
		)
	}
	return int(count), nil
}

func (r *Repository) SweepExpired(ctx context.Context, now time.Time, limit int) ([]entities.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []reservationModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("expires_at <= ?", now.UTC()).
			Order("expires_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if err := tx.
				Where("cell_id = ?", row.CellID).
				Where("participant_id = ?", row.ParticipantID).
				Delete(&reservationModel{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.logError("engine_repo_sweep_reservations_failed", err, "limit", limit)
	}
	items := make([]entities.Reservation, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) CreateComment(ctx context.Context, comment entities.Comment) error {
	row := commentModelFromEntity(comment)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("engine_repo_create_comment_failed", err, "comment_id", row.ID)
	}
	return nil
}

func (r *Repository) GetComment(ctx context.Context, commentID string) (entities.Comment, error) {
	var row commentModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(commentID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Comment{}, domainerrors.ErrCommentNotFound
		}
		return entities.Comment{}, r.logError("engine_repo_get_comment_failed", err,
			"comment_id", strings.TrimSpace(commentID),
		)
	}
	return row.toEntity(), nil
}

// UpvoteComment bumps the counter and raises reach in one statement; reach
// never decreases even under concurrent upvotes.
func (r *Repository) UpvoteComment(
	ctx context.Context,
	commentID string,
	reachTier int,
	updatedAt time.Time,
) (entities.Comment, error) {
	result := r.db.WithContext(ctx).
		Model(&commentModel{}).
		Where("id = ?", strings.TrimSpace(commentID)).
		Updates(map[string]any{
			"upvote_count": gorm.Expr("upvote_count + 1"),
			"reach_tier":   gorm.Expr("GREATEST(reach_tier, ?)", reachTier),
			"updated_at":   updatedAt.UTC(),
		})
	if result.Error != nil {
		return entities.Comment{}, r.logError("engine_repo_upvote_comment_failed", result.Error,
			"comment_id", strings.TrimSpace(commentID),
		)
	}
	if result.RowsAffected == 0 {
		return entities.Comment{}, domainerrors.ErrCommentNotFound
	}
	return r.GetComment(ctx, commentID)
}

func (r *Repository) ListCommentsByCell(ctx context.Context, cellID string) ([]entities.Comment, error) {
	var rows []commentModel
	if err := r.db.WithContext(ctx).
		Where("cell_id = ?", strings.TrimSpace(cellID)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_comments_by_cell_failed", err,
			"cell_id", strings.TrimSpace(cellID),
		)
	}
	return toCommentEntities(rows), nil
}

func (r *Repository) ListCommentsByIdea(ctx context.Context, ideaID string) ([]entities.Comment, error) {
	var rows []commentModel
	if err := r.db.WithContext(ctx).
		Where("idea_id = ?", strings.TrimSpace(ideaID)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_comments_by_idea_failed", err,
			"idea_id", strings.TrimSpace(ideaID),
		)
	}
	return toCommentEntities(rows), nil
}

func (r *Repository) UpsertTier(ctx context.Context, tier entities.Tier) error {
	row := tierModel{
		DeliberationID: strings.TrimSpace(tier.DeliberationID),
		Number:         tier.Number,
		Status:         string(tier.Status),
		StartedAt:      tier.StartedAt.UTC(),
		Deadline:       normalizeOptionalTime(tier.Deadline),
		UpdatedAt:      tier.UpdatedAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "deliberation_id"}, {Name: "number"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":     row.Status,
			"deadline":   row.Deadline,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("engine_repo_upsert_tier_failed", create.Error,
			"deliberation_id", row.DeliberationID,
			"tier", row.Number,
		)
	}
	return nil
}

func (r *Repository) GetTier(ctx context.Context, deliberationID string, number int) (entities.Tier, bool, error) {
	var row tierModel
	err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Where("number = ?", number).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Tier{}, false, nil
		}
		return entities.Tier{}, false, r.logError("engine_repo_get_tier_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
			"tier", number,
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListTiers(ctx context.Context, deliberationID string) ([]entities.Tier, error) {
	var rows []tierModel
	if err := r.db.WithContext(ctx).
		Where("deliberation_id = ?", strings.TrimSpace(deliberationID)).
		Order("number ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_tiers_failed", err,
			"deliberation_id", strings.TrimSpace(deliberationID),
		)
	}
	items := make([]entities.Tier, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("engine_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("engine_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("engine_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("engine_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("engine_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("engine_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("engine_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "deliberation/engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("engine repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.DeliberationRepository = (*Repository)(nil)
var _ ports.IdeaRepository = (*Repository)(nil)
var _ ports.CellRepository = (*Repository)(nil)
var _ ports.BallotRepository = (*Repository)(nil)
var _ ports.ReservationRepository = (*Repository)(nil)
var _ ports.CommentRepository = (*Repository)(nil)
var _ ports.TierRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
