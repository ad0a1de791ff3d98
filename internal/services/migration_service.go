package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/logger"
)

// MigrationStats reports how many rows moved during a ghost migration.
type MigrationStats struct {
	Boards  int64 `json:"boards"`
	Notes   int64 `json:"notes"`
	Upvotes int64 `json:"upvotes"`
}

// MigrationService performs the explicit ghost-to-account data migration:
// every board, note and upvote owned by a source ghost is reassigned to the
// account's canonical ghost in one transaction. Partial migration is never
// observable.
type MigrationService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewMigrationService constructs a MigrationService.
func NewMigrationService(db *gorm.DB) (*MigrationService, error) {
	if db == nil {
		return nil, errors.New("migration service: db is required")
	}
	return &MigrationService{db: db, log: logger.WithModule("migration")}, nil
}

// Migrate moves all data from sourceGhostID onto the account's ghost. When
// the account owns no ghost yet, the source ghost becomes its canonical
// ghost. Unknown source ghosts fail with NotFound; an account linked to a
// third unrelated ghost keeps it as the migration target.
func (s *MigrationService) Migrate(ctx context.Context, accountID, sourceGhostID string) (*MigrationStats, error) {
	stats := &MigrationStats{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source models.Ghost
		if err := tx.First(&source, "id = ?", sourceGhostID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound.WithMessage("source ghost not found")
			}
			return fmt.Errorf("migration: lookup source: %w", err)
		}

		target := source
		var existing models.Ghost
		err := tx.First(&existing, "account_id = ?", accountID).Error
		switch {
		case err == nil:
			target = existing
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("migration: lookup target: %w", err)
		}

		if source.ID != target.ID {
			result := tx.Model(&models.Board{}).
				Where("creator_ghost_id = ?", source.ID).
				Update("creator_ghost_id", target.ID)
			if result.Error != nil {
				return fmt.Errorf("migration: move boards: %w", result.Error)
			}
			stats.Boards = result.RowsAffected

			result = tx.Model(&models.Note{}).
				Where("creator_ghost_id = ?", source.ID).
				Update("creator_ghost_id", target.ID)
			if result.Error != nil {
				return fmt.Errorf("migration: move notes: %w", result.Error)
			}
			stats.Notes = result.RowsAffected

			// Drop source votes that would collide with the target's own
			// votes before reassigning the rest, keeping the (note, ghost)
			// uniqueness intact.
			if err := tx.Where(
				"ghost_id = ? AND note_id IN (?)",
				source.ID,
				tx.Model(&models.Upvote{}).Select("note_id").Where("ghost_id = ?", target.ID),
			).Delete(&models.Upvote{}).Error; err != nil {
				return fmt.Errorf("migration: drop colliding upvotes: %w", err)
			}

			result = tx.Model(&models.Upvote{}).
				Where("ghost_id = ?", source.ID).
				Update("ghost_id", target.ID)
			if result.Error != nil {
				return fmt.Errorf("migration: move upvotes: %w", result.Error)
			}
			stats.Upvotes = result.RowsAffected
		}

		return linkGhostToAccount(tx, target.ID, accountID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ghost data migrated",
		zap.String("account_id", accountID),
		zap.String("source_ghost", sourceGhostID),
		zap.Int64("boards", stats.Boards),
		zap.Int64("notes", stats.Notes),
		zap.Int64("upvotes", stats.Upvotes),
	)

	return stats, nil
}
