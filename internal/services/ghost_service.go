package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
)

// GhostService is the identity store for anonymous profiles. Unknown ghost
// ids presented by clients are materialized transparently: client-generated
// identifiers may arrive before the server ever acknowledged them, and
// treating that as an error would surface races to users.
type GhostService struct {
	db *gorm.DB
}

// NewGhostService constructs a GhostService.
func NewGhostService(db *gorm.DB) (*GhostService, error) {
	if db == nil {
		return nil, errors.New("ghost service: db is required")
	}
	return &GhostService{db: db}, nil
}

// CreateGhost mints a fresh anonymous profile.
func (s *GhostService) CreateGhost(ctx context.Context) (*models.Ghost, error) {
	ghost := &models.Ghost{}
	if err := s.db.WithContext(ctx).Create(ghost).Error; err != nil {
		return nil, fmt.Errorf("ghost service: create: %w", err)
	}
	return ghost, nil
}

// GetOrCreateGhost resolves a ghost by its opaque id, materializing the row
// when absent. Safe under concurrent first contact: a duplicate-creation
// race collapses onto the winner via the primary key constraint.
func (s *GhostService) GetOrCreateGhost(ctx context.Context, id string) (*models.Ghost, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewBadRequest("ghost id must be a valid UUID")
	}

	var ghost models.Ghost
	err := s.db.WithContext(ctx).First(&ghost, "id = ?", id).Error
	if err == nil {
		return &ghost, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ghost service: lookup: %w", err)
	}

	ghost = models.Ghost{BaseModel: models.BaseModel{ID: id}}
	if createErr := s.db.WithContext(ctx).Create(&ghost).Error; createErr != nil {
		if !isUniqueConstraintError(createErr) {
			return nil, fmt.Errorf("ghost service: materialize: %w", createErr)
		}
		// Lost the race; the row exists now.
		if err := s.db.WithContext(ctx).First(&ghost, "id = ?", id).Error; err != nil {
			return nil, fmt.Errorf("ghost service: lookup after race: %w", err)
		}
	}
	return &ghost, nil
}

// FindAccountGhost returns the account's linked ghost, or nil when the
// account owns none.
func (s *GhostService) FindAccountGhost(ctx context.Context, accountID string) (*models.Ghost, error) {
	var ghost models.Ghost
	err := s.db.WithContext(ctx).First(&ghost, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ghost service: account ghost lookup: %w", err)
	}
	return &ghost, nil
}

// LinkGhostToAccount ties a ghost to an account, enforcing the one-to-one
// invariant in both directions inside a single transaction. A ghost linked
// to a different account, or an account linked to a different ghost, fails
// with Conflict and leaves no partial state.
func (s *GhostService) LinkGhostToAccount(ctx context.Context, ghostID, accountID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return linkGhostToAccount(tx, ghostID, accountID)
	})
}

// linkGhostToAccount performs the link inside an existing transaction so
// larger operations (merge, migrate, claim) can compose it atomically.
func linkGhostToAccount(tx *gorm.DB, ghostID, accountID string) error {
	var ghost models.Ghost
	if err := tx.First(&ghost, "id = ?", ghostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound.WithMessage("ghost not found")
		}
		return fmt.Errorf("link ghost: lookup ghost: %w", err)
	}

	if ghost.AccountID != nil {
		if *ghost.AccountID == accountID {
			return nil
		}
		return apperrors.NewConflict("ghost is already linked to another account")
	}

	var existing models.Ghost
	err := tx.First(&existing, "account_id = ?", accountID).Error
	switch {
	case err == nil:
		if existing.ID != ghostID {
			return apperrors.NewConflict("account is already linked to another ghost")
		}
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("link ghost: lookup account ghost: %w", err)
	}

	result := tx.Model(&models.Ghost{}).
		Where("id = ? AND account_id IS NULL", ghostID).
		Update("account_id", accountID)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return apperrors.NewConflict("account is already linked to another ghost")
		}
		return fmt.Errorf("link ghost: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// A concurrent transaction linked the ghost first.
		return apperrors.NewConflict("ghost is already linked to another account")
	}
	return nil
}

// HasAnonymousData reports whether the ghost authored any board or note.
func (s *GhostService) HasAnonymousData(ctx context.Context, ghostID string) (bool, error) {
	return ghostHasData(s.db.WithContext(ctx), ghostID)
}

func ghostHasData(tx *gorm.DB, ghostID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Board{}).Where("creator_ghost_id = ?", ghostID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("ghost data: count boards: %w", err)
	}
	if count > 0 {
		return true, nil
	}
	if err := tx.Model(&models.Note{}).Where("creator_ghost_id = ?", ghostID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("ghost data: count notes: %w", err)
	}
	return count > 0, nil
}
