package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/models"
	"github.com/GreyyDaze/orbit-server/pkg/logger"
	"github.com/GreyyDaze/orbit-server/pkg/metrics"
)

const (
	defaultSoftDeleteAge   = 30 * 24 * time.Hour
	defaultHardDeleteGrace = 7 * 24 * time.Hour
	defaultBatchSize       = 500
	defaultSweepSpec       = "@hourly"
	defaultCodeSpec        = "@daily"
)

// Sweeper enforces the anonymous-data retention policy: unclaimed ghosts and
// boards are soft-deleted a fixed age after creation and hard-deleted after a
// further grace period. Claimed data is exempt from both stages. It also
// prunes spent verification codes.
type Sweeper struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	softAge   time.Duration
	hardGrace time.Duration
	batchSize int

	sweepSchedule string
	codeSchedule  string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for age comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetentionWindow adjusts the soft-delete age and the hard-delete grace.
func WithRetentionWindow(softAge, hardGrace time.Duration) Option {
	return func(s *Sweeper) {
		if softAge > 0 {
			s.softAge = softAge
		}
		if hardGrace > 0 {
			s.hardGrace = hardGrace
		}
	}
}

// WithBatchSize bounds how many rows each hard-delete pass removes per table.
func WithBatchSize(size int) Option {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSweepSchedule overrides the cron expression for the retention sweep.
func WithSweepSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.sweepSchedule = spec
		}
	}
}

// WithCodeSchedule overrides the cron expression for verification-code cleanup.
func WithCodeSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.codeSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, errors.New("sweeper: db is required")
	}

	sweeper := &Sweeper{
		db:            db,
		now:           time.Now,
		softAge:       defaultSoftDeleteAge,
		hardGrace:     defaultHardDeleteGrace,
		batchSize:     defaultBatchSize,
		sweepSchedule: defaultSweepSpec,
		codeSchedule:  defaultCodeSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper, nil
}

// Start registers the jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.Warn("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.codeSchedule, func() {
		if _, err := CleanupVerificationCodes(context.Background(), s.db, s.now()); err != nil {
			s.log.Warn("verification code cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every maintenance routine sequentially. Primarily used in
// tests and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := s.Sweep(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := CleanupVerificationCodes(ctx, s.db, s.now()); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// SweepStats counts rows affected by one retention pass.
type SweepStats struct {
	GhostsSoftDeleted int64
	BoardsSoftDeleted int64
	GhostsHardDeleted int64
	BoardsHardDeleted int64
}

// Sweep runs both retention stages. Soft deletion marks rows; hard deletion
// removes soft-deleted rows whose grace has elapsed, dependents first.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	now := s.now()
	stats := SweepStats{}

	softCutoff := now.Add(-s.softAge)
	hardCutoff := now.Add(-s.hardGrace)

	softGhosts, err := s.softDeleteGhosts(ctx, now, softCutoff)
	if err != nil {
		return stats, err
	}
	stats.GhostsSoftDeleted = softGhosts

	softBoards, err := s.softDeleteBoards(ctx, now, softCutoff)
	if err != nil {
		return stats, err
	}
	stats.BoardsSoftDeleted = softBoards

	hardBoards, err := s.hardDeleteBoards(ctx, hardCutoff)
	if err != nil {
		return stats, err
	}
	stats.BoardsHardDeleted = hardBoards

	hardGhosts, err := s.hardDeleteGhosts(ctx, hardCutoff)
	if err != nil {
		return stats, err
	}
	stats.GhostsHardDeleted = hardGhosts

	metrics.RetentionPurged.WithLabelValues("ghost", "soft").Add(float64(stats.GhostsSoftDeleted))
	metrics.RetentionPurged.WithLabelValues("board", "soft").Add(float64(stats.BoardsSoftDeleted))
	metrics.RetentionPurged.WithLabelValues("ghost", "hard").Add(float64(stats.GhostsHardDeleted))
	metrics.RetentionPurged.WithLabelValues("board", "hard").Add(float64(stats.BoardsHardDeleted))

	if stats != (SweepStats{}) {
		s.log.Info("retention sweep complete",
			zap.Int64("ghosts_soft", stats.GhostsSoftDeleted),
			zap.Int64("boards_soft", stats.BoardsSoftDeleted),
			zap.Int64("ghosts_hard", stats.GhostsHardDeleted),
			zap.Int64("boards_hard", stats.BoardsHardDeleted),
		)
	}
	return stats, nil
}

func (s *Sweeper) softDeleteGhosts(ctx context.Context, now, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Ghost{}).
		Where("account_id IS NULL AND is_soft_deleted = ? AND created_at < ?", false, cutoff).
		Updates(map[string]any{"is_soft_deleted": true, "soft_deleted_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("sweeper: soft delete ghosts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Sweeper) softDeleteBoards(ctx context.Context, now, cutoff time.Time) (int64, error) {
	// A board is exempt while its creator ghost is linked to an account.
	result := s.db.WithContext(ctx).Model(&models.Board{}).
		Where("is_soft_deleted = ? AND created_at < ?", false, cutoff).
		Where("creator_ghost_id IN (?)",
			s.db.Model(&models.Ghost{}).Select("id").Where("account_id IS NULL")).
		Updates(map[string]any{"is_soft_deleted": true, "soft_deleted_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("sweeper: soft delete boards: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Sweeper) hardDeleteBoards(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		var ids []string
		if err := s.db.WithContext(ctx).Model(&models.Board{}).
			Where("is_soft_deleted = ? AND soft_deleted_at < ?", true, cutoff).
			Limit(s.batchSize).
			Pluck("id", &ids).Error; err != nil {
			return total, fmt.Errorf("sweeper: expired boards: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			noteIDs := tx.Model(&models.Note{}).Select("id").Where("board_id IN ?", ids)
			if err := tx.Where("note_id IN (?)", noteIDs).Delete(&models.Upvote{}).Error; err != nil {
				return fmt.Errorf("sweeper: board upvotes: %w", err)
			}
			if err := tx.Where("board_id IN ?", ids).Delete(&models.Note{}).Error; err != nil {
				return fmt.Errorf("sweeper: board notes: %w", err)
			}
			if err := tx.Where("board_id IN ?", ids).Delete(&models.BoardInvite{}).Error; err != nil {
				return fmt.Errorf("sweeper: board invites: %w", err)
			}
			if err := tx.Where("board_id IN ?", ids).Delete(&models.AccessRequest{}).Error; err != nil {
				return fmt.Errorf("sweeper: board access requests: %w", err)
			}
			if err := tx.Where("id IN ?", ids).Delete(&models.Board{}).Error; err != nil {
				return fmt.Errorf("sweeper: boards: %w", err)
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += int64(len(ids))
		if len(ids) < s.batchSize {
			return total, nil
		}
	}
}

func (s *Sweeper) hardDeleteGhosts(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		var ids []string
		if err := s.db.WithContext(ctx).Model(&models.Ghost{}).
			Where("account_id IS NULL AND is_soft_deleted = ? AND soft_deleted_at < ?", true, cutoff).
			Limit(s.batchSize).
			Pluck("id", &ids).Error; err != nil {
			return total, fmt.Errorf("sweeper: expired ghosts: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Any boards the ghost still owns were soft-deleted no later
			// than the ghost itself, so they are already gone or going.
			noteIDs := tx.Model(&models.Note{}).Select("id").Where("creator_ghost_id IN ?", ids)
			if err := tx.Where("note_id IN (?)", noteIDs).Delete(&models.Upvote{}).Error; err != nil {
				return fmt.Errorf("sweeper: ghost note upvotes: %w", err)
			}
			if err := tx.Where("creator_ghost_id IN ?", ids).Delete(&models.Note{}).Error; err != nil {
				return fmt.Errorf("sweeper: ghost notes: %w", err)
			}
			if err := tx.Where("ghost_id IN ?", ids).Delete(&models.Upvote{}).Error; err != nil {
				return fmt.Errorf("sweeper: ghost upvotes: %w", err)
			}
			if err := tx.Where("ghost_id IN ?", ids).Delete(&models.AccessRequest{}).Error; err != nil {
				return fmt.Errorf("sweeper: ghost access requests: %w", err)
			}

			// Orphaned boards block the ghost delete; purge them early.
			boardIDs := tx.Model(&models.Board{}).Select("id").Where("creator_ghost_id IN ?", ids)
			if err := tx.Where("board_id IN (?)", boardIDs).Delete(&models.BoardInvite{}).Error; err != nil {
				return fmt.Errorf("sweeper: orphan board invites: %w", err)
			}
			if err := tx.Where("board_id IN (?)", boardIDs).Delete(&models.AccessRequest{}).Error; err != nil {
				return fmt.Errorf("sweeper: orphan board requests: %w", err)
			}
			if err := tx.Where("board_id IN (?)", boardIDs).Delete(&models.Note{}).Error; err != nil {
				return fmt.Errorf("sweeper: orphan board notes: %w", err)
			}
			if err := tx.Where("creator_ghost_id IN ?", ids).Delete(&models.Board{}).Error; err != nil {
				return fmt.Errorf("sweeper: orphan boards: %w", err)
			}

			if err := tx.Where("id IN ?", ids).Delete(&models.Ghost{}).Error; err != nil {
				return fmt.Errorf("sweeper: ghosts: %w", err)
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += int64(len(ids))
		if len(ids) < s.batchSize {
			return total, nil
		}
	}
}

// CleanupVerificationCodes removes expired or consumed one-time codes.
func CleanupVerificationCodes(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup codes: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", now).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}
