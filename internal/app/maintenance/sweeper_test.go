package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/database/testutil"
	"github.com/GreyyDaze/orbit-server/internal/models"
)

// sweepAt builds a Sweeper whose clock reads the given instant.
func sweepAt(t *testing.T, db *gorm.DB, at time.Time) *Sweeper {
	t.Helper()
	sweeper, err := NewSweeper(db, WithNow(func() time.Time { return at }))
	require.NoError(t, err)
	return sweeper
}

func makeGhost(t *testing.T, db *gorm.DB, accountID *string) *models.Ghost {
	t.Helper()
	ghost := &models.Ghost{AccountID: accountID}
	require.NoError(t, db.Create(ghost).Error)
	return ghost
}

func makeBoard(t *testing.T, db *gorm.DB, ghostID string) *models.Board {
	t.Helper()
	board := &models.Board{
		Title:          "board",
		CreatorGhostID: ghostID,
		IsPublic:       true,
		AdminSecret:    uuid.NewString(),
	}
	require.NoError(t, db.Create(board).Error)
	return board
}

func TestSweepSoftDeletesAgedAnonymousData(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	anonymous := makeGhost(t, db, nil)
	board := makeBoard(t, db, anonymous.ID)

	account := &models.Account{Email: "kept@example.com"}
	require.NoError(t, db.Create(account).Error)
	claimed := makeGhost(t, db, &account.ID)
	claimedBoard := makeBoard(t, db, claimed.ID)

	t.Run("young data is untouched", func(t *testing.T) {
		stats, err := sweepAt(t, db, time.Now().Add(29*24*time.Hour)).Sweep(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.GhostsSoftDeleted)
		require.Zero(t, stats.BoardsSoftDeleted)
	})

	t.Run("aged anonymous data is marked", func(t *testing.T) {
		stats, err := sweepAt(t, db, time.Now().Add(31*24*time.Hour)).Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), stats.GhostsSoftDeleted)
		require.Equal(t, int64(1), stats.BoardsSoftDeleted)

		var reloaded models.Ghost
		require.NoError(t, db.First(&reloaded, "id = ?", anonymous.ID).Error)
		require.True(t, reloaded.IsSoftDeleted)
		require.NotNil(t, reloaded.SoftDeletedAt)

		var b models.Board
		require.NoError(t, db.First(&b, "id = ?", board.ID).Error)
		require.True(t, b.IsSoftDeleted)
	})

	t.Run("claimed data is exempt at any age", func(t *testing.T) {
		stats, err := sweepAt(t, db, time.Now().Add(365*24*time.Hour)).Sweep(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.GhostsSoftDeleted)
		require.Zero(t, stats.BoardsSoftDeleted)

		var g models.Ghost
		require.NoError(t, db.First(&g, "id = ?", claimed.ID).Error)
		require.False(t, g.IsSoftDeleted)

		var b models.Board
		require.NoError(t, db.First(&b, "id = ?", claimedBoard.ID).Error)
		require.False(t, b.IsSoftDeleted)
	})
}

func TestSweepHardDeletesAfterGrace(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	author := makeGhost(t, db, nil)
	voter := makeGhost(t, db, nil)
	board := makeBoard(t, db, author.ID)

	note := &models.Note{
		BoardID:           board.ID,
		CreatorGhostID:    author.ID,
		Content:           "doomed",
		Colour:            models.ColourYellow,
		AnonymousToPublic: true,
	}
	require.NoError(t, db.Create(note).Error)
	require.NoError(t, db.Create(&models.Upvote{NoteID: note.ID, GhostID: voter.ID}).Error)
	require.NoError(t, db.Create(&models.BoardInvite{BoardID: board.ID, Email: "x@example.com"}).Error)

	// First pass soft-deletes everything past the 30-day mark.
	softTime := time.Now().Add(31 * 24 * time.Hour)
	stats, err := sweepAt(t, db, softTime).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.GhostsSoftDeleted)
	require.Equal(t, int64(1), stats.BoardsSoftDeleted)

	t.Run("inside the grace window nothing is purged", func(t *testing.T) {
		stats, err := sweepAt(t, db, softTime.Add(6*24*time.Hour)).Sweep(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.BoardsHardDeleted)
		require.Zero(t, stats.GhostsHardDeleted)
	})

	t.Run("after the grace everything goes, dependents included", func(t *testing.T) {
		stats, err := sweepAt(t, db, softTime.Add(8*24*time.Hour)).Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), stats.BoardsHardDeleted)
		require.Equal(t, int64(2), stats.GhostsHardDeleted)

		for _, probe := range []struct {
			name  string
			model any
		}{
			{"boards", &models.Board{}},
			{"notes", &models.Note{}},
			{"upvotes", &models.Upvote{}},
			{"invites", &models.BoardInvite{}},
			{"ghosts", &models.Ghost{}},
		} {
			var count int64
			require.NoError(t, db.Model(probe.model).Count(&count).Error)
			require.Zero(t, count, "expected no %s left", probe.name)
		}
	})
}

func TestSweepHonoursBatchSize(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		makeGhost(t, db, nil)
	}

	at := time.Now().Add(40 * 24 * time.Hour)
	sweeper, err := NewSweeper(db,
		WithNow(func() time.Time { return at }),
		WithBatchSize(2),
	)
	require.NoError(t, err)

	// Soft stage marks all five; the hard stage drains in batches of two.
	first, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), first.GhostsSoftDeleted)

	later := at.Add(8 * 24 * time.Hour)
	sweeper, err = NewSweeper(db,
		WithNow(func() time.Time { return later }),
		WithBatchSize(2),
	)
	require.NoError(t, err)

	second, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), second.GhostsHardDeleted)

	var count int64
	require.NoError(t, db.Model(&models.Ghost{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanupVerificationCodes(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Now()
	used := now.Add(-time.Minute)

	codes := []models.VerificationCode{
		{Email: "a@example.com", CodeHash: "h1", ExpiresAt: now.Add(-time.Hour)},
		{Email: "b@example.com", CodeHash: "h2", ExpiresAt: now.Add(time.Hour), UsedAt: &used},
		{Email: "c@example.com", CodeHash: "h3", ExpiresAt: now.Add(time.Hour)},
	}
	for i := range codes {
		require.NoError(t, db.Create(&codes[i]).Error)
	}

	removed, err := CleanupVerificationCodes(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	var remaining []models.VerificationCode
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "c@example.com", remaining[0].Email)
}

func TestRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	makeGhost(t, db, nil)
	require.NoError(t, db.Create(&models.VerificationCode{
		Email:     "old@example.com",
		CodeHash:  "h",
		ExpiresAt: time.Now().Add(-time.Hour),
	}).Error)

	sweeper := sweepAt(t, db, time.Now().Add(31*24*time.Hour))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var ghost models.Ghost
	require.NoError(t, db.First(&ghost).Error)
	require.True(t, ghost.IsSoftDeleted)

	var count int64
	require.NoError(t, db.Model(&models.VerificationCode{}).Count(&count).Error)
	require.Zero(t, count)
}
