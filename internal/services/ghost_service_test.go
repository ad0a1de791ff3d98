package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/database/testutil"
	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
)

func newGhostService(t *testing.T) (*GhostService, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t)
	svc, err := NewGhostService(db)
	require.NoError(t, err)
	return svc, db
}

func createAccount(t *testing.T, db *gorm.DB, email string) *models.Account {
	t.Helper()
	account := &models.Account{Email: email}
	require.NoError(t, db.Create(account).Error)
	return account
}

func TestCreateGhost(t *testing.T) {
	svc, db := newGhostService(t)

	ghost, err := svc.CreateGhost(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ghost.ID)
	require.Nil(t, ghost.AccountID)

	var count int64
	require.NoError(t, db.Model(&models.Ghost{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGetOrCreateGhost(t *testing.T) {
	svc, _ := newGhostService(t)
	ctx := context.Background()

	t.Run("materializes a client-minted id", func(t *testing.T) {
		id := uuid.NewString()
		ghost, err := svc.GetOrCreateGhost(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, ghost.ID)

		again, err := svc.GetOrCreateGhost(ctx, id)
		require.NoError(t, err)
		require.Equal(t, ghost.ID, again.ID)
	})

	t.Run("rejects a malformed id", func(t *testing.T) {
		_, err := svc.GetOrCreateGhost(ctx, "not-a-uuid")
		require.Error(t, err)
		appErr := apperrors.FromError(err)
		require.Equal(t, 400, appErr.StatusCode)
	})
}

func TestLinkGhostToAccount(t *testing.T) {
	svc, db := newGhostService(t)
	ctx := context.Background()

	account := createAccount(t, db, "owner@example.com")
	ghost, err := svc.CreateGhost(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.LinkGhostToAccount(ctx, ghost.ID, account.ID))

	var reloaded models.Ghost
	require.NoError(t, db.First(&reloaded, "id = ?", ghost.ID).Error)
	require.NotNil(t, reloaded.AccountID)
	require.Equal(t, account.ID, *reloaded.AccountID)

	t.Run("relinking the same pair is a no-op", func(t *testing.T) {
		require.NoError(t, svc.LinkGhostToAccount(ctx, ghost.ID, account.ID))
	})

	t.Run("account cannot hold a second ghost", func(t *testing.T) {
		other, err := svc.CreateGhost(ctx)
		require.NoError(t, err)
		err = svc.LinkGhostToAccount(ctx, other.ID, account.ID)
		require.Error(t, err)
		require.Equal(t, 409, apperrors.FromError(err).StatusCode)
	})

	t.Run("ghost cannot switch accounts", func(t *testing.T) {
		second := createAccount(t, db, "second@example.com")
		err := svc.LinkGhostToAccount(ctx, ghost.ID, second.ID)
		require.Error(t, err)
		require.Equal(t, 409, apperrors.FromError(err).StatusCode)
	})
}

// The guarded update inside linkGhostToAccount is what keeps two requests
// from linking the same ghost or the same account twice. These tests stage
// the competing write between the loser's read and its update, which is the
// interleaving a real race produces.
func TestLinkGhostToAccountLosesRaceCleanly(t *testing.T) {
	t.Run("ghost linked first by a competing request", func(t *testing.T) {
		svc, db := newGhostService(t)
		ctx := context.Background()

		account := createAccount(t, db, "late@example.com")
		interloper := createAccount(t, db, "early@example.com")
		ghost, err := svc.CreateGhost(ctx)
		require.NoError(t, err)

		fired := false
		require.NoError(t, db.Callback().Update().Before("gorm:update").Register("link_test_steal_ghost", func(tx *gorm.DB) {
			if tx.Statement.Table != "ghosts" || fired {
				return
			}
			fired = true
			execErr := tx.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE ghosts SET account_id = ? WHERE id = ?", interloper.ID, ghost.ID).Error
			if execErr != nil {
				_ = tx.AddError(execErr)
			}
		}))
		t.Cleanup(func() { _ = db.Callback().Update().Remove("link_test_steal_ghost") })

		err = svc.LinkGhostToAccount(ctx, ghost.ID, account.ID)
		require.True(t, fired)
		require.Error(t, err)
		require.Equal(t, 409, apperrors.FromError(err).StatusCode)

		// The loser leaves no partial state behind.
		none, err := svc.FindAccountGhost(ctx, account.ID)
		require.NoError(t, err)
		require.Nil(t, none)

		// The winner's link still goes through, and exactly one account
		// holds the ghost afterwards.
		require.NoError(t, svc.LinkGhostToAccount(ctx, ghost.ID, interloper.ID))
		linked, err := svc.FindAccountGhost(ctx, interloper.ID)
		require.NoError(t, err)
		require.NotNil(t, linked)
		require.Equal(t, ghost.ID, linked.ID)

		err = svc.LinkGhostToAccount(ctx, ghost.ID, account.ID)
		require.Error(t, err)
		require.Equal(t, 409, apperrors.FromError(err).StatusCode)
	})

	t.Run("account claimed first by a competing request", func(t *testing.T) {
		svc, db := newGhostService(t)
		ctx := context.Background()

		account := createAccount(t, db, "contested@example.com")
		loser, err := svc.CreateGhost(ctx)
		require.NoError(t, err)
		winner, err := svc.CreateGhost(ctx)
		require.NoError(t, err)

		fired := false
		require.NoError(t, db.Callback().Update().Before("gorm:update").Register("link_test_claim_account", func(tx *gorm.DB) {
			if tx.Statement.Table != "ghosts" || fired {
				return
			}
			fired = true
			execErr := tx.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE ghosts SET account_id = ? WHERE id = ?", account.ID, winner.ID).Error
			if execErr != nil {
				_ = tx.AddError(execErr)
			}
		}))
		t.Cleanup(func() { _ = db.Callback().Update().Remove("link_test_claim_account") })

		err = svc.LinkGhostToAccount(ctx, loser.ID, account.ID)
		require.True(t, fired)
		require.Error(t, err)
		require.Equal(t, 409, apperrors.FromError(err).StatusCode)

		// No half-applied link survives the conflict on either side.
		var unlinked models.Ghost
		require.NoError(t, db.First(&unlinked, "id = ?", loser.ID).Error)
		require.Nil(t, unlinked.AccountID)

		var count int64
		require.NoError(t, db.Model(&models.Ghost{}).Where("account_id = ?", account.ID).Count(&count).Error)
		require.LessOrEqual(t, count, int64(1))

		// The account can still complete a link once the dust settles.
		require.NoError(t, svc.LinkGhostToAccount(ctx, loser.ID, account.ID))
		linked, err := svc.FindAccountGhost(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, linked)
		require.Equal(t, loser.ID, linked.ID)
	})
}

func TestHasAnonymousData(t *testing.T) {
	svc, db := newGhostService(t)
	ctx := context.Background()

	ghost, err := svc.CreateGhost(ctx)
	require.NoError(t, err)

	empty, err := svc.HasAnonymousData(ctx, ghost.ID)
	require.NoError(t, err)
	require.False(t, empty)

	board := &models.Board{CreatorGhostID: ghost.ID, Title: "t", AdminSecret: uuid.NewString()}
	require.NoError(t, db.Create(board).Error)

	loaded, err := svc.HasAnonymousData(ctx, ghost.ID)
	require.NoError(t, err)
	require.True(t, loaded)
}
