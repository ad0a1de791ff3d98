package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/auth"
	"github.com/GreyyDaze/orbit-server/internal/database/testutil"
	"github.com/GreyyDaze/orbit-server/internal/models"
)

type verificationFixture struct {
	db     *gorm.DB
	ghosts *GhostService
	svc    *VerificationService
	tokens *auth.TokenService
	clock  *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (f *fakeClock) Now() time.Time { return f.current }

func (f *fakeClock) Advance(d time.Duration) { f.current = f.current.Add(d) }

func newVerificationFixture(t *testing.T) *verificationFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	ghosts, err := NewGhostService(db)
	require.NoError(t, err)

	clock := &fakeClock{current: time.Now()}
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret"})
	require.NoError(t, err)

	svc, err := NewVerificationService(db, ghosts, tokens, nil,
		WithVerificationClock(clock.Now))
	require.NoError(t, err)

	return &verificationFixture{db: db, ghosts: ghosts, svc: svc, tokens: tokens, clock: clock}
}

func (f *verificationFixture) addBoard(t *testing.T, ghostID, title string) *models.Board {
	t.Helper()
	board := &models.Board{CreatorGhostID: ghostID, Title: title, AdminSecret: uuid.NewString()}
	require.NoError(t, f.db.Create(board).Error)
	return board
}

func TestSendCode(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	presented := uuid.NewString()
	result, err := f.svc.SendCode(ctx, "User@Example.com", presented)
	require.NoError(t, err)
	require.Len(t, result.Code, 6)
	require.Equal(t, presented, result.GhostID, "presented ghost is adopted for new emails")

	var record models.VerificationCode
	require.NoError(t, f.db.First(&record, "email = ?", "user@example.com").Error)
	require.NotEqual(t, result.Code, record.CodeHash, "codes are stored hashed")

	t.Run("registered email returns the account ghost", func(t *testing.T) {
		verify, err := f.svc.VerifyCode(ctx, "user@example.com", result.Code, presented)
		require.NoError(t, err)
		require.Equal(t, MergeLinked, verify.Status)

		again, err := f.svc.SendCode(ctx, "user@example.com", uuid.NewString())
		require.NoError(t, err)
		require.Equal(t, presented, again.GhostID)
	})
}

func TestVerifyCodeLinksFreshGhost(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	presented := uuid.NewString()
	sent, err := f.svc.SendCode(ctx, "new@example.com", presented)
	require.NoError(t, err)

	result, err := f.svc.VerifyCode(ctx, "new@example.com", sent.Code, presented)
	require.NoError(t, err)
	require.Equal(t, MergeLinked, result.Status)
	require.Equal(t, "new@example.com", result.Account.Email)
	require.NotNil(t, result.Ghost.AccountID)
	require.Equal(t, result.Account.ID, *result.Ghost.AccountID)
	require.NotEmpty(t, result.Tokens.AccessToken)
	require.NotEmpty(t, result.Tokens.RefreshToken)
}

func TestVerifyCodeRejectsBadCodes(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	presented := uuid.NewString()
	sent, err := f.svc.SendCode(ctx, "a@example.com", presented)
	require.NoError(t, err)

	t.Run("wrong code", func(t *testing.T) {
		wrong := "000000"
		if wrong == sent.Code {
			wrong = "000001"
		}
		_, err := f.svc.VerifyCode(ctx, "a@example.com", wrong, presented)
		require.Error(t, err)
	})

	t.Run("expired code", func(t *testing.T) {
		f.clock.Advance(11 * time.Minute)
		_, err := f.svc.VerifyCode(ctx, "a@example.com", sent.Code, presented)
		require.Error(t, err)
		f.clock.Advance(-11 * time.Minute)
	})
}

func TestVerifyCodeIsSingleUse(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	presented := uuid.NewString()
	sent, err := f.svc.SendCode(ctx, "once@example.com", presented)
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, "once@example.com", sent.Code, presented)
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, "once@example.com", sent.Code, presented)
	require.Error(t, err, "a consumed code cannot be replayed")
}

func TestVerifyCodeSwitchesToAccountGhost(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	// First sign-in establishes the account and its canonical ghost.
	first := uuid.NewString()
	sent, err := f.svc.SendCode(ctx, "returning@example.com", first)
	require.NoError(t, err)
	initial, err := f.svc.VerifyCode(ctx, "returning@example.com", sent.Code, first)
	require.NoError(t, err)
	require.Equal(t, MergeLinked, initial.Status)

	// Second sign-in from a fresh browser with an empty ghost.
	fresh := uuid.NewString()
	sent, err = f.svc.SendCode(ctx, "returning@example.com", fresh)
	require.NoError(t, err)
	result, err := f.svc.VerifyCode(ctx, "returning@example.com", sent.Code, fresh)
	require.NoError(t, err)

	require.Equal(t, MergeSwitched, result.Status)
	require.Equal(t, first, result.Ghost.ID, "session adopts the account's existing ghost")
}

func TestVerifyCodeConflictsOnDivergentData(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	// Establish the account with ghost G1.
	g1 := uuid.NewString()
	sent, err := f.svc.SendCode(ctx, "conflict@example.com", g1)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, "conflict@example.com", sent.Code, g1)
	require.NoError(t, err)

	// A different browser accumulates anonymous work on G2, then signs in.
	g2, err := f.ghosts.GetOrCreateGhost(ctx, uuid.NewString())
	require.NoError(t, err)
	f.addBoard(t, g2.ID, "weekend project")

	sent, err = f.svc.SendCode(ctx, "conflict@example.com", g2.ID)
	require.NoError(t, err)
	result, err := f.svc.VerifyCode(ctx, "conflict@example.com", sent.Code, g2.ID)
	require.NoError(t, err)

	require.Equal(t, MergeConflicted, result.Status)
	require.Len(t, result.AtRiskBoards, 1)
	require.Equal(t, "weekend project", result.AtRiskBoards[0].Title)
	require.NotEmpty(t, result.Tokens.AccessToken, "authentication succeeds despite the conflict")

	// G1 stays linked; G2 stays unlinked, available for explicit migration.
	var reloaded models.Ghost
	require.NoError(t, f.db.First(&reloaded, "id = ?", g2.ID).Error)
	require.Nil(t, reloaded.AccountID)

	var reloadedG1 models.Ghost
	require.NoError(t, f.db.First(&reloadedG1, "id = ?", g1).Error)
	require.NotNil(t, reloadedG1.AccountID)
}

func TestVerifyCodeRequiresConfirmationForPreSignupData(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	ghost, err := f.ghosts.GetOrCreateGhost(ctx, uuid.NewString())
	require.NoError(t, err)
	f.addBoard(t, ghost.ID, "anonymous board")

	sent, err := f.svc.SendCode(ctx, "brandnew@example.com", ghost.ID)
	require.NoError(t, err)
	result, err := f.svc.VerifyCode(ctx, "brandnew@example.com", sent.Code, ghost.ID)
	require.NoError(t, err)

	require.Equal(t, MergeConflicted, result.Status)
	require.Len(t, result.AtRiskBoards, 1)

	var reloaded models.Ghost
	require.NoError(t, f.db.First(&reloaded, "id = ?", ghost.ID).Error)
	require.Nil(t, reloaded.AccountID, "linking waits for an explicit migration")
}

func TestVerifyCodeNeverStealsAForeignGhost(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	// alice links her ghost.
	aliceGhost := uuid.NewString()
	sent, err := f.svc.SendCode(ctx, "alice@example.com", aliceGhost)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, "alice@example.com", sent.Code, aliceGhost)
	require.NoError(t, err)

	// bob presents alice's ghost id at verification time.
	sent, err = f.svc.SendCode(ctx, "bob@example.com", uuid.NewString())
	require.NoError(t, err)
	result, err := f.svc.VerifyCode(ctx, "bob@example.com", sent.Code, aliceGhost)
	require.NoError(t, err)

	require.Equal(t, MergeConflicted, result.Status)

	var reloaded models.Ghost
	require.NoError(t, f.db.First(&reloaded, "id = ?", aliceGhost).Error)
	require.NotNil(t, reloaded.AccountID)

	var alice models.Account
	require.NoError(t, f.db.First(&alice, "email = ?", "alice@example.com").Error)
	require.Equal(t, alice.ID, *reloaded.AccountID, "ghost stays with its original account")

	// Bob's session never carries alice's ghost: the result and the token
	// claim point at a ghost minted for bob's account instead.
	require.NotEqual(t, aliceGhost, result.Ghost.ID)
	require.NotNil(t, result.Ghost.AccountID)
	require.Equal(t, result.Account.ID, *result.Ghost.AccountID)

	claims, err := f.tokens.ValidateAccessToken(result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, result.Ghost.ID, claims.GhostID)
	require.NotEqual(t, aliceGhost, claims.GhostID)
}
