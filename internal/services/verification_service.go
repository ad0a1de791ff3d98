package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/auth"
	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/logger"
	"github.com/GreyyDaze/orbit-server/pkg/mail"
)

const (
	defaultCodeExpiry = 10 * time.Minute
	codeDigits        = 6
)

// MergeStatus describes how an OTP verification resolved the relationship
// between the presented ghost and the account.
type MergeStatus string

const (
	// MergeLinked means the presented ghost is (now) the account's ghost.
	MergeLinked MergeStatus = "LINKED"
	// MergeSwitched means the presented ghost was empty and the session
	// silently switched to the account's existing ghost.
	MergeSwitched MergeStatus = "SWITCHED"
	// MergeConflicted means both sides carry data; nothing was linked and
	// an explicit migration is required.
	MergeConflicted MergeStatus = "CONFLICTED"
)

// BoardSummary lists a board at risk in a merge conflict.
type BoardSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// SendCodeResult carries the issued code metadata back to the handler.
type SendCodeResult struct {
	// GhostID is the authoritative ghost for this session: the account's
	// existing ghost when the email is already registered, otherwise the
	// presented (or freshly minted) one.
	GhostID string
	// Code is the plaintext 6-digit code, exposed so environments without
	// SMTP can still complete the flow.
	Code string
}

// VerifyResult is the outcome of a successful OTP verification. Tokens are
// always issued: authentication succeeds independently of merge resolution.
type VerifyResult struct {
	Account      *models.Account
	Ghost        *models.Ghost
	Status       MergeStatus
	AtRiskBoards []BoardSummary
	Tokens       auth.TokenPair
}

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationExpiry overrides the code lifetime.
func WithVerificationExpiry(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationService owns the OTP flow and the ghost/account merge
// protocol that runs when a verification succeeds.
type VerificationService struct {
	db     *gorm.DB
	ghosts *GhostService
	tokens *auth.TokenService
	mailer mail.Mailer
	expiry time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewVerificationService constructs a VerificationService.
func NewVerificationService(db *gorm.DB, ghosts *GhostService, tokens *auth.TokenService, mailer mail.Mailer, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}
	if ghosts == nil {
		return nil, errors.New("verification service: ghost service is required")
	}
	if tokens == nil {
		return nil, errors.New("verification service: token service is required")
	}

	service := &VerificationService{
		db:     db,
		ghosts: ghosts,
		tokens: tokens,
		mailer: mailer,
		expiry: defaultCodeExpiry,
		now:    time.Now,
		log:    logger.WithModule("verification"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SendCode issues a one-time code for the email and dispatches it when a
// mailer is configured. It also resolves the authoritative ghost id for the
// session so clients can adopt it before verifying.
func (s *VerificationService) SendCode(ctx context.Context, email, presentedGhostID string) (*SendCodeResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("verification service: generate code: %w", err)
	}

	record := models.VerificationCode{
		Email:     email,
		CodeHash:  codeHash(code),
		ExpiresAt: s.now().Add(s.expiry),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("verification service: store code: %w", err)
	}

	ghostID, err := s.sessionGhostID(ctx, email, presentedGhostID)
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		msg := mail.Message{
			To:      []string{email},
			Subject: "Your Orbit sign-in code",
			Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.expiry.Minutes())),
		}
		if mailErr := s.mailer.Send(ctx, msg); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return nil, fmt.Errorf("verification service: send email: %w", mailErr)
		}
	}

	return &SendCodeResult{GhostID: ghostID, Code: code}, nil
}

// sessionGhostID picks the ghost the client should use for this sign-in:
// the account's canonical ghost when the email is registered (minting one
// if the account somehow has none), otherwise the presented ghost,
// otherwise a provisional one so verification has something to link.
func (s *VerificationService) sessionGhostID(ctx context.Context, email, presentedGhostID string) (string, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "email = ?", email).Error
	switch {
	case err == nil:
		ghost, err := s.ghosts.FindAccountGhost(ctx, account.ID)
		if err != nil {
			return "", err
		}
		if ghost != nil {
			return ghost.ID, nil
		}
		minted := models.Ghost{AccountID: &account.ID}
		if err := s.db.WithContext(ctx).Create(&minted).Error; err != nil {
			return "", fmt.Errorf("verification service: mint account ghost: %w", err)
		}
		return minted.ID, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", fmt.Errorf("verification service: account lookup: %w", err)
	}

	if strings.TrimSpace(presentedGhostID) != "" {
		ghost, err := s.ghosts.GetOrCreateGhost(ctx, presentedGhostID)
		if err != nil {
			return "", err
		}
		return ghost.ID, nil
	}

	ghost, err := s.ghosts.CreateGhost(ctx)
	if err != nil {
		return "", err
	}
	return ghost.ID, nil
}

// VerifyCode validates a one-time code and runs the merge protocol for the
// presented ghost. The code is consumed on success regardless of how the
// merge resolves; tokens are issued in every non-error outcome.
func (s *VerificationService) VerifyCode(ctx context.Context, email, code, ghostID string) (*VerifyResult, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(code) == "" {
		return nil, apperrors.NewBadRequest("email and code are required")
	}

	result := &VerifyResult{Status: MergeLinked}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		var record models.VerificationCode
		err := tx.Where("email = ? AND code_hash = ?", email, codeHash(code)).
			Order("created_at DESC").
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewBadRequest("invalid or expired code")
		}
		if err != nil {
			return fmt.Errorf("verification service: code lookup: %w", err)
		}
		if !record.IsValid(now) {
			return apperrors.NewBadRequest("invalid or expired code")
		}

		record.UsedAt = &now
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("verification service: consume code: %w", err)
		}

		account, err := getOrCreateAccount(tx, email)
		if err != nil {
			return err
		}

		ghost, err := getOrCreateGhostTx(tx, ghostID)
		if err != nil {
			return err
		}

		hasData, err := ghostHasData(tx, ghost.ID)
		if err != nil {
			return err
		}

		var accountGhost models.Ghost
		hasAccountGhost := true
		err = tx.First(&accountGhost, "account_id = ?", account.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			hasAccountGhost = false
		} else if err != nil {
			return fmt.Errorf("verification service: account ghost lookup: %w", err)
		}

		conflicted := false
		switch {
		case hasAccountGhost && accountGhost.ID != ghost.ID:
			if hasData {
				// Returning user signing in from a browser that already
				// accumulated anonymous work: never auto-merge.
				conflicted = true
			} else {
				// Empty current ghost; silently adopt the account's ghost.
				ghost = &accountGhost
				result.Status = MergeSwitched
			}
		default:
			// Data on an unlinked ghost requires an explicit confirm step,
			// even for a brand-new account: pre-signup work becomes
			// permanently tied to the account once linked.
			if hasData && !ghost.IsClaimed() {
				conflicted = true
			}
		}

		if conflicted {
			result.Status = MergeConflicted
			boards, err := boardSummaries(tx, ghost.ID)
			if err != nil {
				return err
			}
			result.AtRiskBoards = boards
		} else if !ghost.IsClaimed() {
			if err := linkGhostToAccount(tx, ghost.ID, account.ID); err != nil {
				return err
			}
			ghost.AccountID = &account.ID
		} else if *ghost.AccountID != account.ID {
			// Presented ghost belongs to a different account; treat like a
			// conflict so the caller can decide, rather than stealing it.
			result.Status = MergeConflicted
			boards, err := boardSummaries(tx, ghost.ID)
			if err != nil {
				return err
			}
			result.AtRiskBoards = boards
		}

		result.Account = account
		result.Ghost = ghost
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The session ghost in a conflict is the account's own ghost when it has
	// one; the presented ghost stays untouched for migration. A ghost linked
	// to a different account never enters the session or the result: the
	// account gets its own minted ghost instead.
	sessionGhost := result.Ghost
	if result.Status == MergeConflicted {
		existing, err := s.ghosts.FindAccountGhost(ctx, result.Account.ID)
		if err != nil {
			return nil, err
		}
		foreign := sessionGhost.IsClaimed() && *sessionGhost.AccountID != result.Account.ID
		switch {
		case existing != nil:
			sessionGhost = existing
		case foreign:
			minted := models.Ghost{AccountID: &result.Account.ID}
			if err := s.db.WithContext(ctx).Create(&minted).Error; err != nil {
				return nil, fmt.Errorf("verification service: mint account ghost: %w", err)
			}
			sessionGhost = &minted
		}
		if foreign {
			result.Ghost = sessionGhost
		}
	}

	pair, err := s.tokens.IssuePair(result.Account.ID, sessionGhost.ID)
	if err != nil {
		return nil, fmt.Errorf("verification service: issue tokens: %w", err)
	}
	result.Tokens = pair

	s.log.Info("identity verified",
		zap.String("account_id", result.Account.ID),
		zap.String("status", string(result.Status)),
	)

	return result, nil
}

func getOrCreateAccount(tx *gorm.DB, email string) (*models.Account, error) {
	var account models.Account
	err := tx.First(&account, "email = ?", email).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	account = models.Account{Email: email, DisplayName: email}
	if createErr := tx.Create(&account).Error; createErr != nil {
		if !isUniqueConstraintError(createErr) {
			return nil, fmt.Errorf("account create: %w", createErr)
		}
		if err := tx.First(&account, "email = ?", email).Error; err != nil {
			return nil, fmt.Errorf("account lookup after race: %w", err)
		}
	}
	return &account, nil
}

func getOrCreateGhostTx(tx *gorm.DB, id string) (*models.Ghost, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		// No ghost presented at all; mint one so the merge has a subject.
		ghost := models.Ghost{}
		if err := tx.Create(&ghost).Error; err != nil {
			return nil, fmt.Errorf("ghost mint: %w", err)
		}
		return &ghost, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewBadRequest("ghost id must be a valid UUID")
	}

	var ghost models.Ghost
	err := tx.First(&ghost, "id = ?", id).Error
	if err == nil {
		return &ghost, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ghost lookup: %w", err)
	}

	ghost = models.Ghost{BaseModel: models.BaseModel{ID: id}}
	if createErr := tx.Create(&ghost).Error; createErr != nil {
		if !isUniqueConstraintError(createErr) {
			return nil, fmt.Errorf("ghost materialize: %w", createErr)
		}
		if err := tx.First(&ghost, "id = ?", id).Error; err != nil {
			return nil, fmt.Errorf("ghost lookup after race: %w", err)
		}
	}
	return &ghost, nil
}

func boardSummaries(tx *gorm.DB, ghostID string) ([]BoardSummary, error) {
	var boards []models.Board
	if err := tx.Where("creator_ghost_id = ? AND is_soft_deleted = ?", ghostID, false).
		Order("created_at DESC").
		Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("board summaries: %w", err)
	}

	summaries := make([]BoardSummary, 0, len(boards))
	for _, b := range boards {
		summaries = append(summaries, BoardSummary{ID: b.ID, Title: b.Title, CreatedAt: b.CreatedAt})
	}
	return summaries, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func codeHash(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
