package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/authz"
	"github.com/GreyyDaze/orbit-server/internal/events"
	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/logger"
	"github.com/GreyyDaze/orbit-server/pkg/metrics"
)

// BoardService applies mutations to boards and their access artefacts
// (invites, access requests). Every accepted mutation publishes exactly one
// normalized event to the board's subscriber group after the transaction
// commits.
type BoardService struct {
	db   *gorm.DB
	sink events.Sink
	now  func() time.Time
	log  *zap.Logger
}

// BoardOption customises the BoardService.
type BoardOption func(*BoardService)

// WithBoardClock injects a custom time source.
func WithBoardClock(clock func() time.Time) BoardOption {
	return func(s *BoardService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewBoardService constructs a BoardService. A nil sink disables broadcast.
func NewBoardService(db *gorm.DB, sink events.Sink, opts ...BoardOption) (*BoardService, error) {
	if db == nil {
		return nil, errors.New("board service: db is required")
	}
	if sink == nil {
		sink = events.NopSink{}
	}

	service := &BoardService{
		db:   db,
		sink: sink,
		now:  time.Now,
		log:  logger.WithModule("boards"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

func (s *BoardService) publish(boardID, eventType string, payload any) {
	metrics.BoardMutations.WithLabelValues(eventType).Inc()
	s.sink.Publish(events.BoardGroup(boardID), events.Event{Type: eventType, Payload: payload})
}

// CreateBoardInput carries the user-settable board fields.
type CreateBoardInput struct {
	Title    string
	IsPublic *bool
}

// CreatedBoard pairs a new board with its admin secret, which is returned
// exactly once at creation time.
type CreatedBoard struct {
	Board       *BoardView `json:"board"`
	AdminSecret string     `json:"secret_admin_token"`
}

// Create makes a new board owned by the requester's ghost.
func (s *BoardService) Create(ctx context.Context, req authz.Requester, input CreateBoardInput) (*CreatedBoard, error) {
	if req.Ghost == nil {
		return nil, apperrors.ErrGhostRequired
	}

	board := models.Board{
		Title:          strings.TrimSpace(input.Title),
		CreatorGhostID: req.Ghost.ID,
		IsPublic:       true,
		AdminSecret:    uuid.NewString(),
	}
	if board.Title == "" {
		board.Title = "Untitled Board"
	}
	if input.IsPublic != nil {
		board.IsPublic = *input.IsPublic
	}

	if err := s.db.WithContext(ctx).Create(&board).Error; err != nil {
		return nil, fmt.Errorf("board service: create: %w", err)
	}

	view, err := boardView(s.db.WithContext(ctx), &board)
	if err != nil {
		return nil, err
	}

	s.publish(board.ID, events.BoardCreated, view)
	return &CreatedBoard{Board: view, AdminSecret: board.AdminSecret}, nil
}

// Get returns a board visible to the requester. Private boards that exist
// but are not visible fail with Forbidden rather than NotFound.
func (s *BoardService) Get(ctx context.Context, req authz.Requester, boardID string) (*BoardView, error) {
	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if !authz.CanView(req, bctx) {
		return nil, apperrors.ErrForbidden.WithMessage("this board is private")
	}
	return boardView(s.db.WithContext(ctx), board)
}

// UpdateBoardInput carries a partial board update.
type UpdateBoardInput struct {
	Title    *string
	IsPublic *bool
}

// Update applies a partial update to the board. Requires ADMIN_FULL.
func (s *BoardService) Update(ctx context.Context, req authz.Requester, boardID string, input UpdateBoardInput) (*BoardView, error) {
	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return nil, apperrors.ErrForbidden
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("title must not be empty")
		}
		updates["title"] = title
	}
	if input.IsPublic != nil {
		updates["is_public"] = *input.IsPublic
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(board).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("board service: update: %w", err)
		}
	}

	view, err := boardView(s.db.WithContext(ctx), board)
	if err != nil {
		return nil, err
	}
	s.publish(board.ID, events.BoardUpdated, view)
	return view, nil
}

// SoftDelete hides the board and starts its hard-delete countdown. Emits
// BOARD_DELETED, not BOARD_UPDATED: subscribers treat it as gone.
func (s *BoardService) SoftDelete(ctx context.Context, req authz.Requester, boardID string) error {
	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return apperrors.ErrForbidden
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(board).Updates(map[string]any{
		"is_soft_deleted": true,
		"soft_deleted_at": now,
	}).Error; err != nil {
		return fmt.Errorf("board service: soft delete: %w", err)
	}

	s.publish(board.ID, events.BoardDeleted, events.Deleted{ID: board.ID})
	return nil
}

// Claim transfers an anonymous board's ownership to the authenticated
// account's canonical ghost. Permitted only to the creating ghost or a
// bearer of the current admin secret.
func (s *BoardService) Claim(ctx context.Context, req authz.Requester, boardID string) (*BoardView, error) {
	if req.Account == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var claimed models.Board
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		board, err := loadBoard(tx, boardID)
		if err != nil {
			return err
		}

		ghostMatch := req.Ghost != nil && req.Ghost.ID == board.CreatorGhostID
		secretMatch := authz.SecretMatches(req.AdminSecret, board.AdminSecret)
		if !ghostMatch && !secretMatch {
			return apperrors.ErrForbidden.WithMessage("claiming requires the creating ghost or the admin secret")
		}

		if board.IsClaimed() {
			if *board.CreatorGhost.AccountID == req.Account.ID {
				claimed = *board
				return nil
			}
			return apperrors.NewConflict("board is already claimed by another account")
		}

		canonical, err := s.canonicalGhost(tx, req)
		if err != nil {
			return err
		}

		if board.CreatorGhostID != canonical.ID {
			if err := tx.Model(board).Update("creator_ghost_id", canonical.ID).Error; err != nil {
				return fmt.Errorf("board service: transfer ownership: %w", err)
			}
			board.CreatorGhostID = canonical.ID
			board.CreatorGhost = canonical
		}

		claimed = *board
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := boardView(s.db.WithContext(ctx), &claimed)
	if err != nil {
		return nil, err
	}
	view.IsClaimed = true
	s.publish(claimed.ID, events.BoardUpdated, view)
	return view, nil
}

// canonicalGhost resolves the single ghost a claimed board should end up
// owned by: the account's existing ghost when there is one, otherwise the
// requester's unlinked ghost, otherwise (bearer-secret path with no ghost
// context) a freshly minted one.
func (s *BoardService) canonicalGhost(tx *gorm.DB, req authz.Requester) (*models.Ghost, error) {
	var existing models.Ghost
	err := tx.First(&existing, "account_id = ?", req.Account.ID).Error
	switch {
	case err == nil:
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("board service: canonical ghost lookup: %w", err)
	}

	if req.Ghost != nil && !req.Ghost.IsClaimed() {
		if err := linkGhostToAccount(tx, req.Ghost.ID, req.Account.ID); err != nil {
			return nil, err
		}
		ghost := *req.Ghost
		ghost.AccountID = &req.Account.ID
		return &ghost, nil
	}

	minted := models.Ghost{AccountID: &req.Account.ID}
	if err := tx.Create(&minted).Error; err != nil {
		return nil, fmt.Errorf("board service: mint canonical ghost: %w", err)
	}
	return &minted, nil
}

// RotateSecret regenerates the board's admin secret, invalidating the
// previous bearer token immediately. Requires ADMIN_FULL.
func (s *BoardService) RotateSecret(ctx context.Context, req authz.Requester, boardID string) (string, error) {
	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return "", err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return "", apperrors.ErrForbidden
	}

	secret := uuid.NewString()
	if err := s.db.WithContext(ctx).Model(board).Update("admin_secret", secret).Error; err != nil {
		return "", fmt.Errorf("board service: rotate secret: %w", err)
	}

	// Subscribers holding the old secret learn the board changed; the view
	// never carries the secret itself.
	view, err := boardView(s.db.WithContext(ctx), board)
	if err != nil {
		return "", err
	}
	s.publish(board.ID, events.BoardUpdated, view)

	s.log.Info("admin secret rotated", zap.String("board_id", board.ID))
	return secret, nil
}

// AddInvite grants an email address access to the board. Adding an email
// that is already invited returns the existing invite unchanged.
func (s *BoardService) AddInvite(ctx context.Context, req authz.Requester, boardID, email string) (*models.BoardInvite, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}

	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return nil, apperrors.ErrForbidden
	}

	invite := models.BoardInvite{BoardID: board.ID, Email: email}
	if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("board service: create invite: %w", err)
		}
		if err := s.db.WithContext(ctx).
			First(&invite, "board_id = ? AND email = ?", board.ID, email).Error; err != nil {
			return nil, fmt.Errorf("board service: invite lookup: %w", err)
		}
	}
	return &invite, nil
}

// RemoveInvite revokes an email's access to the board.
func (s *BoardService) RemoveInvite(ctx context.Context, req authz.Requester, boardID, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}

	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return apperrors.ErrForbidden
	}

	if err := s.db.WithContext(ctx).
		Where("board_id = ? AND email = ?", board.ID, email).
		Delete(&models.BoardInvite{}).Error; err != nil {
		return fmt.Errorf("board service: remove invite: %w", err)
	}
	return nil
}

// RequestAccess files an access request for a private board on behalf of
// the requester's ghost. One request per (board, ghost); filing twice is a
// conflict the caller can surface as "already requested".
func (s *BoardService) RequestAccess(ctx context.Context, req authz.Requester, boardID, email, message string) (*models.AccessRequest, error) {
	if req.Ghost == nil {
		return nil, apperrors.ErrGhostRequired
	}

	board, err := loadBoard(s.db.WithContext(ctx), boardID)
	if err != nil {
		return nil, err
	}

	request := models.AccessRequest{
		BoardID: board.ID,
		GhostID: req.Ghost.ID,
		Email:   normalizeEmail(email),
		Message: strings.TrimSpace(message),
		Status:  models.AccessRequestPending,
	}
	if err := s.db.WithContext(ctx).Create(&request).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("access already requested for this board")
		}
		return nil, fmt.Errorf("board service: create access request: %w", err)
	}
	return &request, nil
}

// ListAccessRequests returns the board's pending requests. Requires
// ADMIN_FULL.
func (s *BoardService) ListAccessRequests(ctx context.Context, req authz.Requester, boardID string) ([]models.AccessRequest, error) {
	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return nil, apperrors.ErrForbidden
	}

	var requests []models.AccessRequest
	if err := s.db.WithContext(ctx).
		Where("board_id = ? AND status = ?", board.ID, models.AccessRequestPending).
		Order("created_at ASC").
		Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("board service: list access requests: %w", err)
	}
	return requests, nil
}

// ResolveAccessRequest approves or rejects a pending request. Approval
// creates the invite in the same transaction and emits ACCESS_GRANTED;
// rejection emits ACCESS_REJECTED.
func (s *BoardService) ResolveAccessRequest(ctx context.Context, req authz.Requester, boardID, requestID string, approve bool) (*models.AccessRequest, error) {
	board, bctx, err := s.loadBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if authz.ForBoardWrite(req, bctx) != authz.AdminFull {
		return nil, apperrors.ErrForbidden
	}

	var request models.AccessRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ? AND board_id = ?", requestID, board.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound.WithMessage("access request not found")
			}
			return fmt.Errorf("board service: request lookup: %w", err)
		}
		if request.Status != models.AccessRequestPending {
			return apperrors.NewConflict("access request is already resolved")
		}

		status := models.AccessRequestRejected
		if approve {
			status = models.AccessRequestApproved
		}
		if err := tx.Model(&request).Update("status", status).Error; err != nil {
			return fmt.Errorf("board service: resolve request: %w", err)
		}
		request.Status = status

		if approve && request.Email != "" {
			invite := models.BoardInvite{BoardID: board.ID, Email: request.Email}
			if err := tx.Create(&invite).Error; err != nil && !isUniqueConstraintError(err) {
				return fmt.Errorf("board service: create invite from request: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := events.AccessRejected
	if approve {
		eventType = events.AccessGranted
	}
	s.publish(board.ID, eventType, &request)
	return &request, nil
}

// AccessProbe reports whether the requester holds admin or owner rights.
type AccessProbe struct {
	IsAdmin bool `json:"is_admin"`
	IsOwner bool `json:"is_owner"`
}

// CheckAccess lets clients probe their standing on a board without
// attempting a mutation.
func (s *BoardService) CheckAccess(ctx context.Context, req authz.Requester, boardID string) (*AccessProbe, error) {
	board, err := loadBoard(s.db.WithContext(ctx), boardID)
	if err != nil {
		return nil, err
	}

	owner := req.Ghost != nil && req.Ghost.ID == board.CreatorGhostID
	if !owner && req.Account != nil && board.CreatorGhost != nil &&
		board.CreatorGhost.AccountID != nil && *board.CreatorGhost.AccountID == req.Account.ID {
		owner = true
	}

	return &AccessProbe{
		IsAdmin: owner || authz.SecretMatches(req.AdminSecret, board.AdminSecret),
		IsOwner: owner,
	}, nil
}

// loadBoard fetches a live board with its creator ghost preloaded.
func loadBoard(tx *gorm.DB, boardID string) (*models.Board, error) {
	var board models.Board
	err := tx.Preload("CreatorGhost").
		First(&board, "id = ? AND is_soft_deleted = ?", boardID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("board not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	return &board, nil
}

// loadBoardContext loads the board plus the invite fact the evaluator needs.
func (s *BoardService) loadBoardContext(ctx context.Context, req authz.Requester, boardID string) (*models.Board, authz.BoardContext, error) {
	board, err := loadBoard(s.db.WithContext(ctx), boardID)
	if err != nil {
		return nil, authz.BoardContext{}, err
	}

	invited, err := isInvited(s.db.WithContext(ctx), board.ID, req.Account)
	if err != nil {
		return nil, authz.BoardContext{}, err
	}

	return board, authz.BoardContext{Board: board, Invited: invited}, nil
}

func isInvited(tx *gorm.DB, boardID string, account *models.Account) (bool, error) {
	if account == nil {
		return false, nil
	}
	var count int64
	if err := tx.Model(&models.BoardInvite{}).
		Where("board_id = ? AND email = ?", boardID, account.Email).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("invite lookup: %w", err)
	}
	return count > 0, nil
}
