package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/authz"
	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
)

// Discover sort orders.
const (
	SortRecent  = "recent"
	SortPopular = "popular"
)

// DiscoverParams filters and pages the public board gallery.
type DiscoverParams struct {
	Query  string
	Sort   string
	Limit  int
	Offset int
}

// DiscoverItem is a gallery entry: a board plus its engagement aggregates.
type DiscoverItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	IsClaimed   bool      `json:"is_claimed"`
	NoteCount   int64     `json:"note_count"`
	UpvoteCount int64     `json:"upvote_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Discover lists public boards for the gallery, newest first or by total
// upvotes across their notes.
func (s *BoardService) Discover(ctx context.Context, params DiscoverParams) ([]DiscoverItem, int64, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	base := s.db.WithContext(ctx).Model(&models.Board{}).
		Where("boards.is_public = ? AND boards.is_soft_deleted = ?", true, false)

	if q := strings.TrimSpace(params.Query); q != "" {
		base = base.Where("boards.title LIKE ?", "%"+q+"%")
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("board service: discover count: %w", err)
	}

	query := base.
		Select(`boards.id, boards.title, boards.created_at,
			COUNT(DISTINCT notes.id) AS note_count,
			COUNT(upvotes.id) AS upvote_count`).
		Joins("LEFT JOIN notes ON notes.board_id = boards.id").
		Joins("LEFT JOIN upvotes ON upvotes.note_id = notes.id").
		Group("boards.id, boards.title, boards.created_at")

	switch params.Sort {
	case SortPopular:
		query = query.Order("upvote_count DESC, boards.created_at DESC")
	case SortRecent, "":
		query = query.Order("boards.created_at DESC")
	default:
		return nil, 0, apperrors.NewBadRequest("sort must be recent or popular")
	}

	type row struct {
		ID          string
		Title       string
		CreatedAt   time.Time
		NoteCount   int64
		UpvoteCount int64
	}
	var rows []row
	if err := query.Limit(limit).Offset(offset).Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("board service: discover: %w", err)
	}

	items := make([]DiscoverItem, 0, len(rows))
	for _, r := range rows {
		claimed, err := s.boardClaimed(ctx, r.ID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, DiscoverItem{
			ID:          r.ID,
			Title:       r.Title,
			IsClaimed:   claimed,
			NoteCount:   r.NoteCount,
			UpvoteCount: r.UpvoteCount,
			CreatedAt:   r.CreatedAt,
		})
	}
	return items, total, nil
}

func (s *BoardService) boardClaimed(ctx context.Context, boardID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Board{}).
		Joins("JOIN ghosts ON ghosts.id = boards.creator_ghost_id").
		Where("boards.id = ? AND ghosts.account_id IS NOT NULL", boardID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("board service: claim lookup: %w", err)
	}
	return count > 0, nil
}

// MyBoards lists live boards created by any ghost belonging to the
// requester: the session ghost plus, for authenticated users, the account's
// canonical ghost.
func (s *BoardService) MyBoards(ctx context.Context, req authz.Requester) ([]BoardView, error) {
	ghostIDs, err := s.requesterGhostIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ghostIDs) == 0 {
		return []BoardView{}, nil
	}

	var boards []models.Board
	if err := s.db.WithContext(ctx).
		Where("creator_ghost_id IN ? AND is_soft_deleted = ?", ghostIDs, false).
		Order("created_at DESC").
		Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("board service: my boards: %w", err)
	}
	return s.boardViews(ctx, boards)
}

// Invited lists live boards the authenticated account has been invited to.
func (s *BoardService) Invited(ctx context.Context, req authz.Requester) ([]BoardView, error) {
	if req.Account == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var boards []models.Board
	if err := s.db.WithContext(ctx).
		Joins("JOIN board_invites ON board_invites.board_id = boards.id").
		Where("board_invites.email = ? AND boards.is_soft_deleted = ?", req.Account.Email, false).
		Order("boards.created_at DESC").
		Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("board service: invited boards: %w", err)
	}
	return s.boardViews(ctx, boards)
}

// History lists boards the requester has contributed notes to but does not
// own, most recently touched first.
func (s *BoardService) History(ctx context.Context, req authz.Requester) ([]BoardView, error) {
	ghostIDs, err := s.requesterGhostIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ghostIDs) == 0 {
		return []BoardView{}, nil
	}

	var boards []models.Board
	if err := s.db.WithContext(ctx).
		Joins("JOIN notes ON notes.board_id = boards.id").
		Where("notes.creator_ghost_id IN ? AND boards.creator_ghost_id NOT IN ?", ghostIDs, ghostIDs).
		Where("boards.is_soft_deleted = ?", false).
		Group("boards.id").
		Order("MAX(notes.created_at) DESC").
		Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("board service: history: %w", err)
	}
	return s.boardViews(ctx, boards)
}

// requesterGhostIDs collects the distinct ghost identities acting for the
// requester.
func (s *BoardService) requesterGhostIDs(ctx context.Context, req authz.Requester) ([]string, error) {
	ids := make([]string, 0, 2)
	if req.Ghost != nil {
		ids = append(ids, req.Ghost.ID)
	}
	if req.Account != nil {
		var ghost models.Ghost
		err := s.db.WithContext(ctx).First(&ghost, "account_id = ?", req.Account.ID).Error
		switch {
		case err == nil:
			if req.Ghost == nil || ghost.ID != req.Ghost.ID {
				ids = append(ids, ghost.ID)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("board service: account ghost lookup: %w", err)
		}
	}
	return ids, nil
}

func (s *BoardService) boardViews(ctx context.Context, boards []models.Board) ([]BoardView, error) {
	views := make([]BoardView, 0, len(boards))
	for i := range boards {
		if boards[i].CreatorGhost == nil {
			var ghost models.Ghost
			if err := s.db.WithContext(ctx).First(&ghost, "id = ?", boards[i].CreatorGhostID).Error; err == nil {
				boards[i].CreatorGhost = &ghost
			}
		}
		view, err := boardView(s.db.WithContext(ctx), &boards[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}
