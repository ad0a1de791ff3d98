package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/authz"
	"github.com/GreyyDaze/orbit-server/internal/events"
	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/logger"
	"github.com/GreyyDaze/orbit-server/pkg/metrics"
)

// gravityFactor shrinks both position coordinates towards the canvas origin
// each time a note gains a new upvote. Removing the vote does not restore
// the previous position.
const gravityFactor = 0.95

// NoteService applies mutations to notes and their upvotes.
type NoteService struct {
	db   *gorm.DB
	sink events.Sink
	log  *zap.Logger
}

// NewNoteService constructs a NoteService. A nil sink disables broadcast.
func NewNoteService(db *gorm.DB, sink events.Sink) (*NoteService, error) {
	if db == nil {
		return nil, errors.New("note service: db is required")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &NoteService{
		db:   db,
		sink: sink,
		log:  logger.WithModule("notes"),
	}, nil
}

func (s *NoteService) publish(boardID, eventType string, payload any) {
	metrics.BoardMutations.WithLabelValues(eventType).Inc()
	s.sink.Publish(events.BoardGroup(boardID), events.Event{Type: eventType, Payload: payload})
}

// CreateNoteInput carries the user-settable note fields.
type CreateNoteInput struct {
	Content           string
	Colour            string
	PositionX         float64
	PositionY         float64
	AnonymousToPublic *bool
}

// Create adds a note to a board the requester can view.
func (s *NoteService) Create(ctx context.Context, req authz.Requester, boardID string, input CreateNoteInput) (*NoteView, error) {
	if req.Ghost == nil {
		return nil, apperrors.ErrGhostRequired
	}

	board, bctx, err := s.loadNoteBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if !authz.CanView(req, bctx) {
		return nil, apperrors.ErrForbidden.WithMessage("this board is private")
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, apperrors.NewBadRequest("content must not be empty")
	}

	note := models.Note{
		BoardID:        board.ID,
		CreatorGhostID: req.Ghost.ID,
		Content:        content,
		Colour:         models.ColourYellow,
		PositionX:      input.PositionX,
		PositionY:      input.PositionY,

		AnonymousToPublic: true,
	}
	if input.Colour != "" {
		if !models.ValidNoteColour(input.Colour) {
			return nil, apperrors.NewBadRequest("unknown note colour")
		}
		note.Colour = input.Colour
	}
	if input.AnonymousToPublic != nil {
		note.AnonymousToPublic = *input.AnonymousToPublic
	}

	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, fmt.Errorf("note service: create: %w", err)
	}

	view, err := noteView(s.db.WithContext(ctx), &note, board)
	if err != nil {
		return nil, err
	}
	s.publish(board.ID, events.NoteCreated, view)
	return view, nil
}

// UpdateNoteInput is a partial note update. Nil fields are left untouched.
type UpdateNoteInput struct {
	Content           *string
	Colour            *string
	PositionX         *float64
	PositionY         *float64
	AnonymousToPublic *bool
}

func (in UpdateNoteInput) fields() []string {
	var fields []string
	if in.Content != nil {
		fields = append(fields, "content")
	}
	if in.Colour != nil {
		fields = append(fields, "colour")
	}
	if in.PositionX != nil {
		fields = append(fields, "position_x")
	}
	if in.PositionY != nil {
		fields = append(fields, "position_y")
	}
	if in.AnonymousToPublic != nil {
		fields = append(fields, "is_anonymous_to_public")
	}
	return fields
}

// Update patches a note. Authors may change any field; board admins who did
// not write the note may only reposition it.
func (s *NoteService) Update(ctx context.Context, req authz.Requester, noteID string, input UpdateNoteInput) (*NoteView, error) {
	note, board, bctx, err := s.loadNote(ctx, req, noteID)
	if err != nil {
		return nil, err
	}

	capability := authz.ForNoteWrite(req, note, bctx)
	if capability == authz.None {
		return nil, apperrors.ErrForbidden
	}

	fields := input.fields()
	if len(fields) == 0 {
		return nil, apperrors.NewBadRequest("no fields to update")
	}
	if !authz.AllowsFields(capability, fields) {
		return nil, apperrors.ErrForbidden.WithMessage("admins may only reposition notes they did not write")
	}

	updates := map[string]any{}
	if input.Content != nil {
		content := strings.TrimSpace(*input.Content)
		if content == "" {
			return nil, apperrors.NewBadRequest("content must not be empty")
		}
		updates["content"] = content
	}
	if input.Colour != nil {
		if !models.ValidNoteColour(*input.Colour) {
			return nil, apperrors.NewBadRequest("unknown note colour")
		}
		updates["colour"] = *input.Colour
	}
	if input.PositionX != nil {
		updates["position_x"] = *input.PositionX
	}
	if input.PositionY != nil {
		updates["position_y"] = *input.PositionY
	}
	if input.AnonymousToPublic != nil {
		updates["is_anonymous_to_public"] = *input.AnonymousToPublic
	}

	if err := s.db.WithContext(ctx).Model(note).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("note service: update: %w", err)
	}

	view, err := noteView(s.db.WithContext(ctx), note, board)
	if err != nil {
		return nil, err
	}
	s.publish(board.ID, events.NoteUpdated, view)
	return view, nil
}

// Delete removes a note. Only its author may delete it; board admins must
// leave others' notes in place.
func (s *NoteService) Delete(ctx context.Context, req authz.Requester, noteID string) error {
	note, board, bctx, err := s.loadNote(ctx, req, noteID)
	if err != nil {
		return err
	}

	if authz.ForNoteWrite(req, note, bctx) != authz.AuthorEdit {
		return apperrors.ErrForbidden.WithMessage("only the author may delete a note")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", note.ID).Delete(&models.Upvote{}).Error; err != nil {
			return fmt.Errorf("note service: delete upvotes: %w", err)
		}
		if err := tx.Delete(note).Error; err != nil {
			return fmt.Errorf("note service: delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(board.ID, events.NoteDeleted, events.Deleted{ID: note.ID})
	return nil
}

// ListByBoard returns all notes on a board the requester can view, oldest
// first.
func (s *NoteService) ListByBoard(ctx context.Context, req authz.Requester, boardID string) ([]NoteView, error) {
	board, bctx, err := s.loadNoteBoardContext(ctx, req, boardID)
	if err != nil {
		return nil, err
	}
	if !authz.CanView(req, bctx) {
		return nil, apperrors.ErrForbidden.WithMessage("this board is private")
	}

	var notes []models.Note
	if err := s.db.WithContext(ctx).
		Where("board_id = ?", board.ID).
		Order("created_at ASC").
		Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("note service: list: %w", err)
	}
	return s.noteViews(ctx, notes, board)
}

// CreatedByMe lists the requester's notes across all live boards.
func (s *NoteService) CreatedByMe(ctx context.Context, req authz.Requester) ([]NoteView, error) {
	if req.Ghost == nil {
		return nil, apperrors.ErrGhostRequired
	}

	var notes []models.Note
	if err := s.db.WithContext(ctx).
		Joins("JOIN boards ON boards.id = notes.board_id AND boards.is_soft_deleted = ?", false).
		Where("notes.creator_ghost_id = ?", req.Ghost.ID).
		Order("notes.created_at DESC").
		Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("note service: created by me: %w", err)
	}
	return s.noteViews(ctx, notes, nil)
}

// UpvotedByMe lists notes the requester's ghost has upvoted, on live boards.
func (s *NoteService) UpvotedByMe(ctx context.Context, req authz.Requester) ([]NoteView, error) {
	if req.Ghost == nil {
		return nil, apperrors.ErrGhostRequired
	}

	var notes []models.Note
	if err := s.db.WithContext(ctx).
		Joins("JOIN upvotes ON upvotes.note_id = notes.id").
		Joins("JOIN boards ON boards.id = notes.board_id AND boards.is_soft_deleted = ?", false).
		Where("upvotes.ghost_id = ?", req.Ghost.ID).
		Order("upvotes.created_at DESC").
		Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("note service: upvoted by me: %w", err)
	}
	return s.noteViews(ctx, notes, nil)
}

// ToggleResult reports the outcome of an upvote toggle.
type ToggleResult struct {
	Note    *NoteView `json:"note"`
	Upvoted bool      `json:"upvoted"`
}

// ToggleUpvote adds or removes the requester's upvote on a note. A new vote
// pulls the note towards the origin by the gravity factor in the same
// transaction. Removing a vote never moves the note back.
func (s *NoteService) ToggleUpvote(ctx context.Context, req authz.Requester, noteID string) (*ToggleResult, error) {
	if req.Ghost == nil {
		return nil, apperrors.ErrGhostRequired
	}

	note, board, bctx, err := s.loadNote(ctx, req, noteID)
	if err != nil {
		return nil, err
	}
	if !authz.CanView(req, bctx) {
		return nil, apperrors.ErrForbidden.WithMessage("this board is private")
	}
	if note.CreatorGhostID == req.Ghost.ID {
		return nil, apperrors.ErrForbidden.WithMessage("you cannot upvote your own note")
	}

	var upvoted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Upvote
		lookupErr := tx.First(&existing, "note_id = ? AND ghost_id = ?", note.ID, req.Ghost.ID).Error
		switch {
		case lookupErr == nil:
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("note service: remove upvote: %w", err)
			}
			upvoted = false
			return nil
		case !errors.Is(lookupErr, gorm.ErrRecordNotFound):
			return fmt.Errorf("note service: upvote lookup: %w", lookupErr)
		}

		vote := models.Upvote{NoteID: note.ID, GhostID: req.Ghost.ID}
		if err := tx.Create(&vote).Error; err != nil {
			if isUniqueConstraintError(err) {
				upvoted = true
				return nil
			}
			return fmt.Errorf("note service: create upvote: %w", err)
		}

		// The rescale runs against the stored row, not the copy loaded
		// before this transaction; concurrent votes each land their own
		// gravity step instead of overwriting each other's.
		if err := tx.Model(&models.Note{}).Where("id = ?", note.ID).Updates(map[string]any{
			"position_x": gorm.Expr("position_x * ?", gravityFactor),
			"position_y": gorm.Expr("position_y * ?", gravityFactor),
		}).Error; err != nil {
			return fmt.Errorf("note service: apply gravity: %w", err)
		}

		upvoted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(note, "id = ?", note.ID).Error; err != nil {
		return nil, fmt.Errorf("note service: reload note: %w", err)
	}

	view, err := noteView(s.db.WithContext(ctx), note, board)
	if err != nil {
		return nil, err
	}
	s.publish(board.ID, events.NoteUpdated, view)
	return &ToggleResult{Note: view, Upvoted: upvoted}, nil
}

func (s *NoteService) noteViews(ctx context.Context, notes []models.Note, board *models.Board) ([]NoteView, error) {
	views := make([]NoteView, 0, len(notes))
	boards := map[string]*models.Board{}
	if board != nil {
		boards[board.ID] = board
	}
	for i := range notes {
		b, ok := boards[notes[i].BoardID]
		if !ok {
			loaded, err := loadBoard(s.db.WithContext(ctx), notes[i].BoardID)
			if err != nil {
				return nil, err
			}
			b = loaded
			boards[b.ID] = b
		}
		view, err := noteView(s.db.WithContext(ctx), &notes[i], b)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// loadNote fetches a note together with its board and the authz context.
func (s *NoteService) loadNote(ctx context.Context, req authz.Requester, noteID string) (*models.Note, *models.Board, authz.BoardContext, error) {
	var note models.Note
	err := s.db.WithContext(ctx).First(&note, "id = ?", noteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, authz.BoardContext{}, apperrors.ErrNotFound.WithMessage("note not found")
	}
	if err != nil {
		return nil, nil, authz.BoardContext{}, fmt.Errorf("note service: load note: %w", err)
	}

	board, bctx, err := s.loadNoteBoardContext(ctx, req, note.BoardID)
	if err != nil {
		return nil, nil, authz.BoardContext{}, err
	}
	return &note, board, bctx, nil
}

func (s *NoteService) loadNoteBoardContext(ctx context.Context, req authz.Requester, boardID string) (*models.Board, authz.BoardContext, error) {
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
