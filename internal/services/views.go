package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/models"
)

// NoteView is the serialized form of a note, used both for API responses
// and realtime broadcast payloads.
type NoteView struct {
	ID                string    `json:"id"`
	BoardID           string    `json:"board_id"`
	Content           string    `json:"content"`
	Colour            string    `json:"colour"`
	PositionX         float64   `json:"position_x"`
	PositionY         float64   `json:"position_y"`
	Upvotes           int64     `json:"upvotes"`
	CreatorGhostID    string    `json:"creator_ghost_id"`
	AnonymousToPublic bool      `json:"is_anonymous_to_public"`
	AuthorLabel       string    `json:"author_label"`
	CreatedAt         time.Time `json:"created_at"`
}

// BoardView is the serialized form of a board.
type BoardView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsPublic  bool      `json:"is_public"`
	IsClaimed bool      `json:"is_claimed"`
	NoteCount int64     `json:"note_count"`
	CreatedAt time.Time `json:"created_at"`
}

func noteView(tx *gorm.DB, note *models.Note, board *models.Board) (*NoteView, error) {
	var upvotes int64
	if err := tx.Model(&models.Upvote{}).Where("note_id = ?", note.ID).Count(&upvotes).Error; err != nil {
		return nil, fmt.Errorf("note view: count upvotes: %w", err)
	}

	return &NoteView{
		ID:                note.ID,
		BoardID:           note.BoardID,
		Content:           note.Content,
		Colour:            note.Colour,
		PositionX:         note.PositionX,
		PositionY:         note.PositionY,
		Upvotes:           upvotes,
		CreatorGhostID:    note.CreatorGhostID,
		AnonymousToPublic: note.AnonymousToPublic,
		AuthorLabel:       authorLabel(tx, note, board),
		CreatedAt:         note.CreatedAt,
	}, nil
}

// authorLabel hides the author behind a short hash unless the note opts in
// to showing authorship and belongs to the board owner.
func authorLabel(tx *gorm.DB, note *models.Note, board *models.Board) string {
	anonymous := fmt.Sprintf("#%.4s", note.ID)
	if note.AnonymousToPublic {
		return anonymous
	}

	if board == nil || note.CreatorGhostID != board.CreatorGhostID {
		return anonymous
	}

	creator := board.CreatorGhost
	if creator == nil || creator.AccountID == nil {
		return "ADMIN"
	}

	var account models.Account
	if err := tx.First(&account, "id = ?", *creator.AccountID).Error; err != nil || account.DisplayName == "" {
		return "ADMIN"
	}
	return fmt.Sprintf("ADMIN (%s)", account.DisplayName)
}

func boardView(tx *gorm.DB, board *models.Board) (*BoardView, error) {
	var notes int64
	if err := tx.Model(&models.Note{}).Where("board_id = ?", board.ID).Count(&notes).Error; err != nil {
		return nil, fmt.Errorf("board view: count notes: %w", err)
	}

	return &BoardView{
		ID:        board.ID,
		Title:     board.Title,
		IsPublic:  board.IsPublic,
		IsClaimed: board.IsClaimed(),
		NoteCount: notes,
		CreatedAt: board.CreatedAt,
	}, nil
}
