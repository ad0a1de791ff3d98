package models

// BoardInvite grants an email address access to a board, regardless of the
// ghost or bearer token the visitor presents later.
type BoardInvite struct {
	BaseModel

	BoardID string `gorm:"type:uuid;not null;uniqueIndex:idx_invite_board_email" json:"board_id"`
	Email   string `gorm:"not null;uniqueIndex:idx_invite_board_email" json:"email"`

	Board *Board `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
