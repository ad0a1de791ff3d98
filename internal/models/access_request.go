package models

// Access request statuses.
const (
	AccessRequestPending  = "PENDING"
	AccessRequestApproved = "APPROVED"
	AccessRequestRejected = "REJECTED"
)

// AccessRequest is a ghost's petition for access to a private board.
// Approval produces a BoardInvite for the supplied email.
type AccessRequest struct {
	BaseModel

	BoardID string `gorm:"type:uuid;not null;uniqueIndex:idx_request_board_ghost" json:"board_id"`
	GhostID string `gorm:"type:uuid;not null;uniqueIndex:idx_request_board_ghost" json:"ghost_id"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `gorm:"size:20;not null;default:'PENDING'" json:"status"`

	Board *Board `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Ghost *Ghost `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
