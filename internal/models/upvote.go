package models

// Upvote records a single ghost's vote on a note. The composite unique index
// caps a ghost at one vote per note; voting again removes the row (toggle).
type Upvote struct {
	BaseModel

	NoteID  string `gorm:"type:uuid;not null;uniqueIndex:idx_upvote_note_ghost" json:"note_id"`
	GhostID string `gorm:"type:uuid;not null;uniqueIndex:idx_upvote_note_ghost" json:"ghost_id"`

	Note  *Note  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Ghost *Ghost `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
