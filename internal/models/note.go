package models

// Note colours, a fixed palette chosen by the client.
const (
	ColourYellow   = "YELLOW"
	ColourCreative = "CREATIVE"
	ColourCool     = "COOL"
	ColourFresh    = "FRESH"
	ColourRoyal    = "ROYAL"
)

// NoteColours lists every accepted colour tag.
var NoteColours = []string{ColourYellow, ColourCreative, ColourCool, ColourFresh, ColourRoyal}

// ValidNoteColour reports whether the given tag is part of the palette.
func ValidNoteColour(colour string) bool {
	for _, c := range NoteColours {
		if c == colour {
			return true
		}
	}
	return false
}

// Note is a positioned sticky note on a board.
type Note struct {
	BaseModel

	BoardID        string  `gorm:"type:uuid;not null;index" json:"board_id"`
	CreatorGhostID string  `gorm:"type:uuid;not null;index" json:"creator_ghost_id"`
	Content        string  `json:"content"`
	Colour         string  `gorm:"size:20;not null;default:'YELLOW'" json:"colour"`
	PositionX      float64 `gorm:"not null;default:0" json:"position_x"`
	PositionY      float64 `gorm:"not null;default:0" json:"position_y"`

	// AnonymousToPublic hides the author label from non-owners. The service
	// layer fills the default so an explicit false survives the insert.
	AnonymousToPublic bool `gorm:"not null" json:"is_anonymous_to_public"`

	Board        *Board   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatorGhost *Ghost   `gorm:"foreignKey:CreatorGhostID;constraint:OnDelete:CASCADE" json:"-"`
	Upvotes      []Upvote `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
