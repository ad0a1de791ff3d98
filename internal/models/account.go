package models

// Account is an authenticated identity tied to an email address. It owns at
// most one Ghost (the canonical anonymous profile the account's data lives
// under); the link is stored on Ghost.AccountID.
type Account struct {
	BaseModel

	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string `gorm:"size:150" json:"display_name"`

	Ghost *Ghost `gorm:"foreignKey:AccountID" json:"ghost,omitempty"`
}
