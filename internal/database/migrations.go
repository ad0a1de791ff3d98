package database

import (
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// Ghosts precede accounts' dependants so foreign keys resolve in order.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Ghost{},
		&models.VerificationCode{},
		&models.Board{},
		&models.Note{},
		&models.Upvote{},
		&models.BoardInvite{},
		&models.AccessRequest{},
	)
}
