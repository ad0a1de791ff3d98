package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

// Health returns a status payload useful for readiness checks. The database
// ping is included so orchestrators stop routing to a wedged instance.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(requestContext(c)) != nil {
			response.Error(c, apperrors.New("SERVICE_UNAVAILABLE", "database unreachable", http.StatusServiceUnavailable))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
