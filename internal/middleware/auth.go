package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/GreyyDaze/orbit-server/internal/auth"
	"github.com/GreyyDaze/orbit-server/internal/models"
	apperrors "github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

const (
	CtxClaimsKey      = "authClaims"
	CtxAccountKey     = "account"
	CtxGhostKey       = "ghost"
	CtxAdminSecretKey = "adminSecret"
)

// AdminSecretHeader carries a board's bearer admin token.
const AdminSecretHeader = "X-Admin-Secret"

// Auth enforces JWT authentication and loads the account behind the token.
func Auth(tokens *iauth.TokenService, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authenticate(c, tokens, db); err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalAuth loads the account when a valid bearer token is present and
// continues anonymously otherwise. An invalid token is still rejected so
// clients never act under a silently expired identity.
func OptionalAuth(tokens *iauth.TokenService, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if strings.TrimSpace(header) == "" {
			c.Next()
			return
		}
		if err := authenticate(c, tokens, db); err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, tokens *iauth.TokenService, db *gorm.DB) error {
	header := c.GetHeader("Authorization")
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return errors.New("missing bearer token")
	}

	claims, err := tokens.ValidateAccessToken(strings.TrimSpace(header[7:]))
	if err != nil {
		return err
	}

	var account models.Account
	if err := db.First(&account, "id = ?", claims.AccountID).Error; err != nil {
		return err
	}

	c.Set(CtxClaimsKey, claims)
	c.Set(CtxAccountKey, &account)

	// The account's canonical ghost takes precedence over any header ghost.
	var ghost models.Ghost
	if err := db.First(&ghost, "account_id = ?", account.ID).Error; err == nil {
		c.Set(CtxGhostKey, &ghost)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}

// AdminSecret copies the admin-token header into the request context so
// handlers can hand it to the authorization evaluator.
func AdminSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret := strings.TrimSpace(c.GetHeader(AdminSecretHeader)); secret != "" {
			c.Set(CtxAdminSecretKey, secret)
		}
		c.Next()
	}
}
