package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/GreyyDaze/orbit-server/internal/auth"
	"github.com/GreyyDaze/orbit-server/internal/services"
	"github.com/GreyyDaze/orbit-server/pkg/errors"
	"github.com/GreyyDaze/orbit-server/pkg/metrics"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

// IdentityHandler manages ghost bootstrap, the OTP claim flow, token refresh,
// and profile endpoints.
type IdentityHandler struct {
	db           *gorm.DB
	ghosts       *services.GhostService
	verification *services.VerificationService
	migration    *services.MigrationService
	tokens       *iauth.TokenService
}

func NewIdentityHandler(
	db *gorm.DB,
	ghosts *services.GhostService,
	verification *services.VerificationService,
	migration *services.MigrationService,
	tokens *iauth.TokenService,
) *IdentityHandler {
	return &IdentityHandler{
		db:           db,
		ghosts:       ghosts,
		verification: verification,
		migration:    migration,
		tokens:       tokens,
	}
}

// POST /api/identity/ghost
// Bootstraps an anonymous identity. When the ghost header already names one,
// that ghost is materialized and returned instead of minting a new row.
func (h *IdentityHandler) Ghost(c *gin.Context) {
	if ghost := currentGhost(c); ghost != nil {
		response.Success(c, http.StatusOK, ghost)
		return
	}

	ghost, err := h.ghosts.CreateGhost(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ghost)
}

type sendCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/identity/otp/send
func (h *IdentityHandler) SendCode(c *gin.Context) {
	var req sendCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	presented := ""
	if ghost := currentGhost(c); ghost != nil {
		presented = ghost.ID
	}

	result, err := h.verification.SendCode(requestContext(c), req.Email, presented)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ghost_id": result.GhostID})
}

type verifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6"`
}

// POST /api/identity/otp/verify
func (h *IdentityHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	presented := ""
	if ghost := currentGhost(c); ghost != nil {
		presented = ghost.ID
	}

	result, err := h.verification.VerifyCode(requestContext(c), req.Email, req.Code, presented)
	if err != nil {
		metrics.VerificationAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}
	metrics.VerificationAttempts.WithLabelValues(strings.ToLower(string(result.Status))).Inc()

	payload := gin.H{
		"tokens":  result.Tokens,
		"account": result.Account,
		"ghost":   result.Ghost,
		"merge":   gin.H{"status": result.Status},
	}
	if result.Status == services.MergeConflicted {
		payload["merge"] = gin.H{
			"status":         result.Status,
			"at_risk_boards": result.AtRiskBoards,
		}
	}
	response.Success(c, http.StatusOK, payload)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/identity/refresh
func (h *IdentityHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	claims, err := h.tokens.ValidateRefreshToken(strings.TrimSpace(req.RefreshToken))
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	pair, err := h.tokens.IssuePair(claims.AccountID, claims.GhostID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, pair)
}

// POST /api/identity/logout
// Tokens are stateless, so logout is an acknowledgement the client uses to
// drop its pair.
func (h *IdentityHandler) Logout(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// GET /api/identity/profile
func (h *IdentityHandler) Profile(c *gin.Context) {
	account := currentAccount(c)
	if account == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"account": account,
		"ghost":   currentGhost(c),
	})
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=80"`
}

// PATCH /api/identity/profile
func (h *IdentityHandler) UpdateProfile(c *gin.Context) {
	account := currentAccount(c)
	if account == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if err := h.db.Model(account).Update("display_name", name).Error; err != nil {
		response.Error(c, err)
		return
	}
	account.DisplayName = name

	response.Success(c, http.StatusOK, gin.H{"account": account})
}

type migrateRequest struct {
	GhostID string `json:"ghost_id" validate:"required,uuid4"`
}

// POST /api/identity/migrate
// Moves everything a conflicted ghost owns onto the account's canonical
// ghost, resolving the conflict reported at verification time.
func (h *IdentityHandler) Migrate(c *gin.Context) {
	account := currentAccount(c)
	if account == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req migrateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	stats, err := h.migration.Migrate(requestContext(c), account.ID, req.GhostID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"migrated": stats})
}
