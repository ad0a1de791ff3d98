package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/GreyyDaze/orbit-server/internal/auth"
	"github.com/GreyyDaze/orbit-server/internal/database/testutil"
	"github.com/GreyyDaze/orbit-server/internal/models"
)

func authTestSetup(t *testing.T) (*gorm.DB, *iauth.TokenService, *models.Account) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	tokens, err := iauth.NewTokenService(iauth.TokenConfig{Secret: "middleware-secret"})
	require.NoError(t, err)

	account := &models.Account{Email: "mw@example.com"}
	require.NoError(t, db.Create(account).Error)
	return db, tokens, account
}

func TestAuthMiddleware(t *testing.T) {
	db, tokens, account := authTestSetup(t)

	ghost := &models.Ghost{AccountID: &account.ID}
	require.NoError(t, db.Create(ghost).Error)

	r := gin.New()
	r.Use(Auth(tokens, db))
	r.GET("/me", func(c *gin.Context) {
		loaded := c.MustGet(CtxAccountKey).(*models.Account)
		sessionGhost := c.MustGet(CtxGhostKey).(*models.Ghost)
		c.JSON(http.StatusOK, gin.H{"email": loaded.Email, "ghost": sessionGhost.ID})
	})

	pair, err := tokens.IssuePair(account.ID, ghost.ID)
	require.NoError(t, err)

	t.Run("valid token loads account and canonical ghost", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), "mw@example.com")
		require.Contains(t, w.Body.String(), ghost.ID)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOptionalAuthMiddleware(t *testing.T) {
	db, tokens, account := authTestSetup(t)

	r := gin.New()
	r.Use(OptionalAuth(tokens, db))
	r.GET("/open", func(c *gin.Context) {
		if _, ok := c.Get(CtxAccountKey); ok {
			c.String(http.StatusOK, "authenticated")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	t.Run("no header passes anonymously", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/open", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "anonymous", w.Body.String())
	})

	t.Run("valid token authenticates", func(t *testing.T) {
		pair, err := tokens.IssuePair(account.ID, "")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/open", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "authenticated", w.Body.String())
	})

	t.Run("garbage token is rejected, not ignored", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/open", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAdminSecretMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(AdminSecret())
	r.GET("/probe", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxAdminSecretKey))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(AdminSecretHeader, "  s3cret  ")
	r.ServeHTTP(w, req)
	require.Equal(t, "s3cret", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)
	require.Empty(t, w.Body.String())
}
