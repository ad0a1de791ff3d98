package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/GreyyDaze/orbit-server/internal/database/testutil"
	"github.com/GreyyDaze/orbit-server/internal/models"
	"github.com/GreyyDaze/orbit-server/internal/services"
)

func TestGhostMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	ghosts, err := services.NewGhostService(db)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Ghost(ghosts))
	r.GET("/whoami", func(c *gin.Context) {
		if ghost, ok := c.Get(CtxGhostKey); ok {
			c.String(http.StatusOK, ghost.(*models.Ghost).ID)
			return
		}
		c.String(http.StatusOK, "")
	})

	t.Run("materializes a client-minted id", func(t *testing.T) {
		id := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(GhostHeader, id)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, id, w.Body.String())

		var count int64
		require.NoError(t, db.Model(&models.Ghost{}).Where("id = ?", id).Count(&count).Error)
		require.Equal(t, int64(1), count)
	})

	t.Run("no header means no ghost", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Body.String())
	})

	t.Run("malformed id is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(GhostHeader, "not-a-uuid")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
