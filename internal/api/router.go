package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/GreyyDaze/orbit-server/internal/app"
	iauth "github.com/GreyyDaze/orbit-server/internal/auth"
	"github.com/GreyyDaze/orbit-server/internal/handlers"
	"github.com/GreyyDaze/orbit-server/internal/middleware"
	"github.com/GreyyDaze/orbit-server/internal/realtime"
	"github.com/GreyyDaze/orbit-server/internal/services"
	"github.com/GreyyDaze/orbit-server/pkg/mail"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, hub *realtime.Hub, mailer mail.Mailer) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if hub == nil {
		hub = realtime.NewHub()
	}

	tokens, err := iauth.NewTokenService(iauth.TokenConfig{
		Secret:     cfg.Auth.JWT.Secret,
		Issuer:     cfg.Auth.JWT.Issuer,
		AccessTTL:  cfg.Auth.JWT.AccessTTL,
		RefreshTTL: cfg.Auth.JWT.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	ghosts, err := services.NewGhostService(db)
	if err != nil {
		return nil, err
	}
	verification, err := services.NewVerificationService(db, ghosts, tokens, mailer,
		services.WithVerificationExpiry(cfg.Auth.Verification.CodeTTL))
	if err != nil {
		return nil, err
	}
	migration, err := services.NewMigrationService(db)
	if err != nil {
		return nil, err
	}
	boards, err := services.NewBoardService(db, hub)
	if err != nil {
		return nil, err
	}
	notes, err := services.NewNoteService(db, hub)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.RateLimit(300, time.Minute))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	identityHandler := handlers.NewIdentityHandler(db, ghosts, verification, migration, tokens)
	boardHandler := handlers.NewBoardHandler(boards)
	noteHandler := handlers.NewNoteHandler(notes)
	realtimeHandler := handlers.NewRealtimeHandler(hub, boards)

	optionalAuth := middleware.OptionalAuth(tokens, db)
	requireAuth := middleware.Auth(tokens, db)
	ghostCtx := middleware.Ghost(ghosts)

	api := r.Group("/api")
	api.Use(optionalAuth, ghostCtx, middleware.AdminSecret())

	identity := api.Group("/identity")
	{
		identity.POST("/ghost", identityHandler.Ghost)
		identity.POST("/otp/send", middleware.RateLimit(5, time.Minute), identityHandler.SendCode)
		identity.POST("/otp/verify", middleware.RateLimit(10, time.Minute), identityHandler.VerifyCode)
		identity.POST("/refresh", identityHandler.Refresh)
		identity.POST("/logout", identityHandler.Logout)
	}

	// Profile and migration require an authenticated account; the group
	// middleware already loaded it when the token was valid.
	authed := r.Group("/api")
	authed.Use(requireAuth, ghostCtx, middleware.AdminSecret())
	{
		authed.GET("/identity/profile", identityHandler.Profile)
		authed.PATCH("/identity/profile", identityHandler.UpdateProfile)
		authed.POST("/identity/migrate", identityHandler.Migrate)
		authed.GET("/boards/invited", boardHandler.Invited)
		authed.POST("/boards/:id/claim", boardHandler.Claim)
	}

	boardGroup := api.Group("/boards")
	{
		boardGroup.POST("", boardHandler.Create)
		boardGroup.GET("/discover", boardHandler.Discover)
		boardGroup.GET("/mine", boardHandler.Mine)
		boardGroup.GET("/history", boardHandler.History)
		boardGroup.GET("/:id", boardHandler.Get)
		boardGroup.PATCH("/:id", boardHandler.Update)
		boardGroup.DELETE("/:id", boardHandler.Delete)
		boardGroup.POST("/:id/secret/rotate", boardHandler.RotateSecret)
		boardGroup.GET("/:id/access", boardHandler.CheckAccess)
		boardGroup.POST("/:id/invites", boardHandler.AddInvite)
		boardGroup.DELETE("/:id/invites", boardHandler.RemoveInvite)
		boardGroup.POST("/:id/requests", boardHandler.RequestAccess)
		boardGroup.GET("/:id/requests", boardHandler.ListAccessRequests)
		boardGroup.POST("/:id/requests/:requestId/resolve", boardHandler.ResolveAccessRequest)

		boardGroup.POST("/:id/notes", noteHandler.Create)
		boardGroup.GET("/:id/notes", noteHandler.ListByBoard)
	}

	noteGroup := api.Group("/notes")
	{
		noteGroup.GET("/mine", noteHandler.Mine)
		noteGroup.GET("/upvoted", noteHandler.Upvoted)
		noteGroup.PATCH("/:id", noteHandler.Update)
		noteGroup.DELETE("/:id", noteHandler.Delete)
		noteGroup.POST("/:id/upvote", noteHandler.ToggleUpvote)
	}

	ws := r.Group("/ws")
	ws.Use(optionalAuth, ghostCtx, middleware.AdminSecret())
	ws.GET("/boards/:id", realtimeHandler.Subscribe)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
