package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/GreyyDaze/orbit-server/internal/authz"
	"github.com/GreyyDaze/orbit-server/internal/middleware"
	"github.com/GreyyDaze/orbit-server/internal/models"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentGhost returns the ghost the middleware attached, or nil.
func currentGhost(c *gin.Context) *models.Ghost {
	if v, ok := c.Get(middleware.CtxGhostKey); ok {
		if ghost, ok := v.(*models.Ghost); ok {
			return ghost
		}
	}
	return nil
}

// currentAccount returns the authenticated account, or nil.
func currentAccount(c *gin.Context) *models.Account {
	if v, ok := c.Get(middleware.CtxAccountKey); ok {
		if account, ok := v.(*models.Account); ok {
			return account
		}
	}
	return nil
}

// requester assembles the identity triple the authorization evaluator works
// from: session ghost, authenticated account, and any presented admin secret.
func requester(c *gin.Context) authz.Requester {
	return authz.Requester{
		Ghost:       currentGhost(c),
		Account:     currentAccount(c),
		AdminSecret: c.GetString(middleware.CtxAdminSecretKey),
	}
}
