package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GreyyDaze/orbit-server/internal/services"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

// BoardHandler exposes the board surface: CRUD, discovery, claiming, and
// access management.
type BoardHandler struct {
	boards *services.BoardService
}

func NewBoardHandler(boards *services.BoardService) *BoardHandler {
	return &BoardHandler{boards: boards}
}

type createBoardRequest struct {
	Title    string `json:"title" validate:"max=255"`
	IsPublic *bool  `json:"is_public"`
}

// POST /api/boards
func (h *BoardHandler) Create(c *gin.Context) {
	var req createBoardRequest
	if !bindAndValidate(c, &req) {
		return
	}

	created, err := h.boards.Create(requestContext(c), requester(c), services.CreateBoardInput{
		Title:    req.Title,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// GET /api/boards/:id
func (h *BoardHandler) Get(c *gin.Context) {
	view, err := h.boards.Get(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GET /api/boards/discover
func (h *BoardHandler) Discover(c *gin.Context) {
	params := services.DiscoverParams{
		Query:  c.Query("q"),
		Sort:   c.DefaultQuery("sort", services.SortRecent),
		Limit:  parseIntQuery(c, "limit", 20),
		Offset: parseIntQuery(c, "offset", 0),
	}

	items, total, err := h.boards.Discover(requestContext(c), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit:  params.Limit,
		Offset: params.Offset,
		Total:  total,
	})
}

// GET /api/boards/mine
func (h *BoardHandler) Mine(c *gin.Context) {
	views, err := h.boards.MyBoards(requestContext(c), requester(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

// GET /api/boards/invited
func (h *BoardHandler) Invited(c *gin.Context) {
	views, err := h.boards.Invited(requestContext(c), requester(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

// GET /api/boards/history
func (h *BoardHandler) History(c *gin.Context) {
	views, err := h.boards.History(requestContext(c), requester(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

type updateBoardRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=255"`
	IsPublic *bool   `json:"is_public"`
}

// PATCH /api/boards/:id
func (h *BoardHandler) Update(c *gin.Context) {
	var req updateBoardRequest
	if !bindAndValidate(c, &req) {
		return
	}

	view, err := h.boards.Update(requestContext(c), requester(c), c.Param("id"), services.UpdateBoardInput{
		Title:    req.Title,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// DELETE /api/boards/:id
func (h *BoardHandler) Delete(c *gin.Context) {
	if err := h.boards.SoftDelete(requestContext(c), requester(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/boards/:id/claim
func (h *BoardHandler) Claim(c *gin.Context) {
	view, err := h.boards.Claim(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// POST /api/boards/:id/secret/rotate
func (h *BoardHandler) RotateSecret(c *gin.Context) {
	secret, err := h.boards.RotateSecret(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"secret_admin_token": secret})
}

// GET /api/boards/:id/access
func (h *BoardHandler) CheckAccess(c *gin.Context) {
	probe, err := h.boards.CheckAccess(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, probe)
}

type inviteRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/boards/:id/invites
func (h *BoardHandler) AddInvite(c *gin.Context) {
	var req inviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invite, err := h.boards.AddInvite(requestContext(c), requester(c), c.Param("id"), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, invite)
}

// DELETE /api/boards/:id/invites
func (h *BoardHandler) RemoveInvite(c *gin.Context) {
	var req inviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.boards.RemoveInvite(requestContext(c), requester(c), c.Param("id"), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

type accessRequestPayload struct {
	Email   string `json:"email" validate:"omitempty,email"`
	Message string `json:"message" validate:"max=500"`
}

// POST /api/boards/:id/requests
func (h *BoardHandler) RequestAccess(c *gin.Context) {
	var req accessRequestPayload
	if !bindAndValidate(c, &req) {
		return
	}

	created, err := h.boards.RequestAccess(requestContext(c), requester(c), c.Param("id"), req.Email, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// GET /api/boards/:id/requests
func (h *BoardHandler) ListAccessRequests(c *gin.Context) {
	requests, err := h.boards.ListAccessRequests(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

type resolveRequestPayload struct {
	Approve *bool `json:"approve" validate:"required"`
}

// POST /api/boards/:id/requests/:requestId/resolve
func (h *BoardHandler) ResolveAccessRequest(c *gin.Context) {
	var req resolveRequestPayload
	if !bindAndValidate(c, &req) {
		return
	}

	resolved, err := h.boards.ResolveAccessRequest(
		requestContext(c), requester(c), c.Param("id"), c.Param("requestId"), *req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resolved)
}
