package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GreyyDaze/orbit-server/internal/services"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

// NoteHandler exposes note CRUD and upvoting.
type NoteHandler struct {
	notes *services.NoteService
}

func NewNoteHandler(notes *services.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

type createNoteRequest struct {
	Content           string  `json:"content" validate:"required,max=2000"`
	Colour            string  `json:"colour" validate:"omitempty,oneof=YELLOW CREATIVE COOL FRESH ROYAL"`
	PositionX         float64 `json:"position_x"`
	PositionY         float64 `json:"position_y"`
	AnonymousToPublic *bool   `json:"is_anonymous_to_public"`
}

// POST /api/boards/:id/notes
func (h *NoteHandler) Create(c *gin.Context) {
	var req createNoteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	view, err := h.notes.Create(requestContext(c), requester(c), c.Param("id"), services.CreateNoteInput{
		Content:           req.Content,
		Colour:            req.Colour,
		PositionX:         req.PositionX,
		PositionY:         req.PositionY,
		AnonymousToPublic: req.AnonymousToPublic,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, view)
}

// GET /api/boards/:id/notes
func (h *NoteHandler) ListByBoard(c *gin.Context) {
	views, err := h.notes.ListByBoard(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

type updateNoteRequest struct {
	Content           *string  `json:"content" validate:"omitempty,max=2000"`
	Colour            *string  `json:"colour" validate:"omitempty,oneof=YELLOW CREATIVE COOL FRESH ROYAL"`
	PositionX         *float64 `json:"position_x"`
	PositionY         *float64 `json:"position_y"`
	AnonymousToPublic *bool    `json:"is_anonymous_to_public"`
}

// PATCH /api/notes/:id
func (h *NoteHandler) Update(c *gin.Context) {
	var req updateNoteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	view, err := h.notes.Update(requestContext(c), requester(c), c.Param("id"), services.UpdateNoteInput{
		Content:           req.Content,
		Colour:            req.Colour,
		PositionX:         req.PositionX,
		PositionY:         req.PositionY,
		AnonymousToPublic: req.AnonymousToPublic,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// DELETE /api/notes/:id
func (h *NoteHandler) Delete(c *gin.Context) {
	if err := h.notes.Delete(requestContext(c), requester(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/notes/:id/upvote
func (h *NoteHandler) ToggleUpvote(c *gin.Context) {
	result, err := h.notes.ToggleUpvote(requestContext(c), requester(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/notes/mine
func (h *NoteHandler) Mine(c *gin.Context) {
	views, err := h.notes.CreatedByMe(requestContext(c), requester(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

// GET /api/notes/upvoted
func (h *NoteHandler) Upvoted(c *gin.Context) {
	views, err := h.notes.UpvotedByMe(requestContext(c), requester(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}
