package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	midsec "ChatSync/middleware/security"
	"ChatSync/tools/errs"
	sec "ChatSync/tools/security"
)

// Handler is the JSON API over the chat service. HTML rendering lives
// elsewhere; every endpoint here returns a direct success/failure result.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// RegisterRoutes mounts the API under /api with bearer authentication.
func (h *Handler) RegisterRoutes(r gin.IRouter, authOpts sec.Options) {
	api := r.Group("/api", midsec.Middleware(authOpts))
	api.GET("/chats", h.ListChats)
	api.POST("/chats", h.CreatePrivateChat)
	api.GET("/chats/:id/messages", h.OpenChat)
	api.POST("/chats/:id/messages", h.SendMessage)
	api.GET("/users", h.ListUsers)
}

func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.svc.ListChats(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

type createChatRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *Handler) CreatePrivateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chat, err := h.svc.EnsurePrivateChat(c.Request.Context(), midsec.UserID(c), req.UserID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) OpenChat(c *gin.Context) {
	views, err := h.svc.OpenChat(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.svc.Send(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.Message)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.ListUsers(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "access denied"})
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errs.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}
