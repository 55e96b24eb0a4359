package handler

import (
	"errors"

	"pally_chat/middleware"
	"pally_chat/service"
	"pally_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type FriendshipHandler struct {
	friendSvc *service.FriendshipService
}

func NewFriendshipHandler(friendSvc *service.FriendshipService) *FriendshipHandler {
	return &FriendshipHandler{friendSvc: friendSvc}
}

// CreateRequest 发起好友请求
func (h *FriendshipHandler) CreateRequest(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req struct {
		RecipientID uuid.UUID `json:"recipient_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	friendship, err := h.friendSvc.CreateRequest(userID, req.RecipientID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"friendship_id": friendship.ID})
}

// ResolveRequest 处理好友请求（接受/拒绝）
func (h *FriendshipHandler) ResolveRequest(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	friendshipID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "invalid friendship id")
		return
	}

	var req struct {
		Decision string `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	friendship, err := h.friendSvc.ResolveRequest(friendshipID, userID, req.Decision)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"friendship": friendship})
}

// ListRelationships 列出待处理请求和好友
func (h *FriendshipHandler) ListRelationships(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	list, err := h.friendSvc.ListRelationships(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, list)
}

// respondServiceError 把业务错误映射成对应的 HTTP 状态码
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		utils.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		utils.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrAlreadyResolved):
		utils.Conflict(c, err.Error())
	default:
		utils.InternalServerError(c, err.Error())
	}
}
