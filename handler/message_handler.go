package handler

import (
	"strconv"

	"pally_chat/middleware"
	"pally_chat/service"
	"pally_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	msgSvc *service.MessageService
}

func NewMessageHandler(msgSvc *service.MessageService) *MessageHandler {
	return &MessageHandler{msgSvc: msgSvc}
}

// GetHistory 获取会话历史消息
// since_seq 为增量游标（返回 seq 大于它的消息），limit 控制单次条数
func (h *MessageHandler) GetHistory(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "invalid conversation id")
		return
	}

	sinceSeq, _ := strconv.ParseInt(c.DefaultQuery("since_seq", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	messages, err := h.msgSvc.History(userID, conversationID, sinceSeq, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"messages": messages})
}
