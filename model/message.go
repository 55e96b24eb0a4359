package model

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage 消息表
// conversation_id 即 accepted 状态 Friendship 的 ID。seq 是会话内单调递增的序号，
// 由服务端在持久化时分配，(conversation_id, seq) 唯一索引兜底防止乱序写入。
// 消息一经写入不可修改、不可删除。
type ChatMessage struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:uuid;not null;uniqueIndex:idx_conversation_seq"`
	SenderID       uuid.UUID `json:"sender_id" gorm:"type:uuid;not null;index"`
	Seq            int64     `json:"seq" gorm:"not null;uniqueIndex:idx_conversation_seq"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (ChatMessage) TableName() string {
	return "messages"
}
