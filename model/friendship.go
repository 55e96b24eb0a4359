package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 好友关系状态
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
	FriendshipDeclined = "declined"
)

// Friendship 好友关系表
// 一条记录对应一个无序用户对 {requester, recipient}，pair_key 上的唯一索引保证同一对用户
// 最多只有一条记录。状态一旦离开 pending 即为终态，不允许再次变更。
type Friendship struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RequesterID uuid.UUID `json:"requester_id" gorm:"type:uuid;not null;index"`
	RecipientID uuid.UUID `json:"recipient_id" gorm:"type:uuid;not null;index"`
	PairKey     string    `json:"-" gorm:"type:varchar(80);not null;uniqueIndex"`
	Status      string    `json:"status" gorm:"type:varchar(20);not null;default:pending"` // 'pending' | 'accepted' | 'declined'
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Friendship) TableName() string {
	return "friendships"
}

// PairKeyFor 计算无序用户对的规范化键（小的 UUID 在前）
func PairKeyFor(a, b uuid.UUID) string {
	if a.String() > b.String() {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s", a, b)
}

// CounterpartOf 返回好友关系中 userID 的对方
func (f *Friendship) CounterpartOf(userID uuid.UUID) uuid.UUID {
	if f.RequesterID == userID {
		return f.RecipientID
	}
	return f.RequesterID
}

// Involves 检查用户是否是该好友关系的一方
func (f *Friendship) Involves(userID uuid.UUID) bool {
	return f.RequesterID == userID || f.RecipientID == userID
}

// PendingRequestItem 收到的好友请求（包含请求者公开信息）
type PendingRequestItem struct {
	FriendshipID uuid.UUID    `json:"friendship_id"`
	Requester    *UserProfile `json:"requester,omitempty"`
	RequesterID  uuid.UUID    `json:"requester_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

// FriendItem 已建立的好友（friendship_id 同时也是会话 ID）
type FriendItem struct {
	FriendshipID uuid.UUID    `json:"friendship_id"`
	Friend       *UserProfile `json:"friend,omitempty"`
	FriendID     uuid.UUID    `json:"friend_id"`
	AcceptedAt   time.Time    `json:"accepted_at"`
}
