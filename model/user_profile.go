package model

import "github.com/google/uuid"

// UserProfile 用户公开资料表
// 账号体系由外部服务维护，这里只读，用于补充好友列表里对方的展示信息。
type UserProfile struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(100)"`
	Email     string    `json:"email" gorm:"type:varchar(255)"`
	AvatarURL *string   `json:"avatar_url,omitempty" gorm:"type:text"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}
