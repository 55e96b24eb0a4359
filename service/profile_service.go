package service

import (
	"fmt"

	"pally_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileService 用户公开资料查询
// user_profiles 表由外部账号服务维护，这里只做批量读取。
type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

// GetProfiles 批量查询用户公开资料，返回 map[userID]*UserProfile
// 资料缺失的用户不会出现在结果里，调用方自行降级展示。
func (s *ProfileService) GetProfiles(userIDs []uuid.UUID) (map[uuid.UUID]*model.UserProfile, error) {
	result := make(map[uuid.UUID]*model.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var profiles []model.UserProfile
	if err := s.db.Where("id IN ?", userIDs).Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to query user profiles: %w", err)
	}

	for i := range profiles {
		result[profiles[i].ID] = &profiles[i]
	}
	return result, nil
}
