package service

import (
	"errors"
	"fmt"

	"pally_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FriendshipService 好友关系状态机
// 状态流转：pending → accepted | declined（终态）。所有对 friendships 表的写操作都收敛在这里。
type FriendshipService struct {
	db         *gorm.DB
	profileSvc *ProfileService
}

func NewFriendshipService(db *gorm.DB) *FriendshipService {
	return &FriendshipService{
		db:         db,
		profileSvc: NewProfileService(db),
	}
}

// CreateRequest 发起好友请求
// 同一无序用户对最多只允许一条记录（含已 declined 的记录，不提供重新发起的入口）。
func (s *FriendshipService) CreateRequest(requesterID, recipientID uuid.UUID) (*model.Friendship, error) {
	if recipientID == uuid.Nil {
		return nil, fmt.Errorf("%w: recipient_id is required", ErrInvalidRequest)
	}
	if requesterID == recipientID {
		return nil, fmt.Errorf("%w: cannot send a friend request to yourself", ErrInvalidRequest)
	}

	pairKey := model.PairKeyFor(requesterID, recipientID)

	// 先查重，给并发之外的正常路径一个明确的错误信息
	var count int64
	if err := s.db.Model(&model.Friendship{}).
		Where("pair_key = ?", pairKey).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing friendship: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: a friendship already exists between these users", ErrConflict)
	}

	friendship := &model.Friendship{
		RequesterID: requesterID,
		RecipientID: recipientID,
		PairKey:     pairKey,
		Status:      model.FriendshipPending,
	}

	if err := s.db.Create(friendship).Error; err != nil {
		// 并发的双向请求会同时通过上面的查重，靠 pair_key 唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: a friendship already exists between these users", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create friend request: %w", err)
	}

	return friendship, nil
}

// ResolveRequest 处理好友请求（仅接收方可操作）
// 状态变更是一次 compare-and-swap：只有当前状态仍是 pending 时才会生效，
// 并发的重复处理中只有一个成功，其余返回 AlreadyResolved。
func (s *FriendshipService) ResolveRequest(friendshipID, actingUserID uuid.UUID, decision string) (*model.Friendship, error) {
	if decision != model.FriendshipAccepted && decision != model.FriendshipDeclined {
		return nil, fmt.Errorf("%w: decision must be 'accepted' or 'declined'", ErrInvalidRequest)
	}

	var friendship model.Friendship
	if err := s.db.Where("id = ?", friendshipID).First(&friendship).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: friendship does not exist", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load friendship: %w", err)
	}

	if friendship.RecipientID != actingUserID {
		return nil, fmt.Errorf("%w: only the recipient can resolve this request", ErrForbidden)
	}

	result := s.db.Model(&model.Friendship{}).
		Where("id = ? AND status = ?", friendshipID, model.FriendshipPending).
		Update("status", decision)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to resolve friend request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: request is no longer pending", ErrAlreadyResolved)
	}

	if err := s.db.Where("id = ?", friendshipID).First(&friendship).Error; err != nil {
		return nil, fmt.Errorf("failed to reload friendship: %w", err)
	}

	return &friendship, nil
}

// RelationshipList 用户的关系总览
type RelationshipList struct {
	Pending []model.PendingRequestItem `json:"pending"`
	Friends []model.FriendItem         `json:"friends"`
}

// ListRelationships 列出用户收到的待处理请求和已建立的好友
// 对方的公开资料从 user_profiles 目录补充，缺失时只返回 ID。
func (s *FriendshipService) ListRelationships(userID uuid.UUID) (*RelationshipList, error) {
	var pending []model.Friendship
	if err := s.db.Where("recipient_id = ? AND status = ?", userID, model.FriendshipPending).
		Order("created_at DESC").
		Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}

	var accepted []model.Friendship
	if err := s.db.Where("(requester_id = ? OR recipient_id = ?) AND status = ?",
		userID, userID, model.FriendshipAccepted).
		Order("updated_at DESC").
		Find(&accepted).Error; err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}

	// 批量查询对方的公开资料
	counterpartIDs := make([]uuid.UUID, 0, len(pending)+len(accepted))
	for _, f := range pending {
		counterpartIDs = append(counterpartIDs, f.RequesterID)
	}
	for _, f := range accepted {
		counterpartIDs = append(counterpartIDs, f.CounterpartOf(userID))
	}
	profiles, err := s.profileSvc.GetProfiles(counterpartIDs)
	if err != nil {
		return nil, err
	}

	list := &RelationshipList{
		Pending: make([]model.PendingRequestItem, 0, len(pending)),
		Friends: make([]model.FriendItem, 0, len(accepted)),
	}
	for _, f := range pending {
		list.Pending = append(list.Pending, model.PendingRequestItem{
			FriendshipID: f.ID,
			RequesterID:  f.RequesterID,
			Requester:    profiles[f.RequesterID],
			CreatedAt:    f.CreatedAt,
		})
	}
	for _, f := range accepted {
		friendID := f.CounterpartOf(userID)
		list.Friends = append(list.Friends, model.FriendItem{
			FriendshipID: f.ID,
			FriendID:     friendID,
			Friend:       profiles[friendID],
			AcceptedAt:   f.UpdatedAt,
		})
	}

	return list, nil
}

// AuthorizeConversation 校验用户是否可以访问会话
// 会话 ID 即 Friendship ID，只有 accepted 状态的关系才构成有效会话。
func (s *FriendshipService) AuthorizeConversation(conversationID, userID uuid.UUID) error {
	var friendship model.Friendship
	if err := s.db.Where("id = ?", conversationID).First(&friendship).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: conversation does not exist", ErrNotFound)
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if !friendship.Involves(userID) {
		return fmt.Errorf("%w: you are not a party to this conversation", ErrForbidden)
	}
	if friendship.Status != model.FriendshipAccepted {
		return fmt.Errorf("%w: conversation does not exist", ErrNotFound)
	}

	return nil
}
