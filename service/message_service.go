package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"pally_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultMaxMessageLen = 2000

// 单次历史拉取的条数限制
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageService 消息持久化
// 只追加，不修改不删除。seq 在事务内基于 MAX(seq)+1 分配，事务先对 friendship 行加
// FOR UPDATE 锁，同一会话的并发 append 被串行化，seq 因此严格递增无空洞。
type MessageService struct {
	db            *gorm.DB
	friendSvc     *FriendshipService
	maxMessageLen int
}

func NewMessageService(db *gorm.DB, friendSvc *FriendshipService) *MessageService {
	return &MessageService{
		db:            db,
		friendSvc:     friendSvc,
		maxMessageLen: defaultMaxMessageLen,
	}
}

func NewMessageServiceWithConfig(db *gorm.DB, friendSvc *FriendshipService, maxMessageLen int) *MessageService {
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &MessageService{
		db:            db,
		friendSvc:     friendSvc,
		maxMessageLen: maxMessageLen,
	}
}

// Append 持久化一条消息并返回带 seq 的完整记录
// 发送方必须是该会话对应 accepted 好友关系的一方。
func (s *MessageService) Append(senderID, conversationID uuid.UUID, content string) (*model.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(content) > s.maxMessageLen {
		return nil, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidRequest, s.maxMessageLen)
	}

	message := &model.ChatMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 锁住 friendship 行：既完成授权校验，又把同一会话的 seq 分配串行化
		var friendship model.Friendship
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", conversationID).
			First(&friendship).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: conversation does not exist", ErrNotFound)
			}
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		if !friendship.Involves(senderID) {
			return fmt.Errorf("%w: you are not a party to this conversation", ErrForbidden)
		}
		if friendship.Status != model.FriendshipAccepted {
			return fmt.Errorf("%w: conversation does not exist", ErrNotFound)
		}

		var maxSeq int64
		if err := tx.Model(&model.ChatMessage{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to compute next seq: %w", err)
		}
		message.Seq = maxSeq + 1

		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return message, nil
}

// History 拉取会话历史消息
// sinceSeq 为增量游标，返回 seq > sinceSeq 的消息，按 seq 升序；sinceSeq=0 表示从头拉。
func (s *MessageService) History(userID, conversationID uuid.UUID, sinceSeq int64, limit int) ([]model.ChatMessage, error) {
	if err := s.friendSvc.AuthorizeConversation(conversationID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages := make([]model.ChatMessage, 0, limit)
	if err := s.db.Where("conversation_id = ? AND seq > ?", conversationID, sinceSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return messages, nil
}
