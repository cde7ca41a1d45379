package repository

import (
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
)

type MessageEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	LeadID      int64     `db:"lead_id"      gorm:"column:lead_id;not null;index"`
	Sender      string    `db:"sender"       gorm:"column:sender"`
	Content     string    `db:"content"      gorm:"column:content;not null"`
	MessageType string    `db:"message_type" gorm:"column:message_type"`
	IsRead      bool      `db:"is_read"      gorm:"column:is_read;default:false"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:          m.ID,
		LeadID:      m.LeadID,
		Sender:      m.Sender,
		Content:     m.Content,
		MessageType: string(m.MessageType),
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:          e.ID,
		LeadID:      e.LeadID,
		Sender:      e.Sender,
		Content:     e.Content,
		MessageType: model.MessageType(e.MessageType),
		IsRead:      e.IsRead,
		CreatedAt:   e.CreatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
