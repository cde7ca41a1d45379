package repository

import (
	"context"
	"errors"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
)

var ErrMessageNotFound = errors.New("message not found")

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// Create appends a message. Rows are immutable after insert; there is no
// update path on this repository.
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) (*model.Message, error) {
	entity := toMessageEntity(message)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// List returns messages in arrival order (insert id) unless Desc is set.
func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).Model(&MessageEntity{})

	if f.LeadID != nil {
		q = q.Where("lead_id = ?", *f.LeadID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "id"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

func (r *MessageRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.Read(ctx).Model(&MessageEntity{}).Count(&total).Error
	return total, err
}

// CountByLead counts the stored messages for a single lead.
func (r *MessageRepository) CountByLead(ctx context.Context, leadID int64) (int64, error) {
	var total int64
	err := r.Read(ctx).
		Model(&MessageEntity{}).
		Where("lead_id = ?", leadID).
		Count(&total).
		Error
	return total, err
}
