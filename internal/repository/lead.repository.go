package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/pkg/pg"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

var (
	ErrLeadNotFound   = errors.New("lead not found")
	ErrDuplicatePhone = errors.New("phone number already registered")
)

type LeadRepository struct {
	*pg.DB
}

func NewLeadRepository(db *pg.DB) *LeadRepository {
	return &LeadRepository{
		db,
	}
}

// Create inserts a new lead. A concurrent insert for the same phone loses
// against the unique index and surfaces as ErrDuplicatePhone; callers
// resolve the race by re-fetching with GetByPhone.
func (r *LeadRepository) Create(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	entity := toLeadEntity(lead)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePhone
		}
		return nil, err
	}

	return toLeadModel(entity), nil
}

// GetByPhone looks a lead up by its canonical phone number, exact match.
func (r *LeadRepository) GetByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	var entity LeadEntity
	err := r.Read(ctx).
		Where("phone = ?", phone).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return toLeadModel(&entity), nil
}

func (r *LeadRepository) GetByID(ctx context.Context, id int64) (*model.Lead, error) {
	var entity LeadEntity
	err := r.Read(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return toLeadModel(&entity), nil
}

// UpdateName overwrites the stored display name.
func (r *LeadRepository) UpdateName(ctx context.Context, id int64, name string) error {
	result := r.Write(ctx).
		Model(&LeadEntity{}).
		Where("id = ?", id).
		Update("name", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// RefreshLastContact sets last_contact to the given instant unconditionally
// (last-write-wins, no ordering check).
func (r *LeadRepository) RefreshLastContact(ctx context.Context, id int64, at time.Time) error {
	result := r.Write(ctx).
		Model(&LeadEntity{}).
		Where("id = ?", id).
		Update("last_contact", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (r *LeadRepository) List(ctx context.Context, f model.LeadFilter) ([]*model.Lead, int64, error) {
	q := r.Read(ctx).Model(&LeadEntity{})

	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.Phone != nil && *f.Phone != "" {
		q = q.Where("phone = ?", *f.Phone)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
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

	var entities []*LeadEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toLeadModels(entities), total, nil
}

func (r *LeadRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.Read(ctx).Model(&LeadEntity{}).Count(&total).Error
	return total, err
}

// Delete removes a lead; its messages go with it through the FK cascade.
func (r *LeadRepository) Delete(ctx context.Context, id int64) error {
	result := r.Write(ctx).
		Select("Messages").
		Delete(&LeadEntity{ID: id})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// isUniqueViolation recognizes a unique-index conflict across the drivers
// in play (postgres in production, sqlite in tests).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
