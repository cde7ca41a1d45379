package repository

import (
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
)

type LeadEntity struct {
	ID          int64            `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	Name        string           `db:"name"         gorm:"column:name;not null"`
	Phone       string           `db:"phone"        gorm:"column:phone;not null;uniqueIndex"`
	Email       string           `db:"email"        gorm:"column:email"`
	Status      string           `db:"status"       gorm:"column:status;not null;default:new"`
	Notes       string           `db:"notes"        gorm:"column:notes"`
	LastContact *time.Time       `db:"last_contact" gorm:"column:last_contact"`
	CreatedAt   time.Time        `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `db:"updated_at"   gorm:"column:updated_at;autoUpdateTime"`
	Messages    []*MessageEntity `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE"`
}

func (LeadEntity) TableName() string {
	return "leads"
}

func toLeadEntity(m *model.Lead) *LeadEntity {
	if m == nil {
		return nil
	}
	return &LeadEntity{
		ID:          m.ID,
		Name:        m.Name,
		Phone:       m.Phone,
		Email:       m.Email,
		Status:      string(m.Status),
		Notes:       m.Notes,
		LastContact: m.LastContact,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toLeadModel(e *LeadEntity) *model.Lead {
	if e == nil {
		return nil
	}
	return &model.Lead{
		ID:          e.ID,
		Name:        e.Name,
		Phone:       e.Phone,
		Email:       e.Email,
		Status:      model.LeadStatus(e.Status),
		Notes:       e.Notes,
		LastContact: e.LastContact,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toLeadModels(entities []*LeadEntity) []*model.Lead {
	if entities == nil {
		return nil
	}
	models := make([]*model.Lead, len(entities))
	for i, e := range entities {
		models[i] = toLeadModel(e)
	}
	return models
}
