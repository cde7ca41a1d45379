package services

import (
	"context"

	"github.com/budbot/whatsapp-gateway/internal/model"
)

type StoreChecker interface {
	Ping(ctx context.Context) error
}

type Counter interface {
	Count(ctx context.Context) (int64, error)
}

type HealthService struct {
	store    StoreChecker
	leads    Counter
	messages Counter
}

func NewHealthService(store StoreChecker, leads, messages Counter) *HealthService {
	return &HealthService{
		store:    store,
		leads:    leads,
		messages: messages,
	}
}

// Check probes the store and gathers row counts. Any failure means the
// service cannot currently do its job and the caller should report
// unhealthy.
func (s *HealthService) Check(ctx context.Context) (*model.HealthReport, error) {
	if err := s.store.Ping(ctx); err != nil {
		return nil, err
	}

	leads, err := s.leads.Count(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &model.HealthReport{
		Database:      "connected",
		TotalLeads:    leads,
		TotalMessages: messages,
	}, nil
}
