package services

import (
	"context"
	"fmt"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
)

// ConnectorGateway is the client side of the WhatsApp connector HTTP API.
type ConnectorGateway interface {
	SendMessage(ctx context.Context, to, content string) (*model.ConnectorSendResult, error)
	Status(ctx context.Context) (*model.ConnectorStatus, error)
}

type OutboundService struct {
	leadRepo    LeadRepository
	messageRepo MessageRepository
	connector   ConnectorGateway
	agentLabel  string
}

func NewOutboundService(leadRepo LeadRepository, messageRepo MessageRepository, connector ConnectorGateway, agentLabel string) *OutboundService {
	return &OutboundService{
		leadRepo:    leadRepo,
		messageRepo: messageRepo,
		connector:   connector,
		agentLabel:  agentLabel,
	}
}

// Send delivers content to a known lead through the connector and records
// the outbound message. The lead must already exist; outbound traffic never
// creates leads.
func (s *OutboundService) Send(ctx context.Context, p model.OutboundSendRequest) (*model.Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	phone := normalizePhone(p.Phone, "")
	lead, err := s.leadRepo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	result, err := s.connector.SendMessage(ctx, phone, p.Content)
	if err != nil {
		return nil, fmt.Errorf("connector send: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("connector rejected message: %s", result.Error)
	}

	stored, err := s.messageRepo.Create(ctx, &model.Message{
		LeadID:      lead.ID,
		Sender:      s.agentLabel,
		Content:     p.Content,
		MessageType: model.MessageTypeText,
		IsRead:      true,
	})
	if err != nil {
		// Delivery already happened; the record is gone but the lead
		// keeps its contact trail on the next inbound.
		return nil, fmt.Errorf("record outbound message: %w", err)
	}

	if err := s.leadRepo.RefreshLastContact(ctx, lead.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("refresh last contact: %w", err)
	}

	return stored, nil
}

// ConnectorStatus proxies the connector's session status.
func (s *OutboundService) ConnectorStatus(ctx context.Context) (*model.ConnectorStatus, error) {
	return s.connector.Status(ctx)
}
