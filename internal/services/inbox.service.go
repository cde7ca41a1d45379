package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/internal/repository"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/budbot/whatsapp-gateway/pkg/prom"
)

const whatsappSuffix = "@c.us"

type LeadRepository interface {
	Create(ctx context.Context, lead *model.Lead) (*model.Lead, error)
	GetByPhone(ctx context.Context, phone string) (*model.Lead, error)
	GetByID(ctx context.Context, id int64) (*model.Lead, error)
	UpdateName(ctx context.Context, id int64, name string) error
	RefreshLastContact(ctx context.Context, id int64, at time.Time) error
	List(ctx context.Context, f model.LeadFilter) ([]*model.Lead, int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
}

// InboundPublisher fans a stored inbound message out to downstream
// consumers. Publishing happens after commit and is best effort.
type InboundPublisher interface {
	PublishJSON(ctx context.Context, v interface{}) (string, error)
}

type InboxService struct {
	leadRepo    LeadRepository
	messageRepo MessageRepository
	publisher   InboundPublisher
	displayLoc  *time.Location
}

func NewInboxService(leadRepo LeadRepository, messageRepo MessageRepository, publisher InboundPublisher, displayLoc *time.Location) *InboxService {
	if displayLoc == nil {
		displayLoc = time.UTC
	}
	return &InboxService{
		leadRepo:    leadRepo,
		messageRepo: messageRepo,
		publisher:   publisher,
		displayLoc:  displayLoc,
	}
}

// ProcessInbound applies one message_received payload: it resolves the
// sender to a lead (creating one on first contact), refreshes the lead's
// last_contact, and appends the message. Lead upsert and message insert
// commit or roll back together. Re-delivering the same payload appends a
// second message to the same lead; there is no content-level dedup.
func (s *InboxService) ProcessInbound(ctx context.Context, data model.InboundMessageData) (*model.InboundReceipt, error) {
	started := time.Now()

	if err := data.Validate(); err != nil {
		return nil, err
	}

	phone := normalizePhone(data.From, data.Contact.Number)
	if phone == "" {
		return nil, model.ErrMissingPhone
	}
	name := strings.TrimSpace(data.Contact.Name)
	if name == "" {
		name = model.UnknownName
	}
	at := s.resolveTimestamp(data.Timestamp)

	var stored *model.Message
	var lead *model.Lead
	err := s.leadRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		lead, err = s.resolveLead(ctx, phone, name)
		if err != nil {
			return err
		}

		if lead.Name == model.UnknownName && name != model.UnknownName {
			if err := s.leadRepo.UpdateName(ctx, lead.ID, name); err != nil {
				return fmt.Errorf("update lead name: %w", err)
			}
			lead.Name = name
		}

		if err := s.leadRepo.RefreshLastContact(ctx, lead.ID, at); err != nil {
			return fmt.Errorf("refresh last contact: %w", err)
		}

		// Sender records what this payload carried, not the lead's
		// stored name. A nameless message from a known lead reads
		// "Unknown" even when the lead itself does not.
		stored, err = s.messageRepo.Create(ctx, &model.Message{
			LeadID:      lead.ID,
			Sender:      name,
			Content:     *data.Body,
			MessageType: model.MessageTypeText,
		})
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishInbound(ctx, lead, stored)

	prom.ObserveUpsertDuration(time.Since(started).Seconds())

	return &model.InboundReceipt{
		LeadID:    lead.ID,
		MessageID: stored.ID,
		Timestamp: at,
	}, nil
}

// resolveLead finds the lead owning the phone or creates it. A concurrent
// create for the same phone loses against the unique index; the loser
// re-fetches the winner's row.
func (s *InboxService) resolveLead(ctx context.Context, phone, name string) (*model.Lead, error) {
	lead, err := s.leadRepo.GetByPhone(ctx, phone)
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, repository.ErrLeadNotFound) {
		return nil, fmt.Errorf("lookup lead: %w", err)
	}

	lead, err = s.leadRepo.Create(ctx, &model.Lead{
		Name:   name,
		Phone:  phone,
		Status: model.LeadStatusNew,
	})
	if err == nil {
		return lead, nil
	}
	if errors.Is(err, repository.ErrDuplicatePhone) {
		return s.leadRepo.GetByPhone(ctx, phone)
	}
	return nil, fmt.Errorf("create lead: %w", err)
}

func (s *InboxService) publishInbound(ctx context.Context, lead *model.Lead, msg *model.Message) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishJSON(ctx, msg)
	if err != nil {
		logger.Warn("inbound publish failed", "lead_id", lead.ID, "message_id", msg.ID, "error", err)
	}
}

// resolveTimestamp converts an epoch-seconds value into the configured
// display timezone. Zero or negative means the connector sent no usable
// timestamp, so the current time stands in.
func (s *InboxService) resolveTimestamp(epoch int64) time.Time {
	if epoch <= 0 {
		return time.Now().In(s.displayLoc)
	}
	return time.Unix(epoch, 0).In(s.displayLoc)
}

// normalizePhone strips the WhatsApp JID suffix from the raw sender id.
// When nothing is left after the strip it falls back to the contact card
// number, then to the raw id.
func normalizePhone(from, contactNumber string) string {
	raw := strings.TrimSpace(from)
	p := strings.TrimSuffix(raw, whatsappSuffix)
	if p == "" {
		p = strings.TrimSpace(contactNumber)
	}
	if p == "" {
		p = raw
	}
	return p
}

func (s *InboxService) ListLeads(ctx context.Context, f model.LeadFilter) ([]*model.Lead, int64, error) {
	return s.leadRepo.List(ctx, f)
}

func (s *InboxService) ListMessages(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	return s.messageRepo.List(ctx, f)
}

func (s *InboxService) GetLead(ctx context.Context, id int64) (*model.Lead, error) {
	return s.leadRepo.GetByID(ctx, id)
}
