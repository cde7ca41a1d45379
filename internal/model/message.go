package model

import (
	"errors"
	"time"
)

// MessageType describes the payload kind the connector reported.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
)

// Message is one communication event attached to a Lead. Messages are
// append-only: once created they are never updated, and they disappear only
// when their owning Lead is deleted.
type Message struct {
	ID          int64       `json:"id"`
	LeadID      int64       `json:"lead_id"`
	Sender      string      `json:"sender,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type,omitempty"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MessageFilter controls List queries.
type MessageFilter struct {
	LeadID *int64 // equals
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
	Desc   bool // order by created_at
}

// OutboundSendRequest is the input for sending a message to a known lead
// through the connector.
type OutboundSendRequest struct {
	Phone   string
	Content string
}

func (p OutboundSendRequest) Validate() error {
	if p.Phone == "" {
		return errors.New("phone is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	return nil
}
