package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Event discriminators emitted by the WhatsApp connector.
const (
	EventQRGenerated     = "qr_generated"
	EventClientReady     = "client_ready"
	EventAuthenticated   = "authenticated"
	EventMessageReceived = "message_received"
	EventDisconnected    = "disconnected"
)

// WebhookEvent is the envelope the connector posts to the gateway. The
// token field is an alternative to the Authorization header; timestamp is
// informational only.
type WebhookEvent struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Token     string          `json:"token,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// InboundMessageData is the data payload of a message_received event.
// Body is a pointer because the field must be present even when empty.
type InboundMessageData struct {
	From      string      `json:"from"`
	Body      *string     `json:"body"`
	Timestamp int64       `json:"timestamp"`
	Contact   ContactInfo `json:"contact"`
}

type ContactInfo struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

var (
	ErrMissingBody  = errors.New("message body field is required")
	ErrMissingPhone = errors.New("sender phone number could not be resolved")
)

func (d InboundMessageData) Validate() error {
	if d.Body == nil {
		return ErrMissingBody
	}
	if d.From == "" && d.Contact.Number == "" {
		return ErrMissingPhone
	}
	return nil
}

// DisconnectedData is the data payload of a disconnected event.
type DisconnectedData struct {
	Reason     string `json:"reason"`
	RetryCount int    `json:"retry_count"`
}

// QRGeneratedData is the data payload of a qr_generated event.
type QRGeneratedData struct {
	QRCode string `json:"qr_code"`
}

// InboundReceipt is what the upsert engine returns for an accepted
// message_received event.
type InboundReceipt struct {
	LeadID    int64     `json:"lead_id"`
	MessageID int64     `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}
