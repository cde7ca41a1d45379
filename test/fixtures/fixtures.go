package fixtures

import (
	"encoding/json"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
)

const WebhookToken = "test-webhook-token"

var (
	TestLeadAlice = model.Lead{
		ID:     1,
		Name:   "Alice Souza",
		Phone:  "5511999990001",
		Status: model.LeadStatusNew,
	}

	TestLeadUnknown = model.Lead{
		ID:     2,
		Name:   model.UnknownName,
		Phone:  "5511999990002",
		Status: model.LeadStatusNew,
	}
)

func NewInboundMessageData(from, body, contactName string) model.InboundMessageData {
	b := body
	return model.InboundMessageData{
		From:      from,
		Body:      &b,
		Timestamp: time.Now().Unix(),
		Contact: model.ContactInfo{
			Name: contactName,
		},
	}
}

func NewWebhookEvent(event string, data any, token string) model.WebhookEvent {
	raw, _ := json.Marshal(data)
	return model.WebhookEvent{
		Event: event,
		Data:  raw,
		Token: token,
	}
}

func MessageReceivedBody(from, body, contactName, token string) []byte {
	evt := map[string]any{
		"event": model.EventMessageReceived,
		"token": token,
		"data": map[string]any{
			"from":      from,
			"body":      body,
			"timestamp": time.Now().Unix(),
			"contact": map[string]any{
				"name":   contactName,
				"number": "",
			},
		},
	}
	b, _ := json.Marshal(evt)
	return b
}

var ValidPhones = []string{
	"5511999990001",
	"5511999990001@c.us",
	"5521988887777@c.us",
}
