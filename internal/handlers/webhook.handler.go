package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	xhttp "github.com/budbot/whatsapp-gateway/pkg/http"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/budbot/whatsapp-gateway/pkg/prom"
	"github.com/fasthttp/router"
	"github.com/google/uuid"
)

type InboxService interface {
	ProcessInbound(ctx context.Context, data model.InboundMessageData) (*model.InboundReceipt, error)
}

type WebhookHandler struct {
	svc        InboxService
	token      string
	displayLoc *time.Location
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/connector", h.Receive)
}

func NewWebhookHandler(svc InboxService, token string, displayLoc *time.Location) *WebhookHandler {
	if displayLoc == nil {
		displayLoc = time.UTC
	}
	return &WebhookHandler{
		svc:        svc,
		token:      token,
		displayLoc: displayLoc,
	}
}

// Receive is the single entry point for connector events. Authentication
// runs before anything else: a Bearer header when present, otherwise the
// token field inside the body. A request that cannot prove itself gets 401
// regardless of what else is wrong with it.
func (h *WebhookHandler) Receive(ctx *xhttp.RequestCtx) {
	var evt model.WebhookEvent
	parseErr := json.Unmarshal(ctx.PostBody(), &evt)

	if !h.authenticate(ctx, evt, parseErr) {
		prom.ObserveWebhookEvent(eventLabel(evt.Event), "unauthorized")
		writeError(ctx, xhttp.StatusUnauthorized, "unauthorized")
		return
	}

	if parseErr != nil {
		prom.ObserveWebhookEvent("none", "invalid")
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON payload")
		return
	}
	if evt.Event == "" {
		prom.ObserveWebhookEvent("none", "invalid")
		writeError(ctx, xhttp.StatusBadRequest, "event field is required")
		return
	}

	eventID := uuid.NewString()

	switch evt.Event {
	case model.EventQRGenerated:
		h.handleQRGenerated(ctx, evt, eventID)
	case model.EventClientReady:
		session := evt.SessionID
		if session == "" {
			session = "main"
		}
		logger.Info("whatsapp client ready", "event_id", eventID, "session_id", session)
		h.ack(ctx, evt.Event, "client ready acknowledged", map[string]any{"session_id": session})
	case model.EventAuthenticated:
		logger.Info("whatsapp session authenticated", "event_id", eventID, "session_id", evt.SessionID)
		h.ack(ctx, evt.Event, "authentication acknowledged", nil)
	case model.EventDisconnected:
		h.handleDisconnected(ctx, evt, eventID)
	case model.EventMessageReceived:
		h.handleMessageReceived(ctx, evt, eventID)
	default:
		// Unknown events are acknowledged so connector updates that add
		// event types do not see retries or errors.
		logger.Info("ignoring unknown webhook event", "event_id", eventID, "event", evt.Event)
		h.ackWithStatus(ctx, xhttp.StatusOK, evt.Event, "ignored", "event ignored", map[string]any{"event": evt.Event})
	}
}

func (h *WebhookHandler) handleQRGenerated(ctx *xhttp.RequestCtx, evt model.WebhookEvent, eventID string) {
	var data model.QRGeneratedData
	if len(evt.Data) > 0 {
		_ = json.Unmarshal(evt.Data, &data)
	}
	logger.Info("qr code generated, scan to authenticate", "event_id", eventID, "qr_len", len(data.QRCode))
	h.ack(ctx, evt.Event, "qr code received", nil)
}

func (h *WebhookHandler) handleDisconnected(ctx *xhttp.RequestCtx, evt model.WebhookEvent, eventID string) {
	var data model.DisconnectedData
	if len(evt.Data) > 0 {
		_ = json.Unmarshal(evt.Data, &data)
	}
	logger.Warn("whatsapp client disconnected",
		"event_id", eventID,
		"reason", data.Reason,
		"retry_count", data.RetryCount,
	)
	h.ack(ctx, evt.Event, "disconnect acknowledged", map[string]any{
		"reason":      data.Reason,
		"retry_count": data.RetryCount,
	})
}

func (h *WebhookHandler) handleMessageReceived(ctx *xhttp.RequestCtx, evt model.WebhookEvent, eventID string) {
	var data model.InboundMessageData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		prom.ObserveWebhookEvent(evt.Event, "invalid")
		writeError(ctx, xhttp.StatusBadRequest, "invalid message data: "+err.Error())
		return
	}
	if err := data.Validate(); err != nil {
		prom.ObserveWebhookEvent(evt.Event, "invalid")
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.svc.ProcessInbound(ctx, data)
	if err != nil {
		prom.ObserveWebhookEvent(evt.Event, "error")
		logger.Error("inbound message processing failed", "event_id", eventID, "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, "failed to process message")
		return
	}

	logger.Info("inbound message stored",
		"event_id", eventID,
		"lead_id", receipt.LeadID,
		"message_id", receipt.MessageID,
	)
	// The ack echoes the computed message timestamp, not the time the
	// response was written.
	h.ack(ctx, evt.Event, "message processed", map[string]any{
		"lead_id":    receipt.LeadID,
		"message_id": receipt.MessageID,
		"timestamp":  receipt.Timestamp.In(h.displayLoc).Format(time.RFC3339),
	})
}

// authenticate prefers the Authorization header; the body token only
// counts when no header was sent. Comparison is constant time.
func (h *WebhookHandler) authenticate(ctx *xhttp.RequestCtx, evt model.WebhookEvent, parseErr error) bool {
	if header := string(ctx.Request.Header.Peek("Authorization")); header != "" {
		bearer := strings.TrimPrefix(header, "Bearer ")
		return tokenEqual(bearer, h.token)
	}
	if parseErr != nil {
		return false
	}
	return tokenEqual(evt.Token, h.token)
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func eventLabel(event string) string {
	if event == "" {
		return "none"
	}
	return event
}

func (h *WebhookHandler) ack(ctx *xhttp.RequestCtx, event, message string, extra map[string]any) {
	h.ackWithStatus(ctx, xhttp.StatusOK, event, "ok", message, extra)
}

func (h *WebhookHandler) ackWithStatus(ctx *xhttp.RequestCtx, status int, event, outcome, message string, extra map[string]any) {
	prom.ObserveWebhookEvent(eventLabel(event), outcome)
	body := map[string]any{
		"status":    "ok",
		"message":   message,
		"timestamp": time.Now().In(h.displayLoc).Format(time.RFC3339),
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(ctx, status, body)
}
