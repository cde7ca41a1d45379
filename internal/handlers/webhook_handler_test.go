package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	xhttp "github.com/budbot/whatsapp-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const testToken = "webhook-secret"

type MockInboxService struct {
	mock.Mock
}

func (m *MockInboxService) ProcessInbound(ctx context.Context, data model.InboundMessageData) (*model.InboundReceipt, error) {
	args := m.Called(ctx, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundReceipt), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func webhookBody(t *testing.T, event string, data any, token string) []byte {
	t.Helper()
	evt := map[string]any{}
	if event != "" {
		evt["event"] = event
	}
	if data != nil {
		evt["data"] = data
	}
	if token != "" {
		evt["token"] = token
	}
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return b
}

func responseBody(t *testing.T, ctx *xhttp.RequestCtx) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	return body
}

func TestWebhookHandler_Authentication(t *testing.T) {
	svc := new(MockInboxService)
	handler := NewWebhookHandler(svc, testToken, time.UTC)

	t.Run("valid bearer header", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventClientReady, nil, ""))
		ctx.Request.Header.Set("Authorization", "Bearer "+testToken)

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("valid body token", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventClientReady, nil, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("wrong bearer token", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventClientReady, nil, ""))
		ctx.Request.Header.Set("Authorization", "Bearer nope")

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
		assert.Contains(t, responseBody(t, ctx), "error")
	})

	t.Run("header wins over body token", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventClientReady, nil, testToken))
		ctx.Request.Header.Set("Authorization", "Bearer nope")

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("no credentials at all", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventClientReady, nil, ""))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("malformed body without header fails closed", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector", []byte("{not json"))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
	})
}

func TestWebhookHandler_Envelope(t *testing.T) {
	svc := new(MockInboxService)
	handler := NewWebhookHandler(svc, testToken, time.UTC)

	t.Run("malformed JSON with valid header", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector", []byte("{not json"))
		ctx.Request.Header.Set("Authorization", "Bearer "+testToken)

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
	})

	t.Run("missing event field", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, "", nil, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
		assert.Contains(t, responseBody(t, ctx)["error"], "event")
	})

	t.Run("unknown event is acknowledged", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, "battery_low", nil, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

		body := responseBody(t, ctx)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "event ignored", body["message"])
		assert.Equal(t, "battery_low", body["event"])
	})
}

func TestWebhookHandler_LifecycleEvents(t *testing.T) {
	svc := new(MockInboxService)
	handler := NewWebhookHandler(svc, testToken, time.UTC)

	for _, event := range []string{
		model.EventQRGenerated,
		model.EventClientReady,
		model.EventAuthenticated,
		model.EventDisconnected,
	} {
		t.Run(event, func(t *testing.T) {
			ctx := setupTestContext("POST", "/api/whatsapp/connector",
				webhookBody(t, event, map[string]any{"reason": "NAVIGATION"}, testToken))

			handler.Receive(ctx)
			assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

			body := responseBody(t, ctx)
			assert.Equal(t, "ok", body["status"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}

	// lifecycle events never touch the store
	svc.AssertNotCalled(t, "ProcessInbound", mock.Anything, mock.Anything)
}

func TestWebhookHandler_ClientReadyEchoesSession(t *testing.T) {
	svc := new(MockInboxService)
	handler := NewWebhookHandler(svc, testToken, time.UTC)

	t.Run("session id from the envelope", func(t *testing.T) {
		body := map[string]any{
			"event":      model.EventClientReady,
			"token":      testToken,
			"session_id": "sales-desk",
		}
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		ctx := setupTestContext("POST", "/api/whatsapp/connector", raw)
		handler.Receive(ctx)

		require.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "sales-desk", responseBody(t, ctx)["session_id"])
	})

	t.Run("defaults to main", func(t *testing.T) {
		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventClientReady, nil, testToken))
		handler.Receive(ctx)

		require.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "main", responseBody(t, ctx)["session_id"])
	})
}

func TestWebhookHandler_DisconnectedEchoesReason(t *testing.T) {
	svc := new(MockInboxService)
	handler := NewWebhookHandler(svc, testToken, time.UTC)

	ctx := setupTestContext("POST", "/api/whatsapp/connector",
		webhookBody(t, model.EventDisconnected, map[string]any{
			"reason":      "NAVIGATION",
			"retry_count": 3,
		}, testToken))
	handler.Receive(ctx)

	require.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

	body := responseBody(t, ctx)
	assert.Equal(t, "NAVIGATION", body["reason"])
	assert.Equal(t, float64(3), body["retry_count"])
}

func TestWebhookHandler_MessageReceived(t *testing.T) {
	t.Run("delegates to the inbox service", func(t *testing.T) {
		svc := new(MockInboxService)
		handler := NewWebhookHandler(svc, testToken, time.UTC)

		storedAt := time.Unix(1750000000, 0).UTC()
		svc.On("ProcessInbound", mock.Anything, mock.MatchedBy(func(d model.InboundMessageData) bool {
			return d.From == "5511999990001@c.us" && d.Body != nil && *d.Body == "hello"
		})).Return(&model.InboundReceipt{LeadID: 7, MessageID: 42, Timestamp: storedAt}, nil)

		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventMessageReceived, map[string]any{
				"from": "5511999990001@c.us",
				"body": "hello",
				"contact": map[string]any{
					"name":   "Alice",
					"number": "5511999990001",
				},
			}, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

		body := responseBody(t, ctx)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(7), body["lead_id"])
		assert.Equal(t, float64(42), body["message_id"])
		// the ack echoes the computed message timestamp, not response time
		assert.Equal(t, storedAt.Format(time.RFC3339), body["timestamp"])

		svc.AssertExpectations(t)
	})

	t.Run("missing body field", func(t *testing.T) {
		svc := new(MockInboxService)
		handler := NewWebhookHandler(svc, testToken, time.UTC)

		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventMessageReceived, map[string]any{
				"from": "5511999990001@c.us",
			}, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "ProcessInbound", mock.Anything, mock.Anything)
	})

	t.Run("empty body string is accepted", func(t *testing.T) {
		svc := new(MockInboxService)
		handler := NewWebhookHandler(svc, testToken, time.UTC)

		svc.On("ProcessInbound", mock.Anything, mock.MatchedBy(func(d model.InboundMessageData) bool {
			return d.Body != nil && *d.Body == ""
		})).Return(&model.InboundReceipt{LeadID: 1, MessageID: 2, Timestamp: time.Now()}, nil)

		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventMessageReceived, map[string]any{
				"from": "5511999990001@c.us",
				"body": "",
			}, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("processing failure returns 500", func(t *testing.T) {
		svc := new(MockInboxService)
		handler := NewWebhookHandler(svc, testToken, time.UTC)

		svc.On("ProcessInbound", mock.Anything, mock.Anything).
			Return(nil, errors.New("store down"))

		ctx := setupTestContext("POST", "/api/whatsapp/connector",
			webhookBody(t, model.EventMessageReceived, map[string]any{
				"from": "5511999990001@c.us",
				"body": "hello",
			}, testToken))

		handler.Receive(ctx)
		assert.Equal(t, xhttp.StatusInternalServerError, ctx.Response.StatusCode())
	})
}

func TestWebhookHandler_TimestampFormat(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	svc := new(MockInboxService)
	handler := NewWebhookHandler(svc, testToken, loc)

	ctx := setupTestContext("POST", "/api/whatsapp/connector",
		webhookBody(t, model.EventClientReady, nil, testToken))

	handler.Receive(ctx)
	require.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

	body := responseBody(t, ctx)
	ts, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	require.NoError(t, err)
	_, offset := ts.Zone()
	_, wantOffset := time.Now().In(loc).Zone()
	assert.Equal(t, wantOffset, offset)
}
