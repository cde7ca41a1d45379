package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/internal/repository"
	xhttp "github.com/budbot/whatsapp-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type OutboundService interface {
	Send(ctx context.Context, p model.OutboundSendRequest) (*model.Message, error)
	ConnectorStatus(ctx context.Context) (*model.ConnectorStatus, error)
}

type MessageHandler struct {
	svc OutboundService
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.POST("/messages/send", h.SendMessage)
	e.GET("/connector/status", h.GetConnectorStatus)
}

func NewMessageHandler(svc OutboundService) *MessageHandler {
	return &MessageHandler{
		svc: svc,
	}
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Content string `json:"content"`
}

func (h *MessageHandler) SendMessage(ctx *xhttp.RequestCtx) {
	var req sendMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.Send(ctx, model.OutboundSendRequest{
		Phone:   req.Phone,
		Content: req.Content,
	})
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			writeError(ctx, xhttp.StatusNotFound, "lead not found")
			return
		}
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, msg)
}

func (h *MessageHandler) GetConnectorStatus(ctx *xhttp.RequestCtx) {
	status, err := h.svc.ConnectorStatus(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, status)
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, ok := ctx.UserValue(name).(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(v, 10, 64)
}
