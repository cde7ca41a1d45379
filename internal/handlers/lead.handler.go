package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/internal/repository"
	xhttp "github.com/budbot/whatsapp-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type LeadService interface {
	ListLeads(ctx context.Context, f model.LeadFilter) ([]*model.Lead, int64, error)
	ListMessages(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	GetLead(ctx context.Context, id int64) (*model.Lead, error)
}

type LeadHandler struct {
	svc LeadService
}

func RegisterLeadRoutes(e *router.Group, h *LeadHandler) {
	e.GET("/leads", h.ListLeads)
	e.GET("/leads/{id}/messages", h.ListLeadMessages)
}

func NewLeadHandler(svc LeadService) *LeadHandler {
	return &LeadHandler{
		svc: svc,
	}
}

type leadListResponse struct {
	Items []*model.Lead `json:"items"`
	Total int64         `json:"total"`
}

type messageListResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

func (h *LeadHandler) ListLeads(ctx *xhttp.RequestCtx) {
	var f model.LeadFilter

	if v := query(ctx, "status"); v != "" {
		status := model.LeadStatus(v)
		f.Status = &status
	}
	if v := query(ctx, "phone"); v != "" {
		f.Phone = &v
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListLeads(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, leadListResponse{Items: items, Total: total})
}

func (h *LeadHandler) ListLeadMessages(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid lead id")
		return
	}

	if _, err := h.svc.GetLead(ctx, id); err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			writeError(ctx, xhttp.StatusNotFound, "lead not found")
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}

	f := model.MessageFilter{LeadID: &id}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListMessages(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, messageListResponse{Items: items, Total: total})
}
