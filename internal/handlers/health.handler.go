package handlers

import (
	"context"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	xhttp "github.com/budbot/whatsapp-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type HealthService interface {
	Check(ctx context.Context) (*model.HealthReport, error)
}

type HealthHandler struct {
	svc        HealthService
	displayLoc *time.Location
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/connector/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService, displayLoc *time.Location) *HealthHandler {
	if displayLoc == nil {
		displayLoc = time.UTC
	}
	return &HealthHandler{
		svc:        svc,
		displayLoc: displayLoc,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	now := time.Now().In(h.displayLoc).Format(time.RFC3339)

	report, err := h.svc.Check(ctx)
	if err != nil {
		writeJSON(ctx, xhttp.StatusInternalServerError, map[string]any{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": now,
		})
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{
		"status":   "healthy",
		"database": report.Database,
		"stats": map[string]any{
			"total_leads":    report.TotalLeads,
			"total_messages": report.TotalMessages,
		},
		"timestamp": now,
	})
}
