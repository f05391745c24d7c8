package replenishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/replenish/internal/platform/httpx"
)

// API is the engine surface exposed over HTTP.
type API interface {
	RunForClient(ctx context.Context, clientID int64) (Outcome, error)
	Projection(ctx context.Context, clientID int64, days int) ([]ProjectionItem, error)
	ListInventory(ctx context.Context, clientID int64) ([]LedgerEntry, error)
	UpsertInventory(ctx context.Context, input LedgerInput) (LedgerEntry, error)
	AdjustInventory(ctx context.Context, clientID, entryID int64, delta float64) (LedgerEntry, error)
	ListOrders(ctx context.Context, clientID int64, limit int) ([]Order, error)
}

// Handler serves the replenishment JSON API.
type Handler struct {
	logger    *slog.Logger
	engine    API
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, engine API) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers replenishment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/clients/{clientID}", func(r chi.Router) {
		r.Post("/run", h.handleRun)
		r.Get("/projection", h.handleProjection)
		r.Get("/inventory", h.handleListInventory)
		r.Post("/inventory", h.handleUpsertInventory)
		r.Patch("/inventory/{entryID}/adjust", h.handleAdjustInventory)
		r.Get("/orders", h.handleListOrders)
	})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	outcome, err := h.engine.RunForClient(r.Context(), clientID)
	if err != nil {
		h.fail(w, r, "run replenishment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleProjection(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	days := DefaultProjectionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, r, http.StatusBadRequest, "days must be an integer")
			return
		}
		if n < MinProjectionDays {
			n = MinProjectionDays
		}
		days = ClampDays(n)
	}
	items, err := h.engine.Projection(r.Context(), clientID, days)
	if err != nil {
		h.fail(w, r, "project inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, projectionResponse{ClientID: clientID, Days: days, Items: items})
}

func (h *Handler) handleListInventory(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	items, err := h.engine.ListInventory(r.Context(), clientID)
	if err != nil {
		h.fail(w, r, "list inventory", err)
		return
	}
	if items == nil {
		items = []LedgerEntry{}
	}
	httpx.JSON(w, http.StatusOK, inventoryResponse{ClientID: clientID, Items: items})
}

func (h *Handler) handleUpsertInventory(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	var req upsertInventoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.engine.UpsertInventory(r.Context(), LedgerInput{
		ClientID:         clientID,
		ProductID:        req.ProductID,
		CurrentStock:     req.CurrentStock,
		DailyUsage:       req.DailyUsage,
		ReorderPoint:     req.ReorderPoint,
		ReorderQty:       req.ReorderQty,
		AutoOrderEnabled: req.AutoOrderEnabled,
	})
	if err != nil {
		h.fail(w, r, "upsert inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	entryID, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req adjustInventoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.engine.AdjustInventory(r.Context(), clientID, entryID, req.Delta)
	if err != nil {
		h.fail(w, r, "adjust inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Problem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	orders, err := h.engine.ListOrders(r.Context(), clientID, limit)
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpx.JSON(w, http.StatusOK, ordersResponse{ClientID: clientID, Orders: orders})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, r, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, r, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidInput):
		httpx.RespondError(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, ErrSettlementInProgress):
		httpx.RespondError(w, r, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, r, err)
	}
}
