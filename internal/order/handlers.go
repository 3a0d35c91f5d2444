package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bullion/internal/common"
	"github.com/noah-isme/backend-bullion/internal/repo"
)

// Store is the persistence surface for order reads.
type Store interface {
	GetByReference(ctx context.Context, reference string) (repo.Order, error)
}

// SettlementLister loads settlement history for an order.
type SettlementLister interface {
	ListByOrder(ctx context.Context, reference string) ([]repo.Settlement, error)
}

// Handler exposes order status endpoints. The storefront polls these while
// the buyer waits for the processor webhook to land.
type Handler struct {
	Orders      Store
	Settlements SettlementLister
}

// Get handles GET /api/v1/orders/{orderId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order store not configured", nil)
		return
	}
	reference := chi.URLParam(r, "orderId")
	o, err := h.Orders.GetByReference(r.Context(), reference)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// SettlementHistory handles GET /api/v1/orders/{orderId}/settlements.
func (h *Handler) SettlementHistory(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil || h.Settlements == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order store not configured", nil)
		return
	}
	reference := chi.URLParam(r, "orderId")
	if _, err := h.Orders.GetByReference(r.Context(), reference); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to load order", nil)
		return
	}
	rows, err := h.Settlements.ListByOrder(r.Context(), reference)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to load settlements", nil)
		return
	}
	if rows == nil {
		rows = []repo.Settlement{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
