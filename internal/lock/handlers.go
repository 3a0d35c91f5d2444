package lock

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bullion/internal/common"
)

// SubtotalFunc computes the current estimated subtotal for a cart. The lock
// snapshots it for display.
type SubtotalFunc func(r *http.Request, cartID string) (float64, error)

// Handler wires price lock operations to HTTP.
type Handler struct {
	Svc      *Service
	Subtotal SubtotalFunc
}

func (h *Handler) render(w http.ResponseWriter, l PriceLock) {
	now := h.Svc.now()
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"cartId":            l.CartID,
			"lockedSubtotalUsd": l.SubtotalUsd,
			"createdAt":         l.CreatedAt,
			"expiresAt":         l.ExpiresAt,
			"state":             l.StateAt(now),
			"remainingSeconds":  int64(l.RemainingAt(now).Seconds()),
		},
	})
}

// Create issues a fresh lock for the cart when checkout begins.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Subtotal == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "lock service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	if cartID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "cart id is required", nil)
		return
	}
	subtotal, err := h.Subtotal(r, cartID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	l, err := h.Svc.Issue(r.Context(), cartID, subtotal)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to issue price lock", nil)
		return
	}
	h.render(w, l)
}

// Get reads the lock, including its expired state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "lock service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	l, err := h.Svc.Get(r.Context(), cartID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "no price lock for cart", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to load price lock", nil)
		return
	}
	h.render(w, l)
}
