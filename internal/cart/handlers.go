package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-bullion/internal/common"
	"github.com/noah-isme/backend-bullion/internal/obs"
	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/spot"
)

// Handler wires cart operations to HTTP.
type Handler struct {
	Svc      *Service
	Oracle   spot.Oracle
	Pricing  pricing.Config
	Validate *validator.Validate
}

type addItemPayload struct {
	ID                string  `json:"id" validate:"required"`
	Name              string  `json:"name"`
	Qty               int     `json:"qty"`
	Mode              string  `json:"mode" validate:"omitempty,oneof=FIXED VARIABLE_AMOUNT"`
	WeightGrams       float64 `json:"weightGrams" validate:"gte=0"`
	PremiumUsd        float64 `json:"premiumUsd" validate:"gte=0"`
	ChosenAmountUsd   float64 `json:"chosenAmountUsd" validate:"gte=0"`
	PremiumPerGramUsd float64 `json:"premiumPerGramUsd" validate:"gte=0"`
	MinAmountUsd      float64 `json:"minAmountUsd" validate:"gte=0"`
	MaxAmountUsd      float64 `json:"maxAmountUsd" validate:"gte=0"`
}

// Create opens an empty cart for the session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Create(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to create cart", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": c})
}

// Get returns cart contents.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// AddItem appends a product line to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid json payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
			return
		}
	}
	item := Item{
		ID:                payload.ID,
		Name:              payload.Name,
		Qty:               payload.Qty,
		Mode:              pricing.Mode(payload.Mode),
		WeightGrams:       payload.WeightGrams,
		PremiumUsd:        payload.PremiumUsd,
		ChosenAmountUsd:   payload.ChosenAmountUsd,
		PremiumPerGramUsd: payload.PremiumPerGramUsd,
		MinAmountUsd:      payload.MinAmountUsd,
		MaxAmountUsd:      payload.MaxAmountUsd,
	}
	c, err := h.Svc.AddItem(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// UpdateItem changes the quantity of a fixed-weight line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Qty int `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid json payload", nil)
		return
	}
	c, err := h.Svc.UpdateQty(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), payload.Qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// RemoveItem drops a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Estimate computes the optimistic display breakdown from the cached quote.
// It exists for fast feedback only; the amount actually charged is recomputed
// server-side with a fresh quote when the payment intent is created, and the
// two may diverge by small amounts as spot moves.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.Oracle == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeSpotUnavailable, "pricing temporarily unavailable", nil)
		return
	}
	q, err := h.Oracle.Quote(r.Context())
	if err != nil {
		countEstimate("spot_unavailable")
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeSpotUnavailable, "pricing temporarily unavailable", nil)
		return
	}
	items := c.LineItems()
	breakdown, err := h.Pricing.Price(q, items)
	if err != nil {
		countEstimate("invalid")
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	lines := make([]map[string]any, 0, len(items))
	for _, it := range items {
		line := map[string]any{"id": it.ID, "qty": it.Qty}
		if it.Mode == pricing.ModeVariableAmount {
			perGram := pricing.PricePerGram(q, it.PremiumPerG)
			line["lineTotalUsd"] = pricing.Round2(it.ChosenUsd)
			line["pricePerGramUsd"] = pricing.Round2(perGram)
			line["impliedGrams"] = pricing.ImpliedGrams(it.ChosenUsd, perGram)
		} else {
			unit := pricing.UnitPrice(q, it)
			line["unitPriceUsd"] = pricing.Round2(unit)
			line["lineTotalUsd"] = pricing.Round2(unit * float64(it.Qty))
		}
		lines = append(lines, line)
	}
	countEstimate("ok")
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"cartId":    c.ID,
			"spot":      q,
			"lines":     lines,
			"breakdown": breakdown,
		},
	})
}

func countEstimate(result string) {
	if obs.PricingPassTotal != nil {
		obs.PricingPassTotal.WithLabelValues("estimate", result).Inc()
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, pricing.ErrAmountOutOfRange):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart operation failed", nil)
	}
}
