package spot

import (
	"net/http"
	"time"

	"github.com/noah-isme/backend-bullion/internal/common"
)

// Handler exposes the quote endpoint polled by storefront clients.
type Handler struct {
	Oracle Oracle
}

// Get returns the current quote, or 503 when the oracle is unavailable.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Oracle == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeSpotUnavailable, "pricing temporarily unavailable", nil)
		return
	}
	q, err := h.Oracle.Quote(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeSpotUnavailable, "pricing temporarily unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"usdPerOz":  q.UsdPerOz,
		"updatedAt": time.Unix(q.ObservedAt, 0).UTC().Format(time.RFC3339),
		"provider":  q.Provider,
	})
}
