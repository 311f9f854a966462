package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cornd/internal/admission"
	httpContracts "github.com/sawpanic/cornd/internal/http"
)

// BuyCorn handles POST /api/buy-corn. The admission decision and the
// ledger append run as one atomic path inside the decider; this
// handler only maps outcomes onto the wire.
func (h *Handlers) BuyCorn(w http.ResponseWriter, r *http.Request) {
	clientID := ClientIdentity(r)
	if clientID == "" {
		h.writeError(w, http.StatusBadRequest, "Client identification required")
		return
	}

	purchase, decision, err := h.admission.Admit(r.Context(), clientID)
	switch {
	case errors.Is(err, admission.ErrStoreUnavailable):
		h.incStoreErrors()
		h.writeError(w, http.StatusServiceUnavailable,
			"Purchase service temporarily unavailable. Please try again later.")
		return
	case err != nil:
		log.Error().Err(err).Str("client_id", clientID).Msg("purchase failed")
		h.writeError(w, http.StatusInternalServerError,
			"Failed to process corn purchase. Please try again later.")
		return
	}

	if !decision.Allowed {
		h.incDenials()
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		h.writeJSON(w, http.StatusTooManyRequests, httpContracts.RateLimitResponse{
			Error:      http.StatusText(http.StatusTooManyRequests),
			Message:    "You can only buy 1 corn per minute. Please wait before trying again.",
			RetryAfter: decision.RetryAfter,
		})
		return
	}

	h.incPurchases()
	h.writeJSON(w, http.StatusOK, httpContracts.BuyResponse{
		Success: true,
		Message: "Corn purchased successfully!",
		Purchase: httpContracts.PurchaseInfo{
			ID:          purchase.ID,
			PurchasedAt: purchase.PurchasedAt,
		},
	})
}
