package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	httpContracts "github.com/sawpanic/cornd/internal/http"
)

// ClientStats handles GET /api/stats/{clientId}. It reads the ledger
// directly; the admission window plays no part here.
func (h *Handlers) ClientStats(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(mux.Vars(r)["clientId"])
	if clientID == "" {
		h.writeError(w, http.StatusBadRequest, "Client ID is required")
		return
	}

	stats, err := h.stats.Stats(r.Context(), clientID)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("stats query failed")
		h.writeError(w, http.StatusInternalServerError,
			"Failed to retrieve statistics. Please try again later.")
		return
	}

	h.writeJSON(w, http.StatusOK, httpContracts.StatsResponse{
		ClientID:       stats.ClientID,
		TotalPurchases: stats.TotalPurchases,
		LastPurchase:   stats.LastPurchase,
	})
}
