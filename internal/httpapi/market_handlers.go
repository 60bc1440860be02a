package httpapi

import (
	"net/http"
)

func (a *API) handleIndices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	quotes, err := a.market.Indices(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (a *API) handleCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	body, err := a.market.Coins(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "market data unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
