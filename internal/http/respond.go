package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"AGEPayments/internal/fx"
	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"
	"AGEPayments/internal/proofs"
	"AGEPayments/internal/services"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrMissingOwner):
		writeError(w, http.StatusUnauthorized, "missing user id")
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidPurchasable),
		errors.Is(err, gateway.ErrValidation),
		errors.Is(err, gateway.ErrUnsupportedMethod):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPurchasableNotFound):
		writeError(w, http.StatusNotFound, "purchasable not found")
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrCheckoutBusy):
		writeError(w, http.StatusConflict, "checkout already in progress")
	case errors.Is(err, models.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fx.ErrNoRate), errors.Is(err, fx.ErrStaleRate):
		writeError(w, http.StatusServiceUnavailable, "exchange rate unavailable")
	case errors.Is(err, gateway.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, "payment gateway rejected request")
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, "payment gateway timed out")
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, proofs.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, proofs.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, proofs.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "proof upload unavailable")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
