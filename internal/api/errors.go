package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xtrntr/swappool/internal/pool"
)

// statusFor maps ledger errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrInvalidCurrency),
		errors.Is(err, pool.ErrDepositTooSmall),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, pool.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "error", err)
		writeError(w, status, "Internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
