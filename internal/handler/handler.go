// Package handler exposes the terminal's session operations over HTTP
// for the UI.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/session"
	"github.com/kiwari-pos/terminal/internal/transfer"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondErr maps domain errors onto status codes: rule violations are
// conflicts the operator can resolve, backend failures are bad gateway,
// everything else is a server fault.
func respondErr(w http.ResponseWriter, lg *zap.Logger, err error) {
	var ge *session.GuardError
	if errors.As(err, &ge) {
		writeError(w, http.StatusConflict, ge.Reason)
		return
	}
	var tg *transfer.GuardError
	if errors.As(err, &tg) {
		writeError(w, http.StatusConflict, tg.Reason)
		return
	}
	var ae *backend.APIError
	if errors.As(err, &ae) {
		lg.Warn("backend error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "backend request failed")
		return
	}
	lg.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
