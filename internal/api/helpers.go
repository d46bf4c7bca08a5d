package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/odvcencio/taskhub/internal/auth"
	"github.com/odvcencio/taskhub/internal/models"
)

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func jsonValidationError(w http.ResponseWriter, verr *models.ValidationError) {
	jsonResponse(w, http.StatusUnprocessableEntity, verr)
}

// writeError maps a handler error to a response: validation errors become 422
// with field messages, missing rows become 404, everything else is a 500 that
// hides the cause.
func writeError(w http.ResponseWriter, err error, notFoundMsg string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonValidationError(w, verr)
	case errors.Is(err, sql.ErrNoRows):
		jsonError(w, notFoundMsg, http.StatusNotFound)
	default:
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func parsePathID(w http.ResponseWriter, r *http.Request, label string) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("id"))
	if raw == "" {
		jsonError(w, label+" is required", http.StatusBadRequest)
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		jsonError(w, "invalid "+label, http.StatusBadRequest)
		return 0, false
	}
	return value, true
}

// currentUser resolves the acting user from the request's claims. The user is
// loaded once here and passed explicitly through the handler call chain.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return nil, false
	}
	user, err := s.db.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "authentication required", http.StatusUnauthorized)
			return nil, false
		}
		jsonError(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return user, true
}
