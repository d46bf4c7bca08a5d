package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/odvcencio/taskhub/internal/models"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  userSummary `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var verr models.ValidationError
	if req.Email == "" {
		verr.Add("email", "can't be blank")
	}
	if req.Password == "" {
		verr.Add("password", "can't be blank")
	}
	if err := verr.OrNil(); err != nil {
		jsonValidationError(w, &verr)
		return
	}

	user, err := s.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.authSvc.CheckPassword(user.PasswordHash, req.Password); err != nil {
		jsonError(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	token, err := s.authSvc.GenerateToken(user.ID, user.Role)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, http.StatusOK, loginResponse{
		Token: token,
		User:  userSummary{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role},
	})
}
