package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/service"
)

// AccountHandler serves registration, login and password endpoints.
type AccountHandler struct {
	accounts *service.AccountService
	maxBody  int64
	logger   zerolog.Logger
}

// AccountResponse wraps a user profile with a status message.
type AccountResponse struct {
	Message string       `json:"message"`
	User    *domain.User `json:"user,omitempty"`
}

// LoginRequest is the login form.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Get("/users/{userId}", h.handleGetUser)
	r.Post("/users/{userId}/password", h.handleChangePassword)
	r.Get("/recovery/question", h.handleSecurityQuestion)
	r.Post("/recovery/reset", h.handleResetPassword)
}

func (h *AccountHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := decodeJSON(w, r, h.maxBody, &input); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountResponse{
		Message: "Registration successful! You can now log in.",
		User:    user,
	})
}

func (h *AccountHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{Message: "Login successful.", User: user})
}

func (h *AccountHandler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AccountHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var input service.ChangePasswordInput
	if err := decodeJSON(w, r, h.maxBody, &input); err != nil {
		writeError(w, h.logger, err)
		return
	}
	input.LibraryID = chi.URLParam(r, "userId")

	if err := h.accounts.ChangePassword(r.Context(), input); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Message: "Password updated."})
}

func (h *AccountHandler) handleSecurityQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.accounts.SecurityQuestion(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"securityQuestion": question})
}

func (h *AccountHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var input service.ResetPasswordInput
	if err := decodeJSON(w, r, h.maxBody, &input); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), input); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Message: "Password reset."})
}
