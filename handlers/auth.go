package handlers

import (
	"net/http"

	"p9e.in/wsm/middleware"
	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/access"
)

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResp struct {
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expires_in"`
	User      access.Caller `json:"user"`
}

// Login exchanges credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	caller, ok, err := h.access.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.GenerateToken(caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResp{
		Token:     token,
		ExpiresIn: int64(h.tokens.TTL().Seconds()),
		User:      caller,
	})
}

// Me returns the authenticated caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.GetCaller(r))
}

type createUserReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user"`
}

// CreateUser adds an account. Admin only.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.access.CreateUser(r.Context(), access.NewUser{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     models.Role(req.Role),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("✅ user created", "username", user.Username, "role", user.Role, "by", middleware.GetCaller(r).Username)
	writeJSON(w, http.StatusCreated, user)
}
