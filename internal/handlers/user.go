package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
)

// UserHandler provides account endpoints.
type UserHandler struct {
	users *services.UserService
	resp  Responder
}

func NewUserHandler(users *services.UserService, resp Responder) *UserHandler {
	return &UserHandler{users: users, resp: resp}
}

// UserRouter registers account routes on the given router.
func UserRouter(r chi.Router, users *services.UserService, gate *Gate, resp Responder) {
	handler := NewUserHandler(users, resp)

	r.Post("/", handler.Register)
	r.Post("/login", handler.Login)
	r.Group(func(r chi.Router) {
		r.Use(gate.Authenticate)
		r.Get("/profile", handler.GetProfile)
		r.Put("/profile", handler.UpdateProfile)

		r.Group(func(r chi.Router) {
			r.Use(gate.RequireAdmin)
			r.Get("/", handler.List)
			r.Get("/{userID}", handler.Get)
			r.Put("/{userID}", handler.Update)
			r.Delete("/{userID}", handler.Delete)
		})
	})
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileUpdateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password"`
}

type AdminUserUpdateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email" validate:"omitempty,email"`
	IsAdmin *bool  `json:"isAdmin"`
}

// UserResponse is an account as shown to its owner or an administrator.
type UserResponse struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	Token   string `json:"token,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func newUserResponse(user types.User, token string) UserResponse {
	return UserResponse{
		ID:      user.ID.Hex(),
		Name:    user.Name,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		Token:   token,
	}
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	user, token, err := h.users.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(user, token))
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	user, token, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user, token))
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Profile(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user, ""))
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	user, token, err := h.users.UpdateProfile(r.Context(), principalFrom(r.Context()), services.ProfilePatch{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user, token))
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, user := range users {
		out = append(out, newUserResponse(user, ""))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "userID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	user, err := h.users.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user, ""))
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "userID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	var req AdminUserUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	user, err := h.users.Update(r.Context(), principalFrom(r.Context()), id, services.AdminUserPatch{
		Name:    req.Name,
		Email:   req.Email,
		IsAdmin: req.IsAdmin,
	})
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user, ""))
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "userID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	if err := h.users.Delete(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.resp.Error(w, r, notFoundAs(err, "User not found"))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User removed"})
}
