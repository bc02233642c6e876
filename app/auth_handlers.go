package chatsync

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/pkg/router"
)

type AuthHandler struct {
	users        core.UserStore
	store        core.AuthStore
	secureCookie bool
}

func NewAuthHandler(users core.UserStore, store core.AuthStore, secureCookie bool) *AuthHandler {
	return &AuthHandler{users: users, store: store, secureCookie: secureCookie}
}

type SigninPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) SignupHandler(w http.ResponseWriter, r *http.Request) error {
	var user core.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	defer r.Body.Close()

	identity, err := h.users.CreateUser(r.Context(), user)
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}

	return router.JSON(w, http.StatusCreated, identity)
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	defer r.Body.Close()

	session, err := h.store.NewSession(r.Context(), payload.Email, payload.Password)
	if err != nil {
		return fmt.Errorf("NewSession: %w", err)
	}

	cookie := core.NewSessionCookie(*session, true, "/")
	cookie.Secure = h.secureCookie
	http.SetCookie(w, cookie)

	return router.JSON(w, http.StatusOK, session)
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.store.DestroySession(r.Context(), session); err != nil {
		return fmt.Errorf("DestroySession: %w", err)
	}
	http.SetCookie(w, core.ExpiredSessionCookie("/"))
	w.WriteHeader(http.StatusNoContent)
	return nil
}
