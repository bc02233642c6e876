package chatsync

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/pkg/router"
)

const (
	searchLimit     = 10
	minSearchLength = 2
)

type UserHandler struct {
	store core.UserStore
}

func NewUserHandler(store core.UserStore) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	profile, err := h.store.GetProfile(r.Context(), session.ID)
	if err != nil {
		return fmt.Errorf("GetProfile: %w", err)
	}
	return router.JSON(w, http.StatusOK, profile)
}

// SearchUsersHandler returns the profiles matching ?q=.
// Queries shorter than two characters match nobody.
func (h *UserHandler) SearchUsersHandler(w http.ResponseWriter, r *http.Request) error {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if utf8.RuneCountInString(q) < minSearchLength {
		return router.JSON(w, http.StatusOK, []core.Profile{})
	}

	profiles, err := h.store.SearchProfiles(r.Context(), q, searchLimit)
	if err != nil {
		return fmt.Errorf("SearchProfiles: %w", err)
	}
	return router.JSON(w, http.StatusOK, profiles)
}
