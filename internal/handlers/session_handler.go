package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

// SessionHandler exposes stored portal sessions and the manual-login completion signal
type SessionHandler struct {
	store    interfaces.SessionStore
	notifier interfaces.LoginNotifier
	logger   arbor.ILogger
}

func NewSessionHandler(store interfaces.SessionStore, notifier interfaces.LoginNotifier, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{store: store, notifier: notifier, logger: logger}
}

// LoginCompleteHandler releases a worker waiting on manual login.
// With no account in the body every pending login is released.
func (h *SessionHandler) LoginCompleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		Account string `json:"account"`
	}
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	accounts := []string{body.Account}
	if body.Account == "" {
		accounts = h.notifier.Pending()
	}

	released := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if h.notifier.CompleteLogin(account) {
			released = append(released, account)
		}
	}

	if len(released) == 0 {
		WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   "no manual login is pending",
		})
		return
	}

	h.logger.Info().Strs("accounts", released).Msg("Manual login completion signalled")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"released": released,
	})
}

// PendingLoginsHandler lists accounts waiting for manual login
func (h *SessionHandler) PendingLoginsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pending": h.notifier.Pending(),
	})
}

// SessionInfoHandler serves GET /api/session/{account}
func (h *SessionHandler) SessionInfoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	account := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/session/"), "/")
	info, err := h.store.Info(account)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, info)
}
