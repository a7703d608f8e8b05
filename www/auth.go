package www

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const sessionName = "guestcore_admin"

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}

	hash := h.engine.AppConfig().Session.AdminPasswordHash
	if hash == "" {
		h.jsonError(w, "admin access not configured", http.StatusForbidden)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		h.jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	sess, _ := h.sessions.Get(r, sessionName)
	sess.Values["admin"] = true
	if err := sess.Save(r, w); err != nil {
		h.jsonError(w, "session save failed", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]bool{"ok": true})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.sessions.Get(r, sessionName)
	sess.Options.MaxAge = -1
	sess.Save(r, w)
	h.jsonOK(w, map[string]bool{"ok": true})
}

func (h *Handlers) isAuthenticated(r *http.Request) bool {
	sess, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return false
	}
	admin, ok := sess.Values["admin"].(bool)
	return ok && admin
}

func (h *Handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAuthenticated(r) {
			h.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
