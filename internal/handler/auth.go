package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/lsattracker/internal/dashboard"
	appI18n "github.com/pavelanni/lsattracker/internal/i18n"
	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/store"
)

const sessionCookieName = "session"

type sessionCtxKey struct{}

func sessionFromContext(ctx context.Context) *dashboard.Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*dashboard.Session)
	return s
}

// requestToken returns the auth token from the session cookie or a Bearer
// Authorization header.
func requestToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireAuth resolves the caller's auth session and attaches the user and
// their dashboard session to the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			h.unauthorized(w, r)
			return
		}

		user, err := h.store.UserForToken(token)
		if err != nil {
			slog.Error("failed to resolve auth session", "error", err)
			h.unauthorized(w, r)
			return
		}
		if user == nil {
			h.unauthorized(w, r)
			return
		}

		sess, err := h.session(r.Context(), token, user.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithToken(ctx, token)
		ctx = context.WithValue(ctx, sessionCtxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// session returns the dashboard session bound to token, opening one from the
// store if the server has not seen the token yet.
func (h *Handler) session(ctx context.Context, token string, userID int64) (*dashboard.Session, error) {
	h.mu.Lock()
	s, ok := h.sessions[token]
	h.mu.Unlock()
	if ok {
		return s, nil
	}

	// Load outside the lock so one slow load does not stall other users.
	s, err := dashboard.Open(ctx, h.store, h.tf, userID, dashboard.WithMetrics(h.metrics))
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.sessions[token]; ok {
		s.Close()
		return prev, nil
	}
	h.sessions[token] = s
	return s, nil
}

func (h *Handler) dropSessions(tokens ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range tokens {
		if s, ok := h.sessions[t]; ok {
			s.Close()
			delete(h.sessions, t)
		}
	}
}

// SessionCount returns the number of open dashboard sessions.
func (h *Handler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CleanupSessions removes expired auth sessions and closes their dashboard
// sessions.
func (h *Handler) CleanupSessions() error {
	tokens, err := h.store.CleanupExpiredSessions()
	if err != nil {
		return err
	}
	h.dropSessions(tokens...)
	if len(tokens) > 0 {
		slog.Info("expired sessions removed", "count", len(tokens))
	}
	return nil
}

// RunJanitor calls CleanupSessions every interval until ctx is done.
func (h *Handler) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := h.CleanupSessions(); err != nil {
				slog.Error("session cleanup failed", "error", err)
			}
		}
	}
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	h.writeDetail(w, r, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrUnauthorized"))
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			h.writeDetail(w, r, http.StatusBadRequest, appI18n.T(r.Context(), "ErrInvalidCredentials"))
			return
		}
	} else {
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validate.Struct(req); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, appI18n.T(r.Context(), "ErrInvalidCredentials"))
		return
	}

	user, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, appI18n.T(r.Context(), "ErrInternal"))
		return
	}
	if user == nil || !user.Active {
		h.loginFailed(w, r)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.loginFailed(w, r)
		return
	}

	ttl := h.config.SessionTTL
	if ttl <= 0 {
		ttl = store.DefaultSessionTTL
	}
	as, err := h.store.CreateAuthSession(user.ID, ttl)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, appI18n.T(r.Context(), "ErrInternal"))
		return
	}
	if _, err := h.session(r.Context(), as.ID, user.ID); err != nil {
		_ = h.store.DeleteAuthSession(as.ID)
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    as.ID,
		Path:     "/",
		Expires:  as.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("user signed in", "user", user.Username)
	render.JSON(w, r, loginResponse{
		Token:       as.ID,
		ExpiresAt:   as.ExpiresAt,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request) {
	h.writeDetail(w, r, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrInvalidCredentials"))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := model.TokenFromContext(r.Context())
	if err := h.store.DeleteAuthSession(token); err != nil {
		slog.Error("failed to delete auth session", "error", err)
	}
	h.dropSessions(token)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	render.JSON(w, r, map[string]string{"message": appI18n.T(r.Context(), "MsgSignedOut")})
}
