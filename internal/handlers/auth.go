package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/mlclient"
)

// AuthHandler passes account calls through to the backend and keeps the
// resulting tokens in the auth store.
type AuthHandler struct {
	ml     *mlclient.Client
	store  *auth.Store
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(ml *mlclient.Client, store *auth.Store, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{ml: ml, store: store, logger: logger}
}

type sessionResponse struct {
	Message string        `json:"message,omitempty"`
	User    mlclient.User `json:"user"`
}

// Login handles POST /api/auth/login.
func (ah *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds mlclient.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email == "" || creds.Password == "" {
		jsonError(w, "email and password are required", http.StatusBadRequest)
		return
	}
	sess, err := ah.ml.Login(r.Context(), creds)
	if err != nil {
		ah.writeBackendError(w, err)
		return
	}
	if err := ah.store.Save(r.Context(), *sess); err != nil {
		ah.logger.Error("store session", "err", err)
		jsonError(w, "failed to store session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Message: sess.Message, User: sess.User})
}

// Register handles POST /api/auth/register. When the backend also returns
// tokens the new user is logged in.
func (ah *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var reg mlclient.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil || reg.Email == "" || reg.Password == "" || reg.Username == "" {
		jsonError(w, "username, email and password are required", http.StatusBadRequest)
		return
	}
	sess, err := ah.ml.Register(r.Context(), reg)
	if err != nil {
		ah.writeBackendError(w, err)
		return
	}
	if sess.AccessToken != "" {
		if err := ah.store.Save(r.Context(), *sess); err != nil {
			ah.logger.Error("store session", "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Message: sess.Message, User: sess.User})
}

// Logout handles POST /api/auth/logout.
func (ah *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := ah.store.Clear(r.Context()); err != nil {
		ah.logger.Error("clear session", "err", err)
		jsonError(w, "failed to clear session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me.
func (ah *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.GetUserFromCtx(r.Context()))
}

// Users handles GET /api/auth/users.
func (ah *AuthHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := ah.ml.Users(r.Context())
	if err != nil {
		ah.writeBackendError(w, err)
		return
	}
	if users == nil {
		users = []mlclient.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// writeBackendError keeps the backend's 4xx status and reports anything
// else as a bad gateway.
func (ah *AuthHandler) writeBackendError(w http.ResponseWriter, err error) {
	var te *mlclient.TransportError
	if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
		jsonError(w, te.Err.Error(), te.StatusCode)
		return
	}
	ah.logger.Warn("auth backend call failed", "err", err)
	jsonError(w, "authentication backend unavailable", http.StatusBadGateway)
}
