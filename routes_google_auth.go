package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"lookback-cloud/logging"
	"lookback-cloud/security"
)

type sessionKey struct{}

// requireSession rejects requests without a valid bearer session token and
// stores the session's user id on the request context.
func requireSession(sessions *security.SessionIssuer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			userID, err := sessions.Verify(strings.TrimSpace(token))
			if err != nil {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, userID)))
		})
	}
}

func sessionUser(r *http.Request) string {
	userID, _ := r.Context().Value(sessionKey{}).(string)
	return userID
}

// GoogleAuthHandler handles Google OAuth login and session issuance
type GoogleAuthHandler struct {
	client   *security.GoogleServiceClient
	sessions *security.SessionIssuer
	logger   zerolog.Logger
}

// NewGoogleAuthHandler creates a new Google auth handler
func NewGoogleAuthHandler(client *security.GoogleServiceClient, sessions *security.SessionIssuer, logger zerolog.Logger) *GoogleAuthHandler {
	return &GoogleAuthHandler{
		client:   client,
		sessions: sessions,
		logger:   logger.With().Str("component", "auth_routes").Logger(),
	}
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResponse carries the session issued after a successful login
type CallbackResponse struct {
	Success   bool      `json:"success"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	UserID   string                           `json:"user_id"`
	Services map[security.ServiceScope]string `json:"services"`
}

// RegisterRoutes registers the public login routes on public and the
// session-bound ones on authed.
func (h *GoogleAuthHandler) RegisterRoutes(public, authed *mux.Router) {
	public.HandleFunc("/auth/google", h.StartAuth).Methods("POST")
	public.HandleFunc("/auth/google/callback", h.HandleCallback).Methods("GET")

	authed.HandleFunc("/auth/status", h.GetStatus).Methods("GET")
	authed.HandleFunc("/auth/validate", h.ValidateService).Methods("GET")
	authed.HandleFunc("/auth/revoke", h.RevokeAccess).Methods("DELETE")
}

func (h *GoogleAuthHandler) configured(w http.ResponseWriter) bool {
	if !h.client.TokenStore().Configured(security.ServiceCalendar) {
		http.Error(w, "Google OAuth not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// StartAuth returns the Google consent URL. The account is unknown until the
// callback, so the state is bound to a pending id.
func (h *GoogleAuthHandler) StartAuth(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}

	pending := "pending-" + uuid.NewString()
	authURL, state, err := h.client.GetAuthURL(r.Context(), security.ServiceCalendar, pending)
	if err != nil {
		logging.FromContext(r.Context(), h.logger).Error().Err(err).Msg("failed to generate auth URL")
		http.Error(w, "Failed to generate authentication URL", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{AuthURL: authURL, State: state})
}

// HandleCallback exchanges the code, stores the token under the account
// email and returns a session token for that email.
func (h *GoogleAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.logger)
	query := r.URL.Query()

	if errorParam := query.Get("error"); errorParam != "" {
		log.Warn().Str("oauth_error", errorParam).Msg("oauth callback returned an error")
		http.Error(w, fmt.Sprintf("OAuth failed: %s", errorParam), http.StatusBadRequest)
		return
	}
	code := query.Get("code")
	if code == "" {
		http.Error(w, "Authorization code is required", http.StatusBadRequest)
		return
	}
	state := query.Get("state")
	if state == "" {
		http.Error(w, "State parameter is required", http.StatusBadRequest)
		return
	}
	if !h.configured(w) {
		return
	}

	userID, err := h.client.CompleteLogin(r.Context(), code, state)
	if errors.Is(err, security.ErrInvalidState) {
		http.Error(w, "invalid or expired state parameter", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to complete google login")
		http.Error(w, "Failed to exchange authorization code for token", http.StatusBadGateway)
		return
	}

	token, expiresAt, err := h.sessions.Issue(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to issue session")
		http.Error(w, "Failed to issue session", http.StatusInternalServerError)
		return
	}

	log.Info().Str("user_id", userID).Msg("user authenticated")
	writeJSON(w, http.StatusOK, CallbackResponse{
		Success:   true,
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// GetStatus returns token status for the session user
func (h *GoogleAuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	writeJSON(w, http.StatusOK, StatusResponse{
		UserID:   userID,
		Services: h.client.GetServiceStatus(r.Context(), userID),
	})
}

// ValidateService checks that the stored token can read the calendar list
func (h *GoogleAuthHandler) ValidateService(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	err := h.client.ValidateCalendarAccess(r.Context(), userID)

	response := map[string]interface{}{
		"valid":   err == nil,
		"service": string(security.ServiceCalendar),
		"user_id": userID,
	}
	if err != nil {
		response["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// RevokeAccess deletes the session user's calendar token
func (h *GoogleAuthHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	err := h.client.RevokeServiceAccess(r.Context(), security.ServiceCalendar, userID)

	response := map[string]interface{}{
		"success": err == nil,
		"service": string(security.ServiceCalendar),
		"user_id": userID,
	}
	if err != nil {
		response["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}
