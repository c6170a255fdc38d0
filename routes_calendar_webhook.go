package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"lookback-cloud/calsync"
	"lookback-cloud/logging"
	"lookback-cloud/security"
)

// CalendarWebhookHandler manages Google Calendar push channels and turns
// change notifications into queued event syncs.
type CalendarWebhookHandler struct {
	watcher   *calsync.Watcher
	queue     calsync.Enqueuer
	publicURL string
	logger    zerolog.Logger
}

// NewCalendarWebhookHandler builds default callback URLs from publicURL; when
// it is empty, registrations must name their webhook_url.
func NewCalendarWebhookHandler(watcher *calsync.Watcher, queue calsync.Enqueuer, publicURL string, logger zerolog.Logger) *CalendarWebhookHandler {
	return &CalendarWebhookHandler{
		watcher:   watcher,
		queue:     queue,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With().Str("component", "webhook_routes").Logger(),
	}
}

// RegisterRoutes mounts the notification endpoint publicly since Google
// cannot present a session token.
func (h *CalendarWebhookHandler) RegisterRoutes(public, authed *mux.Router) {
	public.HandleFunc("/calendar/webhook/notification", h.handleNotification).Methods("POST")
	authed.HandleFunc("/calendar/webhook/register", h.handleRegister).Methods("POST")
	authed.HandleFunc("/calendar/webhook/unregister", h.handleUnregister).Methods("POST")
	authed.HandleFunc("/calendar/webhook/status", h.handleStatus).Methods("GET")
}

// WebhookRegistrationRequest represents a request to register a webhook
type WebhookRegistrationRequest struct {
	CalendarID string `json:"calendar_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// WebhookRegistrationResponse represents the response from webhook registration
type WebhookRegistrationResponse struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration time.Time `json:"expiration"`
	WebhookURL string    `json:"webhook_url"`
	Status     string    `json:"status"`
}

type WebhookStatusResponse struct {
	UserID   string            `json:"user_id"`
	Active   bool              `json:"active"`
	Channels []calsync.Channel `json:"channels"`
}

func (h *CalendarWebhookHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	log := logging.FromContext(r.Context(), h.logger).With().Str("user_id", userID).Logger()

	var req WebhookRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	webhookURL := req.WebhookURL
	if webhookURL == "" {
		if h.publicURL == "" {
			http.Error(w, "webhook_url is required when no public URL is configured", http.StatusBadRequest)
			return
		}
		webhookURL = fmt.Sprintf("%s/calendar/webhook/notification", h.publicURL)
	}

	ch, err := h.watcher.Register(r.Context(), userID, req.CalendarID, webhookURL)
	if err != nil {
		if errors.Is(err, security.ErrNoToken) {
			http.Error(w, "Google Calendar is not connected", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Msg("failed to register webhook")
		http.Error(w, "Failed to register webhook", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, WebhookRegistrationResponse{
		ChannelID:  ch.ID,
		ResourceID: ch.ResourceID,
		Expiration: ch.Expiration,
		WebhookURL: ch.WebhookURL,
		Status:     "registered",
	})
}

// handleNotification always acknowledges with 200 once the headers are
// valid; Google retries otherwise.
func (h *CalendarWebhookHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceID := r.Header.Get("X-Goog-Resource-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")
	if channelID == "" || resourceID == "" || resourceState == "" {
		http.Error(w, "Missing required Google headers", http.StatusBadRequest)
		return
	}

	log := logging.FromContext(r.Context(), h.logger).With().
		Str("channel_id", channelID).
		Str("resource_state", resourceState).
		Logger()

	if resourceState == "sync" {
		log.Debug().Msg("webhook channel handshake")
		w.WriteHeader(http.StatusOK)
		return
	}

	ch, err := h.watcher.Lookup(r.Context(), channelID)
	if err != nil {
		log.Warn().Err(err).Msg("notification for unknown channel")
		w.WriteHeader(http.StatusOK)
		return
	}
	if ch.ResourceID != resourceID {
		log.Warn().Str("resource_id", resourceID).Msg("notification resource mismatch")
		w.WriteHeader(http.StatusOK)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), ch.UserID, calsync.KindEvents)
	if err != nil {
		log.Error().Err(err).Str("user_id", ch.UserID).Msg("failed to enqueue sync from notification")
	} else {
		log.Info().Str("user_id", ch.UserID).Str("message_id", id).Msg("sync enqueued from notification")
	}
	w.WriteHeader(http.StatusOK)
}

func (h *CalendarWebhookHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	removed, err := h.watcher.Unregister(r.Context(), userID)
	if err != nil {
		if errors.Is(err, security.ErrNoToken) {
			http.Error(w, "Google Calendar is not connected", http.StatusUnauthorized)
			return
		}
		logging.FromContext(r.Context(), h.logger).Error().Err(err).Str("user_id", userID).Msg("failed to unregister webhooks")
		http.Error(w, "Failed to unregister webhooks", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "unregistered",
		"removed": removed,
	})
}

func (h *CalendarWebhookHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	channels, err := h.watcher.Channels(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context(), h.logger).Error().Err(err).Str("user_id", userID).Msg("failed to read webhook status")
		http.Error(w, "Failed to read webhook status", http.StatusInternalServerError)
		return
	}
	if channels == nil {
		channels = []calsync.Channel{}
	}
	writeJSON(w, http.StatusOK, WebhookStatusResponse{
		UserID:   userID,
		Active:   len(channels) > 0,
		Channels: channels,
	})
}
