package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"lookback-cloud/calsync"
	"lookback-cloud/logging"
	"lookback-cloud/security"
)

// CalendarSyncHandler triggers calendar list and event syncs for the session user
type CalendarSyncHandler struct {
	runner calsync.Runner
	queue  calsync.Enqueuer
	logger zerolog.Logger
}

func NewCalendarSyncHandler(runner calsync.Runner, queue calsync.Enqueuer, logger zerolog.Logger) *CalendarSyncHandler {
	return &CalendarSyncHandler{
		runner: runner,
		queue:  queue,
		logger: logger.With().Str("component", "sync_routes").Logger(),
	}
}

// SyncResponse reports a finished or queued sync.
type SyncResponse struct {
	Success   bool            `json:"success"`
	Queued    bool            `json:"queued,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Result    *calsync.Result `json:"result,omitempty"`
}

func (h *CalendarSyncHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/calendar/sync-calendar", h.handle(calsync.KindCalendars)).Methods("POST")
	router.HandleFunc("/calendar/sync-events", h.handle(calsync.KindEvents)).Methods("POST")
}

func (h *CalendarSyncHandler) handle(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := sessionUser(r)
		log := logging.FromContext(r.Context(), h.logger).With().Str("user_id", userID).Str("kind", kind).Logger()

		async := false
		if raw := r.URL.Query().Get("async"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "async must be a boolean", http.StatusBadRequest)
				return
			}
			async = parsed
		}

		if async {
			id, err := h.queue.Enqueue(r.Context(), userID, kind)
			if err != nil {
				log.Error().Err(err).Msg("failed to enqueue sync")
				http.Error(w, "Failed to enqueue sync", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusAccepted, SyncResponse{Success: true, Queued: true, MessageID: id})
			return
		}

		res, err := h.runner.Run(r.Context(), userID, kind)
		if err != nil {
			status, msg := syncErrorStatus(err)
			log.Error().Err(err).Int("status", status).Msg("sync failed")
			http.Error(w, msg, status)
			return
		}
		writeJSON(w, http.StatusOK, SyncResponse{Success: true, Result: &res})
	}
}

func syncErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, security.ErrNoToken):
		return http.StatusUnauthorized, "Google Calendar is not connected"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, "Google Calendar is temporarily unavailable"
	default:
		return http.StatusBadGateway, "Calendar sync failed"
	}
}
