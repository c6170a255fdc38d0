package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"lookback-cloud/dashboard"
	"lookback-cloud/logging"
)

// DashboardHandler serves the computed dashboard widgets for the session user
type DashboardHandler struct {
	service *dashboard.Service
	logger  zerolog.Logger
}

func NewDashboardHandler(service *dashboard.Service, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  logger.With().Str("component", "dashboard_routes").Logger(),
	}
}

// DashboardResponse wraps every dashboard payload.
type DashboardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/dashboard/weekly-activity", serve(h, h.service.WeeklyActivity)).Methods("GET")
	router.HandleFunc("/dashboard/spending-time", serve(h, h.service.SpendingTime)).Methods("GET")
	router.HandleFunc("/dashboard/productivity", serve(h, h.service.Productivity)).Methods("GET")
	router.HandleFunc("/dashboard/categories", serve(h, h.service.Categories)).Methods("GET")
	router.HandleFunc("/dashboard/upcoming", serve(h, h.service.Upcoming)).Methods("GET")
	router.HandleFunc("/dashboard/summary", serve(h, h.service.Summary)).Methods("GET")
}

func serve[T any](h *DashboardHandler, compute func(ctx context.Context, userID string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := sessionUser(r)
		data, err := compute(r.Context(), userID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, DashboardResponse{Success: true, Data: data})
		case errors.Is(err, dashboard.ErrMissingUser):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, dashboard.ErrUpstream):
			logging.FromContext(r.Context(), h.logger).Error().Err(err).Str("user_id", userID).Msg("dashboard data unavailable")
			http.Error(w, "Calendar data unavailable", http.StatusBadGateway)
		default:
			logging.FromContext(r.Context(), h.logger).Error().Err(err).Str("user_id", userID).Msg("dashboard computation failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
