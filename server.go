package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"lookback-cloud/activity"
	"lookback-cloud/calsync"
	"lookback-cloud/config"
	"lookback-cloud/dashboard"
	"lookback-cloud/logging"
	"lookback-cloud/metrics"
	"lookback-cloud/security"
	"lookback-cloud/store"
	"lookback-cloud/streams"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

// serverOptions overrides external endpoints and time, mostly for tests.
type serverOptions struct {
	googleEndpoint oauth2.Endpoint
	clientOptions  []security.ClientOption
	clock          activity.Clock
}

// server holds every wired component of the service.
type server struct {
	cfg       *config.Config
	logger    zerolog.Logger
	redis     *redis.Client
	google    *security.GoogleServiceClient
	sessions  *security.SessionIssuer
	store     *store.CalendarStore
	syncer    *calsync.Syncer
	queue     *calsync.Queue
	scheduler *calsync.Scheduler
	watcher   *calsync.Watcher
	dashboard *dashboard.Service
}

func newServer(cfg *config.Config, client *redis.Client, logger zerolog.Logger, opts serverOptions) (*server, error) {
	if opts.clock == nil {
		opts.clock = activity.SystemClock{}
	}

	normalizer := activity.NewNormalizer(cfg.Location(), logger).WithSkipHook(metrics.RecordSkippedEvent)

	tokenStore := security.NewTokenStore(client, logger)
	google := security.NewGoogleServiceClient(tokenStore, logger, opts.clientOptions...)
	google.InitializeCalendar(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, opts.googleEndpoint)

	sessions, err := security.NewSessionIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	calendarStore := store.NewCalendarStore(client, logger)
	fetcher := calsync.NewGoogleFetcher(google, calsync.FetcherConfig{
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		Burst:             cfg.Sync.Burst,
		SingleEvents:      cfg.Sync.SingleEvents,
		FailureThreshold:  cfg.Sync.BreakerFailures,
		OpenTimeout:       cfg.Sync.BreakerTimeout,
	}, logger)
	syncer := calsync.NewSyncer(fetcher, calendarStore, normalizer, opts.clock, calsync.Options{
		Lookback:        cfg.Sync.Lookback,
		Horizon:         cfg.Sync.Horizon,
		ExpandRecurring: !cfg.Sync.SingleEvents,
	}, logger)

	queue := calsync.NewQueue(streams.NewStreamsHelper(client), syncer, logger)
	users := calsync.UserListerFunc(func(ctx context.Context) ([]string, error) {
		return tokenStore.ListUsers(ctx, security.ServiceCalendar)
	})
	scheduler, err := calsync.NewScheduler(cfg.Sync.Schedule, users, queue, logger)
	if err != nil {
		return nil, err
	}

	return &server{
		cfg:       cfg,
		logger:    logger,
		redis:     client,
		google:    google,
		sessions:  sessions,
		store:     calendarStore,
		syncer:    syncer,
		queue:     queue,
		scheduler: scheduler,
		watcher:   calsync.NewWatcher(google, client, logger),
		dashboard: dashboard.NewService(calendarStore, normalizer, opts.clock, dashboard.Options{
			SeedKnownCalendars: cfg.Activity.SeedKnownCalendars,
		}, logger),
	}, nil
}

// routes builds the HTTP handler with CORS, rate limiting and request logging.
func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(logging.Middleware(s.logger))

	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(requireSession(s.sessions))

	NewGoogleAuthHandler(s.google, s.sessions, s.logger).RegisterRoutes(r, authed)
	NewCalendarSyncHandler(s.syncer, s.queue, s.logger).RegisterRoutes(authed)
	NewCalendarWebhookHandler(s.watcher, s.queue, s.cfg.Server.PublicURL, s.logger).RegisterRoutes(r, authed)
	NewDashboardHandler(s.dashboard, s.logger).RegisterRoutes(authed)

	var handler http.Handler = r
	if s.cfg.Server.RateLimitPerMinute > 0 {
		handler = httprate.LimitByIP(s.cfg.Server.RateLimitPerMinute, time.Minute)(handler)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", logging.RequestIDHeader},
		ExposedHeaders: []string{logging.RequestIDHeader},
		MaxAge:         300,
	})(handler)
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		logging.FromContext(r.Context(), s.logger).Error().Err(err).Msg("health check: redis unreachable")
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		OK:      status == http.StatusOK,
		Version: VERSION,
		Service: "lookback-cloud",
	})
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "LookBack API Server",
		"version": VERSION,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
