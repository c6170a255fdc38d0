// Command lookbackctl inspects and refreshes LookBack data from the shell.
package main

import (
	"fmt"
	"io"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
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

func main() {
	_ = config.LoadDotEnv()

	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lookbackctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "lookbackctl",
		Usage:  "Inspect and refresh LookBack calendar activity data.",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file", EnvVars: []string{config.PathEnvVar}},
		},
		Commands: []*cli.Command{
			reportCommand(),
			syncCommand(),
			usersCommand(),
			weekCommand(),
		},
	}
}

// env is the subset of the server wiring the commands need.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
}

func openEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: "console", Output: c.App.ErrWriter})
	client, err := streams.Connect(c.Context, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, redis: client}, nil
}

func (e *env) normalizer() *activity.Normalizer {
	return activity.NewNormalizer(e.cfg.Location(), e.logger).WithSkipHook(metrics.RecordSkippedEvent)
}

func (e *env) syncer() *calsync.Syncer {
	tokenStore := security.NewTokenStore(e.redis, e.logger)
	google := security.NewGoogleServiceClient(tokenStore, e.logger)
	google.InitializeCalendar(e.cfg.Google.ClientID, e.cfg.Google.ClientSecret, e.cfg.Google.RedirectURL, oauth2.Endpoint{})

	fetcher := calsync.NewGoogleFetcher(google, calsync.FetcherConfig{
		RequestsPerSecond: e.cfg.Sync.RequestsPerSecond,
		Burst:             e.cfg.Sync.Burst,
		SingleEvents:      e.cfg.Sync.SingleEvents,
		FailureThreshold:  e.cfg.Sync.BreakerFailures,
		OpenTimeout:       e.cfg.Sync.BreakerTimeout,
	}, e.logger)
	return calsync.NewSyncer(fetcher, store.NewCalendarStore(e.redis, e.logger), e.normalizer(), nil, calsync.Options{
		Lookback:        e.cfg.Sync.Lookback,
		Horizon:         e.cfg.Sync.Horizon,
		ExpandRecurring: !e.cfg.Sync.SingleEvents,
	}, e.logger)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Print the dashboard summary of a user from stored data.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user id (Google account email)"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.redis.Close()

			svc := dashboard.NewService(store.NewCalendarStore(e.redis, e.logger), e.normalizer(), nil, dashboard.Options{
				SeedKnownCalendars: e.cfg.Activity.SeedKnownCalendars,
			}, e.logger)
			summary, err := svc.Summary(c.Context, c.String("user"))
			if err != nil {
				return fmt.Errorf("report for %s: %w", c.String("user"), err)
			}
			return writeJSON(c.App.Writer, summary)
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync a user's calendars now, or queue the sync for the server worker.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user id (Google account email)"},
			&cli.StringFlag{Name: "kind", Value: calsync.KindAll, Usage: "calendars, events or all"},
			&cli.BoolFlag{Name: "async", Usage: "enqueue instead of running in this process"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.redis.Close()

			userID, kind := c.String("user"), c.String("kind")
			if c.Bool("async") {
				queue := calsync.NewQueue(streams.NewStreamsHelper(e.redis), nil, e.logger)
				id, err := queue.Enqueue(c.Context, userID, kind)
				if err != nil {
					return err
				}
				return writeJSON(c.App.Writer, map[string]interface{}{"queued": true, "message_id": id})
			}

			res, err := e.syncer().Run(c.Context, userID, kind)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, res)
		},
	}
}

// userEntry is one line of the users listing.
type userEntry struct {
	UserID     string               `json:"user_id"`
	LastSynced map[string]time.Time `json:"last_synced,omitempty"`
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "List users with stored calendar data and when they last synced.",
		Action: func(c *cli.Context) error {
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.redis.Close()

			calendars := store.NewCalendarStore(e.redis, e.logger)
			users, err := calendars.Users(c.Context)
			if err != nil {
				return err
			}
			entries := make([]userEntry, 0, len(users))
			for _, userID := range users {
				synced, err := calendars.LastSynced(c.Context, userID)
				if err != nil {
					return fmt.Errorf("sync state for %s: %w", userID, err)
				}
				entries = append(entries, userEntry{UserID: userID, LastSynced: synced})
			}
			return writeJSON(c.App.Writer, entries)
		},
	}
}

func weekCommand() *cli.Command {
	return &cli.Command{
		Name:  "week",
		Usage: "Print this week's and last week's Monday..Sunday windows.",
		Flags: []cli.Flag{
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "reference instant (RFC 3339), default now"},
			&cli.StringFlag{Name: "tz", Value: activity.DefaultTimezone, Usage: "reference timezone"},
		},
		Action: func(c *cli.Context) error {
			loc, err := activity.LoadLocation(c.String("tz"))
			if err != nil {
				return err
			}
			now := time.Now()
			if at := c.Timestamp("at"); at != nil {
				now = *at
			}
			window := activity.ComputeWeekWindow(now, loc)
			return writeJSON(c.App.Writer, map[string]interface{}{
				"timezone":  loc.String(),
				"this_week": window,
				"last_week": window.Previous(),
			})
		},
	}
}
