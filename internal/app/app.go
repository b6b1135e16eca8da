// Package app wires the database, engine, notification sinks and facade from
// a loaded config. Every entry point (HTTP server, CLI, MCP) starts here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
	"taskflow/internal/migrate"
	"taskflow/internal/notify"
	"taskflow/internal/pin"
	"taskflow/internal/server"
)

type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Facade facade.Facade
	Notify *notify.Dispatcher
	Relay  notify.Relay
	Log    *slog.Logger
}

// Open opens and migrates the database and starts the notification worker.
// Close releases both.
func Open(cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	email, chat := Sinks(cfg, log)
	d := notify.NewDispatcher(email, chat, cfg.Notifications.QueueSize, cfg.Notifications.Timeout.Duration, log)
	d.Start()

	e := engine.New(conn, cfg)
	e.Log = log
	a := &App{
		DB:     conn,
		Config: cfg,
		Engine: e,
		Facade: facade.New(e, pin.New(conn), d, log),
		Notify: d,
		Relay: notify.Relay{
			Repo:     e.Repo,
			Chat:     chat,
			Channel:  cfg.Notifications.Chat.Channel,
			Interval: cfg.Relay.Interval.Duration,
			Batch:    cfg.Relay.Batch,
			Log:      log,
		},
		Log: log,
	}
	return a, nil
}

// Sinks picks HTTP sinks for configured endpoints and log sinks otherwise.
func Sinks(cfg *config.Config, log *slog.Logger) (notify.EmailSink, notify.ChatSink) {
	client := &http.Client{Timeout: cfg.Notifications.Timeout.Duration}
	var email notify.EmailSink = notify.LogEmailSink{Log: log}
	if ep := cfg.Notifications.Email.Endpoint; ep != "" {
		email = notify.HTTPEmailSink{
			Endpoint: ep,
			APIKey:   cfg.Notifications.Email.APIKey,
			From:     cfg.Notifications.Email.From,
			Client:   client,
		}
	}
	var chat notify.ChatSink = notify.LogChatSink{Log: log}
	if url := cfg.Notifications.Chat.WebhookURL; url != "" {
		chat = notify.WebhookChatSink{
			URL:     url,
			Channel: cfg.Notifications.Chat.Channel,
			Client:  client,
		}
	}
	return email, chat
}

// Handler builds the HTTP API over the facade.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Facade:   a.Facade,
		BasePath: a.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:      a.Config.Server.JWTSecret,
			AllowDevHeader: a.Config.Server.AllowDevHeader,
			Logger:         a.Log,
		},
		Log: a.Log,
	})
}

// Serve runs the HTTP API, the chat relay and the periodic jobs until ctx is
// cancelled, then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context, addr string) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go a.Relay.Run(ctx)
	go a.RunJobs(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("listening", "addr", addr, "base_path", a.Config.Server.BasePath)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// RunJobs materializes recurrences and sweeps deadlines every interval.
func (a *App) RunJobs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.RunJobsOnce(ctx, time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) RunJobsOnce(ctx context.Context, now time.Time) {
	if report, err := a.Facade.Materialize(ctx, now); err != nil {
		a.Log.Warn("materialize recurrences failed", "err", err)
	} else if len(report.Created) > 0 || report.Deactivated > 0 {
		a.Log.Info("materialized recurrences", "created", len(report.Created), "deactivated", report.Deactivated)
	}
	if report, err := a.Facade.SweepDeadlines(ctx, now); err != nil {
		a.Log.Warn("deadline sweep failed", "err", err)
	} else if report.DueSoon > 0 || report.Overdue > 0 {
		a.Log.Info("deadline sweep", "due_soon", report.DueSoon, "overdue", report.Overdue)
	}
}

func (a *App) Close() error {
	a.Notify.Close()
	return a.DB.Close()
}
