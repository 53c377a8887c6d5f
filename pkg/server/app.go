package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"SignalRelay/internal/handler/api"
	"SignalRelay/internal/session"
	"SignalRelay/internal/usecase"
	pkgch "SignalRelay/pkg/clickhouse"
	"SignalRelay/pkg/config"
	xhttp "SignalRelay/pkg/http"
	applogger "SignalRelay/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	collector  *usecase.FeedCollector
	archiver   *usecase.SignalArchiver
	chClient   *pkgch.Client
	handler    *api.FeedHandler
	sess       *session.Manager
	logger     *applogger.Logger
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	collector *usecase.FeedCollector,
	archiver *usecase.SignalArchiver,
	chClient *pkgch.Client,
	handler *api.FeedHandler,
	sess *session.Manager,
	logger *applogger.Logger,
) *App {
	return &App{
		cfg:       cfg,
		collector: collector,
		archiver:  archiver,
		chClient:  chClient,
		handler:   handler,
		sess:      sess,
		logger:    logger,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	if err := a.login(ctx); err != nil {
		return err
	}

	unsub := a.sess.OnSessionExpired(func() {
		l.Warn("session expired, re-authentication required")
	})
	defer unsub()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(l),
	)

	// Start collector
	if err := a.collector.Start(ctx); err != nil {
		l.Error("collector start error", applogger.Error(err))
		return err
	}
	l.Info("collector started", applogger.Strings("symbols", a.cfg.Realtime.PriceSymbols))

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// login authenticates when credentials are configured and no persisted
// token survived the restart. Rejected credentials are fatal; an
// unreachable remote is not, since the channel reconnects on its own.
func (a *App) login(ctx context.Context) error {
	if a.cfg.API.Username == "" || a.sess.Authenticated() {
		return nil
	}

	user, err := a.sess.Login(ctx, a.cfg.API.Username, a.cfg.API.Password)
	if err != nil {
		if xhttp.IsAuthKind(err, xhttp.KindInvalidCredentials) {
			a.logger.Error("login rejected", applogger.Error(err))
			return err
		}
		a.logger.Warn("login unreachable, continuing unauthenticated", applogger.Error(err))
		return nil
	}

	a.logger.Info("logged in", applogger.String("user", user.Username))
	return nil
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger

	// Stop collector (pipeline + stream)
	if err := a.collector.Shutdown(ctx); err != nil {
		l.Warn("collector stop error", applogger.Error(err))
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Close archive resources (publisher/storage)
	if a.archiver != nil {
		a.archiver.Close()
	}

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
