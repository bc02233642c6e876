package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/pkg/router"
	"github.com/putto11262002/chatsync/ws"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *Config
	db        *core.SQLiteDB
	context   context.Context
	server    *http.Server
	logger    *slog.Logger
	logOutput io.Writer
	router    *router.Router
	registry  *prometheus.Registry
	broker    *core.Broker
	wsHandler *ws.Handler

	exit chan int

	userStore core.UserStore
	chatStore core.ChatStore
	authStore core.AuthStore

	userHandler *UserHandler
	chatHandler *ChatHandler
	authHandler *AuthHandler

	cleanupFuncs []func(context.Context)
	closeOnce    sync.Once
	closeErr     error
}

type Option func(*App)

// WithLogOutput sets where the app writes its logs. The default is stdout.
func WithLogOutput(w io.Writer) Option {
	return func(app *App) {
		app.logOutput = w
	}
}

// New wires the stores, the change feed broker and the HTTP routes.
// If ctx is nil the app stops on SIGINT, SIGTERM, SIGQUIT or SIGHUP.
func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	app := &App{
		exit:      make(chan int),
		logOutput: os.Stdout,
	}
	for _, opt := range opts {
		opt(app)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}
	app.config = config

	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	app.logger = slog.New(slog.NewTextHandler(app.logOutput, &slog.HandlerOptions{Level: config.Level(),
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		JournalMode: "WAL",
		BusyTimeout: 5000,
		TxLock:      "immediate",
		ForeignKeys: true,
	}
	db, err := core.NewSQLiteDB(config.SQLite.File, config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.db = db
	app.AddCleanupFunc(func(ctx context.Context) {
		if err := app.db.Close(); err != nil {
			app.logger.Error("closing database", slog.Any("error", err))
		}
	})
	if err := app.db.Migrate(); err != nil {
		app.db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.broker = core.NewBroker(
		core.WithBrokerLogger(app.logger),
		core.WithMetrics(core.NewFeedMetrics(app.registry)),
	)

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.authStore = core.NewSQLiteAuthStore(app.db.DB, app.userStore, config.Auth.Secret,
		core.WithTokenExp(config.Auth.TokenExp))
	chatStore := core.NewSQLiteChatStore(app.db.DB, core.WithPublisher(app.broker))
	app.chatStore = chatStore

	app.wsHandler = ws.NewHandler(app.authStore, chatStore, app.broker, app.broker,
		ws.WithLogger(app.logger), ws.WithStatusTracker(app.userStore))
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsHandler.Close()
	})

	app.userHandler = NewUserHandler(app.userStore)
	app.chatHandler = NewChatHandler(app.chatStore, app.logger)
	app.authHandler = NewAuthHandler(app.userStore, app.authStore, config.Mode == ProdMode)
	authMiddleware := core.JWTMiddleware(app.authStore)

	app.router = router.New(router.WithLogger(app.logger))
	registerErrorMappers(app.router)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of HTTP requests by status code and method.",
	}, []string{"code", "method"})
	app.registry.MustRegister(requests)

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	app.router.Router.Use(func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerCounter(requests, next)
	})

	app.router.Router.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{
		Registry: app.registry,
	}))
	app.router.Router.Handle("/ws", app.wsHandler)

	app.router.Route("/api", func(api *router.Router) {
		api.Route("/auth", func(r *router.Router) {
			r.Post("/signup", app.authHandler.SignupHandler)
			r.Post("/signin", app.authHandler.SigninHandler)
			r.With(authMiddleware).Post("/signout", app.authHandler.SignoutHandler)
		})

		api.Group(func(r *router.Router) {
			r.Use(authMiddleware)
			r.Get("/users/me", app.userHandler.MeHandler)
			r.Get("/users", app.userHandler.SearchUsersHandler)

			r.Get("/rooms", app.chatHandler.GetMyRoomsHandler)
			r.Post("/rooms", app.chatHandler.CreateRoomHandler)
			r.Post("/rooms/{roomID}/members", app.chatHandler.AddRoomMemberHandler)
			r.Delete("/rooms/{roomID}/members/me", app.chatHandler.LeaveRoomHandler)
			r.Get("/rooms/{roomID}/messages", app.chatHandler.GetRoomMessagesHandler)
			r.Post("/rooms/{roomID}/messages", app.chatHandler.SendMessageHandler)

			r.Patch("/messages/{messageID}", app.chatHandler.EditMessageHandler)
			r.Delete("/messages/{messageID}", app.chatHandler.DeleteMessageHandler)
			r.Post("/messages/{messageID}/reactions", app.chatHandler.ToggleReactionHandler)
		})
	})

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if app.config.Mode == ProdMode {
		app.server.TLSConfig = &defaultTLSConfig
	}

	return app, nil
}

// registerErrorMappers maps the store error kinds to HTTP responses.
// The first matching kind wins, so the order follows how specific a kind is.
func registerErrorMappers(r *router.Router) {
	kinds := []struct {
		err  error
		code int
	}{
		{core.ErrBadCredentials, http.StatusUnauthorized},
		{core.ErrUnauthenticated, http.StatusUnauthorized},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrUnauthorized, http.StatusForbidden},
		{core.ErrConflict, http.StatusConflict},
		{core.ErrInvalidInput, http.StatusBadRequest},
		{core.ErrTransientIO, http.StatusServiceUnavailable},
	}
	for _, k := range kinds {
		r.RegisterErrorMapper(k.err, func(err error) router.Error {
			resErr := router.NewJsonError(k.code, k.err.Error())
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				resErr = resErr.WithDetails(validationDetails(verrs))
			}
			return resErr
		})
	}
}

// validationDetails maps each invalid field to the rule it broke.
func validationDetails(verrs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			details[fe.Field()] = fe.Tag() + "=" + fe.Param()
		} else {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}

// Handler returns the root HTTP handler of the app.
func (app *App) Handler() http.Handler {
	return app.router
}

func (app *App) Logger() *slog.Logger {
	return app.logger
}

func (app *App) Start() {
	app.AddCleanupFunc(func(ctx context.Context) {
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("shutting down server", slog.Any("error", err))
		}
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()

		if err := app.Close(closeCtx); err != nil {
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
			return
		}
		app.logger.Info("app shutdown gracefully")
		app.exit <- 0
	}()

	app.logger.Info(fmt.Sprintf("app running in %s mode on: %s:%d",
		app.config.Mode, app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	} else {
		os.Exit(code)
	}
}

// Close runs the cleanup functions in reverse registration order,
// so the server stops accepting requests before the database is closed.
// It returns ctx.Err() if the cleanup did not finish in time.
func (app *App) Close(ctx context.Context) error {
	app.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
				app.cleanupFuncs[i](ctx)
			}
		}()

		select {
		case <-done:
		case <-ctx.Done():
			app.closeErr = ctx.Err()
		}
	})
	return app.closeErr
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
