package teamboard

import (
	"context"
	"fmt"
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teamboard/relay/auth"
	"github.com/teamboard/relay/core"
	"github.com/teamboard/relay/router"
	"github.com/teamboard/relay/store"
)

type App struct {
	config      *Config
	db          *store.SQLiteDB
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager
	registry    *core.Registry
	metrics     *Metrics

	exit chan int

	userStore    store.UserStore
	messageStore store.MessageStore

	userHandler    *UserHandler
	messageHandler *MessageHandler

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
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

	sqliteOptions := &store.SQLiteOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = store.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.userStore = store.NewSQLiteUserStore(app.db.DB)
	app.messageStore = store.NewSQLiteMessageStore(app.db.DB)

	app.metrics = NewMetrics(prometheus.DefaultRegisterer)

	app.registry = core.NewRegistry()
	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger)
	app.wsManager.OnConnect(func(string) { app.metrics.WsConnections.Inc() })
	app.wsManager.OnDisconnect(func(string) { app.metrics.WsConnections.Dec() })

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager, core.SystemClock())
	app.eventRouter.Observe(func(eventType string) {
		app.metrics.EventsDispatched.WithLabelValues(eventType).Inc()
	})
	app.eventRouter.OnSweep(time.Second, app.sweepTyping)
	app.eventRouter.On(AuthenticateEvent, app.AuthenticateHandler)
	app.eventRouter.On(JoinRoomEvent, app.JoinRoomHandler)
	app.eventRouter.On(LeaveRoomEvent, app.LeaveRoomHandler)
	app.eventRouter.On(TypingEvent, app.TypingHandler)
	app.eventRouter.On(StoppedTypingEvent, app.StoppedTypingHandler)
	app.eventRouter.On(SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(EditMessageEvent, app.EditMessageHandler)
	app.eventRouter.On(DeleteMessageEvent, app.DeleteMessageHandler)
	app.eventRouter.On(MarkMessageAsReadEvent, app.MarkMessageAsReadHandler)
	app.eventRouter.On(MarkAllAsReadEvent, app.MarkAllAsReadHandler)
	app.eventRouter.On(GetReadReceiptsEvent, app.GetReadReceiptsHandler)
	app.eventRouter.On(UpdatePresenceEvent, app.UpdatePresenceHandler)
	app.eventRouter.On(core.Disconnected, app.DisconnectedHandler)

	tokenOptions := auth.TokenOptions{Secret: app.config.Auth.Secret, Exp: 24 * time.Hour}
	app.userHandler = NewUserHandler(app.userStore, tokenOptions)
	app.messageHandler = NewMessageHandler(app.messageStore)

	authMiddleware := auth.Middleware(tokenOptions)

	app.router = router.New(router.WithLogger(app.logger))
	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	app.router.Router.Handle("/metrics", promhttp.Handler())

	// the websocket upgrade is gated by the same token middleware as the
	// REST routes; any event arriving on an accepted connection is assumed
	// authorized
	app.router.With(authMiddleware).Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.wsManager.Connect(w, r); err != nil {
			app.logger.Error(fmt.Sprintf("ws connect: %v", err))
		}
	})

	app.router.Route("/api", func(api *router.Router) {
		api.Route("/users", func(r *router.Router) {
			r.Post("/signup", app.userHandler.SignupHandler)
			r.Post("/signin", app.userHandler.SigninHandler)
			r.With(authMiddleware).Get("/me", app.userHandler.MeHandler)
		})
		api.Route("/rooms", func(r *router.Router) {
			r.With(authMiddleware).Get("/{roomID}/messages", app.messageHandler.GetRoomMessagesHandler)
			r.With(authMiddleware).Post("/{roomID}/messages", app.messageHandler.CreateMessageHandler)
		})
		api.Route("/messages", func(r *router.Router) {
			r.With(authMiddleware).Put("/{messageID}", app.messageHandler.UpdateMessageHandler)
			r.With(authMiddleware).Delete("/{messageID}", app.messageHandler.DeleteMessageHandler)
		})
	})

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

// Start launches the event loop and the HTTP server, then waits for the
// context to be cancelled and cleans up with a timeout.
func (app *App) Start() {
	app.eventRouter.Listen(&app.wg)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.eventRouter.Close()
	})
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsManager.Close()
	})
	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})

	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup
		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			go func(f func(context.Context)) {
				defer wg.Done()
				f(closeCtx)
			}(f)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	go func() {
		app.logger.Info(fmt.Sprintf("listening on %s", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error(fmt.Sprintf("server: %v", err))
		}
	}()
}

// Wait blocks until the app has shut down and returns the exit code.
func (app *App) Wait() int {
	return <-app.exit
}

func failed(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}
