package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/chat"
	"pricewatch/internal/config"
	apierrors "pricewatch/internal/errors"
	"pricewatch/internal/identity"
	"pricewatch/internal/infrastructure"
	customMiddleware "pricewatch/internal/middleware"
	handlers "pricewatch/internal/transport/http"
	"pricewatch/internal/users"
)

// runtimeSampleInterval is how often process gauges are recorded
const runtimeSampleInterval = 15 * time.Second

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Gateway       *chat.Gateway
	Resolver      *identity.Resolver
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	directory    *users.MongoDirectory
	redis        *redis.Client
	healthChecks map[string]handlers.HealthCheck
	runtime      *infrastructure.RuntimeCollector
	startTime    time.Time
}

// NewApplication loads the configuration, initializes logging and builds the
// application from it.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(ctx, cfg, logger)
}

// New wires every component from cfg. External stores are connected only
// when configured: Mongo when a URI is set, Redis when an address is set.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		healthChecks:  make(map[string]handlers.HealthCheck),
		startTime:     time.Now(),
	}

	if err := app.initializeServices(ctx); err != nil {
		app.closeStores(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.setupRouter(); err != nil {
		app.closeStores(context.Background())
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	app.createServer()
	return app, nil
}

// initializeServices builds the identity chain and the chat gateway
func (a *Application) initializeServices(ctx context.Context) error {
	var directory users.Directory

	if a.Config.Mongo.URI != "" {
		mongoDir, err := users.NewMongoDirectory(ctx, a.Config.Mongo, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to open user directory: %w", err)
		}
		a.directory = mongoDir
		a.healthChecks["mongo"] = mongoDir.Ping
		directory = mongoDir
	}

	if a.Config.Redis.Addr != "" {
		if directory == nil {
			a.Logger.WarnContext(ctx, "redis configured without a user directory, cache disabled",
				slog.String("addr", a.Config.Redis.Addr))
		} else {
			rdb, err := users.NewRedisClient(ctx, a.Config.Redis)
			if err != nil {
				return fmt.Errorf("failed to open user cache: %w", err)
			}
			a.redis = rdb
			a.healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
			directory = users.NewCachedDirectory(directory, rdb, a.Config.Redis.CacheTTL, a.Logger)
		}
	}

	var verifier identity.CredentialVerifier
	if a.Config.Auth.JWTSecret != "" {
		jwtVerifier, err := identity.NewJWTVerifier(a.Config.Auth, directory)
		if err != nil {
			return fmt.Errorf("failed to create credential verifier: %w", err)
		}
		verifier = jwtVerifier
	} else {
		a.Logger.WarnContext(ctx, "no JWT secret configured, every connection joins as a guest")
	}
	a.Resolver = identity.NewResolver(verifier, a.Logger)

	metrics, err := chat.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create chat metrics: %w", err)
	}

	opts := chat.OptionsFromConfig(a.Config.Chat)
	opts.Logger = a.Logger
	opts.Metrics = metrics
	a.Gateway = chat.NewGateway(opts)

	a.runtime, err = infrastructure.NewRuntimeCollector(a.OTelProviders.Meter, a.startTime, runtimeSampleInterval)
	if err != nil {
		return err
	}

	a.Logger.InfoContext(ctx, "Services initialized",
		slog.Int("history_capacity", a.Config.Chat.HistoryCapacity),
		slog.Bool("echo_to_sender", a.Config.Chat.EchoToSender),
		slog.String("malformed_frame_policy", a.Config.Chat.MalformedFramePolicy),
		slog.Bool("user_directory", a.directory != nil),
		slog.Bool("user_cache", a.redis != nil))
	return nil
}

// setupRouter configures the chi router.
// Order: RequestID → RealIP → OTel → Logger → Recoverer → Timeout
func (a *Application) setupRouter() error {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	chatHandler := handlers.NewChatHandler(a.Gateway, a.Resolver, a.Config.WebSocket,
		a.Config.Security.AllowedOrigins, a.Logger, errorHandler)
	healthHandler := handlers.NewHealthHandler(a.Gateway, a.healthChecks, a.startTime, a.Logger)

	// The socket lives outside the timeout and rate limit group
	r.With(
		customMiddleware.WebSocketTraceMiddleware(a.Logger),
		customMiddleware.Recoverer(a.Logger),
	).Get(config.ChatSocketEndpoint, chatHandler.ServeWS)

	r.Get(config.HealthEndpoint, healthHandler.Liveness)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins:   a.Config.Security.AllowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			Logger:           a.Logger,
		}))
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}
		r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout))

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Get("/health", healthHandler.HealthCheck)
			r.Mount("/chat", chatHandler.Routes())
		})
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
	return nil
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// server fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("socket", config.ChatSocketEndpoint))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.runtime.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(context.Background(), "Shutdown requested")
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application: the HTTP server stops accepting,
// every chat connection is closed, then stores and telemetry are flushed.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.Gateway.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
	}
	if err := a.closeStores(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) closeStores(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.directory != nil {
		if err := a.directory.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongo disconnect: %w", err))
		}
	}
	return errors.Join(errs...)
}
