package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookline/bookline/internal/availability"
	"github.com/bookline/bookline/internal/booking"
	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/calsync"
	"github.com/bookline/bookline/internal/config"
	"github.com/bookline/bookline/internal/db"
	"github.com/bookline/bookline/internal/handlers"
	"github.com/bookline/bookline/internal/httpx"
	"github.com/bookline/bookline/internal/identity"
	"github.com/bookline/bookline/internal/otelx"
	"github.com/bookline/bookline/internal/outbox"
	"github.com/bookline/bookline/internal/runtime"
	"github.com/bookline/bookline/internal/schedule"
)

const maxBodyBytes = 1 << 20

func main() {
	logger := runtime.NewLogger("bookingd")

	ctx, stop := runtime.SignalContext()
	defer stop()

	port, err := config.Port("PORT", "8084")
	if err != nil {
		logger.Error("invalid PORT", "err", err)
		os.Exit(1)
	}
	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("missing configuration", "err", err)
		os.Exit(1)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		logger.Error("missing configuration", "err", err)
		os.Exit(1)
	}

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv("bookingd"))
	if err != nil {
		logger.Error("tracing setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	pool, err := db.Open(ctx, databaseURL)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Stores and workers.
	configStore := schedule.NewStore(pool)
	outboxRepo := outbox.NewRepository(pool)
	syncRepo := calsync.NewRepository()

	oauthCfg := calendar.OAuthConfigFromEnv()
	if oauthCfg == nil {
		logger.Warn("google credentials not configured, calendar sync disabled")
	}
	tokens := calendar.NewTokenStore(pool)
	provider := calendar.NewGoogleProvider(oauthCfg, tokens)

	bookingStore := booking.NewStore(pool, configStore, outboxRepo, syncRepo, logger)
	engine := availability.NewEngine(configStore, bookingStore)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	syncWorker := calsync.NewWorker(pool, syncRepo, provider, configStore, bookingStore, logger, calsync.WorkerConfig{
		Interval:  config.Duration("SYNC_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("SYNC_BATCH_SIZE", 20),
		Backoff:   config.Duration("SYNC_RETRY_BACKOFF", time.Minute),
	})
	go syncWorker.Run(ctx)

	// HTTP surface.
	readyChecks := []runtime.ReadyCheck{
		{Name: "postgres", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: outbox.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	bookingHandler := handlers.NewBookingHandler(bookingStore, logger)
	availabilityHandler := handlers.NewAvailabilityHandler(engine, logger)
	configHandler := handlers.NewConfigHandler(configStore, logger)
	stateSigner := identity.NewStateSigner(jwtSecret)
	calendarHandler := handlers.NewCalendarHandler(oauthCfg, tokens, stateSigner, logger)

	rateLimit := rateLimitMiddleware(logger)
	auth := identity.Middleware(identity.NewJWTResolver(jwtSecret))

	authed := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h,
			httpx.WithBodyLimit(maxBodyBytes),
			rateLimit,
			auth,
		)
	}

	mux.Handle("/api/v1/appointments", authed(bookingHandler.Appointments))
	mux.Handle("/api/v1/appointments/update", authed(bookingHandler.Update))
	mux.Handle("/api/v1/appointments/delete", authed(bookingHandler.Delete))
	mux.Handle("/api/v1/appointments/get", authed(bookingHandler.Get))
	mux.Handle("/api/v1/availability", authed(availabilityHandler.Slots))
	mux.Handle("/api/v1/config", authed(configHandler.Handle))
	mux.Handle("/api/v1/calendar/connect", authed(calendarHandler.Connect))
	mux.Handle("/api/v1/calendar/disconnect", authed(calendarHandler.Disconnect))

	// Google redirects the browser here without a bearer token.
	mux.Handle("/api/v1/calendar/oauth/callback", httpx.Chain(
		http.HandlerFunc(calendarHandler.Callback),
		rateLimit,
	))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "bookingd"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "bookingd").Middleware(logger)
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}
