package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-payments/config"
	"event-payments/internal/handlers"
	"event-payments/internal/services"
	"event-payments/internal/services/momo"
	"event-payments/internal/store"
	"event-payments/monitoring"
	"event-payments/security"
	"event-payments/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"

	_ "event-payments/migrations"
)

const monitorInterval = 30 * time.Second

// components are the wired payment services of a running server.
type components struct {
	store      *store.PocketBase
	reconciler *services.Reconciler
	initiation *services.InitiationService
	status     *services.StatusService
	dispatcher *services.Dispatcher
}

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	registerCommands(app, cfg)
	setupRegistrationHooks(app)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	var svc *components

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		logger := app.Logger()
		svc = newComponents(app, cfg, redisClient, pn, logger)

		if cfg.PubNubIngressChannel != "" && cfg.PubNubSubscribeKey != "" {
			services.NewPubNubListener(pn, cfg.PubNubIngressChannel, svc.reconciler, logger).Start(ctx)
		}

		if cfg.EnableMetrics {
			monitoring.NewMonitor(svc.store, monitorInterval, logger).Start(ctx)
			go serveOps(ctx, app, cfg, redisClient, logger)
		}

		registerRoutes(se, cfg, svc, redisClient, logger)

		log.Println("Server routes registered")

		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		if svc != nil {
			svc.dispatcher.Wait()
		}
		return e.Next()
	})

	// Start server
	return app.Start()
}

func newComponents(app core.App, cfg *config.Config, redisClient *redis.Client, pn *pubnub.PubNub, logger *slog.Logger) *components {
	st := store.NewPocketBase(app)
	provider := newProvider(cfg)

	var mailer services.Mailer
	if cfg.Mail.APIKey != "" && cfg.Mail.APIURL != "" {
		mailer = services.NewHTTPMailer(cfg.Mail.APIURL, cfg.Mail.APIKey, cfg.Mail.Timeout)
	} else {
		mailer = services.NewPocketBaseMailer(app)
	}

	dispatcher := services.NewDispatcher(mailer, st, services.DispatcherConfig{
		From:           cfg.Mail.From,
		FromName:       cfg.Mail.FromName,
		StaffEmail:     cfg.Mail.StaffEmail,
		SendsPerSecond: cfg.Mail.SendsPerSecond,
	}, logger)

	cache := services.NewRedisStatusCache(redisClient, cfg.StatusCacheTTL)

	reconciler := services.NewReconciler(st, logger,
		services.WithLocker(services.NewRedisLocker(redisClient, cfg.CallbackLockTTL, logger)),
		services.WithStatusCache(cache),
		services.WithPublisher(services.NewPubNubPublisher(pn)),
		services.WithNotifier(dispatcher),
	)

	return &components{
		store:      st,
		reconciler: reconciler,
		initiation: services.NewInitiationService(st, provider, logger),
		status:     services.NewStatusService(st, provider, reconciler, cache, logger),
		dispatcher: dispatcher,
	}
}

func newProvider(cfg *config.Config) *momo.Client {
	return momo.NewClient(momo.ClientConfig{
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		HMACKey:     cfg.Provider.HMACKey,
		CallbackURL: cfg.Provider.CallbackURL,
		Timeout:     cfg.Provider.Timeout,
	})
}

func registerRoutes(se *core.ServeEvent, cfg *config.Config, svc *components, redisClient *redis.Client, logger *slog.Logger) {
	paymentHandler := handlers.NewPaymentHandler(svc.initiation, svc.reconciler, svc.status, svc.store, logger)
	adminHandler := handlers.NewAdminHandler(svc.store, cfg.StaleAfter, logger)
	limiter := security.NewRateLimiter(redisClient, cfg.InitiateRateLimit, cfg.InitiateRateWindow, "initiate", logger)

	// Payment endpoints
	se.Router.POST("/api/v1/payments/initiate", paymentHandler.Initiate).BindFunc(limiter.Middleware())
	se.Router.POST("/api/v1/payments/callback", paymentHandler.Callback)
	se.Router.POST("/api/v1/payments/verify", paymentHandler.Verify)
	se.Router.GET("/api/v1/registrations/{id}/payment", paymentHandler.GetRegistrationPayment)

	// Admin endpoints
	admin := se.Router.Group("/api/v1/admin")
	admin.Bind(apis.RequireSuperuserAuth())
	admin.GET("/payments/stale", adminHandler.GetStalePayments)
	admin.GET("/callbacks/unmatched", adminHandler.GetUnmatchedCallbacks)

	// Test endpoint for callback simulation
	if cfg.IsDevelopment() {
		se.Router.POST("/api/v1/test/simulate-callback", paymentHandler.SimulateCallback)
	}

	// Health check
	se.Router.GET("/health", func(e *core.RequestEvent) error {
		if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
}

// serveOps runs the metrics and health server next to PocketBase.
func serveOps(ctx context.Context, app core.App, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) {
	checks := map[string]monitoring.HealthCheck{
		"redis": func(ctx context.Context) error {
			return utils.RedisHealthCheck(ctx, redisClient)
		},
		"database": func(ctx context.Context) error {
			_, err := app.DB().NewQuery("SELECT 1").WithContext(ctx).Execute()
			return err
		},
	}

	if err := monitoring.Serve(ctx, ":"+cfg.MetricsPort, monitoring.NewServer(checks), logger); err != nil {
		logger.Error("Ops server stopped", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
