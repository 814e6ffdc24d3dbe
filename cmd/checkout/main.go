package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/stagepass/checkout/internal/admission"
	"github.com/stagepass/checkout/internal/flow"
	"github.com/stagepass/checkout/internal/http/handlers"
	httpmw "github.com/stagepass/checkout/internal/http/middleware"
	"github.com/stagepass/checkout/internal/inventory"
	"github.com/stagepass/checkout/internal/mailer"
	"github.com/stagepass/checkout/internal/payment"
	"github.com/stagepass/checkout/internal/repo/postgres"
	"github.com/stagepass/checkout/internal/reservation"
	"github.com/stagepass/checkout/pkg/config"
	"github.com/stagepass/checkout/pkg/database"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
	mw "github.com/stagepass/checkout/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid redis URL", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// External collaborators
	gate := admission.NewGate(cfg.Queue.BaseURL, cfg.Queue.Timeout)
	inventoryClient := inventory.NewClient(cfg.Inventory.BaseURL, cfg.Inventory.Timeout)
	reservationClient := reservation.NewClient(cfg.Reservation.BaseURL, cfg.Reservation.Timeout)

	var provider payment.Provider
	switch cfg.Payment.Provider {
	case "stripe":
		provider = payment.NewStripeProvider(cfg.Payment.StripeSecretKey, cfg.Payment.SuccessURL, cfg.Payment.CancelURL)
	default:
		provider = payment.NewCheckoutProvider(cfg.Payment.BaseURL, cfg.Payment.Timeout)
	}

	var mail mailer.Service
	if cfg.Email.DevMode {
		mail = mailer.NewDevMailer()
	} else {
		mail = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	}

	// Flow machinery
	auditRepo := postgres.NewPaymentAuditRepository(pool)
	monitor := payment.NewRedisPopupMonitor(rdb, cfg.Flow.PopupLivenessTTL)
	orchestrator := payment.NewOrchestrator(provider, eventBus, monitor, auditRepo,
		cfg.Flow.PopupOpenGrace, cfg.Flow.CancelPollInterval)
	reconciler := flow.NewReconciler(provider, auditRepo, eventBus, mail, cfg.Payment.SuccessURL)
	janitor := flow.NewJanitor(gate, eventBus, cfg.Queue.Timeout)
	manager := flow.NewManager(cfg.Flow.SessionTTL)
	initiator := reservation.NewInitiator(reservationClient)

	svc := flow.NewService(gate, inventoryClient, initiator, orchestrator, reconciler,
		janitor, manager, eventBus, cfg.Flow.MaxTicketsPerPerson, cfg.Flow.SweepInterval)

	// Expiry sweep for abandoned flows
	go svc.Run(ctx)

	// Setup router
	h := handlers.New(svc, monitor, eventBus, cfg)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("checkout"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/flows", func(r chi.Router) {
		r.Use(h.RequireJWT("buyer"))
		r.Post("/", h.EnterFlow)
		r.Get("/{flowID}", h.GetFlow)
		r.Post("/{flowID}/seats/{seatID}", h.ToggleSeat)
		r.Post("/{flowID}/reservations", h.CreateReservations)
		r.Post("/{flowID}/payment", h.StartPayment)
		r.Post("/{flowID}/payment/retry", h.RetryPayment)
		r.Post("/{flowID}/teardown", h.TeardownFlow)
	})

	// Popup callbacks; the popup carries no buyer session, so these are
	// throttled by client address instead.
	callbackLimiter := httpmw.NewRateLimiter(rdb, httpmw.RateLimitConfig{
		Requests: 120,
		Window:   time.Minute,
	})
	r.Route("/payments", func(r chi.Router) {
		r.Use(callbackLimiter.Middleware())
		r.Post("/{orderID}/outcome", h.PaymentOutcome)
		r.Post("/{orderID}/heartbeat", h.PaymentHeartbeat)
	})

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()

		logger.Info("Shutting down checkout service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Checkout service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting checkout service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Checkout service error", "error", err)
		os.Exit(1)
	}
}
