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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/http/handlers"
	apimw "github.com/premisehq/visitor-gate/internal/http/middleware"
	"github.com/premisehq/visitor-gate/internal/otp"
	"github.com/premisehq/visitor-gate/internal/repo/postgres"
	"github.com/premisehq/visitor-gate/internal/scheduler"
	"github.com/premisehq/visitor-gate/internal/service"
	"github.com/premisehq/visitor-gate/pkg/config"
	"github.com/premisehq/visitor-gate/pkg/database"
	"github.com/premisehq/visitor-gate/pkg/events"
	"github.com/premisehq/visitor-gate/pkg/logger"
	mw "github.com/premisehq/visitor-gate/pkg/middleware"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid redis URL", "error", err)
		os.Exit(1)
	}
	redisOpts.Password = cfg.Redis.Password
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Repositories
	visitRepo := postgres.NewVisitRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)
	deadlineRepo := postgres.NewDeadlineRepo(pool)
	passRepo := postgres.NewPassRepo(pool)

	// Core engine
	codes := otp.New(
		otp.WithTTLs(cfg.Visit.OwnerCodeTTL, cfg.Visit.FacilityCodeTTL),
		otp.WithPublisher(eventBus),
	)
	defer codes.Close()

	sched := scheduler.New(visitRepo, deadlineRepo, scheduler.WithPublisher(eventBus))
	defer sched.Stop()

	ledger := service.NewLedgerService(visitRepo, sessionRepo, auditRepo, codes, sched, eventBus, cfg.Visit.AutoDenyAfter)
	checkin := service.NewCheckInService(visitRepo, sessionRepo, eventBus)
	passes := service.NewPassService(passRepo, codes)

	h := handlers.New(ledger, checkin, passes, codes)

	kioskLimiter := apimw.NewRateLimiter(redisClient, apimw.RateLimitConfig{
		Requests: cfg.Visit.KioskRateLimit,
		Window:   cfg.Visit.KioskRateWindow,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("visitor-gate"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	secret := cfg.Auth.JWTSecret

	r.Route("/visitor/requests", func(r chi.Router) {
		r.Use(apimw.RequireRole(secret, domain.RoleVisitor))
		r.Post("/", h.CreateRequest)
		r.Get("/", h.ListMyRequests)
		r.Get("/{id}", h.GetRequest)
		r.Delete("/{id}", h.CancelRequest)
	})

	r.Route("/owner", func(r chi.Router) {
		r.Use(apimw.RequireRole(secret, domain.RoleOwner))
		r.Post("/codes", h.IssueCode)
		r.Get("/codes", h.ActiveCode)
		r.Delete("/codes/{code}", h.RevokeCode)
		r.Get("/requests", h.ListOwnerRequests)
		r.Post("/requests/{id}/approve", h.ApproveRequest)
		r.Post("/requests/{id}/deny", h.DenyRequest)
	})

	r.Route("/kiosk", func(r chi.Router) {
		r.Use(apimw.RequireRole(secret, domain.RoleKiosk, domain.RoleStaff))
		r.With(kioskLimiter.Middleware()).Post("/walkins", h.CreateWalkIn)
		r.Post("/requests/{id}/checkin", h.CheckIn)
		r.Post("/requests/{id}/checkout", h.CheckOut)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(apimw.RequireRole(secret))
		r.Get("/requests", h.ListAllRequests)
		r.Patch("/requests/{id}", h.UpdateRequest)
		r.Get("/requests/{id}/audit", h.AuditTrail)
		r.Post("/passes", h.IssuePass)
		r.Get("/passes", h.ListPasses)
		r.Delete("/passes/{id}", h.RevokePass)
		r.Get("/codes", h.ListActiveCodes)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// Recovery pass: re-arm persisted auto-deny deadlines.
		return sched.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting visitor-gate API", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down visitor-gate API...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("visitor-gate API exited with error", "error", err)
		os.Exit(1)
	}
}
