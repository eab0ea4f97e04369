package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/config"
	"github.com/brightpath-ed/safeguard-api/internal/database"
	"github.com/brightpath-ed/safeguard-api/internal/handler"
	"github.com/brightpath-ed/safeguard-api/internal/middleware"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
	"github.com/brightpath-ed/safeguard-api/internal/router"
	"github.com/brightpath-ed/safeguard-api/internal/service"
	"github.com/brightpath-ed/safeguard-api/pkg/envelope"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.ConsentRecord{},
		&models.StudentAccount{},
		&models.EncryptedEmergencyContact{},
		&models.WrappedKey{},
		&models.DualAuthRequest{},
		&models.DualAuthApproval{},
		&models.AuditEvent{},
		&models.SafetyReport{},
		&models.EscalationProcedure{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	protector, err := envelope.NewProtector([]byte(cfg.MasterKey))
	if err != nil {
		log.Fatalf("failed to initialise key protection: %v", err)
	}

	notifier := service.NewLogNotifier(logger)
	if cfg.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, falling back to log notifications")
		} else {
			defer natsConn.Drain()
			notifier = service.NewNATSNotifier(natsConn, logger)
		}
	}

	submitter := service.NewLogSubmitter(logger)
	if cfg.ReportingEndpoint != "" {
		submitter = service.NewHTTPSubmitter(cfg.ReportingEndpoint, nil, logger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	consentRepo := repository.NewConsentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	contactRepo := repository.NewContactRepository(db)
	keyRepo := repository.NewKeyRepository(db)
	dualAuthRepo := repository.NewDualAuthRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	reportRepo := repository.NewReportRepository(db)

	auditService := service.NewAuditService(auditRepo, logger)
	consentService := service.NewConsentService(consentRepo, auditService, notifier, redisClient, validate, service.ConsentConfig{
		RequestWindow:    cfg.ConsentWindow,
		ApprovalValidity: cfg.ConsentValidity,
		RenewalValidity:  cfg.RenewalValidity,
		SweepInterval:    cfg.SweepInterval,
	}, logger)
	dualAuthService := service.NewDualAuthService(dualAuthRepo, auditService, redisClient, validate, logger)
	contactService := service.NewContactService(contactRepo, keyRepo, dualAuthService, auditService, protector, validate, logger)
	reportService := service.NewReportService(reportRepo, auditService, notifier, submitter, service.DefaultReportPolicy(), service.ReportConfig{
		SubmitRetries: cfg.ReportRetries,
		RetryBackoff:  cfg.ReportRetryDelay,
	}, validate, logger)
	gateService := service.NewAccessGateService(studentRepo, consentService, auditService, logger)
	seedService := service.NewSeedService(studentRepo, cfg.SeedEnabled, cfg.SeedToken, logger)

	consentHandler := handler.NewConsentHandler(consentService, validate, logger)
	contactHandler := handler.NewContactHandler(contactService, validate, logger)
	dualAuthHandler := handler.NewDualAuthHandler(dualAuthService, validate, logger)
	reportHandler := handler.NewReportHandler(reportService, validate, logger)
	auditHandler := handler.NewAuditHandler(auditService, validate, logger)
	seedHandler := handler.NewSeedHandler(seedService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ConsentHandler:  consentHandler,
		ContactHandler:  contactHandler,
		DualAuthHandler: dualAuthHandler,
		ReportHandler:   reportHandler,
		AuditHandler:    auditHandler,
		SeedHandler:     seedHandler,
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
		ConsentGate:     middleware.ConsentGate(gateService, logger),
	})

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	consentService.Start(sweepCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
