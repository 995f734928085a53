package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/booking"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/labtest"
	"github.com/clinic/clinic/internal/domain/payment"
	"github.com/clinic/clinic/internal/domain/report"
	"github.com/clinic/clinic/internal/jobs"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/gateway"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
)

const version = "0.1.0"

// AppointmentSourceAdapter adapts the booking service to the
// payment.BookingSource interface, avoiding circular imports between the
// payment and booking packages.
type AppointmentSourceAdapter struct {
	svc *booking.Service
}

func (a *AppointmentSourceAdapter) PaymentInfo(ctx context.Context, bookingID uuid.UUID) (*payment.BookingInfo, error) {
	info, err := a.svc.PaymentInfo(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &payment.BookingInfo{
		Amount:    info.Amount,
		PatientID: info.PatientID,
		Name:      info.Name,
		Phone:     info.Phone,
		Reference: info.Reference,
	}, nil
}

func (a *AppointmentSourceAdapter) AttachPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	return a.svc.AttachPayment(ctx, bookingID, paymentID)
}

// TestSourceAdapter adapts the lab test service to payment.BookingSource.
type TestSourceAdapter struct {
	svc *labtest.Service
}

func (a *TestSourceAdapter) PaymentInfo(ctx context.Context, bookingID uuid.UUID) (*payment.BookingInfo, error) {
	info, err := a.svc.PaymentInfo(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &payment.BookingInfo{
		Amount:    info.Amount,
		PatientID: info.PatientID,
		Name:      info.Name,
		Phone:     info.Phone,
		Reference: info.Reference,
	}, nil
}

func (a *TestSourceAdapter) AttachPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	return a.svc.AttachPayment(ctx, bookingID, paymentID)
}

// LabBookingAdapter adapts the lab test service to report.BookingDirectory.
type LabBookingAdapter struct {
	svc *labtest.Service
}

func (a *LabBookingAdapter) BookingPatient(ctx context.Context, bookingID uuid.UUID) (*uuid.UUID, error) {
	b, err := a.svc.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return b.PatientID, nil
}

func (a *LabBookingAdapter) CompleteWithReport(ctx context.Context, bookingID, reportID uuid.UUID) error {
	return a.svc.CompleteWithReport(ctx, bookingID, reportID)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic operations API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// tokenCmd mints a signed JWT for local testing against a dev server.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			id := uuid.New()
			if subject != "" {
				if id, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("--subject must be a uuid: %w", err)
				}
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), id, strings.Split(roles, ","), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "User id (defaults to a fresh uuid)")
	cmd.Flags().String("roles", auth.RolePatient, "Comma-separated roles")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.InTx(ctx, pool, fn)
	}

	// Notifications
	sender := notification.NewHTTPSender(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSSenderID)
	dispatcher := notification.NewDispatcher(sender, logger, cfg.NotifyQueueSize)
	defer dispatcher.Close()

	// Payment gateway
	gw := gateway.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret,
		time.Duration(cfg.GatewayTimeoutSec)*time.Second)

	// Domain services
	identitySvc := identity.NewService(identity.NewPatientRepoPG(pool), identity.NewDoctorRepoPG(pool))
	bookingSvc := booking.NewService(booking.NewRepoPG(pool), identitySvc, identitySvc, dispatcher)
	labtestSvc := labtest.NewService(labtest.NewCatalogRepoPG(pool), labtest.NewBookingRepoPG(pool), identitySvc, inTx, dispatcher)
	paymentSvc := payment.NewService(payment.NewRepoPG(pool), gw, inTx,
		map[payment.BookingKind]payment.BookingSource{
			payment.KindAppointment: &AppointmentSourceAdapter{svc: bookingSvc},
			payment.KindTest:        &TestSourceAdapter{svc: labtestSvc},
		},
		cfg.RazorpayKeyID, cfg.RazorpayKeySecret, dispatcher)
	reportSvc := report.NewService(report.NewRepoPG(pool), &LabBookingAdapter{svc: labtestSvc}, inTx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutSec) * time.Second))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Guest surface: no auth, rate limited harder than the rest.
	public := e.Group("/api/v1/public")
	public.Use(middleware.RateLimit(rateLimitCfg))

	// Authenticated surface
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.IsDev() && cfg.JWTSecret == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	// Handlers
	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterRoutes(apiV1)

	bookingHandler := booking.NewHandler(bookingSvc)
	bookingHandler.RegisterRoutes(apiV1)
	bookingHandler.RegisterPublicRoutes(public)

	labtestHandler := labtest.NewHandler(labtestSvc)
	labtestHandler.RegisterRoutes(apiV1)
	labtestHandler.RegisterPublicRoutes(public)

	paymentHandler := payment.NewHandler(paymentSvc)
	paymentHandler.RegisterRoutes(apiV1)
	paymentHandler.RegisterPublicRoutes(public)

	reportHandler := report.NewHandler(reportSvc)
	reportHandler.RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Background jobs
	scheduler := jobs.NewScheduler()
	if err := scheduler.AddReconcile(cfg.ReconcileCron, paymentSvc); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.ReconcileCron).Msg("invalid reconcile schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
