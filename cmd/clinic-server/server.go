package main

import (
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/dispensary/internal/config"
	"github.com/clinic/dispensary/internal/domain/billing"
	"github.com/clinic/dispensary/internal/domain/dispensing"
	"github.com/clinic/dispensary/internal/domain/dosing"
	"github.com/clinic/dispensary/internal/domain/inventory"
	"github.com/clinic/dispensary/internal/domain/patient"
	"github.com/clinic/dispensary/internal/domain/prescription"
	"github.com/clinic/dispensary/internal/domain/queue"
	"github.com/clinic/dispensary/internal/platform/auth"
	"github.com/clinic/dispensary/internal/platform/db"
	"github.com/clinic/dispensary/internal/platform/middleware"
	"github.com/clinic/dispensary/internal/platform/outbox"
	"github.com/clinic/dispensary/internal/platform/result"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

const version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if cfg != nil {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

// services holds every domain service the HTTP layer and the CLI commands
// share.
type services struct {
	patients      *patient.Service
	queue         *queue.Service
	inventory     *inventory.Service
	prescriptions *prescription.Service
	billing       *billing.Service
	dispensing    *dispensing.Service
}

func newInventoryService(pool *pgxpool.Pool, tx db.Transactor, logger zerolog.Logger) *inventory.Service {
	return inventory.NewService(
		inventory.NewDrugRepoPG(pool),
		inventory.NewBrandRepoPG(pool),
		inventory.NewBatchRepoPG(pool),
		inventory.NewBatchHistoryRepoPG(pool),
		tx,
		logger,
	)
}

func newServices(pool *pgxpool.Pool, ob *outbox.RepoPG, logger zerolog.Logger) *services {
	tx := db.NewTransactor(pool)

	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	queueSvc := queue.NewService(queue.NewRepoPG(pool), patientSvc, logger)
	invSvc := newInventoryService(pool, tx, logger)

	rxRepo := prescription.NewRepoPG(pool)
	rxSvc := prescription.NewService(
		rxRepo,
		prescription.NewHistoryRepoPG(pool),
		invSvc,
		patientSvc,
		queueSvc,
		ob,
		tx,
		logger,
	)

	billRepo := billing.NewBillRepoPG(pool)
	billSvc := billing.NewService(billRepo, billing.NewChargeRepoPG(pool), rxRepo, invSvc, tx, logger)
	dispSvc := dispensing.NewService(rxRepo, billRepo, invSvc.Batches(), queueSvc, ob, tx, logger)

	return &services{
		patients:      patientSvc,
		queue:         queueSvc,
		inventory:     invSvc,
		prescriptions: rxSvc,
		billing:       billSvc,
		dispensing:    dispSvc,
	}
}

// attach wires the realtime hub into every service that broadcasts.
func (s *services) attach(hub *websocket.Hub) {
	s.queue.SetPublisher(hub)
	s.inventory.SetPublisher(hub)
	s.prescriptions.SetPublisher(hub)
	s.billing.SetPublisher(hub)
	s.dispensing.SetPublisher(hub)
}

// newServer builds the echo instance with global middleware, the /api/v1
// route tree, the websocket endpoint and the health check.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*echo.Echo, *services) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = result.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
			CookieName: cfg.SessionCookie,
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	e.GET("/health", db.HealthHandler(pool, version))

	svcs := newServices(pool, outbox.NewRepoPG(pool), logger)

	hub := websocket.NewHub(logger)
	svcs.attach(hub)
	websocket.NewHandler(hub, cfg.CORSOrigins, func(c echo.Context) string {
		return auth.UserIDFromContext(c.Request().Context())
	}).RegisterRoutes(apiV1)

	patient.NewHandler(svcs.patients).RegisterRoutes(apiV1)
	queue.NewHandler(svcs.queue).RegisterRoutes(apiV1)
	dosing.NewHandler().RegisterRoutes(apiV1)
	inventory.NewHandler(svcs.inventory).RegisterRoutes(apiV1)
	prescription.NewHandler(svcs.prescriptions).RegisterRoutes(apiV1)
	billing.NewHandler(svcs.billing).RegisterRoutes(apiV1)
	dispensing.NewHandler(svcs.dispensing).RegisterRoutes(apiV1)

	return e, svcs
}
