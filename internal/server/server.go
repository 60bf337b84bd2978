package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/shipsync/internal/shipment"
	"github.com/tournevent/shipsync/internal/telemetry"
	"github.com/tournevent/shipsync/internal/webhook"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the webhook payload read before signature verification.
const maxWebhookBody = 1 << 20

// Server is the HTTP server for the shipment service.
type Server struct {
	port            int
	requestTimeout  time.Duration
	signatureHeader string
	shipments       *shipment.Service
	reconciler      *webhook.Reconciler
	logger          *otelzap.Logger
	metrics         *telemetry.Metrics
	gatherer        prometheus.Gatherer
	checks          map[string]func(context.Context) error
}

// Config holds server configuration.
type Config struct {
	Port            int
	RequestTimeout  time.Duration
	SignatureHeader string
}

// Deps are the components the server exposes.
type Deps struct {
	Shipments  *shipment.Service
	Reconciler *webhook.Reconciler
	Logger     *otelzap.Logger
	Metrics    *telemetry.Metrics
	Gatherer   prometheus.Gatherer
	// Checks are run by /ready, keyed by dependency name.
	Checks map[string]func(context.Context) error
}

// New creates a new server instance.
func New(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Webhook-Signature"
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNopLogger()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		port:            cfg.Port,
		requestTimeout:  cfg.RequestTimeout,
		signatureHeader: cfg.SignatureHeader,
		shipments:       deps.Shipments,
		reconciler:      deps.Reconciler,
		logger:          deps.Logger,
		metrics:         deps.Metrics,
		gatherer:        deps.Gatherer,
		checks:          deps.Checks,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/health/provider", s.handleProviderHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// The provider must always get an answer, so no request timeout here.
	r.Post("/webhooks/provider", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Post("/shipments", s.handleCreateShipment)
		r.Get("/shipments/{id}", s.handleGetShipment)
		r.Patch("/shipments/{id}", s.handleUpdateShipment)
		r.Post("/shipments/{id}/cancel", s.handleCancelShipment)
		r.Get("/shipments/{id}/label", s.handleGetLabel)
		r.Get("/shipments/{id}/provider", s.handleProviderShipment)
		r.Get("/shipments/{id}/provider/status", s.handleOrderStatus)
		r.Get("/shipments/{id}/provider/history", s.handleOrderHistory)
		r.Get("/tracking/{trackingNumber}", s.handleTrackShipment)
		r.Post("/drivers/assign", s.handleAssignDriver)

		r.Get("/pickup-locations", s.handleListPickupLocations)
		r.Post("/pickup-locations", s.handleCreatePickupLocation)
		r.Put("/pickup-locations/{code}", s.handleUpdatePickupLocation)

		r.Post("/delivery-fees", s.handleCheckDeliveryFee)
		r.Post("/delivery-fees/contract", s.handleCheckContractDeliveryFee)
		r.Post("/delivery-fees/compare", s.handleQuoteDeliveryFees)

		r.Get("/delivery-companies", s.handleListDeliveryCompanies)
		r.Get("/delivery-companies/{code}/config", s.handleDeliveryCompanyConfig)
		r.Post("/delivery-companies/{code}/activate", s.handleActivateDeliveryCompany)

		r.Post("/wallet/credit", s.handleBuyCredit)
		r.Get("/wallet/balance", s.handleWalletBalance)
		r.Get("/account", s.handleAccountInfo)
	})

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.requestTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// instrument records request count and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(route, r.Method, status, time.Since(start).Seconds())
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Ctx(r.Context()).Error("Handler panicked",
					zap.Any("panic", p),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
					Code: "INTERNAL", Message: "internal error",
				}})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
