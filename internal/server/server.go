// Package server assembles the HTTP service and its background jobs.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"recipestore/internal/account"
	"recipestore/internal/admin"
	"recipestore/internal/catalog"
	"recipestore/internal/cleanup"
	"recipestore/internal/config"
	"recipestore/internal/dish"
	"recipestore/internal/events"
	"recipestore/internal/logger"
	"recipestore/internal/middleware"
	"recipestore/internal/payment"
	"recipestore/internal/support"
	"recipestore/internal/webhook"
)

const (
	requestTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server owns the HTTP handlers and the jobs that run beside them.
type Server struct {
	cfg *config.Config

	Catalog    *catalog.Service
	Fulfiller  *payment.Fulfiller
	Reconciler *payment.Reconciler
	Cleanup    *cleanup.Service
	Hub        *support.Hub

	accounts *account.Service
	payments *payment.Service
	webhooks *webhook.Handler
	dishes   *dish.Service
	admin    *admin.Service
	support  *support.Service

	authLimiter     *middleware.RateLimiter
	checkoutLimiter *middleware.RateLimiter

	handler       http.Handler
	connections   sync.WaitGroup
	totalRequests int64
}

// New wires every service from its dependencies.
func New(cfg *config.Config, cat *catalog.Service, gateway payment.Gateway, notifier payment.Notifier, pub events.Publisher) *Server {
	if pub == nil {
		pub = events.Nop{}
	}

	s := &Server{
		cfg:             cfg,
		Catalog:         cat,
		Hub:             support.NewHub(),
		authLimiter:     middleware.NewRateLimiter(cfg.RateLimit.Auth, middleware.ByClientIP),
		checkoutLimiter: middleware.NewRateLimiter(cfg.RateLimit.Checkout, middleware.ByToken),
	}

	s.Fulfiller = payment.NewFulfiller(cat, notifier, pub)
	s.Reconciler = payment.NewReconciler(gateway, s.Fulfiller)
	s.Cleanup = cleanup.NewService(cfg.Jobs.PendingOrderTTL, s.authLimiter, s.checkoutLimiter)

	s.accounts = account.NewService(cfg.Auth.SessionTTL)
	s.payments = payment.NewService(gateway, cat, s.Reconciler, cfg.PayOS)
	s.webhooks = webhook.NewHandler(cfg.PayOS.ChecksumKey, cfg.PayOS.Mock, s.Fulfiller)
	s.dishes = dish.NewService()
	s.admin = admin.NewService(cat, pub)
	s.support = support.NewService(s.Hub, pub, originPatterns(cfg.Server.AllowedOrigin)...)

	s.handler = s.routes()
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.trackConnections(s.handler)
}

// Run serves HTTP and runs the reconciliation and cleanup jobs until ctx is
// cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:        s.cfg.Addr(),
		Handler:     s.Handler(),
		ReadTimeout: requestTimeout,
		IdleTimeout: 60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.LogInfo("Starting server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.LogInfo("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Websocket connections are hijacked and not closed by Shutdown.
		s.Hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.LogError("Server shutdown error: %v", err)
		}

		logger.LogInfo("Waiting for active connections to finish...")
		s.connections.Wait()
		logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&s.totalRequests))
		return nil
	})

	g.Go(func() error {
		return s.Reconciler.Run(ctx, s.cfg.Jobs.ReconcileInterval)
	})

	g.Go(func() error {
		return s.Cleanup.Run(ctx, s.cfg.Jobs.CleanupInterval)
	})

	err := g.Wait()
	if err == nil {
		logger.LogInfo("Server shut down gracefully")
	}
	return err
}

// trackConnections counts in-flight and total requests.
func (s *Server) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.connections.Add(1)
		atomic.AddInt64(&s.totalRequests, 1)
		defer s.connections.Done()

		h.ServeHTTP(w, r)
	})
}

// TotalRequests returns the number of requests served so far.
func (s *Server) TotalRequests() int64 {
	return atomic.LoadInt64(&s.totalRequests)
}

// originPatterns turns the CORS origin into websocket origin host patterns.
func originPatterns(allowed string) []string {
	if allowed == "" || allowed == "*" {
		return []string{"*"}
	}
	if u, err := url.Parse(allowed); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{allowed}
}
