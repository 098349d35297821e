package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"recipestore/internal/chef"
	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/metrics"
	"recipestore/internal/middleware"
	"recipestore/internal/security"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(metrics.Middleware)
	r.Use(security.CORS(s.cfg.Server.AllowedOrigin))
	r.Use(middleware.ErrorHandling)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		logger.LogInfo("404 not found: %s", r.URL.Path)
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Route not found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", r.Method)
	})

	r.Get("/healthz", healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Websocket streams outlive the request timeout.
		r.With(middleware.RequireStreamAuth).Get("/support/conversations/{id}/ws", s.support.StreamHandler)

		r.Group(func(r chi.Router) {
			r.Use(withTimeout(requestTimeout))
			s.apiRoutes(r)
		})
	})

	return r
}

func (s *Server) apiRoutes(r chi.Router) {
	// Public
	r.Get("/plans", s.Catalog.PlansHandler)
	r.Post("/payos-webhook", s.webhooks.ServeHTTP)
	r.Get("/checkout/return", s.payments.ReturnHandler)
	r.Get("/chefs", chef.ListHandler)
	r.Get("/chefs/{id}", chef.GetHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth)
		r.Get("/dishes", s.dishes.ListHandler)
		r.Get("/dishes/{slug}", s.dishes.GetHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authLimiter.Middleware)
		r.Post("/auth/register", s.accounts.RegisterHandler)
		r.Post("/auth/login", s.accounts.LoginHandler)
	})

	// Signed in
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Post("/auth/logout", s.accounts.LogoutHandler)
		r.Get("/me", s.accounts.MeHandler)
		r.Get("/me/favorites", s.dishes.FavoritesHandler)
		r.Post("/dishes/{slug}/favorite", s.dishes.AddFavoriteHandler)
		r.Delete("/dishes/{slug}/favorite", s.dishes.RemoveFavoriteHandler)

		r.With(s.checkoutLimiter.Middleware).Post("/checkout", s.payments.CheckoutHandler)
		r.Get("/orders", s.payments.ListOrdersHandler)
		r.Get("/orders/{orderCode}", s.payments.GetOrderHandler)
		r.Post("/orders/{orderCode}/cancel", s.payments.CancelOrderHandler)

		r.Post("/chef/apply", chef.ApplyHandler)

		r.Post("/support/conversations", s.support.CreateHandler)
		r.Get("/support/conversations", s.support.ListHandler)
		r.Get("/support/conversations/{id}/messages", s.support.MessagesHandler)
		r.Post("/support/conversations/{id}/messages", s.support.PostHandler)

		r.Route("/chef/dishes", func(r chi.Router) {
			r.Use(middleware.RequireRole(data.RoleChef))
			r.Get("/", s.dishes.MineHandler)
			r.Post("/", s.dishes.CreateHandler)
			r.Put("/{id}", s.dishes.UpdateHandler)
			r.Delete("/{id}", s.dishes.DeleteHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(data.RoleAdmin))

			r.Get("/dishes", s.admin.ListDishesHandler)
			r.Post("/dishes/{id}/approve", s.admin.ApproveDishHandler)
			r.Post("/dishes/{id}/reject", s.admin.RejectDishHandler)

			r.Get("/chef-applications", s.admin.ListApplicationsHandler)
			r.Post("/chef-applications/{id}/approve", s.admin.ApproveApplicationHandler)
			r.Post("/chef-applications/{id}/reject", s.admin.RejectApplicationHandler)

			r.Get("/users", s.admin.ListUsersHandler)
			r.Post("/users/{id}/role", s.admin.SetRoleHandler)
			r.Post("/users/{id}/ban", s.admin.BanHandler)
			r.Post("/users/{id}/unban", s.admin.UnbanHandler)

			r.Get("/stats", s.admin.StatsHandler)

			r.Get("/support/conversations", s.support.AdminListHandler)
			r.Post("/support/conversations/{id}/messages", s.support.PostHandler)
			r.Post("/support/conversations/{id}/close", s.support.CloseHandler)
		})
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	if err := data.Ping(r.Context()); err != nil {
		logger.LogError("Health check failed: %v", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// withTimeout bounds handler run time.
func withTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.TimeoutHandler(h, timeout, `{"code":"timeout","message":"Request timed out"}`)
	}
}
