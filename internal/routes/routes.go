package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/stagllc/staginfra/internal/auth"
	"github.com/stagllc/staginfra/internal/handlers"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	costHandler *handlers.CostHandler,
	tokenManager *auth.TokenManager,
	users auth.UserFetcher,
) {
	// Public routes - no authentication required
	router.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Get("/verify", authHandler.VerifyEmail)
		r.Post("/resend-verification", authHandler.ResendVerification)
		r.Post("/refresh", authHandler.RefreshToken)
	})

	// Cost estimation is public; it holds no account data
	router.Get("/api/cost", costHandler.GetEstimate)
	router.Post("/api/cost", costHandler.EstimateCost)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Post("/api/auth/logout-all", authHandler.LogoutAll)

		// Admin-only routes: role is re-checked against the store, not
		// trusted from token claims alone
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(users))
			r.Get("/api/admin/users", adminHandler.ListUsers)
			r.Post("/api/admin/users/{id}/verify", adminHandler.VerifyUser)
			r.Post("/api/admin/users/{id}/make-admin", adminHandler.MakeAdmin)
		})
	})
}
