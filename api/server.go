/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*         Members, dashboards, purchases
  /api/tree/*          Network browser and moves
  /api/affiliations/*  Affiliation approval workflow
  /api/activations/*   Activation approval workflow
  /api/transfers       Wallet transfers

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  session handling belongs to the outer gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Member routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.Enroll)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/dashboard", h.GetDashboard)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/remaining", h.GetRemaining)
			r.Put("/{id}/points", h.SetPoints)
			r.Post("/{id}/affiliations", h.CreateAffiliation)
			r.Post("/{id}/activations", h.CreateActivation)
		})

		// Tree routes
		r.Route("/tree", func(r chi.Router) {
			r.Post("/move", h.Move)
			r.Get("/{identifier}", h.GetNode)
		})

		// Affiliation approval routes
		r.Route("/affiliations", func(r chi.Router) {
			r.Post("/{id}/approve", h.ApproveAffiliation)
			r.Post("/{id}/reject", h.RejectAffiliation)
			r.Post("/{id}/revert", h.RevertAffiliation)
		})

		// Activation approval routes
		r.Route("/activations", func(r chi.Router) {
			r.Post("/{id}/approve", h.ApproveActivation)
			r.Post("/{id}/reject", h.RejectActivation)
			r.Post("/{id}/revert", h.RevertActivation)
		})

		// Wallet routes
		r.Post("/transfers", h.Transfer)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Network Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Network Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><code>POST /api/users</code> - Enroll a member</li>
<li><code>GET /api/users/{id}/dashboard</code> - Member dashboard</li>
<li><code>GET /api/tree/{identifier}</code> - Browse the network</li>
<li><code>POST /api/affiliations/{id}/approve</code> - Approve a plan purchase</li>
</ul>
</body>
</html>`))
	})

	return r
}
