package realtime

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatsync/internal/middleware"
)

const (
	authRateMax    = 30
	authRateWindow = time.Minute
)

// NewRouter собирает HTTP-поверхность шлюза: /health, /auth/*, /realtime.
// POST /auth/sign-in без учётных данных монтируется только при devSignIn; в боевом режиме
// сессии выдаёт identity-провайдер через общее хранилище сессий.
func NewRouter(h *Handler, corsOrigins []string, devSignIn bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(authRateMax, authRateWindow))
		if devSignIn {
			r.Post("/sign-in", h.SignIn)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(h.sessions))
			r.Post("/sign-out", h.SignOut)
			r.Get("/me", h.Me)
		})
	})

	r.With(middleware.SessionAuth(h.sessions)).Get("/realtime", h.ServeWS)
	return r
}
