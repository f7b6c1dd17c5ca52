package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the gateway endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	prefix := a.Config.Server.URLPrefix
	if prefix == "" {
		prefix = "/"
	}

	r.Route(prefix, func(r chi.Router) {
		r.Get("/info", a.handleInfo)

		r.Get("/authenticate", a.handleAuthenticateGet)
		r.Post("/authenticate", a.handleAuthenticatePost)

		r.Group(func(r chi.Router) {
			r.Use(a.RequireBearer)
			r.Post("/logout", a.handleLogout)
		})
	})

	return r
}
