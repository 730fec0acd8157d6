// Package api exposes the read-only HTTP front-end: chain listing, single
// chain lookup, and multi-address transaction history.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Fantasim/chaingate/internal/api/middleware"
	"github.com/Fantasim/chaingate/internal/client"
)

// NewRouter builds the HTTP router over the dispatcher.
func NewRouter(c *client.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogging)

	r.Get("/blockchains", GetBlockchainsHandler(c))
	r.Get("/blockchains/{blockchainID}", GetBlockchainHandler(c))
	r.Get("/transactions", GetTransactionsHandler(c))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
