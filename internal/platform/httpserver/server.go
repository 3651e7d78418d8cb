package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courier/internal/router"
	"courier/internal/stanza"
)

const maxStanzaBody = 1 << 20

// HealthChecker reports whether a backing resource is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StanzaIntake is the inbound stanza entry point the admin endpoint feeds.
type StanzaIntake func(ctx context.Context, st stanza.Stanza) error

// NewRouter builds the operational HTTP surface: liveness, metrics, and the
// admin stanza injection endpoint. The protocol itself never runs over HTTP.
func NewRouter(checks map[string]HealthChecker, intake StanzaIntake) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(ctx); err != nil {
				http.Error(w, name+": "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if intake != nil {
		r.Post("/v1/stanzas", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(io.LimitReader(req.Body, maxStanzaBody))
			if err != nil {
				http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
				return
			}
			st, err := stanza.Decode(body)
			if err != nil {
				http.Error(w, "decode stanza: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := intake(req.Context(), st); err != nil {
				if errors.Is(err, router.ErrMalformedTarget) {
					http.Error(w, err.Error(), http.StatusUnprocessableEntity)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	}
	return r
}

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
