package control

import (
	"context"
	"net/http"
	"time"

	"go-sequencer/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

// NewRouter builds the full control router: request logging, request
// metrics, /metrics and the transport endpoints.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.log))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics))
		r.Get("/metrics", h.metrics.Handler(nil).ServeHTTP)
	}
	h.Routes(r)
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- errors.Wrapf(err, "control server on %s", addr)
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "control server shutdown")
	}
	return nil
}
