package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, limit *IPRateLimit, db Pinger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "db": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/checkout", handler.CreateCheckout)
		r.Post("/webhooks/{provider}", handler.Webhook)

		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit.Middleware)
			}
			r.Get("/status", handler.Status)
			r.Get("/orders/{orderId}/stream", handler.Stream)
		})

		r.Get("/orders/{orderId}", handler.GetOrder)
		r.Get("/orders/{orderId}/qr.png", handler.QRCode)
		r.Post("/orders/{orderId}/cancel", handler.Cancel)
		r.Post("/orders/{orderId}/proof", handler.UploadProof)
	})

	return &Server{Router: r}
}
