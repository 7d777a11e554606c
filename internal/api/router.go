package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Payment provider callback. The provider cannot hold operator
		// tokens, so this is gated by the per-device provider key
		// (?key= query parameter) instead of JWT.
		r.Post("/webhook/provider/{id}/{orderID}/{amount}", s.handleProviderWebhook)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Put("/provider-key", s.handleSetProviderKey)

					r.Get("/state", s.handleGetState)

					r.Route("/settings", func(r chi.Router) {
						r.Get("/", s.handleGetSettings)
						r.Put("/", s.handleUpdateSettings)
						r.Post("/request", s.handleRequestSettings)
						r.Get("/ack", s.handleGetSettingsAck)
					})

					r.Route("/config", func(r chi.Router) {
						r.Get("/", s.handleGetConfig)
						r.Put("/", s.handleUpdateConfig)
						r.Post("/request", s.handleRequestConfig)
						r.Get("/ack", s.handleGetConfigAck)
					})

					r.Route("/reboot", func(r chi.Router) {
						r.Post("/", s.handleReboot)
						r.Get("/ack", s.handleGetRebootAck)
					})

					r.Route("/display", func(r chi.Router) {
						r.Get("/", s.handleGetDisplay)
						r.Post("/request", s.handleRequestDisplay)
					})

					r.Get("/denominations", s.handleListDenominations)

					r.Route("/payment", func(r chi.Router) {
						r.Post("/qrcode", s.handleQRCodePayment)
						r.Post("/free", s.handleFreePayment)
						r.Post("/clear", s.handleClearPayment)
						r.Get("/ack", s.handleGetPaymentAck)
					})

					r.Route("/action", func(r chi.Router) {
						r.Post("/", s.handleSendAction)
						r.Get("/ack", s.handleGetActionAck)
					})

					r.Get("/sales", s.handleListSales)
					r.Post("/sales/{externalID}/resend-ack", s.handleResendSaleAck)
					r.Get("/collections", s.handleListCollections)
					r.Post("/collections/{externalID}/resend-ack", s.handleResendCollectionAck)
					r.Get("/payments", s.handleListPayments)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
