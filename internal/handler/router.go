package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/ticketline-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware билетного сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/merchandise", h.ListMerchandise)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Patch("/cart/items/{itemID}", h.UpdateCartItem)
			r.Delete("/cart/items/{itemID}", h.RemoveCartItem)
			r.Post("/cart/tickets", h.AddCartTicket)
			r.Delete("/cart/tickets/{ticketID}", h.RemoveCartTicket)
			r.Post("/cart/checkout", h.Checkout)

			r.Post("/tickets", h.CreateTicket)
			r.Get("/tickets/{ticketID}", h.GetTicket)
			r.Post("/tickets/purchase", h.PurchaseTickets)
			r.Post("/tickets/cancel", h.CancelTickets)

			r.Post("/reservations", h.ReserveTickets)
			r.Get("/reservations", h.GetReservations)
			r.Get("/reservations/{reservationID}", h.GetReservation)

			r.Get("/invoices", h.GetInvoices)
			r.Get("/invoices/credit", h.GetCreditInvoices)
			r.Post("/invoices/credit", h.CreateCreditInvoice)
			r.Get("/invoices/{invoiceID}/document", h.GetInvoiceDocument)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
