package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/ticketline-system/internal/middleware"
	"github.com/mmeshcher/ticketline-system/internal/model"
)

type createTicketRequest struct {
	EventID int64 `json:"event_id"`
	SeatID  int64 `json:"seat_id"`
}

type ticketResponse struct {
	ID                int64   `json:"id"`
	EventID           int64   `json:"event_id"`
	SeatID            int64   `json:"seat_id"`
	Net               float64 `json:"net"`
	Tax               float64 `json:"tax"`
	Gross             float64 `json:"gross"`
	EventName         string  `json:"event_name,omitempty"`
	EventDate         string  `json:"event_date,omitempty"`
	Seat              string  `json:"seat,omitempty"`
	ReservationNumber *string `json:"reservation_number,omitempty"`
	InvoiceNumber     *string `json:"invoice_number,omitempty"`
}

func ticketDetailToResponse(d *model.TicketDetail) ticketResponse {
	return ticketResponse{
		ID:                d.Ticket.ID,
		EventID:           d.Ticket.EventID,
		SeatID:            d.Ticket.SeatID,
		Net:               money(d.Ticket.NetCents),
		Tax:               money(d.Ticket.TaxCents),
		Gross:             money(d.Ticket.GrossCents),
		EventName:         d.EventName,
		EventDate:         d.EventDate.Format(time.RFC3339),
		Seat:              d.SeatLabel,
		ReservationNumber: d.ReservationNumber,
		InvoiceNumber:     d.InvoiceNumber,
	}
}

// CreateTicket создаёт свободный билет на пару (событие, место).
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ticket, err := h.service.CreateTicket(r.Context(), req.EventID, req.SeatID)
	if err != nil {
		h.writeError(w, err, "create ticket error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(ticketResponse{
		ID:      ticket.ID,
		EventID: ticket.EventID,
		SeatID:  ticket.SeatID,
		Net:     money(ticket.NetCents),
		Tax:     money(ticket.TaxCents),
		Gross:   money(ticket.GrossCents),
	}); err != nil {
		h.logger.Error("encode ticket response error")
	}
}

// GetTicket возвращает билет текущего пользователя.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ticketID, err := strconv.ParseInt(chi.URLParam(r, "ticketID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	detail, err := h.service.FindTicket(r.Context(), userID, ticketID)
	if err != nil {
		h.writeError(w, err, "get ticket error")
		return
	}

	writeJSON(w, ticketDetailToResponse(detail))
}

type ticketIDsRequest struct {
	TicketIDs []int64 `json:"ticket_ids"`
}

type reservationResponse struct {
	ID        int64            `json:"id"`
	Number    string           `json:"number"`
	CreatedAt string           `json:"created_at"`
	Tickets   []ticketResponse `json:"tickets,omitempty"`
}

// ReserveTickets создаёт бронь на указанные билеты.
func (h *Handler) ReserveTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req ticketIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ReserveTickets(r.Context(), userID, req.TicketIDs)
	if err != nil {
		h.writeError(w, err, "reserve tickets error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(reservationResponse{
		ID:        res.ID,
		Number:    res.Number,
		CreatedAt: res.CreatedAt.Format(time.RFC3339),
	}); err != nil {
		h.logger.Error("encode reservation response error")
	}
}

type purchaseRequest struct {
	TicketIDs []int64 `json:"ticket_ids"`
	paymentRequest
}

type invoiceIDResponse struct {
	InvoiceID int64 `json:"invoice_id"`
}

// PurchaseTickets покупает указанные билеты и возвращает идентификатор счёта.
func (h *Handler) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	invoiceID, err := h.service.PurchaseTickets(r.Context(), userID, req.TicketIDs, req.PaymentMethod, req.detail())
	if err != nil {
		h.writeError(w, err, "purchase tickets error")
		return
	}

	writeJSON(w, invoiceIDResponse{InvoiceID: invoiceID})
}

// CancelTickets снимает бронь и уничтожает неоплаченные билеты.
func (h *Handler) CancelTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req ticketIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelTickets(r.Context(), userID, req.TicketIDs); err != nil {
		h.writeError(w, err, "cancel tickets error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func reservationDetailToResponse(d *model.ReservationDetail) reservationResponse {
	tickets := make([]ticketResponse, 0, len(d.Tickets))
	for i := range d.Tickets {
		tickets = append(tickets, ticketDetailToResponse(&d.Tickets[i]))
	}

	return reservationResponse{
		ID:        d.Reservation.ID,
		Number:    d.Reservation.Number,
		CreatedAt: d.Reservation.CreatedAt.Format(time.RFC3339),
		Tickets:   tickets,
	}
}

// GetReservation возвращает бронь текущего пользователя с её билетами.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	reservationID, err := strconv.ParseInt(chi.URLParam(r, "reservationID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	detail, err := h.service.FindReservation(r.Context(), userID, reservationID)
	if err != nil {
		h.writeError(w, err, "get reservation error")
		return
	}

	writeJSON(w, reservationDetailToResponse(detail))
}

// GetReservations возвращает все брони текущего пользователя.
func (h *Handler) GetReservations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	details, err := h.service.FindReservations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get reservations error")
		return
	}

	if len(details) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]reservationResponse, 0, len(details))
	for i := range details {
		resp = append(resp, reservationDetailToResponse(&details[i]))
	}

	writeJSON(w, resp)
}
