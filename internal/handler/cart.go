package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/ticketline-system/internal/middleware"
	"github.com/mmeshcher/ticketline-system/internal/model"
	"github.com/mmeshcher/ticketline-system/internal/validation"
)

type cartItemResponse struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"`

	MerchandiseID *int64   `json:"merchandise_id,omitempty"`
	Name          string   `json:"name,omitempty"`
	Quantity      *int64   `json:"quantity,omitempty"`
	UnitPrice     *float64 `json:"unit_price,omitempty"`

	TicketID  *int64 `json:"ticket_id,omitempty"`
	EventName string `json:"event_name,omitempty"`
	Seat      string `json:"seat,omitempty"`

	Total float64 `json:"total"`
}

type cartResponse struct {
	Items []cartItemResponse `json:"items"`
	Total float64            `json:"total"`
}

func cartToResponse(view *model.CartView) cartResponse {
	items := make([]cartItemResponse, 0, len(view.Items))
	for i := range view.Items {
		item := &view.Items[i]
		resp := cartItemResponse{
			ID:    item.ID,
			Kind:  string(item.Kind),
			Total: money(item.TotalCents()),
		}

		switch item.Kind {
		case model.CartItemMerchandise, model.CartItemReward:
			unit := money(item.Merchandise.UnitCents)
			resp.MerchandiseID = &item.Merchandise.MerchandiseID
			resp.Name = item.Merchandise.Name
			resp.Quantity = &item.Merchandise.Quantity
			resp.UnitPrice = &unit
		case model.CartItemTicket:
			resp.TicketID = &item.Ticket.TicketID
			resp.EventName = item.Ticket.EventName
			resp.Seat = item.Ticket.SeatLabel
		}

		items = append(items, resp)
	}

	return cartResponse{Items: items, Total: money(view.TotalCents())}
}

// GetCart возвращает снимок корзины текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	view, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get cart error")
		return
	}

	writeJSON(w, cartToResponse(view))
}

type addItemRequest struct {
	MerchandiseID int64 `json:"merchandise_id"`
	Quantity      int64 `json:"quantity"`
	Reward        bool  `json:"reward"`
}

// AddCartItem добавляет товарную или бонусную позицию в корзину.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddMerchandiseItem(r.Context(), userID, req.MerchandiseID, req.Quantity, req.Reward); err != nil {
		h.writeError(w, err, "add cart item error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type updateQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

// UpdateCartItem изменяет количество позиции; ноль удаляет её.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateItemQuantity(r.Context(), userID, itemID, req.Quantity); err != nil {
		h.writeError(w, err, "update cart item error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveCartItem удаляет товарную позицию из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveItem(r.Context(), userID, itemID); err != nil {
		h.writeError(w, err, "remove cart item error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type addTicketRequest struct {
	TicketID int64 `json:"ticket_id"`
}

// AddCartTicket кладёт билет в корзину текущего пользователя.
func (h *Handler) AddCartTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddTicketItem(r.Context(), userID, req.TicketID); err != nil {
		h.writeError(w, err, "add cart ticket error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveCartTicket убирает билет из корзины и снимает его бронь.
func (h *Handler) RemoveCartTicket(w http.ResponseWriter, r *http.Request) {
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

	if err := h.service.RemoveTicketItem(r.Context(), userID, ticketID); err != nil {
		h.writeError(w, err, "remove cart ticket error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type paymentRequest struct {
	PaymentMethod string `json:"payment_method"`
	CardNumber    string `json:"card_number,omitempty"`
	Expiry        string `json:"expiry,omitempty"`
	CVC           string `json:"cvc,omitempty"`
}

func (p *paymentRequest) detail() validation.PaymentDetail {
	return validation.PaymentDetail{
		CardNumber: p.CardNumber,
		Expiry:     p.Expiry,
		CVC:        p.CVC,
	}
}

type checkoutResponse struct {
	MerchandiseInvoiceID *int64 `json:"merchandise_invoice_id,omitempty"`
	TicketInvoiceID      *int64 `json:"ticket_invoice_id,omitempty"`
}

// Checkout оформляет корзину текущего пользователя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.Checkout(r.Context(), userID, req.PaymentMethod, req.detail())
	if err != nil {
		h.writeError(w, err, "checkout error")
		return
	}

	writeJSON(w, checkoutResponse{
		MerchandiseInvoiceID: result.MerchandiseInvoiceID,
		TicketInvoiceID:      result.TicketInvoiceID,
	})
}
