package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/ticketline-system/internal/middleware"
	"github.com/mmeshcher/ticketline-system/internal/model"
	"github.com/mmeshcher/ticketline-system/internal/render"
)

type invoiceResponse struct {
	ID             int64   `json:"id"`
	Number         string  `json:"number"`
	Kind           string  `json:"kind"`
	Net            float64 `json:"net"`
	Tax            float64 `json:"tax"`
	Gross          float64 `json:"gross"`
	IssuedAt       string  `json:"issued_at"`
	OriginalNumber *string `json:"original_number,omitempty"`
	OriginalDate   *string `json:"original_date,omitempty"`
	CancelledAt    *string `json:"cancelled_at,omitempty"`
}

func invoiceToResponse(inv *model.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:             inv.ID,
		Number:         inv.Number,
		Kind:           string(inv.Kind),
		Net:            money(inv.NetCents),
		Tax:            money(inv.TaxCents),
		Gross:          money(inv.GrossCents),
		IssuedAt:       inv.IssuedAt.Format(time.RFC3339),
		OriginalNumber: inv.OriginalNumber,
	}
	if inv.OriginalDate != nil {
		s := inv.OriginalDate.Format(time.RFC3339)
		resp.OriginalDate = &s
	}
	if inv.CancelledAt != nil {
		s := inv.CancelledAt.Format(time.RFC3339)
		resp.CancelledAt = &s
	}
	return resp
}

func (h *Handler) writeInvoiceList(w http.ResponseWriter, invoices []model.Invoice) {
	if len(invoices) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		resp = append(resp, invoiceToResponse(&invoices[i]))
	}

	writeJSON(w, resp)
}

// GetInvoices возвращает счета текущего пользователя.
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	invoices, err := h.service.GetInvoices(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get invoices error")
		return
	}

	h.writeInvoiceList(w, invoices)
}

// GetCreditInvoices возвращает сторнирующие счета текущего пользователя.
func (h *Handler) GetCreditInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	invoices, err := h.service.GetCreditInvoices(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get credit invoices error")
		return
	}

	h.writeInvoiceList(w, invoices)
}

// CreateCreditInvoice сторнирует купленные билеты текущего пользователя.
func (h *Handler) CreateCreditInvoice(w http.ResponseWriter, r *http.Request) {
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

	invoiceID, err := h.service.CreateCreditInvoice(r.Context(), userID, req.TicketIDs)
	if err != nil {
		h.writeError(w, err, "create credit invoice error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(invoiceIDResponse{InvoiceID: invoiceID}); err != nil {
		h.logger.Error("encode credit invoice response error")
	}
}

// GetInvoiceDocument отдаёт текстовый документ счёта.
func (h *Handler) GetInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	doc, err := h.service.GetInvoiceDocument(r.Context(), userID, invoiceID)
	if err != nil {
		h.writeError(w, err, "get invoice document error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(render.InvoiceDocument(doc))); err != nil {
		h.logger.Error("write invoice document error")
	}
}
