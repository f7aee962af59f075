// Package handler содержит HTTP-обработчики API билетного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/middleware"
	"github.com/mmeshcher/ticketline-system/internal/model"
	"github.com/mmeshcher/ticketline-system/internal/repository"
	"github.com/mmeshcher/ticketline-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (int64, error)

	ListMerchandise(ctx context.Context) ([]model.Merchandise, error)

	GetCart(ctx context.Context, userID int64) (*model.CartView, error)
	AddMerchandiseItem(ctx context.Context, userID, merchandiseID, qty int64, asReward bool) error
	UpdateItemQuantity(ctx context.Context, userID, itemID, newQty int64) error
	RemoveItem(ctx context.Context, userID, itemID int64) error
	AddTicketItem(ctx context.Context, userID, ticketID int64) error
	RemoveTicketItem(ctx context.Context, userID, ticketID int64) error
	Checkout(ctx context.Context, userID int64, method string, detail validation.PaymentDetail) (*repository.CheckoutResult, error)

	CreateTicket(ctx context.Context, eventID, seatID int64) (*model.Ticket, error)
	ReserveTickets(ctx context.Context, userID int64, ticketIDs []int64) (*model.Reservation, error)
	PurchaseTickets(ctx context.Context, userID int64, ticketIDs []int64, method string, detail validation.PaymentDetail) (int64, error)
	CancelTickets(ctx context.Context, userID int64, ticketIDs []int64) error
	FindTicket(ctx context.Context, userID, ticketID int64) (*model.TicketDetail, error)
	FindReservation(ctx context.Context, userID, reservationID int64) (*model.ReservationDetail, error)
	FindReservations(ctx context.Context, userID int64) ([]model.ReservationDetail, error)

	CreateCreditInvoice(ctx context.Context, userID int64, ticketIDs []int64) (int64, error)
	GetInvoices(ctx context.Context, userID int64) ([]model.Invoice, error)
	GetCreditInvoices(ctx context.Context, userID int64) ([]model.Invoice, error)
	GetInvoiceDocument(ctx context.Context, userID, invoiceID int64) (*model.InvoiceDocument, error)
}

// Handler реализует HTTP-обработчики API билетного сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// money конвертирует центы в денежные единицы для JSON-ответов.
func money(cents int64) float64 {
	return float64(cents) / 100
}

// writeError переводит доменную ошибку в HTTP-статус. Порядок проверок
// важен: конкретные базовые ошибки идут раньше общей валидации.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperr.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, apperr.ErrAccessDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, apperr.ErrValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type merchandiseResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Remaining   int64   `json:"remaining"`
	Redeemable  bool    `json:"redeemable"`
	PointsPrice int64   `json:"points_price,omitempty"`
}

// ListMerchandise возвращает каталог товаров.
func (h *Handler) ListMerchandise(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListMerchandise(r.Context())
	if err != nil {
		h.logger.Error("list merchandise error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]merchandiseResponse, 0, len(items))
	for _, m := range items {
		resp = append(resp, merchandiseResponse{
			ID:          m.ID,
			Name:        m.Name,
			Price:       money(m.PriceCents),
			Remaining:   m.Remaining,
			Redeemable:  m.Redeemable,
			PointsPrice: m.PointsPrice,
		})
	}

	writeJSON(w, resp)
}
