package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/middleware"
	"github.com/mmeshcher/ticketline-system/internal/model"
	"github.com/mmeshcher/ticketline-system/internal/repository"
	"github.com/mmeshcher/ticketline-system/internal/validation"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	cartResp *model.CartView
	cartErr  error

	addItemErr error

	checkoutResp *repository.CheckoutResult
	checkoutErr  error

	createTicketResp *model.Ticket
	createTicketErr  error

	reservationsResp []model.ReservationDetail

	ticketResp *model.TicketDetail
	ticketErr  error

	invoicesResp []model.Invoice

	documentResp *model.InvoiceDocument
	documentErr  error
}

func (s *stubService) RegisterUser(ctx context.Context, email, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) ListMerchandise(ctx context.Context) ([]model.Merchandise, error) {
	return nil, nil
}

func (s *stubService) GetCart(ctx context.Context, userID int64) (*model.CartView, error) {
	return s.cartResp, s.cartErr
}

func (s *stubService) AddMerchandiseItem(ctx context.Context, userID, merchandiseID, qty int64, asReward bool) error {
	return s.addItemErr
}

func (s *stubService) UpdateItemQuantity(ctx context.Context, userID, itemID, newQty int64) error {
	return nil
}

func (s *stubService) RemoveItem(ctx context.Context, userID, itemID int64) error { return nil }

func (s *stubService) AddTicketItem(ctx context.Context, userID, ticketID int64) error { return nil }

func (s *stubService) RemoveTicketItem(ctx context.Context, userID, ticketID int64) error {
	return nil
}

func (s *stubService) Checkout(ctx context.Context, userID int64, method string, detail validation.PaymentDetail) (*repository.CheckoutResult, error) {
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) CreateTicket(ctx context.Context, eventID, seatID int64) (*model.Ticket, error) {
	return s.createTicketResp, s.createTicketErr
}

func (s *stubService) ReserveTickets(ctx context.Context, userID int64, ticketIDs []int64) (*model.Reservation, error) {
	return &model.Reservation{ID: 1, Number: "R-abc"}, nil
}

func (s *stubService) PurchaseTickets(ctx context.Context, userID int64, ticketIDs []int64, method string, detail validation.PaymentDetail) (int64, error) {
	return 1, nil
}

func (s *stubService) CancelTickets(ctx context.Context, userID int64, ticketIDs []int64) error {
	return nil
}

func (s *stubService) FindTicket(ctx context.Context, userID, ticketID int64) (*model.TicketDetail, error) {
	return s.ticketResp, s.ticketErr
}

func (s *stubService) FindReservation(ctx context.Context, userID, reservationID int64) (*model.ReservationDetail, error) {
	return nil, nil
}

func (s *stubService) FindReservations(ctx context.Context, userID int64) ([]model.ReservationDetail, error) {
	return s.reservationsResp, nil
}

func (s *stubService) CreateCreditInvoice(ctx context.Context, userID int64, ticketIDs []int64) (int64, error) {
	return 1, nil
}

func (s *stubService) GetInvoices(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return s.invoicesResp, nil
}

func (s *stubService) GetCreditInvoices(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return nil, nil
}

func (s *stubService) GetInvoiceDocument(ctx context.Context, userID, invoiceID int64) (*model.InvoiceDocument, error) {
	return s.documentResp, s.documentErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

// requestWithURLParam добавляет параметр маршрута chi в контекст запроса.
func requestWithURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// authedRequest прогоняет запрос через auth middleware с cookie пользователя 1.
func authedRequest(h *Handler, handlerFunc http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	cookieRec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(cookieRec, 1)
	req.AddCookie(cookieRec.Result().Cookies()[0])

	rec := httptest.NewRecorder()
	h.authMiddleware.Middleware(handlerFunc).ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Email:    "user@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("register must set auth cookie")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Email:    "user@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: errors.New("invalid credentials"),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Email:    "user@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetCart_JSONResponse(t *testing.T) {
	svc := &stubService{
		cartResp: &model.CartView{
			Items: []model.CartItem{
				{
					ID:   1,
					Kind: model.CartItemMerchandise,
					Merchandise: &model.CartMerchandiseLine{
						MerchandiseID: 7,
						Name:          "Tour T-Shirt",
						UnitCents:     1000,
						Quantity:      2,
					},
				},
			},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/cart", nil)
	rec := authedRequest(h, h.GetCart, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp cartResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode cart response: %v", err)
	}
	if resp.Total != 20 {
		t.Fatalf("cart total = %v, want 20", resp.Total)
	}
	if len(resp.Items) != 1 || resp.Items[0].Name != "Tour T-Shirt" {
		t.Fatalf("unexpected cart items: %+v", resp.Items)
	}
}

func TestAddCartItem_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{name: "insufficient stock", serviceErr: apperr.ErrInsufficientStock, wantStatus: http.StatusUnprocessableEntity},
		{name: "not regular customer", serviceErr: apperr.ErrNotRegularCustomer, wantStatus: http.StatusUnprocessableEntity},
		{name: "merchandise not found", serviceErr: apperr.ErrMerchandiseNotFound, wantStatus: http.StatusNotFound},
		{name: "internal error", serviceErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{addItemErr: tt.serviceErr}
			h := newTestHandler(t, svc)

			body, _ := json.Marshal(addItemRequest{MerchandiseID: 1, Quantity: 1})
			req := httptest.NewRequest(http.MethodPost, "/api/user/cart/items", bytes.NewReader(body))
			rec := authedRequest(h, h.AddCartItem, req)

			if rec.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestCreateTicket_SeatTakenConflict(t *testing.T) {
	svc := &stubService{
		createTicketErr: apperr.ErrSeatTaken,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createTicketRequest{EventID: 1, SeatID: 2})
	req := httptest.NewRequest(http.MethodPost, "/api/user/tickets", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateTicket(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestGetTicket_ForbiddenForForeignTicket(t *testing.T) {
	svc := &stubService{
		ticketErr: apperr.ErrNotOwner,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/tickets/5", nil)
	rec := authedRequest(h, func(w http.ResponseWriter, r *http.Request) {
		r = requestWithURLParam(r, "ticketID", "5")
		h.GetTicket(w, r)
	}, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestGetReservations_NoContent(t *testing.T) {
	svc := &stubService{
		reservationsResp: []model.ReservationDetail{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/reservations", nil)
	rec := authedRequest(h, h.GetReservations, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestCheckout_ReturnsInvoiceIDs(t *testing.T) {
	merchID := int64(10)
	ticketID := int64(11)
	svc := &stubService{
		checkoutResp: &repository.CheckoutResult{
			MerchandiseInvoiceID: &merchID,
			TicketInvoiceID:      &ticketID,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentRequest{PaymentMethod: validation.PaymentPayPal})
	req := httptest.NewRequest(http.MethodPost, "/api/user/cart/checkout", bytes.NewReader(body))
	rec := authedRequest(h, h.Checkout, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp checkoutResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if resp.MerchandiseInvoiceID == nil || *resp.MerchandiseInvoiceID != merchID {
		t.Fatalf("unexpected merchandise invoice id: %+v", resp.MerchandiseInvoiceID)
	}
	if resp.TicketInvoiceID == nil || *resp.TicketInvoiceID != ticketID {
		t.Fatalf("unexpected ticket invoice id: %+v", resp.TicketInvoiceID)
	}
}

func TestCheckout_EmptyCartUnprocessable(t *testing.T) {
	svc := &stubService{
		checkoutErr: apperr.ErrEmptyCart,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentRequest{PaymentMethod: validation.PaymentPayPal})
	req := httptest.NewRequest(http.MethodPost, "/api/user/cart/checkout", bytes.NewReader(body))
	rec := authedRequest(h, h.Checkout, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}
