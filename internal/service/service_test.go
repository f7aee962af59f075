package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/model"
	"github.com/mmeshcher/ticketline-system/internal/repository"
	"github.com/mmeshcher/ticketline-system/internal/validation"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user@example.com", "pass")
	b := hashPassword("user@example.com", "pass")
	c := hashPassword("user@example.com", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	cart    *model.CartView
	cartErr error

	checkoutCalled bool
	checkoutResult *repository.CheckoutResult
	checkoutErr    error

	addMerchandiseCalled bool

	reservations []model.ReservationDetail
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) FindMerchandise(ctx context.Context, id int64) (*model.Merchandise, error) {
	return nil, nil
}

func (s *stubRepo) ListMerchandise(ctx context.Context) ([]model.Merchandise, error) {
	return nil, nil
}

func (s *stubRepo) FindEvent(ctx context.Context, id int64) (*model.Event, error) { return nil, nil }

func (s *stubRepo) FindSeat(ctx context.Context, id int64) (*model.Seat, error) { return nil, nil }

func (s *stubRepo) GetCart(ctx context.Context, userID int64) (*model.CartView, error) {
	return s.cart, s.cartErr
}

func (s *stubRepo) AddMerchandiseItem(ctx context.Context, userID, merchandiseID, qty int64, asReward bool) error {
	s.addMerchandiseCalled = true
	return nil
}

func (s *stubRepo) UpdateItemQuantity(ctx context.Context, userID, itemID, newQty int64) error {
	return nil
}

func (s *stubRepo) RemoveItem(ctx context.Context, userID, itemID int64) error { return nil }

func (s *stubRepo) AddTicketItem(ctx context.Context, userID, ticketID int64) error { return nil }

func (s *stubRepo) RemoveTicketItem(ctx context.Context, userID, ticketID int64) error { return nil }

func (s *stubRepo) Checkout(ctx context.Context, userID int64) (*repository.CheckoutResult, error) {
	s.checkoutCalled = true
	return s.checkoutResult, s.checkoutErr
}

func (s *stubRepo) CreateTicket(ctx context.Context, eventID, seatID int64) (*model.Ticket, error) {
	return nil, nil
}

func (s *stubRepo) ReserveTickets(ctx context.Context, userID int64, ticketIDs []int64) (*model.Reservation, error) {
	return &model.Reservation{ID: 1}, nil
}

func (s *stubRepo) PurchaseTickets(ctx context.Context, userID int64, ticketIDs []int64) (int64, error) {
	return 1, nil
}

func (s *stubRepo) CancelTickets(ctx context.Context, userID int64, ticketIDs []int64) error {
	return nil
}

func (s *stubRepo) FindTicketForUser(ctx context.Context, userID, ticketID int64) (*model.TicketDetail, error) {
	return nil, nil
}

func (s *stubRepo) FindReservationByID(ctx context.Context, userID, reservationID int64) (*model.ReservationDetail, error) {
	return nil, nil
}

func (s *stubRepo) FindReservationsByUser(ctx context.Context, userID int64) ([]model.ReservationDetail, error) {
	return s.reservations, nil
}

func (s *stubRepo) CreateCreditInvoice(ctx context.Context, userID int64, ticketIDs []int64) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return nil, nil
}

func (s *stubRepo) GetCreditInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return nil, nil
}

func (s *stubRepo) GetInvoiceDocument(ctx context.Context, userID, invoiceID int64) (*model.InvoiceDocument, error) {
	return nil, nil
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo)

	_, err := svc.RegisterUser(context.Background(), "user@example.com", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user@example.com", "correct")
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Email:        "user@example.com",
			PasswordHash: hashed,
		},
	}

	svc := NewService(repo)

	_, err := svc.AuthenticateUser(context.Background(), "user@example.com", "wrong")
	if err == nil {
		t.Fatalf("expected error for invalid credentials")
	}
}

func TestAddMerchandiseItem_RejectsNonPositiveQuantity(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	err := svc.AddMerchandiseItem(context.Background(), 1, 2, 0, false)
	if !errors.Is(err, apperr.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if repo.addMerchandiseCalled {
		t.Fatalf("repository must not be called for invalid quantity")
	}
}

func TestUpdateItemQuantity_RejectsNegative(t *testing.T) {
	svc := NewService(&stubRepo{})

	err := svc.UpdateItemQuantity(context.Background(), 1, 2, -1)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	repo := &stubRepo{cart: &model.CartView{}}
	svc := NewService(repo)

	_, err := svc.Checkout(context.Background(), 1, validation.PaymentPayPal, validation.PaymentDetail{})
	if !errors.Is(err, apperr.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if repo.checkoutCalled {
		t.Fatalf("repository checkout must not run for empty cart")
	}
}

func TestCheckout_InvalidPaymentShortCircuits(t *testing.T) {
	repo := &stubRepo{cart: &model.CartView{
		Items: []model.CartItem{{ID: 1, Kind: model.CartItemMerchandise}},
	}}
	svc := NewService(repo)

	_, err := svc.Checkout(context.Background(), 1, "CRYPTO", validation.PaymentDetail{})
	if !errors.Is(err, apperr.ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment, got %v", err)
	}
	if repo.checkoutCalled {
		t.Fatalf("repository checkout must not run for rejected payment")
	}
}

func TestCheckout_PayPalReachesRepository(t *testing.T) {
	merchID := int64(7)
	repo := &stubRepo{
		cart: &model.CartView{
			Items: []model.CartItem{{ID: 1, Kind: model.CartItemMerchandise}},
		},
		checkoutResult: &repository.CheckoutResult{MerchandiseInvoiceID: &merchID},
	}
	svc := NewService(repo)

	res, err := svc.Checkout(context.Background(), 1, validation.PaymentPayPal, validation.PaymentDetail{})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if !repo.checkoutCalled {
		t.Fatalf("repository checkout must run")
	}
	if res.MerchandiseInvoiceID == nil || *res.MerchandiseInvoiceID != merchID {
		t.Fatalf("unexpected checkout result: %+v", res)
	}
}

func TestReserveTickets_EmptyList(t *testing.T) {
	svc := NewService(&stubRepo{})

	_, err := svc.ReserveTickets(context.Background(), 1, nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPurchaseTickets_ValidatesPaymentFirst(t *testing.T) {
	svc := NewService(&stubRepo{})

	detail := validation.PaymentDetail{CardNumber: "1234", Expiry: "1299", CVC: "123"}
	_, err := svc.PurchaseTickets(context.Background(), 1, []int64{1}, validation.PaymentCreditCard, detail)
	if !errors.Is(err, apperr.ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment, got %v", err)
	}
}

func TestFindReservations_PassThrough(t *testing.T) {
	repo := &stubRepo{
		reservations: []model.ReservationDetail{
			{Reservation: model.Reservation{ID: 3, Number: "R-abc"}},
		},
	}
	svc := NewService(repo)

	res, err := svc.FindReservations(context.Background(), 1)
	if err != nil {
		t.Fatalf("FindReservations error: %v", err)
	}
	if len(res) != 1 || res[0].Reservation.Number != "R-abc" {
		t.Fatalf("unexpected reservations: %+v", res)
	}
}
