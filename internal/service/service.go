// Package service реализует бизнес-логику билетной системы.
//
// Сервис выполняет поверхностную валидацию входных данных и платёжных
// реквизитов; инварианты остатков, баллов и занятости мест обеспечивает
// репозиторий внутри транзакций.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/model"
	"github.com/mmeshcher/ticketline-system/internal/repository"
	"github.com/mmeshcher/ticketline-system/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	FindMerchandise(ctx context.Context, id int64) (*model.Merchandise, error)
	ListMerchandise(ctx context.Context) ([]model.Merchandise, error)
	FindEvent(ctx context.Context, id int64) (*model.Event, error)
	FindSeat(ctx context.Context, id int64) (*model.Seat, error)

	GetCart(ctx context.Context, userID int64) (*model.CartView, error)
	AddMerchandiseItem(ctx context.Context, userID, merchandiseID, qty int64, asReward bool) error
	UpdateItemQuantity(ctx context.Context, userID, itemID, newQty int64) error
	RemoveItem(ctx context.Context, userID, itemID int64) error
	AddTicketItem(ctx context.Context, userID, ticketID int64) error
	RemoveTicketItem(ctx context.Context, userID, ticketID int64) error
	Checkout(ctx context.Context, userID int64) (*repository.CheckoutResult, error)

	CreateTicket(ctx context.Context, eventID, seatID int64) (*model.Ticket, error)
	ReserveTickets(ctx context.Context, userID int64, ticketIDs []int64) (*model.Reservation, error)
	PurchaseTickets(ctx context.Context, userID int64, ticketIDs []int64) (int64, error)
	CancelTickets(ctx context.Context, userID int64, ticketIDs []int64) error
	FindTicketForUser(ctx context.Context, userID, ticketID int64) (*model.TicketDetail, error)
	FindReservationByID(ctx context.Context, userID, reservationID int64) (*model.ReservationDetail, error)
	FindReservationsByUser(ctx context.Context, userID int64) ([]model.ReservationDetail, error)

	CreateCreditInvoice(ctx context.Context, userID int64, ticketIDs []int64) (int64, error)
	GetInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error)
	GetCreditInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error)
	GetInvoiceDocument(ctx context.Context, userID, invoiceID int64) (*model.InvoiceDocument, error)
}

// Service содержит бизнес-логику билетной системы.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (int64, error) {
	hashed := hashPassword(email, password)
	id, err := s.repo.CreateUser(ctx, email, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет email и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return u.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// ListMerchandise возвращает каталог товаров.
func (s *Service) ListMerchandise(ctx context.Context) ([]model.Merchandise, error) {
	return s.repo.ListMerchandise(ctx)
}

// GetCart возвращает снимок корзины пользователя.
func (s *Service) GetCart(ctx context.Context, userID int64) (*model.CartView, error) {
	return s.repo.GetCart(ctx, userID)
}

// AddMerchandiseItem добавляет товарную или бонусную позицию в корзину.
func (s *Service) AddMerchandiseItem(ctx context.Context, userID, merchandiseID, qty int64, asReward bool) error {
	if qty <= 0 {
		return apperr.ErrInvalidQuantity
	}
	return s.repo.AddMerchandiseItem(ctx, userID, merchandiseID, qty, asReward)
}

// UpdateItemQuantity изменяет количество позиции; ноль удаляет позицию.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID, newQty int64) error {
	if newQty < 0 {
		return fmt.Errorf("%w: quantity must not be negative", apperr.ErrValidation)
	}
	return s.repo.UpdateItemQuantity(ctx, userID, itemID, newQty)
}

// RemoveItem удаляет товарную позицию из корзины.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID int64) error {
	return s.repo.RemoveItem(ctx, userID, itemID)
}

// AddTicketItem кладёт билет в корзину пользователя.
func (s *Service) AddTicketItem(ctx context.Context, userID, ticketID int64) error {
	return s.repo.AddTicketItem(ctx, userID, ticketID)
}

// RemoveTicketItem убирает билет из корзины и снимает его бронь.
func (s *Service) RemoveTicketItem(ctx context.Context, userID, ticketID int64) error {
	return s.repo.RemoveTicketItem(ctx, userID, ticketID)
}

// Checkout оформляет корзину. Платёжные данные проверяются до обращения
// к хранилищу; пустая корзина — ошибка валидации с приоритетом над
// ошибками платёжных данных.
func (s *Service) Checkout(ctx context.Context, userID int64, method string, detail validation.PaymentDetail) (*repository.CheckoutResult, error) {
	view, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(view.Items) == 0 {
		return nil, apperr.ErrEmptyCart
	}

	if err := validation.ValidatePayment(method, detail, time.Now()); err != nil {
		return nil, err
	}

	return s.repo.Checkout(ctx, userID)
}

// CreateTicket создаёт свободный билет на пару (событие, место).
func (s *Service) CreateTicket(ctx context.Context, eventID, seatID int64) (*model.Ticket, error) {
	return s.repo.CreateTicket(ctx, eventID, seatID)
}

// ReserveTickets создаёт бронь на указанные билеты.
func (s *Service) ReserveTickets(ctx context.Context, userID int64, ticketIDs []int64) (*model.Reservation, error) {
	if len(ticketIDs) == 0 {
		return nil, fmt.Errorf("%w: ticket list is empty", apperr.ErrValidation)
	}
	return s.repo.ReserveTickets(ctx, userID, ticketIDs)
}

// PurchaseTickets покупает билеты и возвращает идентификатор счёта.
func (s *Service) PurchaseTickets(ctx context.Context, userID int64, ticketIDs []int64, method string, detail validation.PaymentDetail) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, fmt.Errorf("%w: ticket list is empty", apperr.ErrValidation)
	}
	if err := validation.ValidatePayment(method, detail, time.Now()); err != nil {
		return 0, err
	}
	return s.repo.PurchaseTickets(ctx, userID, ticketIDs)
}

// CancelTickets снимает бронь и уничтожает неоплаченные билеты.
func (s *Service) CancelTickets(ctx context.Context, userID int64, ticketIDs []int64) error {
	if len(ticketIDs) == 0 {
		return fmt.Errorf("%w: ticket list is empty", apperr.ErrValidation)
	}
	return s.repo.CancelTickets(ctx, userID, ticketIDs)
}

// FindTicket возвращает билет пользователя с деталями события и места.
func (s *Service) FindTicket(ctx context.Context, userID, ticketID int64) (*model.TicketDetail, error) {
	return s.repo.FindTicketForUser(ctx, userID, ticketID)
}

// FindReservation возвращает бронь пользователя.
func (s *Service) FindReservation(ctx context.Context, userID, reservationID int64) (*model.ReservationDetail, error) {
	return s.repo.FindReservationByID(ctx, userID, reservationID)
}

// FindReservations возвращает все брони пользователя.
func (s *Service) FindReservations(ctx context.Context, userID int64) ([]model.ReservationDetail, error) {
	return s.repo.FindReservationsByUser(ctx, userID)
}

// CreateCreditInvoice сторнирует купленные билеты. Все билеты должны
// принадлежать одному исходному счёту; это предусловие вызывающей стороны.
func (s *Service) CreateCreditInvoice(ctx context.Context, userID int64, ticketIDs []int64) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, fmt.Errorf("%w: ticket list is empty", apperr.ErrValidation)
	}
	return s.repo.CreateCreditInvoice(ctx, userID, ticketIDs)
}

// GetInvoices возвращает счета пользователя.
func (s *Service) GetInvoices(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return s.repo.GetInvoicesByUser(ctx, userID)
}

// GetCreditInvoices возвращает сторнирующие счета пользователя.
func (s *Service) GetCreditInvoices(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return s.repo.GetCreditInvoicesByUser(ctx, userID)
}

// GetInvoiceDocument возвращает счёт со строками для отрисовки документа.
func (s *Service) GetInvoiceDocument(ctx context.Context, userID, invoiceID int64) (*model.InvoiceDocument, error) {
	return s.repo.GetInvoiceDocument(ctx, userID, invoiceID)
}
