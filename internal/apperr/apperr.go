// Package apperr содержит классификацию ошибок предметной области.
//
// Каждая конкретная ошибка обёрнута вокруг одной из четырёх базовых
// (ErrNotFound, ErrValidation, ErrConflict, ErrAccessDenied), что позволяет
// обработчикам HTTP определять категорию через errors.Is, не зная деталей.
package apperr

import (
	"errors"
	"fmt"
)

// Базовые категории ошибок.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrAccessDenied = errors.New("access denied")
)

// Ошибки поиска сущностей.
var (
	ErrUserNotFound        = fmt.Errorf("%w: user", ErrNotFound)
	ErrMerchandiseNotFound = fmt.Errorf("%w: merchandise", ErrNotFound)
	ErrEventNotFound       = fmt.Errorf("%w: event", ErrNotFound)
	ErrSeatNotFound        = fmt.Errorf("%w: seat", ErrNotFound)
	ErrTicketNotFound      = fmt.Errorf("%w: ticket", ErrNotFound)
	ErrCartItemNotFound    = fmt.Errorf("%w: cart item", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("%w: reservation", ErrNotFound)
	ErrInvoiceNotFound     = fmt.Errorf("%w: invoice", ErrNotFound)
)

// Ошибки нарушения предусловий.
var (
	ErrInsufficientStock  = fmt.Errorf("%w: insufficient stock", ErrValidation)
	ErrInsufficientPoints = fmt.Errorf("%w: insufficient reward points", ErrValidation)
	ErrNotRegularCustomer = fmt.Errorf("%w: user is not a regular customer", ErrValidation)
	ErrNotRedeemable      = fmt.Errorf("%w: merchandise is not redeemable with points", ErrValidation)
	ErrPointsTooLarge     = fmt.Errorf("%w: reward point cost is too large", ErrValidation)
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity must be positive", ErrValidation)
	ErrNoQuantity         = fmt.Errorf("%w: ticket cart items have no quantity", ErrValidation)
	ErrAlreadyReserved    = fmt.Errorf("%w: ticket is already reserved", ErrValidation)
	ErrAlreadyPurchased   = fmt.Errorf("%w: ticket is already purchased", ErrValidation)
	ErrNotPurchased       = fmt.Errorf("%w: ticket has no invoice", ErrValidation)
	ErrEmptyCart          = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrInvalidPayment     = fmt.Errorf("%w: invalid payment data", ErrValidation)
)

// Ошибки конкурентного доступа.
var (
	// ErrSeatTaken возвращается, когда билет на пару (событие, место)
	// уже существует; источник — нарушение уникального ограничения в БД.
	ErrSeatTaken = fmt.Errorf("%w: seat is already booked for this event", ErrConflict)
)

// Ошибки владения ресурсами.
var (
	ErrNotOwner = fmt.Errorf("%w: resource belongs to another user", ErrAccessDenied)
)
