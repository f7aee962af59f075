package validation

import (
	"fmt"
	"strconv"
	"time"
	"unicode"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
)

// Поддерживаемые способы оплаты.
const (
	PaymentCreditCard = "CREDIT_CARD"
	PaymentPayPal     = "PAYPAL"
)

// PaymentDetail содержит платёжные данные запроса. Для PAYPAL все поля
// игнорируются; для CREDIT_CARD обязательны номер карты, срок действия и CVC.
type PaymentDetail struct {
	CardNumber string
	Expiry     string
	CVC        string
}

// ValidatePayment выполняет синтаксическую проверку платёжных данных.
// Для кредитной карты требуется 16-значный номер, проходящий проверку Луна,
// срок действия MMYY не в прошлом относительно now и трёхзначный CVC.
// Интеграция с платёжным шлюзом не выполняется.
func ValidatePayment(method string, detail PaymentDetail, now time.Time) error {
	switch method {
	case PaymentPayPal:
		return nil
	case PaymentCreditCard:
		return validateCreditCard(detail, now)
	default:
		return fmt.Errorf("%w: unknown payment method %q", apperr.ErrInvalidPayment, method)
	}
}

func validateCreditCard(detail PaymentDetail, now time.Time) error {
	if len(detail.CardNumber) != 16 || !IsValidLuhn(detail.CardNumber) {
		return fmt.Errorf("%w: card number must be 16 digits with a valid checksum", apperr.ErrInvalidPayment)
	}

	month, year, ok := parseExpiry(detail.Expiry)
	if !ok {
		return fmt.Errorf("%w: expiry must be a valid MMYY", apperr.ErrInvalidPayment)
	}
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return fmt.Errorf("%w: card is expired", apperr.ErrInvalidPayment)
	}

	if len(detail.CVC) != 3 || !allDigits(detail.CVC) {
		return fmt.Errorf("%w: cvc must be 3 digits", apperr.ErrInvalidPayment)
	}

	return nil
}

func parseExpiry(expiry string) (month, year int, ok bool) {
	if len(expiry) != 4 || !allDigits(expiry) {
		return 0, 0, false
	}

	month, _ = strconv.Atoi(expiry[:2])
	yy, _ := strconv.Atoi(expiry[2:])
	if month < 1 || month > 12 {
		return 0, 0, false
	}

	return month, 2000 + yy, true
}

func allDigits(s string) bool {
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return len(s) > 0
}
