// Package model содержит доменные сущности билетной системы.
//
// Денежные суммы повсюду хранятся в центах (int64); в float64 они
// конвертируются только на границе JSON API. Налоговые ставки выражены
// в базисных пунктах.
package model

import (
	"fmt"
	"time"
)

// RegularCustomerThresholdCents — порог накопленных трат, начиная с которого
// пользователь считается постоянным покупателем и может списывать баллы.
const RegularCustomerThresholdCents = 5000

// Налоговые ставки в базисных пунктах; фиксируются в момент создания
// билета или строки счёта и далее не пересчитываются.
const (
	TicketTaxRateBP      = 1300
	MerchandiseTaxRateBP = 2000
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	Points       int64
	SpentCents   int64
	CreatedAt    time.Time
}

// IsRegularCustomer сообщает, достиг ли пользователь порога постоянного покупателя.
func (u *User) IsRegularCustomer() bool {
	return u.SpentCents >= RegularCustomerThresholdCents
}

// Merchandise описывает товар каталога и его складской остаток.
type Merchandise struct {
	ID            int64
	Name          string
	PriceCents    int64
	Remaining     int64
	Deleted       bool
	Redeemable    bool
	PointsPrice   int64
	PointsPerUnit int64
}

// Event описывает событие каталога.
type Event struct {
	ID       int64
	Name     string
	StartsAt time.Time
}

// Seat описывает место в секторе с базовой (нетто) ценой.
type Seat struct {
	ID         int64
	Sector     string
	RowLabel   string
	SeatNumber int64
	PriceCents int64
}

// Label возвращает отображаемую метку места в формате "ряд/место".
func (s *Seat) Label() string {
	return fmt.Sprintf("%s/%d", s.RowLabel, s.SeatNumber)
}

// Ticket связывает событие и место; цены зафиксированы при создании.
// Билет ссылается либо на бронь, либо на счёт, но не на оба сразу.
type Ticket struct {
	ID            int64
	EventID       int64
	SeatID        int64
	NetCents      int64
	TaxCents      int64
	GrossCents    int64
	ReservationID *int64
	InvoiceID     *int64
}

// Reservation группирует неоплаченные билеты одного пользователя.
type Reservation struct {
	ID        int64
	Number    string
	UserID    int64
	CreatedAt time.Time
}

// GrossFromNet вычисляет брутто-цену из нетто по ставке в базисных пунктах.
func GrossFromNet(netCents, rateBP int64) (gross, tax int64) {
	tax = (netCents*rateBP + 5000) / 10000
	return netCents + tax, tax
}

// NetFromGross выделяет нетто-часть из брутто-цены по ставке в базисных пунктах.
func NetFromGross(grossCents, rateBP int64) (net, tax int64) {
	net = (grossCents*10000 + (10000+rateBP)/2) / (10000 + rateBP)
	return net, grossCents - net
}

// CartItemKind различает три вида позиций корзины.
type CartItemKind string

const (
	CartItemMerchandise CartItemKind = "MERCHANDISE"
	CartItemReward      CartItemKind = "REWARD"
	CartItemTicket      CartItemKind = "TICKET"
)

// CartMerchandiseLine — полезная нагрузка позиций MERCHANDISE и REWARD.
type CartMerchandiseLine struct {
	MerchandiseID int64
	Name          string
	UnitCents     int64
	Quantity      int64
}

// CartTicketLine — полезная нагрузка позиции TICKET; количества у неё нет.
type CartTicketLine struct {
	TicketID   int64
	EventName  string
	SeatLabel  string
	GrossCents int64
}

// CartItem — помеченное объединение позиций корзины: в соответствии с Kind
// заполнено ровно одно из полей Merchandise и Ticket.
type CartItem struct {
	ID          int64
	Kind        CartItemKind
	Merchandise *CartMerchandiseLine
	Ticket      *CartTicketLine
}

// TotalCents возвращает вклад позиции в итог корзины. Позиции REWARD
// оплачиваются баллами и вносят ноль.
func (i *CartItem) TotalCents() int64 {
	switch i.Kind {
	case CartItemMerchandise:
		return i.Merchandise.UnitCents * i.Merchandise.Quantity
	case CartItemTicket:
		return i.Ticket.GrossCents
	default:
		return 0
	}
}

// CartView — снимок корзины пользователя для чтения.
type CartView struct {
	Items []CartItem
}

// TotalCents возвращает суммарную стоимость корзины.
func (v *CartView) TotalCents() int64 {
	var total int64
	for i := range v.Items {
		total += v.Items[i].TotalCents()
	}
	return total
}

// InvoiceKind различает счёт за билеты, счёт за товары и сторнирующий счёт.
type InvoiceKind string

const (
	InvoiceTicket      InvoiceKind = "TICKET"
	InvoiceMerchandise InvoiceKind = "MERCHANDISE"
	InvoiceCredit      InvoiceKind = "CREDIT"
)

// Invoice — неизменяемая запись о завершённой продаже. У сторнирующего
// счёта дополнительно заполнены OriginalNumber, OriginalDate и CancelledAt.
type Invoice struct {
	ID             int64
	Number         string
	UserID         int64
	Kind           InvoiceKind
	NetCents       int64
	TaxCents       int64
	GrossCents     int64
	IssuedAt       time.Time
	OriginalNumber *string
	OriginalDate   *time.Time
	CancelledAt    *time.Time
}

// InvoiceMerchandiseItem — строка товарного счёта со снимком имени и цены
// на момент продажи. Строки, оплаченные баллами, помечены Redeemed.
type InvoiceMerchandiseItem struct {
	ID            int64
	InvoiceID     int64
	MerchandiseID int64
	Name          string
	UnitCents     int64
	Quantity      int64
	Redeemed      bool
}

// TotalCents возвращает вклад строки в итог счёта; погашенные баллами
// строки вносят ноль.
func (i *InvoiceMerchandiseItem) TotalCents() int64 {
	if i.Redeemed {
		return 0
	}
	return i.UnitCents * i.Quantity
}

// CancelledTicket — замороженный снимок отменённого билета, не зависящий
// от дальнейших изменений события, места или каталога.
type CancelledTicket struct {
	ID              int64
	CreditInvoiceID int64
	UserID          int64
	EventName       string
	EventDate       time.Time
	InvoiceDate     time.Time
	SeatLabel       string
	NetCents        int64
	TaxCents        int64
	GrossCents      int64
}

// TicketDetail — билет с развёрнутыми данными события и места,
// загруженными явным соединением на границе компонента.
type TicketDetail struct {
	Ticket            Ticket
	EventName         string
	EventDate         time.Time
	SeatLabel         string
	ReservationNumber *string
	InvoiceNumber     *string
}

// ReservationDetail — бронь вместе с её билетами.
type ReservationDetail struct {
	Reservation Reservation
	Tickets     []TicketDetail
}

// InvoiceDocument — счёт с его строками, достаточный для детерминированной
// отрисовки документа.
type InvoiceDocument struct {
	Invoice          Invoice
	MerchandiseItems []InvoiceMerchandiseItem
	Tickets          []TicketDetail
	CancelledTickets []CancelledTicket
}
