// Package render отвечает за детерминированную отрисовку документов счетов.
//
// Один и тот же счёт всегда отрисовывается в один и тот же текст: все
// данные берутся из снимка счёта, текущие время и состояние каталога
// не участвуют.
package render

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/ticketline-system/internal/model"
)

const dateLayout = "2006-01-02"

func formatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// InvoiceDocument отрисовывает счёт в текстовый документ.
func InvoiceDocument(doc *model.InvoiceDocument) string {
	var b strings.Builder

	inv := doc.Invoice

	title := "INVOICE"
	if inv.Kind == model.InvoiceCredit {
		title = "CREDIT INVOICE"
	}

	fmt.Fprintf(&b, "%s %s\n", title, inv.Number)
	fmt.Fprintf(&b, "Date: %s\n", inv.IssuedAt.Format(dateLayout))

	if inv.Kind == model.InvoiceCredit && inv.OriginalNumber != nil && inv.OriginalDate != nil {
		fmt.Fprintf(&b, "Cancels invoice %s of %s\n", *inv.OriginalNumber, inv.OriginalDate.Format(dateLayout))
	}

	b.WriteString("\n")

	switch inv.Kind {
	case model.InvoiceMerchandise:
		renderMerchandiseItems(&b, doc.MerchandiseItems)
	case model.InvoiceTicket:
		renderTickets(&b, doc.Tickets)
	case model.InvoiceCredit:
		renderCancelledTickets(&b, doc.CancelledTickets)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Net total:   %s\n", formatMoney(inv.NetCents))
	fmt.Fprintf(&b, "Tax total:   %s\n", formatMoney(inv.TaxCents))
	fmt.Fprintf(&b, "Gross total: %s\n", formatMoney(inv.GrossCents))

	return b.String()
}

func renderMerchandiseItems(b *strings.Builder, items []model.InvoiceMerchandiseItem) {
	for i := range items {
		item := &items[i]
		suffix := ""
		if item.Redeemed {
			suffix = " (redeemed with points)"
		}
		fmt.Fprintf(b, "%d x %s @ %s = %s%s\n",
			item.Quantity, item.Name, formatMoney(item.UnitCents), formatMoney(item.TotalCents()), suffix)
	}
}

func renderTickets(b *strings.Builder, tickets []model.TicketDetail) {
	for i := range tickets {
		t := &tickets[i]
		fmt.Fprintf(b, "Ticket: %s on %s, seat %s, %s\n",
			t.EventName, t.EventDate.Format(dateLayout), t.SeatLabel, formatMoney(t.Ticket.GrossCents))
	}
}

func renderCancelledTickets(b *strings.Builder, tickets []model.CancelledTicket) {
	for i := range tickets {
		t := &tickets[i]
		fmt.Fprintf(b, "Cancelled ticket: %s on %s, seat %s, %s\n",
			t.EventName, t.EventDate.Format(dateLayout), t.SeatLabel, formatMoney(t.GrossCents))
	}
}
