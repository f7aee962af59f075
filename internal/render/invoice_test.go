package render

import (
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/ticketline-system/internal/model"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1130, "11.30"},
		{-250, "-2.50"},
	}

	for _, tt := range tests {
		if got := formatMoney(tt.cents); got != tt.want {
			t.Errorf("formatMoney(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestInvoiceDocument_Merchandise(t *testing.T) {
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	doc := &model.InvoiceDocument{
		Invoice: model.Invoice{
			Number:     "I-abc",
			Kind:       model.InvoiceMerchandise,
			NetCents:   1667,
			TaxCents:   333,
			GrossCents: 2000,
			IssuedAt:   issued,
		},
		MerchandiseItems: []model.InvoiceMerchandiseItem{
			{Name: "Tour T-Shirt", UnitCents: 1000, Quantity: 2},
			{Name: "Poster", UnitCents: 500, Quantity: 1, Redeemed: true},
		},
	}

	got := InvoiceDocument(doc)

	for _, want := range []string{
		"INVOICE I-abc",
		"Date: 2026-08-01",
		"2 x Tour T-Shirt @ 10.00 = 20.00",
		"1 x Poster @ 5.00 = 0.00 (redeemed with points)",
		"Gross total: 20.00",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("document does not contain %q:\n%s", want, got)
		}
	}
}

func TestInvoiceDocument_Credit(t *testing.T) {
	origNumber := "I-orig"
	origDate := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	cancelled := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	doc := &model.InvoiceDocument{
		Invoice: model.Invoice{
			Number:         "C-xyz",
			Kind:           model.InvoiceCredit,
			NetCents:       5000,
			TaxCents:       650,
			GrossCents:     5650,
			IssuedAt:       cancelled,
			OriginalNumber: &origNumber,
			OriginalDate:   &origDate,
			CancelledAt:    &cancelled,
		},
		CancelledTickets: []model.CancelledTicket{
			{
				EventName:  "Summer Fest",
				EventDate:  time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC),
				SeatLabel:  "A/5",
				GrossCents: 5650,
			},
		},
	}

	got := InvoiceDocument(doc)

	for _, want := range []string{
		"CREDIT INVOICE C-xyz",
		"Cancels invoice I-orig of 2026-07-15",
		"Cancelled ticket: Summer Fest on 2026-09-01, seat A/5, 56.50",
		"Gross total: 56.50",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("document does not contain %q:\n%s", want, got)
		}
	}
}

func TestInvoiceDocument_Deterministic(t *testing.T) {
	doc := &model.InvoiceDocument{
		Invoice: model.Invoice{
			Number:   "I-abc",
			Kind:     model.InvoiceTicket,
			IssuedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		Tickets: []model.TicketDetail{
			{
				Ticket:    model.Ticket{GrossCents: 5650},
				EventName: "Summer Fest",
				EventDate: time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC),
				SeatLabel: "A/5",
			},
		},
	}

	if InvoiceDocument(doc) != InvoiceDocument(doc) {
		t.Fatalf("rendering the same document twice must produce identical output")
	}
}
