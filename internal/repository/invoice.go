package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/model"
)

// CheckoutResult содержит идентификаторы созданных при оформлении счетов.
// Отсутствующая разновидность позиций оставляет соответствующее поле пустым.
type CheckoutResult struct {
	MerchandiseInvoiceID *int64
	TicketInvoiceID      *int64
}

type checkoutMerchLine struct {
	MerchandiseID int64
	Quantity      int64
	Redeemed      bool
}

// Checkout оформляет корзину пользователя одной транзакцией: сначала
// товарный счёт (оплаченные и бонусные строки вместе), затем билетный,
// и лишь после обоих — очистка корзины. Любая ошибка откатывает всё,
// корзина при неудаче остаётся нетронутой.
func (r *PostgresRepository) Checkout(ctx context.Context, userID int64) (*CheckoutResult, error) {
	var result CheckoutResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		_, spentCents, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		cartID, err := getOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		merchLines, ticketIDs, err := lockCheckoutItems(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(merchLines) == 0 && len(ticketIDs) == 0 {
			return apperr.ErrEmptyCart
		}

		if len(merchLines) > 0 {
			invoiceID, err := insertMerchandiseInvoice(ctx, tx, userID, spentCents, merchLines)
			if err != nil {
				return err
			}
			result.MerchandiseInvoiceID = &invoiceID
		}

		if len(ticketIDs) > 0 {
			tickets, err := lockTickets(ctx, tx, ticketIDs)
			if err != nil {
				return err
			}
			if err := checkPurchasable(tickets, userID); err != nil {
				return err
			}
			invoiceID, err := insertTicketInvoice(ctx, tx, userID, tickets)
			if err != nil {
				return err
			}
			result.TicketInvoiceID = &invoiceID
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// lockCheckoutItems блокирует позиции корзины и разбивает их по видам.
func lockCheckoutItems(ctx context.Context, tx pgx.Tx, cartID int64) ([]checkoutMerchLine, []int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT kind, merchandise_id, quantity, ticket_id
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY id
		 FOR UPDATE`,
		cartID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("lock cart items: %w", err)
	}
	defer rows.Close()

	var (
		merchLines []checkoutMerchLine
		ticketIDs  []int64
	)
	for rows.Next() {
		var (
			kind          string
			merchandiseID *int64
			quantity      *int64
			ticketID      *int64
		)
		if err := rows.Scan(&kind, &merchandiseID, &quantity, &ticketID); err != nil {
			return nil, nil, fmt.Errorf("scan cart item: %w", err)
		}
		switch model.CartItemKind(kind) {
		case model.CartItemMerchandise:
			merchLines = append(merchLines, checkoutMerchLine{MerchandiseID: *merchandiseID, Quantity: *quantity})
		case model.CartItemReward:
			merchLines = append(merchLines, checkoutMerchLine{MerchandiseID: *merchandiseID, Quantity: *quantity, Redeemed: true})
		case model.CartItemTicket:
			ticketIDs = append(ticketIDs, *ticketID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}
	return merchLines, ticketIDs, nil
}

// insertMerchandiseInvoice создаёт один товарный счёт на оплаченные и
// бонусные строки. Бонусные строки помечаются погашенными и вносят ноль;
// оплаченные строки увеличивают накопленные траты и, для постоянных
// покупателей, начисляют баллы. Остаток был зарезервирован ещё при
// добавлении в корзину и здесь не трогается.
func insertMerchandiseInvoice(ctx context.Context, tx pgx.Tx, userID, spentCents int64, lines []checkoutMerchLine) (int64, error) {
	// Блокировка строк товара в порядке возрастания id против дедлоков.
	merchIDs := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if !seen[l.MerchandiseID] {
			seen[l.MerchandiseID] = true
			merchIDs = append(merchIDs, l.MerchandiseID)
		}
	}
	sort.Slice(merchIDs, func(i, j int) bool { return merchIDs[i] < merchIDs[j] })

	merchByID := make(map[int64]*lockedMerchandise, len(merchIDs))
	for _, id := range merchIDs {
		m, err := lockMerchandise(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		merchByID[id] = m
	}

	var netTotal, taxTotal, grossTotal, pointsEarned int64
	for _, l := range lines {
		if l.Redeemed {
			continue
		}
		m := merchByID[l.MerchandiseID]
		lineGross := m.PriceCents * l.Quantity
		lineNet, lineTax := model.NetFromGross(lineGross, model.MerchandiseTaxRateBP)
		netTotal += lineNet
		taxTotal += lineTax
		grossTotal += lineGross
		pointsEarned += m.PointsPerUnit * l.Quantity
	}

	var invoiceID int64
	err := tx.QueryRow(ctx,
		`INSERT INTO invoices (number, user_id, kind, net_cents, tax_cents, gross_cents)
		 VALUES ($1, $2, 'MERCHANDISE', $3, $4, $5)
		 RETURNING id`,
		newDocumentNumber("I"), userID, netTotal, taxTotal, grossTotal,
	).Scan(&invoiceID)
	if err != nil {
		return 0, fmt.Errorf("insert merchandise invoice: %w", err)
	}

	for _, l := range lines {
		m := merchByID[l.MerchandiseID]
		if _, err := tx.Exec(ctx,
			`INSERT INTO invoice_merchandise_items (invoice_id, merchandise_id, name, unit_cents, quantity, redeemed)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			invoiceID, l.MerchandiseID, m.Name, m.PriceCents, l.Quantity, l.Redeemed,
		); err != nil {
			return 0, fmt.Errorf("insert invoice item: %w", err)
		}
	}

	// Статус постоянного покупателя оценивается по тратам до этой покупки.
	if spentCents < model.RegularCustomerThresholdCents {
		pointsEarned = 0
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET spent_cents = spent_cents + $2, points = points + $3 WHERE id = $1`,
		userID, grossTotal, pointsEarned,
	); err != nil {
		return 0, fmt.Errorf("update user totals: %w", err)
	}

	return invoiceID, nil
}

// CreateCreditInvoice сторнирует купленные билеты: создаёт сторнирующий
// счёт со ссылкой на исходный, замораживает снимок каждого билета в
// cancelled_tickets и удаляет сами билеты. Повторный вызов с теми же
// идентификаторами завершается ошибкой поиска — билетов больше нет,
// так достигается семантика не-более-одного-раза.
func (r *PostgresRepository) CreateCreditInvoice(ctx context.Context, userID int64, ticketIDs []int64) (int64, error) {
	var creditInvoiceID int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tickets, err := lockTickets(ctx, tx, ticketIDs)
		if err != nil {
			return err
		}

		if tickets[0].InvoiceID == nil {
			return apperr.ErrNotPurchased
		}
		originalID := *tickets[0].InvoiceID

		// Все сторнируемые билеты должны принадлежать одному исходному счёту.
		for _, t := range tickets {
			if t.InvoiceID == nil {
				return apperr.ErrNotPurchased
			}
			if *t.InvoiceID != originalID {
				return fmt.Errorf("%w: tickets belong to different invoices", apperr.ErrValidation)
			}
		}

		var (
			originalNumber string
			originalOwner  int64
			original       model.Invoice
		)
		err = tx.QueryRow(ctx,
			`SELECT number, user_id, issued_at FROM invoices WHERE id = $1`,
			originalID,
		).Scan(&originalNumber, &originalOwner, &original.IssuedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrInvoiceNotFound
			}
			return fmt.Errorf("select original invoice: %w", err)
		}
		if originalOwner != userID {
			return apperr.ErrNotOwner
		}

		var netTotal, taxTotal, grossTotal int64
		ids := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			netTotal += t.NetCents
			taxTotal += t.TaxCents
			grossTotal += t.GrossCents
			ids = append(ids, t.ID)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO invoices (number, user_id, kind, net_cents, tax_cents, gross_cents,
			                       original_number, original_date, cancelled_at)
			 VALUES ($1, $2, 'CREDIT', $3, $4, $5, $6, $7, now())
			 RETURNING id`,
			newDocumentNumber("C"), userID, netTotal, taxTotal, grossTotal,
			originalNumber, original.IssuedAt,
		).Scan(&creditInvoiceID)
		if err != nil {
			return fmt.Errorf("insert credit invoice: %w", err)
		}

		// Снимок берётся до удаления билетов и не зависит от дальнейших
		// изменений каталога.
		if _, err := tx.Exec(ctx,
			`INSERT INTO cancelled_tickets
			     (credit_invoice_id, user_id, event_name, event_date, invoice_date,
			      seat_label, net_cents, tax_cents, gross_cents)
			 SELECT $2, $3, e.name, e.starts_at, $4,
			        s.row_label || '/' || s.seat_number, t.net_cents, t.tax_cents, t.gross_cents
			 FROM tickets t
			 JOIN events e ON e.id = t.event_id
			 JOIN seats s ON s.id = t.seat_id
			 WHERE t.id = ANY($1)`,
			ids, creditInvoiceID, userID, original.IssuedAt,
		); err != nil {
			return fmt.Errorf("insert cancelled tickets: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE ticket_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("clear ticket cart items: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return creditInvoiceID, nil
}

// GetInvoicesByUser возвращает счета пользователя (без сторнирующих),
// новые первыми.
func (r *PostgresRepository) GetInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return r.selectInvoices(ctx,
		`SELECT id, number, user_id, kind, net_cents, tax_cents, gross_cents,
		        issued_at, original_number, original_date, cancelled_at
		 FROM invoices
		 WHERE user_id = $1 AND kind <> 'CREDIT'
		 ORDER BY issued_at DESC, id DESC`,
		userID,
	)
}

// GetCreditInvoicesByUser возвращает сторнирующие счета пользователя.
func (r *PostgresRepository) GetCreditInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return r.selectInvoices(ctx,
		`SELECT id, number, user_id, kind, net_cents, tax_cents, gross_cents,
		        issued_at, original_number, original_date, cancelled_at
		 FROM invoices
		 WHERE user_id = $1 AND kind = 'CREDIT'
		 ORDER BY issued_at DESC, id DESC`,
		userID,
	)
}

func (r *PostgresRepository) selectInvoices(ctx context.Context, query string, args ...any) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var kind string
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.UserID, &kind,
			&inv.NetCents, &inv.TaxCents, &inv.GrossCents,
			&inv.IssuedAt, &inv.OriginalNumber, &inv.OriginalDate, &inv.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.Kind = model.InvoiceKind(kind)
		res = append(res, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetInvoiceDocument загружает счёт со всеми строками для отрисовки
// документа. Чужие счета недоступны.
func (r *PostgresRepository) GetInvoiceDocument(ctx context.Context, userID, invoiceID int64) (*model.InvoiceDocument, error) {
	var doc model.InvoiceDocument
	var kind string
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, user_id, kind, net_cents, tax_cents, gross_cents,
		        issued_at, original_number, original_date, cancelled_at
		 FROM invoices
		 WHERE id = $1`,
		invoiceID,
	).Scan(&doc.Invoice.ID, &doc.Invoice.Number, &doc.Invoice.UserID, &kind,
		&doc.Invoice.NetCents, &doc.Invoice.TaxCents, &doc.Invoice.GrossCents,
		&doc.Invoice.IssuedAt, &doc.Invoice.OriginalNumber, &doc.Invoice.OriginalDate,
		&doc.Invoice.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("select invoice: %w", err)
	}
	doc.Invoice.Kind = model.InvoiceKind(kind)

	if doc.Invoice.UserID != userID {
		return nil, apperr.ErrNotOwner
	}

	switch doc.Invoice.Kind {
	case model.InvoiceMerchandise:
		items, err := r.invoiceMerchandiseItems(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		doc.MerchandiseItems = items
	case model.InvoiceTicket:
		tickets, err := r.invoiceTickets(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		doc.Tickets = tickets
	case model.InvoiceCredit:
		cancelled, err := r.cancelledTickets(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		doc.CancelledTickets = cancelled
	}

	return &doc, nil
}

func (r *PostgresRepository) invoiceMerchandiseItems(ctx context.Context, invoiceID int64) ([]model.InvoiceMerchandiseItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, merchandise_id, name, unit_cents, quantity, redeemed
		 FROM invoice_merchandise_items
		 WHERE invoice_id = $1
		 ORDER BY id`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoice items: %w", err)
	}
	defer rows.Close()

	items := make([]model.InvoiceMerchandiseItem, 0)
	for rows.Next() {
		var it model.InvoiceMerchandiseItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.MerchandiseID, &it.Name,
			&it.UnitCents, &it.Quantity, &it.Redeemed); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) invoiceTickets(ctx context.Context, invoiceID int64) ([]model.TicketDetail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.event_id, t.seat_id, t.net_cents, t.tax_cents, t.gross_cents,
		        e.name, e.starts_at, s.row_label, s.seat_number
		 FROM tickets t
		 JOIN events e ON e.id = t.event_id
		 JOIN seats s ON s.id = t.seat_id
		 WHERE t.invoice_id = $1
		 ORDER BY t.id`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoice tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]model.TicketDetail, 0)
	for rows.Next() {
		var (
			d          model.TicketDetail
			rowLabel   string
			seatNumber int64
		)
		if err := rows.Scan(&d.Ticket.ID, &d.Ticket.EventID, &d.Ticket.SeatID,
			&d.Ticket.NetCents, &d.Ticket.TaxCents, &d.Ticket.GrossCents,
			&d.EventName, &d.EventDate, &rowLabel, &seatNumber); err != nil {
			return nil, fmt.Errorf("scan invoice ticket: %w", err)
		}
		id := invoiceID
		d.Ticket.InvoiceID = &id
		d.SeatLabel = fmt.Sprintf("%s/%d", rowLabel, seatNumber)
		tickets = append(tickets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tickets, nil
}

func (r *PostgresRepository) cancelledTickets(ctx context.Context, creditInvoiceID int64) ([]model.CancelledTicket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, credit_invoice_id, user_id, event_name, event_date, invoice_date,
		        seat_label, net_cents, tax_cents, gross_cents
		 FROM cancelled_tickets
		 WHERE credit_invoice_id = $1
		 ORDER BY id`,
		creditInvoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cancelled tickets: %w", err)
	}
	defer rows.Close()

	res := make([]model.CancelledTicket, 0)
	for rows.Next() {
		var ct model.CancelledTicket
		if err := rows.Scan(&ct.ID, &ct.CreditInvoiceID, &ct.UserID, &ct.EventName,
			&ct.EventDate, &ct.InvoiceDate, &ct.SeatLabel,
			&ct.NetCents, &ct.TaxCents, &ct.GrossCents); err != nil {
			return nil, fmt.Errorf("scan cancelled ticket: %w", err)
		}
		res = append(res, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
