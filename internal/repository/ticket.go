package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/model"
)

// newDocumentNumber генерирует непрозрачный уникальный номер документа.
func newDocumentNumber(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// CreateTicket создаёт свободный билет на пару (событие, место) с ценами,
// зафиксированными из базовой цены места. Двойную продажу места пресекает
// уникальное ограничение БД: его нарушение транслируется в конфликт,
// предварительной проверки занятости нет — у неё было бы окно гонки.
func (r *PostgresRepository) CreateTicket(ctx context.Context, eventID, seatID int64) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
			return fmt.Errorf("check event: %w", err)
		}
		if !exists {
			return apperr.ErrEventNotFound
		}

		var netCents int64
		err := tx.QueryRow(ctx, `SELECT price_cents FROM seats WHERE id = $1`, seatID).Scan(&netCents)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrSeatNotFound
			}
			return fmt.Errorf("select seat: %w", err)
		}

		gross, tax := model.GrossFromNet(netCents, model.TicketTaxRateBP)

		t := model.Ticket{
			EventID:    eventID,
			SeatID:     seatID,
			NetCents:   netCents,
			TaxCents:   tax,
			GrossCents: gross,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO tickets (event_id, seat_id, net_cents, tax_cents, gross_cents)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			eventID, seatID, netCents, tax, gross,
		).Scan(&t.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.ErrSeatTaken
			}
			return fmt.Errorf("insert ticket: %w", err)
		}

		ticket = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

type lockedTicket struct {
	ID               int64
	NetCents         int64
	TaxCents         int64
	GrossCents       int64
	ReservationID    *int64
	InvoiceID        *int64
	ReservationOwner *int64
}

// lockTickets блокирует билеты в детерминированном порядке. Отсутствие
// любого из запрошенных билетов — ошибка поиска.
func lockTickets(ctx context.Context, tx pgx.Tx, ticketIDs []int64) ([]lockedTicket, error) {
	rows, err := tx.Query(ctx,
		`SELECT t.id, t.net_cents, t.tax_cents, t.gross_cents, t.reservation_id, t.invoice_id, res.user_id
		 FROM tickets t
		 LEFT JOIN reservations res ON res.id = t.reservation_id
		 WHERE t.id = ANY($1)
		 ORDER BY t.id
		 FOR UPDATE OF t`,
		ticketIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("lock tickets: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]lockedTicket, len(ticketIDs))
	for rows.Next() {
		var t lockedTicket
		if err := rows.Scan(&t.ID, &t.NetCents, &t.TaxCents, &t.GrossCents,
			&t.ReservationID, &t.InvoiceID, &t.ReservationOwner); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	res := make([]lockedTicket, 0, len(ticketIDs))
	seen := make(map[int64]bool, len(ticketIDs))
	for _, id := range ticketIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		t, ok := byID[id]
		if !ok {
			return nil, apperr.ErrTicketNotFound
		}
		res = append(res, t)
	}
	return res, nil
}

// ReserveTickets создаёт бронь и прикрепляет к ней все указанные билеты.
// Билет с существующей бронью или счётом бронировать нельзя.
func (r *PostgresRepository) ReserveTickets(ctx context.Context, userID int64, ticketIDs []int64) (*model.Reservation, error) {
	var reservation *model.Reservation
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tickets, err := lockTickets(ctx, tx, ticketIDs)
		if err != nil {
			return err
		}

		for _, t := range tickets {
			if t.InvoiceID != nil {
				return apperr.ErrAlreadyPurchased
			}
			if t.ReservationID != nil {
				return apperr.ErrAlreadyReserved
			}
		}

		res := model.Reservation{
			Number: newDocumentNumber("R"),
			UserID: userID,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO reservations (number, user_id) VALUES ($1, $2) RETURNING id, created_at`,
			res.Number, userID,
		).Scan(&res.ID, &res.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		ids := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			ids = append(ids, t.ID)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE tickets SET reservation_id = $2 WHERE id = ANY($1)`,
			ids, res.ID,
		); err != nil {
			return fmt.Errorf("attach tickets: %w", err)
		}

		reservation = &res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// PurchaseTickets покупает билеты, создавая один билетный счёт на всех.
// Билет либо свободен, либо забронирован самим покупателем; чужая бронь
// и повторная покупка отклоняются. Опустевшие брони удаляются.
func (r *PostgresRepository) PurchaseTickets(ctx context.Context, userID int64, ticketIDs []int64) (int64, error) {
	var invoiceID int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tickets, err := lockTickets(ctx, tx, ticketIDs)
		if err != nil {
			return err
		}

		if err := checkPurchasable(tickets, userID); err != nil {
			return err
		}

		invoiceID, err = insertTicketInvoice(ctx, tx, userID, tickets)
		return err
	})
	if err != nil {
		return 0, err
	}
	return invoiceID, nil
}

func checkPurchasable(tickets []lockedTicket, userID int64) error {
	for _, t := range tickets {
		if t.InvoiceID != nil {
			return apperr.ErrAlreadyPurchased
		}
		if t.ReservationOwner != nil && *t.ReservationOwner != userID {
			return apperr.ErrNotOwner
		}
	}
	return nil
}

// insertTicketInvoice создаёт билетный счёт, прикрепляет билеты, снимает
// с них бронь, вычищает позиции корзин и удаляет опустевшие брони.
// Используется и прямой покупкой, и оформлением корзины.
func insertTicketInvoice(ctx context.Context, tx pgx.Tx, userID int64, tickets []lockedTicket) (int64, error) {
	var net, tax, gross int64
	ids := make([]int64, 0, len(tickets))
	reservationIDs := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		net += t.NetCents
		tax += t.TaxCents
		gross += t.GrossCents
		ids = append(ids, t.ID)
		if t.ReservationID != nil {
			reservationIDs = append(reservationIDs, *t.ReservationID)
		}
	}

	var invoiceID int64
	err := tx.QueryRow(ctx,
		`INSERT INTO invoices (number, user_id, kind, net_cents, tax_cents, gross_cents)
		 VALUES ($1, $2, 'TICKET', $3, $4, $5)
		 RETURNING id`,
		newDocumentNumber("I"), userID, net, tax, gross,
	).Scan(&invoiceID)
	if err != nil {
		return 0, fmt.Errorf("insert ticket invoice: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET invoice_id = $2, reservation_id = NULL WHERE id = ANY($1)`,
		ids, invoiceID,
	); err != nil {
		return 0, fmt.Errorf("attach tickets to invoice: %w", err)
	}

	// Купленный билет не может оставаться позицией чьей-либо корзины.
	if _, err := tx.Exec(ctx,
		`DELETE FROM cart_items WHERE ticket_id = ANY($1)`,
		ids,
	); err != nil {
		return 0, fmt.Errorf("clear ticket cart items: %w", err)
	}

	for _, resID := range reservationIDs {
		if err := dropReservationIfEmpty(ctx, tx, resID); err != nil {
			return 0, err
		}
	}

	return invoiceID, nil
}

// CancelTickets снимает бронь с билетов и уничтожает их. Путь для
// неоплаченных билетов: счетов нет, сторнирующий документ не создаётся.
func (r *PostgresRepository) CancelTickets(ctx context.Context, userID int64, ticketIDs []int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tickets, err := lockTickets(ctx, tx, ticketIDs)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(tickets))
		reservationIDs := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			if t.InvoiceID != nil {
				return apperr.ErrAlreadyPurchased
			}
			if t.ReservationOwner != nil && *t.ReservationOwner != userID {
				return apperr.ErrNotOwner
			}
			ids = append(ids, t.ID)
			if t.ReservationID != nil {
				reservationIDs = append(reservationIDs, *t.ReservationID)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE ticket_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("clear ticket cart items: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}

		for _, resID := range reservationIDs {
			if err := dropReservationIfEmpty(ctx, tx, resID); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindTicketForUser возвращает билет с развёрнутыми данными события и места.
// Билет, забронированный или купленный другим пользователем, недоступен.
func (r *PostgresRepository) FindTicketForUser(ctx context.Context, userID, ticketID int64) (*model.TicketDetail, error) {
	var (
		d                model.TicketDetail
		rowLabel         string
		seatNumber       int64
		reservationOwner *int64
		invoiceOwner     *int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT t.id, t.event_id, t.seat_id, t.net_cents, t.tax_cents, t.gross_cents,
		        t.reservation_id, t.invoice_id,
		        e.name, e.starts_at, s.row_label, s.seat_number,
		        res.number, res.user_id, inv.number, inv.user_id
		 FROM tickets t
		 JOIN events e ON e.id = t.event_id
		 JOIN seats s ON s.id = t.seat_id
		 LEFT JOIN reservations res ON res.id = t.reservation_id
		 LEFT JOIN invoices inv ON inv.id = t.invoice_id
		 WHERE t.id = $1`,
		ticketID,
	).Scan(&d.Ticket.ID, &d.Ticket.EventID, &d.Ticket.SeatID,
		&d.Ticket.NetCents, &d.Ticket.TaxCents, &d.Ticket.GrossCents,
		&d.Ticket.ReservationID, &d.Ticket.InvoiceID,
		&d.EventName, &d.EventDate, &rowLabel, &seatNumber,
		&d.ReservationNumber, &reservationOwner, &d.InvoiceNumber, &invoiceOwner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket: %w", err)
	}

	if reservationOwner != nil && *reservationOwner != userID {
		return nil, apperr.ErrNotOwner
	}
	if invoiceOwner != nil && *invoiceOwner != userID {
		return nil, apperr.ErrNotOwner
	}

	d.SeatLabel = fmt.Sprintf("%s/%d", rowLabel, seatNumber)
	return &d, nil
}

// FindReservationByID возвращает бронь пользователя вместе с билетами.
func (r *PostgresRepository) FindReservationByID(ctx context.Context, userID, reservationID int64) (*model.ReservationDetail, error) {
	var d model.ReservationDetail
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, user_id, created_at FROM reservations WHERE id = $1`,
		reservationID,
	).Scan(&d.Reservation.ID, &d.Reservation.Number, &d.Reservation.UserID, &d.Reservation.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrReservationNotFound
		}
		return nil, fmt.Errorf("find reservation: %w", err)
	}

	if d.Reservation.UserID != userID {
		return nil, apperr.ErrNotOwner
	}

	tickets, err := r.reservationTickets(ctx, []int64{reservationID})
	if err != nil {
		return nil, err
	}
	d.Tickets = tickets[reservationID]
	if d.Tickets == nil {
		d.Tickets = []model.TicketDetail{}
	}
	return &d, nil
}

// FindReservationsByUser возвращает все брони пользователя, новые первыми.
func (r *PostgresRepository) FindReservationsByUser(ctx context.Context, userID int64) ([]model.ReservationDetail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, number, user_id, created_at
		 FROM reservations
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	details := make([]model.ReservationDetail, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var d model.ReservationDetail
		if err := rows.Scan(&d.Reservation.ID, &d.Reservation.Number,
			&d.Reservation.UserID, &d.Reservation.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		d.Tickets = []model.TicketDetail{}
		details = append(details, d)
		ids = append(ids, d.Reservation.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(details) == 0 {
		return details, nil
	}

	tickets, err := r.reservationTickets(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range details {
		if ts, ok := tickets[details[i].Reservation.ID]; ok {
			details[i].Tickets = ts
		}
	}
	return details, nil
}

// reservationTickets загружает билеты нескольких броней одним запросом.
func (r *PostgresRepository) reservationTickets(ctx context.Context, reservationIDs []int64) (map[int64][]model.TicketDetail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.reservation_id, t.id, t.event_id, t.seat_id,
		        t.net_cents, t.tax_cents, t.gross_cents,
		        e.name, e.starts_at, s.row_label, s.seat_number
		 FROM tickets t
		 JOIN events e ON e.id = t.event_id
		 JOIN seats s ON s.id = t.seat_id
		 WHERE t.reservation_id = ANY($1)
		 ORDER BY t.id`,
		reservationIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select reservation tickets: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.TicketDetail)
	for rows.Next() {
		var (
			reservationID int64
			d             model.TicketDetail
			rowLabel      string
			seatNumber    int64
		)
		if err := rows.Scan(&reservationID, &d.Ticket.ID, &d.Ticket.EventID, &d.Ticket.SeatID,
			&d.Ticket.NetCents, &d.Ticket.TaxCents, &d.Ticket.GrossCents,
			&d.EventName, &d.EventDate, &rowLabel, &seatNumber); err != nil {
			return nil, fmt.Errorf("scan reservation ticket: %w", err)
		}
		rid := reservationID
		d.Ticket.ReservationID = &rid
		d.SeatLabel = fmt.Sprintf("%s/%d", rowLabel, seatNumber)
		res[reservationID] = append(res[reservationID], d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
