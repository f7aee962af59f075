package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/model"
)

// getOrCreateCart возвращает идентификатор корзины пользователя, создавая
// её при первом обращении. Поиск и создание разнесены явно: вставка с
// ON CONFLICT DO NOTHING устойчива к параллельному первому обращению.
func getOrCreateCart(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var cartID int64
	err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
	if err == nil {
		return cartID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("select cart: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert cart: %w", err)
	}

	if err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID); err != nil {
		return 0, fmt.Errorf("reselect cart: %w", err)
	}
	return cartID, nil
}

// rewardCost вычисляет стоимость погашения в баллах с защитой от переполнения.
func rewardCost(pointsPrice, qty int64) (int64, error) {
	if pointsPrice > 0 && qty > math.MaxInt64/pointsPrice {
		return 0, apperr.ErrPointsTooLarge
	}
	return pointsPrice * qty, nil
}

// GetCart возвращает снимок корзины пользователя, создавая корзину при
// первом обращении. Побочных эффектов на остатки и баллы нет.
func (r *PostgresRepository) GetCart(ctx context.Context, userID int64) (*model.CartView, error) {
	var view *model.CartView
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		cartID, err := getOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		view, err = loadCart(ctx, tx, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// loadCart загружает позиции корзины с развёрнутыми данными товара,
// события и места одним явным соединением на каждую разновидность.
func loadCart(ctx context.Context, tx pgx.Tx, cartID int64) (*model.CartView, error) {
	view := &model.CartView{Items: []model.CartItem{}}

	rows, err := tx.Query(ctx,
		`SELECT ci.id, ci.kind, ci.merchandise_id, ci.quantity, m.name, m.price_cents
		 FROM cart_items ci
		 JOIN merchandise m ON m.id = ci.merchandise_id
		 WHERE ci.cart_id = $1 AND ci.kind IN ('MERCHANDISE', 'REWARD')
		 ORDER BY ci.id`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("select merchandise items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item model.CartItem
			line model.CartMerchandiseLine
			kind string
		)
		if err := rows.Scan(&item.ID, &kind, &line.MerchandiseID, &line.Quantity,
			&line.Name, &line.UnitCents); err != nil {
			return nil, fmt.Errorf("scan merchandise item: %w", err)
		}
		item.Kind = model.CartItemKind(kind)
		item.Merchandise = &line
		view.Items = append(view.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	trows, err := tx.Query(ctx,
		`SELECT ci.id, t.id, e.name, s.row_label, s.seat_number, t.gross_cents
		 FROM cart_items ci
		 JOIN tickets t ON t.id = ci.ticket_id
		 JOIN events e ON e.id = t.event_id
		 JOIN seats s ON s.id = t.seat_id
		 WHERE ci.cart_id = $1 AND ci.kind = 'TICKET'
		 ORDER BY ci.id`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ticket items: %w", err)
	}
	defer trows.Close()

	for trows.Next() {
		var (
			item       model.CartItem
			line       model.CartTicketLine
			rowLabel   string
			seatNumber int64
		)
		if err := trows.Scan(&item.ID, &line.TicketID, &line.EventName,
			&rowLabel, &seatNumber, &line.GrossCents); err != nil {
			return nil, fmt.Errorf("scan ticket item: %w", err)
		}
		line.SeatLabel = fmt.Sprintf("%s/%d", rowLabel, seatNumber)
		item.Kind = model.CartItemTicket
		item.Ticket = &line
		view.Items = append(view.Items, item)
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return view, nil
}

// AddMerchandiseItem добавляет товарную или бонусную позицию в корзину.
// Остаток и баллы изменяются в той же транзакции, что и позиция корзины;
// количество накапливается на существующей строке той же разновидности.
func (r *PostgresRepository) AddMerchandiseItem(ctx context.Context, userID, merchandiseID, qty int64, asReward bool) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		points, spentCents, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		merch, err := lockMerchandise(ctx, tx, merchandiseID)
		if err != nil {
			return err
		}

		if asReward {
			if spentCents < model.RegularCustomerThresholdCents {
				return apperr.ErrNotRegularCustomer
			}
			if !merch.Redeemable || merch.PointsPrice <= 0 {
				return apperr.ErrNotRedeemable
			}
			cost, err := rewardCost(merch.PointsPrice, qty)
			if err != nil {
				return err
			}
			if err := debitPoints(ctx, tx, userID, cost, points); err != nil {
				return err
			}
		}

		if err := reserveStock(ctx, tx, merchandiseID, qty, merch.Remaining); err != nil {
			return err
		}

		cartID, err := getOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		kind := model.CartItemMerchandise
		if asReward {
			kind = model.CartItemReward
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO cart_items (cart_id, kind, merchandise_id, quantity)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (cart_id, kind, merchandise_id) WHERE merchandise_id IS NOT NULL
			 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
			cartID, string(kind), merchandiseID, qty,
		)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}

		return nil
	})
}

type lockedCartItem struct {
	ID            int64
	Kind          model.CartItemKind
	MerchandiseID int64
	Quantity      int64
	CartOwnerID   int64
}

// lockCartItem блокирует позицию корзины и проверяет владельца.
func lockCartItem(ctx context.Context, tx pgx.Tx, itemID, userID int64) (*lockedCartItem, error) {
	var (
		item          lockedCartItem
		kind          string
		merchandiseID *int64
		quantity      *int64
	)
	err := tx.QueryRow(ctx,
		`SELECT ci.id, ci.kind, ci.merchandise_id, ci.quantity, c.user_id
		 FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE ci.id = $1
		 FOR UPDATE OF ci`,
		itemID,
	).Scan(&item.ID, &kind, &merchandiseID, &quantity, &item.CartOwnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrCartItemNotFound
		}
		return nil, fmt.Errorf("lock cart item: %w", err)
	}

	if item.CartOwnerID != userID {
		return nil, apperr.ErrNotOwner
	}

	item.Kind = model.CartItemKind(kind)
	if merchandiseID != nil {
		item.MerchandiseID = *merchandiseID
	}
	if quantity != nil {
		item.Quantity = *quantity
	}
	return &item, nil
}

// UpdateItemQuantity изменяет количество товарной позиции. Положительная
// дельта резервирует остаток (и списывает баллы для REWARD), отрицательная —
// возвращает; нулевое новое количество эквивалентно удалению позиции.
func (r *PostgresRepository) UpdateItemQuantity(ctx context.Context, userID, itemID, newQty int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		points, _, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		item, err := lockCartItem(ctx, tx, itemID, userID)
		if err != nil {
			return err
		}
		if item.Kind == model.CartItemTicket {
			return apperr.ErrNoQuantity
		}

		merch, err := lockMerchandise(ctx, tx, item.MerchandiseID)
		if err != nil {
			return err
		}

		delta := newQty - item.Quantity
		switch {
		case delta > 0:
			if item.Kind == model.CartItemReward {
				cost, err := rewardCost(merch.PointsPrice, delta)
				if err != nil {
					return err
				}
				if err := debitPoints(ctx, tx, userID, cost, points); err != nil {
					return err
				}
			}
			if err := reserveStock(ctx, tx, item.MerchandiseID, delta, merch.Remaining); err != nil {
				return err
			}
		case delta < 0:
			release := -delta
			if err := releaseStock(ctx, tx, item.MerchandiseID, release); err != nil {
				return err
			}
			if item.Kind == model.CartItemReward {
				refund, err := rewardCost(merch.PointsPrice, release)
				if err != nil {
					return err
				}
				if err := creditPoints(ctx, tx, userID, refund); err != nil {
					return err
				}
			}
		}

		if newQty == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID); err != nil {
				return fmt.Errorf("delete cart item: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE cart_items SET quantity = $2 WHERE id = $1`,
			itemID, newQty,
		); err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}
		return nil
	})
}

// RemoveItem удаляет товарную позицию, возвращая остаток на склад и баллы
// пользователю для REWARD-позиций. Для билетных позиций используется
// RemoveTicketItem.
func (r *PostgresRepository) RemoveItem(ctx context.Context, userID, itemID int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		item, err := lockCartItem(ctx, tx, itemID, userID)
		if err != nil {
			return err
		}
		if item.Kind == model.CartItemTicket {
			return apperr.ErrNoQuantity
		}

		merch, err := lockMerchandise(ctx, tx, item.MerchandiseID)
		if err != nil {
			return err
		}

		if err := releaseStock(ctx, tx, item.MerchandiseID, item.Quantity); err != nil {
			return err
		}
		if item.Kind == model.CartItemReward {
			refund, err := rewardCost(merch.PointsPrice, item.Quantity)
			if err != nil {
				return err
			}
			if err := creditPoints(ctx, tx, userID, refund); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID); err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		return nil
	})
}

// AddTicketItem кладёт билет в корзину. Купленные билеты отклоняются,
// чужая бронь запрещена; повторное добавление того же билета идемпотентно.
func (r *PostgresRepository) AddTicketItem(ctx context.Context, userID, ticketID int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			invoiceID        *int64
			reservationOwner *int64
		)
		err := tx.QueryRow(ctx,
			`SELECT t.invoice_id, res.user_id
			 FROM tickets t
			 LEFT JOIN reservations res ON res.id = t.reservation_id
			 WHERE t.id = $1
			 FOR UPDATE OF t`,
			ticketID,
		).Scan(&invoiceID, &reservationOwner)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrTicketNotFound
			}
			return fmt.Errorf("lock ticket: %w", err)
		}

		if invoiceID != nil {
			return apperr.ErrAlreadyPurchased
		}
		if reservationOwner != nil && *reservationOwner != userID {
			return apperr.ErrNotOwner
		}

		cartID, err := getOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO cart_items (cart_id, kind, ticket_id)
			 VALUES ($1, 'TICKET', $2)
			 ON CONFLICT (cart_id, ticket_id) WHERE ticket_id IS NOT NULL DO NOTHING`,
			cartID, ticketID,
		)
		if err != nil {
			return fmt.Errorf("insert ticket item: %w", err)
		}
		return nil
	})
}

// RemoveTicketItem убирает билет из корзины и уничтожает сам билет:
// удаление неподтверждённого билета из корзины означает снятие брони,
// а не простое открепление позиции. Опустевшая бронь удаляется.
func (r *PostgresRepository) RemoveTicketItem(ctx context.Context, userID, ticketID int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			itemID        int64
			invoiceID     *int64
			reservationID *int64
		)
		err := tx.QueryRow(ctx,
			`SELECT ci.id, t.invoice_id, t.reservation_id
			 FROM cart_items ci
			 JOIN carts c ON c.id = ci.cart_id
			 JOIN tickets t ON t.id = ci.ticket_id
			 WHERE c.user_id = $1 AND ci.ticket_id = $2
			 FOR UPDATE OF ci, t`,
			userID, ticketID,
		).Scan(&itemID, &invoiceID, &reservationID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrCartItemNotFound
			}
			return fmt.Errorf("lock ticket item: %w", err)
		}

		if invoiceID != nil {
			return apperr.ErrAlreadyPurchased
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID); err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, ticketID); err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}

		if reservationID != nil {
			if err := dropReservationIfEmpty(ctx, tx, *reservationID); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropReservationIfEmpty удаляет бронь, если на неё больше не ссылается
// ни один билет.
func dropReservationIfEmpty(ctx context.Context, tx pgx.Tx, reservationID int64) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM reservations r
		 WHERE r.id = $1
		   AND NOT EXISTS (SELECT 1 FROM tickets t WHERE t.reservation_id = r.id)`,
		reservationID,
	)
	if err != nil {
		return fmt.Errorf("drop empty reservation: %w", err)
	}
	return nil
}
