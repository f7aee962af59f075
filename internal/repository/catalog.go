package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
	"github.com/mmeshcher/ticketline-system/internal/model"
)

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, points, spent_cents, created_at FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Points, &u.SpentCents, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, points, spent_cents, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Points, &u.SpentCents, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// FindMerchandise возвращает товар каталога; мягко удалённые товары не видны.
func (r *PostgresRepository) FindMerchandise(ctx context.Context, id int64) (*model.Merchandise, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, price_cents, remaining, deleted, redeemable, points_price, points_per_unit
		 FROM merchandise
		 WHERE id = $1 AND NOT deleted`,
		id,
	)

	var m model.Merchandise
	err := row.Scan(&m.ID, &m.Name, &m.PriceCents, &m.Remaining, &m.Deleted,
		&m.Redeemable, &m.PointsPrice, &m.PointsPerUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrMerchandiseNotFound
		}
		return nil, fmt.Errorf("find merchandise: %w", err)
	}

	return &m, nil
}

// ListMerchandise возвращает видимые товары каталога.
func (r *PostgresRepository) ListMerchandise(ctx context.Context) ([]model.Merchandise, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price_cents, remaining, deleted, redeemable, points_price, points_per_unit
		 FROM merchandise
		 WHERE NOT deleted
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list merchandise: %w", err)
	}
	defer rows.Close()

	var res []model.Merchandise
	for rows.Next() {
		var m model.Merchandise
		if err := rows.Scan(&m.ID, &m.Name, &m.PriceCents, &m.Remaining, &m.Deleted,
			&m.Redeemable, &m.PointsPrice, &m.PointsPerUnit); err != nil {
			return nil, fmt.Errorf("scan merchandise: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// FindEvent возвращает событие каталога.
func (r *PostgresRepository) FindEvent(ctx context.Context, id int64) (*model.Event, error) {
	var e model.Event
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, starts_at FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.StartsAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrEventNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &e, nil
}

// FindSeat возвращает место каталога.
func (r *PostgresRepository) FindSeat(ctx context.Context, id int64) (*model.Seat, error) {
	var s model.Seat
	err := r.pool.QueryRow(ctx,
		`SELECT id, sector, row_label, seat_number, price_cents FROM seats WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Sector, &s.RowLabel, &s.SeatNumber, &s.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrSeatNotFound
		}
		return nil, fmt.Errorf("find seat: %w", err)
	}
	return &s, nil
}
