// Package repository содержит реализацию доступа к данным в PostgreSQL.
//
// Каждая публичная мутация выполняется в одной транзакции: складские
// остатки, баллы, корзина, билеты и счета изменяются вместе или никак.
// Гонки за место разрешает уникальное ограничение tickets(event_id, seat_id),
// а не предварительная проверка.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/ticketline-system/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке регистрации с занятым email.
var ErrUserExists = errors.New("user already exists")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при сбоях сериализации и дедлоках.
// Бизнес-ошибки (конфликт места, нехватка остатка и т.п.) не повторяются
// и сразу возвращаются вызывающему коду.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// inTx выполняет fn внутри транзакции с откатом при любой ошибке.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// lockUser блокирует строку пользователя и возвращает его баллы и траты.
// Блокировка сериализует все изменения баллов и остатков в рамках одного
// пользователя.
func lockUser(ctx context.Context, tx pgx.Tx, userID int64) (points, spentCents int64, err error) {
	err = tx.QueryRow(ctx,
		`SELECT points, spent_cents FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&points, &spentCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, apperr.ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("lock user: %w", err)
	}
	return points, spentCents, nil
}

type lockedMerchandise struct {
	Name          string
	PriceCents    int64
	Remaining     int64
	Redeemable    bool
	PointsPrice   int64
	PointsPerUnit int64
}

// lockMerchandise блокирует строку товара для проверки и изменения остатка.
func lockMerchandise(ctx context.Context, tx pgx.Tx, merchandiseID int64) (*lockedMerchandise, error) {
	var m lockedMerchandise
	err := tx.QueryRow(ctx,
		`SELECT name, price_cents, remaining, redeemable, points_price, points_per_unit
		 FROM merchandise
		 WHERE id = $1 AND NOT deleted
		 FOR UPDATE`,
		merchandiseID,
	).Scan(&m.Name, &m.PriceCents, &m.Remaining, &m.Redeemable, &m.PointsPrice, &m.PointsPerUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrMerchandiseNotFound
		}
		return nil, fmt.Errorf("lock merchandise: %w", err)
	}
	return &m, nil
}

// reserveStock уменьшает остаток товара; отрицательный остаток невозможен,
// проверка и декремент выполняются под блокировкой строки.
func reserveStock(ctx context.Context, tx pgx.Tx, merchandiseID, qty, remaining int64) error {
	if qty > remaining {
		return apperr.ErrInsufficientStock
	}
	_, err := tx.Exec(ctx,
		`UPDATE merchandise SET remaining = remaining - $2 WHERE id = $1`,
		merchandiseID, qty,
	)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	return nil
}

// releaseStock возвращает остаток товара при удалении или уменьшении позиции.
func releaseStock(ctx context.Context, tx pgx.Tx, merchandiseID, qty int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE merchandise SET remaining = remaining + $2 WHERE id = $1`,
		merchandiseID, qty,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

// debitPoints списывает баллы пользователя; баланс не может стать отрицательным.
func debitPoints(ctx context.Context, tx pgx.Tx, userID, cost, balance int64) error {
	if cost > balance {
		return apperr.ErrInsufficientPoints
	}
	_, err := tx.Exec(ctx,
		`UPDATE users SET points = points - $2 WHERE id = $1`,
		userID, cost,
	)
	if err != nil {
		return fmt.Errorf("debit points: %w", err)
	}
	return nil
}

// creditPoints начисляет баллы пользователю.
func creditPoints(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET points = points + $2 WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("credit points: %w", err)
	}
	return nil
}
