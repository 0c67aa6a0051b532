package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/database"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

// PostgresOrderStore хранит заказы покупателя одной строкой order_books с колонкой version.
// Запись проходит только если версия строки не изменилась с момента чтения.
type PostgresOrderStore struct {
	db  *database.DB
	log *logger.Logger
}

// NewPostgresOrderStore создает хранилище заказов в PostgreSQL.
func NewPostgresOrderStore(db *database.DB, log *logger.Logger) *PostgresOrderStore {
	return &PostgresOrderStore{db: db, log: log}
}

// orderBookLockKey ключ advisory lock транзакции записи. Все записи книги заказов
// выполняются по одной, включая записи разных покупателей.
const orderBookLockKey int64 = 0x6573696d6f72

type customerRow struct {
	version   int64
	canonical []byte
}

// Load читает все заказы.
func (s *PostgresOrderStore) Load(ctx context.Context) (models.OrderBook, error) {
	book, _, err := s.load(ctx, s.db)
	if err != nil {
		return nil, apperror.Storage("failed to load orders", err)
	}
	return book, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *PostgresOrderStore) load(ctx context.Context, q queryer) (models.OrderBook, map[string]customerRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT customer, orders, version FROM order_books`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query order books: %w", err)
	}
	defer rows.Close()

	book := models.OrderBook{}
	meta := make(map[string]customerRow)
	for rows.Next() {
		var (
			customer string
			raw      []byte
			version  int64
		)
		if err := rows.Scan(&customer, &raw, &version); err != nil {
			return nil, nil, fmt.Errorf("failed to scan order book: %w", err)
		}
		var orders []models.Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			return nil, nil, fmt.Errorf("failed to decode orders of %s: %w", customer, err)
		}
		canonical, err := json.Marshal(orders)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode orders of %s: %w", customer, err)
		}
		book[customer] = orders
		meta[customer] = customerRow{version: version, canonical: canonical}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate order books: %w", err)
	}
	return book, meta, nil
}

// Update читает заказы, применяет fn и сохраняет изменившихся покупателей в одной транзакции.
func (s *PostgresOrderStore) Update(ctx context.Context, fn func(models.OrderBook) error) error {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := s.update(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errVersionMismatch) {
			return err
		}
		s.log.WithField("attempt", attempt).Warn("Order book version changed, retrying update")
	}
	return apperror.Conflict("orders were modified concurrently", errVersionMismatch)
}

func (s *PostgresOrderStore) update(ctx context.Context, fn func(models.OrderBook) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Storage("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, orderBookLockKey); err != nil {
		return apperror.Storage("failed to lock order books", err)
	}

	book, meta, err := s.load(ctx, tx)
	if err != nil {
		return apperror.Storage("failed to load orders", err)
	}
	if err := fn(book); err != nil {
		return err
	}

	customers := make([]string, 0, len(book))
	for customer := range book {
		customers = append(customers, customer)
	}
	sort.Strings(customers)

	for _, customer := range customers {
		data, err := json.Marshal(book[customer])
		if err != nil {
			return apperror.Storage("failed to encode orders", err)
		}
		row, exists := meta[customer]
		if exists && bytes.Equal(row.canonical, data) {
			continue
		}

		var res sql.Result
		if exists {
			res, err = tx.ExecContext(ctx, `
				UPDATE order_books
				SET orders = $1, version = version + 1, updated_at = now()
				WHERE customer = $2 AND version = $3
			`, data, customer, row.version)
		} else {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO order_books (customer, orders, version)
				VALUES ($1, $2, 1)
				ON CONFLICT (customer) DO NOTHING
			`, customer, data)
		}
		if err != nil {
			return apperror.Storage("failed to save orders", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
	}

	for customer, row := range meta {
		if _, ok := book[customer]; ok {
			continue
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM order_books WHERE customer = $1 AND version = $2`, customer, row.version)
		if err != nil {
			return apperror.Storage("failed to delete orders", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("failed to commit orders", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Storage("failed to get rows affected", err)
	}
	if n == 0 {
		return errVersionMismatch
	}
	return nil
}

// Health проверяет доступность базы данных.
func (s *PostgresOrderStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
