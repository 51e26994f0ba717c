package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fjod/go_checkout/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RunMigrations(migrationsDirPath string) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// PersistOrder writes the order, its items, its payment, and an
// order_completed outbox event in one transaction.
func (s *PostgresStore) PersistOrder(ctx context.Context, order domain.Order, items []domain.OrderItem, payment domain.Payment) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin order transaction: %w", err)
	}
	defer tx.Rollback()

	var idempotencyKey sql.NullString
	if order.IdempotencyKey != "" {
		idempotencyKey = sql.NullString{String: order.IdempotencyKey, Valid: true}
	}

	orderQuery := `INSERT INTO orders
	    (id, user_id, shipping_address_id, total_amount, currency, status, payment_id, payment_status, idempotency_key, created_at, updated_at)
	    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`
	if _, err := tx.ExecContext(ctx, orderQuery,
		order.ID,
		order.UserID,
		order.ShippingAddressID,
		order.TotalAmount,
		order.Currency,
		order.Status,
		order.PaymentID,
		order.PaymentStatus,
		idempotencyKey,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return uuid.Nil, ErrDuplicateCheckout
		}
		return uuid.Nil, fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (order_id, product_id, variant_sku, quantity, price)
	              VALUES ($1, $2, $3, $4, $5)`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, itemQuery,
			item.OrderID, item.ProductID, item.VariantSKU, item.Quantity, item.Price); err != nil {
			return uuid.Nil, fmt.Errorf("insert order item %s: %w", item.VariantSKU, err)
		}
	}

	paymentQuery := `INSERT INTO payments (id, order_id, amount, currency, status, transaction_id, created_at)
	                 VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	if _, err := tx.ExecContext(ctx, paymentQuery,
		payment.ID, payment.OrderID, payment.Amount, payment.Currency, payment.Status, payment.TransactionID); err != nil {
		return uuid.Nil, fmt.Errorf("insert payment: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":       order.ID,
		"user_id":        order.UserID,
		"total_amount":   order.TotalAmount,
		"currency":       order.Currency,
		"payment_id":     payment.ID,
		"transaction_id": payment.TransactionID,
		"completed_at":   time.Now().UTC(),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal outbox payload: %w", err)
	}

	outboxQuery := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	                VALUES ($1, $2, $3, NOW())`
	if _, err := tx.ExecContext(ctx, outboxQuery, order.ID.String(), "order_completed", payload); err != nil {
		return uuid.Nil, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit order transaction: %w", err)
	}

	return order.ID, nil
}

func (s *PostgresStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT id, user_id, shipping_address_id, total_amount, currency, status, payment_id, payment_status, COALESCE(idempotency_key, ''), created_at, updated_at
	          FROM orders WHERE id = $1`
	return s.scanOrder(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	query := `SELECT id, user_id, shipping_address_id, total_amount, currency, status, payment_id, payment_status, COALESCE(idempotency_key, ''), created_at, updated_at
	          FROM orders WHERE idempotency_key = $1`
	return s.scanOrder(s.db.QueryRowContext(ctx, query, key))
}

func (s *PostgresStore) scanOrder(row *sql.Row) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ShippingAddressID,
		&order.TotalAmount,
		&order.Currency,
		&order.Status,
		&order.PaymentID,
		&order.PaymentStatus,
		&order.IdempotencyKey,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}
	return &order, nil
}

// GetOrderItems returns the persisted line items for an order.
func (s *PostgresStore) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `SELECT order_id, product_id, variant_sku, quantity, price
	          FROM order_items WHERE order_id = $1 ORDER BY variant_sku`

	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.VariantSKU, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at, processed_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var event OutboxEvent
		if err := rows.Scan(&event.ID, &event.AggregateID, &event.EventType, &event.Payload, &event.CreatedAt, &event.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) MarkEventAsProcessed(ctx context.Context, eventID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, eventID); err != nil {
		return fmt.Errorf("mark outbox event %d processed: %w", eventID, err)
	}
	return nil
}
