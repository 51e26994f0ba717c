package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// PostgresLedger implements Ledger on a stock_records table. The conditional
// decrement lives in a single UPDATE so the atomicity comes from the store,
// not from in-process locking; multiple service instances can share the table.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) RunMigrations(migrationsDirPath string) error {
	driver, err := postgres.WithInstance(l.db, &postgres.Config{
		MigrationsTable: "stock_schema_migrations",
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

func (l *PostgresLedger) Reserve(ctx context.Context, sku string, quantity int32) (int32, error) {
	// The WHERE guard makes the decrement conditional; RETURNING gives the
	// post-decrement quantity, so prev = returned + quantity.
	query := `UPDATE stock_records
	          SET available_quantity = available_quantity - $2, updated_at = NOW()
	          WHERE sku = $1 AND available_quantity >= $2
	          RETURNING available_quantity`

	var remaining int32
	err := l.db.QueryRowContext(ctx, query, sku, quantity).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows affected: either the sku is unknown or stock ran out.
		// Distinguish for the caller's error message.
		if _, getErr := l.GetStock(ctx, sku); errors.Is(getErr, ErrSKUNotFound) {
			return 0, ErrSKUNotFound
		}
		return 0, ErrInsufficientStock
	}
	if err != nil {
		return 0, fmt.Errorf("reserve stock for %s: %w", sku, err)
	}

	return remaining + quantity, nil
}

func (l *PostgresLedger) Release(ctx context.Context, sku string, quantity int32) error {
	query := `UPDATE stock_records
	          SET available_quantity = available_quantity + $2, updated_at = NOW()
	          WHERE sku = $1`

	res, err := l.db.ExecContext(ctx, query, sku, quantity)
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", sku, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", sku, err)
	}
	if affected == 0 {
		return ErrSKUNotFound
	}

	return nil
}

func (l *PostgresLedger) SetStock(ctx context.Context, sku string, quantity int32) error {
	query := `INSERT INTO stock_records (sku, available_quantity, created_at, updated_at)
	          VALUES ($1, $2, NOW(), NOW())
	          ON CONFLICT (sku) DO UPDATE SET available_quantity = $2, updated_at = NOW()`

	if _, err := l.db.ExecContext(ctx, query, sku, quantity); err != nil {
		return fmt.Errorf("set stock for %s: %w", sku, err)
	}
	return nil
}

func (l *PostgresLedger) GetStock(ctx context.Context, sku string) (int32, error) {
	var available int32
	err := l.db.QueryRowContext(ctx,
		`SELECT available_quantity FROM stock_records WHERE sku = $1`, sku).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSKUNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get stock for %s: %w", sku, err)
	}
	return available, nil
}
