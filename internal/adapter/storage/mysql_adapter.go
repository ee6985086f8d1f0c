package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

const mysqlDuplicateEntry = 1062

//go:embed schema.sql
var schema string

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the items and orders tables if they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

func (m *MySQLAdapter) MaterializeOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, item_id, price, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.ItemID, order.Price, order.CreatedAt,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return errors.Mark(errors.Wrap(err, "insert order"), port.ErrDuplicateOrder)
		}
		return errors.Wrap(err, "insert order")
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock - 1
		WHERE id = ? AND stock > 0`,
		order.ItemID,
	)
	if err != nil {
		return errors.Wrap(err, "decrement stock")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return port.ErrStockGuard
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func (m *MySQLAdapter) OrderExists(ctx context.Context, userID, itemID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = ? AND item_id = ?)`,
		userID, itemID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "query order")
	}

	return exists, nil
}

const itemColumns = `id, name, title, image, price, stock, start_time, end_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item       domain.Item
		start, end sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Name, &item.Title, &item.Image, &item.Price, &item.Stock, &start, &end)
	if err != nil {
		return domain.Item{}, err
	}

	item.StartTime = start.Time
	item.EndTime = end.Time
	return item, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := scanItem(m.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query item")
	}

	return &item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		items = append(items, item)
	}

	return items, errors.Wrap(rows.Err(), "iterate items")
}
