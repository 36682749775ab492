package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

// SQLAdapter implements the repositories on database/sql. Production runs
// it on MySQL; the SQLite dialect exists for tests and local runs.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ port.CatalogRepository = (*SQLAdapter)(nil)
	_ port.StockRepository   = (*SQLAdapter)(nil)
	_ port.CartRepository    = (*SQLAdapter)(nil)
	_ port.OrderRepository   = (*SQLAdapter)(nil)
	_ port.AccountRepository = (*SQLAdapter)(nil)
)

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

const itemColumns = `id, producer_id, group_id, name, price, quantity, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := row.Scan(&item.ID, &item.ProducerID, &item.GroupID, &item.Name,
		&item.Price, &item.Quantity, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (m *SQLAdapter) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	item, err := scanItem(m.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (m *SQLAdapter) ListItems(ctx context.Context, filter port.ItemFilter) ([]domain.CatalogItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.ProducerID != "" {
		where = append(where, "producer_id = ?")
		args = append(args, filter.ProducerID)
	}
	if filter.MinPrice.Valid {
		where = append(where, "price >= ?")
		args = append(args, filter.MinPrice.Decimal)
	}
	if filter.MaxPrice.Valid {
		where = append(where, "price <= ?")
		args = append(args, filter.MaxPrice.Decimal)
	}

	query := `SELECT ` + itemColumns + ` FROM catalog_items` + whereClause(where) +
		` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, port.PageLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []domain.CatalogItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveItem upserts listing fields. Quantity is only written on insert.
func (m *SQLAdapter) SaveItem(ctx context.Context, item domain.CatalogItem) error {
	var query string
	switch m.dialect {
	case DialectSQLite:
		query = `INSERT INTO catalog_items (` + itemColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				producer_id = excluded.producer_id,
				group_id = excluded.group_id,
				name = excluded.name,
				price = excluded.price,
				updated_at = excluded.updated_at`
	default:
		query = `INSERT INTO catalog_items (` + itemColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				producer_id = VALUES(producer_id),
				group_id = VALUES(group_id),
				name = VALUES(name),
				price = VALUES(price),
				updated_at = VALUES(updated_at)`
	}
	_, err := m.db.ExecContext(ctx, query,
		item.ID, item.ProducerID, item.GroupID, item.Name, item.Price, item.Quantity,
		item.Version, dbTime(item.CreatedAt), dbTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (m *SQLAdapter) DeleteItem(ctx context.Context, itemID string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *SQLAdapter) DecrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	return m.adjustStock(ctx, itemID, quantity.Neg())
}

func (m *SQLAdapter) IncrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	return m.adjustStock(ctx, itemID, quantity)
}

// adjustStock applies delta with one conditional UPDATE, so the stock check
// and the write are a single statement. The row stays locked until commit,
// which makes the read-back an exact after snapshot.
func (m *SQLAdapter) adjustStock(ctx context.Context, itemID string, delta decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CatalogItem{}, domain.CatalogItem{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE catalog_items
		SET quantity = quantity + CAST(? AS DECIMAL(20, 4)), version = version + 1, updated_at = ?
		WHERE id = ? AND quantity + CAST(? AS DECIMAL(20, 4)) >= 0`,
		delta, dbTime(time.Now()), itemID, delta,
	)
	if err != nil {
		return domain.CatalogItem{}, domain.CatalogItem{}, fmt.Errorf("adjust stock: %w", err)
	}
	rows, _ := result.RowsAffected()

	after, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, domain.CatalogItem{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CatalogItem{}, domain.CatalogItem{}, fmt.Errorf("query item: %w", err)
	}
	if rows == 0 {
		return domain.CatalogItem{}, domain.CatalogItem{}, domain.ErrInsufficientStock
	}
	if err := tx.Commit(); err != nil {
		return domain.CatalogItem{}, domain.CatalogItem{}, fmt.Errorf("commit: %w", err)
	}

	// the previous updated_at is not read back
	before := after
	before.Quantity = after.Quantity.Sub(delta)
	before.Version = after.Version - 1
	return before, after, nil
}

func (m *SQLAdapter) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, buyer_id, item_id, quantity, unit_price, added_at
		FROM cart_entries WHERE buyer_id = ?
		ORDER BY added_at, id`, buyerID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	cart := domain.Cart{BuyerID: buyerID}
	for rows.Next() {
		var e domain.CartEntry
		if err := rows.Scan(&e.ID, &e.BuyerID, &e.ItemID, &e.Quantity, &e.UnitPrice, &e.AddedAt); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart entry: %w", err)
		}
		e.AddedAt = e.AddedAt.UTC()
		cart.Entries = append(cart.Entries, e)
	}
	return cart, rows.Err()
}

// SaveCart replaces all entries of the buyer in one transaction.
func (m *SQLAdapter) SaveCart(ctx context.Context, cart domain.Cart) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_entries WHERE buyer_id = ?`, cart.BuyerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	for _, e := range cart.Entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_entries (id, buyer_id, item_id, quantity, unit_price, added_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, cart.BuyerID, e.ItemID, e.Quantity, e.UnitPrice, dbTime(e.AddedAt),
		)
		if err != nil {
			return fmt.Errorf("insert cart entry: %w", err)
		}
	}
	return tx.Commit()
}

func (m *SQLAdapter) DeleteCart(ctx context.Context, buyerID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM cart_entries WHERE buyer_id = ?`, buyerID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// CreateOrder inserts the order and its lines in one transaction.
func (m *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, status, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.BuyerID, order.Status, order.Total,
		dbTime(order.CreatedAt), dbTime(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, item_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`,
			order.ID, i, line.ItemID, line.Quantity, line.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return tx.Commit()
}

const orderColumns = `id, buyer_id, status, total, created_at, updated_at`

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, err
}

func (m *SQLAdapter) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}
	if order.Lines, err = m.orderLines(ctx, orderID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (m *SQLAdapter) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT order_id, item_id, quantity, unit_price
		FROM order_lines WHERE order_id = ? ORDER BY line_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderID, &l.ItemID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (m *SQLAdapter) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.BuyerID != "" {
		where = append(where, "buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, dbTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, dbTime(filter.To))
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + whereClause(where) +
		` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, port.PageLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range orders {
		if orders[i].Lines, err = m.orderLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (m *SQLAdapter) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, dbTime(at), orderID, from,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	var exists int
	err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query order: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrStatusConflict
}

// GetAccount reads a row of the single accounts table and returns the
// variant matching its role.
func (m *SQLAdapter) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	var (
		role             domain.Role
		name             string
		shipping, apiary sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT role, name, shipping_address, apiary_name
		FROM accounts WHERE id = ?`, accountID,
	).Scan(&role, &name, &shipping, &apiary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	switch role {
	case domain.RoleBuyer:
		return domain.Buyer{ID: accountID, Name: name, ShippingAddress: shipping.String}, nil
	case domain.RoleProducer:
		return domain.Producer{ID: accountID, Name: name, ApiaryName: apiary.String}, nil
	default:
		return nil, fmt.Errorf("account %s has unknown role %q", accountID, role)
	}
}

func (m *SQLAdapter) SaveAccount(ctx context.Context, acc domain.Account) error {
	var shipping, apiary sql.NullString
	var name string
	switch a := acc.(type) {
	case domain.Buyer:
		name = a.Name
		shipping = sql.NullString{String: a.ShippingAddress, Valid: true}
	case domain.Producer:
		name = a.Name
		apiary = sql.NullString{String: a.ApiaryName, Valid: true}
	default:
		return fmt.Errorf("unsupported account type %T", acc)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, acc.AccountID()); err != nil {
		return fmt.Errorf("replace account: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, role, name, shipping_address, apiary_name)
		VALUES (?, ?, ?, ?, ?)`,
		acc.AccountID(), acc.Role(), name, shipping, apiary,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return tx.Commit()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
