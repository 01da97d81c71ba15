package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FilipeBarcellos/integrationm-greenn/internal/webhook"
)

// Store is the Postgres-backed commerce store. Serialization relies on the
// database's native concurrency control: unique constraints on email and
// username turn races into unique-violation errors at create time.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*webhook.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c webhook.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, username, first_name, last_name, display_name FROM customers WHERE email=$1`,
		email,
	).Scan(&c.ID, &c.Email, &c.Username, &c.FirstName, &c.LastName, &c.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE username=$1)`, username).Scan(&exists)
	return exists, err
}

func (s *Store) CreateCustomer(ctx context.Context, nc webhook.NewCustomer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customers(id, email, username, password) VALUES($1, $2, $3, $4)`,
		id, nc.Email, nc.Username, nc.Password,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return "", fmt.Errorf("duplicate customer %s: %w", nc.Email, err)
		}
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateCustomerProfile(ctx context.Context, id, firstName, lastName, displayName string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`UPDATE customers SET first_name=$2, last_name=$3, display_name=$4, updated_at=now() WHERE id=$1`,
		id, firstName, lastName, displayName,
	)
	return err
}

const passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()"

// GeneratePassword returns a random 12-character one-time password.
func (s *Store) GeneratePassword() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; fall back to a throwaway unique value.
		return uuid.NewString()[:12]
	}
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = passwordChars[int(b)%len(passwordChars)]
	}
	return string(out)
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*webhook.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var p webhook.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, price_cents FROM products WHERE name=$1`,
		name,
	).Scan(&p.ID, &p.Name, &p.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateOrder(ctx context.Context, no webhook.NewOrder) (*webhook.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderID := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO orders(id, customer_id, billing_name, billing_email, status, total) VALUES($1, $2, $3, $4, $5, $6)`,
		orderID, no.CustomerID, no.BillingName, no.BillingEmail, string(no.Status), no.Total,
	)
	if err != nil {
		return nil, err
	}

	for _, item := range no.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, product_id, product_name, quantity, price_cents) VALUES($1, $2, $3, $4, $5)`,
			orderID, item.ProductID, item.ProductName, item.Quantity, item.Price,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &webhook.Order{
		ID:           orderID,
		CustomerID:   no.CustomerID,
		BillingName:  no.BillingName,
		BillingEmail: no.BillingEmail,
		Status:       no.Status,
		Total:        no.Total,
		Items:        no.Items,
	}, nil
}

func (s *Store) OrdersByBillingEmail(ctx context.Context, email string, statuses []webhook.OrderStatus) ([]webhook.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	wanted := make([]string, 0, len(statuses))
	for _, st := range statuses {
		wanted = append(wanted, string(st))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, billing_name, billing_email, status, total FROM orders
		 WHERE billing_email=$1 AND status = ANY($2) ORDER BY created_at`,
		email, wanted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []webhook.Order
	for rows.Next() {
		var o webhook.Order
		var status string
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.BillingName, &o.BillingEmail, &status, &o.Total); err != nil {
			return nil, err
		}
		o.Status = webhook.OrderStatus(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]webhook.OrderItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, product_name, quantity, price_cents FROM order_items WHERE order_id=$1`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []webhook.OrderItem
	for rows.Next() {
		var item webhook.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CreateRefund(ctx context.Context, orderID string, amount int64, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO refunds(id, order_id, amount, reason) VALUES($1, $2, $3, $4)`,
		uuid.NewString(), orderID, amount, reason,
	)
	return err
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status webhook.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(status))
	return err
}

// IsUniqueViolation reports whether err is a Postgres UNIQUE violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// fallback for wrapped driver errors
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
