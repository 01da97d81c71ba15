package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/FilipeBarcellos/integrationm-greenn/pkg/contracts"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/logging"
)

// OrderStatus is the purchase record lifecycle. Refunds only ever move an
// order from completed (or processing) to refunded; nothing moves it back.
type OrderStatus string

const (
	OrderCompleted  OrderStatus = "completed"
	OrderProcessing OrderStatus = "processing"
	OrderRefunded   OrderStatus = "refunded"
)

const refundReason = "Reembolso automático pela integração Greenn"

// Customer is a value snapshot of a customer account. The engine never
// holds live store handles, only snapshots plus ids for subsequent calls.
type Customer struct {
	ID          string
	Email       string
	Username    string
	FirstName   string
	LastName    string
	DisplayName string
}

type NewCustomer struct {
	Username string
	Password string
	Email    string
}

type Product struct {
	ID    string
	Name  string
	Price int64 // minor units
}

type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int32
	Price       int64
}

type Order struct {
	ID           string
	CustomerID   string
	BillingName  string
	BillingEmail string
	Status       OrderStatus
	Total        int64
	Items        []OrderItem
}

type NewOrder struct {
	CustomerID   string
	BillingName  string
	BillingEmail string
	Status       OrderStatus
	Total        int64
	Items        []OrderItem
}

// Store is the commerce store the engine reconciles against. Lookups that
// find nothing return (nil, nil); errors are reserved for store failures.
// The store owns all serialization; the engine performs read-then-act
// sequences with no atomicity guarantee of its own.
type Store interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateCustomer(ctx context.Context, nc NewCustomer) (string, error)
	UpdateCustomerProfile(ctx context.Context, id, firstName, lastName, displayName string) error
	GeneratePassword() string
	FindProductByName(ctx context.Context, name string) (*Product, error)
	CreateOrder(ctx context.Context, no NewOrder) (*Order, error)
	OrdersByBillingEmail(ctx context.Context, email string, statuses []OrderStatus) ([]Order, error)
	CreateRefund(ctx context.Context, orderID string, amount int64, reason string) error
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
}

// Mailer delivers customer notifications. Sends are fire-and-forget with
// respect to the main transaction: failures are logged, never retried, and
// never surface to the webhook caller.
type Mailer interface {
	SendWelcome(ctx context.Context, email, firstName, password string) error
	SendProductAvailable(ctx context.Context, email, name, productName string) error
}

// Auditor records processed events for the audit stream. Best-effort.
type Auditor interface {
	Record(ctx context.Context, evt contracts.Event) error
}

// Response is the webhook reply body.
type Response struct {
	Success bool   `json:"success,omitempty"`
	Message string `json:"message"`
}

// ProductNotFoundError reports a product display name with no catalog
// entry.
type ProductNotFoundError struct {
	Name string
}

func (e *ProductNotFoundError) Error() string {
	return "product not found: " + e.Name
}

// Engine validates sale-lifecycle events and reconciles them against the
// commerce store. One Handle call per webhook delivery; deliveries share
// no in-process state.
type Engine struct {
	store  Store
	mailer Mailer
	log    *logging.Logger
	audit  Auditor
}

// NewEngine wires the engine's collaborators. audit may be nil.
func NewEngine(store Store, mailer Mailer, log *logging.Logger, audit Auditor) *Engine {
	return &Engine{store: store, mailer: mailer, log: log, audit: audit}
}

// Handle processes one raw webhook delivery and returns the HTTP status
// and response body. Validation errors short-circuit with no side effects
// beyond logging. Provisioning and reconciliation failures abort only the
// remaining steps of the current event; anything already created stays in
// place.
func (e *Engine) Handle(ctx context.Context, rawBody []byte, headers map[string]string) (int, Response) {
	e.log.Raw(rawBody)

	ev, rej := ValidateEvent(rawBody, headers)
	if rej != nil {
		e.log.Printf("%s", rej.Detail)
		return http.StatusBadRequest, Response{Message: rej.Message}
	}

	switch ev.SaleStatus {
	case StatusRefunded, StatusChargedback:
		// Refunds the system cannot match are accepted, not failed: the
		// platform retries on non-2xx and the order may simply live
		// elsewhere.
		e.refundOrders(ctx, ev.CustomerEmail, ev.ProductName)
	case StatusPaid:
		if status, resp, ok := e.processPaid(ctx, ev); !ok {
			return status, resp
		}
	default:
		e.log.Printf("Evento desconhecido: %s", ev.SaleStatus)
		return http.StatusBadRequest, Response{Message: "Evento desconhecido"}
	}

	return http.StatusOK, Response{Success: true, Message: "Processed successfully!"}
}

func (e *Engine) processPaid(ctx context.Context, ev *SaleEvent) (int, Response, bool) {
	existing, err := e.store.FindCustomerByEmail(ctx, ev.CustomerEmail)
	if err != nil {
		e.log.Printf("Error looking up user %s: %v", ev.CustomerEmail, err)
		return http.StatusInternalServerError, Response{Message: "Failed to create user"}, false
	}

	if existing == nil {
		created, err := e.provisionCustomer(ctx, ev)
		if err != nil {
			e.log.Printf("Error creating user: %v", err)
			return http.StatusInternalServerError, Response{Message: "Failed to create user"}, false
		}
		e.record(ctx, contracts.EventCustomerCreated, ev.CustomerEmail, ev.ProductName, map[string]any{
			"customer_id": created.ID,
			"username":    created.Username,
		})

		order, err := e.reconcileOrder(ctx, created, ev.ProductName)
		if err != nil {
			// The new account is not rolled back: an orphaned account with
			// no order is an accepted, logged inconsistency.
			e.log.Printf("Error creating order: %v", err)
			return http.StatusInternalServerError, Response{Message: "Failed to create order"}, false
		}
		e.record(ctx, contracts.EventOrderCompleted, ev.CustomerEmail, ev.ProductName, map[string]any{
			"order_id": order.ID,
			"total":    order.Total,
			"new_user": true,
		})
		return 0, Response{}, true
	}

	order, err := e.reconcileOrder(ctx, existing, ev.ProductName)
	if err != nil {
		e.log.Printf("Error creating order for existing user: %v", err)
		return http.StatusInternalServerError, Response{Message: "Failed to create order"}, false
	}
	if err := e.mailer.SendProductAvailable(ctx, existing.Email, existing.FirstName, ev.ProductName); err != nil {
		e.log.Printf("Error sending product available email to %s: %v", existing.Email, err)
	}
	e.record(ctx, contracts.EventOrderCompleted, ev.CustomerEmail, ev.ProductName, map[string]any{
		"order_id": order.ID,
		"total":    order.Total,
		"new_user": false,
	})
	return 0, Response{}, true
}

// provisionCustomer creates the account for a first paid event. The
// welcome mail is the only path where a plaintext password is transmitted;
// it is sent exactly once, synchronously with creation, and a failed send
// does not roll the account back.
func (e *Engine) provisionCustomer(ctx context.Context, ev *SaleEvent) (*Customer, error) {
	firstName, lastName := SplitFullName(ev.CustomerFullName)

	username, err := AllocateUsername(ctx, e.store, ev.CustomerFullName)
	if err != nil {
		return nil, fmt.Errorf("allocate username: %w", err)
	}

	password := e.store.GeneratePassword()
	id, err := e.store.CreateCustomer(ctx, NewCustomer{Username: username, Password: password, Email: ev.CustomerEmail})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := e.store.UpdateCustomerProfile(ctx, id, firstName, lastName, ev.CustomerFullName); err != nil {
		e.log.Printf("Error updating user profile %s: %v", id, err)
	}
	if err := e.mailer.SendWelcome(ctx, ev.CustomerEmail, firstName, password); err != nil {
		e.log.Printf("Error sending welcome email to %s: %v", ev.CustomerEmail, err)
	}

	return &Customer{
		ID:          id,
		Email:       ev.CustomerEmail,
		Username:    username,
		FirstName:   firstName,
		LastName:    lastName,
		DisplayName: ev.CustomerFullName,
	}, nil
}

// reconcileOrder resolves the product and creates a completed single-item
// order. Totals come from the catalog price; the incoming event carries no
// price override.
func (e *Engine) reconcileOrder(ctx context.Context, cust *Customer, productName string) (*Order, error) {
	prod, err := e.store.FindProductByName(ctx, productName)
	if err != nil {
		return nil, fmt.Errorf("product lookup: %w", err)
	}
	if prod == nil {
		e.log.Printf("Product not found: %s", productName)
		return nil, &ProductNotFoundError{Name: productName}
	}

	order, err := e.store.CreateOrder(ctx, NewOrder{
		CustomerID:   cust.ID,
		BillingName:  cust.FirstName,
		BillingEmail: cust.Email,
		Status:       OrderCompleted,
		Total:        prod.Price,
		Items: []OrderItem{{
			ProductID:   prod.ID,
			ProductName: prod.Name,
			Quantity:    1,
			Price:       prod.Price,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// refundOrders reverses every completed or processing order for email that
// contains productName, refunding each order's full total. Refunding all
// matches (rather than the most recent) is a deliberate policy choice; a
// customer who bought the same product twice is refunded twice.
func (e *Engine) refundOrders(ctx context.Context, email, productName string) {
	orders, err := e.store.OrdersByBillingEmail(ctx, email, []OrderStatus{OrderCompleted, OrderProcessing})
	if err != nil {
		e.log.Printf("Erro ao buscar pedidos para reembolso: %v", err)
		return
	}

	refunded := 0
	for i := range orders {
		order := &orders[i]
		if !orderContainsProduct(order, productName) {
			continue
		}
		if err := e.store.CreateRefund(ctx, order.ID, order.Total, refundReason); err != nil {
			e.log.Printf("Error creating refund: %v", err)
			continue
		}
		if err := e.store.UpdateOrderStatus(ctx, order.ID, OrderRefunded); err != nil {
			e.log.Printf("Erro ao atualizar status do pedido %s: %v", order.ID, err)
		}
		refunded++
		e.record(ctx, contracts.EventOrderRefunded, email, productName, map[string]any{
			"order_id": order.ID,
			"amount":   order.Total,
		})
	}

	if refunded == 0 {
		e.log.Printf("Nenhum pedido encontrado para reembolso para o e-mail: %s e produto: %s", email, productName)
		e.record(ctx, contracts.EventRefundUnmatched, email, productName, nil)
	}
}

// orderContainsProduct scans line items for an exact, case-sensitive
// display-name match. First match wins; no quantity or partial-refund
// handling.
func orderContainsProduct(order *Order, productName string) bool {
	for _, item := range order.Items {
		if item.ProductName == productName {
			return true
		}
	}
	return false
}

func (e *Engine) record(ctx context.Context, eventType, email, product string, payload map[string]any) {
	if e.audit == nil {
		return
	}
	evt := contracts.Event{
		EventID:   uuid.NewString(),
		Email:     email,
		Product:   product,
		CreatedAt: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	}
	if err := e.audit.Record(ctx, evt); err != nil {
		e.log.Printf("Error recording audit event %s: %v", eventType, err)
	}
}
