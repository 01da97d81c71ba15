package contracts

import "time"

// Event is the audit record published for every webhook delivery that was
// accepted. It is informational: downstream consumers must tolerate gaps,
// since publication is best-effort.
type Event struct {
	EventID   string         `json:"event_id"`
	Email     string         `json:"email"`
	Product   string         `json:"product"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventCustomerCreated = "customer.created"
	EventOrderCompleted  = "order.completed"
	EventOrderRefunded   = "order.refunded"
	EventRefundUnmatched = "refund.unmatched"
)
