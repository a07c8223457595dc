package domain

// EventType names the store events the trigger layer publishes.
type EventType string

const (
	EventOrderCreated     EventType = "order_created"
	EventPaymentComplete  EventType = "payment_complete"
	EventStatusProcessing EventType = "status_processing"
	EventStatusCompleted  EventType = "status_completed"
	EventOrderRefunded    EventType = "order_refunded"
)

// StoreEvent is one trigger input from the storefront.
type StoreEvent struct {
	Type    EventType `json:"event"`
	OrderID int64     `json:"order_id"`
	// RefundID accompanies order_refunded events.
	RefundID int64 `json:"refund_id,omitempty"`
}
