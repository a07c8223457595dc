package domain

import "time"

// SyncStatus represents where an order sits in the invoicing pipeline.
type SyncStatus string

const (
	// SyncStatusUnsynced is the implicit state of any order never processed.
	SyncStatusUnsynced SyncStatus = "unsynced"
	// SyncStatusSynced means a remote invoice exists for the order.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusFailed is the terminal state after a non-retryable failure
	// or retry exhaustion during invoice sync.
	SyncStatusFailed SyncStatus = "failed"
	// SyncStatusManualRequired means refund reconciliation could not complete
	// safely and a human must finish it.
	SyncStatusManualRequired SyncStatus = "manual_required"
	// SyncStatusRefunded means the invoice was cancelled or reconciled
	// against a credit note.
	SyncStatusRefunded SyncStatus = "refunded"
)

// SyncState is the per-order sync metadata persisted back to the store.
// Mutated only by the orchestrators.
type SyncState struct {
	// Status is the current pipeline state.
	Status SyncStatus `json:"status"`
	// InvoiceRemoteID is the RoboLabs invoice id once created or adopted.
	// Set whenever Status is synced.
	InvoiceRemoteID string `json:"invoice_remote_id,omitempty"`
	// InvoiceExternalID is the deterministic external id of the invoice.
	InvoiceExternalID string `json:"invoice_external_id,omitempty"`
	// PartnerRemoteID is the resolved RoboLabs partner id.
	PartnerRemoteID int64 `json:"partner_remote_id,omitempty"`
	// LastError is a human-readable message for the admin surface.
	LastError string `json:"last_error,omitempty"`
	// LastSyncAt is the time of the last state transition.
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
	// RetryCount counts scheduled invoice-sync retries.
	RetryCount int `json:"retry_count"`
	// RefundRetryCount counts scheduled refund-sync retries.
	RefundRetryCount int `json:"refund_retry_count"`
	// PendingJobID is set while an asynchronous invoice job is in flight.
	PendingJobID string `json:"pending_job_id,omitempty"`
}

// Billing holds the billing contact of an order.
type Billing struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	// VATCode is the buyer's VAT number when the store collected one.
	VATCode string `json:"vat_code"`
}

// OrderLine is one product line of an order or refund.
type OrderLine struct {
	// ID is the store's line item id.
	ID int64 `json:"id"`
	// ProductID is the store's product id; zero when the product was deleted.
	ProductID int64 `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	// Total is the line total after discounts, tax excluded.
	Total float64 `json:"total"`
	// TotalTax is the tax charged on the line.
	TotalTax float64 `json:"total_tax"`
}

// Order is a storefront order as read from the store of record.
type Order struct {
	ID int64 `json:"id"`
	// Number is the customer-facing order number.
	Number string `json:"number"`
	// CustomerID is the store account id; zero for guest checkout.
	CustomerID int64  `json:"customer_id"`
	Currency   string `json:"currency"`
	Billing    Billing `json:"billing"`

	Subtotal      float64 `json:"subtotal"`
	TotalTax      float64 `json:"total_tax"`
	ShippingTotal float64 `json:"shipping_total"`
	ShippingTax   float64 `json:"shipping_tax"`
	DiscountTotal float64 `json:"discount_total"`
	Total         float64 `json:"total"`
	// TotalRefunded is the sum refunded to date, as a positive amount.
	TotalRefunded float64 `json:"total_refunded"`

	CreatedAt time.Time   `json:"created_at"`
	Lines     []OrderLine `json:"lines"`
}

// Product is a storefront product as read from the store of record.
type Product struct {
	ID    int64   `json:"id"`
	SKU   string  `json:"sku"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Refund is one refund issued against an order. Amounts and quantities are
// positive regardless of how the store encodes them.
type Refund struct {
	ID      int64 `json:"id"`
	OrderID int64 `json:"order_id"`
	// Amount is the refunded total.
	Amount float64     `json:"amount"`
	Lines  []OrderLine `json:"lines"`
}

// RemoteRef caches the RoboLabs id and external id of a resolved record so
// later syncs skip the network round-trip.
type RemoteRef struct {
	RemoteID   int64  `json:"remote_id"`
	ExternalID string `json:"external_id"`
}
