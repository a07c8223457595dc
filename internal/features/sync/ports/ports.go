package ports

import (
	"context"
	"net/url"
	"time"

	"robolabs-sync/internal/core/robolabs"
	"robolabs-sync/internal/features/sync/domain"
)

// OrderStore reads orders, refunds and products from the storefront and
// persists sync metadata back onto them. The storefront stays the source of
// truth; this service only annotates it.
// This is a Secondary Port (Driven Port).
type OrderStore interface {
	// Order retrieves an order by id.
	Order(ctx context.Context, orderID int64) (*domain.Order, error)

	// Refund retrieves one refund of an order.
	Refund(ctx context.Context, orderID, refundID int64) (*domain.Refund, error)

	// Product retrieves a product by id.
	Product(ctx context.Context, productID int64) (*domain.Product, error)

	// SyncState returns the order's sync metadata. Orders never touched
	// before yield a fresh unsynced state, not an error.
	SyncState(ctx context.Context, orderID int64) (*domain.SyncState, error)

	// SaveSyncState persists the order's sync metadata.
	SaveSyncState(ctx context.Context, orderID int64, state *domain.SyncState) error

	// ProductRef returns the cached RoboLabs ref of a product, or nil.
	ProductRef(ctx context.Context, productID int64) (*domain.RemoteRef, error)

	// SaveProductRef caches a product's RoboLabs ref on the product record.
	SaveProductRef(ctx context.Context, productID int64, ref domain.RemoteRef) error

	// CustomerRef returns the cached RoboLabs partner ref of a customer
	// account, or nil. Guest checkouts have no customer record.
	CustomerRef(ctx context.Context, customerID int64) (*domain.RemoteRef, error)

	// SaveCustomerRef caches a partner ref on the customer account so future
	// orders by the same customer skip the lookup.
	SaveCustomerRef(ctx context.Context, customerID int64, ref domain.RemoteRef) error

	// AddOrderNote appends an audit note to the order.
	AddOrderNote(ctx context.Context, orderID int64, note string) error
}

// APIClient is the narrow view of the RoboLabs gateway the services need.
type APIClient interface {
	Get(ctx context.Context, endpoint string, query url.Values) robolabs.Result
	Post(ctx context.Context, endpoint string, body any) robolabs.Result
}

// Locker provides the time-boxed per-order mutual exclusion. Best effort:
// the lock expires even if its holder crashes, so idempotent external-id
// lookups remain the real correctness backstop.
type Locker interface {
	// Acquire reports whether the lock was taken. False means another sync
	// of the same order is in flight.
	Acquire(ctx context.Context, orderID int64) (bool, error)

	// Release frees the lock. Safe to call when the lock already expired.
	Release(ctx context.Context, orderID int64) error
}

// SettingsStore holds process-wide sync configuration shared by all orders,
// currently the synthetic shipping product.
type SettingsStore interface {
	// ShippingProductID returns the cached shared shipping product id,
	// or 0 when none has been created yet.
	ShippingProductID(ctx context.Context) (int64, error)

	// SaveShippingProductID caches the shared shipping product id.
	SaveShippingProductID(ctx context.Context, id int64) error
}

// TaskScheduler hands work to the asynchronous execution layer.
type TaskScheduler interface {
	ScheduleOrderSync(orderID int64, delay time.Duration)
	ScheduleRefundSync(orderID, refundID int64, delay time.Duration)
	ScheduleJobPoll(jobID string, orderID int64, delay time.Duration)
}
