package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/core/robolabs"
	"robolabs-sync/internal/features/sync/domain"
	"robolabs-sync/internal/features/sync/mapper"
	"robolabs-sync/internal/features/sync/ports"

	"go.uber.org/zap"
)

// OrderSync drives one order through the invoice pipeline. Safe to run
// concurrently and to re-run for the same order: a per-order lock serializes
// overlapping triggers, and the deterministic external id makes replays
// converge on the existing remote invoice.
type OrderSync struct {
	store       ports.OrderStore
	api         ports.APIClient
	resolver    *Resolver
	locker      ports.Locker
	tasks       ports.TaskScheduler
	mapper      mapper.Mapper
	maxAttempts int
}

func NewOrderSync(
	store ports.OrderStore,
	api ports.APIClient,
	resolver *Resolver,
	locker ports.Locker,
	tasks ports.TaskScheduler,
	m mapper.Mapper,
	maxAttempts int,
) *OrderSync {
	return &OrderSync{
		store:       store,
		api:         api,
		resolver:    resolver,
		locker:      locker,
		tasks:       tasks,
		mapper:      m,
		maxAttempts: maxAttempts,
	}
}

// Sync ensures a RoboLabs invoice exists for the order. Retryable API
// failures reschedule the sync with exponential backoff; everything else
// marks the order failed. The returned error reports storefront access
// problems only, which the caller's task layer logs.
func (s *OrderSync) Sync(ctx context.Context, orderID int64) error {
	acquired, err := s.locker.Acquire(ctx, orderID)
	if err != nil {
		return fmt.Errorf("acquiring order lock: %w", err)
	}
	if !acquired {
		logger.Get().Info("Order sync already in flight, skipping", zap.Int64("order_id", orderID))
		return nil
	}
	defer func() {
		// The trigger context may already be cancelled; the lock must go
		// regardless.
		if err := s.locker.Release(context.Background(), orderID); err != nil {
			logger.Get().Warn("Failed to release order lock", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}()

	state, err := s.store.SyncState(ctx, orderID)
	if err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}

	if state.InvoiceRemoteID != "" {
		logger.Get().Info("Order already synced",
			zap.Int64("order_id", orderID),
			zap.String("invoice_id", state.InvoiceRemoteID),
		)
		return nil
	}

	if state.PendingJobID != "" {
		logger.Get().Info("Invoice job already pending, polling instead",
			zap.Int64("order_id", orderID),
			zap.String("job_id", state.PendingJobID),
		)
		s.tasks.ScheduleJobPoll(state.PendingJobID, orderID, 0)
		return nil
	}

	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return fmt.Errorf("loading order %d: %w", orderID, err)
	}

	partnerID, err := s.resolver.EnsurePartner(ctx, order, state)
	if err != nil {
		return s.scheduleRetryOrFail(ctx, orderID, state, fmt.Errorf("resolving partner: %w", err))
	}

	lines, err := s.buildInvoiceLines(ctx, order)
	if err != nil {
		return s.scheduleRetryOrFail(ctx, orderID, state, err)
	}
	if len(lines) == 0 {
		return s.markFailed(ctx, orderID, state, "no resolvable invoice lines")
	}

	externalID := mapper.InvoiceExternalID(orderID)

	// Replays and crashed previous attempts may have left an invoice behind.
	if record := findInvoiceByExternalID(ctx, s.api, externalID); record != nil {
		logger.Get().Info("Adopting existing RoboLabs invoice",
			zap.Int64("order_id", orderID),
			zap.Int64("invoice_id", record.ID),
		)
		return s.markSynced(ctx, orderID, state, strconv.FormatInt(record.ID, 10), externalID)
	}

	payload := s.mapper.BuildInvoicePayload(order, partnerID, lines)
	res := s.api.Post(ctx, "invoice", payload)
	if !res.OK() {
		return s.scheduleRetryOrFail(ctx, orderID, state, fmt.Errorf("creating invoice: %w", res.Err()))
	}

	var created createEnvelope
	if err := res.Decode(&created); err != nil {
		return s.markFailed(ctx, orderID, state, fmt.Sprintf("undecodable invoice response: %v", err))
	}

	if created.JobID != "" {
		// Asynchronous creation: the invoice materializes when the remote
		// job completes. The poller finishes the state transition.
		state.PendingJobID = created.JobID.String()
		state.InvoiceExternalID = externalID
		if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
			return fmt.Errorf("saving pending job state: %w", err)
		}

		logger.Get().Info("Invoice creation queued remotely",
			zap.Int64("order_id", orderID),
			zap.String("job_id", state.PendingJobID),
		)
		s.tasks.ScheduleJobPoll(state.PendingJobID, orderID, 0)
		return nil
	}

	if created.ID == 0 {
		return s.markFailed(ctx, orderID, state, "invoice response contains no id")
	}

	invoiceID := strconv.FormatInt(created.ID, 10)

	// Confirmation is best effort. The invoice exists either way and a
	// draft invoice is recoverable by hand.
	if res := s.api.Post(ctx, "invoice/"+invoiceID+"/confirm", nil); !res.OK() {
		logger.Get().Warn("Invoice created but confirmation failed",
			zap.Int64("order_id", orderID),
			zap.String("invoice_id", invoiceID),
			zap.String("error", res.Message),
		)
	}

	return s.markSynced(ctx, orderID, state, invoiceID, externalID)
}

// buildInvoiceLines resolves every order line to a remote product and maps
// it. Lines whose product cannot be resolved with a terminal error are
// skipped; retryable resolution failures abort so backoff can retry the
// whole order.
func (s *OrderSync) buildInvoiceLines(ctx context.Context, order *domain.Order) ([]mapper.LineItem, error) {
	lines := make([]mapper.LineItem, 0, len(order.Lines)+2)

	for _, line := range order.Lines {
		if line.ProductID == 0 {
			logger.Get().Warn("Skipping line without product",
				zap.Int64("order_id", order.ID),
				zap.String("name", line.Name),
			)
			continue
		}

		productID, err := s.resolver.EnsureProduct(ctx, line.ProductID)
		if err != nil {
			if isRetryable(err) {
				return nil, fmt.Errorf("resolving product %d: %w", line.ProductID, err)
			}
			logger.Get().Warn("Skipping unresolvable product line",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", line.ProductID),
				zap.Error(err),
			)
			continue
		}

		lines = append(lines, s.mapper.BuildLineItem(line, productID))
	}

	if order.ShippingTotal > 0 {
		shippingID, err := s.resolver.EnsureShippingProduct(ctx)
		if err != nil {
			if isRetryable(err) {
				return nil, fmt.Errorf("resolving shipping product: %w", err)
			}
			logger.Get().Warn("Skipping shipping line, product unresolvable",
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		} else {
			lines = append(lines, s.mapper.BuildShippingLine(order, shippingID))
		}
	}

	if discount := s.mapper.BuildDiscountLine(order, 0); discount != nil {
		lines = append(lines, *discount)
	}

	return lines, nil
}

func (s *OrderSync) markSynced(ctx context.Context, orderID int64, state *domain.SyncState, invoiceID, externalID string) error {
	state.Status = domain.SyncStatusSynced
	state.InvoiceRemoteID = invoiceID
	state.InvoiceExternalID = externalID
	state.LastError = ""
	state.LastSyncAt = time.Now().UTC()
	state.PendingJobID = ""

	if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving synced state: %w", err)
	}

	if err := s.store.AddOrderNote(ctx, orderID, "RoboLabs invoice synced: "+invoiceID); err != nil {
		logger.Get().Warn("Failed to add order note", zap.Int64("order_id", orderID), zap.Error(err))
	}

	logger.Get().Info("Order synced",
		zap.Int64("order_id", orderID),
		zap.String("invoice_id", invoiceID),
	)
	return nil
}

// scheduleRetryOrFail routes a sync failure. Retryable errors reschedule
// with exponential backoff until attempts run out; the rest fail the order
// immediately.
func (s *OrderSync) scheduleRetryOrFail(ctx context.Context, orderID int64, state *domain.SyncState, cause error) error {
	if !isRetryable(cause) {
		return s.markFailed(ctx, orderID, state, cause.Error())
	}

	attempt := state.RetryCount + 1
	if attempt > s.maxAttempts {
		return s.markFailed(ctx, orderID, state,
			fmt.Sprintf("giving up after %d attempts: %v", state.RetryCount, cause))
	}

	state.RetryCount = attempt
	state.LastError = cause.Error()
	state.LastSyncAt = time.Now().UTC()
	if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving retry state: %w", err)
	}

	delay := backoffDelay(attempt)
	logger.Get().Warn("Order sync failed, retry scheduled",
		zap.Int64("order_id", orderID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	s.tasks.ScheduleOrderSync(orderID, delay)
	return nil
}

func (s *OrderSync) markFailed(ctx context.Context, orderID int64, state *domain.SyncState, reason string) error {
	state.Status = domain.SyncStatusFailed
	state.LastError = reason
	state.LastSyncAt = time.Now().UTC()

	if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving failed state: %w", err)
	}

	if err := s.store.AddOrderNote(ctx, orderID, "RoboLabs invoice sync failed: "+reason); err != nil {
		logger.Get().Warn("Failed to add order note", zap.Int64("order_id", orderID), zap.Error(err))
	}

	logger.Get().Error("Order sync failed", zap.Int64("order_id", orderID), zap.String("reason", reason))
	return nil
}

// isRetryable reports whether the error chain contains a retryable API
// error. Storefront and decoding errors are not API errors and never retry
// through the backoff path.
func isRetryable(err error) bool {
	var apiErr *robolabs.APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// backoffDelay doubles per attempt: 2m, 4m, 8m, 16m.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Minute
}
