package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/domain"
	"robolabs-sync/internal/features/sync/mapper"
	"robolabs-sync/internal/features/sync/ports"

	"go.uber.org/zap"
)

// fullRefundTolerance absorbs float drift when comparing the refunded total
// against the order total.
const fullRefundTolerance = 0.01

// RefundSync mirrors storefront refunds into RoboLabs. A full refund cancels
// the invoice; a partial refund raises a credit note and reconciles it
// against the invoice. Anything this service cannot finish safely lands in
// manual_required rather than guessing at accounting state.
type RefundSync struct {
	store       ports.OrderStore
	api         ports.APIClient
	resolver    *Resolver
	tasks       ports.TaskScheduler
	mapper      mapper.Mapper
	maxAttempts int
}

func NewRefundSync(
	store ports.OrderStore,
	api ports.APIClient,
	resolver *Resolver,
	tasks ports.TaskScheduler,
	m mapper.Mapper,
	maxAttempts int,
) *RefundSync {
	return &RefundSync{
		store:       store,
		api:         api,
		resolver:    resolver,
		tasks:       tasks,
		mapper:      m,
		maxAttempts: maxAttempts,
	}
}

// Sync processes one refund of an order.
func (s *RefundSync) Sync(ctx context.Context, orderID, refundID int64) error {
	state, err := s.store.SyncState(ctx, orderID)
	if err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}

	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return fmt.Errorf("loading order %d: %w", orderID, err)
	}

	invoiceID := state.InvoiceRemoteID
	if invoiceID == "" {
		// The invoice may exist remotely from a run that crashed before
		// persisting state.
		if record := findInvoiceByExternalID(ctx, s.api, mapper.InvoiceExternalID(orderID)); record != nil {
			invoiceID = strconv.FormatInt(record.ID, 10)
			state.InvoiceRemoteID = invoiceID
			state.InvoiceExternalID = mapper.InvoiceExternalID(orderID)
		}
	}
	if invoiceID == "" {
		return s.markManual(ctx, orderID, state, "missing invoice for refund")
	}

	if math.Abs(order.TotalRefunded-order.Total) < fullRefundTolerance {
		return s.cancelInvoice(ctx, orderID, refundID, state, invoiceID)
	}

	return s.creditNote(ctx, order, refundID, state, invoiceID)
}

// cancelInvoice voids the invoice for a fully refunded order.
func (s *RefundSync) cancelInvoice(ctx context.Context, orderID, refundID int64, state *domain.SyncState, invoiceID string) error {
	res := s.api.Post(ctx, "invoice/"+invoiceID+"/cancel", map[string]any{"delete_payments": true})
	if !res.OK() {
		return s.retryOrManual(ctx, orderID, refundID, state, fmt.Errorf("cancelling invoice: %w", res.Err()))
	}

	logger.Get().Info("Invoice cancelled for full refund",
		zap.Int64("order_id", orderID),
		zap.String("invoice_id", invoiceID),
	)
	return s.markRefunded(ctx, orderID, state, "RoboLabs invoice cancelled: "+invoiceID)
}

// creditNote raises, confirms and reconciles a credit note for a partial
// refund. Each remote step is individually retried; the deterministic credit
// external id keeps the sequence idempotent across retries.
func (s *RefundSync) creditNote(ctx context.Context, order *domain.Order, refundID int64, state *domain.SyncState, invoiceID string) error {
	if state.PartnerRemoteID == 0 {
		return s.markManual(ctx, order.ID, state, "missing partner for credit note")
	}

	refund, err := s.store.Refund(ctx, order.ID, refundID)
	if err != nil {
		return fmt.Errorf("loading refund %d: %w", refundID, err)
	}

	lines, err := s.buildCreditLines(ctx, refund)
	if err != nil {
		return s.retryOrManual(ctx, order.ID, refundID, state, err)
	}
	if len(lines) == 0 {
		return s.markManual(ctx, order.ID, state, "no refund lines found")
	}

	externalID := mapper.CreditExternalID(order.ID, refundID)

	var creditRemoteID int64
	if record := findInvoiceByExternalID(ctx, s.api, externalID); record != nil {
		creditRemoteID = record.ID
	} else {
		payload := s.mapper.BuildCreditPayload(order, state.PartnerRemoteID, lines, refundID)
		res := s.api.Post(ctx, "invoice", payload)
		if !res.OK() {
			return s.retryOrManual(ctx, order.ID, refundID, state, fmt.Errorf("creating credit note: %w", res.Err()))
		}

		var created createEnvelope
		if err := res.Decode(&created); err != nil || created.ID == 0 {
			return s.markManual(ctx, order.ID, state, "credit note response contains no id")
		}
		creditRemoteID = created.ID
	}

	creditID := strconv.FormatInt(creditRemoteID, 10)

	if res := s.api.Post(ctx, "invoice/"+creditID+"/confirm", nil); !res.OK() {
		return s.retryOrManual(ctx, order.ID, refundID, state, fmt.Errorf("confirming credit note: %w", res.Err()))
	}

	reconcile := map[string]any{"credit_invoice_id": creditRemoteID}
	if res := s.api.Post(ctx, "invoice/"+invoiceID+"/reconcile_with_credit", reconcile); !res.OK() {
		return s.retryOrManual(ctx, order.ID, refundID, state, fmt.Errorf("reconciling credit note: %w", res.Err()))
	}

	logger.Get().Info("Credit note reconciled",
		zap.Int64("order_id", order.ID),
		zap.Int64("refund_id", refundID),
		zap.String("credit_id", creditID),
	)
	return s.markRefunded(ctx, order.ID, state, "RoboLabs credit note reconciled: "+creditID)
}

// buildCreditLines maps refund lines whose product already has a cached
// remote reference. Products never synced cannot appear on the original
// invoice, so nothing to credit.
func (s *RefundSync) buildCreditLines(ctx context.Context, refund *domain.Refund) ([]mapper.LineItem, error) {
	lines := make([]mapper.LineItem, 0, len(refund.Lines))

	for _, line := range refund.Lines {
		if line.ProductID == 0 {
			continue
		}

		ref, err := s.store.ProductRef(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("loading product ref %d: %w", line.ProductID, err)
		}
		if ref == nil || ref.RemoteID == 0 {
			logger.Get().Warn("Refund line product was never synced, skipping",
				zap.Int64("refund_id", refund.ID),
				zap.Int64("product_id", line.ProductID),
			)
			continue
		}

		lines = append(lines, s.mapper.BuildLineItem(line, ref.RemoteID))
	}

	return lines, nil
}

func (s *RefundSync) markRefunded(ctx context.Context, orderID int64, state *domain.SyncState, note string) error {
	state.Status = domain.SyncStatusRefunded
	state.LastError = ""
	state.LastSyncAt = time.Now().UTC()

	if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving refunded state: %w", err)
	}

	if err := s.store.AddOrderNote(ctx, orderID, note); err != nil {
		logger.Get().Warn("Failed to add order note", zap.Int64("order_id", orderID), zap.Error(err))
	}

	return nil
}

// retryOrManual reschedules retryable refund failures with backoff and
// sends everything else, including exhaustion, to manual review.
func (s *RefundSync) retryOrManual(ctx context.Context, orderID, refundID int64, state *domain.SyncState, cause error) error {
	if !isRetryable(cause) {
		return s.markManual(ctx, orderID, state, cause.Error())
	}

	attempt := state.RefundRetryCount + 1
	if attempt > s.maxAttempts {
		return s.markManual(ctx, orderID, state,
			fmt.Sprintf("giving up after %d attempts: %v", state.RefundRetryCount, cause))
	}

	state.RefundRetryCount = attempt
	state.LastError = cause.Error()
	state.LastSyncAt = time.Now().UTC()
	if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving retry state: %w", err)
	}

	delay := backoffDelay(attempt)
	logger.Get().Warn("Refund sync failed, retry scheduled",
		zap.Int64("order_id", orderID),
		zap.Int64("refund_id", refundID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	s.tasks.ScheduleRefundSync(orderID, refundID, delay)
	return nil
}

func (s *RefundSync) markManual(ctx context.Context, orderID int64, state *domain.SyncState, reason string) error {
	state.Status = domain.SyncStatusManualRequired
	state.LastError = reason
	state.LastSyncAt = time.Now().UTC()

	if err := s.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving manual state: %w", err)
	}

	if err := s.store.AddOrderNote(ctx, orderID, "RoboLabs refund needs manual review: "+reason); err != nil {
		logger.Get().Warn("Failed to add order note", zap.Int64("order_id", orderID), zap.Error(err))
	}

	logger.Get().Error("Refund sync needs manual review",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason),
	)
	return nil
}
