package service

import (
	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/domain"
	"robolabs-sync/internal/features/sync/ports"

	"go.uber.org/zap"
)

// TriggerRouter decides which store events enter the sync pipeline. Exactly
// one configured event creates invoices; refund events always pass through.
type TriggerRouter struct {
	invoiceTrigger string
	tasks          ports.TaskScheduler
}

func NewTriggerRouter(invoiceTrigger string, tasks ports.TaskScheduler) *TriggerRouter {
	return &TriggerRouter{
		invoiceTrigger: invoiceTrigger,
		tasks:          tasks,
	}
}

// HandleEvent enqueues the sync work for a store event, if any.
func (t *TriggerRouter) HandleEvent(event domain.StoreEvent) {
	if event.Type == domain.EventOrderRefunded {
		logger.Get().Info("Refund event received",
			zap.Int64("order_id", event.OrderID),
			zap.Int64("refund_id", event.RefundID),
		)
		t.tasks.ScheduleRefundSync(event.OrderID, event.RefundID, 0)
		return
	}

	if string(event.Type) != t.invoiceTrigger {
		logger.Get().Debug("Ignoring store event",
			zap.String("event", string(event.Type)),
			zap.Int64("order_id", event.OrderID),
		)
		return
	}

	logger.Get().Info("Invoice trigger received",
		zap.String("event", string(event.Type)),
		zap.Int64("order_id", event.OrderID),
	)
	t.tasks.ScheduleOrderSync(event.OrderID, 0)
}
