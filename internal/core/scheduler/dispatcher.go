package scheduler

import (
	"context"
	"sync"
	"time"

	"robolabs-sync/internal/core/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskType identifies which handler processes a task.
type TaskType string

const (
	// TaskOrderSync drives an order through invoice creation.
	TaskOrderSync TaskType = "sync_order"
	// TaskRefundSync drives a refund through cancellation or credit note.
	TaskRefundSync TaskType = "sync_refund"
	// TaskJobPoll polls an asynchronous RoboLabs job.
	TaskJobPoll TaskType = "poll_job"
)

// Task is a unit of scheduled work. All state a handler needs must be carried
// here: a task may run long after it was enqueued, with nothing else surviving
// the gap.
type Task struct {
	// ID correlates log lines for one execution.
	ID string
	// Type selects the registered handler.
	Type TaskType
	// OrderID is set for every task type.
	OrderID int64
	// RefundID is set for refund sync tasks.
	RefundID int64
	// JobID is set for job poll tasks.
	JobID string
}

// Handler processes a single task. Handlers own their error handling; the
// dispatcher only logs what they return.
type Handler func(ctx context.Context, task Task) error

// Dispatcher executes tasks after an optional delay through an explicit
// task-type to handler table. There is no shared memory between task runs;
// cross-run safety comes from the per-order lock and external-id lookups.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[TaskType]Handler

	// stopMu orders Schedule's wg.Add against Stop's wg.Wait: once stopped
	// is observed true, no further Add can happen.
	stopMu  sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates an empty dispatcher; handlers are registered during wiring.
func New() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[TaskType]Handler),
	}
}

// Register binds a handler to a task type, replacing any previous binding.
func (d *Dispatcher) Register(taskType TaskType, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[taskType] = handler
}

// Schedule enqueues a task to run after the given delay.
func (d *Dispatcher) Schedule(task Task, delay time.Duration) {
	d.stopMu.Lock()
	if d.stopped {
		d.stopMu.Unlock()
		logger.Get().Warn("Dispatcher stopped, dropping task",
			zap.String("task_type", string(task.Type)),
			zap.Int64("order_id", task.OrderID),
		)
		return
	}
	d.wg.Add(1)
	d.stopMu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	time.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.dispatch(task)
	})

	logger.Get().Debug("Task scheduled",
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.Type)),
		zap.Int64("order_id", task.OrderID),
		zap.Duration("delay", delay),
	)
}

// ScheduleOrderSync enqueues an order sync task.
func (d *Dispatcher) ScheduleOrderSync(orderID int64, delay time.Duration) {
	d.Schedule(Task{Type: TaskOrderSync, OrderID: orderID}, delay)
}

// ScheduleRefundSync enqueues a refund sync task.
func (d *Dispatcher) ScheduleRefundSync(orderID, refundID int64, delay time.Duration) {
	d.Schedule(Task{Type: TaskRefundSync, OrderID: orderID, RefundID: refundID}, delay)
}

// ScheduleJobPoll enqueues a poll of a remote job. The order id is the job
// context carried across poll cycles.
func (d *Dispatcher) ScheduleJobPoll(jobID string, orderID int64, delay time.Duration) {
	d.Schedule(Task{Type: TaskJobPoll, JobID: jobID, OrderID: orderID}, delay)
}

// Stop prevents new scheduling and waits for in-flight tasks, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopMu.Lock()
	d.stopped = true
	d.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(task Task) {
	d.mu.RLock()
	handler, ok := d.handlers[task.Type]
	d.mu.RUnlock()

	if !ok {
		logger.Get().Error("No handler registered for task type",
			zap.String("task_type", string(task.Type)),
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error("Task handler panicked",
				zap.String("task_id", task.ID),
				zap.String("task_type", string(task.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := handler(context.Background(), task); err != nil {
		logger.Get().Error("Task handler failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", string(task.Type)),
			zap.Int64("order_id", task.OrderID),
			zap.Error(err),
		)
	}
}
