package service

import (
	"testing"

	"robolabs-sync/internal/features/sync/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerRouter_MatchingEventSchedulesSync(t *testing.T) {
	tasks := &fakeTasks{}
	router := NewTriggerRouter("payment_complete", tasks)

	router.HandleEvent(domain.StoreEvent{Type: domain.EventPaymentComplete, OrderID: 456})

	require.Len(t, tasks.orderSyncs, 1)
	assert.Equal(t, int64(456), tasks.orderSyncs[0].OrderID)
}

func TestTriggerRouter_NonMatchingEventIgnored(t *testing.T) {
	tasks := &fakeTasks{}
	router := NewTriggerRouter("payment_complete", tasks)

	router.HandleEvent(domain.StoreEvent{Type: domain.EventOrderCreated, OrderID: 456})
	router.HandleEvent(domain.StoreEvent{Type: domain.EventStatusCompleted, OrderID: 456})

	assert.Empty(t, tasks.orderSyncs)
	assert.Empty(t, tasks.refundSyncs)
}

func TestTriggerRouter_RefundAlwaysScheduled(t *testing.T) {
	tasks := &fakeTasks{}
	router := NewTriggerRouter("order_created", tasks)

	router.HandleEvent(domain.StoreEvent{Type: domain.EventOrderRefunded, OrderID: 456, RefundID: 9})

	require.Len(t, tasks.refundSyncs, 1)
	assert.Equal(t, int64(456), tasks.refundSyncs[0].OrderID)
	assert.Equal(t, int64(9), tasks.refundSyncs[0].RefundID)
	assert.Empty(t, tasks.orderSyncs)
}
