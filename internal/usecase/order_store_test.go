package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
)

func TestListMineReplacesCache(t *testing.T) {
	backend := newFakeOrderBackend(entity.StatusPendingReview)
	store := NewOrderStore(backend, buyerSession())

	orders, err := store.ListMine(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, orders, store.Cached())

	store.Invalidate()
	assert.Empty(t, store.Cached())
}

func TestAggregateIsReusedPerCode(t *testing.T) {
	backend := newFakeOrderBackend(entity.StatusPendingReview)
	store := NewOrderStore(backend, buyerSession())

	a := store.Aggregate("ORD-100")
	b := store.Aggregate("ORD-100")
	assert.Same(t, a, b)
}

func TestRefreshOneRederivesTruthFromServer(t *testing.T) {
	backend := newFakeOrderBackend(entity.StatusPendingReview)
	store := NewOrderStore(backend, buyerSession())

	agg := store.Aggregate("ORD-100")
	require.NoError(t, agg.Load(context.Background()))

	// The server moved on; a local projection would now be wrong.
	backend.mu.Lock()
	backend.order.Status = entity.StatusAcceptedAwaitingPayment
	backend.order.RowVersion = "v2"
	backend.mu.Unlock()

	order, err := store.RefreshOne(context.Background(), "ORD-100")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAcceptedAwaitingPayment, order.Status)
	assert.Equal(t, "v2", order.RowVersion)
	assert.Equal(t, order.Status, agg.Order().Status, "refresh flows through the shared aggregate")
}
