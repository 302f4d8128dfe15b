package usecase

import (
	"context"
	"sync"

	"agromarket/internal/domain/entity"
	"agromarket/internal/gateway"
)

// OrderStore caches the session's order list and hands out one aggregate
// per order code. List and detail refresh independently; a list entry's
// status and an open detail view are allowed to disagree until their next
// respective refresh.
type OrderStore struct {
	gw      gateway.OrderGateway
	session *entity.Session

	mu         sync.RWMutex
	list       []entity.Order
	aggregates map[string]*OrderAggregate
}

func NewOrderStore(gw gateway.OrderGateway, session *entity.Session) *OrderStore {
	return &OrderStore{
		gw:         gw,
		session:    session,
		aggregates: make(map[string]*OrderAggregate),
	}
}

// ListMine fetches the buyer's orders and replaces the cached list
// wholesale. No incremental diffing.
func (st *OrderStore) ListMine(ctx context.Context) ([]entity.Order, error) {
	orders, err := st.gw.ListMyOrders(ctx, st.session)
	if err != nil {
		return nil, err
	}
	st.replaceList(orders)
	return orders, nil
}

// ListForProducer fetches the producer's orders, optionally only those
// awaiting review, and replaces the cached list wholesale.
func (st *OrderStore) ListForProducer(ctx context.Context, filter gateway.ProducerFilter) ([]entity.Order, error) {
	orders, err := st.gw.ListProducerOrders(ctx, st.session, filter)
	if err != nil {
		return nil, err
	}
	st.replaceList(orders)
	return orders, nil
}

func (st *OrderStore) replaceList(orders []entity.Order) {
	st.mu.Lock()
	st.list = orders
	st.mu.Unlock()
}

// Cached returns a copy of the last fetched list.
func (st *OrderStore) Cached() []entity.Order {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]entity.Order, len(st.list))
	copy(out, st.list)
	return out
}

// Invalidate drops the cached list.
func (st *OrderStore) Invalidate() {
	st.mu.Lock()
	st.list = nil
	st.mu.Unlock()
}

// Aggregate returns the aggregate for code, creating it on first use.
func (st *OrderStore) Aggregate(code string) *OrderAggregate {
	st.mu.Lock()
	defer st.mu.Unlock()
	agg, ok := st.aggregates[code]
	if !ok {
		agg = NewOrderAggregate(st.gw, st.session, code)
		st.aggregates[code] = agg
	}
	return agg
}

// RefreshOne re-fetches one order's detail from the server. Called after
// every mutation settles, success or failure: truth is always re-derived
// from the server rather than trusted from local projections.
func (st *OrderStore) RefreshOne(ctx context.Context, code string) (*entity.Order, error) {
	agg := st.Aggregate(code)
	if err := agg.Load(ctx); err != nil {
		return nil, err
	}
	return agg.Order(), nil
}
