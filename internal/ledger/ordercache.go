// Package ledger implements the account ledger store, the order cache and
// the cost-basis reconciler.
package ledger

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

type orderFetcher interface {
	Order(ctx context.Context, orderID string) (*domain.Order, error)
}

// OrderCache stores settled orders by id. Orders are fetched at most once per
// distinct id and kept forever: exchange order records are immutable after
// settlement, and the cache doubles as the orders section of the snapshot.
type OrderCache struct {
	fetcher orderFetcher
	l       *zap.Logger

	mu     sync.Mutex
	orders map[string]*domain.Order
}

// NewOrderCache creates a cache seeded with already known orders, typically
// the orders section of a loaded snapshot.
func NewOrderCache(fetcher orderFetcher, seed map[string]*domain.Order, l *zap.Logger) *OrderCache {
	orders := make(map[string]*domain.Order, len(seed))
	for id, o := range seed {
		orders[id] = o
	}

	return &OrderCache{fetcher: fetcher, orders: orders, l: l}
}

// GetOrFetch returns the cached order or fetches it from the exchange. The
// execution price is derived on first fetch; a zero filled size is reported
// as an error rather than masked.
func (c *OrderCache) GetOrFetch(ctx context.Context, orderID string) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if order, ok := c.orders[orderID]; ok {
		return order, nil
	}

	order, err := c.fetcher.Order(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch order %s", orderID)
	}

	if err := order.ComputeExecutedPrice(); err != nil {
		return nil, err
	}

	c.l.Debug("Cached order",
		zap.String("order_id", orderID),
		zap.String("side", string(order.Side)),
		zap.String("executed_price", order.ExecutedPrice.String()))

	c.orders[orderID] = order

	return order, nil
}

// Get returns the cached order without fetching.
func (c *OrderCache) Get(orderID string) (*domain.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[orderID]

	return order, ok
}

// Orders returns a copy of the cached orders map.
func (c *OrderCache) Orders() map[string]*domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	orders := make(map[string]*domain.Order, len(c.orders))
	for id, o := range c.orders {
		orders[id] = o
	}

	return orders
}

// Len returns the number of cached orders.
func (c *OrderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.orders)
}
