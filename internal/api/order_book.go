package api

import (
	"sync"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/order"
)

// pendingOrder accumulates the items of one NLU session.
type pendingOrder struct {
	pizzas    []order.PizzaItem
	drinks    []order.DrinkItem
	updatedAt time.Time
}

const (
	// DefaultOrderTTL is how long an untouched NLU order is kept.
	DefaultOrderTTL = 2 * time.Hour
	// DefaultPruneSchedule is the cron expression of the stale order sweep.
	DefaultPruneSchedule = "*/10 * * * *"
)

// OrderBook keeps in-progress orders per NLU session.
type OrderBook struct {
	mu     sync.Mutex
	orders map[string]*pendingOrder
}

// NewOrderBook creates an empty OrderBook.
func NewOrderBook() *OrderBook {
	return &OrderBook{orders: make(map[string]*pendingOrder)}
}

func (b *OrderBook) pending(session string) *pendingOrder {
	p, ok := b.orders[session]
	if !ok {
		p = &pendingOrder{}
		b.orders[session] = p
	}
	p.updatedAt = time.Now()
	return p
}

// AddPizzas appends pizzas to the order of session.
func (b *OrderBook) AddPizzas(session string, pizzas ...order.PizzaItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pending(session)
	p.pizzas = append(p.pizzas, pizzas...)
}

// AddDrink appends a drink to the order of session.
func (b *OrderBook) AddDrink(session string, drink order.DrinkItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pending(session)
	p.drinks = append(p.drinks, drink)
}

// Peek returns the current order of session without removing it.
func (b *OrderBook) Peek(session string) order.FullOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.orders[session]
	if !ok {
		return order.BuildFullOrder(nil, nil)
	}
	return order.BuildFullOrder(p.pizzas, p.drinks)
}

// Reset forgets the order of session.
func (b *OrderBook) Reset(session string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, session)
}

// Prune drops orders untouched since before cutoff and returns how many were dropped.
func (b *OrderBook) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for session, p := range b.orders {
		if p.updatedAt.Before(cutoff) {
			delete(b.orders, session)
			n++
		}
	}
	return n
}

// Len returns the number of open orders.
func (b *OrderBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}
