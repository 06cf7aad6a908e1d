package api

import (
	"testing"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/order"
)

func TestOrderBook(t *testing.T) {
	b := NewOrderBook()
	if full := b.Peek("s1"); !full.Empty() {
		t.Fatalf("expected empty order, got %+v", full)
	}

	b.AddPizzas("s1", order.PizzaItem{Flavors: []string{"calabresa"}, Size: "media"})
	b.AddPizzas("s1", order.PizzaItem{Flavors: []string{"mussarela", "portuguesa"}, Size: "grande"})
	b.AddDrink("s1", order.DrinkItem{Name: "coca-cola", Quantity: 2})
	b.AddDrink("s2", order.DrinkItem{Name: "fanta", Quantity: 1})

	full := b.Peek("s1")
	if len(full.Pizzas) != 2 || len(full.Drinks) != 1 {
		t.Fatalf("unexpected order %+v", full)
	}
	if full.Pizzas[1].Flavors[0] != "mussarela" {
		t.Errorf("insertion order must be preserved, got %+v", full.Pizzas)
	}
	if b.Len() != 2 {
		t.Errorf("expected 2 open orders, got %d", b.Len())
	}

	b.Reset("s1")
	if !b.Peek("s1").Empty() || b.Len() != 1 {
		t.Errorf("expected s1 to be forgotten, %d open", b.Len())
	}
}

func TestOrderBookPrune(t *testing.T) {
	b := NewOrderBook()
	b.AddDrink("old", order.DrinkItem{Name: "fanta", Quantity: 1})
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	b.AddDrink("fresh", order.DrinkItem{Name: "fanta", Quantity: 1})

	if n := b.Prune(cutoff); n != 1 {
		t.Errorf("expected 1 pruned order, got %d", n)
	}
	if b.Len() != 1 || b.Peek("fresh").Empty() {
		t.Error("fresh order must survive pruning")
	}
}

func TestServerPruneOrders(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	s.orders.AddDrink("s1", order.DrinkItem{Name: "fanta", Quantity: 1})
	s.orders.orders["s1"].updatedAt = time.Now().Add(-DefaultOrderTTL - time.Minute)
	s.pruneOrders()
	if s.orders.Len() != 0 {
		t.Errorf("expected stale order to be pruned, %d open", s.orders.Len())
	}
}

func TestServerPurgeDedup(t *testing.T) {
	s, st := newTestServer(t, nil, nil)
	st.RecordInbound("SM1", testPhone)
	st.MarkProcessed("SM1")
	s.purgeDedup()
	if dup, _ := st.IsDuplicate("SM1"); !dup {
		t.Error("recently processed ids must be kept")
	}

	(&Server{}).purgeDedup()
}
