package order

import (
	"errors"
	"slices"
	"testing"
)

func loadTestMenu(t *testing.T) *Menu {
	t.Helper()
	m, err := LoadMenu()
	if err != nil {
		t.Fatalf("LoadMenu failed: %v", err)
	}
	return m
}

func TestParsePizzaOrderFromMessage(t *testing.T) {
	m := loadTestMenu(t)

	tests := []struct {
		name    string
		message string
		want    []string
		wantErr bool
	}{
		{"single flavor", "quero uma pizza de calabresa", []string{"calabresa"}, false},
		{"half and half", "meio a meio de calabresa e mussarela", []string{"calabresa", "mussarela"}, false},
		{"menu order wins", "mussarela e calabresa", []string{"calabresa", "mussarela"}, false},
		{"accent and alias", "uma de MUÇARELA por favor", []string{"mussarela"}, false},
		{"no flavor", "quero uma pizza", nil, true},
		{"three flavors", "calabresa, portuguesa e margherita", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.ParsePizzaOrder(tt.message, nil)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparsableOrder) {
					t.Fatalf("expected ErrUnparsableOrder, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(p.Flavors, tt.want) {
				t.Errorf("expected flavors %v, got %v", tt.want, p.Flavors)
			}
			if p.Size != "media" {
				t.Errorf("expected default size media, got %s", p.Size)
			}
		})
	}
}

func TestParsePizzaOrderPrefersParameters(t *testing.T) {
	m := loadTestMenu(t)

	p, err := m.ParsePizzaOrder("calabresa", map[string]any{
		"first_flavor":  "Portuguesa",
		"second_flavor": "margarita",
		"size":          "grande",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(p.Flavors, []string{"portuguesa", "margherita"}) {
		t.Errorf("unexpected flavors %v", p.Flavors)
	}
	if p.Size != "grande" {
		t.Errorf("expected size grande, got %s", p.Size)
	}
}

func TestParsePizzaOrderUnknownSizeFallsBack(t *testing.T) {
	m := loadTestMenu(t)

	p, err := m.ParsePizzaOrder("", map[string]any{"flavor": []any{"calabresa"}, "size": "gigante"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size != m.DefaultSize() {
		t.Errorf("expected default size, got %s", p.Size)
	}
}

func TestParsePizzaOrders(t *testing.T) {
	m := loadTestMenu(t)

	params := map[string]any{
		"pizzas": []any{
			map[string]any{"flavors": []any{"calabresa", "mussarela"}},
			map[string]any{"flavor": "portuguesa", "size": "pequena"},
		},
	}
	pizzas, err := m.ParsePizzaOrders("duas pizzas", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pizzas) != 2 {
		t.Fatalf("expected 2 pizzas, got %d", len(pizzas))
	}
	if !pizzas[0].HalfAndHalf() || pizzas[1].Size != "pequena" {
		t.Errorf("unexpected pizzas %+v", pizzas)
	}

	if _, err := m.ParsePizzaOrders("", map[string]any{"pizzas": []any{"calabresa"}}); !errors.Is(err, ErrUnparsableOrder) {
		t.Errorf("expected ErrUnparsableOrder for malformed list, got %v", err)
	}
}

func TestStructureDrink(t *testing.T) {
	m := loadTestMenu(t)

	tests := []struct {
		name     string
		params   map[string]any
		message  string
		wantName string
		wantQty  int
	}{
		{"param with number", map[string]any{"drink": "Coca-Cola", "number": float64(2)}, "", "coca-cola", 2},
		{"message digits", nil, "quero 3 fanta", "fanta", 3},
		{"unknown drink", nil, "quero um suco", "", 0},
		{"message words", nil, "duas coca", "coca-cola", 2},
		{"default quantity", nil, "Guaraná", "guarana", 1},
		{"string quantity", map[string]any{"drink": "fanta", "quantity": "4"}, "", "fanta", 4},
		{"times suffix", nil, "quero 2x coca", "coca-cola", 2},
		{"spaced times suffix", nil, "3 X guaraná", "guarana", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := m.StructureDrink(tt.params, tt.message)
			if tt.wantName == "" {
				if !errors.Is(err, ErrUnparsableOrder) {
					t.Fatalf("expected ErrUnparsableOrder, got %v (%+v)", err, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Name != tt.wantName || d.Quantity != tt.wantQty {
				t.Errorf("expected %s x%d, got %+v", tt.wantName, tt.wantQty, d)
			}
		})
	}
}

func TestDrinkRoundTrip(t *testing.T) {
	m := loadTestMenu(t)
	for _, name := range m.Drinks() {
		for _, qty := range []int{1, 2, 12} {
			d := DrinkItem{Name: name, Quantity: qty}
			text := m.DrinkToText(d)
			again, err := m.StructureDrink(nil, text)
			if err != nil {
				t.Fatalf("re-parse of %q failed: %v", text, err)
			}
			if again != d {
				t.Errorf("round trip of %+v via %q gave %+v", d, text, again)
			}
		}
	}
}

func TestPizzaRoundTrip(t *testing.T) {
	m := loadTestMenu(t)

	flavors := m.Flavors()
	for _, a := range flavors {
		for _, b := range flavors {
			want := []string{a}
			if a != b {
				want = []string{a, b}
			}
			p, err := m.ParsePizzaOrder("", map[string]any{"flavors": want})
			if err != nil {
				t.Fatalf("parse %v failed: %v", want, err)
			}

			text := m.PizzaToText(p)
			again, err := m.ParsePizzaOrder(text, nil)
			if err != nil {
				t.Fatalf("re-parse of %q failed: %v", text, err)
			}

			got := slices.Sorted(slices.Values(again.Flavors))
			exp := slices.Sorted(slices.Values(p.Flavors))
			if !slices.Equal(got, exp) {
				t.Errorf("round trip of %v via %q gave %v", p.Flavors, text, again.Flavors)
			}
		}
	}
}

func TestPizzaToText(t *testing.T) {
	m := loadTestMenu(t)

	single := PizzaItem{Flavors: []string{"calabresa"}}
	half := PizzaItem{Flavors: []string{"calabresa", "mussarela"}}

	if got := m.PizzaToText(single); got != "pizza de calabresa" {
		t.Errorf("unexpected single text %q", got)
	}
	if got := m.PizzaToText(half); got != "pizza meio a meio de calabresa e mussarela" {
		t.Errorf("unexpected half text %q", got)
	}
	want := "pizza de calabresa e pizza meio a meio de calabresa e mussarela"
	if got := m.PizzasToText([]PizzaItem{single, half}); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestBuildFullOrderKeepsOrderAndCopies(t *testing.T) {
	pizzas := []PizzaItem{
		{Flavors: []string{"portuguesa"}},
		{Flavors: []string{"calabresa", "mussarela"}},
	}
	drinks := []DrinkItem{{Name: "fanta", Quantity: 1}, {Name: "coca-cola", Quantity: 2}}

	full := BuildFullOrder(pizzas, drinks)
	pizzas[0].Flavors[0] = "changed"
	drinks[0].Name = "changed"

	if full.Pizzas[0].Flavors[0] != "portuguesa" || full.Pizzas[1].Flavors[1] != "mussarela" {
		t.Errorf("pizzas not preserved: %+v", full.Pizzas)
	}
	if full.Drinks[0].Name != "fanta" || full.Drinks[1].Name != "coca-cola" {
		t.Errorf("drinks not preserved: %+v", full.Drinks)
	}
	if !BuildFullOrder(nil, nil).Empty() {
		t.Error("expected empty order")
	}
}
