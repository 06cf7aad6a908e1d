package order

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrUnparsableOrder is returned when no known flavor or drink can be found.
var ErrUnparsableOrder = errors.New("unparsable order")

// MaxFlavorsPerPizza is the number of halves a pizza can be split into.
const MaxFlavorsPerPizza = 2

// PizzaItem is one pizza line of an order. Flavors and Size hold menu ids.
type PizzaItem struct {
	Flavors []string `json:"flavors"`
	Size    string   `json:"size,omitempty"`
	RawText string   `json:"raw_text,omitempty"`
}

// HalfAndHalf reports whether the pizza has two flavors.
func (p PizzaItem) HalfAndHalf() bool { return len(p.Flavors) == 2 }

// DrinkItem is one drink line of an order. Name holds the menu id.
type DrinkItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// FullOrder is the accumulated order handed to pricing, in insertion order.
type FullOrder struct {
	Pizzas []PizzaItem `json:"pizzas"`
	Drinks []DrinkItem `json:"drinks"`
}

// Empty reports whether the order has no lines.
func (o FullOrder) Empty() bool { return len(o.Pizzas) == 0 && len(o.Drinks) == 0 }

// Parameter keys understood by the parsers.
const (
	ParamFlavors      = "flavors"
	ParamFlavor       = "flavor"
	ParamFirstFlavor  = "first_flavor"
	ParamSecondFlavor = "second_flavor"
	ParamSize         = "size"
	ParamPizzas       = "pizzas"
	ParamDrink        = "drink"
	ParamQuantity     = "quantity"
	ParamNumber       = "number"
)

var flavorParams = []string{ParamFlavors, ParamFlavor, ParamFirstFlavor, ParamSecondFlavor}

// quantityRegex accepts "2", "2x" and "2 x", the last two as DrinkToText renders them.
var quantityRegex = regexp.MustCompile(`(?i)\b(\d{1,2})\s*x?\b`)

var quantityWords = map[string]int{
	"um": 1, "uma": 1,
	"dois": 2, "duas": 2,
	"tres": 3,
	"quatro": 4,
	"cinco": 5,
}

// ParsePizzaOrder extracts one pizza from structured parameters, falling back to
// scanning message for flavor names.
func (m *Menu) ParsePizzaOrder(message string, params map[string]any) (PizzaItem, error) {
	var flavors []string
	for _, key := range flavorParams {
		for _, v := range stringsParam(params, key) {
			f, ok := lookup(m.flavors, v)
			if !ok {
				slog.Warn("Menu.ParsePizzaOrder: unknown flavor parameter", "key", key, "value", v)
				continue
			}
			if !slices.Contains(flavors, f.ID) {
				flavors = append(flavors, f.ID)
			}
		}
	}

	if len(flavors) == 0 {
		for _, f := range scan(m.flavors, message) {
			flavors = append(flavors, f.ID)
		}
	}

	switch {
	case len(flavors) == 0:
		return PizzaItem{}, fmt.Errorf("no flavor found in %q: %w", message, ErrUnparsableOrder)
	case len(flavors) > MaxFlavorsPerPizza:
		return PizzaItem{}, fmt.Errorf("%d flavors named in %q, at most %d allowed: %w", len(flavors), message, MaxFlavorsPerPizza, ErrUnparsableOrder)
	}

	size := m.defaultSize
	if values := stringsParam(params, ParamSize); len(values) > 0 {
		if s, ok := lookup(m.sizes, values[0]); ok {
			size = s.ID
		} else {
			slog.Warn("Menu.ParsePizzaOrder: unknown size parameter, using default", "value", values[0], "default", m.defaultSize)
		}
	}

	return PizzaItem{Flavors: flavors, Size: size, RawText: strings.TrimSpace(message)}, nil
}

// ParsePizzaOrders extracts every pizza of a message. A "pizzas" parameter holding a
// list of parameter objects yields one pizza per element; otherwise a single pizza
// is parsed from the message.
func (m *Menu) ParsePizzaOrders(message string, params map[string]any) ([]PizzaItem, error) {
	list, ok := params[ParamPizzas].([]any)
	if !ok || len(list) == 0 {
		p, err := m.ParsePizzaOrder(message, params)
		if err != nil {
			return nil, err
		}
		return []PizzaItem{p}, nil
	}

	pizzas := make([]PizzaItem, 0, len(list))
	for i, raw := range list {
		sub, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("pizza %d is not an object: %w", i, ErrUnparsableOrder)
		}
		p, err := m.ParsePizzaOrder("", sub)
		if err != nil {
			return nil, fmt.Errorf("pizza %d: %w", i, err)
		}
		p.RawText = strings.TrimSpace(message)
		pizzas = append(pizzas, p)
	}
	return pizzas, nil
}

// StructureDrink extracts a drink and its quantity (default 1).
func (m *Menu) StructureDrink(params map[string]any, message string) (DrinkItem, error) {
	var drink Item
	found := false
	if values := stringsParam(params, ParamDrink); len(values) > 0 {
		drink, found = lookup(m.drinks, values[0])
	}
	if !found {
		if hits := scan(m.drinks, message); len(hits) > 0 {
			drink, found = hits[0], true
		}
	}
	if !found {
		return DrinkItem{}, fmt.Errorf("no drink found in %q: %w", message, ErrUnparsableOrder)
	}

	quantity := quantityParam(params)
	if quantity == 0 {
		quantity = quantityFromText(message)
	}
	if quantity <= 0 {
		quantity = 1
	}
	return DrinkItem{Name: drink.ID, Quantity: quantity}, nil
}

func quantityParam(params map[string]any) int {
	for _, key := range []string{ParamQuantity, ParamNumber} {
		switch v := params[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

func quantityFromText(message string) int {
	if match := quantityRegex.FindStringSubmatch(message); match != nil {
		n, _ := strconv.Atoi(match[1])
		return n
	}
	for _, word := range strings.Fields(normalize(message)) {
		if n, ok := quantityWords[word]; ok {
			return n
		}
	}
	return 0
}

// stringsParam reads a parameter that may be a string or a list of strings.
func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PizzaToText renders a pizza as a sentence fragment, e.g.
// "pizza meio a meio de calabresa e mussarela".
func (m *Menu) PizzaToText(p PizzaItem) string {
	names := m.flavorNames(p.Flavors)
	if len(names) == 2 {
		return "pizza meio a meio de " + names[0] + " e " + names[1]
	}
	return "pizza de " + strings.Join(names, " e ")
}

// PizzasToText renders several pizzas, e.g. "pizza de calabresa e pizza de portuguesa".
func (m *Menu) PizzasToText(items []PizzaItem) string {
	parts := make([]string, 0, len(items))
	for _, p := range items {
		parts = append(parts, m.PizzaToText(p))
	}
	return joinPortuguese(parts)
}

// DrinkToText renders a drink line, e.g. "2x Coca-Cola".
func (m *Menu) DrinkToText(d DrinkItem) string {
	return fmt.Sprintf("%dx %s", d.Quantity, m.drinkName(d.Name))
}

func (m *Menu) flavorNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if f, ok := m.flavor(id); ok {
			names = append(names, f.Name)
		} else {
			names = append(names, id)
		}
	}
	return names
}

func (m *Menu) drinkName(id string) string {
	if d, ok := m.drink(id); ok {
		return d.Name
	}
	return id
}

func (m *Menu) sizeName(id string) string {
	if s, ok := m.size(id); ok {
		return s.Name
	}
	return id
}

// BuildFullOrder assembles accumulated pizzas and drinks, keeping insertion order.
func BuildFullOrder(pizzas []PizzaItem, drinks []DrinkItem) FullOrder {
	order := FullOrder{
		Pizzas: make([]PizzaItem, 0, len(pizzas)),
		Drinks: make([]DrinkItem, 0, len(drinks)),
	}
	for _, p := range pizzas {
		p.Flavors = slices.Clone(p.Flavors)
		order.Pizzas = append(order.Pizzas, p)
	}
	order.Drinks = append(order.Drinks, drinks...)
	return order
}
