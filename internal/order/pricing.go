package order

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// ItemType distinguishes price table sections.
type ItemType string

const (
	ItemPizza ItemType = "pizza"
	ItemDrink ItemType = "drink"
)

// PriceKey identifies one price table entry. Drinks use an empty Size.
type PriceKey struct {
	Type ItemType
	Name string
	Size string
}

func (k PriceKey) String() string {
	if k.Size == "" {
		return fmt.Sprintf("%s %s", k.Type, k.Name)
	}
	return fmt.Sprintf("%s %s (%s)", k.Type, k.Name, k.Size)
}

// Money is an amount in cents.
type Money int64

// ParseMoney reads "30.00", "30,00" or "30" into cents.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	return Money(units*100 + cents), nil
}

// String renders the amount in Brazilian format, e.g. "R$ 1.234,50".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign, v = "-", -v
	}
	units := strconv.FormatInt(v/100, 10)
	var b strings.Builder
	for i, r := range units {
		if i > 0 && (len(units)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, b.String(), v%100)
}

// PriceTable is the read-only mapping (itemType, name, size) -> unit price.
type PriceTable struct {
	prices map[PriceKey]Money
}

// NewPriceTable copies prices into a new table.
func NewPriceTable(prices map[PriceKey]Money) *PriceTable {
	t := &PriceTable{prices: make(map[PriceKey]Money, len(prices))}
	for k, v := range prices {
		t.prices[k] = v
	}
	return t
}

// Price returns the unit price for key.
func (t *PriceTable) Price(key PriceKey) (Money, bool) {
	p, ok := t.prices[key]
	return p, ok
}

// PricingError reports an order line with no price entry. It points at a
// menu/price table mismatch rather than bad user input.
type PricingError struct {
	Key PriceKey
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("no price for %s", e.Key)
}

// PricedLine is one rendered, priced order line.
type PricedLine struct {
	Label     string `json:"label"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	Total     Money  `json:"total"`
}

// PricedOrder is the derived price summary of a FullOrder.
type PricedOrder struct {
	Lines        []PricedLine `json:"lines"`
	GrandTotal   Money        `json:"grand_total"`
	FinalMessage string       `json:"final_message"`
}

// Aggregator prices orders against a menu's price table.
type Aggregator struct {
	menu   *Menu
	prices *PriceTable
}

// NewAggregator returns an aggregator using menu for labels and prices for amounts.
func NewAggregator(menu *Menu, prices *PriceTable) *Aggregator {
	return &Aggregator{menu: menu, prices: prices}
}

// AnalyzeTotalPrice prices every line of order. It does not modify order and
// returns the same result for the same input.
func (a *Aggregator) AnalyzeTotalPrice(order FullOrder) (PricedOrder, error) {
	var priced PricedOrder

	for _, p := range order.Pizzas {
		size := p.Size
		if size == "" {
			size = a.menu.DefaultSize()
		}
		if len(p.Flavors) == 0 {
			key := PriceKey{Type: ItemPizza, Size: size}
			slog.Error("Aggregator.AnalyzeTotalPrice: pizza without flavors", "key", key.String())
			return PricedOrder{}, &PricingError{Key: key}
		}
		// Half-and-half pizzas cost as much as their most expensive half.
		var unit Money
		for _, flavor := range p.Flavors {
			key := PriceKey{Type: ItemPizza, Name: flavor, Size: size}
			price, ok := a.prices.Price(key)
			if !ok {
				slog.Error("Aggregator.AnalyzeTotalPrice: missing pizza price", "key", key.String())
				return PricedOrder{}, &PricingError{Key: key}
			}
			unit = max(unit, price)
		}
		priced.Lines = append(priced.Lines, PricedLine{
			Label:     a.pizzaLabel(p, size),
			Quantity:  1,
			UnitPrice: unit,
			Total:     unit,
		})
	}

	for _, d := range order.Drinks {
		key := PriceKey{Type: ItemDrink, Name: d.Name}
		price, ok := a.prices.Price(key)
		if !ok {
			slog.Error("Aggregator.AnalyzeTotalPrice: missing drink price", "key", key.String())
			return PricedOrder{}, &PricingError{Key: key}
		}
		priced.Lines = append(priced.Lines, PricedLine{
			Label:     a.menu.drinkName(d.Name),
			Quantity:  d.Quantity,
			UnitPrice: price,
			Total:     price * Money(d.Quantity),
		})
	}

	for _, l := range priced.Lines {
		priced.GrandTotal += l.Total
	}
	priced.FinalMessage = renderFinalMessage(priced.Lines, priced.GrandTotal)
	return priced, nil
}

// pizzaLabel renders e.g. "Pizza média de calabresa".
func (a *Aggregator) pizzaLabel(p PizzaItem, size string) string {
	names := a.menu.flavorNames(p.Flavors)
	label := "Pizza " + a.menu.sizeName(size)
	if len(names) == 2 {
		return label + " meio a meio de " + names[0] + " e " + names[1]
	}
	return label + " de " + strings.Join(names, " e ")
}

func renderFinalMessage(lines []PricedLine, total Money) string {
	var b strings.Builder
	b.WriteString("Resumo do seu pedido:\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "%dx %s - %s\n", l.Quantity, l.Label, l.Total)
	}
	fmt.Fprintf(&b, "Total: %s", total)
	return b.String()
}
