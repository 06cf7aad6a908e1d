// Package order turns order fragments into pizza and drink line items, renders
// them back to Portuguese text and prices a full order.
package order

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed menu.yaml
var defaultMenu []byte

// Item is a named menu entry with extra spellings accepted when parsing.
type Item struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// terms returns every normalised spelling that identifies the item.
func (it Item) terms() []string {
	terms := []string{normalize(it.Name), normalize(it.ID)}
	for _, a := range it.Aliases {
		terms = append(terms, normalize(a))
	}
	return terms
}

type priceEntry struct {
	Type  ItemType `yaml:"type"`
	Name  string   `yaml:"name"`
	Size  string   `yaml:"size"`
	Price string   `yaml:"price"`
}

type menuDocument struct {
	DefaultSize string       `yaml:"default_size"`
	Sizes       []Item       `yaml:"sizes"`
	Flavors     []Item       `yaml:"flavors"`
	Drinks      []Item       `yaml:"drinks"`
	Prices      []priceEntry `yaml:"prices"`
}

// Menu is the read-only vocabulary of flavors, drinks and sizes.
type Menu struct {
	defaultSize string
	sizes       []Item
	flavors     []Item
	drinks      []Item
	prices      *PriceTable
}

// Opts holds configuration options for loading the menu.
type Opts struct {
	File string // optional YAML file replacing the embedded menu
}

// Option defines a configuration option for the menu.
type Option func(*Opts)

// WithFile loads the menu and prices from the given YAML file.
func WithFile(path string) Option {
	return func(o *Opts) {
		o.File = path
	}
}

// LoadMenu reads the menu and its price table.
func LoadMenu(opts ...Option) (*Menu, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	data := defaultMenu
	if cfg.File != "" {
		slog.Debug("order.LoadMenu: reading menu file", "path", cfg.File)
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read menu file %s: %w", cfg.File, err)
		}
		data = b
	}
	return ParseMenu(data)
}

// ParseMenu decodes a YAML menu document.
func ParseMenu(data []byte) (*Menu, error) {
	var doc menuDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode menu: %w", err)
	}

	prices := make(map[PriceKey]Money, len(doc.Prices))
	for _, p := range doc.Prices {
		amount, err := ParseMoney(p.Price)
		if err != nil {
			return nil, fmt.Errorf("price for %s %s: %w", p.Type, p.Name, err)
		}
		prices[PriceKey{Type: p.Type, Name: p.Name, Size: p.Size}] = amount
	}

	m := &Menu{
		defaultSize: doc.DefaultSize,
		sizes:       doc.Sizes,
		flavors:     doc.Flavors,
		drinks:      doc.Drinks,
		prices:      NewPriceTable(prices),
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	slog.Debug("order.ParseMenu: menu loaded", "flavors", len(m.flavors), "drinks", len(m.drinks), "prices", len(prices))
	return m, nil
}

// validate checks that no spelling identifies two different items of the same kind,
// which would break the render/parse round trip.
func (m *Menu) validate() error {
	if len(m.flavors) == 0 {
		return fmt.Errorf("menu has no flavors")
	}
	if _, ok := m.size(m.defaultSize); !ok {
		return fmt.Errorf("default size %q is not a known size", m.defaultSize)
	}
	for kind, items := range map[string][]Item{"size": m.sizes, "flavor": m.flavors, "drink": m.drinks} {
		seen := make(map[string]string)
		for _, it := range items {
			for _, term := range it.terms() {
				if owner, dup := seen[term]; dup && owner != it.ID {
					return fmt.Errorf("%s spelling %q used by both %s and %s", kind, term, owner, it.ID)
				}
				seen[term] = it.ID
			}
		}
	}
	return nil
}

// PriceTable returns the static prices loaded with the menu.
func (m *Menu) PriceTable() *PriceTable { return m.prices }

// DefaultSize is the size used when an order does not name one.
func (m *Menu) DefaultSize() string { return m.defaultSize }

// Flavors lists flavor ids in menu order.
func (m *Menu) Flavors() []string { return ids(m.flavors) }

// Drinks lists drink ids in menu order.
func (m *Menu) Drinks() []string { return ids(m.drinks) }

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func (m *Menu) size(id string) (Item, bool)   { return findByID(m.sizes, id) }
func (m *Menu) flavor(id string) (Item, bool) { return findByID(m.flavors, id) }
func (m *Menu) drink(id string) (Item, bool)  { return findByID(m.drinks, id) }

func findByID(items []Item, id string) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// lookup resolves a single value (a parameter, a choice text) to an item.
func lookup(items []Item, value string) (Item, bool) {
	v := normalize(value)
	if v == "" {
		return Item{}, false
	}
	for _, it := range items {
		for _, term := range it.terms() {
			if term == v {
				return it, true
			}
		}
	}
	return Item{}, false
}

// scan returns the items mentioned anywhere in text, in menu order.
func scan(items []Item, text string) []Item {
	haystack := " " + normalize(text) + " "
	var found []Item
	for _, it := range items {
		for _, term := range it.terms() {
			if term != "" && strings.Contains(haystack, " "+term+" ") {
				found = append(found, it)
				break
			}
		}
	}
	return found
}

// normalize lowercases, strips accents and collapses punctuation to single spaces.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// PizzasMenuText lists the flavors for menu prompts, e.g. "Calabresa, Mussarela e Portuguesa".
func (m *Menu) PizzasMenuText() string {
	names := make([]string, 0, len(m.flavors))
	for _, f := range m.flavors {
		names = append(names, capitalize(f.Name))
	}
	return "Hoje temos as pizzas " + joinPortuguese(names)
}

// DrinksMenuText lists the drinks for menu prompts.
func (m *Menu) DrinksMenuText() string {
	names := make([]string, 0, len(m.drinks))
	for _, d := range m.drinks {
		names = append(names, d.Name)
	}
	return "Temos " + joinPortuguese(names) + ". Qual bebida você vai querer?"
}

// joinPortuguese joins words as "a, b e c".
func joinPortuguese(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " e " + parts[len(parts)-1]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
