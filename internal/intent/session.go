package intent

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/catalog"
	"github.com/BTreeMap/PizzaPipe/internal/order"
)

// Flow selects which dialogue a session walks through.
type Flow string

const (
	// FlowSignup collects the fields of a new user record.
	FlowSignup Flow = "signup"
	// FlowOrder walks a registered user through drink and pizza choices.
	FlowOrder Flow = "order"
)

// Session is the in-progress dialogue state of one phone number.
type Session struct {
	Phone           string            `json:"phone"`
	Flow            Flow              `json:"flow"`
	Step            catalog.StepID    `json:"step"`
	AlreadyWelcomed bool              `json:"already_welcomed"`
	Parameters      map[string]string `json:"parameters"`
	Pizzas          []order.PizzaItem `json:"pizzas,omitempty"`
	Drinks          []order.DrinkItem `json:"drinks,omitempty"`
	PendingFlavors  []string          `json:"pending_flavors,omitempty"`
	Done            bool              `json:"done"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewSession starts a session for phone at the entry step of flow.
func NewSession(phone string, flow Flow, entry catalog.StepID, now time.Time) *Session {
	return &Session{
		Phone:      phone,
		Flow:       flow,
		Step:       entry,
		Parameters: map[string]string{FieldPhone: phone},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Parameters = maps.Clone(s.Parameters)
	c.Pizzas = slices.Clone(s.Pizzas)
	for i := range c.Pizzas {
		c.Pizzas[i].Flavors = slices.Clone(c.Pizzas[i].Flavors)
	}
	c.Drinks = slices.Clone(s.Drinks)
	c.PendingFlavors = slices.Clone(s.PendingFlavors)
	return &c
}

// Turn is the result of feeding one message to a session.
type Turn struct {
	Reply   string
	Session *Session // the updated copy to commit
	Reason  error    // recoverable cause when the reply is a re-prompt
	Priced  *order.PricedOrder
}

// Engine bundles the read-only configuration every session runs against.
type Engine struct {
	catalog    *catalog.Catalog
	menu       *order.Menu
	aggregator *order.Aggregator
}

// NewEngine checks that every validator and collected choice of the catalog
// can be served by the handlers and the menu.
func NewEngine(c *catalog.Catalog, menu *order.Menu) (*Engine, error) {
	e := &Engine{
		catalog:    c,
		menu:       menu,
		aggregator: order.NewAggregator(menu, menu.PriceTable()),
	}
	for _, id := range c.IDs() {
		step, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		for _, v := range step.Validators {
			if _, ok := ruleFor(v); !ok {
				return nil, fmt.Errorf("step %s: unknown validator %q", id, v)
			}
		}
		for _, ch := range step.Choices {
			if err := e.checkCollectable(step.Collects, ch.Text); err != nil {
				return nil, fmt.Errorf("step %s choice %s: %w", id, ch.Label, err)
			}
		}
	}
	return e, nil
}

func (e *Engine) checkCollectable(collects, text string) error {
	switch collects {
	case catalog.CollectsDrink:
		_, err := e.menu.StructureDrink(nil, text)
		return err
	case catalog.CollectsFlavor:
		_, err := e.menu.ParsePizzaOrder(text, nil)
		return err
	}
	return nil
}

// Catalog returns the step catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Menu returns the menu used for order capture.
func (e *Engine) Menu() *order.Menu { return e.menu }

// Aggregator returns the pricing aggregator.
func (e *Engine) Aggregator() *order.Aggregator { return e.aggregator }

// Entry returns the first step of flow.
func (e *Engine) Entry(flow Flow) catalog.StepID {
	if flow == FlowOrder {
		return e.catalog.OrderEntry()
	}
	return e.catalog.SignupEntry()
}

// Advance feeds message to the session. The receiver is never modified: the
// returned Turn carries an updated copy that the caller commits. A non-nil error
// is an internal failure (unknown step, missing price) and leaves nothing to commit.
func (s *Session) Advance(e *Engine, message string) (Turn, error) {
	next := s.Clone()

	step, err := e.catalog.Get(s.Step)
	if err != nil {
		return Turn{}, err
	}
	handler, err := HandlerFor(step.Kind)
	if err != nil {
		return Turn{}, err
	}

	if !s.AlreadyWelcomed {
		next.AlreadyWelcomed = true
		return Turn{Reply: handler.FirstPrompt(step), Session: next}, nil
	}

	out := handler.ParseReply(step, *s, message)
	if !out.Transition {
		if out.Reason != nil {
			slog.Debug("Session.Advance: re-prompt", "phone", s.Phone, "step", s.Step, "reason", out.Reason)
			return Turn{Reply: out.Body, Session: s.Clone(), Reason: out.Reason}, nil
		}
		next.Parameters = mergeParameters(next.Parameters, out.Parameters)
		return Turn{Reply: out.Body, Session: next}, nil
	}

	next.Parameters = mergeParameters(next.Parameters, out.Parameters)
	if err := e.capture(next, step, out); err != nil {
		if errors.Is(err, order.ErrUnparsableOrder) {
			slog.Warn("Session.Advance: could not capture order item", "phone", s.Phone, "step", s.Step, "error", err)
			return Turn{
				Reply:   "Não consegui entender o seu pedido. Pode repetir, por favor?",
				Session: s.Clone(),
				Reason:  err,
			}, nil
		}
		return Turn{}, err
	}

	slog.Debug("Session.Advance: transition", "phone", s.Phone, "from", s.Step, "to", out.Next)
	next.Step = out.Next
	next.AlreadyWelcomed = false
	turn := Turn{Reply: out.Body, Session: next}

	if out.Next == catalog.None {
		next.Done = true
		if next.Flow == FlowOrder {
			priced, err := e.aggregator.AnalyzeTotalPrice(order.BuildFullOrder(next.Pizzas, next.Drinks))
			if err != nil {
				return Turn{}, fmt.Errorf("failed to price order for %s: %w", s.Phone, err)
			}
			turn.Priced = &priced
			turn.Reply = joinReplies(out.Body, priced.FinalMessage)
		}
	}
	return turn, nil
}

// capture feeds the chosen option of an order step into the session. Pending
// flavors become a pizza once the flow leaves the flavor steps.
func (e *Engine) capture(s *Session, step catalog.StepDefinition, out Outcome) error {
	switch step.Collects {
	case catalog.CollectsDrink:
		drink, err := e.menu.StructureDrink(nil, out.Value)
		if err != nil {
			return err
		}
		s.Drinks = append(s.Drinks, drink)
	case catalog.CollectsFlavor:
		s.PendingFlavors = append(s.PendingFlavors, out.Value)
	}

	if len(s.PendingFlavors) == 0 || e.collectsFlavor(out.Next) {
		return nil
	}
	pizza, err := e.menu.ParsePizzaOrder(strings.Join(s.PendingFlavors, " e "), map[string]any{order.ParamFlavors: s.PendingFlavors})
	if err != nil {
		return err
	}
	s.Pizzas = append(s.Pizzas, pizza)
	s.PendingFlavors = nil
	return nil
}

func (e *Engine) collectsFlavor(id catalog.StepID) bool {
	if id == catalog.None {
		return false
	}
	step, err := e.catalog.Get(id)
	return err == nil && step.Collects == catalog.CollectsFlavor
}

func joinReplies(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
