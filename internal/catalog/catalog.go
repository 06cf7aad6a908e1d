// Package catalog holds the read-only table of dialogue steps used by the local
// conversation engine.
//
// Steps are loaded once at startup from YAML (the embedded steps.yaml or an
// override file) and validated so that every transition target exists. After
// construction a Catalog is never mutated, so concurrent reads need no locking.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed steps.yaml
var defaultSteps []byte

// StepID identifies a dialogue step.
type StepID string

// None is the sentinel target meaning "no further transition".
const None StepID = ""

// Kind selects the behaviour used to handle replies for a step.
type Kind string

const (
	// KindMultipleChoice presents numbered options and follows the chosen one.
	KindMultipleChoice Kind = "MULTIPLE_CHOICE"
	// KindEntryText collects free text validated field by field.
	KindEntryText Kind = "ENTRY_TEXT"
	// KindFallback shows its prompt and returns to another step on any reply.
	KindFallback Kind = "FALLBACK"
)

// Values accepted in StepDefinition.Collects.
const (
	CollectsDrink  = "drink"
	CollectsFlavor = "flavor"
)

// ErrUnknownStep is returned when a step id is not present in the catalog.
var ErrUnknownStep = errors.New("unknown step")

// Choice is one option of a multiple-choice step.
type Choice struct {
	Label string `yaml:"label"`
	Text  string `yaml:"text"`
	Next  StepID `yaml:"next"`
}

// StepDefinition describes one node of the dialogue flow.
type StepDefinition struct {
	ID           StepID   `yaml:"id"`
	Kind         Kind     `yaml:"kind"`
	Prompt       string   `yaml:"prompt"`
	Choices      []Choice `yaml:"choices"`
	Validators   []string `yaml:"validators"`
	Next         StepID   `yaml:"next"`
	Fallback     StepID   `yaml:"fallback"`
	Confirmation string   `yaml:"confirmation"` // follow-up after a transition, {{value}} is replaced
	Collects     string   `yaml:"collects"`     // order slot fed by the chosen text
}

// Choice looks up an option by its label.
func (s StepDefinition) Choice(label string) (Choice, bool) {
	for _, c := range s.Choices {
		if c.Label == label {
			return c, true
		}
	}
	return Choice{}, false
}

// Confirm renders the step confirmation for the accepted value.
func (s StepDefinition) Confirm(value string) string {
	return strings.ReplaceAll(s.Confirmation, "{{value}}", value)
}

type document struct {
	Entry struct {
		Signup StepID `yaml:"signup"`
		Order  StepID `yaml:"order"`
	} `yaml:"entry"`
	Steps []StepDefinition `yaml:"steps"`
}

// Catalog is the immutable set of step definitions.
type Catalog struct {
	steps       map[StepID]StepDefinition
	ids         []StepID
	signupEntry StepID
	orderEntry  StepID
}

// Opts holds configuration options for loading the catalog.
type Opts struct {
	File string // optional YAML file replacing the embedded steps
}

// Option defines a configuration option for the catalog.
type Option func(*Opts)

// WithFile loads the steps from the given YAML file instead of the embedded default.
func WithFile(path string) Option {
	return func(o *Opts) {
		o.File = path
	}
}

// Load reads and validates the step catalog.
func Load(opts ...Option) (*Catalog, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	data := defaultSteps
	if cfg.File != "" {
		slog.Debug("catalog.Load: reading steps file", "path", cfg.File)
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file %s: %w", cfg.File, err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes a YAML step document and validates it.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(doc.Steps, doc.Entry.Signup, doc.Entry.Order)
}

// New builds a catalog from step definitions, checking that ids are unique and
// every transition target names an existing step or None.
func New(steps []StepDefinition, signupEntry, orderEntry StepID) (*Catalog, error) {
	c := &Catalog{
		steps:       make(map[StepID]StepDefinition, len(steps)),
		signupEntry: signupEntry,
		orderEntry:  orderEntry,
	}
	for _, s := range steps {
		if s.ID == None {
			return nil, fmt.Errorf("catalog step without id")
		}
		if _, dup := c.steps[s.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog step %s", s.ID)
		}
		c.steps[s.ID] = s
		c.ids = append(c.ids, s.ID)
	}

	for _, s := range steps {
		if err := c.validateStep(s); err != nil {
			return nil, err
		}
	}
	for _, entry := range []StepID{signupEntry, orderEntry} {
		if _, ok := c.steps[entry]; !ok {
			return nil, fmt.Errorf("entry step %q: %w", entry, ErrUnknownStep)
		}
	}

	slog.Debug("catalog.New: catalog loaded", "steps", len(c.ids), "signup_entry", signupEntry, "order_entry", orderEntry)
	return c, nil
}

func (c *Catalog) validateStep(s StepDefinition) error {
	switch s.Kind {
	case KindMultipleChoice:
		if len(s.Choices) == 0 {
			return fmt.Errorf("step %s: multiple choice without choices", s.ID)
		}
		for _, ch := range s.Choices {
			if ch.Label == "" {
				return fmt.Errorf("step %s: choice without label", s.ID)
			}
			if err := c.checkTarget(s.ID, ch.Next); err != nil {
				return err
			}
		}
	case KindEntryText:
		if len(s.Validators) == 0 {
			return fmt.Errorf("step %s: entry text without validators", s.ID)
		}
		if err := c.checkTarget(s.ID, s.Next); err != nil {
			return err
		}
	case KindFallback:
		if s.Fallback == None {
			return fmt.Errorf("step %s: fallback step without fallback target", s.ID)
		}
		if err := c.checkTarget(s.ID, s.Fallback); err != nil {
			return err
		}
	default:
		return fmt.Errorf("step %s: invalid kind %q", s.ID, s.Kind)
	}

	switch s.Collects {
	case "", CollectsDrink, CollectsFlavor:
	default:
		return fmt.Errorf("step %s: invalid collects %q", s.ID, s.Collects)
	}
	return nil
}

func (c *Catalog) checkTarget(from, to StepID) error {
	if to == None {
		return nil
	}
	if _, ok := c.steps[to]; !ok {
		return fmt.Errorf("step %s references %q: %w", from, to, ErrUnknownStep)
	}
	return nil
}

// Get returns the step definition for id.
func (c *Catalog) Get(id StepID) (StepDefinition, error) {
	s, ok := c.steps[id]
	if !ok {
		return StepDefinition{}, fmt.Errorf("step %q: %w", id, ErrUnknownStep)
	}
	s.Choices = slices.Clone(s.Choices)
	s.Validators = slices.Clone(s.Validators)
	return s, nil
}

// SignupEntry is the first step of the sign-up flow.
func (c *Catalog) SignupEntry() StepID { return c.signupEntry }

// OrderEntry is the first step of the local ordering flow.
func (c *Catalog) OrderEntry() StepID { return c.orderEntry }

// IDs lists the step ids in declaration order.
func (c *Catalog) IDs() []StepID { return slices.Clone(c.ids) }
