// Package intent implements the local conversation engine: per-kind step
// handlers, the per-phone conversation session and the manager that gates
// unregistered numbers into the sign-up dialogue.
package intent

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/BTreeMap/PizzaPipe/internal/catalog"
)

// ErrUnknownChoice is returned when a multiple-choice reply matches no label.
var ErrUnknownChoice = errors.New("unknown choice")

// Outcome is what a handler decides for one reply. Handlers never mutate the
// session; the caller applies the outcome.
type Outcome struct {
	Body       string            // text to send back
	Transition bool              // move to Next
	Next       catalog.StepID    // target step, catalog.None ends the flow
	Value      string            // accepted input or chosen option text
	Parameters map[string]string // fields to merge into the session
	Reason     error             // why a re-prompt was produced
}

// Handler is the behaviour shared by every step kind.
type Handler interface {
	FirstPrompt(step catalog.StepDefinition) string
	ParseReply(step catalog.StepDefinition, session Session, message string) Outcome
}

// HandlerFor returns the handler for a step kind.
func HandlerFor(kind catalog.Kind) (Handler, error) {
	switch kind {
	case catalog.KindMultipleChoice:
		return MultipleChoice{}, nil
	case catalog.KindEntryText:
		return EntryText{}, nil
	case catalog.KindFallback:
		return Fallback{}, nil
	}
	return nil, fmt.Errorf("no handler for step kind %q", kind)
}

// MultipleChoice presents numbered options and follows the chosen one.
type MultipleChoice struct{}

func (MultipleChoice) FirstPrompt(step catalog.StepDefinition) string {
	var b strings.Builder
	b.WriteString(step.Prompt)
	for _, c := range step.Choices {
		fmt.Fprintf(&b, "\n%s: %s", c.Label, c.Text)
	}
	return b.String()
}

func (MultipleChoice) ParseReply(step catalog.StepDefinition, _ Session, message string) Outcome {
	label := strings.TrimSpace(message)
	choice, ok := step.Choice(label)
	if !ok {
		var b strings.Builder
		fmt.Fprintf(&b, "\"%s\" não é uma opção válida. Por favor, escolha uma das opções:", label)
		for _, c := range step.Choices {
			fmt.Fprintf(&b, "\n%s: %s", c.Label, c.Text)
		}
		return Outcome{
			Body:   b.String(),
			Reason: fmt.Errorf("step %s, reply %q: %w", step.ID, label, ErrUnknownChoice),
		}
	}
	return Outcome{
		Body:       step.Confirm(choice.Text),
		Transition: true,
		Next:       choice.Next,
		Value:      choice.Text,
	}
}

// EntryText collects free text, validating one outstanding field per reply.
type EntryText struct{}

func (EntryText) FirstPrompt(step catalog.StepDefinition) string {
	return step.Prompt
}

// ParseReply validates message against the first field of the step that the
// session has not collected yet. Only the last outstanding field transitions.
func (EntryText) ParseReply(step catalog.StepDefinition, session Session, message string) Outcome {
	input := strings.TrimSpace(message)

	var outstanding []fieldRule
	for _, field := range step.Validators {
		if _, done := session.Parameters[field]; done {
			continue
		}
		rule, ok := ruleFor(field)
		if !ok {
			return Outcome{Reason: fmt.Errorf("step %s: unknown validator %q", step.ID, field)}
		}
		outstanding = append(outstanding, rule)
	}
	if len(outstanding) == 0 {
		var last string
		if n := len(step.Validators); n > 0 {
			last = session.Parameters[step.Validators[n-1]]
		}
		return Outcome{Body: step.Confirm(last), Transition: true, Next: step.Next, Value: last}
	}

	rule := outstanding[0]
	value, problem := rule.validate(input)
	if problem != "" {
		return Outcome{
			Body:   problem,
			Reason: &ValidationError{Field: rule.field, Input: input, Message: problem},
		}
	}

	params := map[string]string{rule.field: value}
	if len(outstanding) > 1 {
		return Outcome{Body: outstanding[1].ask, Value: value, Parameters: params}
	}
	return Outcome{
		Body:       step.Confirm(value),
		Transition: true,
		Next:       step.Next,
		Value:      value,
		Parameters: params,
	}
}

// Fallback shows its prompt and returns to another step on any reply.
type Fallback struct{}

func (Fallback) FirstPrompt(step catalog.StepDefinition) string {
	return step.Prompt
}

func (Fallback) ParseReply(step catalog.StepDefinition, _ Session, message string) Outcome {
	return Outcome{
		Body:       step.Confirm(strings.TrimSpace(message)),
		Transition: true,
		Next:       step.Fallback,
	}
}

func mergeParameters(dst map[string]string, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}
