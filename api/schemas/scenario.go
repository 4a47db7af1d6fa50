// api/schemas/scenario.go
package schemas

import (
	"fmt"
	"time"
)

// DefaultStepTimeout bounds a single step when the scenario author did not
// give one.
const DefaultStepTimeout = 30 * time.Second

// StepKind discriminates the closed set of scenario step variants.
type StepKind string

const (
	KindNavigate StepKind = "navigate"
	KindClick    StepKind = "click"
	KindType     StepKind = "type"
	KindWait     StepKind = "wait"
	KindScroll   StepKind = "scroll"
	KindHover    StepKind = "hover"
)

// Step is one scripted interaction in a scenario. The set of implementations
// is sealed; values are produced by RawStep.Compile so that required fields
// are rejected before any browser action is attempted.
type Step interface {
	Kind() StepKind
	// Timeout is the per-step execution deadline. Compile always fills it,
	// falling back to DefaultStepTimeout.
	Timeout() time.Duration
	// String is a short human description used in logs and step errors.
	String() string

	isStep()
}

// NavigateStep loads a location and waits for the document to become ready.
type NavigateStep struct {
	URL      string
	Deadline time.Duration
}

// ClickStep waits for the selector to be visible, then clicks it.
type ClickStep struct {
	Selector string
	Deadline time.Duration
}

// TypeStep waits for the selector to be visible, focuses it and types Text.
type TypeStep struct {
	Selector string
	Text     string
	Deadline time.Duration
}

// WaitStep waits for a selector to become visible, or sleeps for the step
// timeout when no selector is given.
type WaitStep struct {
	Selector string
	Deadline time.Duration
}

// ScrollStep scrolls to the bottom of the document.
type ScrollStep struct {
	Deadline time.Duration
}

// HoverStep moves the pointer to the center of the selector's first match.
type HoverStep struct {
	Selector string
	Deadline time.Duration
}

func (NavigateStep) Kind() StepKind { return KindNavigate }
func (ClickStep) Kind() StepKind    { return KindClick }
func (TypeStep) Kind() StepKind     { return KindType }
func (WaitStep) Kind() StepKind     { return KindWait }
func (ScrollStep) Kind() StepKind   { return KindScroll }
func (HoverStep) Kind() StepKind    { return KindHover }

func (s NavigateStep) Timeout() time.Duration { return s.Deadline }
func (s ClickStep) Timeout() time.Duration    { return s.Deadline }
func (s TypeStep) Timeout() time.Duration     { return s.Deadline }
func (s WaitStep) Timeout() time.Duration     { return s.Deadline }
func (s ScrollStep) Timeout() time.Duration   { return s.Deadline }
func (s HoverStep) Timeout() time.Duration    { return s.Deadline }

func (s NavigateStep) String() string { return fmt.Sprintf("navigate %s", s.URL) }
func (s ClickStep) String() string    { return fmt.Sprintf("click %q", s.Selector) }
func (s TypeStep) String() string     { return fmt.Sprintf("type into %q", s.Selector) }
func (s WaitStep) String() string {
	if s.Selector == "" {
		return fmt.Sprintf("wait %s", s.Deadline)
	}
	return fmt.Sprintf("wait for %q", s.Selector)
}
func (s ScrollStep) String() string { return "scroll to bottom" }
func (s HoverStep) String() string  { return fmt.Sprintf("hover %q", s.Selector) }

func (NavigateStep) isStep() {}
func (ClickStep) isStep()    {}
func (TypeStep) isStep()     {}
func (WaitStep) isStep()     {}
func (ScrollStep) isStep()   {}
func (HoverStep) isStep()    {}

// RawStep is the wire shape of a step as it appears in a scenario file.
// Timeout is in milliseconds. WaitFor names the selector a wait step watches
// for; wait steps also accept plain selector.
type RawStep struct {
	Type     string `json:"type" yaml:"type"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	WaitFor  string `json:"waitFor,omitempty" yaml:"waitFor,omitempty"`
	Timeout  int64  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ScenarioFile is the wire shape of a scenario document (YAML or JSON).
type ScenarioFile struct {
	Name    string             `json:"name" yaml:"name"`
	URL     string             `json:"url" yaml:"url"`
	Budgets map[string]float64 `json:"budgets,omitempty" yaml:"budgets,omitempty"`
	Steps   []RawStep          `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Scenario is a validated, executable scenario.
type Scenario struct {
	Name    string
	URL     string
	Budgets map[string]float64
	Steps   []Step
}

// ValidationError reports a scenario document that failed structural checks.
// It is always raised before any browser action runs.
type ValidationError struct {
	Scenario string
	Field    string
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.Scenario == "" {
		return fmt.Sprintf("invalid scenario: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid scenario %q: %s: %s", e.Scenario, e.Field, e.Msg)
}

// Compile validates the raw step and returns the concrete variant. Unknown
// types and missing required fields fail here, not at dispatch time.
func (r RawStep) Compile() (Step, error) {
	d := time.Duration(r.Timeout) * time.Millisecond
	if d <= 0 {
		d = DefaultStepTimeout
	}

	switch StepKind(r.Type) {
	case KindNavigate:
		if r.URL == "" {
			return nil, &ValidationError{Field: "url", Msg: "navigate step requires a url"}
		}
		return NavigateStep{URL: r.URL, Deadline: d}, nil
	case KindClick:
		if r.Selector == "" {
			return nil, &ValidationError{Field: "selector", Msg: "click step requires a selector"}
		}
		return ClickStep{Selector: r.Selector, Deadline: d}, nil
	case KindType:
		if r.Selector == "" {
			return nil, &ValidationError{Field: "selector", Msg: "type step requires a selector"}
		}
		if r.Text == "" {
			return nil, &ValidationError{Field: "text", Msg: "type step requires text"}
		}
		return TypeStep{Selector: r.Selector, Text: r.Text, Deadline: d}, nil
	case KindWait:
		sel := r.WaitFor
		if sel == "" {
			sel = r.Selector
		}
		return WaitStep{Selector: sel, Deadline: d}, nil
	case KindScroll:
		return ScrollStep{Deadline: d}, nil
	case KindHover:
		if r.Selector == "" {
			return nil, &ValidationError{Field: "selector", Msg: "hover step requires a selector"}
		}
		return HoverStep{Selector: r.Selector, Deadline: d}, nil
	case "":
		return nil, &ValidationError{Field: "type", Msg: "step is missing a type"}
	default:
		return nil, &ValidationError{Field: "type", Msg: fmt.Sprintf("unknown step type %q", r.Type)}
	}
}

// Compile validates the whole document and produces an executable Scenario.
func (f ScenarioFile) Compile() (*Scenario, error) {
	if f.Name == "" {
		return nil, &ValidationError{Field: "name", Msg: "scenario requires a name"}
	}
	if f.URL == "" {
		return nil, &ValidationError{Scenario: f.Name, Field: "url", Msg: "scenario requires a start url"}
	}

	steps := make([]Step, 0, len(f.Steps))
	for i, raw := range f.Steps {
		step, err := raw.Compile()
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Scenario = f.Name
				ve.Field = fmt.Sprintf("steps[%d].%s", i, ve.Field)
				return nil, ve
			}
			return nil, fmt.Errorf("scenario %q: step %d: %w", f.Name, i, err)
		}
		steps = append(steps, step)
	}

	var budgets map[string]float64
	if len(f.Budgets) > 0 {
		budgets = make(map[string]float64, len(f.Budgets))
		for k, v := range f.Budgets {
			budgets[k] = v
		}
	}

	return &Scenario{
		Name:    f.Name,
		URL:     f.URL,
		Budgets: budgets,
		Steps:   steps,
	}, nil
}
