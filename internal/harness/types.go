package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/model"
)

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// TraceEvent records what one step did.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`
	Site string `json:"site"`
	DB   string `json:"db"`
	ID   string `json:"id,omitempty"`

	// Outcome is OutcomeOK or the error kind.
	Outcome string `json:"outcome"`

	Generation int64        `json:"generation,omitempty"`
	Body       model.Object `json:"body,omitempty"`
	Value      *string      `json:"value,omitempty"`
	IDs        []string     `json:"ids,omitempty"`
	Documents  *int         `json:"documents,omitempty"`
}

// canonicalMap converts the event into plain values for canonical JSON.
func (e TraceEvent) canonicalMap() map[string]any {
	m := map[string]any{
		"step":    e.Step,
		"op":      e.Op,
		"site":    e.Site,
		"db":      e.DB,
		"outcome": e.Outcome,
	}
	if e.ID != "" {
		m["id"] = e.ID
	}
	if e.Generation > 0 {
		m["generation"] = e.Generation
	}
	if e.Body != nil {
		m["body"] = e.Body
	}
	if e.Value != nil {
		m["value"] = *e.Value
	}
	if e.IDs != nil {
		m["ids"] = e.IDs
	}
	if e.Documents != nil {
		m["documents"] = *e.Documents
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AssertionError is a failed assertion with the trace that led to it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s/%s %s -> %s\n", ev.Step, ev.Op, ev.Site, ev.DB, ev.ID, ev.Outcome)
	}
	return buf.String()
}
