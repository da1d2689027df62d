package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/model"
)

// evaluate checks one assertion against the final state.
func (h *Harness) evaluate(ctx context.Context, a Assertion, trace []TraceEvent) error {
	switch a.Type {
	case AssertDocument:
		return h.assertDocument(ctx, a, trace)
	case AssertMissing:
		return h.assertMissing(ctx, a, trace)
	case AssertConflicts:
		return h.assertConflicts(ctx, a, trace)
	case AssertConverged:
		return h.assertConverged(ctx, a, trace)
	case AssertKeys:
		return h.assertKeys(ctx, a, trace)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertDocument(ctx context.Context, a Assertion, trace []TraceEvent) error {
	s := h.site(a.Site)
	doc, err := s.reg.Retrieve(ctx, a.DB, a.ID, nil).Await(ctx)
	if err != nil {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("%s/%s/%s with body %v", s.name, a.DB, a.ID, a.Body),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	if msg := matchBody(doc.Body, a.Body); msg != "" {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("%s/%s/%s with body %v", s.name, a.DB, a.ID, a.Body),
			Actual:   msg,
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertMissing(ctx context.Context, a Assertion, trace []TraceEvent) error {
	s := h.site(a.Site)
	doc, err := s.reg.Retrieve(ctx, a.DB, a.ID, nil).Await(ctx)
	if model.IsNotFound(err) {
		return nil
	}
	actual := fmt.Sprintf("present at %s", doc.Rev)
	if err != nil {
		actual = err.Error()
	}
	return &AssertionError{
		Type:     AssertMissing,
		Expected: fmt.Sprintf("%s/%s/%s absent or deleted", s.name, a.DB, a.ID),
		Actual:   actual,
		Trace:    trace,
	}
}

func (h *Harness) assertConflicts(ctx context.Context, a Assertion, trace []TraceEvent) error {
	s := h.site(a.Site)
	revs, err := h.conflicts(ctx, s, a.DB, a.ID)
	if err != nil {
		return err
	}
	if len(revs) != a.Count {
		return &AssertionError{
			Type:     AssertConflicts,
			Expected: fmt.Sprintf("%d conflicts on %s/%s/%s", a.Count, s.name, a.DB, a.ID),
			Actual:   fmt.Sprintf("%d conflicts %v", len(revs), revs),
			Trace:    trace,
		}
	}
	return nil
}

// assertConverged compares the winner and the conflict set of a document
// across sites.
func (h *Harness) assertConverged(ctx context.Context, a Assertion, trace []TraceEvent) error {
	sites := a.Sites
	if len(sites) == 0 {
		for _, name := range h.order {
			if _, err := h.sites[name].reg.Store(a.DB); err == nil {
				sites = append(sites, name)
			}
		}
	}

	states := make([]string, len(sites))
	for i, name := range sites {
		state, err := h.documentState(ctx, h.site(name), a.DB, a.ID)
		if err != nil {
			return err
		}
		states[i] = state
	}

	for i := 1; i < len(states); i++ {
		if states[i] != states[0] {
			var actual strings.Builder
			for j, name := range sites {
				fmt.Fprintf(&actual, "\n    %s: %s", name, states[j])
			}
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s/%s identical on %v", a.DB, a.ID, sites),
				Actual:   actual.String(),
				Trace:    trace,
			}
		}
	}
	return nil
}

func (h *Harness) assertKeys(ctx context.Context, a Assertion, trace []TraceEvent) error {
	s := h.site(a.Site)
	keys, err := s.kv.GetAllKeys(ctx, a.DB, nil).Await(ctx)
	if err != nil {
		return fmt.Errorf("keys on %s/%s: %w", s.name, a.DB, err)
	}
	if !equalStrings(keys, a.Keys) {
		return &AssertionError{
			Type:     AssertKeys,
			Expected: fmt.Sprintf("keys %v on %s/%s", a.Keys, s.name, a.DB),
			Actual:   fmt.Sprintf("%v", keys),
			Trace:    trace,
		}
	}
	return nil
}

// documentState summarizes the winner and conflicting leaves of a
// document as "<winner> [<conflicts>]". A deleted or unknown document has
// winner "-".
func (h *Harness) documentState(ctx context.Context, s *site, db, id string) (string, error) {
	winner := "-"
	doc, err := s.reg.Retrieve(ctx, db, id, nil).Await(ctx)
	switch {
	case err == nil:
		winner = doc.Rev
	case !model.IsNotFound(err):
		return "", fmt.Errorf("retrieve %s on %s/%s: %w", id, s.name, db, err)
	}

	conflicts, err := h.conflicts(ctx, s, db, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %v", winner, conflicts), nil
}

// conflicts lists the sorted revision ids of a document's losing live
// leaves.
func (h *Harness) conflicts(ctx context.Context, s *site, db, id string) ([]string, error) {
	st, err := s.reg.Store(db)
	if err != nil {
		return nil, err
	}
	revs, err := st.Conflicts(ctx, id)
	if err != nil && !model.IsNotFound(err) {
		return nil, fmt.Errorf("conflicts of %s on %s/%s: %w", id, s.name, db, err)
	}
	out := make([]string, len(revs))
	for i, r := range revs {
		out[i] = r.RevID
	}
	slices.Sort(out)
	return out, nil
}
