package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/datastore"
	"github.com/roach88/docsync/internal/kv"
	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/replication"
	"github.com/roach88/docsync/internal/revtree"
)

// siteScheme prefixes the server URL of a site's databases. The peer
// factory resolves "site://<site>/<db>" to that site's in-process peer.
const siteScheme = "site://"

// Harness executes scenarios. A Harness is used for one Run.
type Harness struct {
	dataDir   string
	log       *zap.Logger
	batchSize int

	sites map[string]*site
	order []string

	// revs holds revisions captured with "as".
	revs map[string]string
}

type site struct {
	name string
	reg  *datastore.Registry
	kv   *kv.Storage
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to every registry.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) { h.log = l }
}

// WithBatchSize sets the replication batch size of every site.
func WithBatchSize(n int) Option {
	return func(h *Harness) { h.batchSize = n }
}

// Run executes a scenario with site data directories under dataDir.
//
// Failed expectations and assertions are reported in the Result; the
// returned error is reserved for scenarios that cannot run at all, such
// as a reference to a revision that was never captured.
func Run(ctx context.Context, scenario *Scenario, dataDir string, opts ...Option) (result *Result, err error) {
	h := &Harness{
		dataDir:   dataDir,
		log:       zap.NewNop(),
		batchSize: replication.DefaultBatchSize,
		sites:     make(map[string]*site),
		revs:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer func() {
		if cerr := h.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := h.setup(ctx, scenario.Sites); err != nil {
		return nil, fmt.Errorf("failed to set up sites: %w", err)
	}

	result = NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.Trace = append(result.Trace, ev)
		for _, msg := range checkExpect(ev, step.Expect) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", ev.Step, ev.Op, msg))
		}
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a, result.Trace); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func (h *Harness) setup(ctx context.Context, sites []Site) error {
	for _, cfg := range sites {
		log := h.log.With(zap.String("site", cfg.Name))
		reg := datastore.New(filepath.Join(h.dataDir, cfg.Name),
			datastore.WithLogger(log),
			datastore.WithBatchSize(h.batchSize),
			datastore.WithPeerFactory(h.peerFor),
		)
		h.sites[cfg.Name] = &site{name: cfg.Name, reg: reg, kv: kv.New(reg, log)}
		h.order = append(h.order, cfg.Name)

		serverURL := ""
		if cfg.Remote != "" {
			serverURL = siteScheme + cfg.Remote
		}
		for _, db := range cfg.Databases {
			if _, err := reg.Init(ctx, serverURL, db, nil).Await(ctx); err != nil {
				return fmt.Errorf("site %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

func (h *Harness) close() error {
	var errs []error
	for _, name := range h.order {
		if err := h.sites[name].reg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("site %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Harness) site(name string) *site {
	if name == "" {
		name = h.order[0]
	}
	return h.sites[name]
}

func (h *Harness) peerFor(dbURL string) replication.Peer {
	siteName, db, _ := strings.Cut(strings.TrimPrefix(dbURL, siteScheme), "/")
	return &sitePeer{h: h, site: siteName, db: db}
}

// resolveRev expands "$name" references. Empty stays empty.
func (h *Harness) resolveRev(rev string) (string, error) {
	name, ok := strings.CutPrefix(rev, "$")
	if !ok {
		return rev, nil
	}
	captured, ok := h.revs[name]
	if !ok {
		return "", fmt.Errorf("no revision captured as %q", name)
	}
	return captured, nil
}

// execute runs one step. Operation failures become the event outcome;
// the returned error means the step itself is malformed.
func (h *Harness) execute(ctx context.Context, n int, step Step) (TraceEvent, error) {
	s := h.site(step.Site)
	ev := TraceEvent{Step: n, Op: step.Op, Site: s.name, DB: step.DB, ID: step.ID}

	var (
		doc        model.Document
		hasDoc     bool
		recordBody bool
		err        error
	)

	switch step.Op {
	case OpCreate:
		body, berr := model.ObjectFromMap(step.Body)
		if berr != nil {
			return ev, fmt.Errorf("body: %w", berr)
		}
		doc, err = s.reg.Create(ctx, step.DB, datastore.CreateOptions{ID: step.ID, Body: body}, nil).Await(ctx)
		hasDoc, recordBody = true, true

	case OpRetrieve:
		doc, err = s.reg.Retrieve(ctx, step.DB, step.ID, nil).Await(ctx)
		hasDoc, recordBody = true, true

	case OpFindOrCreate:
		doc, err = s.reg.FindOrCreate(ctx, step.DB, step.ID, nil).Await(ctx)
		hasDoc, recordBody = true, true

	case OpUpdate:
		rev, rerr := h.resolveRev(step.Rev)
		if rerr != nil {
			return ev, rerr
		}
		body, berr := model.ObjectFromMap(step.Body)
		if berr != nil {
			return ev, fmt.Errorf("body: %w", berr)
		}
		doc, err = s.reg.Update(ctx, step.DB, datastore.UpdateOptions{ID: step.ID, Rev: rev, Body: body}, nil).Await(ctx)
		hasDoc, recordBody = true, true

	case OpDelete:
		rev, rerr := h.resolveRev(step.Rev)
		if rerr != nil {
			return ev, rerr
		}
		doc, err = s.reg.Delete(ctx, step.DB, datastore.DeleteOptions{ID: step.ID, Rev: rev}, nil).Await(ctx)
		hasDoc = true

	case OpFind:
		var docs []model.Document
		docs, err = s.reg.Find(ctx, step.DB, datastore.FindOptions{Selector: step.Selector, Fields: step.Fields}, nil).Await(ctx)
		if err == nil {
			ev.IDs = make([]string, len(docs))
			for i, d := range docs {
				ev.IDs[i] = d.ID
			}
		}

	case OpIndex:
		var names []string
		names, err = s.reg.CreateIndexes(ctx, step.DB, step.Indexes, nil).Await(ctx)
		if err == nil {
			ev.IDs = names
		}

	case OpCompact:
		st, serr := s.reg.Store(step.DB)
		if serr != nil {
			err = serr
			break
		}
		stats, cerr := st.Compact(ctx)
		if err = cerr; err == nil {
			purged := int(stats.DocumentsPurged)
			ev.Documents = &purged
		}

	case OpPush, OpPull:
		replicate := s.reg.ReplicatePush
		if step.Op == OpPull {
			replicate = s.reg.ReplicatePull
		}
		var stats replication.Stats
		stats, err = replicate(ctx, step.DB, nil).Await(ctx)
		if err == nil {
			ev.Documents = &stats.Documents
		}

	case OpSync:
		// Both legs run concurrently, so per-leg counts are not stable
		// enough to record.
		_, err = s.reg.ReplicateSync(ctx, step.DB, nil).Await(ctx)

	case OpSetItem:
		ev.ID = step.Key
		doc, err = s.kv.SetItem(ctx, step.Key, step.Value, step.DB, nil).Await(ctx)
		hasDoc = true

	case OpGetItem:
		ev.ID = step.Key
		var v string
		v, err = s.kv.GetItem(ctx, step.Key, step.DB, nil).Await(ctx)
		if err == nil {
			ev.Value = &v
		}

	case OpRemoveItem:
		ev.ID = step.Key
		_, err = s.kv.RemoveItem(ctx, step.Key, step.DB, nil).Await(ctx)

	case OpKeys:
		var keys []string
		keys, err = s.kv.GetAllKeys(ctx, step.DB, nil).Await(ctx)
		if err == nil {
			ev.IDs = append([]string{}, keys...)
		}

	case OpClear:
		var removed int
		removed, err = s.kv.DeleteAllKeys(ctx, step.DB, nil).Await(ctx)
		if err == nil {
			ev.Documents = &removed
		}

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if err != nil {
		ev.Outcome = outcomeOf(err)
		h.log.Debug("scenario step failed",
			zap.Int("step", n), zap.String("op", step.Op), zap.String("site", s.name), zap.Error(err))
		return ev, nil
	}

	ev.Outcome = OutcomeOK
	if hasDoc {
		gen, _, perr := revtree.ParseRevID(doc.Rev)
		if perr != nil {
			return ev, fmt.Errorf("malformed revision %q: %w", doc.Rev, perr)
		}
		ev.Generation = gen
		if recordBody {
			ev.Body = doc.Body
		}
		if step.As != "" {
			h.revs[step.As] = doc.Rev
		}
	}
	h.log.Debug("scenario step", zap.Int("step", n), zap.String("op", step.Op), zap.String("site", s.name))
	return ev, nil
}

// outcomeOf names an operation failure by its error kind.
func outcomeOf(err error) string {
	if kind := model.KindOf(err); kind != "" {
		return string(kind)
	}
	return "ERROR"
}

// checkExpect compares an event against its expect clause. A step without
// one is expected to succeed.
func checkExpect(ev TraceEvent, exp *Expect) []string {
	if exp == nil {
		exp = &Expect{}
	}

	want := OutcomeOK
	if exp.Error != "" {
		want = exp.Error
	}
	if ev.Outcome != want {
		return []string{fmt.Sprintf("expected outcome %s, got %s", want, ev.Outcome)}
	}
	if ev.Outcome != OutcomeOK {
		return nil
	}

	var errs []string
	if exp.Generation != 0 && exp.Generation != ev.Generation {
		errs = append(errs, fmt.Sprintf("expected generation %d, got %d", exp.Generation, ev.Generation))
	}
	if exp.Body != nil {
		if msg := matchBody(ev.Body, exp.Body); msg != "" {
			errs = append(errs, msg)
		}
	}
	if exp.Value != nil && (ev.Value == nil || *ev.Value != *exp.Value) {
		errs = append(errs, fmt.Sprintf("expected value %q, got %s", *exp.Value, describeValue(ev.Value)))
	}
	if exp.IDs != nil && !equalStrings(exp.IDs, ev.IDs) {
		errs = append(errs, fmt.Sprintf("expected ids %v, got %v", exp.IDs, ev.IDs))
	}
	if exp.Documents != nil && (ev.Documents == nil || *ev.Documents != *exp.Documents) {
		errs = append(errs, fmt.Sprintf("expected %d documents, got %s", *exp.Documents, describeInt(ev.Documents)))
	}
	return errs
}

// matchBody checks that every expected field is present in body with an
// equal value. Values compare by canonical JSON, so 1 and 1.0 are equal.
func matchBody(body model.Object, expected map[string]any) string {
	want, err := model.ObjectFromMap(expected)
	if err != nil {
		return fmt.Sprintf("invalid expected body: %v", err)
	}
	for _, key := range want.SortedKeys() {
		got, ok := body[key]
		if !ok {
			return fmt.Sprintf("expected body field %q, not present", key)
		}
		g, gerr := model.CanonicalString(got)
		w, werr := model.CanonicalString(want[key])
		if gerr != nil || werr != nil || g != w {
			return fmt.Sprintf("body field %q: expected %s, got %s", key, w, g)
		}
	}
	return ""
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func describeValue(v *string) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprintf("%q", *v)
}

func describeInt(n *int) string {
	if n == nil {
		return "nothing"
	}
	return fmt.Sprint(*n)
}

// sitePeer resolves a site's database on every call, so a site may point
// at a remote declared after it. Failures to resolve are Transport errors.
type sitePeer struct {
	h    *Harness
	site string
	db   string
}

func (p *sitePeer) local() (*peer.Local, error) {
	s, ok := p.h.sites[p.site]
	if !ok {
		return nil, model.Errorf(model.KindTransport, "connect", "no site named %s", p.site)
	}
	l, err := s.reg.Local(p.db)
	if err != nil {
		// Over HTTP a missing remote database is a 404, which is a
		// transport failure; keep the in-process peer consistent.
		return nil, model.Wrap(model.KindTransport, "connect", err)
	}
	return l, nil
}

func (p *sitePeer) Negotiate(ctx context.Context, peerID string) (string, error) {
	l, err := p.local()
	if err != nil {
		return "", err
	}
	return l.Negotiate(ctx, peerID)
}

func (p *sitePeer) ChangesSince(ctx context.Context, session string, since int64, limit int) (model.ChangeBatch, error) {
	l, err := p.local()
	if err != nil {
		return model.ChangeBatch{}, err
	}
	return l.ChangesSince(ctx, session, since, limit)
}

func (p *sitePeer) PutRevisions(ctx context.Context, session string, revs []model.Revision) ([]model.Ack, error) {
	l, err := p.local()
	if err != nil {
		return nil, err
	}
	return l.PutRevisions(ctx, session, revs)
}
