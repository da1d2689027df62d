// Package datastore manages named document databases and exposes every
// operation asynchronously through async.Future.
//
// A Registry maps database names to stores under one data directory. A
// name must be initialized with Init before any other operation; each
// initialized database is bound to the remote peer it replicates with.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/async"
	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/replication"
	"github.com/roach88/docsync/internal/store"
)

// validName restricts database names to what is safe as a file name and a
// URL path segment.
var validName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// PeerFactory builds the replication peer for a database URL.
type PeerFactory func(dbURL string) replication.Peer

// Registry owns the open databases of one data directory.
//
// Thread-safety: safe for concurrent use. Operations on different
// databases are independent.
type Registry struct {
	dataDir     string
	log         *zap.Logger
	batchSize   int
	clientOpts  []peer.ClientOption
	ids         model.IDGenerator
	peerFactory PeerFactory

	mu     sync.Mutex
	dbs    map[string]*database
	closed bool

	// pending tracks Init and DeleteDatastore work; per-database
	// operations are tracked by database.pending.
	pending sync.WaitGroup
}

type database struct {
	name  string
	url   string
	store *store.Store
	local *peer.Local
	repl  *replication.Replicator

	pending sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger passed to stores and replicators.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithBatchSize sets the replication batch size.
func WithBatchSize(n int) Option {
	return func(r *Registry) { r.batchSize = n }
}

// WithClientOptions configures the HTTP peer used for remote databases.
func WithClientOptions(opts ...peer.ClientOption) Option {
	return func(r *Registry) { r.clientOpts = append(r.clientOpts, opts...) }
}

// WithIDGenerator sets the generator for document ids, peer ids and
// replication session tokens. Mostly useful in tests.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(r *Registry) { r.ids = g }
}

// WithPeerFactory replaces the HTTP peer, e.g. with an in-process
// peer.Local.
func WithPeerFactory(f PeerFactory) Option {
	return func(r *Registry) { r.peerFactory = f }
}

// New creates a Registry rooted at dataDir. Database files are created as
// <dataDir>/<name>.db.
func New(dataDir string, opts ...Option) *Registry {
	r := &Registry{
		dataDir:   dataDir,
		log:       zap.NewNop(),
		batchSize: replication.DefaultBatchSize,
		dbs:       make(map[string]*database),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.peerFactory == nil {
		r.peerFactory = func(dbURL string) replication.Peer {
			return peer.NewHTTPClient(dbURL, r.clientOpts...)
		}
	}
	return r
}

// Path returns the file backing database name.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.dataDir, name+".db")
}

// Init opens (creating if needed) database name and binds it to the peer
// at serverURL + "/" + name. The future resolves to the database file
// path. Init is idempotent: a second call for an open database resolves
// immediately and keeps the original binding. An empty serverURL opens a
// local-only database that cannot replicate.
func (r *Registry) Init(ctx context.Context, serverURL, name string, cb async.Callback[string]) *async.Future[string] {
	if !validName.MatchString(name) {
		return async.Resolved(cb, "", model.Errorf(model.KindValidation, "init", "invalid database name %q", name))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return async.Resolved(cb, "", errClosed("init"))
	}
	r.pending.Add(1)
	r.mu.Unlock()

	return async.Go(ctx, cb, func(ctx context.Context) (string, error) {
		defer r.pending.Done()
		return r.open(serverURL, name)
	})
}

func (r *Registry) open(serverURL, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Path(name)
	if d, ok := r.dbs[name]; ok {
		if serverURL != "" && d.url != "" && dbURL(serverURL, name) != d.url {
			r.log.Warn("datastore already initialized with another remote",
				zap.String("db", name), zap.String("remote", d.url))
		}
		return path, nil
	}

	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return "", model.Wrap(model.KindStorage, "init", fmt.Errorf("create data dir: %w", err))
	}

	storeOpts := []store.Option{store.WithLogger(r.log.With(zap.String("db", name)))}
	if r.ids != nil {
		storeOpts = append(storeOpts, store.WithIDGenerator(r.ids))
	}
	s, err := store.Open(path, storeOpts...)
	if err != nil {
		return "", model.Wrap(model.KindStorage, "init", err)
	}

	d := &database{name: name, store: s, local: peer.NewLocal(s, r.ids)}
	if serverURL != "" {
		d.url = dbURL(serverURL, name)
		d.repl = replication.New(s, r.peerFactory(d.url), d.url,
			replication.WithBatchSize(r.batchSize),
			replication.WithLogger(r.log.With(zap.String("db", name))),
		)
	}
	r.dbs[name] = d

	r.log.Debug("datastore initialized", zap.String("db", name), zap.String("path", path), zap.String("remote", d.url))
	return path, nil
}

func dbURL(serverURL, name string) string {
	for len(serverURL) > 0 && serverURL[len(serverURL)-1] == '/' {
		serverURL = serverURL[:len(serverURL)-1]
	}
	return serverURL + "/" + name
}

// run resolves db and executes fn asynchronously against it.
func run[T any](ctx context.Context, r *Registry, op, db string, cb async.Callback[T], fn func(ctx context.Context, d *database) (T, error)) *async.Future[T] {
	d, err := r.acquire(op, db)
	if err != nil {
		var zero T
		return async.Resolved(cb, zero, err)
	}
	return async.Go(ctx, cb, func(ctx context.Context) (T, error) {
		defer d.pending.Done()
		return fn(ctx, d)
	})
}

// acquire looks up an initialized database and registers one pending
// operation on it.
func (r *Registry) acquire(op, name string) (*database, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed(op)
	}
	d, ok := r.dbs[name]
	if !ok {
		return nil, model.Errorf(model.KindValidation, op, "no datastore named %s", name)
	}
	d.pending.Add(1)
	return d, nil
}

func errClosed(op string) error {
	return model.Errorf(model.KindValidation, op, "registry is closed")
}

// Local returns the in-process replication peer for name. It implements
// peer.Resolver, so unknown names are NotFound.
func (r *Registry) Local(name string) (*peer.Local, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dbs[name]
	if !ok {
		return nil, model.Errorf(model.KindNotFound, "resolve", "no datastore named %s", name)
	}
	return d.local, nil
}

// Store returns the store behind an initialized database.
func (r *Registry) Store(name string) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dbs[name]
	if !ok {
		return nil, model.Errorf(model.KindValidation, "store", "no datastore named %s", name)
	}
	return d.store, nil
}

// Names returns the initialized database names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteDatastore closes database name if it is open and removes its
// files. Operations already running on it finish first; later operations
// fail until the name is initialized again.
func (r *Registry) DeleteDatastore(ctx context.Context, name string, cb async.Callback[struct{}]) *async.Future[struct{}] {
	if !validName.MatchString(name) {
		return async.Resolved(cb, struct{}{}, model.Errorf(model.KindValidation, "delete datastore", "invalid database name %q", name))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return async.Resolved(cb, struct{}{}, errClosed("delete datastore"))
	}
	d := r.dbs[name]
	delete(r.dbs, name)
	r.pending.Add(1)
	r.mu.Unlock()

	return async.Go(ctx, cb, func(context.Context) (struct{}, error) {
		defer r.pending.Done()
		if d != nil {
			d.pending.Wait()
			if err := d.store.Close(); err != nil {
				r.log.Warn("close datastore", zap.String("db", name), zap.Error(err))
			}
		}

		path := r.Path(name)
		var errs []error
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return struct{}{}, model.Wrap(model.KindStorage, "delete datastore", err)
		}
		r.log.Info("datastore deleted", zap.String("db", name))
		return struct{}{}, nil
	})
}

// Close waits for pending operations and closes every database. Later
// operations fail with a Validation error.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// No new work can start once closed is set, so the maps are stable.
	r.pending.Wait()

	var errs []error
	for _, name := range r.Names() {
		d := r.dbs[name]
		d.pending.Wait()
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
