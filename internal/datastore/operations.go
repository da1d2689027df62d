package datastore

import (
	"context"
	"sort"

	"github.com/roach88/docsync/internal/async"
	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
	"github.com/roach88/docsync/internal/replication"
	"github.com/roach88/docsync/internal/store"
)

// CreateOptions are the arguments of Create.
type CreateOptions struct {
	// ID is the document id. Empty generates one.
	ID string

	// Body is the document content. Nil is stored as {}.
	Body model.Object
}

// UpdateOptions are the arguments of Update.
type UpdateOptions struct {
	ID   string
	Rev  string
	Body model.Object
}

// DeleteOptions are the arguments of Delete.
type DeleteOptions struct {
	ID string

	// Rev is the revision to delete. Empty deletes the current winner.
	Rev string
}

// FindOptions are the arguments of Find.
type FindOptions struct {
	// Selector is a filter in selector form, e.g.
	// {"owner": "ann", "tags": {"$exists": true}}. Ignored when Filter is
	// set. Nil matches every document.
	Selector map[string]any

	// Filter is an already parsed filter.
	Filter query.Predicate

	// Fields projects results to these body fields.
	Fields []string

	IncludeDeleted bool
}

// Create writes a new document.
func (r *Registry) Create(ctx context.Context, db string, opts CreateOptions, cb async.Callback[model.Document]) *async.Future[model.Document] {
	return run(ctx, r, "create", db, cb, func(ctx context.Context, d *database) (model.Document, error) {
		return d.store.Create(ctx, opts.Body, opts.ID)
	})
}

// Retrieve returns the current winning revision of a document.
func (r *Registry) Retrieve(ctx context.Context, db, id string, cb async.Callback[model.Document]) *async.Future[model.Document] {
	return run(ctx, r, "retrieve", db, cb, func(ctx context.Context, d *database) (model.Document, error) {
		return d.store.Retrieve(ctx, id)
	})
}

// FindOrCreate returns document id, creating it with an empty body when it
// does not exist. Only NotFound triggers the create; any other retrieve
// error is returned as is.
func (r *Registry) FindOrCreate(ctx context.Context, db, id string, cb async.Callback[model.Document]) *async.Future[model.Document] {
	return run(ctx, r, "find or create", db, cb, func(ctx context.Context, d *database) (model.Document, error) {
		doc, err := d.store.Retrieve(ctx, id)
		if model.IsNotFound(err) {
			return d.store.Create(ctx, nil, id)
		}
		return doc, err
	})
}

// Update replaces a document's body. Rev must be the winning revision.
func (r *Registry) Update(ctx context.Context, db string, opts UpdateOptions, cb async.Callback[model.Document]) *async.Future[model.Document] {
	return run(ctx, r, "update", db, cb, func(ctx context.Context, d *database) (model.Document, error) {
		return d.store.Update(ctx, opts.ID, opts.Rev, opts.Body)
	})
}

// Delete writes a tombstone and returns it.
func (r *Registry) Delete(ctx context.Context, db string, opts DeleteOptions, cb async.Callback[model.Document]) *async.Future[model.Document] {
	return run(ctx, r, "delete", db, cb, func(ctx context.Context, d *database) (model.Document, error) {
		rev := opts.Rev
		if rev == "" {
			doc, err := d.store.Retrieve(ctx, opts.ID)
			if err != nil {
				return model.Document{}, err
			}
			rev = doc.Rev
		}
		return d.store.Delete(ctx, opts.ID, rev)
	})
}

// Find returns every document matching the filter, ordered by id.
func (r *Registry) Find(ctx context.Context, db string, opts FindOptions, cb async.Callback[[]model.Document]) *async.Future[[]model.Document] {
	return run(ctx, r, "find", db, cb, func(ctx context.Context, d *database) ([]model.Document, error) {
		filter := opts.Filter
		if filter == nil {
			var err error
			filter, err = query.Parse(opts.Selector)
			if err != nil {
				return nil, err
			}
		}
		cur, err := d.store.Find(ctx, filter, store.FindOptions{
			Fields:         opts.Fields,
			IncludeDeleted: opts.IncludeDeleted,
		})
		if err != nil {
			return nil, err
		}
		return cur.Collect()
	})
}

// CreateIndexes creates one named index per entry of indexes and resolves
// to the index names in sorted order. Indexes created before a failure are
// kept.
func (r *Registry) CreateIndexes(ctx context.Context, db string, indexes map[string][]string, cb async.Callback[[]string]) *async.Future[[]string] {
	return run(ctx, r, "create indexes", db, cb, func(ctx context.Context, d *database) ([]string, error) {
		names := make([]string, 0, len(indexes))
		for name := range indexes {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := d.store.CreateNamedIndex(ctx, name, indexes[name]); err != nil {
				return nil, err
			}
		}
		return names, nil
	})
}

// ReplicatePush sends local changes to the database's remote peer.
func (r *Registry) ReplicatePush(ctx context.Context, db string, cb async.Callback[replication.Stats]) *async.Future[replication.Stats] {
	return run(ctx, r, "push", db, cb, func(ctx context.Context, d *database) (replication.Stats, error) {
		repl, err := d.replicator("push")
		if err != nil {
			return replication.Stats{Direction: model.DirectionPush}, err
		}
		return repl.Push(ctx)
	})
}

// ReplicatePull merges the remote peer's changes into the local database.
func (r *Registry) ReplicatePull(ctx context.Context, db string, cb async.Callback[replication.Stats]) *async.Future[replication.Stats] {
	return run(ctx, r, "pull", db, cb, func(ctx context.Context, d *database) (replication.Stats, error) {
		repl, err := d.replicator("pull")
		if err != nil {
			return replication.Stats{Direction: model.DirectionPull}, err
		}
		return repl.Pull(ctx)
	})
}

// ReplicateSync runs push and pull concurrently. It fails if either leg
// fails; the other leg's checkpoint progress is kept.
func (r *Registry) ReplicateSync(ctx context.Context, db string, cb async.Callback[replication.SyncStats]) *async.Future[replication.SyncStats] {
	return run(ctx, r, "sync", db, cb, func(ctx context.Context, d *database) (replication.SyncStats, error) {
		repl, err := d.replicator("sync")
		if err != nil {
			return replication.SyncStats{}, err
		}
		return repl.Sync(ctx)
	})
}

func (d *database) replicator(op string) (*replication.Replicator, error) {
	if d.repl == nil {
		return nil, model.Errorf(model.KindValidation, op, "datastore %s has no remote", d.name)
	}
	return d.repl, nil
}
