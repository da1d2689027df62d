// Package kv is a key-value façade over named datastores. Each key is a
// document whose id is the key and whose body is {"value": <string>}.
package kv

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/async"
	"github.com/roach88/docsync/internal/datastore"
	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
)

// valueField is the body field holding an item's value.
const valueField = "value"

// Storage is the key-value façade.
//
// Thread-safety: safe for concurrent use. SetItem is a read followed by a
// write, so concurrent SetItem calls on the same key can fail with
// Conflict.
type Storage struct {
	reg *datastore.Registry
	log *zap.Logger
}

// New creates a Storage over reg. A nil logger discards log output.
func New(reg *datastore.Registry, log *zap.Logger) *Storage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage{reg: reg, log: log}
}

// SetItem stores value under key, creating the document on first use and
// updating it in place afterwards.
func (s *Storage) SetItem(ctx context.Context, key, value, db string, cb async.Callback[model.Document]) *async.Future[model.Document] {
	return async.Go(ctx, cb, func(ctx context.Context) (model.Document, error) {
		body := model.Object{valueField: model.String(value)}

		doc, err := s.reg.Retrieve(ctx, db, key, nil).Await(ctx)
		if model.IsNotFound(err) {
			return s.reg.Create(ctx, db, datastore.CreateOptions{ID: key, Body: body}, nil).Await(ctx)
		}
		if err != nil {
			return model.Document{}, err
		}
		return s.reg.Update(ctx, db, datastore.UpdateOptions{ID: key, Rev: doc.Rev, Body: body}, nil).Await(ctx)
	})
}

// GetItem returns the value stored under key. A missing key is a NotFound
// error. A document without a string value yields "".
func (s *Storage) GetItem(ctx context.Context, key, db string, cb async.Callback[string]) *async.Future[string] {
	return async.Go(ctx, cb, func(ctx context.Context) (string, error) {
		doc, err := s.reg.Retrieve(ctx, db, key, nil).Await(ctx)
		if err != nil {
			return "", err
		}
		v, _ := doc.Body[valueField].(model.String)
		return string(v), nil
	})
}

// RemoveItem deletes key.
func (s *Storage) RemoveItem(ctx context.Context, key, db string, cb async.Callback[struct{}]) *async.Future[struct{}] {
	return async.Go(ctx, cb, func(ctx context.Context) (struct{}, error) {
		_, err := s.reg.Delete(ctx, db, datastore.DeleteOptions{ID: key}, nil).Await(ctx)
		return struct{}{}, err
	})
}

// GetAllKeys returns every live key in id order. It queries for documents
// that have an id and projects away the bodies.
func (s *Storage) GetAllKeys(ctx context.Context, db string, cb async.Callback[[]string]) *async.Future[[]string] {
	return async.Go(ctx, cb, func(ctx context.Context) ([]string, error) {
		return s.allKeys(ctx, db)
	})
}

func (s *Storage) allKeys(ctx context.Context, db string) ([]string, error) {
	docs, err := s.reg.Find(ctx, db, datastore.FindOptions{
		Filter: query.Exists{Field: query.FieldID, Present: true},
		Fields: []string{query.FieldID},
	}, nil).Await(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(docs))
	for i, doc := range docs {
		keys[i] = doc.ID
	}
	return keys, nil
}

// DeleteAllKeys removes every key and resolves to the number removed.
//
// It is not atomic: keys are deleted one at a time and a failed delete is
// logged and skipped, not returned. Only a failure to enumerate the keys is
// an error.
func (s *Storage) DeleteAllKeys(ctx context.Context, db string, cb async.Callback[int]) *async.Future[int] {
	return async.Go(ctx, cb, func(ctx context.Context) (int, error) {
		keys, err := s.allKeys(ctx, db)
		if err != nil {
			return 0, err
		}

		removed := 0
		for _, key := range keys {
			if _, err := s.RemoveItem(ctx, key, db, nil).Await(ctx); err != nil {
				s.log.Warn("remove item failed",
					zap.String("db", db), zap.String("key", key), zap.Error(err))
				continue
			}
			removed++
		}
		return removed, nil
	})
}
