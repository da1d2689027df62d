package peer

import (
	"context"
	"sync"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/store"
)

// Local adapts a store to the replication peer interface without a network
// hop. It is what Server uses behind each database route.
//
// Thread-safety: safe for concurrent use.
type Local struct {
	store *store.Store
	ids   model.IDGenerator

	mu       sync.Mutex
	sessions map[string]string // session token → remote peer id
}

// NewLocal creates a Local over s. Session tokens are UUIDv7 unless ids is
// non-nil.
func NewLocal(s *store.Store, ids model.IDGenerator) *Local {
	if ids == nil {
		ids = model.UUIDv7Generator{}
	}
	return &Local{store: s, ids: ids, sessions: make(map[string]string)}
}

// Negotiate opens a session for peerID.
func (l *Local) Negotiate(_ context.Context, peerID string) (string, error) {
	if peerID == "" {
		return "", model.Errorf(model.KindValidation, "negotiate", "peer id is required")
	}
	session := l.ids.NewID()

	l.mu.Lock()
	l.sessions[session] = peerID
	l.mu.Unlock()
	return session, nil
}

// ChangesSince returns the store's change feed after since.
func (l *Local) ChangesSince(ctx context.Context, session string, since int64, limit int) (model.ChangeBatch, error) {
	if err := l.checkSession("changes", session); err != nil {
		return model.ChangeBatch{}, err
	}
	return l.store.ChangeRevisions(ctx, since, limit)
}

// PutRevisions merges each revision and acknowledges it. A revision that
// fails to merge is acknowledged with ok=false; the rest are still tried.
func (l *Local) PutRevisions(ctx context.Context, session string, revs []model.Revision) ([]model.Ack, error) {
	if err := l.checkSession("put revisions", session); err != nil {
		return nil, err
	}

	acks := make([]model.Ack, 0, len(revs))
	for _, rev := range revs {
		ack := model.Ack{RevID: rev.RevID, OK: true}
		res, err := l.store.Merge(ctx, rev)
		if err != nil {
			ack.OK = false
			ack.Error = err.Error()
		}
		ack.Applied = res.Applied
		acks = append(acks, ack)
	}
	return acks, nil
}

// Store returns the underlying store.
func (l *Local) Store() *store.Store {
	return l.store
}

func (l *Local) checkSession(op, session string) error {
	l.mu.Lock()
	_, ok := l.sessions[session]
	l.mu.Unlock()
	if !ok {
		return model.Errorf(model.KindValidation, op, "unknown replication session")
	}
	return nil
}
