package model

// Document is the current state of a document: its winning revision.
type Document struct {
	ID      string `json:"id"`
	Rev     string `json:"rev"`
	Body    Object `json:"body"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Revision is one node of a document's revision tree.
// ParentRev is empty for generation-1 revisions.
type Revision struct {
	DocID      string `json:"doc_id"`
	RevID      string `json:"rev_id"`
	ParentRev  string `json:"parent_rev,omitempty"`
	Generation int64  `json:"generation"`
	Body       Object `json:"body"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// Document returns the document view of this revision.
func (r Revision) Document() Document {
	return Document{ID: r.DocID, Rev: r.RevID, Body: r.Body, Deleted: r.Deleted}
}

// Change is one change log entry. Every applied mutation appends exactly one.
type Change struct {
	Seq   int64  `json:"seq"`
	DocID string `json:"doc_id"`
	RevID string `json:"rev_id"`
}

// SequencedRevision pairs a change log sequence with the revision it
// references. It is the unit transferred during replication.
type SequencedRevision struct {
	Seq      int64    `json:"seq"`
	Revision Revision `json:"revision"`
}

// Direction identifies a replication leg.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Checkpoint is the durable replication cursor for one peer and direction.
type Checkpoint struct {
	PeerID       string    `json:"peer_id"`
	Direction    Direction `json:"direction"`
	LastSequence int64     `json:"last_sequence"`
}

// MergeResult reports what a replicated revision did to the local tree.
type MergeResult struct {
	// Applied is false when the revision was already present.
	Applied bool `json:"applied"`

	// Conflict is true when the document has more than one live leaf.
	Conflict bool `json:"conflict"`
}

// IndexDef describes a secondary index over document fields.
type IndexDef struct {
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// ChangeBatch is one page of a change feed. LastSeq is the highest change
// sequence the page covered, which can exceed the last result's Seq when
// trailing entries referenced compacted revisions.
type ChangeBatch struct {
	Results []SequencedRevision `json:"results"`
	LastSeq int64               `json:"last_seq"`
}

// Ack is a peer's per-revision answer to a push. Acks are returned in the
// order the revisions were sent.
type Ack struct {
	RevID string `json:"rev_id"`
	OK    bool   `json:"ok"`

	// Applied is false when the peer already had the revision.
	Applied bool   `json:"applied,omitempty"`
	Error   string `json:"error,omitempty"`
}
