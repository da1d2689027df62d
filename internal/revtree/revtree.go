// Package revtree implements deterministic winner selection over a
// document's revision tree.
//
// Any two peers holding the same set of revisions compute the same winner
// without coordination: among leaf revisions, the highest generation wins,
// ties broken by the lexicographically greatest revision id. Deleted leaves
// take part, so a document can resolve to a tombstone.
package revtree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/docsync/internal/model"
)

// ParseRevID splits a "<generation>-<hash>" revision id.
func ParseRevID(rev string) (int64, string, error) {
	genStr, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, "", fmt.Errorf("malformed revision id %q", rev)
	}
	gen, err := strconv.ParseInt(genStr, 10, 64)
	if err != nil || gen < 1 {
		return 0, "", fmt.Errorf("malformed revision generation in %q", rev)
	}
	return gen, hash, nil
}

// Validate checks that a revision node is internally consistent: its id
// parses, carries the node's generation, and matches the content hash.
// Replicated revisions are validated before they are merged.
func Validate(r model.Revision) error {
	if r.DocID == "" {
		return fmt.Errorf("revision %q has no document id", r.RevID)
	}
	gen, _, err := ParseRevID(r.RevID)
	if err != nil {
		return err
	}
	if gen != r.Generation {
		return fmt.Errorf("revision %q: generation %d does not match id", r.RevID, r.Generation)
	}
	if (r.Generation == 1) != (r.ParentRev == "") {
		return fmt.Errorf("revision %q: only generation 1 may omit a parent", r.RevID)
	}
	if r.ParentRev != "" {
		pgen, _, err := ParseRevID(r.ParentRev)
		if err != nil {
			return fmt.Errorf("revision %q parent: %w", r.RevID, err)
		}
		if pgen != r.Generation-1 {
			return fmt.Errorf("revision %q: parent %q is not one generation older", r.RevID, r.ParentRev)
		}
	}
	want, err := model.RevisionID(r.Generation, r.ParentRev, r.Body, r.Deleted)
	if err != nil {
		return err
	}
	if want != r.RevID {
		return fmt.Errorf("revision %q does not match its content", r.RevID)
	}
	return nil
}

// Leaves returns the revisions that have no child in revs, preserving input
// order.
func Leaves(revs []model.Revision) []model.Revision {
	parents := make(map[string]bool, len(revs))
	for _, r := range revs {
		if r.ParentRev != "" {
			parents[r.ParentRev] = true
		}
	}

	var leaves []model.Revision
	for _, r := range revs {
		if !parents[r.RevID] {
			leaves = append(leaves, r)
		}
	}
	return leaves
}

// Less reports whether a ranks below b in winner order.
func Less(a, b model.Revision) bool {
	if a.Generation != b.Generation {
		return a.Generation < b.Generation
	}
	return a.RevID < b.RevID
}

// Winner picks the winning leaf. The result does not depend on the order
// of revs. Returns false when revs is empty.
func Winner(revs []model.Revision) (model.Revision, bool) {
	leaves := Leaves(revs)
	if len(leaves) == 0 {
		return model.Revision{}, false
	}
	best := leaves[0]
	for _, r := range leaves[1:] {
		if Less(best, r) {
			best = r
		}
	}
	return best, true
}

// Conflicts returns the non-winning leaves that are not deleted. A document
// is in conflict while this is non-empty.
func Conflicts(revs []model.Revision) []model.Revision {
	winner, ok := Winner(revs)
	if !ok {
		return nil
	}
	var out []model.Revision
	for _, r := range Leaves(revs) {
		if r.RevID != winner.RevID && !r.Deleted {
			out = append(out, r)
		}
	}
	return out
}

// LiveLeafCount counts leaves that are not tombstones.
func LiveLeafCount(revs []model.Revision) int {
	n := 0
	for _, r := range Leaves(revs) {
		if !r.Deleted {
			n++
		}
	}
	return n
}

// Next builds the child revision of parent carrying body. A zero parent
// produces a generation-1 revision.
func Next(docID string, parent model.Revision, body model.Object, deleted bool) (model.Revision, error) {
	gen := parent.Generation + 1
	if body == nil {
		body = model.Object{}
	}
	rev, err := model.RevisionID(gen, parent.RevID, body, deleted)
	if err != nil {
		return model.Revision{}, err
	}
	return model.Revision{
		DocID:      docID,
		RevID:      rev,
		ParentRev:  parent.RevID,
		Generation: gen,
		Body:       body,
		Deleted:    deleted,
	}, nil
}
