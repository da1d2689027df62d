package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainRevision = "docsync/revision/v1"
	DomainIndex    = "docsync/index/v1"
)

// revHashLen is the number of hex characters kept from the revision digest.
const revHashLen = 32

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RevisionID computes the content-addressed id of a revision.
//
// The id has the form "<generation>-<hash>" where hash covers the
// generation, the parent revision id, the body, and the deleted flag. Two
// peers that make the same edit on the same parent get the same id without
// coordinating, so replicating it twice is a no-op.
func RevisionID(generation int64, parent string, body Object, deleted bool) (string, error) {
	if generation < 1 {
		return "", fmt.Errorf("RevisionID: generation must be >= 1, got %d", generation)
	}
	if body == nil {
		body = Object{}
	}
	obj := Object{
		"generation": Int(generation),
		"parent":     String(parent),
		"body":       body,
		"deleted":    Bool(deleted),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RevisionID: failed to marshal: %w", err)
	}

	return fmt.Sprintf("%d-%s", generation, hashWithDomain(DomainRevision, canonical)[:revHashLen]), nil
}

// MustRevisionID is like RevisionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRevisionID(generation int64, parent string, body Object, deleted bool) string {
	id, err := RevisionID(generation, parent, body, deleted)
	if err != nil {
		panic(err)
	}
	return id
}

// IndexID derives a stable index id from its field list, so creating an
// index over the same fields twice resolves to the same definition.
func IndexID(fields []string) (string, error) {
	arr := make(Array, len(fields))
	for i, f := range fields {
		arr[i] = String(f)
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("IndexID: failed to marshal: %w", err)
	}
	return "idx-" + hashWithDomain(DomainIndex, canonical)[:16], nil
}
