package doc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDocument = "vellum/document/v1"
	DomainSnapshot = "vellum/snapshot/v1"
	DomainCommit   = "vellum/commit/v1"
)

// SnapshotEntry is one (document id, content hash) pair of a snapshot's
// ordered member set.
type SnapshotEntry struct {
	DocumentID   string `json:"document_id"`
	DocumentHash string `json:"document_hash"`
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashDocument computes the content hash of a document.
//
// The hash covers class name, property groups, dependencies, and binary file
// refs - the document's semantic content. The ID and creation timestamp are
// intentionally EXCLUDED: the hash represents "what the document says", so
// two structurally equal documents hash equal regardless of when or under
// which identity they were created, and re-staging unchanged content is a
// no-op at the storage layer.
func HashDocument(d *Document) (string, error) {
	groups := make(Object, len(d.PropertyGroups))
	for name, g := range d.PropertyGroups {
		groups[name] = g
	}

	deps := make(Array, len(d.Dependencies))
	for i, dep := range d.Dependencies {
		deps[i] = Object{
			"name":  String(dep.Name),
			"value": String(dep.Value),
		}
	}

	refs := make(Array, len(d.BinaryFileRefs))
	for i, name := range d.BinaryFileRefs {
		refs[i] = String(name)
	}

	obj := Object{
		"class_name":       String(d.ClassName),
		"property_groups":  groups,
		"dependencies":     deps,
		"binary_file_refs": refs,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("hash document %s: %w", d.ID, err)
	}

	return hashWithDomain(DomainDocument, canonical), nil
}

// HashSnapshot computes the hash of an ordered set of snapshot entries.
// Order is significant: the same membership in a different order is a
// different snapshot hash.
func HashSnapshot(entries []SnapshotEntry) (string, error) {
	arr := make(Array, len(entries))
	for i, e := range entries {
		arr[i] = Object{
			"document_id":   String(e.DocumentID),
			"document_hash": String(e.DocumentHash),
		}
	}

	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}

	return hashWithDomain(DomainSnapshot, canonical), nil
}

// HashCommit computes the hash of a commit from its snapshot hash, parent
// commit hash (empty for the first commit on a branch), and ISO-8601 UTC
// timestamp.
func HashCommit(snapshotHash, parentHash, timestamp string) (string, error) {
	obj := Object{
		"snapshot_hash": String(snapshotHash),
		"timestamp":     String(timestamp),
	}
	if parentHash == "" {
		obj["parent"] = Null{}
	} else {
		obj["parent"] = String(parentHash)
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("hash commit: %w", err)
	}

	return hashWithDomain(DomainCommit, canonical), nil
}
