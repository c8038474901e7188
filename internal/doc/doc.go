// Package doc defines the document data model for Vellum: a sealed set of
// value variants (null, string, int, float, bool, array, object, and
// first-class dependency references), RFC 8785 canonical JSON serialization,
// and SHA-256 content hashing with domain separation for documents,
// snapshots, and commits.
//
// Everything in this package is pure computation: no I/O, no clocks, no
// randomness. Content hashes are identity - the storage layer keys document
// versions by them and never attempts collision handling.
package doc
