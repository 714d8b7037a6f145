// Package doccache holds the rendered XML of each document, keyed by
// (document id, rendering strategy version). The cache never decides when
// to invalidate; it only stores payloads and answers a staleness check
// against a reference timestamp.
package doccache

import (
	"context"
	"errors"

	"archivum/api/internal/store"
)

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached rendering plus the document modification timestamp
// it was rendered from.
type Entry struct {
	Payload []byte `json:"payload"`
	// ReferenceTimestamp is the document's ServerDateModified at render
	// time. The entry is valid only while every sub-field still matches.
	ReferenceTimestamp store.Timestamp `json:"referenceTimestamp"`
}

// Cache is the store contract consumed by the invalidation plugins and
// the renderer.
type Cache interface {
	// HasValidEntry reports whether an entry exists for the key and its
	// stored reference timestamp equals ref. Absence means invalid.
	HasValidEntry(ctx context.Context, documentID int64, strategyVersion int, ref store.Timestamp) (bool, error)
	Get(ctx context.Context, documentID int64, strategyVersion int) (Entry, error)
	// Put overwrites any prior entry for the key.
	Put(ctx context.Context, documentID int64, strategyVersion int, entry Entry) error
	// Remove drops one version's entry. Removing a missing entry is a no-op.
	Remove(ctx context.Context, documentID int64, strategyVersion int) error
	// RemoveAll drops every strategy version's entry for the document.
	RemoveAll(ctx context.Context, documentID int64) error
}
