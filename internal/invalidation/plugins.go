package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"archivum/api/internal/doccache"
	"archivum/api/internal/store"
)

// Toucher advances a document's modification timestamp.
type Toucher interface {
	TouchDocument(ctx context.Context, id int64) (store.Timestamp, error)
}

// CacheHandler keeps the XML cache consistent: for every affected
// document it purges cached entries and, for content changes, bumps
// ServerDateModified first so a concurrent reader can never see a valid
// cache over old content.
type CacheHandler struct {
	resolver *Resolver
	cache    doccache.Cache
	docs     Toucher
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[deleteKey][]int64
}

// deleteKey identifies an in-flight delete between its two hooks.
type deleteKey struct {
	kind store.Kind
	id   int64
}

func NewCacheHandler(resolver *Resolver, cache doccache.Cache, docs Toucher, logger zerolog.Logger) *CacheHandler {
	return &CacheHandler{
		resolver: resolver,
		cache:    cache,
		docs:     docs,
		logger:   logger,
		pending:  map[deleteKey][]int64{},
	}
}

func (h *CacheHandler) Name() string { return "cache" }

func (h *CacheHandler) AfterStore(ctx context.Context, m Mutation) error {
	result, err := h.resolver.Resolve(ctx, m)
	if err != nil {
		return err
	}
	return h.apply(ctx, result)
}

// BeforeDelete resolves while the row still exists; the affected set of a
// link or collection delete is unreachable afterwards. The set is kept
// until AfterDelete, which purges it again once the delete committed.
func (h *CacheHandler) BeforeDelete(ctx context.Context, m Mutation) error {
	result, err := h.resolver.Resolve(ctx, m)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.pending[deleteKey{kind: m.Entity.Kind(), id: m.Entity.EntityID()}] = result.DocumentIDs
	h.mu.Unlock()
	return h.apply(ctx, result)
}

// AfterDelete re-purges the set resolved in BeforeDelete. A reader that
// re-rendered between the first purge and the commit cached the graph
// with the row still in it, under the bumped timestamp.
func (h *CacheHandler) AfterDelete(ctx context.Context, kind store.Kind, entityID int64) error {
	key := deleteKey{kind: kind, id: entityID}
	h.mu.Lock()
	docIDs, ok := h.pending[key]
	delete(h.pending, key)
	h.mu.Unlock()

	if !ok && kind == store.KindDocument {
		docIDs = []int64{entityID}
	}
	for _, docID := range docIDs {
		h.purge(ctx, docID)
	}
	return nil
}

func (h *CacheHandler) apply(ctx context.Context, result Result) error {
	if result.Empty() {
		return nil
	}
	var errs []error
	for _, docID := range result.DocumentIDs {
		if result.Action == ContentChanged {
			// Bump before purge: a failed purge then leaves a stale
			// entry that the timestamp comparator already rejects.
			if _, err := h.docs.TouchDocument(ctx, docID); err != nil {
				// Still purge and keep going. A missing entry is merely
				// stale; a skipped one would stay valid over old content.
				errs = append(errs, fmt.Errorf("touch document %d: %w", docID, err))
			}
		}
		h.purge(ctx, docID)
	}
	return errors.Join(errs...)
}

// purge drops all cached versions. Cache backend failures only delay
// consistency, so they are logged as degraded mode, never returned.
func (h *CacheHandler) purge(ctx context.Context, docID int64) {
	if err := h.cache.RemoveAll(ctx, docID); err != nil {
		h.logger.Warn().
			Int64("document", docID).
			Err(err).
			Msg("cache purge failed, relying on staleness check")
	}
}

// JobQueue defers work to an asynchronous, at-least-once queue.
// EnqueueIfUnique reports false when an equivalent job is already pending.
type JobQueue interface {
	EnqueueIfUnique(ctx context.Context, label string, payload []byte) (bool, error)
}

// IndexJobPayload is the body of a deferred search-index update.
type IndexJobPayload struct {
	DocumentID int64 `json:"documentId"`
	Delete     bool  `json:"delete,omitempty"`
}

// IndexHandler enqueues one deferred re-index job per affected document.
// It must run after CacheHandler so the worker sees the bumped timestamp.
type IndexHandler struct {
	resolver *Resolver
	queue    JobQueue
	logger   zerolog.Logger
}

func NewIndexHandler(resolver *Resolver, queue JobQueue, logger zerolog.Logger) *IndexHandler {
	return &IndexHandler{resolver: resolver, queue: queue, logger: logger}
}

func (h *IndexHandler) Name() string { return "index" }

func (h *IndexHandler) AfterStore(ctx context.Context, m Mutation) error {
	result, err := h.resolver.Resolve(ctx, m)
	if err != nil {
		return err
	}
	for _, docID := range result.DocumentIDs {
		h.enqueue(ctx, IndexJobPayload{DocumentID: docID})
	}
	return nil
}

func (h *IndexHandler) BeforeDelete(ctx context.Context, m Mutation) error {
	if m.Entity.Kind() == store.KindDocument {
		// The removal job is enqueued in AfterDelete.
		return nil
	}
	result, err := h.resolver.Resolve(ctx, m)
	if err != nil {
		return err
	}
	for _, docID := range result.DocumentIDs {
		h.enqueue(ctx, IndexJobPayload{DocumentID: docID})
	}
	return nil
}

func (h *IndexHandler) AfterDelete(ctx context.Context, kind store.Kind, entityID int64) error {
	if kind != store.KindDocument {
		return nil
	}
	h.enqueue(ctx, IndexJobPayload{DocumentID: entityID, Delete: true})
	return nil
}

// enqueue degrades to a log line on queue failure; the next mutation or a
// maintenance reindex will catch the document up.
func (h *IndexHandler) enqueue(ctx context.Context, payload IndexJobPayload) {
	label := fmt.Sprintf("index-document-%d", payload.DocumentID)
	if payload.Delete {
		label = fmt.Sprintf("unindex-document-%d", payload.DocumentID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal index job")
		return
	}
	enqueued, err := h.queue.EnqueueIfUnique(ctx, label, body)
	if err != nil {
		h.logger.Warn().
			Str("label", label).
			Err(err).
			Msg("index job enqueue failed, index update delayed")
		return
	}
	if !enqueued {
		h.logger.Debug().Str("label", label).Msg("index job already pending")
	}
}
