package invalidation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"archivum/api/internal/doccache"
	"archivum/api/internal/store"
)

// memCache is an in-memory doccache.Cache for handler tests.
type memCache struct {
	entries map[int64]map[int]doccache.Entry
	failing bool
}

func newMemCache() *memCache {
	return &memCache{entries: map[int64]map[int]doccache.Entry{}}
}

func (c *memCache) HasValidEntry(_ context.Context, docID int64, version int, ref store.Timestamp) (bool, error) {
	entry, ok := c.entries[docID][version]
	if !ok {
		return false, nil
	}
	return entry.ReferenceTimestamp.Equal(ref), nil
}

func (c *memCache) Get(_ context.Context, docID int64, version int) (doccache.Entry, error) {
	entry, ok := c.entries[docID][version]
	if !ok {
		return doccache.Entry{}, doccache.ErrNotFound
	}
	return entry, nil
}

func (c *memCache) Put(_ context.Context, docID int64, version int, entry doccache.Entry) error {
	if c.entries[docID] == nil {
		c.entries[docID] = map[int]doccache.Entry{}
	}
	c.entries[docID][version] = entry
	return nil
}

func (c *memCache) Remove(_ context.Context, docID int64, version int) error {
	if c.failing {
		return errors.New("cache backend down")
	}
	delete(c.entries[docID], version)
	return nil
}

func (c *memCache) RemoveAll(_ context.Context, docID int64) error {
	if c.failing {
		return errors.New("cache backend down")
	}
	delete(c.entries, docID)
	return nil
}

func (c *memCache) has(docID int64) bool {
	return len(c.entries[docID]) > 0
}

// memToucher records timestamp bumps per document.
type memToucher struct {
	stamps  map[int64]store.Timestamp
	touched []int64
	fail    map[int64]error
}

func newMemToucher() *memToucher {
	return &memToucher{stamps: map[int64]store.Timestamp{}}
}

func (m *memToucher) TouchDocument(_ context.Context, id int64) (store.Timestamp, error) {
	if err, ok := m.fail[id]; ok {
		return store.Timestamp{}, err
	}
	current, ok := m.stamps[id]
	next := store.Now()
	if ok && !next.After(current) {
		next = store.NewTimestamp(current.Time().Add(time.Second))
	}
	m.stamps[id] = next
	m.touched = append(m.touched, id)
	return next, nil
}

type memQueue struct {
	pending map[string][]byte
	order   []string
}

func newMemQueue() *memQueue {
	return &memQueue{pending: map[string][]byte{}}
}

func (q *memQueue) EnqueueIfUnique(_ context.Context, label string, payload []byte) (bool, error) {
	if _, ok := q.pending[label]; ok {
		return false, nil
	}
	q.pending[label] = payload
	q.order = append(q.order, label)
	return true, nil
}

func seed(t *testing.T, cache *memCache, docID int64, ref store.Timestamp) {
	t.Helper()
	err := cache.Put(context.Background(), docID, 1, doccache.Entry{
		Payload:            []byte(fmt.Sprintf("<doc id=%d/>", docID)),
		ReferenceTimestamp: ref,
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

// Scenario: document A linked to collection C under role R, document B
// unrelated. Flipping R.visible purges A's cache but leaves A's timestamp
// and all of B untouched.
func TestRoleVisibilityFlip(t *testing.T) {
	const docA, docB = int64(1), int64(2)
	graph := &fakeGraph{
		roleRootCollectionsFn: func(context.Context, int64) ([]int64, error) {
			return []int64{100}, nil
		},
		docsByCollectionsFn: func(context.Context, []int64) ([]int64, error) {
			return []int64{docA}, nil
		},
	}
	resolver := NewResolver(graph, &fakeTree{})
	cache := newMemCache()
	toucher := newMemToucher()
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())

	ref := store.Now()
	toucher.stamps[docA] = ref
	toucher.stamps[docB] = ref
	seed(t, cache, docA, ref)
	seed(t, cache, docB, ref)

	err := handler.AfterStore(context.Background(), Mutation{
		Entity:        store.CollectionRole{ID: 8, Visible: false},
		ChangedFields: []string{FieldVisible},
	})
	if err != nil {
		t.Fatalf("AfterStore failed: %v", err)
	}

	if cache.has(docA) {
		t.Error("document A's cache entry must be removed")
	}
	if len(toucher.touched) != 0 {
		t.Errorf("cosmetic change must not bump any timestamp, touched %v", toucher.touched)
	}
	if !cache.has(docB) {
		t.Error("document B's cache entry must be untouched")
	}
}

// Scenario: updating a title purges and bumps exactly the owning document.
func TestTitleUpdate(t *testing.T) {
	const docA, docB = int64(1), int64(2)
	resolver := NewResolver(&fakeGraph{}, &fakeTree{})
	cache := newMemCache()
	toucher := newMemToucher()
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())

	ref := store.Now()
	toucher.stamps[docA] = ref
	toucher.stamps[docB] = ref
	seed(t, cache, docA, ref)
	seed(t, cache, docB, ref)

	err := handler.AfterStore(context.Background(), Mutation{
		Entity:        store.Title{ID: 11, DocumentID: docA, Value: "New"},
		ChangedFields: []string{"value"},
	})
	if err != nil {
		t.Fatalf("AfterStore failed: %v", err)
	}

	if cache.has(docA) {
		t.Error("owning document's cache entry must be removed")
	}
	if !toucher.stamps[docA].After(ref) {
		t.Error("owning document's timestamp must advance")
	}
	if !cache.has(docB) || !toucher.stamps[docB].Equal(ref) {
		t.Error("unrelated document must be untouched")
	}
}

// Scenario: updating a person shared by documents A and B purges and
// bumps both, and only both.
func TestSharedPersonUpdate(t *testing.T) {
	const docA, docB, docC = int64(1), int64(2), int64(3)
	graph := &fakeGraph{
		docsByPersonFn: func(context.Context, int64) ([]int64, error) {
			return []int64{docA, docB}, nil
		},
	}
	resolver := NewResolver(graph, &fakeTree{})
	cache := newMemCache()
	toucher := newMemToucher()
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())

	ref := store.Now()
	for _, id := range []int64{docA, docB, docC} {
		toucher.stamps[id] = ref
		seed(t, cache, id, ref)
	}

	err := handler.AfterStore(context.Background(), Mutation{
		Entity:        store.Person{ID: 77, LastName: "Changed"},
		ChangedFields: []string{"last_name"},
	})
	if err != nil {
		t.Fatalf("AfterStore failed: %v", err)
	}

	for _, id := range []int64{docA, docB} {
		if cache.has(id) {
			t.Errorf("document %d's cache entry must be removed", id)
		}
		if !toucher.stamps[id].After(ref) {
			t.Errorf("document %d's timestamp must advance", id)
		}
	}
	if !cache.has(docC) || !toucher.stamps[docC].Equal(ref) {
		t.Error("third document must be untouched")
	}
}

// Scenario: a person is shared by documents A and B, and A is deleted
// concurrently so its touch fails. B must still be bumped and purged, and
// A's now-orphaned entries purged too.
func TestTouchFailureStillPurgesRemainingDocuments(t *testing.T) {
	const docA, docB = int64(5), int64(9)
	graph := &fakeGraph{
		docsByPersonFn: func(context.Context, int64) ([]int64, error) {
			return []int64{docA, docB}, nil
		},
	}
	resolver := NewResolver(graph, &fakeTree{})
	cache := newMemCache()
	toucher := newMemToucher()
	toucher.fail = map[int64]error{docA: store.ErrNotFound}
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())

	ref := store.Now()
	toucher.stamps[docB] = ref
	seed(t, cache, docA, ref)
	seed(t, cache, docB, ref)

	err := handler.AfterStore(context.Background(), Mutation{
		Entity:        store.Person{ID: 77, LastName: "Changed"},
		ChangedFields: []string{"last_name"},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("touch failure must surface, got %v", err)
	}
	if cache.has(docA) {
		t.Error("failed document's cache entries must still be purged")
	}
	if cache.has(docB) {
		t.Error("remaining document's cache entry must be purged")
	}
	if !toucher.stamps[docB].After(ref) {
		t.Error("remaining document's timestamp must advance")
	}
}

// Scenario: deleting a title. An entry cached in the window between
// BeforeDelete's purge and the commit shows the row that is now gone, so
// AfterDelete must purge it again.
func TestAfterDeleteRepurgesResolvedSet(t *testing.T) {
	const docA = int64(4)
	resolver := NewResolver(&fakeGraph{}, &fakeTree{})
	cache := newMemCache()
	toucher := newMemToucher()
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())
	ctx := context.Background()

	err := handler.BeforeDelete(ctx, Mutation{
		Entity: store.Title{ID: 11, DocumentID: docA},
	})
	if err != nil {
		t.Fatalf("BeforeDelete failed: %v", err)
	}
	// A concurrent render caches the graph that still contains the title.
	seed(t, cache, docA, toucher.stamps[docA])

	if err := handler.AfterDelete(ctx, store.KindTitle, 11); err != nil {
		t.Fatalf("AfterDelete failed: %v", err)
	}
	if cache.has(docA) {
		t.Error("entry cached during the delete window must be purged")
	}
}

func TestContentActionIsIdempotent(t *testing.T) {
	resolver := NewResolver(&fakeGraph{}, &fakeTree{})
	cache := newMemCache()
	toucher := newMemToucher()
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())

	m := Mutation{Entity: store.Title{ID: 1, DocumentID: 4}}
	ctx := context.Background()

	if err := handler.AfterStore(ctx, m); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	// Purging an absent entry the second time must also succeed.
	if err := handler.AfterStore(ctx, m); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if cache.has(4) {
		t.Error("cache must stay purged")
	}
}

func TestPurgeFailureDoesNotPropagate(t *testing.T) {
	resolver := NewResolver(&fakeGraph{}, &fakeTree{})
	cache := newMemCache()
	cache.failing = true
	toucher := newMemToucher()
	handler := NewCacheHandler(resolver, cache, toucher, zerolog.Nop())

	err := handler.AfterStore(context.Background(), Mutation{
		Entity: store.Title{ID: 1, DocumentID: 4},
	})
	if err != nil {
		t.Fatalf("cache backend failure must not fail the handler: %v", err)
	}
	// The timestamp bump still happened, so the stale entry is already
	// rejected by the staleness comparator.
	if len(toucher.touched) != 1 || toucher.touched[0] != 4 {
		t.Errorf("expected document 4 touched, got %v", toucher.touched)
	}
}

func TestIndexHandlerEnqueuesPerDocument(t *testing.T) {
	graph := &fakeGraph{
		docsByPersonFn: func(context.Context, int64) ([]int64, error) {
			return []int64{5, 6}, nil
		},
	}
	resolver := NewResolver(graph, &fakeTree{})
	queue := newMemQueue()
	handler := NewIndexHandler(resolver, queue, zerolog.Nop())

	err := handler.AfterStore(context.Background(), Mutation{Entity: store.Person{ID: 1}})
	if err != nil {
		t.Fatalf("AfterStore failed: %v", err)
	}
	if len(queue.order) != 2 {
		t.Fatalf("expected 2 jobs, got %v", queue.order)
	}

	// The same logical change enqueued again is suppressed.
	if err := handler.AfterStore(context.Background(), Mutation{Entity: store.Person{ID: 1}}); err != nil {
		t.Fatalf("AfterStore failed: %v", err)
	}
	if len(queue.order) != 2 {
		t.Errorf("duplicate jobs must be suppressed, got %v", queue.order)
	}
}

func TestIndexHandlerDocumentDelete(t *testing.T) {
	resolver := NewResolver(&fakeGraph{}, &fakeTree{})
	queue := newMemQueue()
	handler := NewIndexHandler(resolver, queue, zerolog.Nop())

	if err := handler.AfterDelete(context.Background(), store.KindDocument, 9); err != nil {
		t.Fatalf("AfterDelete failed: %v", err)
	}
	if len(queue.order) != 1 || queue.order[0] != "unindex-document-9" {
		t.Fatalf("expected one unindex job, got %v", queue.order)
	}
}
