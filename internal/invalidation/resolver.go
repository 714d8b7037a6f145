// Package invalidation maps mutations anywhere in the document graph to
// the set of documents whose cached rendering is no longer trustworthy,
// and to the action required: purging the cache alone, or purging it and
// advancing the document's modification timestamp.
package invalidation

import (
	"context"
	"fmt"
	"sort"

	"archivum/api/internal/store"
)

// Action says what processing a mutation requires for each affected
// document.
type Action int

const (
	// ContentChanged purges cache entries and advances
	// ServerDateModified: the mutation is part of the rendered content.
	ContentChanged Action = iota
	// CosmeticOnly purges cache entries but leaves ServerDateModified
	// untouched: the mutation affects display policy, not content.
	CosmeticOnly
)

func (a Action) String() string {
	if a == CosmeticOnly {
		return "cosmetic"
	}
	return "content"
}

// Mutation describes one store or delete of a graph entity.
type Mutation struct {
	Entity store.Entity
	// ChangedFields lists the column names that were modified. When
	// empty the change is treated as content-affecting; only a change
	// touching exclusively cosmetic fields downgrades to CosmeticOnly.
	ChangedFields []string
}

// Result is the resolved outcome: a deduplicated, ascending document id
// set plus the action to apply to each.
type Result struct {
	DocumentIDs []int64
	Action      Action
}

// Empty reports whether the mutation affects no document at all.
func (r Result) Empty() bool { return len(r.DocumentIDs) == 0 }

// Graph is the reverse-lookup surface the resolver needs from the
// relational store.
type Graph interface {
	DocumentExists(ctx context.Context, id int64) (bool, error)
	DocumentIDsByPerson(ctx context.Context, personID int64) ([]int64, error)
	DocumentIDsByLicence(ctx context.Context, licenceID int64) ([]int64, error)
	DocumentIDsBySeries(ctx context.Context, seriesID int64) ([]int64, error)
	DocumentIDsByCollection(ctx context.Context, collectionID int64) ([]int64, error)
	DocumentIDsByCollections(ctx context.Context, collectionIDs []int64) ([]int64, error)
	RoleRootCollectionIDs(ctx context.Context, roleID int64) ([]int64, error)
}

// TreeReader expands a collection node to its full subtree.
type TreeReader interface {
	Subtree(ctx context.Context, nodeID int64) ([]int64, error)
}

type Resolver struct {
	graph Graph
	tree  TreeReader
}

func NewResolver(graph Graph, tree TreeReader) *Resolver {
	return &Resolver{graph: graph, tree: tree}
}

// Resolve computes the affected document set and action for a mutation.
// Resolving an entity with no document references yields an empty result,
// never an error; an unknown kind or a dependent without a parent id is a
// configuration error and fails fast.
func (r *Resolver) Resolve(ctx context.Context, m Mutation) (Result, error) {
	if m.Entity == nil {
		return Result{}, fmt.Errorf("%w: nil entity", store.ErrUnknownKind)
	}

	switch entity := m.Entity.(type) {
	case store.Document:
		if entity.ID == 0 {
			return Result{Action: ContentChanged}, nil
		}
		return Result{DocumentIDs: []int64{entity.ID}, Action: ContentChanged}, nil

	case store.Dependent:
		// One forward hop to the owner. Link rows land here too: the
		// parent pointer is authoritative, the linked shared entity's
		// own reverse lookup must not run.
		return r.resolveDependent(ctx, entity)

	case store.Person:
		ids, err := r.graph.DocumentIDsByPerson(ctx, entity.ID)
		if err != nil {
			return Result{}, fmt.Errorf("resolve person %d: %w", entity.ID, err)
		}
		return Result{DocumentIDs: dedupe(ids), Action: ContentChanged}, nil

	case store.Licence:
		ids, err := r.graph.DocumentIDsByLicence(ctx, entity.ID)
		if err != nil {
			return Result{}, fmt.Errorf("resolve licence %d: %w", entity.ID, err)
		}
		return Result{DocumentIDs: dedupe(ids), Action: ContentChanged}, nil

	case store.Series:
		ids, err := r.graph.DocumentIDsBySeries(ctx, entity.ID)
		if err != nil {
			return Result{}, fmt.Errorf("resolve series %d: %w", entity.ID, err)
		}
		return Result{DocumentIDs: dedupe(ids), Action: classify(store.KindSeries, m.ChangedFields)}, nil

	case store.Collection:
		ids, err := r.graph.DocumentIDsByCollection(ctx, entity.ID)
		if err != nil {
			return Result{}, fmt.Errorf("resolve collection %d: %w", entity.ID, err)
		}
		return Result{DocumentIDs: dedupe(ids), Action: classify(store.KindCollection, m.ChangedFields)}, nil

	case store.CollectionRole:
		return r.resolveRole(ctx, entity, m.ChangedFields)

	default:
		return Result{}, fmt.Errorf("%w: %s", store.ErrUnknownKind, m.Entity.Kind())
	}
}

func (r *Resolver) resolveDependent(ctx context.Context, dep store.Dependent) (Result, error) {
	parentID := dep.ParentDocumentID()
	if parentID == 0 {
		return Result{}, fmt.Errorf("resolve %s %d: %w", dep.Kind(), dep.EntityID(), store.ErrNoParent)
	}
	// An owner that was never persisted has no cache entry: nothing to do.
	exists, err := r.graph.DocumentExists(ctx, parentID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s %d: %w", dep.Kind(), dep.EntityID(), err)
	}
	if !exists {
		return Result{Action: ContentChanged}, nil
	}
	return Result{DocumentIDs: []int64{parentID}, Action: ContentChanged}, nil
}

func (r *Resolver) resolveRole(ctx context.Context, role store.CollectionRole, changed []string) (Result, error) {
	roots, err := r.graph.RoleRootCollectionIDs(ctx, role.ID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve role %d: %w", role.ID, err)
	}

	var collections []int64
	for _, root := range roots {
		subtree, err := r.tree.Subtree(ctx, root)
		if err != nil {
			return Result{}, fmt.Errorf("resolve role %d subtree %d: %w", role.ID, root, err)
		}
		collections = append(collections, subtree...)
	}

	ids, err := r.graph.DocumentIDsByCollections(ctx, dedupe(collections))
	if err != nil {
		return Result{}, fmt.Errorf("resolve role %d documents: %w", role.ID, err)
	}
	return Result{DocumentIDs: dedupe(ids), Action: classify(store.KindCollectionRole, changed)}, nil
}

// dedupe returns the ids as a sorted set, so results are order-independent
// and safe to compare across repeated resolutions.
func dedupe(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
