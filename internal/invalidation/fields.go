package invalidation

import "archivum/api/internal/store"

// Column name constants for the fields that carry a cosmetic
// classification. Everything not listed here is content.
const (
	FieldVisible              = "visible"
	FieldVisibleBrowsingStart = "visible_browsing_start"
	FieldVisibleFrontdoor     = "visible_frontdoor"
	FieldDisplayFrontdoor     = "display_frontdoor"
	FieldDisplayBrowsing      = "display_browsing"
	FieldSortOrder            = "sort_order"
)

// cosmeticFields is the authoritative per-entity-type classification of
// fields whose change invalidates caches without being part of the cached
// content. The table is deliberately explicit: a newly added column is
// content-affecting until someone classifies it here, never inferred.
var cosmeticFields = map[store.Kind]map[string]struct{}{
	store.KindCollectionRole: {
		FieldVisible:              {},
		FieldVisibleBrowsingStart: {},
		FieldVisibleFrontdoor:     {},
		FieldDisplayFrontdoor:     {},
		FieldDisplayBrowsing:      {},
	},
	store.KindCollection: {
		FieldVisible:              {},
		FieldVisibleBrowsingStart: {},
		FieldVisibleFrontdoor:     {},
	},
	store.KindSeries: {
		FieldVisible:   {},
		FieldSortOrder: {},
	},
}

// classify downgrades to CosmeticOnly only when the change set is known
// and every changed field is cosmetic for the kind. An empty change set
// means "unknown", which is content.
func classify(kind store.Kind, changed []string) Action {
	if len(changed) == 0 {
		return ContentChanged
	}
	cosmetic, ok := cosmeticFields[kind]
	if !ok {
		return ContentChanged
	}
	for _, field := range changed {
		if _, ok := cosmetic[field]; !ok {
			return ContentChanged
		}
	}
	return CosmeticOnly
}

// IsCosmeticField reports how a single field of a kind is classified.
// Maintenance tooling uses this to flag unclassified additions.
func IsCosmeticField(kind store.Kind, field string) bool {
	cosmetic, ok := cosmeticFields[kind]
	if !ok {
		return false
	}
	_, ok = cosmetic[field]
	return ok
}
