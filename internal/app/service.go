package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"archivum/api/internal/doccache"
	"archivum/api/internal/invalidation"
	"archivum/api/internal/jobs"
	"archivum/api/internal/render"
	"archivum/api/internal/search"
	"archivum/api/internal/store"
)

var allowedServerStates = map[string]struct{}{
	store.StateUnpublished: {},
	store.StateInProgress:  {},
	store.StatePublished:   {},
	store.StateRestricted:  {},
	store.StateDeleted:     {},
	store.StateTemporary:   {},
	store.StateAudited:     {},
}

type dataStore interface {
	Ping(context.Context) error
	CreateDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, int64) (store.Document, error)
	UpdateDocumentState(context.Context, int64, string) error
	DeleteDocument(context.Context, int64) error
	InsertTitle(context.Context, store.Title) (store.Title, error)
	UpdateTitle(context.Context, store.Title) error
	GetTitle(context.Context, int64) (store.Title, error)
	InsertNote(context.Context, store.Note) (store.Note, error)
	UpdateNote(context.Context, store.Note) error
	InsertFile(context.Context, store.DocumentFile) (store.DocumentFile, error)
	UpdateFile(context.Context, store.DocumentFile) error
	GetFile(context.Context, int64) (store.DocumentFile, error)
	PrepareDelete(store.Dependent) (store.DeleteToken, error)
	ConfirmDelete(context.Context, store.DeleteToken) error
	InsertPerson(context.Context, store.Person) (store.Person, error)
	UpdatePerson(context.Context, store.Person) error
	InsertLicence(context.Context, store.Licence) (store.Licence, error)
	UpdateLicence(context.Context, store.Licence) error
	InsertSeries(context.Context, store.Series) (store.Series, error)
	UpdateSeries(context.Context, store.Series) error
	GetSeries(context.Context, int64) (store.Series, error)
	CreateCollectionRole(context.Context, store.CollectionRole) (store.CollectionRole, error)
	UpdateCollectionRole(context.Context, store.CollectionRole) error
	GetCollectionRole(context.Context, int64) (store.CollectionRole, error)
	ListCollectionRoles(context.Context) ([]store.CollectionRole, error)
	UpdateCollection(context.Context, store.Collection) error
	GetCollection(context.Context, int64) (store.Collection, error)
	RoleRootCollectionIDs(context.Context, int64) ([]int64, error)
	LinkPerson(context.Context, store.PersonLink) (store.PersonLink, error)
	LinkLicence(context.Context, store.LicenceLink) (store.LicenceLink, error)
	LinkSeries(context.Context, store.SeriesLink) (store.SeriesLink, error)
	LinkCollection(context.Context, store.CollectionLink) (store.CollectionLink, error)
	DocumentGraph(context.Context, int64) (store.DocumentGraph, error)
}

type treeStore interface {
	Subtree(context.Context, int64) ([]int64, error)
	CreateRoot(ctx context.Context, roleID int64, name string) (int64, error)
	InsertChild(ctx context.Context, parentID int64, name, number string) (int64, error)
	DeleteSubtree(context.Context, int64) ([]int64, error)
	MoveSubtree(ctx context.Context, nodeID, newParentID int64) error
	Validate(context.Context, int64) (bool, error)
}

type eventDispatcher interface {
	AfterStore(ctx context.Context, m invalidation.Mutation)
	BeforeDelete(ctx context.Context, m invalidation.Mutation)
	AfterDelete(ctx context.Context, kind store.Kind, entityID int64)
}

// fileStore holds file payloads in object storage. A nil fileStore keeps
// the module metadata-only.
type fileStore interface {
	Store(ctx context.Context, documentID int64, pathName, mimeType string, payload []byte) (string, error)
	Remove(ctx context.Context, storagePath string) error
}

type Service struct {
	store    dataStore
	tree     treeStore
	cache    doccache.Cache
	dispatch eventDispatcher
	files    fileStore
	index    search.Indexer
	logger   zerolog.Logger
}

func New(dataStore dataStore, tree treeStore, cache doccache.Cache, dispatch eventDispatcher, logger zerolog.Logger) *Service {
	return &Service{
		store:    dataStore,
		tree:     tree,
		cache:    cache,
		dispatch: dispatch,
		logger:   logger,
	}
}

// WithFiles attaches object storage for file payloads.
func (s *Service) WithFiles(files fileStore) *Service {
	s.files = files
	return s
}

// WithIndexer attaches the search backend consumed by the job worker.
func (s *Service) WithIndexer(index search.Indexer) *Service {
	s.index = index
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap checks every role tree at startup. A corrupt tree is logged
// and reported, not repaired.
func (s *Service) Bootstrap(ctx context.Context) error {
	roles, err := s.store.ListCollectionRoles(ctx)
	if err != nil {
		return err
	}
	for _, role := range roles {
		roots, err := s.store.RoleRootCollectionIDs(ctx, role.ID)
		if err != nil {
			return err
		}
		for _, rootID := range roots {
			ok, err := s.tree.Validate(ctx, rootID)
			if err != nil {
				return err
			}
			if !ok {
				s.logger.Error().
					Int64("role_id", role.ID).
					Int64("root_id", rootID).
					Msg("collection tree failed structural validation")
			}
		}
	}
	return nil
}

// --- documents ---

func (s *Service) CreateDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	if doc.ServerState == "" {
		doc.ServerState = store.StateUnpublished
	}
	if _, ok := allowedServerStates[doc.ServerState]; !ok {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid server state", nil)
	}
	created, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		return store.Document{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
	return created, nil
}

func (s *Service) SetServerState(ctx context.Context, documentID int64, state string) error {
	if _, ok := allowedServerStates[state]; !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid server state", nil)
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, state); err != nil {
		return err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{
		Entity:        store.Document{ID: documentID},
		ChangedFields: []string{"server_state"},
	})
	return nil
}

func (s *Service) DeleteDocument(ctx context.Context, documentID int64) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	s.dispatch.BeforeDelete(ctx, invalidation.Mutation{Entity: doc})
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.dispatch.AfterDelete(ctx, store.KindDocument, documentID)
	return nil
}

// --- dependents ---

func (s *Service) SetTitle(ctx context.Context, title store.Title) (store.Title, error) {
	if strings.TrimSpace(title.Value) == "" {
		return store.Title{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title value is required", nil)
	}
	if title.ID == 0 {
		created, err := s.store.InsertTitle(ctx, title)
		if err != nil {
			return store.Title{}, err
		}
		title = created
	} else if err := s.store.UpdateTitle(ctx, title); err != nil {
		return store.Title{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: title})
	return title, nil
}

func (s *Service) RemoveTitle(ctx context.Context, titleID int64) error {
	title, err := s.store.GetTitle(ctx, titleID)
	if err != nil {
		return err
	}
	return s.removeDependent(ctx, title)
}

func (s *Service) SetNote(ctx context.Context, note store.Note) (store.Note, error) {
	if note.Visibility != "private" && note.Visibility != "public" {
		return store.Note{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "note visibility must be private or public", nil)
	}
	if note.ID == 0 {
		created, err := s.store.InsertNote(ctx, note)
		if err != nil {
			return store.Note{}, err
		}
		note = created
	} else if err := s.store.UpdateNote(ctx, note); err != nil {
		return store.Note{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: note})
	return note, nil
}

// AttachFile stores the payload first so a failed upload never leaves a
// metadata row pointing at nothing.
func (s *Service) AttachFile(ctx context.Context, file store.DocumentFile, payload []byte) (store.DocumentFile, error) {
	if strings.TrimSpace(file.PathName) == "" {
		return store.DocumentFile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file path name is required", nil)
	}
	if s.files != nil && len(payload) > 0 {
		storagePath, err := s.files.Store(ctx, file.DocumentID, file.PathName, file.MimeType, payload)
		if err != nil {
			return store.DocumentFile{}, fmt.Errorf("store file payload: %w", err)
		}
		file.StoragePath = storagePath
		file.FileSize = int64(len(payload))
	}
	created, err := s.store.InsertFile(ctx, file)
	if err != nil {
		return store.DocumentFile{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
	return created, nil
}

func (s *Service) UpdateFile(ctx context.Context, file store.DocumentFile) error {
	if err := s.store.UpdateFile(ctx, file); err != nil {
		return err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: file})
	return nil
}

func (s *Service) RemoveFile(ctx context.Context, fileID int64) error {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.removeDependent(ctx, file); err != nil {
		return err
	}
	if s.files != nil && file.StoragePath != "" {
		if err := s.files.Remove(ctx, file.StoragePath); err != nil {
			s.logger.Warn().Err(err).Str("path", file.StoragePath).
				Msg("file payload left orphaned in object storage")
		}
	}
	return nil
}

// removeDependent runs the two-phase delete with invalidation hooks on
// both sides: the affected set is resolved while the row still exists.
func (s *Service) removeDependent(ctx context.Context, dep store.Dependent) error {
	s.dispatch.BeforeDelete(ctx, invalidation.Mutation{Entity: dep})
	token, err := s.store.PrepareDelete(dep)
	if err != nil {
		return err
	}
	if err := s.store.ConfirmDelete(ctx, token); err != nil {
		return err
	}
	s.dispatch.AfterDelete(ctx, dep.Kind(), dep.EntityID())
	return nil
}

// --- shared entities ---

func (s *Service) SavePerson(ctx context.Context, p store.Person) (store.Person, error) {
	if p.ID == 0 {
		created, err := s.store.InsertPerson(ctx, p)
		if err != nil {
			return store.Person{}, err
		}
		p = created
	} else if err := s.store.UpdatePerson(ctx, p); err != nil {
		return store.Person{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: p})
	return p, nil
}

func (s *Service) SaveLicence(ctx context.Context, l store.Licence) (store.Licence, error) {
	if l.ID == 0 {
		created, err := s.store.InsertLicence(ctx, l)
		if err != nil {
			return store.Licence{}, err
		}
		l = created
	} else if err := s.store.UpdateLicence(ctx, l); err != nil {
		return store.Licence{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: l})
	return l, nil
}

func (s *Service) SaveSeries(ctx context.Context, sr store.Series) (store.Series, error) {
	if sr.ID == 0 {
		created, err := s.store.InsertSeries(ctx, sr)
		if err != nil {
			return store.Series{}, err
		}
		s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
		return created, nil
	}

	prev, err := s.store.GetSeries(ctx, sr.ID)
	if err != nil {
		return store.Series{}, err
	}
	if err := s.store.UpdateSeries(ctx, sr); err != nil {
		return store.Series{}, err
	}
	if changed := changedSeriesFields(prev, sr); len(changed) > 0 {
		s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: sr, ChangedFields: changed})
	}
	return sr, nil
}

// --- links ---

func (s *Service) LinkPerson(ctx context.Context, link store.PersonLink) (store.PersonLink, error) {
	created, err := s.store.LinkPerson(ctx, link)
	if err != nil {
		return store.PersonLink{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
	return created, nil
}

func (s *Service) UnlinkPerson(ctx context.Context, link store.PersonLink) error {
	return s.removeDependent(ctx, link)
}

func (s *Service) LinkLicence(ctx context.Context, link store.LicenceLink) (store.LicenceLink, error) {
	created, err := s.store.LinkLicence(ctx, link)
	if err != nil {
		return store.LicenceLink{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
	return created, nil
}

func (s *Service) UnlinkLicence(ctx context.Context, link store.LicenceLink) error {
	return s.removeDependent(ctx, link)
}

func (s *Service) LinkSeries(ctx context.Context, link store.SeriesLink) (store.SeriesLink, error) {
	created, err := s.store.LinkSeries(ctx, link)
	if err != nil {
		return store.SeriesLink{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
	return created, nil
}

func (s *Service) UnlinkSeries(ctx context.Context, link store.SeriesLink) error {
	return s.removeDependent(ctx, link)
}

func (s *Service) LinkCollection(ctx context.Context, link store.CollectionLink) (store.CollectionLink, error) {
	created, err := s.store.LinkCollection(ctx, link)
	if err != nil {
		return store.CollectionLink{}, err
	}
	s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: created})
	return created, nil
}

func (s *Service) UnlinkCollection(ctx context.Context, link store.CollectionLink) error {
	return s.removeDependent(ctx, link)
}

// --- collections and roles ---

func (s *Service) CreateCollectionRole(ctx context.Context, role store.CollectionRole) (store.CollectionRole, error) {
	if strings.TrimSpace(role.Name) == "" {
		return store.CollectionRole{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role name is required", nil)
	}
	created, err := s.store.CreateCollectionRole(ctx, role)
	if err != nil {
		return store.CollectionRole{}, err
	}
	if _, err := s.tree.CreateRoot(ctx, created.ID, created.Name); err != nil {
		return store.CollectionRole{}, err
	}
	return created, nil
}

// UpdateCollectionRole diffs against the stored row so a pure display
// toggle resolves to a cosmetic purge.
func (s *Service) UpdateCollectionRole(ctx context.Context, role store.CollectionRole) error {
	prev, err := s.store.GetCollectionRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateCollectionRole(ctx, role); err != nil {
		return err
	}
	if changed := changedRoleFields(prev, role); len(changed) > 0 {
		s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: role, ChangedFields: changed})
	}
	return nil
}

func (s *Service) UpdateCollection(ctx context.Context, c store.Collection) error {
	prev, err := s.store.GetCollection(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateCollection(ctx, c); err != nil {
		return err
	}
	if changed := changedCollectionFields(prev, c); len(changed) > 0 {
		s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: c, ChangedFields: changed})
	}
	return nil
}

// AddCollection inserts a child node. A fresh node carries no documents,
// so no invalidation fires.
func (s *Service) AddCollection(ctx context.Context, parentID int64, name, number string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "collection name is required", nil)
	}
	return s.tree.InsertChild(ctx, parentID, name, number)
}

// MoveCollection relocates a subtree. Documents assigned anywhere under
// the moved node render a different collection path, so each node in the
// subtree fires a content mutation.
func (s *Service) MoveCollection(ctx context.Context, nodeID, newParentID int64) error {
	subtree, err := s.tree.Subtree(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := s.tree.MoveSubtree(ctx, nodeID, newParentID); err != nil {
		return err
	}
	for _, id := range subtree {
		s.dispatch.AfterStore(ctx, invalidation.Mutation{Entity: store.Collection{ID: id}})
	}
	return nil
}

// RemoveCollection deletes a node and everything under it. The affected
// document set is resolved per node before the rows disappear.
func (s *Service) RemoveCollection(ctx context.Context, nodeID int64) error {
	subtree, err := s.tree.Subtree(ctx, nodeID)
	if err != nil {
		return err
	}
	for _, id := range subtree {
		s.dispatch.BeforeDelete(ctx, invalidation.Mutation{Entity: store.Collection{ID: id}})
	}
	if _, err := s.tree.DeleteSubtree(ctx, nodeID); err != nil {
		return err
	}
	for _, id := range subtree {
		s.dispatch.AfterDelete(ctx, store.KindCollection, id)
	}
	return nil
}

func (s *Service) ValidateTree(ctx context.Context, rootID int64) (bool, error) {
	return s.tree.Validate(ctx, rootID)
}

// --- cache surface ---

// DocumentXML returns the cached rendering when it is still valid for
// the document's current modification timestamp, regenerating and
// re-caching otherwise. A cache backend failure degrades to a fresh
// render, never to an error.
func (s *Service) DocumentXML(ctx context.Context, documentID int64) ([]byte, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	entry, err := s.cache.Get(ctx, documentID, render.StrategyVersion)
	if err == nil && entry.ReferenceTimestamp.Equal(doc.ServerDateModified) {
		return entry.Payload, nil
	}
	if err != nil && !errors.Is(err, doccache.ErrNotFound) {
		s.logger.Warn().Err(err).Int64("document_id", documentID).
			Msg("cache read failed, rendering fresh")
	}

	graph, err := s.store.DocumentGraph(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload, err := render.XML(graph)
	if err != nil {
		return nil, fmt.Errorf("render document %d: %w", documentID, err)
	}

	// The reference timestamp is re-read from the graph load, not the
	// earlier Get: a concurrent touch between the two must not pin a
	// fresh payload under a stale timestamp.
	put := doccache.Entry{
		Payload:            payload,
		ReferenceTimestamp: graph.Document.ServerDateModified,
	}
	if err := s.cache.Put(ctx, documentID, render.StrategyVersion, put); err != nil {
		s.logger.Warn().Err(err).Int64("document_id", documentID).
			Msg("cache write failed, serving uncached render")
	}
	return payload, nil
}

func (s *Service) IsCacheValid(ctx context.Context, documentID int64) (bool, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	return s.cache.HasValidEntry(ctx, documentID, render.StrategyVersion, doc.ServerDateModified)
}

func (s *Service) PurgeCache(ctx context.Context, documentID int64) error {
	return s.cache.RemoveAll(ctx, documentID)
}

// --- index jobs ---

// IndexJobHandler consumes the queue fed by the index plugin. Missing
// documents unindex instead of failing so a delete racing a reindex job
// converges.
func (s *Service) IndexJobHandler() jobs.HandleFunc {
	return func(ctx context.Context, job jobs.Job) error {
		if s.index == nil {
			return nil
		}
		var payload invalidation.IndexJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			s.logger.Error().Err(err).Str("label", job.Label).Msg("dropping malformed index job")
			return nil
		}
		if payload.Delete {
			return s.index.DeleteDocument(payload.DocumentID)
		}
		graph, err := s.store.DocumentGraph(ctx, payload.DocumentID)
		if errors.Is(err, store.ErrNotFound) {
			return s.index.DeleteDocument(payload.DocumentID)
		}
		if err != nil {
			return err
		}
		return s.index.IndexDocument(search.RecordFromGraph(graph))
	}
}

// --- change-set diffs ---

func changedSeriesFields(prev, next store.Series) []string {
	var changed []string
	if prev.Title != next.Title {
		changed = append(changed, "title")
	}
	if prev.Infobox != next.Infobox {
		changed = append(changed, "infobox")
	}
	if prev.Visible != next.Visible {
		changed = append(changed, invalidation.FieldVisible)
	}
	if prev.SortOrder != next.SortOrder {
		changed = append(changed, invalidation.FieldSortOrder)
	}
	return changed
}

func changedRoleFields(prev, next store.CollectionRole) []string {
	var changed []string
	if prev.Name != next.Name {
		changed = append(changed, "name")
	}
	if prev.OaiName != next.OaiName {
		changed = append(changed, "oai_name")
	}
	if prev.Position != next.Position {
		changed = append(changed, "position")
	}
	if prev.Visible != next.Visible {
		changed = append(changed, invalidation.FieldVisible)
	}
	if prev.VisibleBrowsingStart != next.VisibleBrowsingStart {
		changed = append(changed, invalidation.FieldVisibleBrowsingStart)
	}
	if prev.VisibleFrontdoor != next.VisibleFrontdoor {
		changed = append(changed, invalidation.FieldVisibleFrontdoor)
	}
	if prev.DisplayFrontdoor != next.DisplayFrontdoor {
		changed = append(changed, invalidation.FieldDisplayFrontdoor)
	}
	if prev.DisplayBrowsing != next.DisplayBrowsing {
		changed = append(changed, invalidation.FieldDisplayBrowsing)
	}
	return changed
}

func changedCollectionFields(prev, next store.Collection) []string {
	var changed []string
	if prev.Name != next.Name {
		changed = append(changed, "name")
	}
	if prev.Number != next.Number {
		changed = append(changed, "number")
	}
	if prev.Visible != next.Visible {
		changed = append(changed, invalidation.FieldVisible)
	}
	if prev.VisibleBrowsingStart != next.VisibleBrowsingStart {
		changed = append(changed, invalidation.FieldVisibleBrowsingStart)
	}
	if prev.VisibleFrontdoor != next.VisibleFrontdoor {
		changed = append(changed, invalidation.FieldVisibleFrontdoor)
	}
	return changed
}
