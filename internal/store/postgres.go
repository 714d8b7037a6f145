package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

type PostgresStore struct {
	db *sql.DB

	mu      sync.Mutex
	nonce   int64
	pending map[DeleteToken]struct{}
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pending: map[DeleteToken]struct{}{}}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ServerState == "" {
		doc.ServerState = StateUnpublished
	}
	doc.ServerDateModified = Now()
	const insert = `
		INSERT INTO documents (server_state, server_date_modified, type, language, published_year)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, server_date_created
	`
	err := s.db.QueryRowContext(ctx, insert,
		doc.ServerState, doc.ServerDateModified, doc.Type, doc.Language, doc.PublishedYear,
	).Scan(&doc.ID, &doc.ServerDateCreated)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (Document, error) {
	const query = `
		SELECT id, server_state, server_date_modified, server_date_created, type, language, published_year
		FROM documents WHERE id = $1
	`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.ServerState, &doc.ServerDateModified, &doc.ServerDateCreated,
		&doc.Type, &doc.Language, &doc.PublishedYear,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %d: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) DocumentExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("document exists %d: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, id int64, state string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET server_state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("update document state %d: %w", id, err)
	}
	return requireRow(result, id)
}

// TouchDocument advances server_date_modified to now. The new value is
// never allowed to regress or repeat: if the clock has not moved past the
// stored value, the stored value plus one second wins.
func (s *PostgresStore) TouchDocument(ctx context.Context, id int64) (Timestamp, error) {
	var touched Timestamp
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current Timestamp
		err := tx.QueryRowContext(ctx,
			`SELECT server_date_modified FROM documents WHERE id = $1 FOR UPDATE`, id).
			Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock document %d: %w", id, err)
		}

		touched = Now()
		if !touched.After(current) {
			touched = NewTimestamp(current.Time().Add(time.Second))
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET server_date_modified = $2 WHERE id = $1`, id, touched); err != nil {
			return fmt.Errorf("touch document %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return Timestamp{}, err
	}
	return touched, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	return requireRow(result, id)
}

// --- dependent models ---

func (s *PostgresStore) InsertTitle(ctx context.Context, title Title) (Title, error) {
	if title.DocumentID == 0 {
		return Title{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_titles (document_id, type, language, value)
		VALUES ($1, $2, $3, $4) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		title.DocumentID, title.Type, title.Language, title.Value).Scan(&title.ID)
	if err != nil {
		return Title{}, fmt.Errorf("insert title: %w", err)
	}
	return title, nil
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, title Title) error {
	if title.DocumentID == 0 {
		return ErrNoParent
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE document_titles SET type = $2, language = $3, value = $4 WHERE id = $1`,
		title.ID, title.Type, title.Language, title.Value)
	if err != nil {
		return fmt.Errorf("update title %d: %w", title.ID, err)
	}
	return requireRow(result, title.ID)
}

func (s *PostgresStore) GetTitle(ctx context.Context, id int64) (Title, error) {
	var title Title
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, type, language, value FROM document_titles WHERE id = $1`, id).
		Scan(&title.ID, &title.DocumentID, &title.Type, &title.Language, &title.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Title{}, ErrNotFound
	}
	if err != nil {
		return Title{}, fmt.Errorf("get title %d: %w", id, err)
	}
	return title, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) (Note, error) {
	if note.DocumentID == 0 {
		return Note{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_notes (document_id, visibility, message)
		VALUES ($1, $2, $3) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		note.DocumentID, note.Visibility, note.Message).Scan(&note.ID)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return note, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, note Note) error {
	if note.DocumentID == 0 {
		return ErrNoParent
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE document_notes SET visibility = $2, message = $3 WHERE id = $1`,
		note.ID, note.Visibility, note.Message)
	if err != nil {
		return fmt.Errorf("update note %d: %w", note.ID, err)
	}
	return requireRow(result, note.ID)
}

func (s *PostgresStore) InsertFile(ctx context.Context, file DocumentFile) (DocumentFile, error) {
	if file.DocumentID == 0 {
		return DocumentFile{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_files (document_id, path_name, label, mime_type, file_size, storage_path, visible_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		file.DocumentID, file.PathName, file.Label, file.MimeType,
		file.FileSize, file.StoragePath, file.VisibleIn).Scan(&file.ID)
	if err != nil {
		return DocumentFile{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) UpdateFile(ctx context.Context, file DocumentFile) error {
	if file.DocumentID == 0 {
		return ErrNoParent
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE document_files SET label = $2, mime_type = $3, visible_in = $4 WHERE id = $1`,
		file.ID, file.Label, file.MimeType, file.VisibleIn)
	if err != nil {
		return fmt.Errorf("update file %d: %w", file.ID, err)
	}
	return requireRow(result, file.ID)
}

func (s *PostgresStore) GetFile(ctx context.Context, id int64) (DocumentFile, error) {
	var file DocumentFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, path_name, label, mime_type, file_size, storage_path, visible_in
		FROM document_files WHERE id = $1`, id).
		Scan(&file.ID, &file.DocumentID, &file.PathName, &file.Label,
			&file.MimeType, &file.FileSize, &file.StoragePath, &file.VisibleIn)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentFile{}, ErrNotFound
	}
	if err != nil {
		return DocumentFile{}, fmt.Errorf("get file %d: %w", id, err)
	}
	return file, nil
}

// --- two-phase dependent delete ---

// DeleteToken authorizes deleting exactly one dependent row. Tokens are
// single-use and process-local; generic code paths cannot delete a
// dependent without first asking for one.
type DeleteToken struct {
	kind  Kind
	id    int64
	nonce int64
}

func (t DeleteToken) Kind() Kind      { return t.kind }
func (t DeleteToken) EntityID() int64 { return t.id }

var dependentTables = map[Kind]string{
	KindTitle:          "document_titles",
	KindNote:           "document_notes",
	KindFile:           "document_files",
	KindPersonLink:     "document_person",
	KindLicenceLink:    "document_licence",
	KindSeriesLink:     "document_series",
	KindCollectionLink: "document_collection",
}

// PrepareDelete registers the intent to delete a dependent and returns
// the token the caller must hand back to ConfirmDelete.
func (s *PostgresStore) PrepareDelete(dep Dependent) (DeleteToken, error) {
	if dep.EntityID() == 0 {
		return DeleteToken{}, ErrNotFound
	}
	if dep.ParentDocumentID() == 0 {
		return DeleteToken{}, ErrNoParent
	}
	if _, ok := dependentTables[dep.Kind()]; !ok {
		return DeleteToken{}, fmt.Errorf("%w: %s", ErrUnknownKind, dep.Kind())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce++
	token := DeleteToken{kind: dep.Kind(), id: dep.EntityID(), nonce: s.nonce}
	s.pending[token] = struct{}{}
	return token, nil
}

// ConfirmDelete spends the token and removes the row. A zero, foreign or
// already-spent token fails with ErrBadDeleteToken and touches nothing.
func (s *PostgresStore) ConfirmDelete(ctx context.Context, token DeleteToken) error {
	s.mu.Lock()
	_, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
	}
	s.mu.Unlock()
	if !ok {
		return ErrBadDeleteToken
	}

	table, ok := dependentTables[token.kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, token.kind)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), token.id); err != nil {
		return fmt.Errorf("delete %s %d: %w", token.kind, token.id, err)
	}
	return nil
}

// --- shared entities ---

func (s *PostgresStore) InsertPerson(ctx context.Context, p Person) (Person, error) {
	const insert = `
		INSERT INTO persons (academic_title, first_name, last_name, email)
		VALUES ($1, $2, $3, $4) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		p.AcademicTitle, p.FirstName, p.LastName, p.Email).Scan(&p.ID)
	if err != nil {
		return Person{}, fmt.Errorf("insert person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdatePerson(ctx context.Context, p Person) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE persons SET academic_title = $2, first_name = $3, last_name = $4, email = $5 WHERE id = $1`,
		p.ID, p.AcademicTitle, p.FirstName, p.LastName, p.Email)
	if err != nil {
		return fmt.Errorf("update person %d: %w", p.ID, err)
	}
	return requireRow(result, p.ID)
}

func (s *PostgresStore) GetPerson(ctx context.Context, id int64) (Person, error) {
	var p Person
	err := s.db.QueryRowContext(ctx,
		`SELECT id, academic_title, first_name, last_name, email FROM persons WHERE id = $1`, id).
		Scan(&p.ID, &p.AcademicTitle, &p.FirstName, &p.LastName, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("get person %d: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) InsertLicence(ctx context.Context, l Licence) (Licence, error) {
	const insert = `
		INSERT INTO licences (name_long, link_text, link_url, active)
		VALUES ($1, $2, $3, $4) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		l.NameLong, l.LinkText, l.LinkURL, l.Active).Scan(&l.ID)
	if err != nil {
		return Licence{}, fmt.Errorf("insert licence: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) UpdateLicence(ctx context.Context, l Licence) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE licences SET name_long = $2, link_text = $3, link_url = $4, active = $5 WHERE id = $1`,
		l.ID, l.NameLong, l.LinkText, l.LinkURL, l.Active)
	if err != nil {
		return fmt.Errorf("update licence %d: %w", l.ID, err)
	}
	return requireRow(result, l.ID)
}

func (s *PostgresStore) InsertSeries(ctx context.Context, sr Series) (Series, error) {
	const insert = `
		INSERT INTO series (title, infobox, visible, sort_order)
		VALUES ($1, $2, $3, $4) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		sr.Title, sr.Infobox, sr.Visible, sr.SortOrder).Scan(&sr.ID)
	if err != nil {
		return Series{}, fmt.Errorf("insert series: %w", err)
	}
	return sr, nil
}

func (s *PostgresStore) UpdateSeries(ctx context.Context, sr Series) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE series SET title = $2, infobox = $3, visible = $4, sort_order = $5 WHERE id = $1`,
		sr.ID, sr.Title, sr.Infobox, sr.Visible, sr.SortOrder)
	if err != nil {
		return fmt.Errorf("update series %d: %w", sr.ID, err)
	}
	return requireRow(result, sr.ID)
}

func (s *PostgresStore) GetSeries(ctx context.Context, id int64) (Series, error) {
	var sr Series
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, infobox, visible, sort_order FROM series WHERE id = $1`, id).
		Scan(&sr.ID, &sr.Title, &sr.Infobox, &sr.Visible, &sr.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return Series{}, ErrNotFound
	}
	if err != nil {
		return Series{}, fmt.Errorf("get series %d: %w", id, err)
	}
	return sr, nil
}

// --- collection roles and collections (non-structural fields) ---

func (s *PostgresStore) CreateCollectionRole(ctx context.Context, role CollectionRole) (CollectionRole, error) {
	const insert = `
		INSERT INTO collection_roles
			(name, oai_name, position, visible, visible_browsing_start, visible_frontdoor, display_frontdoor, display_browsing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		role.Name, role.OaiName, role.Position, role.Visible, role.VisibleBrowsingStart,
		role.VisibleFrontdoor, role.DisplayFrontdoor, role.DisplayBrowsing).Scan(&role.ID)
	if err != nil {
		return CollectionRole{}, fmt.Errorf("insert collection role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpdateCollectionRole(ctx context.Context, role CollectionRole) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collection_roles SET
			name = $2, oai_name = $3, position = $4, visible = $5,
			visible_browsing_start = $6, visible_frontdoor = $7,
			display_frontdoor = $8, display_browsing = $9
		WHERE id = $1`,
		role.ID, role.Name, role.OaiName, role.Position, role.Visible,
		role.VisibleBrowsingStart, role.VisibleFrontdoor,
		role.DisplayFrontdoor, role.DisplayBrowsing)
	if err != nil {
		return fmt.Errorf("update collection role %d: %w", role.ID, err)
	}
	return requireRow(result, role.ID)
}

func (s *PostgresStore) GetCollectionRole(ctx context.Context, id int64) (CollectionRole, error) {
	var role CollectionRole
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, oai_name, position, visible, visible_browsing_start,
			visible_frontdoor, display_frontdoor, display_browsing
		FROM collection_roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.OaiName, &role.Position, &role.Visible,
			&role.VisibleBrowsingStart, &role.VisibleFrontdoor,
			&role.DisplayFrontdoor, &role.DisplayBrowsing)
	if errors.Is(err, sql.ErrNoRows) {
		return CollectionRole{}, ErrNotFound
	}
	if err != nil {
		return CollectionRole{}, fmt.Errorf("get collection role %d: %w", id, err)
	}
	return role, nil
}

func (s *PostgresStore) ListCollectionRoles(ctx context.Context) ([]CollectionRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, oai_name, position, visible, visible_browsing_start,
			visible_frontdoor, display_frontdoor, display_browsing
		FROM collection_roles ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list collection roles: %w", err)
	}
	defer rows.Close()

	var roles []CollectionRole
	for rows.Next() {
		var role CollectionRole
		if err := rows.Scan(&role.ID, &role.Name, &role.OaiName, &role.Position,
			&role.Visible, &role.VisibleBrowsingStart, &role.VisibleFrontdoor,
			&role.DisplayFrontdoor, &role.DisplayBrowsing); err != nil {
			return nil, fmt.Errorf("scan collection role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateCollection changes a node's own fields. Tree position is owned by
// the nested-set store and never touched here.
func (s *PostgresStore) UpdateCollection(ctx context.Context, c Collection) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collections SET
			name = $2, number = $3, visible = $4,
			visible_browsing_start = $5, visible_frontdoor = $6
		WHERE id = $1`,
		c.ID, c.Name, c.Number, c.Visible, c.VisibleBrowsingStart, c.VisibleFrontdoor)
	if err != nil {
		return fmt.Errorf("update collection %d: %w", c.ID, err)
	}
	return requireRow(result, c.ID)
}

func (s *PostgresStore) GetCollection(ctx context.Context, id int64) (Collection, error) {
	var c Collection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role_id, COALESCE(parent_id, 0), left_id, right_id, name, number,
			visible, visible_browsing_start, visible_frontdoor
		FROM collections WHERE id = $1`, id).
		Scan(&c.ID, &c.RoleID, &c.ParentID, &c.LeftID, &c.RightID, &c.Name, &c.Number,
			&c.Visible, &c.VisibleBrowsingStart, &c.VisibleFrontdoor)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("get collection %d: %w", id, err)
	}
	return c, nil
}

// RoleRootCollectionIDs lists the root nodes of every tree owned by the role.
func (s *PostgresStore) RoleRootCollectionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return s.collectIDs(ctx,
		`SELECT id FROM collections WHERE role_id = $1 AND parent_id IS NULL ORDER BY id`, roleID)
}

// --- link rows ---

func (s *PostgresStore) LinkPerson(ctx context.Context, link PersonLink) (PersonLink, error) {
	if link.DocumentID == 0 {
		return PersonLink{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_person (document_id, person_id, role, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, person_id, role) DO UPDATE SET sort_order = EXCLUDED.sort_order
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		link.DocumentID, link.PersonID, link.Role, link.SortOrder).Scan(&link.ID)
	if err != nil {
		return PersonLink{}, fmt.Errorf("link person: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) LinkLicence(ctx context.Context, link LicenceLink) (LicenceLink, error) {
	if link.DocumentID == 0 {
		return LicenceLink{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_licence (document_id, licence_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id, licence_id) DO UPDATE SET licence_id = EXCLUDED.licence_id
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert, link.DocumentID, link.LicenceID).Scan(&link.ID)
	if err != nil {
		return LicenceLink{}, fmt.Errorf("link licence: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) LinkSeries(ctx context.Context, link SeriesLink) (SeriesLink, error) {
	if link.DocumentID == 0 {
		return SeriesLink{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_series (document_id, series_id, number, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, series_id) DO UPDATE SET number = EXCLUDED.number, sort_order = EXCLUDED.sort_order
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert,
		link.DocumentID, link.SeriesID, link.Number, link.SortOrder).Scan(&link.ID)
	if err != nil {
		return SeriesLink{}, fmt.Errorf("link series: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) LinkCollection(ctx context.Context, link CollectionLink) (CollectionLink, error) {
	if link.DocumentID == 0 {
		return CollectionLink{}, ErrNoParent
	}
	const insert = `
		INSERT INTO document_collection (document_id, collection_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id, collection_id) DO UPDATE SET collection_id = EXCLUDED.collection_id
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert, link.DocumentID, link.CollectionID).Scan(&link.ID)
	if err != nil {
		return CollectionLink{}, fmt.Errorf("link collection: %w", err)
	}
	return link, nil
}

// --- reverse lookups (shared entity -> referencing documents) ---

func (s *PostgresStore) DocumentIDsByPerson(ctx context.Context, personID int64) ([]int64, error) {
	return s.collectIDs(ctx,
		`SELECT DISTINCT document_id FROM document_person WHERE person_id = $1 ORDER BY document_id`, personID)
}

func (s *PostgresStore) DocumentIDsByLicence(ctx context.Context, licenceID int64) ([]int64, error) {
	return s.collectIDs(ctx,
		`SELECT DISTINCT document_id FROM document_licence WHERE licence_id = $1 ORDER BY document_id`, licenceID)
}

func (s *PostgresStore) DocumentIDsBySeries(ctx context.Context, seriesID int64) ([]int64, error) {
	return s.collectIDs(ctx,
		`SELECT DISTINCT document_id FROM document_series WHERE series_id = $1 ORDER BY document_id`, seriesID)
}

func (s *PostgresStore) DocumentIDsByCollection(ctx context.Context, collectionID int64) ([]int64, error) {
	return s.collectIDs(ctx,
		`SELECT DISTINCT document_id FROM document_collection WHERE collection_id = $1 ORDER BY document_id`, collectionID)
}

// DocumentIDsByCollections unions the documents linked to any of the
// given collection nodes.
func (s *PostgresStore) DocumentIDsByCollections(ctx context.Context, collectionIDs []int64) ([]int64, error) {
	if len(collectionIDs) == 0 {
		return nil, nil
	}
	const query = `
		SELECT DISTINCT document_id FROM document_collection
		WHERE collection_id = ANY($1) ORDER BY document_id
	`
	rows, err := s.db.QueryContext(ctx, query, collectionIDs)
	if err != nil {
		return nil, fmt.Errorf("documents by collections: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// --- full graph load ---

func (s *PostgresStore) DocumentGraph(ctx context.Context, id int64) (DocumentGraph, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return DocumentGraph{}, err
	}
	graph := DocumentGraph{Document: doc}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, type, language, value FROM document_titles WHERE document_id = $1 ORDER BY id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load titles: %w", err)
	}
	for rows.Next() {
		var t Title
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.Type, &t.Language, &t.Value); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan title: %w", err)
		}
		graph.Titles = append(graph.Titles, t)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, document_id, visibility, message FROM document_notes WHERE document_id = $1 ORDER BY id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load notes: %w", err)
	}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.DocumentID, &n.Visibility, &n.Message); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan note: %w", err)
		}
		graph.Notes = append(graph.Notes, n)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, document_id, path_name, label, mime_type, file_size, storage_path, visible_in
		FROM document_files WHERE document_id = $1 ORDER BY id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load files: %w", err)
	}
	for rows.Next() {
		var f DocumentFile
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.PathName, &f.Label,
			&f.MimeType, &f.FileSize, &f.StoragePath, &f.VisibleIn); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan file: %w", err)
		}
		graph.Files = append(graph.Files, f)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.person_id, l.role, l.sort_order,
			p.id, p.academic_title, p.first_name, p.last_name, p.email
		FROM document_person l JOIN persons p ON p.id = l.person_id
		WHERE l.document_id = $1 ORDER BY l.role, l.sort_order, l.id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load persons: %w", err)
	}
	for rows.Next() {
		var link PersonLink
		var p Person
		if err := rows.Scan(&link.ID, &link.DocumentID, &link.PersonID, &link.Role, &link.SortOrder,
			&p.ID, &p.AcademicTitle, &p.FirstName, &p.LastName, &p.Email); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan person link: %w", err)
		}
		link.SetLinked(&p)
		graph.Persons = append(graph.Persons, link)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.licence_id,
			c.id, c.name_long, c.link_text, c.link_url, c.active
		FROM document_licence l JOIN licences c ON c.id = l.licence_id
		WHERE l.document_id = $1 ORDER BY l.id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load licences: %w", err)
	}
	for rows.Next() {
		var link LicenceLink
		var lic Licence
		if err := rows.Scan(&link.ID, &link.DocumentID, &link.LicenceID,
			&lic.ID, &lic.NameLong, &lic.LinkText, &lic.LinkURL, &lic.Active); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan licence link: %w", err)
		}
		link.SetLinked(&lic)
		graph.Licences = append(graph.Licences, link)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.series_id, l.number, l.sort_order,
			sr.id, sr.title, sr.infobox, sr.visible, sr.sort_order
		FROM document_series l JOIN series sr ON sr.id = l.series_id
		WHERE l.document_id = $1 ORDER BY l.sort_order, l.id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load series: %w", err)
	}
	for rows.Next() {
		var link SeriesLink
		var sr Series
		if err := rows.Scan(&link.ID, &link.DocumentID, &link.SeriesID, &link.Number, &link.SortOrder,
			&sr.ID, &sr.Title, &sr.Infobox, &sr.Visible, &sr.SortOrder); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan series link: %w", err)
		}
		link.SetLinked(&sr)
		graph.Series = append(graph.Series, link)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.collection_id,
			c.id, c.role_id, COALESCE(c.parent_id, 0), c.left_id, c.right_id, c.name, c.number,
			c.visible, c.visible_browsing_start, c.visible_frontdoor
		FROM document_collection l JOIN collections c ON c.id = l.collection_id
		WHERE l.document_id = $1 ORDER BY l.id`, id)
	if err != nil {
		return DocumentGraph{}, fmt.Errorf("load collections: %w", err)
	}
	for rows.Next() {
		var link CollectionLink
		var c Collection
		if err := rows.Scan(&link.ID, &link.DocumentID, &link.CollectionID,
			&c.ID, &c.RoleID, &c.ParentID, &c.LeftID, &c.RightID, &c.Name, &c.Number,
			&c.Visible, &c.VisibleBrowsingStart, &c.VisibleFrontdoor); err != nil {
			rows.Close()
			return DocumentGraph{}, fmt.Errorf("scan collection link: %w", err)
		}
		link.SetLinked(&c)
		graph.Collections = append(graph.Collections, link)
	}
	rows.Close()

	return graph, nil
}

// --- helpers ---

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) collectIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

func requireRow(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return nil
}
