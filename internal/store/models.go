package store

import "time"

// Kind tags every entity the invalidation pipeline can observe.
type Kind string

const (
	KindDocument       Kind = "document"
	KindTitle          Kind = "title"
	KindNote           Kind = "note"
	KindFile           Kind = "file"
	KindPerson         Kind = "person"
	KindLicence        Kind = "licence"
	KindSeries         Kind = "series"
	KindCollection     Kind = "collection"
	KindCollectionRole Kind = "collection_role"

	KindPersonLink     Kind = "document_person"
	KindLicenceLink    Kind = "document_licence"
	KindSeriesLink     Kind = "document_series"
	KindCollectionLink Kind = "document_collection"
)

// Server states a document moves through during publishing.
const (
	StateUnpublished = "unpublished"
	StateInProgress  = "inprogress"
	StatePublished   = "published"
	StateRestricted  = "restricted"
	StateDeleted     = "deleted"
	StateTemporary   = "temporary"
	StateAudited     = "audited"
)

// Entity is anything that can trigger cache invalidation when stored
// or deleted.
type Entity interface {
	Kind() Kind
	EntityID() int64
}

// Dependent is an entity owned by exactly one document. It is created and
// deleted only in the context of its parent; storing one without a parent
// id is a configuration error.
type Dependent interface {
	Entity
	ParentDocumentID() int64
	// ParentColumn names the foreign key field pointing at the owner.
	ParentColumn() string
}

type Document struct {
	ID                 int64
	ServerState        string
	ServerDateModified Timestamp
	ServerDateCreated  time.Time
	Type               string
	Language           string
	PublishedYear      int
}

func (d Document) Kind() Kind      { return KindDocument }
func (d Document) EntityID() int64 { return d.ID }

// Title is a dependent model: a document's main, sub or parent title.
type Title struct {
	ID         int64
	DocumentID int64
	Type       string // main, sub, parent, additional
	Language   string
	Value      string
}

func (t Title) Kind() Kind              { return KindTitle }
func (t Title) EntityID() int64         { return t.ID }
func (t Title) ParentDocumentID() int64 { return t.DocumentID }
func (t Title) ParentColumn() string    { return "document_id" }

// Note is a dependent model carrying an editorial remark.
type Note struct {
	ID         int64
	DocumentID int64
	Visibility string // private, public
	Message    string
}

func (n Note) Kind() Kind              { return KindNote }
func (n Note) EntityID() int64         { return n.ID }
func (n Note) ParentDocumentID() int64 { return n.DocumentID }
func (n Note) ParentColumn() string    { return "document_id" }

// DocumentFile is a dependent model describing one stored file payload.
// The bytes themselves live in object storage under StoragePath.
type DocumentFile struct {
	ID          int64
	DocumentID  int64
	PathName    string
	Label       string
	MimeType    string
	FileSize    int64
	StoragePath string
	VisibleIn   string // frontdoor, oai, both, none
}

func (f DocumentFile) Kind() Kind              { return KindFile }
func (f DocumentFile) EntityID() int64         { return f.ID }
func (f DocumentFile) ParentDocumentID() int64 { return f.DocumentID }
func (f DocumentFile) ParentColumn() string    { return "document_id" }

// Person is a shared entity; many documents may reference the same person.
type Person struct {
	ID            int64
	AcademicTitle string
	FirstName     string
	LastName      string
	Email         string
}

func (p Person) Kind() Kind      { return KindPerson }
func (p Person) EntityID() int64 { return p.ID }

// Licence is a shared entity.
type Licence struct {
	ID       int64
	NameLong string
	LinkText string
	LinkURL  string
	Active   bool
}

func (l Licence) Kind() Kind      { return KindLicence }
func (l Licence) EntityID() int64 { return l.ID }

// Series is a shared entity grouping documents into a numbered sequence.
type Series struct {
	ID        int64
	Title     string
	Infobox   string
	Visible   bool
	SortOrder int
}

func (s Series) Kind() Kind      { return KindSeries }
func (s Series) EntityID() int64 { return s.ID }

// Collection is a node in a role's nested-set tree. LeftID/RightID encode
// the tree position; descendants are exactly the nodes whose bounds fall
// inside this node's bounds.
type Collection struct {
	ID       int64
	RoleID   int64
	ParentID int64 // 0 for a role's root node
	LeftID   int64
	RightID  int64
	Name     string
	Number   string

	Visible              bool
	VisibleBrowsingStart bool
	VisibleFrontdoor     bool
}

func (c Collection) Kind() Kind      { return KindCollection }
func (c Collection) EntityID() int64 { return c.ID }

// CollectionRole groups collections and carries role-wide display flags
// that apply to every collection under the role.
type CollectionRole struct {
	ID       int64
	Name     string
	OaiName  string
	Position int

	Visible              bool
	VisibleBrowsingStart bool
	VisibleFrontdoor     bool
	DisplayFrontdoor     bool
	DisplayBrowsing      bool
}

func (r CollectionRole) Kind() Kind      { return KindCollectionRole }
func (r CollectionRole) EntityID() int64 { return r.ID }

// PersonLink joins a document to a person in a given role (author,
// advisor, referee...). The join row is owned by the document; the
// person is not.
type PersonLink struct {
	ID         int64
	DocumentID int64
	PersonID   int64
	Role       string
	SortOrder  int

	person *Person
}

func (l PersonLink) Kind() Kind              { return KindPersonLink }
func (l PersonLink) EntityID() int64         { return l.ID }
func (l PersonLink) ParentDocumentID() int64 { return l.DocumentID }
func (l PersonLink) ParentColumn() string    { return "document_id" }

// Linked returns the referenced person, or nil if it was not loaded.
// Callers needing person fields go through this accessor; the join row
// never forwards them.
func (l PersonLink) Linked() *Person { return l.person }

// SetLinked attaches the loaded person to the join row.
func (l *PersonLink) SetLinked(p *Person) { l.person = p }

// LicenceLink joins a document to a licence.
type LicenceLink struct {
	ID         int64
	DocumentID int64
	LicenceID  int64

	licence *Licence
}

func (l LicenceLink) Kind() Kind              { return KindLicenceLink }
func (l LicenceLink) EntityID() int64         { return l.ID }
func (l LicenceLink) ParentDocumentID() int64 { return l.DocumentID }
func (l LicenceLink) ParentColumn() string    { return "document_id" }
func (l LicenceLink) Linked() *Licence        { return l.licence }
func (l *LicenceLink) SetLinked(v *Licence)   { l.licence = v }

// SeriesLink joins a document to a series with its number in the sequence.
type SeriesLink struct {
	ID         int64
	DocumentID int64
	SeriesID   int64
	Number     string
	SortOrder  int

	series *Series
}

func (l SeriesLink) Kind() Kind              { return KindSeriesLink }
func (l SeriesLink) EntityID() int64         { return l.ID }
func (l SeriesLink) ParentDocumentID() int64 { return l.DocumentID }
func (l SeriesLink) ParentColumn() string    { return "document_id" }
func (l SeriesLink) Linked() *Series         { return l.series }
func (l *SeriesLink) SetLinked(v *Series)    { l.series = v }

// CollectionLink joins a document to a collection node.
type CollectionLink struct {
	ID           int64
	DocumentID   int64
	CollectionID int64

	collection *Collection
}

func (l CollectionLink) Kind() Kind               { return KindCollectionLink }
func (l CollectionLink) EntityID() int64          { return l.ID }
func (l CollectionLink) ParentDocumentID() int64  { return l.DocumentID }
func (l CollectionLink) ParentColumn() string     { return "document_id" }
func (l CollectionLink) Linked() *Collection      { return l.collection }
func (l *CollectionLink) SetLinked(v *Collection) { l.collection = v }

// DocumentGraph is a document with every owned and linked sub-model
// loaded, as consumed by the renderer and the search indexer.
type DocumentGraph struct {
	Document    Document
	Titles      []Title
	Notes       []Note
	Files       []DocumentFile
	Persons     []PersonLink
	Licences    []LicenceLink
	Series      []SeriesLink
	Collections []CollectionLink
}
