// Package search feeds the external search index. Queries against the
// index are served elsewhere; this side only keeps it in step with the
// document store, driven by the invalidation pipeline's job queue.
package search

import (
	"strings"

	"archivum/api/internal/store"
)

// DocumentRecord is the data pushed into the index for a document.
type DocumentRecord struct {
	ID          int64    `json:"id"`
	ServerState string   `json:"serverState"`
	Type        string   `json:"type"`
	Language    string   `json:"language"`
	Year        int      `json:"year"`
	Titles      []string `json:"titles"`
	Authors     []string `json:"authors"`
	Series      []string `json:"series"`
	Collections []string `json:"collections"`
}

// Indexer pushes documents into a search index.
type Indexer interface {
	IndexDocument(record DocumentRecord) error
	DeleteDocument(id int64) error
	Healthy() bool
}

// RecordFromGraph flattens a loaded document graph into its index record.
func RecordFromGraph(graph store.DocumentGraph) DocumentRecord {
	record := DocumentRecord{
		ID:          graph.Document.ID,
		ServerState: graph.Document.ServerState,
		Type:        graph.Document.Type,
		Language:    graph.Document.Language,
		Year:        graph.Document.PublishedYear,
	}
	for _, title := range graph.Titles {
		record.Titles = append(record.Titles, title.Value)
	}
	for _, link := range graph.Persons {
		person := link.Linked()
		if person == nil || link.Role != "author" {
			continue
		}
		name := strings.TrimSpace(person.FirstName + " " + person.LastName)
		record.Authors = append(record.Authors, name)
	}
	for _, link := range graph.Series {
		if s := link.Linked(); s != nil {
			record.Series = append(record.Series, s.Title)
		}
	}
	for _, link := range graph.Collections {
		if c := link.Linked(); c != nil {
			record.Collections = append(record.Collections, c.Name)
		}
	}
	return record
}
