// Package render produces the cached XML form of a document. The exact
// shape is versioned by strategy; cache entries from one strategy version
// never satisfy a request for another.
package render

import (
	"encoding/xml"
	"fmt"

	"archivum/api/internal/store"
)

// StrategyVersion identifies the rendering algorithm below. Bump it when
// the output shape changes; old cache entries then simply miss.
const StrategyVersion = 1

type xmlDocument struct {
	XMLName       xml.Name       `xml:"document"`
	ID            int64          `xml:"id,attr"`
	ServerState   string         `xml:"serverState,attr"`
	Type          string         `xml:"type,attr,omitempty"`
	Language      string         `xml:"language,attr,omitempty"`
	PublishedYear int            `xml:"publishedYear,attr,omitempty"`
	Modified      xmlTimestamp   `xml:"serverDateModified"`
	Titles        []xmlTitle     `xml:"titles>title"`
	Notes         []xmlNote      `xml:"notes>note,omitempty"`
	Files         []xmlFile      `xml:"files>file,omitempty"`
	Persons       []xmlPerson    `xml:"persons>person,omitempty"`
	Licences      []xmlLicence   `xml:"licences>licence,omitempty"`
	Series        []xmlSeries    `xml:"series>item,omitempty"`
	Collections   []xmlColl      `xml:"collections>collection,omitempty"`
}

// xmlTimestamp mirrors the broken-out timestamp record: consumers read
// the sub-fields individually, so all of them are serialized.
type xmlTimestamp struct {
	UnixEpoch      int64 `xml:"unixEpoch,attr"`
	Year           int   `xml:"year,attr"`
	Month          int   `xml:"month,attr"`
	Day            int   `xml:"day,attr"`
	Hour           int   `xml:"hour,attr"`
	Minute         int   `xml:"minute,attr"`
	Second         int   `xml:"second,attr"`
	TimeZoneOffset int   `xml:"timeZoneOffset,attr"`
}

type xmlTitle struct {
	Type     string `xml:"type,attr"`
	Language string `xml:"language,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type xmlNote struct {
	Visibility string `xml:"visibility,attr"`
	Message    string `xml:",chardata"`
}

type xmlFile struct {
	PathName string `xml:"pathName,attr"`
	Label    string `xml:"label,attr,omitempty"`
	MimeType string `xml:"mimeType,attr,omitempty"`
	Size     int64  `xml:"size,attr"`
}

type xmlPerson struct {
	Role      string `xml:"role,attr"`
	FirstName string `xml:"firstName"`
	LastName  string `xml:"lastName"`
}

type xmlLicence struct {
	NameLong string `xml:"nameLong"`
	LinkURL  string `xml:"linkUrl,omitempty"`
}

type xmlSeries struct {
	Title  string `xml:"title"`
	Number string `xml:"number,omitempty"`
}

type xmlColl struct {
	RoleID int64  `xml:"roleId,attr"`
	Name   string `xml:"name"`
	Number string `xml:"number,omitempty"`
}

// XML renders the document graph for caching. Display-policy flags
// (collection and role visibility, series ordering) are deliberately
// absent: flipping them must not change this payload.
func XML(graph store.DocumentGraph) ([]byte, error) {
	ts := graph.Document.ServerDateModified
	out := xmlDocument{
		ID:            graph.Document.ID,
		ServerState:   graph.Document.ServerState,
		Type:          graph.Document.Type,
		Language:      graph.Document.Language,
		PublishedYear: graph.Document.PublishedYear,
		Modified: xmlTimestamp{
			UnixEpoch:      ts.UnixEpoch,
			Year:           ts.Year,
			Month:          ts.Month,
			Day:            ts.Day,
			Hour:           ts.Hour,
			Minute:         ts.Minute,
			Second:         ts.Second,
			TimeZoneOffset: ts.TimeZoneOffset,
		},
	}

	for _, title := range graph.Titles {
		out.Titles = append(out.Titles, xmlTitle{Type: title.Type, Language: title.Language, Value: title.Value})
	}
	for _, note := range graph.Notes {
		if note.Visibility != "public" {
			continue
		}
		out.Notes = append(out.Notes, xmlNote{Visibility: note.Visibility, Message: note.Message})
	}
	for _, file := range graph.Files {
		out.Files = append(out.Files, xmlFile{
			PathName: file.PathName, Label: file.Label, MimeType: file.MimeType, Size: file.FileSize,
		})
	}
	for _, link := range graph.Persons {
		person := link.Linked()
		if person == nil {
			continue
		}
		out.Persons = append(out.Persons, xmlPerson{
			Role: link.Role, FirstName: person.FirstName, LastName: person.LastName,
		})
	}
	for _, link := range graph.Licences {
		licence := link.Linked()
		if licence == nil {
			continue
		}
		out.Licences = append(out.Licences, xmlLicence{NameLong: licence.NameLong, LinkURL: licence.LinkURL})
	}
	for _, link := range graph.Series {
		series := link.Linked()
		if series == nil {
			continue
		}
		out.Series = append(out.Series, xmlSeries{Title: series.Title, Number: link.Number})
	}
	for _, link := range graph.Collections {
		collection := link.Linked()
		if collection == nil {
			continue
		}
		out.Collections = append(out.Collections, xmlColl{
			RoleID: collection.RoleID, Name: collection.Name, Number: collection.Number,
		})
	}

	data, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render document %d: %w", graph.Document.ID, err)
	}
	return append([]byte(xml.Header), data...), nil
}
