package render

import (
	"strings"
	"testing"
	"time"

	"archivum/api/internal/store"
)

func testGraph() store.DocumentGraph {
	person := store.Person{ID: 1, FirstName: "Ada", LastName: "Lovelace"}
	link := store.PersonLink{DocumentID: 10, PersonID: 1, Role: "author"}
	link.SetLinked(&person)

	return store.DocumentGraph{
		Document: store.Document{
			ID:                 10,
			ServerState:        store.StatePublished,
			ServerDateModified: store.NewTimestamp(time.Date(2024, 3, 17, 9, 30, 15, 0, time.UTC)),
		},
		Titles:  []store.Title{{DocumentID: 10, Type: "main", Value: "On Computable Numbers"}},
		Notes: []store.Note{
			{DocumentID: 10, Visibility: "public", Message: "peer reviewed"},
			{DocumentID: 10, Visibility: "private", Message: "internal remark"},
		},
		Persons: []store.PersonLink{link},
	}
}

func TestXMLContainsContent(t *testing.T) {
	data, err := XML(testGraph())
	if err != nil {
		t.Fatalf("XML failed: %v", err)
	}
	payload := string(data)

	for _, want := range []string{
		`id="10"`,
		"On Computable Numbers",
		"<lastName>Lovelace</lastName>",
		"peer reviewed",
		`unixEpoch="1710667815"`,
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}
}

func TestXMLOmitsPrivateNotes(t *testing.T) {
	data, err := XML(testGraph())
	if err != nil {
		t.Fatalf("XML failed: %v", err)
	}
	if strings.Contains(string(data), "internal remark") {
		t.Error("private note must not be rendered")
	}
}

func TestXMLStableForSameGraph(t *testing.T) {
	graph := testGraph()
	first, err := XML(graph)
	if err != nil {
		t.Fatalf("XML failed: %v", err)
	}
	second, err := XML(graph)
	if err != nil {
		t.Fatalf("XML failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("rendering the same graph twice must be byte-identical")
	}
}
