package invalidation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"archivum/api/internal/store"
)

type recordingHandler struct {
	name  string
	calls *[]string
	err   error
	panik bool
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) AfterStore(context.Context, Mutation) error {
	*h.calls = append(*h.calls, h.name+":after_store")
	if h.panik {
		panic("boom")
	}
	return h.err
}

func (h *recordingHandler) BeforeDelete(context.Context, Mutation) error {
	*h.calls = append(*h.calls, h.name+":before_delete")
	return h.err
}

func (h *recordingHandler) AfterDelete(context.Context, store.Kind, int64) error {
	*h.calls = append(*h.calls, h.name+":after_delete")
	return h.err
}

func TestDispatchRunsInRegistrationOrder(t *testing.T) {
	var calls []string
	d := NewDispatcher(zerolog.Nop())
	d.Register(store.KindTitle, &recordingHandler{name: "first", calls: &calls})
	d.Register(store.KindTitle, &recordingHandler{name: "second", calls: &calls})

	d.AfterStore(context.Background(), Mutation{Entity: store.Title{ID: 1, DocumentID: 2}})

	if len(calls) != 2 || calls[0] != "first:after_store" || calls[1] != "second:after_store" {
		t.Fatalf("expected ordered execution, got %v", calls)
	}
}

func TestDispatchOnlyRunsMatchingKind(t *testing.T) {
	var calls []string
	d := NewDispatcher(zerolog.Nop())
	d.Register(store.KindPerson, &recordingHandler{name: "person", calls: &calls})

	d.AfterStore(context.Background(), Mutation{Entity: store.Title{ID: 1, DocumentID: 2}})

	if len(calls) != 0 {
		t.Fatalf("handler for another kind must not run, got %v", calls)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	var calls []string
	d := NewDispatcher(zerolog.Nop())
	d.Register(store.KindTitle, &recordingHandler{name: "failing", calls: &calls, err: errors.New("nope")})
	d.Register(store.KindTitle, &recordingHandler{name: "panicking", calls: &calls, panik: true})
	d.Register(store.KindTitle, &recordingHandler{name: "healthy", calls: &calls})

	// Must not panic, and every handler must still be invoked.
	d.AfterStore(context.Background(), Mutation{Entity: store.Title{ID: 1, DocumentID: 2}})

	if len(calls) != 3 {
		t.Fatalf("all handlers must run despite failures, got %v", calls)
	}
}

func TestDispatchDeleteHooks(t *testing.T) {
	var calls []string
	d := NewDispatcher(zerolog.Nop())
	d.RegisterAll(&recordingHandler{name: "h", calls: &calls}, store.KindNote, store.KindDocument)

	ctx := context.Background()
	d.BeforeDelete(ctx, Mutation{Entity: store.Note{ID: 1, DocumentID: 2}})
	d.AfterDelete(ctx, store.KindDocument, 2)

	if len(calls) != 2 || calls[0] != "h:before_delete" || calls[1] != "h:after_delete" {
		t.Fatalf("unexpected calls %v", calls)
	}
}
