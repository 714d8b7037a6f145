package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"archivum/api/internal/doccache"
	"archivum/api/internal/store"
)

type fakeStoreWithPing struct {
	fakeStore
	pingFn func(context.Context) error
}

func (f *fakeStoreWithPing) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestServer(dataStore dataStore, tree treeStore, cache doccache.Cache) *HTTPServer {
	service := &Service{
		store:    dataStore,
		tree:     tree,
		cache:    cache,
		dispatch: &fakeDispatcher{},
		logger:   zerolog.Nop(),
	}
	return NewHTTPServer(service, "*", zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeTree{}, &fakeCache{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok := response["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	dataStore := &fakeStoreWithPing{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	server := newTestServer(dataStore, &fakeTree{}, &fakeCache{})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}
}

func TestDocumentXMLEndpoint(t *testing.T) {
	doc := testDoc(12)
	dataStore := &fakeStore{
		getDocumentFn: func(ctx context.Context, id int64) (store.Document, error) {
			if id != 12 {
				return store.Document{}, store.ErrNotFound
			}
			return doc, nil
		},
		documentGraphFn: func(ctx context.Context, id int64) (store.DocumentGraph, error) {
			return store.DocumentGraph{Document: doc}, nil
		},
	}
	server := newTestServer(dataStore, &fakeTree{}, &fakeCache{})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/12/xml", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("expected XML content type, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), `id="12"`) {
		t.Errorf("payload missing document id: %s", rr.Body.String())
	}
}

func TestDocumentXMLEndpointNotFound(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeTree{}, &fakeCache{})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/99/xml", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestDocumentXMLEndpointBadID(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeTree{}, &fakeCache{})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/abc/xml", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestTreeValidateEndpoint(t *testing.T) {
	tree := &fakeTree{
		validateFn: func(ctx context.Context, rootID int64) (bool, error) {
			return rootID == 1, nil
		},
	}
	server := newTestServer(&fakeStore{}, tree, &fakeCache{})

	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/tree/2/validate", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if valid := response["valid"]; valid != false {
		t.Errorf("expected valid=false for corrupt root, got %v", valid)
	}
}

func TestCachePurgeEndpoint(t *testing.T) {
	var purged int64
	cache := &fakeCache{
		removeAllFn: func(ctx context.Context, id int64) error {
			purged = id
			return nil
		},
	}
	server := newTestServer(&fakeStore{}, &fakeTree{}, cache)

	req := httptest.NewRequest(http.MethodDelete, "/api/maintenance/cache/42", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if purged != 42 {
		t.Fatalf("purged document %d, want 42", purged)
	}
}

func TestSetStateEndpoint(t *testing.T) {
	var gotState string
	dataStore := &fakeStore{
		updateDocumentStateFn: func(ctx context.Context, id int64, state string) error {
			gotState = state
			return nil
		},
	}
	server := newTestServer(dataStore, &fakeTree{}, &fakeCache{})

	body := strings.NewReader(`{"state":"published"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/documents/7/state", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotState != store.StatePublished {
		t.Fatalf("state = %q, want published", gotState)
	}
}

func TestSetStateEndpointRejectsUnknownState(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeTree{}, &fakeCache{})

	body := strings.NewReader(`{"state":"archived"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/documents/7/state", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeTree{}, &fakeCache{})

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
