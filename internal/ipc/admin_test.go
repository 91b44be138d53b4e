package ipc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-while/go-overchan-nntpd/internal/store"
)

func newTestAdminStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "articles"), filepath.Join(dir, "index.sq3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAdminStatusReportsInstance(t *testing.T) {
	st := newTestAdminStore(t)
	srv := NewAdminServer(st, "test.instance.tld")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["instance"] != "test.instance.tld" {
		t.Errorf("expected instance in response, got %+v", body)
	}
}

func TestAdminNewsgroupsReturnsJSONArray(t *testing.T) {
	st := newTestAdminStore(t)
	srv := NewAdminServer(st, "test.instance.tld")

	req := httptest.NewRequest(http.MethodGet, "/newsgroups", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var groups []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatal(err)
	}
	if groups == nil {
		t.Error("expected a (possibly empty) JSON array, got null")
	}
}
