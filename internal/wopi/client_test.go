package wopi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cs3org/wopibridge/internal/wopierr"
)

func newTestClient() *Client {
	return NewClient(false)
}

func TestGetFileInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(FileMeta{BaseFileName: "doc.md", UserCanWrite: true, UserFriendlyName: "Alice"})
	}))
	defer srv.Close()

	c := newTestClient()
	meta, status, err := c.GetFileInfo(context.Background(), srv.URL, "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if meta.BaseFileName != "doc.md" || !meta.UserCanWrite || meta.UserFriendlyName != "Alice" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestGetLockNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-WOPI-Override") != "GET_LOCK" {
			t.Errorf("expected GET_LOCK override, got %q", r.Header.Get("X-WOPI-Override"))
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.GetLock(context.Background(), srv.URL, "tok")
	var invalid *wopierr.InvalidLock
	if err == nil {
		t.Fatal("expected InvalidLock error")
	}
	if ok := asInvalidLock(err, &invalid); !ok {
		t.Fatalf("expected *wopierr.InvalidLock, got %T: %v", err, err)
	}
	if !invalid.NotFound() {
		t.Errorf("expected NotFound()=true for a 404 status")
	}
}

func TestGetLockPresent(t *testing.T) {
	want := &Lock{DocID: "d1", Filename: "a.md", Digest: "dirty", App: "md", ToClose: map[string]bool{"tok1": false}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(want)
		w.Header().Set("X-WOPI-Lock", string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient()
	got, err := c.GetLock(context.Background(), srv.URL, "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DocID != want.DocID || got.Digest != want.Digest {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPutFileHandlesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient()
	lock := &Lock{DocID: "d1", ToClose: map[string]bool{}}
	resp, err := c.PutFile(context.Background(), srv.URL, "tok", lock, []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, status, failed := HandlePutFile("PutFile", srv.URL, resp)
	if !failed {
		t.Fatal("expected HandlePutFile to report failure for a non-200 status")
	}
	if status != http.StatusConflict {
		t.Errorf("status = %d, want %d", status, http.StatusConflict)
	}
	if len(body) == 0 {
		t.Error("expected a non-empty error body")
	}
}

func TestRefreshLockOverridesDigest(t *testing.T) {
	var gotLock Lock
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-WOPI-Override") != "REFRESH_LOCK" {
			t.Errorf("expected REFRESH_LOCK override")
		}
		_ = json.Unmarshal([]byte(r.Header.Get("X-WOPI-Lock")), &gotLock)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient()
	original := &Lock{DocID: "d1", Digest: "dirty", ToClose: map[string]bool{"t1": false}}
	updated, err := c.RefreshLock(context.Background(), srv.URL, "tok", original, func(l *Lock) {
		l.Digest = "deadbeef"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Digest != "deadbeef" {
		t.Errorf("updated.Digest = %q, want %q", updated.Digest, "deadbeef")
	}
	if original.Digest != "dirty" {
		t.Errorf("RefreshLock must not mutate the caller's lock in place, got %q", original.Digest)
	}
	if gotLock.Digest != "deadbeef" {
		t.Errorf("wire payload Digest = %q, want %q", gotLock.Digest, "deadbeef")
	}
}

// asInvalidLock is a tiny errors.As wrapper kept local to avoid importing
// "errors" just for this one assertion across multiple tests.
func asInvalidLock(err error, target **wopierr.InvalidLock) bool {
	if e, ok := err.(*wopierr.InvalidLock); ok {
		*target = e
		return true
	}
	return false
}
