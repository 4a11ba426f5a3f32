package markdown

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/cs3org/wopibridge/internal/wopi"
)

func newTestAdapter(t *testing.T, appURL string) *Adapter {
	t.Helper()
	a := New(wopi.NewClient(false))
	env := func(key string) string {
		switch key {
		case "CODIMD_URL", "CODIMD_EXT_URL":
			return appURL
		default:
			return ""
		}
	}
	keydir := t.TempDir()
	writeFile(t, keydir+"/codimd_apikey", "test-api-key")
	if err := a.Init(env, keydir); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return a
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoadFromStorage_PlainDocumentNewNote(t *testing.T) {
	appMux := http.NewServeMux()
	appMux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mode") != "locked" {
			t.Errorf("expected mode=locked, got %q", r.URL.Query())
		}
		w.Header().Set("Location", "/freshdoc123")
		w.WriteHeader(http.StatusFound)
	})
	appSrv := httptest.NewServer(appMux)
	defer appSrv.Close()

	a := newTestAdapter(t, appSrv.URL)

	wopiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/contents") {
			t.Errorf("expected GetFile at /contents, got %s", r.URL.Path)
		}
		w.Write([]byte("# Hello\n\nplain document"))
	}))
	defer wopiSrv.Close()

	filemd := &wopi.FileMeta{BaseFileName: "notes.md"}
	lock, err := a.LoadFromStorage(context.Background(), filemd, wopiSrv.URL, "tok", "")
	if err != nil {
		t.Fatalf("LoadFromStorage failed: %v", err)
	}
	if lock.DocID != "freshdoc123" {
		t.Errorf("DocID = %q, want %q", lock.DocID, "freshdoc123")
	}
	if lock.App != TagMarkdown {
		t.Errorf("App = %q, want %q", lock.App, TagMarkdown)
	}
}

func TestLoadFromStorage_KnownDocIDReservesAndPushes(t *testing.T) {
	var pushedContent string
	appMux := http.NewServeMux()
	appMux.HandleFunc("/mydoc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	appMux.HandleFunc("/api/notes/mydoc", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		pushedContent = string(body)
		w.WriteHeader(http.StatusOK)
	})
	appSrv := httptest.NewServer(appMux)
	defer appSrv.Close()

	a := newTestAdapter(t, appSrv.URL)

	wopiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("---\ntitle: Deck\n---\nslide one"))
	}))
	defer wopiSrv.Close()

	filemd := &wopi.FileMeta{BaseFileName: "deck.md"}
	lock, err := a.LoadFromStorage(context.Background(), filemd, wopiSrv.URL, "tok", "mydoc")
	if err != nil {
		t.Fatalf("LoadFromStorage failed: %v", err)
	}
	if lock.DocID != "mydoc" {
		t.Errorf("DocID = %q, want %q", lock.DocID, "mydoc")
	}
	if lock.App != TagSlides {
		t.Errorf("App = %q, want %q (slide front matter)", lock.App, TagSlides)
	}
	if !strings.Contains(pushedContent, "slide one") {
		t.Errorf("expected pushed content to include the document body, got %q", pushedContent)
	}
}

func TestSaveToStorage_UnchangedOnCloseShortCircuits(t *testing.T) {
	appMux := http.NewServeMux()
	appMux.HandleFunc("/mydoc/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unchanged content"))
	})
	appSrv := httptest.NewServer(appMux)
	defer appSrv.Close()

	a := newTestAdapter(t, appSrv.URL)

	putFileCalled := false
	wopiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		putFileCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer wopiSrv.Close()

	lock := &wopi.Lock{DocID: "mydoc", Filename: "notes.md", Digest: sha1Hex([]byte("unchanged content")), App: TagMarkdown, ToClose: map[string]bool{}}
	body, status, err := a.SaveToStorage(context.Background(), wopiSrv.URL, "tok", true, lock)
	if err != nil {
		t.Fatalf("SaveToStorage failed: %v", err)
	}
	if status != http.StatusAccepted {
		t.Errorf("status = %d, want 202 for an unchanged document on close", status)
	}
	if putFileCalled {
		t.Error("SaveToStorage should short-circuit before calling PutFile when content is unchanged")
	}
	if string(body) != "{}" {
		t.Errorf("body = %q, want {}", body)
	}
}

func TestSaveToStorage_PushesChangedContent(t *testing.T) {
	appMux := http.NewServeMux()
	appMux.HandleFunc("/mydoc/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new content"))
	})
	appSrv := httptest.NewServer(appMux)
	defer appSrv.Close()

	a := newTestAdapter(t, appSrv.URL)

	var gotBody []byte
	wopiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/contents") {
			gotBody, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer wopiSrv.Close()

	lock := &wopi.Lock{DocID: "mydoc", Filename: "notes.md", Digest: "dirty", App: TagMarkdown, ToClose: map[string]bool{}}
	_, status, err := a.SaveToStorage(context.Background(), wopiSrv.URL, "tok", false, lock)
	if err != nil {
		t.Fatalf("SaveToStorage failed: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if string(gotBody) != "new content" {
		t.Errorf("PutFile body = %q, want %q", gotBody, "new content")
	}
}

func TestZipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	docW, _ := zw.CreateHeader(&zip.FileHeader{Name: "doc.md", Method: zip.Store})
	docW.Write([]byte("# bundle\n\n![img](/uploads/upload_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.png)"))
	attW, _ := zw.CreateHeader(&zip.FileHeader{Name: "upload_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.png", Method: zip.Store})
	attW.Write([]byte("fake-png-bytes"))
	zw.Close()

	appMux := http.NewServeMux()
	appMux.HandleFunc("/uploads/upload_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.png", func(w http.ResponseWriter, r *http.Request) {
		// Simulate "already present with identical content" so no rename/upload happens.
		w.Header().Set("Content-Length", "14")
		w.WriteHeader(http.StatusOK)
	})
	appMux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/unbundled1")
		w.WriteHeader(http.StatusFound)
	})
	appSrv := httptest.NewServer(appMux)
	defer appSrv.Close()

	a := newTestAdapter(t, appSrv.URL)

	wopiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer wopiSrv.Close()

	filemd := &wopi.FileMeta{BaseFileName: "bundle.zmd"}
	lock, err := a.LoadFromStorage(context.Background(), filemd, wopiSrv.URL, "tok", "")
	if err != nil {
		t.Fatalf("LoadFromStorage failed: %v", err)
	}
	if lock.DocID != "unbundled1" {
		t.Errorf("DocID = %q, want %q", lock.DocID, "unbundled1")
	}
}
