package markdown

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cs3org/wopibridge/internal/logger"
	"github.com/cs3org/wopibridge/internal/wopi"
	"github.com/cs3org/wopibridge/internal/wopierr"
)

// uploadRef matches an attachment reference the app embeds in a document's
// body, e.g. "/uploads/upload_3f9c...a1.png" (spec's supplemented
// attachment-scanning behavior, grounded on the original bridge's upload_re).
var uploadRef = regexp.MustCompile(`/uploads/upload_[0-9a-fA-F]{32}\.\w+`)

// SaveToStorage implements adapter.Adapter (spec §4.3.2).
func (a *Adapter) SaveToStorage(ctx context.Context, wopisrc, acctok string, isClose bool, lock *wopi.Lock) ([]byte, int, error) {
	mddoc, err := a.downloadFromApp(ctx, lock.DocID)
	if err != nil {
		body, _ := wopi.Jsonify("failed to fetch document from app: " + err.Error())
		return body, http.StatusInternalServerError, nil
	}

	var digest string
	var haveDigest bool
	if isClose && lock.Digest != wopi.DigestDirty {
		sum := sha1Hex(mddoc)
		if sum == lock.Digest {
			// Steady state: the app's content hasn't changed since the
			// last save, nothing to push.
			return []byte("{}"), http.StatusAccepted, nil
		}
		digest = sum
		haveDigest = true
	}

	wasBundle := strings.EqualFold(filepath.Ext(lock.Filename), ".zmd")
	docFilename := strings.TrimSuffix(lock.Filename, filepath.Ext(lock.Filename)) + ".md"
	forceZip := wasBundle && !isClose

	bundle, attErrBody, attErrStatus, err := a.buildAttachmentBundle(ctx, mddoc, docFilename, forceZip)
	if err != nil {
		return nil, 0, err
	}
	hasBundle := bundle != nil

	// sameShape is true when the document's bundle-vs-plain status is
	// unchanged this cycle: still a bundle with attachments, or still
	// plain markdown with none.
	sameShape := wasBundle == hasBundle

	if sameShape || !isClose {
		body := mddoc
		if wasBundle {
			body = bundle
		}
		resp, err := a.WOPI.PutFile(ctx, wopisrc, acctok, lock, body)
		if err != nil {
			return nil, 0, &wopierr.AppFailure{Op: "PutFile", Err: err}
		}
		if errBody, status, failed := wopi.HandlePutFile("PutFile", wopisrc, resp); failed {
			return errBody, status, nil
		}
	} else {
		newName := docFilename
		body := mddoc
		if !wasBundle {
			newName = strings.TrimSuffix(docFilename, ".md") + ".zmd"
			body = bundle
		}
		resp, err := a.WOPI.SaveAs(ctx, wopisrc, acctok, lock, newName, body)
		if err != nil {
			return nil, 0, &wopierr.AppFailure{Op: "PutRelativeFile", Err: err}
		}
		if errBody, status, failed := wopi.HandlePutFile("PutRelativeFile", wopisrc, resp); failed {
			return errBody, status, nil
		}
		lock.Filename = newName
	}

	if isClose && lock.Digest == wopi.DigestDirty {
		digest = sha1Hex(mddoc)
		haveDigest = true
	}
	finalDigest := wopi.DigestDirty
	if haveDigest {
		finalDigest = digest
	}
	if _, err := a.WOPI.RefreshLock(ctx, wopisrc, acctok, lock, func(l *wopi.Lock) { l.Digest = finalDigest }); err != nil {
		return nil, 0, &wopierr.AppFailure{Op: "RefreshLock", Err: err}
	}
	lock.Digest = finalDigest

	if attErrBody != nil {
		return attErrBody, attErrStatus, nil
	}
	return []byte("{}"), http.StatusOK, nil
}

// buildAttachmentBundle scans mddoc for attachment references, fetches
// each from the app, and packs them with mddoc into an uncompressed ZIP.
// It returns a nil bundle (not an error) when there are no attachments to
// bundle and forceZip is false. A per-attachment fetch failure is
// logged and surfaced as a deferred error response, but does not abort the
// rest of the save.
func (a *Adapter) buildAttachmentBundle(ctx context.Context, mddoc []byte, docFilename string, forceZip bool) (bundle []byte, errBody []byte, errStatus int, err error) {
	matches := uniqueMatches(uploadRef.FindAll(mddoc, -1))
	if len(matches) == 0 && !forceZip {
		return nil, nil, 0, nil
	}

	type fetched struct {
		name string
		data []byte
		err  error
	}
	results := make([]fetched, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attachmentFetchConcurrency)
	for i, ref := range matches {
		i, ref := i, ref
		g.Go(func() error {
			data, ferr := a.fetchAttachment(gctx, ref)
			results[i] = fetched{name: filepath.Base(ref), data: data, err: ferr}
			return nil
		})
	}
	_ = g.Wait()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	added := 0
	for _, r := range results {
		if r.err != nil {
			logger.Warnf(ctx, "[save] attachment fetch failed for %s: %v", r.name, r.err)
			errBody, _ = wopi.Jsonify("one or more attachments could not be saved: " + r.name)
			errStatus = http.StatusInternalServerError
			continue
		}
		w, werr := zw.CreateHeader(&zip.FileHeader{Name: r.name, Method: zip.Store})
		if werr != nil {
			return nil, nil, 0, &wopierr.AppFailure{Op: "buildAttachmentBundle", Err: werr}
		}
		if _, werr := w.Write(r.data); werr != nil {
			return nil, nil, 0, &wopierr.AppFailure{Op: "buildAttachmentBundle", Err: werr}
		}
		added++
	}

	if added == 0 && !forceZip {
		return nil, errBody, errStatus, nil
	}

	docWriter, werr := zw.CreateHeader(&zip.FileHeader{Name: docFilename, Method: zip.Store})
	if werr != nil {
		return nil, nil, 0, &wopierr.AppFailure{Op: "buildAttachmentBundle", Err: werr}
	}
	if _, werr := docWriter.Write(mddoc); werr != nil {
		return nil, nil, 0, &wopierr.AppFailure{Op: "buildAttachmentBundle", Err: werr}
	}
	if werr := zw.Close(); werr != nil {
		return nil, nil, 0, &wopierr.AppFailure{Op: "buildAttachmentBundle", Err: werr}
	}
	return buf.Bytes(), errBody, errStatus, nil
}

func (a *Adapter) fetchAttachment(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.appURL+ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func uniqueMatches(matches [][]byte) []string {
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		s := string(m)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
