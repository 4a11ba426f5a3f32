package markdown

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // content digest, not a security boundary (spec §4.3.2)
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/cs3org/wopibridge/internal/wopierr"
)

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// headUpload issues a HEAD against the app's /uploads/<name> path, used
// to detect attachment name collisions on unbundle.
func (a *Adapter) headUpload(ctx context.Context, name string) (status int, contentLength int64, location string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.appURL+"/uploads/"+name, nil)
	if err != nil {
		return 0, 0, "", err
	}
	resp, err := a.noRedirectClient.Do(req)
	if err != nil {
		return 0, 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, resp.ContentLength, resp.Header.Get("Location"), nil
}

// uploadAttachment pushes a single attachment to the app as a multipart
// form upload (spec §6.4: "POST /uploadimage?generateFilename=false,
// multipart image=<file>").
func (a *Adapter) uploadAttachment(ctx context.Context, name string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.appURL+"/uploadimage?generateFilename=false", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload of %s rejected with status %d", name, resp.StatusCode)
	}
	return nil
}

// createNote creates a brand-new app document for content and returns the
// docid the app assigned (spec §4.3.1, read-only open with no prior docid).
func (a *Adapter) createNote(ctx context.Context, content []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.appURL+"/new?mode=locked", bytes.NewReader(content))
	if err != nil {
		return "", &wopierr.AppFailure{Op: "createNote", Err: err}
	}
	req.Header.Set("Content-Type", "text/markdown")
	resp, err := a.noRedirectClient.Do(req)
	if err != nil {
		return "", &wopierr.AppFailure{Op: "createNote", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", &wopierr.AppFailure{Op: "createNote", Err: fmt.Errorf("app returned status %d", resp.StatusCode)}
	}
	return lastPathSegment(resp.Header.Get("Location")), nil
}

// reserveAndPush reserves docid in the app (or follows its alias) then
// overwrites its content (spec §4.3.1, read-write open with a known docid).
func (a *Adapter) reserveAndPush(ctx context.Context, docid string, content []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.appURL+"/"+docid, nil)
	if err != nil {
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: err}
	}
	q := req.URL.Query()
	q.Set("apiKey", a.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := a.noRedirectClient.Do(req)
	if err != nil {
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: err}
	}
	resp.Body.Close()

	finalDocID := docid
	switch resp.StatusCode {
	case http.StatusOK:
		// docid already reserved as-is.
	case http.StatusFound:
		finalDocID = lastPathSegment(resp.Header.Get("Location"))
	default:
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: fmt.Errorf("app returned status %d", resp.StatusCode)}
	}

	payload, err := json.Marshal(map[string]string{"content": string(content)})
	if err != nil {
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: err}
	}
	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, a.appURL+"/api/notes/"+finalDocID+"?apiKey="+a.apiKey, bytes.NewReader(payload))
	if err != nil {
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: err}
	}
	putReq.Header.Set("Content-Type", "application/json")
	putResp, err := a.httpClient.Do(putReq)
	if err != nil {
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: err}
	}
	defer putResp.Body.Close()

	switch putResp.StatusCode {
	case http.StatusOK:
		return finalDocID, nil
	case http.StatusForbidden:
		// The app refuses overwrites of unchanged content; the existing
		// note body already matches what we tried to push.
		return finalDocID, nil
	default:
		body, _ := io.ReadAll(putResp.Body)
		return "", &wopierr.AppFailure{Op: "reserveNote", Err: fmt.Errorf("app rejected content push with status %d: %s", putResp.StatusCode, body)}
	}
}

// downloadFromApp fetches the current document body from the app.
func (a *Adapter) downloadFromApp(ctx context.Context, docid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.appURL+"/"+docid+"/download", nil)
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
