// Package wopi is a thin typed wrapper over the WOPI HTTP verbs consumed
// by the bridge (spec §4.1, §6.3). It does not implement a full WOPI
// host — only the client-side calls the bridge needs to make against
// storage.
package wopi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cs3org/wopibridge/internal/wopierr"
)

// defaultTimeout bounds every outbound WOPI call, per spec §5 ("each
// outbound HTTP call must carry a finite timeout").
const defaultTimeout = 30 * time.Second

// Client issues WOPI requests against a storage-provided wopisrc.
type Client struct {
	HTTP *http.Client
}

// NewClient builds a Client honoring SkipSSLVerify from configuration.
func NewClient(skipSSLVerify bool) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: skipSSLVerify}, //nolint:gosec // operator opt-in via SKIP_SSL_VERIFY
	}
	return &Client{
		HTTP: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
	}
}

// FileMeta is the subset of WOPI GetFileInfo's response the bridge uses
// (spec §6.3).
type FileMeta struct {
	BaseFileName     string `json:"BaseFileName"`
	FileName         string `json:"FileName"`
	UserCanWrite     bool   `json:"UserCanWrite"`
	UserFriendlyName string `json:"UserFriendlyName"`
}

// Response is the raw result of a WOPI call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Request issues a WOPI verb against wopisrc, optionally appending
// "/contents" when contents is true (GetFile/PutFile bodies live at
// <wopisrc>/contents per spec §6.3).
func (c *Client) Request(ctx context.Context, wopisrc, acctok, method string, headers map[string]string, body []byte, contents bool) (*Response, error) {
	url := wopisrc
	if contents {
		url += "/contents"
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build WOPI request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acctok)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("WOPI request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read WOPI response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// GetFileInfo performs WOPI GetFileInfo (spec §6.3) and returns the
// parsed metadata.
func (c *Client) GetFileInfo(ctx context.Context, wopisrc, acctok string) (*FileMeta, int, error) {
	resp, err := c.Request(ctx, wopisrc, acctok, http.MethodGet, nil, nil, false)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var meta FileMeta
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode GetFileInfo response: %w", err)
	}
	return &meta, resp.StatusCode, nil
}

// GetFile performs WOPI GetFile (spec §6.3), returning the raw bytes.
func (c *Client) GetFile(ctx context.Context, wopisrc, acctok string) ([]byte, int, error) {
	resp, err := c.Request(ctx, wopisrc, acctok, http.MethodGet, nil, nil, true)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

// GetLock performs WOPI GetLock. It returns InvalidLock when storage
// reports no lock (404) or an unparsable lock.
func (c *Client) GetLock(ctx context.Context, wopisrc, acctok string) (*Lock, error) {
	resp, err := c.Request(ctx, wopisrc, acctok, http.MethodPost, map[string]string{
		"X-WOPI-Override": "GET_LOCK",
	}, nil, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &wopierr.InvalidLock{Reason: resp.StatusCode}
	}
	lockJSON := resp.Header.Get("X-WOPI-Lock")
	if lockJSON == "" {
		lockJSON = string(resp.Body)
	}
	var lock Lock
	if err := json.Unmarshal([]byte(lockJSON), &lock); err != nil {
		return nil, &wopierr.InvalidLock{Reason: resp.StatusCode}
	}
	return &lock, nil
}

// Lock performs WOPI Lock with the given lock payload.
func (c *Client) Lock(ctx context.Context, wopisrc, acctok string, lock *Lock) error {
	body, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	resp, err := c.Request(ctx, wopisrc, acctok, http.MethodPost, map[string]string{
		"X-WOPI-Override": "LOCK",
		"X-WOPI-Lock":     string(body),
	}, nil, false)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &wopierr.InvalidLock{Reason: resp.StatusCode}
	}
	return nil
}

// Unlock performs WOPI Unlock, carrying the current lock for validation.
func (c *Client) Unlock(ctx context.Context, wopisrc, acctok string, lock *Lock) error {
	body, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	resp, err := c.Request(ctx, wopisrc, acctok, http.MethodPost, map[string]string{
		"X-WOPI-Override": "UNLOCK",
		"X-WOPI-Lock":     string(body),
	}, nil, false)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &wopierr.InvalidLock{Reason: resp.StatusCode}
	}
	return nil
}

// RefreshLock performs WOPI RefreshLock, optionally overriding fields of
// the lock (e.g. digest, toclose) before sending it back.
func (c *Client) RefreshLock(ctx context.Context, wopisrc, acctok string, lock *Lock, overrides func(*Lock)) (*Lock, error) {
	updated := lock.Clone()
	if overrides != nil {
		overrides(updated)
	}
	body, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	resp, err := c.Request(ctx, wopisrc, acctok, http.MethodPost, map[string]string{
		"X-WOPI-Override": "REFRESH_LOCK",
		"X-WOPI-Lock":     string(body),
	}, nil, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &wopierr.InvalidLock{Reason: resp.StatusCode}
	}
	return updated, nil
}

// GenerateLock builds a fresh lock structure for a document (spec §4.1,
// §4.3.1 step 7).
func GenerateLock(docid string, filemd *FileMeta, digest, app, acctok string, isDirty bool) *Lock {
	d := digest
	if isDirty {
		d = DigestDirty
	}
	return &Lock{
		DocID:    docid,
		Filename: filemd.BaseFileName,
		Digest:   d,
		App:      app,
		ToClose:  map[string]bool{ShortToken(acctok): false},
	}
}

// Relock re-acquires a lock after an external unlock was detected (spec
// §4.1, used by the coordinator's savedirty phase). It builds a fresh
// lock holding only docid and the caller's close flag under its short
// token (Filename, Digest and App are left empty) and attempts to re-lock
// storage; a non-200 answer is reported as InvalidLock.
func (c *Client) Relock(ctx context.Context, wopisrc, acctok, docid string, isClose bool) (*Lock, error) {
	lock := &Lock{
		DocID:   docid,
		ToClose: map[string]bool{ShortToken(acctok): isClose},
	}
	if err := c.Lock(ctx, wopisrc, acctok, lock); err != nil {
		return nil, err
	}
	return lock, nil
}

// HandlePutFile inspects the response of a PutFile/PutRelativeFile call
// and returns a non-nil error-response body/status pair when it failed,
// or nil when the call succeeded (spec §4.1).
func HandlePutFile(op string, wopisrc string, resp *Response) ([]byte, int, bool) {
	if resp.StatusCode == http.StatusOK {
		return nil, 0, false
	}
	body, _ := Jsonify(fmt.Sprintf("%s failed against storage for %s: status %d", op, wopisrc, resp.StatusCode))
	return body, resp.StatusCode, true
}

// PutFile performs WOPI PutFile, carrying the current lock.
func (c *Client) PutFile(ctx context.Context, wopisrc, acctok string, lock *Lock, contents []byte) (*Response, error) {
	body, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	return c.Request(ctx, wopisrc, acctok, http.MethodPost, map[string]string{
		"X-WOPI-Lock": string(body),
	}, contents, true)
}

// SaveAs performs WOPI PutRelativeFile / saveAs to store contents under
// newname, e.g. when a document's bundle status changes on close (spec
// §4.3.2 step 6).
func (c *Client) SaveAs(ctx context.Context, wopisrc, acctok string, lock *Lock, newname string, contents []byte) (*Response, error) {
	body, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	return c.Request(ctx, wopisrc, acctok, http.MethodPost, map[string]string{
		"X-WOPI-Override":       "PUT_RELATIVE",
		"X-WOPI-Lock":           string(body),
		"X-WOPI-SuggestedTarget": newname,
	}, contents, true)
}

// Jsonify renders a user-facing message as the small JSON envelope the
// bridge's HTTP responses use throughout (spec §4.1).
func Jsonify(msg string) ([]byte, error) {
	return json.Marshal(map[string]string{"message": msg})
}
