// Package markdown implements the concrete app adapter (spec §4.3) for a
// CodiMD-shaped collaborative Markdown/slides editor: it loads documents
// from storage into the app, saves them back (including bundle/ZIP
// handling for attachments), and builds redirect URLs.
package markdown

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cs3org/wopibridge/internal/adapter"
	"github.com/cs3org/wopibridge/internal/config"
	"github.com/cs3org/wopibridge/internal/wopi"
	"github.com/cs3org/wopibridge/internal/wopierr"
)

// TagMarkdown and TagSlides are the short app tags this adapter owns
// (spec §3.2, §4.3.1 step 6).
const (
	TagMarkdown = "md"
	TagSlides   = "mds"
)

const apiKeyFile = "codimd_apikey"

// Adapter implements adapter.Adapter against a CodiMD-shaped app.
type Adapter struct {
	WOPI *wopi.Client

	appURL    string
	appExtURL string
	apiKey    string

	httpClient       *http.Client
	noRedirectClient *http.Client
}

// New returns an Adapter ready for Init.
func New(wopiClient *wopi.Client) *Adapter {
	return &Adapter{WOPI: wopiClient}
}

// Tag implements adapter.Adapter.
func (a *Adapter) Tag() string { return TagMarkdown }

// Init implements adapter.Adapter, reading CODIMD_URL/CODIMD_EXT_URL and
// the codimd_apikey secret file (spec §4.2, §6.2).
func (a *Adapter) Init(env adapter.Env, keypath string) error {
	a.appExtURL = env("CODIMD_EXT_URL")
	if a.appExtURL == "" {
		return &wopierr.ConfigError{What: "missing CODIMD_EXT_URL env var"}
	}
	a.appURL = env("CODIMD_URL")
	if a.appURL == "" {
		a.appURL = a.appExtURL
	}
	apiKey, err := config.ReadAPIKey(keypath, apiKeyFile)
	if err != nil {
		return &wopierr.ConfigError{What: "could not read " + apiKeyFile + ": " + err.Error()}
	}
	a.apiKey = apiKey

	skipVerify := false
	if v := env("SKIP_SSL_VERIFY"); v == "true" || v == "TRUE" || v == "yes" || v == "YES" {
		skipVerify = true
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: skipVerify}, //nolint:gosec // operator opt-in
	}
	a.httpClient = &http.Client{Timeout: 30 * time.Second, Transport: transport}
	a.noRedirectClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return nil
}

// GetRedirectURL implements adapter.Adapter (spec §4.3.3).
func (a *Adapter) GetRedirectURL(ctx context.Context, isReadWrite bool, wopisrc, acctok string, lock *wopi.Lock, displayName string) (string, error) {
	if isReadWrite {
		metadata := url.QueryEscape(wopisrc + "?t=" + acctok)
		return a.appExtURL + lock.DocID + "?metadata=" + metadata +
			"&apiKey=" + a.apiKey + "&displayName=" + displayName, nil
	}

	path := lock.DocID
	if lock.App != TagSlides {
		path += "/publish"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.appURL+path, nil)
	if err != nil {
		return "", &wopierr.AppFailure{Op: "GetRedirectURL", Err: err}
	}
	q := req.URL.Query()
	q.Set("apiKey", a.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := a.noRedirectClient.Do(req)
	if err != nil {
		return "", &wopierr.AppFailure{Op: "GetRedirectURL", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		loc := resp.Header.Get("Location")
		slug := lastPathSegment(loc)
		return a.appExtURL + "/s/" + slug, nil
	}
	return a.appExtURL + path + "?apiKey=" + a.apiKey, nil
}

func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return filepath.Base(strings.TrimSuffix(u.Path, "/"))
}
