// Package adapter defines the narrow contract (spec §4.2) through which
// a plugin implementation loads a document from storage into the
// collaborative app and saves it back.
package adapter

import (
	"context"

	"github.com/cs3org/wopibridge/internal/wopi"
)

// Adapter is implemented by every app-specific plugin (e.g. the markdown
// adapter). Implementations must be deterministic w.r.t. docid: given the
// same (wopisrc, docid) pair, repeated LoadFromStorage calls converge on
// the same app-side document.
type Adapter interface {
	// Init initializes the adapter from the process environment and a
	// per-adapter secret directory. It returns a *wopierr.ConfigError
	// when mandatory settings are missing.
	Init(env Env, keypath string) error

	// LoadFromStorage fetches the file via WOPI, pushes it into the app
	// under docid (or lets the app assign one when docid is empty, i.e.
	// read-only mode), and returns a freshly built WOPI lock.
	LoadFromStorage(ctx context.Context, filemd *wopi.FileMeta, wopisrc, acctok, docid string) (*wopi.Lock, error)

	// SaveToStorage fetches the document back from the app, PUTs it to
	// storage, refreshes the lock's digest, and returns a user-facing
	// result.
	SaveToStorage(ctx context.Context, wopisrc, acctok string, isClose bool, lock *wopi.Lock) (body []byte, status int, err error)

	// GetRedirectURL computes the browser-facing URL the user is
	// redirected to after /open.
	GetRedirectURL(ctx context.Context, isReadWrite bool, wopisrc, acctok string, lock *wopi.Lock, displayName string) (string, error)

	// Tag returns the short app tag this adapter owns (e.g. "md", "mds").
	Tag() string
}

// Env is the minimal environment-lookup surface an adapter's Init needs,
// satisfied by os.Getenv or a fake in tests.
type Env func(key string) string
