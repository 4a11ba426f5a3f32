// Package docid generates the deterministic, secret-keyed, URL-safe
// document id the bridge assigns to a wopisrc (spec §4.7, §8 invariant 6).
package docid

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // algorithm pinned by spec §4.7, not a security digest
	"encoding/base64"
	"strings"
)

// Generate returns HMAC-SHA1(secret, lastPathSegment(wopisrc)), URL-safe
// base64 encoded with the trailing padding character stripped. It depends
// only on the last path segment of wopisrc, not the whole URL.
func Generate(secret, wopisrc string) string {
	segment := lastPathSegment(wopisrc)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(segment))
	digest := mac.Sum(nil)
	encoded := base64.URLEncoding.EncodeToString(digest)
	return strings.TrimRight(encoded, "=")
}

func lastPathSegment(wopisrc string) string {
	idx := strings.LastIndex(wopisrc, "/")
	if idx < 0 {
		return wopisrc
	}
	return wopisrc[idx+1:]
}
