package markdown

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cs3org/wopibridge/internal/logger"
	"github.com/cs3org/wopibridge/internal/wopi"
	"github.com/cs3org/wopibridge/internal/wopierr"
)

// attachmentFetchConcurrency bounds how many attachment HEAD/upload calls
// run against the app at once, so a bundle with many attachments doesn't
// open hundreds of concurrent connections.
const attachmentFetchConcurrency = 8

// LoadFromStorage implements adapter.Adapter (spec §4.3.1).
func (a *Adapter) LoadFromStorage(ctx context.Context, filemd *wopi.FileMeta, wopisrc, acctok, docid string) (*wopi.Lock, error) {
	data, status, err := a.WOPI.GetFile(ctx, wopisrc, acctok)
	if err != nil {
		return nil, &wopierr.AppFailure{Op: "GetFile", Err: err}
	}
	if status != http.StatusOK {
		return nil, &wopierr.AppFailure{Op: "GetFile", Err: fmt.Errorf("storage returned status %d", status)}
	}

	wasBundle := strings.EqualFold(filepath.Ext(filemd.BaseFileName), ".zmd")
	mddoc := data
	if wasBundle {
		unbundled, err := a.unzipAttachments(ctx, data)
		if err != nil {
			return nil, err
		}
		mddoc = unbundled
	}

	digest := sha1Hex(mddoc)

	var finalDocID string
	if docid == "" {
		finalDocID, err = a.createNote(ctx, mddoc)
	} else {
		finalDocID, err = a.reserveAndPush(ctx, docid, mddoc)
	}
	if err != nil {
		return nil, err
	}

	app := TagMarkdown
	if isSlides(mddoc) {
		app = TagSlides
	}

	return wopi.GenerateLock(finalDocID, filemd, digest, app, acctok, false), nil
}

type attachmentDecision struct {
	originalName string
	finalName    string
	needUpload   bool
	data         []byte
}

// unzipAttachments unpacks a bundle's markdown document, reconciling each
// attachment against what the app already has: identical attachments are
// left alone, name collisions with different content are renamed (spec's
// supplemented attachment-collision behavior), and everything else is
// (re-)uploaded. References inside the markdown are rewritten to match any
// rename before the document is returned.
func (a *Adapter) unzipAttachments(ctx context.Context, bundle []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return nil, &wopierr.AppFailure{Op: "unzipAttachments", Err: err}
	}

	var mddoc []byte
	type attEntry struct {
		name string
		data []byte
	}
	var attachments []attEntry

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, &wopierr.AppFailure{Op: "unzipAttachments", Err: err}
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &wopierr.AppFailure{Op: "unzipAttachments", Err: err}
		}
		if strings.EqualFold(filepath.Ext(f.Name), ".md") {
			mddoc = content
			continue
		}
		attachments = append(attachments, attEntry{name: f.Name, data: content})
	}
	if mddoc == nil {
		return nil, &wopierr.AppFailure{Op: "unzipAttachments", Err: fmt.Errorf("bundle has no markdown document")}
	}

	decisions := make([]attachmentDecision, len(attachments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attachmentFetchConcurrency)
	for i, att := range attachments {
		i, att := i, att
		g.Go(func() error {
			decisions[i] = a.decideAttachment(gctx, att.name, att.data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &wopierr.AppFailure{Op: "unzipAttachments", Err: err}
	}

	for _, d := range decisions {
		if d.finalName != d.originalName {
			mddoc = bytes.ReplaceAll(mddoc,
				[]byte("/uploads/"+d.originalName),
				[]byte("/uploads/"+d.finalName))
		}
	}

	g2, gctx2 := errgroup.WithContext(ctx)
	g2.SetLimit(attachmentFetchConcurrency)
	for _, d := range decisions {
		if !d.needUpload {
			continue
		}
		d := d
		g2.Go(func() error {
			if err := a.uploadAttachment(gctx2, d.finalName, d.data); err != nil {
				// A single bad attachment upload must not fail the whole
				// document load.
				logger.Warnf(ctx, "[unzip] attachment upload failed for %s: %v", d.finalName, err)
			}
			return nil
		})
	}
	_ = g2.Wait()

	return mddoc, nil
}

// decideAttachment probes whether name already exists in the app with the
// same content, needs renaming due to a collision, or must be uploaded.
func (a *Adapter) decideAttachment(ctx context.Context, name string, data []byte) attachmentDecision {
	status, contentLength, _, err := a.headUpload(ctx, name)
	if err != nil {
		return attachmentDecision{originalName: name, finalName: name, needUpload: true, data: data}
	}
	switch {
	case status == http.StatusOK && contentLength == int64(len(data)):
		return attachmentDecision{originalName: name, finalName: name, needUpload: false}
	case status == http.StatusOK:
		renamed := renameAttachment(name)
		return attachmentDecision{originalName: name, finalName: renamed, needUpload: true, data: data}
	default:
		return attachmentDecision{originalName: name, finalName: name, needUpload: true, data: data}
	}
}

// renameAttachment appends a random uppercase letter before the file
// extension to resolve a name collision with an unrelated attachment.
func renameAttachment(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	var b [1]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return base + "Z" + ext
		}
		// Reject bytes >= 234 (9*26) so the modulo below is uniform.
		if b[0] < 234 {
			break
		}
	}
	letter := 'A' + rune(b[0]%26)
	return fmt.Sprintf("%s%c%s", base, letter, ext)
}
