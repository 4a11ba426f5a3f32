package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cs3org/wopibridge/internal/adapter"
	"github.com/cs3org/wopibridge/internal/bridge"
	"github.com/cs3org/wopibridge/internal/docid"
	"github.com/cs3org/wopibridge/internal/logger"
	"github.com/cs3org/wopibridge/internal/registry"
	"github.com/cs3org/wopibridge/internal/wopi"
	"github.com/cs3org/wopibridge/internal/wopierr"
)

// Handlers holds the bridge reference every route needs.
type Handlers struct {
	Bridge *bridge.Bridge
}

const indexPage = `<html><head><title>WOPI Bridge</title></head>
<body>
<div align="center" style="color:#000080; padding-top:50px; font-family:Verdana; size:11">
This is a WOPI HTTP bridge, to be used in conjunction with a WOPI-enabled EFSS.<br>
To use this service, please log in to your EFSS storage and click on a supported document.</div>
</body>
</html>
`

// Index serves the bridge's informational landing page (spec's
// supplemented index-page feature, no business logic).
func (h *Handlers) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}

// Open implements GET /open (spec §4.6.1).
func (h *Handlers) Open(c *gin.Context) {
	ctx := c.Request.Context()
	wopisrc := c.Query("WOPISrc")
	acctok := c.Query("access_token")
	if wopisrc == "" || acctok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing WOPISrc or access_token"})
		return
	}

	filemd, status, err := h.Bridge.WOPI.GetFileInfo(ctx, wopisrc, acctok)
	if err != nil {
		logger.Errorf(ctx, "[open] GetFileInfo failed for %s: %v", wopisrc, err)
		c.JSON(http.StatusNotFound, gin.H{"message": "could not fetch file metadata from storage"})
		return
	}
	if status != http.StatusOK {
		c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("storage returned status %d", status)})
		return
	}

	ext := strings.ToLower(filepath.Ext(filemd.BaseFileName))
	adp, known := h.Bridge.ExtensionAdapters[ext]
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unsupported file type: " + ext})
		return
	}

	var lock *wopi.Lock
	canWrite := filemd.UserCanWrite
	readWrite := canWrite

	if canWrite {
		lock, readWrite = h.openReadWrite(ctx, adp, filemd, wopisrc, acctok)
		if lock == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to open document"})
			return
		}
		// Upsert unconditionally: other participants may already have this
		// document open for writing even when openReadWrite downgrades
		// this particular request to read-only.
		h.upsertRegistry(wopisrc, acctok, lock)
	} else {
		lock, err = adp.LoadFromStorage(ctx, filemd, wopisrc, acctok, "")
		if err != nil {
			logger.Errorf(ctx, "[open] LoadFromStorage (read-only) failed for %s: %v", wopisrc, err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to open document"})
			return
		}
	}

	displayName := filemd.UserFriendlyName + "@" + platformPrefix(c.GetHeader("User-Agent"))
	redirectURL, err := adp.GetRedirectURL(ctx, readWrite, wopisrc, acctok, lock, displayName)
	if err != nil {
		logger.Errorf(ctx, "[open] GetRedirectURL failed for %s: %v", wopisrc, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to build redirect URL"})
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

// openReadWrite resolves the lock a read-write /open should use, falling
// back to read-only (returning readWrite=false) whenever storage refuses
// to grant or refresh a lock (spec §4.6.1 step 3).
func (h *Handlers) openReadWrite(ctx context.Context, adp adapter.Adapter, filemd *wopi.FileMeta, wopisrc, acctok string) (*wopi.Lock, bool) {
	lock, err := h.Bridge.WOPI.GetLock(ctx, wopisrc, acctok)
	if err == nil {
		shorttok := wopi.ShortToken(acctok)
		if _, present := lock.ToClose[shorttok]; !present {
			updated, rerr := h.Bridge.WOPI.RefreshLock(ctx, wopisrc, acctok, lock, func(l *wopi.Lock) {
				l.ToClose[shorttok] = false
			})
			if rerr != nil {
				logger.Errorf(ctx, "[open] RefreshLock failed for %s, forcing read-only: %v", wopisrc, rerr)
				return lock, false
			}
			lock = updated
		}
		return lock, true
	}

	var invalid *wopierr.InvalidLock
	if !errors.As(err, &invalid) {
		logger.Errorf(ctx, "[open] GetLock failed for %s: %v", wopisrc, err)
		return nil, false
	}

	if !invalid.NotFound() {
		roLock, lerr := adp.LoadFromStorage(ctx, filemd, wopisrc, acctok, "")
		if lerr != nil {
			logger.Errorf(ctx, "[open] LoadFromStorage (conflict fallback) failed for %s: %v", wopisrc, lerr)
			return nil, false
		}
		return roLock, false
	}

	newDocID := docid.Generate(h.Bridge.Config.HashSecret, wopisrc)
	newLock, lerr := adp.LoadFromStorage(ctx, filemd, wopisrc, acctok, newDocID)
	if lerr != nil {
		logger.Errorf(ctx, "[open] LoadFromStorage failed for %s: %v", wopisrc, lerr)
		return nil, false
	}
	if lockErr := h.Bridge.WOPI.Lock(ctx, wopisrc, acctok, newLock); lockErr != nil {
		logger.Warnf(ctx, "[open] WOPI Lock failed for %s, forcing read-only: %v", wopisrc, lockErr)
		return newLock, false
	}
	return newLock, true
}

// upsertRegistry installs or refreshes the registry record for a
// newly-opened read-write document (spec §4.6.1 step 3).
func (h *Handlers) upsertRegistry(wopisrc, acctok string, lock *wopi.Lock) {
	reg := h.Bridge.Registry
	reg.Lock()
	defer reg.Unlock()
	if rec, ok := reg.Get(wopisrc); ok {
		rec.AccTok = acctok
		rec.ToClose = lock.ToClose
	} else {
		reg.Set(wopisrc, &registry.Record{
			AccTok:   acctok,
			DocID:    lock.DocID,
			ToClose:  lock.ToClose,
			LastSave: time.Now().Unix() - int64(h.Bridge.Config.SaveInterval.Seconds()),
		})
	}
	reg.ClearSaveResponse(wopisrc)
}

// Save implements POST /save (spec §4.6.2).
func (h *Handlers) Save(c *gin.Context) {
	ctx := c.Request.Context()
	wopisrc, acctok, ok := parseMetadata(c.GetHeader("X-EFSS-Metadata"))
	if !ok {
		malformed := &wopierr.MalformedRequest{What: "missing or unparsable X-EFSS-Metadata header"}
		logger.Errorf(ctx, "[save] %v", malformed)
		body, _ := wopi.Jsonify("malformed request: copy your content to a safe place and reopen")
		c.Data(http.StatusInternalServerError, "application/json", body)
		return
	}
	isClose := c.Query("close") == "true"
	docid := c.Query("id")

	reg := h.Bridge.Registry
	now := time.Now().Unix()
	reg.Lock()
	rec, exists := reg.Get(wopisrc)
	donotify := isClose || !exists
	if exists {
		if rec.LastSave < now-int64(h.Bridge.Config.SaveInterval.Seconds()) {
			donotify = true
		}
		rec.ToSave = true
		rec.ToClose[wopi.ShortToken(acctok)] = isClose
	} else {
		reg.Set(wopisrc, &registry.Record{
			AccTok:   acctok,
			DocID:    docid,
			ToSave:   true,
			LastSave: now - int64(h.Bridge.Config.SaveInterval.Seconds()),
			ToClose:  map[string]bool{wopi.ShortToken(acctok): isClose},
		})
		reg.ClearSaveResponse(wopisrc)
	}
	if donotify {
		reg.Notify()
	}
	resp, hasResp := reg.TakeSaveResponse(wopisrc)
	reg.Unlock()

	logger.Infof(ctx, "[save] %s close=%v notified=%v", wopisrc, isClose, donotify)

	if hasResp {
		c.Data(resp.Status, "application/json", resp.Body)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{})
}

// parseMetadata splits the X-EFSS-Metadata header on the literal
// substring "?t=" rather than doing full URL parsing, since wopisrc
// itself may legitimately contain query parameters.
func parseMetadata(header string) (wopisrc, acctok string, ok bool) {
	decoded, err := url.QueryUnescape(header)
	if err != nil || decoded == "" {
		return "", "", false
	}
	idx := strings.Index(decoded, "?t=")
	if idx < 0 {
		return "", "", false
	}
	return decoded[:idx], decoded[idx+len("?t="):], true
}

// List implements GET /list (spec §4.6.3).
func (h *Handlers) List(c *gin.Context) {
	expected := h.Bridge.Config.HashSecret
	bearer := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	apikey := c.Query("apikey")
	if bearer != expected && apikey != expected {
		unauthorized := &wopierr.Unauthorized{}
		logger.Warnf(c.Request.Context(), "[list] %v", unauthorized)
		c.JSON(http.StatusUnauthorized, gin.H{"message": unauthorized.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Bridge.Registry.Dump())
}
