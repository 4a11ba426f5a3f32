// Package coordinator implements the bridge's save coordinator (component
// E, spec §4.5): a single background worker that flushes dirty documents,
// force-closes idle sessions, and releases locks once every participant
// has gone.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cs3org/wopibridge/internal/adapter"
	"github.com/cs3org/wopibridge/internal/logger"
	"github.com/cs3org/wopibridge/internal/registry"
	"github.com/cs3org/wopibridge/internal/wopi"
	"github.com/cs3org/wopibridge/internal/wopierr"
)

// waitTimeout bounds how long the coordinator blocks on the registry's
// condition variable between cycles (spec §4.5.1).
const waitTimeout = 60 * time.Second

// invalidLockSentinel marks a record for cleanup after a relock attempt
// fails outright during saveDirty (spec §4.5 step a).
const invalidLockSentinel = "invalid-lock"

// Coordinator runs the dirty/close/cleanup cycle over the open-files
// registry.
type Coordinator struct {
	Registry       *registry.Registry
	WOPI           *wopi.Client
	Adapters       map[string]adapter.Adapter
	SaveInterval   time.Duration
	UnlockInterval time.Duration

	active bool
	done   chan struct{}
}

// New builds a Coordinator. Call Run to start its loop and Stop to end it.
func New(reg *registry.Registry, wopiClient *wopi.Client, adapters map[string]adapter.Adapter, saveInterval, unlockInterval time.Duration) *Coordinator {
	return &Coordinator{
		Registry:       reg,
		WOPI:           wopiClient,
		Adapters:       adapters,
		SaveInterval:   saveInterval,
		UnlockInterval: unlockInterval,
		active:         true,
		done:           make(chan struct{}),
	}
}

// Run is the coordinator's main loop (spec §4.5 step 1-3). It blocks until
// Stop is called and should be launched in its own goroutine.
func (co *Coordinator) Run(ctx context.Context) {
	defer close(co.done)
	for {
		co.Registry.Lock()
		if !co.active {
			co.Registry.Unlock()
			return
		}
		co.Registry.Wait(waitTimeout)
		active := co.active
		keys := co.Registry.KeysLocked()
		co.Registry.Unlock()
		if !active {
			return
		}

		for _, wopisrc := range keys {
			co.processDocument(ctx, wopisrc)
		}
	}
}

// Stop sets the shutdown flag, wakes the coordinator, and waits for its
// current cycle to finish (spec §5's atexit-style shutdown hook). It does
// not drain pending saves; those are picked up by the next bridge instance
// when a user reopens the document.
func (co *Coordinator) Stop() {
	co.Registry.Lock()
	co.active = false
	co.Registry.Notify()
	co.Registry.Unlock()
	<-co.done
}

// processDocument runs the three phases for one document. Each phase
// catches and logs its own failures so one bad document cannot stop the
// cycle (spec §4.5 step 3).
func (co *Coordinator) processDocument(ctx context.Context, wopisrc string) {
	co.runPhase(ctx, wopisrc, "saveDirty", co.saveDirty)
	co.runPhase(ctx, wopisrc, "closeWhenIdle", co.closeWhenIdle)
	co.runPhase(ctx, wopisrc, "cleanup", co.cleanup)
}

func (co *Coordinator) runPhase(ctx context.Context, wopisrc, name string, fn func(context.Context, string)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(ctx, "[coordinator] %s panicked for %s: %v", name, wopisrc, r)
		}
	}()
	fn(ctx, wopisrc)
}

// saveDirty is phase (a).
func (co *Coordinator) saveDirty(ctx context.Context, wopisrc string) {
	co.Registry.Lock()
	rec, ok := co.Registry.Get(wopisrc)
	if !ok {
		co.Registry.Unlock()
		return
	}
	now := time.Now().Unix()
	allClosed := wopi.Intersection(rec.ToClose)
	due := rec.ToSave && (allClosed || rec.LastSave < now-int64(co.SaveInterval.Seconds()))
	if !due {
		co.Registry.Unlock()
		return
	}
	acctok, docid := rec.AccTok, rec.DocID
	co.Registry.Unlock()

	lock, err := co.WOPI.GetLock(ctx, wopisrc, acctok)
	if err != nil {
		var invalid *wopierr.InvalidLock
		if !errors.As(err, &invalid) {
			logger.Errorf(ctx, "[coordinator] saveDirty: GetLock failed for %s: %v", wopisrc, err)
			return
		}
		relocked, relockErr := co.WOPI.Relock(ctx, wopisrc, acctok, docid, allClosed)
		if relockErr != nil {
			body, _ := wopi.Jsonify("failed to re-acquire lock: " + relockErr.Error())
			co.Registry.Lock()
			co.Registry.PutSaveResponse(wopisrc, http.StatusInternalServerError, body)
			if rec2, ok := co.Registry.Get(wopisrc); ok {
				rec2.ToSave = false
				rec2.ToClose = map[string]bool{invalidLockSentinel: true}
			}
			co.Registry.Unlock()
			return
		}
		lock = relocked
	}

	adp, known := co.Adapters[lock.App]
	if !known {
		body, _ := wopi.Jsonify("unknown app tag: " + lock.App)
		co.Registry.Lock()
		co.Registry.PutSaveResponse(wopisrc, http.StatusBadRequest, body)
		if rec2, ok := co.Registry.Get(wopisrc); ok {
			rec2.LastSave = time.Now().Unix()
			rec2.ToSave = false
		}
		co.Registry.Unlock()
		return
	}

	body, status, err := adp.SaveToStorage(ctx, wopisrc, acctok, allClosed, lock)
	if err != nil {
		body, _ = wopi.Jsonify("save failed: " + err.Error())
		status = http.StatusInternalServerError
	}

	co.Registry.Lock()
	co.Registry.PutSaveResponse(wopisrc, status, body)
	if rec2, ok := co.Registry.Get(wopisrc); ok {
		rec2.LastSave = time.Now().Unix()
		rec2.ToSave = false
	}
	co.Registry.Unlock()
}

// closeWhenIdle is phase (b).
func (co *Coordinator) closeWhenIdle(ctx context.Context, wopisrc string) {
	co.Registry.Lock()
	rec, ok := co.Registry.Get(wopisrc)
	if !ok {
		co.Registry.Unlock()
		return
	}
	now := time.Now().Unix()
	idle := rec.LastSave < now-4*int64(co.SaveInterval.Seconds())
	acctok := rec.AccTok
	co.Registry.Unlock()
	if !idle {
		return
	}

	_, err := co.WOPI.GetLock(ctx, wopisrc, acctok)
	if err != nil {
		var invalid *wopierr.InvalidLock
		if errors.As(err, &invalid) {
			// A close we missed: storage already released the lock.
			co.Registry.Lock()
			co.Registry.Delete(wopisrc)
			co.Registry.ClearSaveResponse(wopisrc)
			co.Registry.Unlock()
			return
		}
		logger.Errorf(ctx, "[coordinator] closeWhenIdle: GetLock failed for %s: %v", wopisrc, err)
		return
	}

	co.Registry.Lock()
	if rec2, ok := co.Registry.Get(wopisrc); ok {
		for k := range rec2.ToClose {
			rec2.ToClose[k] = true
		}
	}
	co.Registry.Unlock()
}

// cleanup is phase (c).
func (co *Coordinator) cleanup(ctx context.Context, wopisrc string) {
	co.Registry.Lock()
	rec, ok := co.Registry.Get(wopisrc)
	if !ok {
		co.Registry.Unlock()
		return
	}
	anyClosed := wopi.Union(rec.ToClose)
	pendingSave := rec.ToSave
	acctok := rec.AccTok
	lastSave := rec.LastSave
	co.Registry.Unlock()
	if !anyClosed || pendingSave {
		return
	}

	now := time.Now().Unix()
	lock, err := co.WOPI.GetLock(ctx, wopisrc, acctok)
	if err != nil {
		var invalid *wopierr.InvalidLock
		if errors.As(err, &invalid) {
			if lastSave < now-int64(co.UnlockInterval.Seconds()) {
				co.Registry.Lock()
				co.Registry.Delete(wopisrc)
				co.Registry.ClearSaveResponse(wopisrc)
				co.Registry.Unlock()
			}
			return
		}
		logger.Errorf(ctx, "[coordinator] cleanup: GetLock failed for %s: %v", wopisrc, err)
		return
	}

	merged := make(map[string]bool, len(lock.ToClose))
	changed := false
	co.Registry.Lock()
	if rec2, ok := co.Registry.Get(wopisrc); ok {
		for k, lv := range lock.ToClose {
			mv := lv || rec2.ToClose[k]
			merged[k] = mv
			if mv != lv {
				changed = true
			}
		}
		rec2.ToClose = merged
	}
	co.Registry.Unlock()

	allClosed := wopi.Intersection(merged)
	if allClosed && lastSave < now-int64(co.UnlockInterval.Seconds()) {
		if err := co.WOPI.Unlock(ctx, wopisrc, acctok, lock); err != nil {
			logger.Errorf(ctx, "[coordinator] cleanup: Unlock failed for %s: %v", wopisrc, err)
		}
		co.Registry.Lock()
		co.Registry.Delete(wopisrc)
		co.Registry.ClearSaveResponse(wopisrc)
		co.Registry.Unlock()
		return
	}
	if changed {
		if _, err := co.WOPI.RefreshLock(ctx, wopisrc, acctok, lock, func(l *wopi.Lock) { l.ToClose = merged }); err != nil {
			logger.Errorf(ctx, "[coordinator] cleanup: RefreshLock failed for %s: %v", wopisrc, err)
		}
	}
}
