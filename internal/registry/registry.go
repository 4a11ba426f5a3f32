// Package registry holds the bridge's open-files registry (spec §3.1,
// §4.4): an in-memory map of active documents, protected by a mutex
// paired with a condition variable that wakes the save coordinator.
package registry

import (
	"sync"
	"time"
)

// Record is the per-document soft state described in spec §3.1.
type Record struct {
	AccTok   string
	DocID    string
	ToSave   bool
	LastSave int64 // unix seconds, monotonically non-decreasing
	ToClose  map[string]bool
}

// SaveResponse is a deferred save result to be returned synchronously on
// the next /save call for a document (spec §3.3).
type SaveResponse struct {
	Status int
	Body   []byte
}

// Registry is the D component: wopisrc -> *Record, plus the save-response
// map, guarded by one mutex+cond per spec §4.4/§5.
type Registry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	files map[string]*Record
	resp  map[string]SaveResponse
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{
		files: make(map[string]*Record),
		resp:  make(map[string]SaveResponse),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Lock acquires the registry's mutex for a caller-driven read/modify/write
// sequence spanning multiple operations (e.g. the coordinator's per-cycle
// work). Callers must call Unlock when done.
func (r *Registry) Lock()   { r.mu.Lock() }
func (r *Registry) Unlock() { r.mu.Unlock() }

// Get returns the record for wopisrc and whether it is present (nil,
// false if absent). Must be called under Lock, or use GetLocked for the
// locked convenience form.
func (r *Registry) Get(wopisrc string) (*Record, bool) {
	rec, ok := r.files[wopisrc]
	return rec, ok
}

// GetLocked is Get with its own locking, for single-shot lookups.
func (r *Registry) GetLocked(wopisrc string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[wopisrc]
	return rec, ok
}

// Set installs or replaces a record. Must be called under Lock.
func (r *Registry) Set(wopisrc string, rec *Record) {
	r.files[wopisrc] = rec
}

// Delete removes a record. Must be called under Lock.
func (r *Registry) Delete(wopisrc string) {
	delete(r.files, wopisrc)
}

// Keys returns a snapshot of the current wopisrc key set, safe to range
// over even while the coordinator mutates/deletes entries mid-cycle (spec
// §4.5 step 2: "Snapshot the registry's key set").
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.KeysLocked()
}

// KeysLocked is Keys without its own locking, for callers that already
// hold Lock (e.g. immediately after Wait returns).
func (r *Registry) KeysLocked() []string {
	keys := make([]string, 0, len(r.files))
	for k := range r.files {
		keys = append(keys, k)
	}
	return keys
}

// Dump returns a copy of the whole registry for /list (spec §4.6.3).
// Copies the map, each record and each record's ToClose map so callers
// can marshal it without racing the coordinator.
func (r *Registry) Dump() map[string]Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Record, len(r.files))
	for k, v := range r.files {
		rec := *v
		rec.ToClose = make(map[string]bool, len(v.ToClose))
		for t, closed := range v.ToClose {
			rec.ToClose[t] = closed
		}
		out[k] = rec
	}
	return out
}

// PutSaveResponse stores a deferred save result. Must be called under
// Lock.
func (r *Registry) PutSaveResponse(wopisrc string, status int, body []byte) {
	r.resp[wopisrc] = SaveResponse{Status: status, Body: body}
}

// TakeSaveResponse consumes (removes) any stored save response for
// wopisrc. Must be called under Lock.
func (r *Registry) TakeSaveResponse(wopisrc string) (SaveResponse, bool) {
	resp, ok := r.resp[wopisrc]
	if ok {
		delete(r.resp, wopisrc)
	}
	return resp, ok
}

// ClearSaveResponse drops any stale save response for wopisrc without
// requiring it to exist. Must be called under Lock.
func (r *Registry) ClearSaveResponse(wopisrc string) {
	delete(r.resp, wopisrc)
}

// Notify wakes the coordinator. Must be called under Lock (so the
// coordinator stays blocked on re-acquiring the mutex until the caller
// releases it — spec §4.6.2 step 4).
func (r *Registry) Notify() {
	r.cond.Signal()
}

// Wait blocks the coordinator on the condition variable for up to
// timeout, returning when either woken by Notify or the timeout elapses.
// Must be called under Lock; sync.Cond.Wait releases the mutex while
// blocked and reacquires it before returning, so callers see Wait as an
// atomic "unlock, block, relock".
func (r *Registry) Wait(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	r.cond.Wait()
}
