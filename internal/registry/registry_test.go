package registry

import (
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	r := New()
	r.Lock()
	r.Set("wopisrc1", &Record{AccTok: "tok1", DocID: "d1"})
	rec, _ := r.Get("wopisrc1")
	r.Unlock()

	if rec == nil || rec.AccTok != "tok1" {
		t.Fatalf("Get after Set = %+v, want AccTok=tok1", rec)
	}

	r.Lock()
	r.Delete("wopisrc1")
	rec, _ = r.Get("wopisrc1")
	r.Unlock()
	if rec != nil {
		t.Fatalf("Get after Delete = %+v, want nil", rec)
	}
}

func TestKeysSnapshot(t *testing.T) {
	r := New()
	r.Lock()
	r.Set("a", &Record{})
	r.Set("b", &Record{})
	r.Unlock()

	keys := r.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 entries", keys)
	}
}

func TestSaveResponseRoundtrip(t *testing.T) {
	r := New()
	r.Lock()
	r.PutSaveResponse("src", 202, []byte(`{"ok":true}`))
	r.Unlock()

	r.Lock()
	resp, ok := r.TakeSaveResponse("src")
	r.Unlock()
	if !ok || resp.Status != 202 {
		t.Fatalf("TakeSaveResponse = %+v, %v", resp, ok)
	}

	r.Lock()
	_, ok = r.TakeSaveResponse("src")
	r.Unlock()
	if ok {
		t.Fatal("TakeSaveResponse should consume the response on first read")
	}
}

func TestWaitWakesOnNotify(t *testing.T) {
	r := New()
	woke := make(chan struct{})

	go func() {
		r.Lock()
		r.Wait(5 * time.Second)
		r.Unlock()
		close(woke)
	}()

	time.Sleep(50 * time.Millisecond)
	r.Lock()
	r.Notify()
	r.Unlock()

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake up after Notify")
	}
}

func TestWaitWakesOnTimeout(t *testing.T) {
	r := New()
	start := time.Now()
	r.Lock()
	r.Wait(100 * time.Millisecond)
	r.Unlock()
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("Wait returned too early: %v", elapsed)
	}
}

func TestDumpIsACopy(t *testing.T) {
	r := New()
	r.Lock()
	r.Set("src", &Record{AccTok: "tok1"})
	r.Unlock()

	dump := r.Dump()
	rec := dump["src"]
	rec.AccTok = "mutated"

	r.Lock()
	original, _ := r.Get("src")
	r.Unlock()
	if original.AccTok != "tok1" {
		t.Fatalf("mutating Dump()'s result mutated the registry: %q", original.AccTok)
	}
}
