package telephony

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRecordingFetcherRetriesUntilAvailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Recordings/RE1.wav" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "AC1" || p != "tok" {
			t.Errorf("expected basic auth")
		}
		if hits.Add(1) == 1 {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	f := NewRecordingFetcher("AC1", "tok", time.Second)
	f.InitialInterval = time.Millisecond

	body, err := f.Fetch(context.Background(), srv.URL+"/Recordings/RE1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer body.Close()
	b, _ := io.ReadAll(body)
	if string(b) != "RIFFdata" || hits.Load() != 2 {
		t.Fatalf("unexpected body %q after %d hits", b, hits.Load())
	}
}

func TestRecordingFetcherDoesNotRetryAuthErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewRecordingFetcher("AC1", "bad", time.Second)
	f.InitialInterval = time.Millisecond
	if _, err := f.Fetch(context.Background(), srv.URL+"/Recordings/RE1"); err == nil {
		t.Fatalf("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestWAVURL(t *testing.T) {
	if WAVURL("https://x/RE1") != "https://x/RE1.wav" || WAVURL("https://x/RE1.wav") != "https://x/RE1.wav" {
		t.Fatalf("unexpected wav url")
	}
}
