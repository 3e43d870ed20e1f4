package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRecordingKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	got := RecordingKey(now, "my call (1).wav")
	if got != "call-recordings/1700000000123-my_call__1_.wav" {
		t.Fatalf("unexpected key %q", got)
	}
	if k := RecordingKey(now, "../../etc/passwd"); k != "call-recordings/1700000000123-passwd" {
		t.Fatalf("expected directories stripped, got %q", k)
	}
}

func TestAllowedExtension(t *testing.T) {
	for _, ok := range []string{"a.mp3", "b.WAV", "c.m4a", "d.mp4", "e.ogg"} {
		if !AllowedExtension(ok) {
			t.Fatalf("expected %s allowed", ok)
		}
	}
	for _, bad := range []string{"a.txt", "noext", "x.flac"} {
		if AllowedExtension(bad) {
			t.Fatalf("expected %s rejected", bad)
		}
	}
	if ContentTypeFor("x.mp3") != "audio/mpeg" {
		t.Fatalf("unexpected content type")
	}
}

func TestMemoryStore_PutIsWriteOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	ref, err := m.Put(ctx, "k", strings.NewReader("audio"), "audio/wav")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref.Key != "k" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, err := m.Put(ctx, "k", strings.NewReader("other"), "audio/wav"); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}

	rc, err := m.Open(ctx, "k")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "audio" {
		t.Fatalf("expected original content kept, got %q", b)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Open(ctx, "k"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestAllowedContentType(t *testing.T) {
	for _, ct := range []string{"audio/mpeg", "audio/ogg; codecs=opus", "video/mp4", " AUDIO/WAV "} {
		if !AllowedContentType(ct) {
			t.Fatalf("expected %q to be allowed", ct)
		}
	}
	for _, ct := range []string{"", "text/plain", "application/octet-stream", "image/png"} {
		if AllowedContentType(ct) {
			t.Fatalf("expected %q to be rejected", ct)
		}
	}
}
