package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"call-insights/internal/calls"
)

var (
	ErrObjectExists   = errors.New("object already exists")
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectStore holds call recordings. Keys are unique and never overwritten.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (calls.AudioRef, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// URLResolver turns a key into something a transcription engine can fetch directly.
type URLResolver interface {
	ResolveURL(ctx context.Context, key string) (string, error)
}

const RecordingPrefix = "call-recordings/"

// AllowedExtensions are the audio containers accepted for upload.
var AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".mp4", ".ogg"}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// RecordingKey builds "call-recordings/<unix-ms>-<sanitized filename>".
func RecordingKey(now time.Time, filename string) string {
	name := unsafeKeyChars.ReplaceAllString(path.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "recording"
	}
	return fmt.Sprintf("%s%d-%s", RecordingPrefix, now.UnixMilli(), name)
}

func AllowedExtension(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// ContentTypeFor maps a recording extension to its MIME type.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// AllowedContentTypes are the declared upload MIME types we accept. Some
// recorders label audio in an mp4 container as video/mp4.
var AllowedContentTypes = []string{
	"audio/mpeg", "audio/mp3", "audio/wav", "audio/x-wav", "audio/wave",
	"audio/mp4", "audio/x-m4a", "audio/ogg", "video/mp4",
}

// AllowedContentType ignores parameters such as "; codecs=opus".
func AllowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	for _, a := range AllowedContentTypes {
		if ct == a {
			return true
		}
	}
	return false
}
