package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPEngine talks to a Whisper-compatible /audio/transcriptions endpoint.
type HTTPEngine struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	Client   *http.Client
}

func NewHTTPEngine(url, apiKey, model, language string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPEngine{
		URL:      url,
		APIKey:   apiKey,
		Model:    model,
		Language: language,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	if err := w.WriteField("url", audioURL); err != nil {
		return "", err
	}
	if err := e.writeCommon(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return e.post(ctx, &b, w.FormDataContentType())
}

func (e *HTTPEngine) TranscribeFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := e.writeCommon(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return e.post(ctx, &b, w.FormDataContentType())
}

func (e *HTTPEngine) writeCommon(w *multipart.Writer) error {
	if err := w.WriteField("model", e.Model); err != nil {
		return err
	}
	if err := w.WriteField("response_format", "text"); err != nil {
		return err
	}
	if lang := languageTag(e.Language); lang != "" {
		return w.WriteField("language", lang)
	}
	return nil
}

func (e *HTTPEngine) post(ctx context.Context, body io.Reader, contentType string) (string, error) {
	if e.URL == "" {
		return "", errors.New("transcription url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription engine returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return string(data), nil
}

// languageTag maps "en-US" to the ISO-639-1 "en" whisper expects.
func languageTag(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}

// truncate cuts on rune boundaries so error bodies stay valid UTF-8.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
