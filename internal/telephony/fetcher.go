package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RecordingFetcher downloads recordings from the provider with account credentials.
type RecordingFetcher struct {
	AccountSID string
	AuthToken  string
	Client     *http.Client
	// MaxRetries bounds retries of 404 and 5xx answers; a recording can lag its callback.
	MaxRetries      uint64
	InitialInterval time.Duration
}

func NewRecordingFetcher(accountSID, authToken string, timeout time.Duration) *RecordingFetcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RecordingFetcher{
		AccountSID:      accountSID,
		AuthToken:       authToken,
		Client:          &http.Client{Timeout: timeout},
		MaxRetries:      3,
		InitialInterval: time.Second,
	}
}

// WAVURL is the media URL for the wav rendition of a recording.
func WAVURL(recordingURL string) string {
	if strings.HasSuffix(recordingURL, ".wav") {
		return recordingURL
	}
	return recordingURL + ".wav"
}

// Fetch returns the recording body; the caller closes it.
func (f *RecordingFetcher) Fetch(ctx context.Context, recordingURL string) (io.ReadCloser, error) {
	u := WAVURL(recordingURL)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.InitialInterval
	bo := backoff.WithContext(backoff.WithMaxRetries(b, f.MaxRetries), ctx)

	return backoff.RetryWithData(func() (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.SetBasicAuth(f.AccountSID, f.AuthToken)

		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()

		err = fmt.Errorf("recording download: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, bo)
}
