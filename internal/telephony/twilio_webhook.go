package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// VoiceForm is the subset of the voice webhook we use. For Voice SDK calls,
// To carries the number the browser client asked to dial.
type VoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseVoiceWebhook(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	// Twilio may send either POST or GET; Form covers both.
	return VoiceForm{
		CallSid:    r.Form.Get("CallSid"),
		AccountSid: r.Form.Get("AccountSid"),
		From:       normalizePhone(r.Form.Get("From")),
		To:         normalizePhone(r.Form.Get("To")),
		Direction:  r.Form.Get("Direction"),
		CallStatus: r.Form.Get("CallStatus"),
	}, nil
}

// RecordingForm is the recording-status callback payload.
type RecordingForm struct {
	CallSid         string
	AccountSid      string
	RecordingSid    string
	RecordingURL    string
	RecordingStatus string
	// DurationSeconds is 0 when Twilio omits it.
	DurationSeconds int
}

var ErrInvalidRecording = errors.New("telephony: recording callback missing CallSid, RecordingSid or RecordingUrl")

func ParseRecordingWebhook(r *http.Request) (RecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingForm{}, err
	}
	f := RecordingForm{
		CallSid:         r.PostFormValue("CallSid"),
		AccountSid:      r.PostFormValue("AccountSid"),
		RecordingSid:    r.PostFormValue("RecordingSid"),
		RecordingURL:    strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus: r.PostFormValue("RecordingStatus"),
	}
	if d, err := strconv.Atoi(r.PostFormValue("RecordingDuration")); err == nil && d > 0 {
		f.DurationSeconds = d
	}
	if f.CallSid == "" || f.RecordingSid == "" || f.RecordingURL == "" {
		return f, ErrInvalidRecording
	}
	return f, nil
}

// Completed reports whether the recording is ready to download. Older callbacks
// omit RecordingStatus; those only fire on completion.
func (f RecordingForm) Completed() bool {
	return f.RecordingStatus == "" || f.RecordingStatus == "completed"
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}
