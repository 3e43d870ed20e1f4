package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName                       xml.Name `xml:"Dial"`
	CallerID                      string   `xml:"callerId,attr,omitempty"`
	Record                        string   `xml:"record,attr,omitempty"`
	RecordingStatusCallback       string   `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackEvent  string   `xml:"recordingStatusCallbackEvent,attr,omitempty"`
	RecordingStatusCallbackMethod string   `xml:"recordingStatusCallbackMethod,attr,omitempty"`
	Number                        string   `xml:"Number"`
}

// DialOptions drives the outbound leg of a browser-originated call.
type DialOptions struct {
	CallerID string
	Number   string
	// RecordingCallback receives the completed recording. Empty disables recording.
	RecordingCallback string
}

// RenderDial answers the voice webhook: dial Number and record from answer.
func RenderDial(opts DialOptions) (string, error) {
	if strings.TrimSpace(opts.Number) == "" {
		return "", errors.New("telephony: number required for dial")
	}
	d := twimlDial{CallerID: opts.CallerID, Number: opts.Number}
	if opts.RecordingCallback != "" {
		d.Record = "record-from-answer"
		d.RecordingStatusCallback = opts.RecordingCallback
		d.RecordingStatusCallbackEvent = "completed"
		d.RecordingStatusCallbackMethod = "POST"
	}
	return render(twimlResponse{Verbs: []any{d}})
}

func RenderSay(text string) (string, error) {
	return render(twimlResponse{Verbs: []any{twimlSay{Text: text}}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
