package telephony

import (
	"strings"
	"testing"
)

func TestRenderDialRecordsFromAnswer(t *testing.T) {
	xml, err := RenderDial(DialOptions{
		CallerID:          "+15550000000",
		Number:            "+15551234567",
		RecordingCallback: "https://api.example.com/webhooks/twilio/recording",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{
		`callerId="+15550000000"`,
		`record="record-from-answer"`,
		`recordingStatusCallback="https://api.example.com/webhooks/twilio/recording"`,
		`recordingStatusCallbackEvent="completed"`,
		`<Number>+15551234567</Number>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderDialWithoutCallbackDoesNotRecord(t *testing.T) {
	xml, err := RenderDial(DialOptions{Number: "+15551234567"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if strings.Contains(xml, "record=") {
		t.Fatalf("expected no recording attributes: %s", xml)
	}
}

func TestRenderDialRequiresNumber(t *testing.T) {
	if _, err := RenderDial(DialOptions{Number: "  "}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderSayEscapesText(t *testing.T) {
	xml, err := RenderSay("a < b")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(xml, "<Say>a &lt; b</Say>") {
		t.Fatalf("unexpected xml: %s", xml)
	}
}
