package transcription

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechEngine uses synchronous Recognize on Cloud Speech v2.
// URL input must be a gs:// URI; signed https URLs are not accepted by the API.
type CloudSpeechEngine struct {
	client     *speech.Client
	recognizer string
	language   string
	model      string
}

func NewCloudSpeechEngine(ctx context.Context, cfg CloudSpeechConfig) (*CloudSpeechEngine, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	if location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" || strings.HasPrefix(model, "whisper") {
		model = "long"
	}
	return &CloudSpeechEngine{
		client:     client,
		recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, location),
		language:   cfg.Language,
		model:      model,
	}, nil
}

func (e *CloudSpeechEngine) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
	if !strings.HasPrefix(audioURL, "gs://") {
		return "", fmt.Errorf("cloud speech needs a gs:// uri, got %q", schemeOf(audioURL))
	}
	return e.recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  e.recognizer,
		Config:      e.config(),
		AudioSource: &speechpb.RecognizeRequest_Uri{Uri: audioURL},
	})
}

func (e *CloudSpeechEngine) TranscribeFile(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return e.recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  e.recognizer,
		Config:      e.config(),
		AudioSource: &speechpb.RecognizeRequest_Content{Content: content},
	})
}

func (e *CloudSpeechEngine) Close() error {
	return e.client.Close()
}

func (e *CloudSpeechEngine) config() *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Model:          e.model,
		LanguageCodes:  []string{e.language},
		DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{}},
		Features:       &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
	}
}

func (e *CloudSpeechEngine) recognize(ctx context.Context, req *speechpb.RecognizeRequest) (string, error) {
	resp, err := e.client.Recognize(ctx, req)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

func schemeOf(u string) string {
	if i := strings.Index(u, "://"); i > 0 {
		return u[:i]
	}
	return "no scheme"
}
