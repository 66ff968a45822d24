package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const fallbackLanguageCode = "en-US"

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechEngine submits sealed chunks to Google Cloud Speech-to-Text
// with one batch Recognize call per chunk. Payloads are WAV, so the
// decoding config is taken from the container header.
type CloudSpeechEngine struct {
	cfg CloudSpeechConfig

	mu     sync.Mutex
	client *speech.Client
}

func NewCloudSpeechEngine(cfg CloudSpeechConfig) *CloudSpeechEngine {
	return &CloudSpeechEngine{cfg: cfg}
}

func (e *CloudSpeechEngine) Initialize(ctx context.Context) error {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(e.cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if e.cfg.Location != "" && e.cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:443", e.cfg.Location)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create speech client: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
	slog.Info("cloud speech client initialized", "location", e.cfg.Location, "model", e.cfg.Model)
	return nil
}

func (e *CloudSpeechEngine) Transcribe(ctx context.Context, req transcriber.Request) (*transcriber.Result, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%w: cloud speech client not initialized", transcriber.ErrEngineUnusable)
	}
	if req.Task == transcriber.TaskTranslate {
		// Cloud Speech has no translation task; transcribe in the source language.
		slog.Warn("cloud speech does not support translate, transcribing instead")
	}

	language := req.Language
	if language == "" {
		language = e.cfg.Language
	}
	if language == "" {
		language = fallbackLanguageCode
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			// WAV payloads are self-describing; the header wins over
			// explicit encoding parameters.
			Encoding:     speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
			LanguageCode: language,
			Model:        e.cfg.Model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	})
	if err != nil {
		if isEngineFatal(err) {
			return nil, fmt.Errorf("%w: %v", transcriber.ErrEngineUnusable, err)
		}
		return nil, fmt.Errorf("cloud speech recognize: %w", err)
	}

	var (
		parts      []string
		confidence float64
		detected   string
	)
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		alt := result.GetAlternatives()[0]
		parts = append(parts, alt.GetTranscript())
		if float64(alt.GetConfidence()) > confidence {
			confidence = float64(alt.GetConfidence())
		}
		if detected == "" {
			detected = result.GetLanguageCode()
		}
	}
	if detected == "" {
		detected = language
	}

	return &transcriber.Result{
		Text:            strings.TrimSpace(strings.Join(parts, " ")),
		Language:        detected,
		Confidence:      confidence,
		DurationSeconds: resp.GetTotalBilledTime().AsDuration().Seconds(),
		ProcessedAt:     time.Now(),
	}, nil
}

func (e *CloudSpeechEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil
}

func isEngineFatal(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return true
	default:
		return false
	}
}
