package transcriber

import (
	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Engine, error) {
		c := do.MustInvoke[*config.Config](i)
		var inner transcriber.Engine
		switch c.TranscriberProvider {
		case config.ProviderCloudSpeech:
			inner = NewCloudSpeechEngine(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.DefaultTranscribeLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			})
		default:
			inner = NewWhisperHTTPEngine(WhisperConfig{
				URL:         c.WhisperURL,
				Model:       c.WhisperModel,
				Device:      c.WhisperDevice,
				ComputeType: c.WhisperComputeType,
				Language:    c.DefaultTranscribeLanguage,
			})
		}
		return transcriber.NewLazyEngine(inner), nil
	})
}
