package upload

import (
	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		engine := do.MustInvoke[transcriber.Engine](i)
		converter := do.MustInvoke[transcode.Converter](i)
		met := do.MustInvoke[*metrics.Metrics](i)
		return NewService(engine, converter, met, cfg.MaxAudioSizeBytes()), nil
	})
}
