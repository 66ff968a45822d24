package web

import (
	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/session"
	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"github.com/foxseedlab/mimitori/internal/upload"
	"github.com/samber/do/v2"
)

// EngineFatalFunc is invoked when the transcription backend becomes
// unusable process-wide. The binary provides one that fails fast.
type EngineFatalFunc func(error)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		engine := do.MustInvoke[transcriber.Engine](i)
		converter := do.MustInvoke[transcode.Converter](i)
		uploads := do.MustInvoke[*upload.Service](i)
		registry := do.MustInvoke[*session.Registry](i)
		met := do.MustInvoke[*metrics.Metrics](i)
		onFatal := do.MustInvoke[EngineFatalFunc](i)
		return NewHandler(cfg, engine, converter, uploads, registry, met, onFatal), nil
	})
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		h := do.MustInvoke[*Handler](i)
		return NewServer(cfg, NewRouter(h, cfg.IsDevelopment())), nil
	})
}
