package transcode

import (
	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcode.Converter, error) {
		return NewFFmpegConverter(), nil
	})
}
