//go:build !v8

package scriptcage

import (
	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/core"
	"github.com/cryguy/scriptcage/internal/quickjs"
	"github.com/cryguy/scriptcage/internal/webapi"
)

func newBackend(cfg core.Config, log *zap.Logger, extra []webapi.Module) (core.Backend, error) {
	return quickjs.New(cfg, log, extra...)
}
