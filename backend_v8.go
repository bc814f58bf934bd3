//go:build v8

package scriptcage

import (
	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/core"
	"github.com/cryguy/scriptcage/internal/v8engine"
	"github.com/cryguy/scriptcage/internal/webapi"
)

func newBackend(cfg core.Config, log *zap.Logger, extra []webapi.Module) (core.Backend, error) {
	return v8engine.New(cfg, log, extra...)
}
