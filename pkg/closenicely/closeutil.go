package closenicely

import (
	"io"

	"go.uber.org/zap"
)

// OrDebug closes `closer`, logging any failure at debug level under `what`.
func OrDebug(closer io.Closer, what string) {
	FuncOrDebug(closer.Close, what)
}

func FuncOrDebug(closer func() error, what string) {
	if err := closer(); err != nil {
		zap.L().Debug("Failed to close resource", zap.String("resource", what), zap.Error(err))
	}
}
