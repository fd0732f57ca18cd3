package worker

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("DOCCHAT_WORKER_DEBUG"), "1")

// debugLogger traces dispatch decisions only when DOCCHAT_WORKER_DEBUG=1.
func debugLogger(l *zap.Logger) *zap.Logger {
	if !workerDebugEnabled || l == nil {
		return zap.NewNop()
	}
	return l.Named("dispatch")
}
