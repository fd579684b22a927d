package observability

import (
	"fmt"

	"github.com/tphakala/twinplay/internal/logger"
)

// GetLogger returns the telemetry module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// promLogger routes promhttp handler errors into the central logger
type promLogger struct{}

func (promLogger) Println(v ...any) {
	GetLogger().Warn("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
