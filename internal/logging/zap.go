package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap returns a structured zap.Logger for callers that want leveled
// fields rather than logging's own printf-and-JSON-suffix format. No
// package in this module calls it. It writes to the same debug.log file as the
// rest of this package and is a true no-op logger when debug mode is
// off, so it never opens a file laminark wasn't already going to open.
func Zap(category Category) *zap.Logger {
	if !debugMode || logFile == nil {
		return zap.NewNop()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(logFile),
		zapcore.DebugLevel,
	)
	return zap.New(core).With(zap.String("cat", string(category)))
}
