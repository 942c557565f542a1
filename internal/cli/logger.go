package cli

import "go.uber.org/zap"

// newSessionLogger builds the verbose debug logger with session context. A
// nop logger is returned unless --verbose is set, so library layers can log
// unconditionally.
func newSessionLogger(globals *Globals, sessionID string) *zap.SugaredLogger {
	if globals == nil || !globals.Verbose {
		return zap.NewNop().Sugar()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar().With("session_id", sessionID)
}
