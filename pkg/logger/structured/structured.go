package structured

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger implements LoggerInstance with zap's JSON encoder, for
// deployments that ship logs to an aggregator.
type StructuredLogger struct {
	sugar *zap.SugaredLogger
}

type StructuredLoggerParams struct {
	Debug bool
	// Core replaces the production core; tests use it to observe output.
	Core zapcore.Core
}

func NewStructuredLogger(params StructuredLoggerParams) (*StructuredLogger, error) {
	if params.Core != nil {
		return &StructuredLogger{sugar: zap.New(params.Core).Sugar()}, nil
	}

	cfg := zap.NewProductionConfig()
	if params.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return &StructuredLogger{sugar: l.Sugar()}, nil
}

func (s *StructuredLogger) Sync() error { return s.sugar.Sync() }

func (s *StructuredLogger) Log(message string, keyvals ...any) {
	s.sugar.Infow(message, redact(keyvals)...)
}

func (s *StructuredLogger) Debug(message string, keyvals ...any) {
	s.sugar.Debugw(message, redact(keyvals)...)
}

func (s *StructuredLogger) Info(message string, keyvals ...any) {
	s.sugar.Infow(message, redact(keyvals)...)
}

func (s *StructuredLogger) Warn(message string, keyvals ...any) {
	s.sugar.Warnw(message, redact(keyvals)...)
}

func (s *StructuredLogger) Error(message string, keyvals ...any) {
	s.sugar.Errorw(message, redact(keyvals)...)
}

func (s *StructuredLogger) Fatal(message string, keyvals ...any) {
	s.sugar.Fatalw(message, redact(keyvals)...)
}

var secretKeys = []string{"password", "secret", "token", "authorization", "api_key", "apikey"}

// redact masks values whose key names a credential.
func redact(keyvals []any) []any {
	out := make([]any, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(key)
		for _, s := range secretKeys {
			if strings.Contains(lower, s) {
				out[i+1] = "[REDACTED]"
				break
			}
		}
	}
	return out
}
