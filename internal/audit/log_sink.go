package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes violations as structured warnings.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, v Violation) error {
	fields := []zap.Field{
		zap.String("identifier", v.Identifier),
		zap.String("limitType", v.LimitType),
		zap.Int64("limit", v.Limit),
		zap.Duration("retryAfter", v.RetryAfter),
		zap.Time("timestamp", v.Timestamp),
	}
	if v.Tier != "" {
		fields = append(fields, zap.String("tier", v.Tier))
	}
	for k, val := range v.Context {
		fields = append(fields, zap.String("ctx."+k, val))
	}
	s.logger.Warn("Rate limit exceeded", fields...)
	return nil
}
