package zaplog

import (
	"fmt"
	"sort"

	"github.com/AnishMulay/simplefs/internal/log_service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogService forwards LogEvents to a zap.Logger. Metadata keys become structured fields.
type ZapLogService struct {
	nodeID string
	logger *zap.Logger
}

// NewZapLogService builds a production logger writing to outputPaths ("stderr" when empty).
// format is "json" or "console".
func NewZapLogService(nodeID, level, format string, outputPaths ...string) (*ZapLogService, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))
	cfg.Encoding = "json"
	if format == "console" {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if len(outputPaths) > 0 {
		cfg.OutputPaths = outputPaths
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return NewFromLogger(nodeID, logger), nil
}

// NewFromLogger wraps an existing zap.Logger.
func NewFromLogger(nodeID string, logger *zap.Logger) *ZapLogService {
	return &ZapLogService{
		nodeID: nodeID,
		logger: logger.With(zap.String("node", nodeID)),
	}
}

func (z *ZapLogService) Sync() error {
	return z.logger.Sync()
}

func toZapLevel(level string) zapcore.Level {
	switch log_service.GetLevelValue(level) {
	case log_service.InfoLevelValue:
		return zapcore.InfoLevel
	case log_service.WarnLevelValue:
		return zapcore.WarnLevel
	case log_service.ErrorLevelValue:
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

func fields(event log_service.LogEvent) []zap.Field {
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, zap.Any(k, event.Metadata[k]))
	}
	if !event.Timestamp.IsZero() {
		out = append(out, zap.Time("event_time", event.Timestamp))
	}
	return out
}

func (z *ZapLogService) Debug(event log_service.LogEvent) {
	z.logger.Debug(event.Message, fields(event)...)
}

func (z *ZapLogService) Info(event log_service.LogEvent) {
	z.logger.Info(event.Message, fields(event)...)
}

func (z *ZapLogService) Warn(event log_service.LogEvent) {
	z.logger.Warn(event.Message, fields(event)...)
}

func (z *ZapLogService) Error(event log_service.LogEvent) {
	z.logger.Error(event.Message, fields(event)...)
}

var _ log_service.LogService = (*ZapLogService)(nil)
