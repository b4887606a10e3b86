package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
)

// Log writes every row as a structured log line.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a sink backed by logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("runlog")}
}

// Name implements runlog.Sink.
func (l *Log) Name() string { return "log" }

// Write implements runlog.Sink.
func (l *Log) Write(_ context.Context, batch runlog.Batch) error {
	for _, r := range batch.Rows {
		fields := []zap.Field{
			zap.String("run_id", r.RunID),
			zap.String("label", batch.Label),
			zap.String("country", r.Country),
			zap.String("url", r.URL),
			zap.Int("status", r.Status),
			zap.String("cf_cache", r.EdgeCache),
			zap.String("litespeed_cache", r.OriginCache),
			zap.String("cf_ray", r.EdgeRay),
			zap.Bool("error", r.Errored),
		}
		if r.ResponseMS != nil {
			fields = append(fields, zap.Int64("response_ms", *r.ResponseMS))
		}
		if r.Message != "" {
			fields = append(fields, zap.String("message", r.Message))
		}
		l.logger.Info("warm row", fields...)
	}
	return nil
}
