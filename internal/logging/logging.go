// Package logging provides structured logging for the application
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	loggerKey     contextKey = "logger"
	txIDKey       contextKey = "tx_id"
	equivalentKey contextKey = "equivalent_id"
)

// New creates a new structured logger
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithTxID adds a payment/clearing transaction ID to the context
func WithTxID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, txIDKey, txID)
}

// TxID extracts the transaction ID from context
func TxID(ctx context.Context) string {
	if id, ok := ctx.Value(txIDKey).(string); ok {
		return id
	}
	return ""
}

// WithEquivalent adds the equivalent ID to the context
func WithEquivalent(ctx context.Context, equivalentID string) context.Context {
	return context.WithValue(ctx, equivalentKey, equivalentID)
}

// Equivalent extracts the equivalent ID from context
func Equivalent(ctx context.Context) string {
	if id, ok := ctx.Value(equivalentKey).(string); ok {
		return id
	}
	return ""
}

// L is a convenience function to get a logger with request/tx context
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if reqID := RequestID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if txID := TxID(ctx); txID != "" {
		logger = logger.With("tx_id", txID)
	}
	if eq := Equivalent(ctx); eq != "" {
		logger = logger.With("equivalent_id", eq)
	}
	return logger
}
