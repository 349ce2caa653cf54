// Package legalrag implements a multi-stage retrieval pipeline for answering
// procedural questions about Vietnamese administrative/legal procedures:
// question routing, multi-turn clarification, consensus-aware reranking,
// context expansion, and a per-session routing-memory overlay.
//
// This file provides the package's logging façade, built on top of the
// rag package's logging system. It offers:
//   - Multiple severity levels (Debug, Info, Warn, Error)
//   - Structured logging with key-value pairs
//   - Global log level control
//   - Consistent logging across the pipeline
package legalrag

import (
	"github.com/teilomillet/legalrag/rag"
)

// LogLevel represents the severity of a log message.
type LogLevel = rag.LogLevel

const (
	LogLevelOff   = rag.LogLevelOff
	LogLevelError = rag.LogLevelError
	LogLevelWarn  = rag.LogLevelWarn
	LogLevelInfo  = rag.LogLevelInfo
	LogLevelDebug = rag.LogLevelDebug
)

// Logger is the logging interface used throughout the pipeline.
type Logger = rag.Logger

// SetLogLevel sets the global log level.
//
//	legalrag.SetLogLevel(legalrag.LogLevelDebug)
func SetLogLevel(level LogLevel) {
	rag.SetGlobalLogLevel(level)
}

func Debug(msg string, keysAndValues ...interface{}) {
	rag.GlobalLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	rag.GlobalLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	rag.GlobalLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...interface{}) {
	rag.GlobalLogger.Error(msg, keysAndValues...)
}
