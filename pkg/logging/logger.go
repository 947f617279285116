// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for the movi CLI and the
// development backend.
//
// The logger is a thin layer over log/slog with three destinations:
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                           Logger                             │
//	│  ┌─────────────┐  ┌──────────────┐  ┌─────────────────────┐  │
//	│  │   console   │  │   log file   │  │    LogExporter      │  │
//	│  │  (stderr)   │  │  (optional)  │  │    (optional)       │  │
//	│  └─────────────┘  └──────────────┘  └─────────────────────┘  │
//	└──────────────────────────────────────────────────────────────┘
//
// All three are slog handlers, so records logged through Slog() (which is
// what library packages receive) reach every destination, exporter
// included.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.movi/logs",
//	    Service: "movi",
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Thread Safety
//
// Logger is safe for concurrent use.
//
// # Security Considerations
//
// Nothing is redacted automatically. Log the presence of secrets, never
// their values:
//
//	logger.Info("auth", "api_key_present", apiKey != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity. Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting, such as every dropped
	// stream record.
	LevelDebug Level = iota - 1

	// LevelInfo is for normal operation: turns started and finished,
	// confirmations opened. It is the zero value.
	LevelInfo

	// LevelWarn is for recoverable issues: malformed records, ignored
	// frames.
	LevelWarn

	// LevelError is for failed operations: transport failures, in-band
	// error events.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts debug, info, warn/warning, and error in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Info and above to stderr
// as text.
type Config struct {
	// Level sets the minimum log level.
	// Default: LevelInfo
	Level Level

	// LogDir enables file logging. Files are named
	// "{Service}_{YYYY-MM-DD}.log" and are always JSON. A leading ~ is
	// expanded. The directory is created with 0750 permissions.
	// Default: "" (disabled)
	LogDir string

	// Service is attached to every record as "service".
	// Default: "" (no attribute)
	Service string

	// JSON switches console output from text to JSON.
	JSON bool

	// Quiet disables console output.
	Quiet bool

	// Output replaces stderr as the console destination.
	Output io.Writer

	// Exporter receives every record that passes Level.
	// Default: nil
	Exporter LogExporter

	// ExportBuffer bounds the queue in front of Exporter. Records are
	// dropped, not blocked on, when it is full.
	// Default: 256
	ExportBuffer int
}

// =============================================================================
// Export Extension
// =============================================================================

// LogExporter ships log records to an external system.
//
// Export is called from a single background goroutine, in record order.
// Flush and Close are called once, in that order, from Logger.Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is one exported record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string

	// Attrs holds the record's attributes, including those added with
	// With. Group names prefix keys with "group.".
	Attrs map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// Use Slog() to hand the logger to packages that take a *slog.Logger. Call
// Close when done so the log file is synced and the exporter drained.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	filePath string
	export   *exportQueue

	mu     sync.Mutex
	closed bool
}

// New creates a Logger. File logging failures degrade to console-only
// output; New never fails.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	logger := &Logger{config: config}

	var handlers []slog.Handler
	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	if config.LogDir != "" {
		if file, path, err := openLogFile(config.LogDir, config.Service); err == nil {
			logger.file = file
			logger.filePath = path
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	if config.Exporter != nil {
		logger.export = newExportQueue(config.Exporter, config.ExportBuffer)
		handlers = append(handlers, &exportHandler{
			queue:   logger.export,
			level:   config.Level,
			service: config.Service,
		})
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger for service "movi".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "movi"})
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger with extra attributes. The child shares the
// parent's destinations; only the parent should be closed.
//
//	turnLogger := logger.With("request_id", reqID)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		filePath: l.filePath,
	}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// FilePath returns the active log file, or "" when file logging is off.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close drains and closes the exporter, then syncs and closes the log file.
// It returns the first error encountered. Calling Close twice is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.export != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, l.export.close(ctx)...)
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// DroppedExports returns how many records were dropped because the export
// queue was full.
func (l *Logger) DroppedExports() int64 {
	if l.export == nil {
		return 0
	}
	return l.export.dropped.Load()
}

func openLogFile(dir, service string) (*os.File, string, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, "", err
	}
	if service == "" {
		service = "movi"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, "", err
	}
	return file, path, nil
}

// =============================================================================
// Multi-Handler
// =============================================================================

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers to every enabled handler and returns the first error.
// One failing destination does not starve the others.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Export Handler
// =============================================================================

// exportQueue decouples logging calls from a possibly slow exporter.
type exportQueue struct {
	exporter LogExporter
	entries  chan LogEntry
	done     chan struct{}
	dropped  atomic.Int64

	closeOnce sync.Once
}

func newExportQueue(exporter LogExporter, size int) *exportQueue {
	if size <= 0 {
		size = 256
	}
	q := &exportQueue{
		exporter: exporter,
		entries:  make(chan LogEntry, size),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *exportQueue) run() {
	defer close(q.done)
	for entry := range q.entries {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = q.exporter.Export(ctx, entry)
		cancel()
	}
}

// push never blocks. Records logged after close are dropped.
func (q *exportQueue) push(entry LogEntry) {
	defer func() {
		if recover() != nil {
			q.dropped.Add(1)
		}
	}()
	select {
	case q.entries <- entry:
	default:
		q.dropped.Add(1)
	}
}

func (q *exportQueue) close(ctx context.Context) []error {
	var errs []error
	q.closeOnce.Do(func() {
		close(q.entries)
		select {
		case <-q.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("drain exporter: %w", ctx.Err()))
		}
		if err := q.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := q.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	})
	return errs
}

// exportHandler turns slog records into LogEntry values.
type exportHandler struct {
	queue   *exportQueue
	level   Level
	service string
	attrs   map[string]any
	group   string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.toSlogLevel()
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		attrs[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, h.group, a)
		return true
	})

	h.queue.push(LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		addAttr(next.attrs, h.group, a)
	}
	return next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.group = joinKey(h.group, name)
	return next
}

func (h *exportHandler) clone() *exportHandler {
	attrs := make(map[string]any, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &exportHandler{
		queue:   h.queue,
		level:   h.level,
		service: h.service,
		attrs:   attrs,
		group:   h.group,
	}
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, inner := range v.Group() {
			addAttr(dst, joinKey(prefix, a.Key), inner)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[joinKey(prefix, a.Key)] = v.Any()
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// WriterExporter writes one line per entry to w.
type WriterExporter struct {
	w      io.Writer
	closer io.Closer
	mu     sync.Mutex
}

// NewWriterExporter creates a WriterExporter. It does not own w.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

// NewFileExporter appends entries to the file at path, creating it and its
// directory as needed. Close closes the file.
func NewFileExporter(path string) (*WriterExporter, error) {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return &WriterExporter{w: file, closer: file}, nil
}

func (e *WriterExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

func (e *WriterExporter) Flush(context.Context) error { return nil }

func (e *WriterExporter) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

var _ LogExporter = (*WriterExporter)(nil)
