/*
File: logger.go
Version: 2.0.0
Description: Structured, multi-output logging on log/slog with an asynchronous buffered handler.
             Outputs: console (stderr), file (text or JSON) and syslog (local socket or remote UDP/TCP).
             Printf-style LogDebug/LogInfo/LogWarn/LogError wrappers keep call sites terse.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Global logger instance
var logger *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// Cached level for fast checks
var currentLevel slog.Level = slog.LevelInfo

var (
	logBuffer  chan slog.Record
	logWg      sync.WaitGroup
	logDone    chan struct{}
	logFile    io.Closer
	asyncReady bool
)

const logBufferSize = 16384

// InitLogger replaces the default stderr logger with the configured outputs.
func InitLogger(cfg LoggingConfig) error {
	lvl := parseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handlers []slog.Handler
	for _, output := range cfg.Outputs {
		var (
			h   slog.Handler
			err error
		)
		switch strings.ToLower(output) {
		case "console":
			h = slog.NewTextHandler(os.Stderr, opts)
		case "file":
			h, err = newFileHandler(cfg, opts)
		case "syslog":
			h, err = newSyslogHandler(cfg, lvl)
		default:
			return fmt.Errorf("unknown logging output %q", output)
		}
		if err != nil {
			return err
		}
		handlers = append(handlers, h)
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
	}

	var finalHandler slog.Handler
	if len(handlers) > 1 {
		finalHandler = &MultiHandler{handlers: handlers}
	} else {
		finalHandler = handlers[0]
	}

	logBuffer = make(chan slog.Record, logBufferSize)
	logDone = make(chan struct{})

	logWg.Add(1)
	go func() {
		defer logWg.Done()
		processLogs(finalHandler)
	}()
	asyncReady = true
	currentLevel = lvl

	logger = slog.New(&AsyncHandler{handler: finalHandler, buffer: logBuffer})
	slog.SetDefault(logger)

	LogInfo("[SYSTEM] Logger initialized (Level: %s, Outputs: %s)", lvl, strings.Join(cfg.Outputs, ","))
	return nil
}

func newFileHandler(cfg LoggingConfig, opts *slog.HandlerOptions) (slog.Handler, error) {
	if cfg.File.Path == "" {
		return nil, fmt.Errorf("file logging enabled but no path specified")
	}

	perm := os.FileMode(0644)
	if cfg.File.Permissions > 0 {
		perm = os.FileMode(cfg.File.Permissions)
	}

	f, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f

	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(f, opts), nil
	}
	return slog.NewTextHandler(f, opts), nil
}

func newSyslogHandler(cfg LoggingConfig, lvl slog.Level) (slog.Handler, error) {
	// Syslog adds its own timestamp.
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}

	tag := cfg.Syslog.Tag
	if tag == "" {
		tag = "urlguard"
	}

	isLocal := cfg.Syslog.Network == "unixgram" || cfg.Syslog.Network == "unix" ||
		cfg.Syslog.Address == "" || cfg.Syslog.Address == "/dev/log"

	if isLocal && runtime.GOOS != "windows" {
		writer, err := syslog.New(syslog.Priority(cfg.Syslog.Facility)|syslog.LOG_INFO, tag)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to local syslog: %w", err)
		}
		return slog.NewTextHandler(&syslogWriteWrapper{w: writer}, opts), nil
	}

	w := &SyslogWriter{
		Network:  cfg.Syslog.Network,
		Address:  cfg.Syslog.Address,
		Tag:      tag,
		Facility: cfg.Syslog.Facility,
		Hostname: "localhost",
	}
	if h, err := os.Hostname(); err == nil {
		w.Hostname = h
	}
	return slog.NewTextHandler(w, opts), nil
}

type syslogWriteWrapper struct {
	w *syslog.Writer
}

func (sw *syslogWriteWrapper) Write(p []byte) (n int, err error) {
	s := string(p)
	switch {
	case strings.Contains(s, "level=ERROR"):
		return len(p), sw.w.Err(s)
	case strings.Contains(s, "level=WARN"):
		return len(p), sw.w.Warning(s)
	case strings.Contains(s, "level=DEBUG"):
		return len(p), sw.w.Debug(s)
	}
	return len(p), sw.w.Info(s)
}

func processLogs(h slog.Handler) {
	ctx := context.Background()
	for {
		select {
		case record := <-logBuffer:
			_ = h.Handle(ctx, record)
		case <-logDone:
			for {
				select {
				case record := <-logBuffer:
					_ = h.Handle(ctx, record)
				default:
					return
				}
			}
		}
	}
}

// ShutdownLogger drains buffered records and closes the log file.
func ShutdownLogger() {
	if !asyncReady {
		return
	}
	asyncReady = false
	close(logDone)
	logWg.Wait()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// AsyncHandler enqueues records for the background writer and drops them when the buffer is full.
type AsyncHandler struct {
	handler slog.Handler
	buffer  chan slog.Record
}

func (h *AsyncHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	select {
	case h.buffer <- r.Clone():
	default:
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{handler: h.handler.WithAttrs(attrs), buffer: h.buffer}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{handler: h.handler.WithGroup(name), buffer: h.buffer}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type MultiHandler struct {
	handlers []slog.Handler
}

func (m *MultiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: handlers}
}

// --- Level Checks ---

func IsDebugEnabled() bool {
	return currentLevel <= slog.LevelDebug
}

// --- Printf Wrappers ---

func logWithCaller(level slog.Level, format string, v ...interface{}) {
	if logger == nil || !logger.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, v...), pcs[0])
	_ = logger.Handler().Handle(context.Background(), r)
}

func LogDebug(format string, v ...interface{}) {
	logWithCaller(slog.LevelDebug, format, v...)
}

func LogInfo(format string, v ...interface{}) {
	logWithCaller(slog.LevelInfo, format, v...)
}

func LogWarn(format string, v ...interface{}) {
	logWithCaller(slog.LevelWarn, format, v...)
}

func LogError(format string, v ...interface{}) {
	logWithCaller(slog.LevelError, format, v...)
}

func LogFatal(format string, v ...interface{}) {
	logWithCaller(slog.LevelError, format, v...)
	ShutdownLogger()
	os.Exit(1)
}

// SyslogWriter sends RFC 3164-style lines to a remote collector, reconnecting on failure.
type SyslogWriter struct {
	Network  string
	Address  string
	Tag      string
	Hostname string
	Facility int
	conn     net.Conn
	mu       sync.Mutex
}

func (w *SyslogWriter) connect() error {
	if w.conn != nil {
		return nil
	}
	network := w.Network
	if network == "" {
		network = "udp"
	}
	conn, err := net.DialTimeout(network, w.Address, time.Second)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *SyslogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	msg := strings.TrimSuffix(string(p), "\n")
	severity := 6
	for _, lv := range []struct {
		tag string
		sev int
	}{{"level=ERROR", 3}, {"level=WARN", 4}, {"level=DEBUG", 7}, {"level=INFO", 6}} {
		if strings.Contains(msg, lv.tag) {
			severity = lv.sev
			msg = strings.Replace(msg, lv.tag, "", 1)
			break
		}
	}

	line := fmt.Sprintf("<%d>%s %s %s: %s", w.Facility*8+severity,
		time.Now().Format(time.RFC3339), w.Hostname, w.Tag, strings.TrimSpace(msg))

	if err := w.connect(); err != nil {
		return len(p), nil
	}
	if _, err := fmt.Fprint(w.conn, line); err != nil {
		w.conn.Close()
		w.conn = nil
		if err := w.connect(); err == nil {
			fmt.Fprint(w.conn, line)
		}
	}
	return len(p), nil
}
