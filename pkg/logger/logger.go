// Package logger wraps log/slog with category-gated debug logging and
// file/format configuration, in the shape the rest of the pipeline
// expects: a Logger embedding *slog.Logger, a Config describing level/
// format/output, and package-level Debug/Info/Warn/Error convenience
// functions backed by a lazily-initialized default.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level represents the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// DebugCategory gates a specific class of high-volume debug logging.
type DebugCategory string

const (
	DebugRTP     DebugCategory = "rtp"
	DebugNAL     DebugCategory = "nal"
	DebugJitter  DebugCategory = "jitter"
	DebugSync    DebugCategory = "sync"
	DebugCapture DebugCategory = "capture"
	DebugCodec   DebugCategory = "codec"
	DebugWebRTC  DebugCategory = "webrtc"
	DebugAll     DebugCategory = "all"
)

var allCategories = []DebugCategory{DebugRTP, DebugNAL, DebugJitter, DebugSync, DebugCapture, DebugCodec, DebugWebRTC}

// OutputFormat determines the log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	Level             Level
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
}

// NewConfig returns sensible defaults: info level, text format, stdout.
func NewConfig() Config {
	return Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to Level.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat.
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts Level to slog.Level.
func (l Level) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger wraps slog.Logger with category-gated debug helpers.
type Logger struct {
	*slog.Logger
	mu         sync.RWMutex
	categories map[DebugCategory]bool
	file       *os.File
}

// New creates a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level.ToSlogLevel()}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	categories := cfg.EnabledCategories
	if categories == nil {
		categories = make(map[DebugCategory]bool)
	}
	if categories[DebugAll] {
		for _, c := range allCategories {
			categories[c] = true
		}
	}

	return &Logger{
		Logger:     slog.New(handler),
		categories: categories,
		file:       file,
	}, nil
}

// EnableCategory turns on a debug category at runtime.
func (l *Logger) EnableCategory(category DebugCategory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if category == DebugAll {
		for _, c := range allCategories {
			l.categories[c] = true
		}
		return
	}
	l.categories[category] = true
}

// IsCategoryEnabled reports whether category is enabled.
func (l *Logger) IsCategoryEnabled(category DebugCategory) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.categories[category]
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) categoryDebug(category DebugCategory, msg string, args ...any) {
	if l.IsCategoryEnabled(category) {
		args = append([]any{"category", string(category)}, args...)
		l.Debug(msg, args...)
	}
}

func (l *Logger) DebugRTP(msg string, args ...any)     { l.categoryDebug(DebugRTP, msg, args...) }
func (l *Logger) DebugNAL(msg string, args ...any)     { l.categoryDebug(DebugNAL, msg, args...) }
func (l *Logger) DebugJitter(msg string, args ...any)  { l.categoryDebug(DebugJitter, msg, args...) }
func (l *Logger) DebugSync(msg string, args ...any)    { l.categoryDebug(DebugSync, msg, args...) }
func (l *Logger) DebugCapture(msg string, args ...any) { l.categoryDebug(DebugCapture, msg, args...) }
func (l *Logger) DebugCodec(msg string, args ...any)   { l.categoryDebug(DebugCodec, msg, args...) }
func (l *Logger) DebugWebRTC(msg string, args ...any)  { l.categoryDebug(DebugWebRTC, msg, args...) }

// DebugRTPPacket logs detailed RTP packet information.
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	l.categoryDebug(DebugRTP, "RTP packet", "sequence", seq, "timestamp", timestamp, "payload_type", payloadType, "payload_size", payloadSize)
}

// DebugNALUnit logs NAL unit type and size.
func (l *Logger) DebugNALUnit(naluType uint8, size int, fragmented bool) {
	l.categoryDebug(DebugNAL, "NAL unit", "type", naluType, "type_name", nalTypeName(naluType), "size", size, "fragmented", fragmented)
}

// WithContext returns a logger carrying the same config; kept for
// symmetry with call sites that thread a context through.
func (l *Logger) WithContext(_ context.Context) *Logger {
	return l
}

// With returns a new Logger with the given attributes attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:     l.Logger.With(args...),
		categories: l.categories,
		file:       l.file,
	}
}

func nalTypeName(naluType uint8) string {
	switch naluType {
	case 1:
		return "P-frame"
	case 5:
		return "IDR"
	case 6:
		return "SEI"
	case 7:
		return "SPS"
	case 8:
		return "PPS"
	case 9:
		return "AUD"
	case 24:
		return "STAP-A"
	case 28:
		return "FU-A"
	default:
		return fmt.Sprintf("unknown(%d)", naluType)
	}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault sets the global default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// Default returns the default logger, creating one from NewConfig if
// one hasn't been set yet.
func Default() *Logger {
	once.Do(func() {
		if defaultLogger != nil {
			return
		}
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), categories: make(map[DebugCategory]bool)}
		}
		defaultLogger = l
	})
	return defaultLogger
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
