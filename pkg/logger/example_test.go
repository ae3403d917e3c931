package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/screencaster/pkg/logger"
)

// Example showing basic logger usage.
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("pipeline started", "version", "1.0.0")
	log.Warn("dropped frame", "stage", "reorder")
	log.Error("failed to connect", "error", "ice timeout")
}

// Example showing debug category usage.
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.EnableCategory(logger.DebugRTP)
	log.EnableCategory(logger.DebugNAL)

	log.DebugRTPPacket(12345, 90000, 96, 1200)
	log.DebugNALUnit(7, 28, false) // SPS
	log.DebugRTP("packet received", "seq", 12345)
	log.DebugNAL("keyframe detected", "size", 15234)
}

// Example showing command-line flags integration.
func ExampleFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("myapp", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()
	fmt.Println("See cmd/caster/main.go for a complete example")
	// Output: See cmd/caster/main.go for a complete example
}

// Example showing JSON format output.
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "caster_example.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("caster_example.json")

	log.Info("peer connected", "peer_id", "12345", "ip", "192.168.1.1")
}

// Example showing conditional debug logging.
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.EnableCategory(logger.DebugNAL)

	log.DebugNALUnit(7, 1024, false)
	log.DebugRTP("packet received", "seq", 12345)
}
