package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel     string
	LogFormat    string
	LogFile      string
	DebugRTP     bool
	DebugNAL     bool
	DebugJitter  bool
	DebugSync    bool
	DebugCapture bool
	DebugCodec   bool
	DebugWebRTC  bool
	DebugAll     bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable detailed RTP packet debugging")
	fs.BoolVar(&f.DebugNAL, "debug-nal", false, "Enable detailed NAL unit debugging")
	fs.BoolVar(&f.DebugJitter, "debug-jitter", false, "Enable jitter buffer debugging")
	fs.BoolVar(&f.DebugSync, "debug-sync", false, "Enable A/V sync stage debugging")
	fs.BoolVar(&f.DebugCapture, "debug-capture", false, "Enable screen capture loop debugging")
	fs.BoolVar(&f.DebugCodec, "debug-codec", false, "Enable encoder/decoder debugging")
	fs.BoolVar(&f.DebugWebRTC, "debug-webrtc", false, "Enable WebRTC debugging (ICE, SDP, connection state)")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config.
func (f *Flags) ToConfig() (Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return Config{}, err
	}
	cfg.Format = format
	cfg.OutputFile = f.LogFile

	enable := func(c DebugCategory) {
		cfg.EnabledCategories[c] = true
		cfg.Level = LevelDebug
	}

	if f.DebugAll {
		cfg.EnabledCategories[DebugAll] = true
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTP {
			enable(DebugRTP)
		}
		if f.DebugNAL {
			enable(DebugNAL)
		}
		if f.DebugJitter {
			enable(DebugJitter)
		}
		if f.DebugSync {
			enable(DebugSync)
		}
		if f.DebugCapture {
			enable(DebugCapture)
		}
		if f.DebugCodec {
			enable(DebugCodec)
		}
		if f.DebugWebRTC {
			enable(DebugWebRTC)
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags.
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./caster

  Enable DEBUG level:
    ./caster --log-level debug

  Log to file:
    ./caster --log-file caster.log

  JSON format for structured logging:
    ./caster --log-format json -o caster.json

  Debug the jitter buffer and sync stage:
    ./receiver --debug-jitter --debug-sync

  Debug everything:
    ./caster --debug-all -o debug.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags.
func (f *Flags) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	if f.DebugAll {
		cats = append(cats, "all")
	} else {
		if f.DebugRTP {
			cats = append(cats, "rtp")
		}
		if f.DebugNAL {
			cats = append(cats, "nal")
		}
		if f.DebugJitter {
			cats = append(cats, "jitter")
		}
		if f.DebugSync {
			cats = append(cats, "sync")
		}
		if f.DebugCapture {
			cats = append(cats, "capture")
		}
		if f.DebugCodec {
			cats = append(cats, "codec")
		}
		if f.DebugWebRTC {
			cats = append(cats, "webrtc")
		}
	}
	if len(cats) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(cats, ",")))
	}
	return strings.Join(parts, " ")
}
