// Package config loads the caster/receiver process configuration from
// a .env-style key=value file: listen address, mDNS service name,
// recording directory, default display, and default FPS ceiling. This
// is process startup configuration, distinct from the watched
// CaptureOpts the running pipeline observes.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Config holds process-level settings for a caster or receiver.
type Config struct {
	ListenAddr      string
	MDNSServiceName string
	RecordDir       string
	DefaultDisplay  string
	DefaultMaxFPS   uint32
	ICEServers      []string
}

// Default returns baseline values used when a .env file is absent or
// a field is unset.
func Default() Config {
	return Config{
		ListenAddr:      ":8443",
		MDNSServiceName: "_screen_caster._tcp.local.",
		RecordDir:       "./recordings",
		DefaultMaxFPS:   30,
		ICEServers:      []string{"stun:stun.l.google.com:19302"},
	}
}

// Load reads configuration from a .env-style file, starting from
// Default() and overwriting recognized keys.
func Load(envPath string) (Config, error) {
	cfg := Default()

	file, err := os.Open(envPath)
	if err != nil {
		return Config{}, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		switch key {
		case "listen_addr":
			cfg.ListenAddr = decoded
		case "mdns_service_name":
			cfg.MDNSServiceName = decoded
		case "record_dir":
			cfg.RecordDir = decoded
		case "default_display":
			cfg.DefaultDisplay = decoded
		case "default_max_fps":
			var fps uint32
			if _, err := fmt.Sscanf(decoded, "%d", &fps); err == nil && fps > 0 {
				cfg.DefaultMaxFPS = fps
			}
		case "ice_servers":
			cfg.ICEServers = strings.Split(decoded, ",")
		}
	}

	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that required fields hold sane values.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("missing listen_addr")
	}
	if c.MDNSServiceName == "" {
		return fmt.Errorf("missing mdns_service_name")
	}
	if c.DefaultMaxFPS < 15 {
		return fmt.Errorf("default_max_fps must be >= 15, got %d", c.DefaultMaxFPS)
	}
	return nil
}
