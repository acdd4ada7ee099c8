// Package config provides configuration parsing and validation for the
// decoder.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/skydecoder/internal/subscription"
)

// Config represents the complete decoder configuration.
type Config struct {
	Decoder DecoderConfig `yaml:"decoder"`
	Link    LinkConfig    `yaml:"link"`
	Flash   FlashConfig   `yaml:"flash"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DecoderConfig is the provisioned identity and key material of one
// decoder. Keys are hex-encoded; `skydecoder provision` emits this section
// from the deployment secrets.
type DecoderConfig struct {
	ID uint32 `yaml:"id"`

	// SubscriptionKey decrypts subscription updates (hex, 64 chars).
	SubscriptionKey string `yaml:"subscription_key"`

	// SubscriptionPublicKey verifies subscription signatures (hex, 64 chars).
	SubscriptionPublicKey string `yaml:"subscription_public_key"`

	// EmergencyChannelID is the always-decodable channel.
	EmergencyChannelID uint32 `yaml:"emergency_channel_id"`

	// EmergencyKey is the emergency channel's symmetric key (hex, 64 chars).
	EmergencyKey string `yaml:"emergency_key"`

	// EmergencyPublicKey verifies emergency-channel frames (hex, 64 chars).
	EmergencyPublicKey string `yaml:"emergency_public_key"`
}

// LinkConfig selects the host byte stream. At most one of Device and
// Listen may be set; with neither, the decoder speaks on stdin/stdout.
type LinkConfig struct {
	// Device is a serial device path, e.g. /dev/ttyUSB0.
	Device string `yaml:"device"`

	// Listen is a TCP listen address, e.g. 127.0.0.1:7000. Connections
	// are served one at a time.
	Listen string `yaml:"listen"`
}

// FlashConfig describes the persistent store backing the subscription
// slots.
type FlashConfig struct {
	// Image is the flash image file; empty means volatile in-memory
	// flash (subscriptions lost on exit).
	Image string `yaml:"image"`

	// PageSize is the erase-page size in bytes.
	PageSize int `yaml:"page_size"`

	// Pages lists the page indices reserved for subscription slots.
	Pages []int `yaml:"pages"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the metrics HTTP address; empty disables metrics.
	Listen string `yaml:"listen"`
}

// DefaultPageSize matches the flash part the appliance uses.
const DefaultPageSize = 8192

// Default returns a configuration with every optional field at its
// default.
func Default() *Config {
	pages := make([]int, subscription.MaxSubscriptions)
	for i := range pages {
		pages[i] = i
	}
	return &Config{
		Flash: FlashConfig{
			PageSize: DefaultPageSize,
			Pages:    pages,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Link.Device != "" && c.Link.Listen != "" {
		return fmt.Errorf("link: device and listen are mutually exclusive")
	}

	if c.Flash.PageSize < subscription.CompressedSize+16 {
		return fmt.Errorf("flash: page size %d cannot hold a subscription record", c.Flash.PageSize)
	}
	if len(c.Flash.Pages) != subscription.MaxSubscriptions {
		return fmt.Errorf("flash: need %d reserved pages, got %d", subscription.MaxSubscriptions, len(c.Flash.Pages))
	}
	seen := make(map[int]bool, len(c.Flash.Pages))
	for _, p := range c.Flash.Pages {
		if p < 0 {
			return fmt.Errorf("flash: negative page index %d", p)
		}
		if seen[p] {
			return fmt.Errorf("flash: page %d reserved twice", p)
		}
		seen[p] = true
	}

	for _, key := range []struct {
		name  string
		value string
	}{
		{"decoder.subscription_key", c.Decoder.SubscriptionKey},
		{"decoder.subscription_public_key", c.Decoder.SubscriptionPublicKey},
		{"decoder.emergency_key", c.Decoder.EmergencyKey},
		{"decoder.emergency_public_key", c.Decoder.EmergencyPublicKey},
	} {
		if _, err := parseKey(key.name, key.value); err != nil {
			return err
		}
	}

	return nil
}

// parseKey decodes one hex-encoded 32-byte key field.
func parseKey(name, value string) ([32]byte, error) {
	var key [32]byte
	if value == "" {
		return key, fmt.Errorf("%s: not set", name)
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return key, fmt.Errorf("%s: %w", name, err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("%s: got %d bytes, want 32", name, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// GetSubscriptionKey returns the parsed subscription symmetric key.
func (c *Config) GetSubscriptionKey() ([32]byte, error) {
	return parseKey("decoder.subscription_key", c.Decoder.SubscriptionKey)
}

// GetSubscriptionPublicKey returns the parsed subscription verifying key.
func (c *Config) GetSubscriptionPublicKey() ([32]byte, error) {
	return parseKey("decoder.subscription_public_key", c.Decoder.SubscriptionPublicKey)
}

// GetEmergencyKey returns the parsed emergency channel symmetric key.
func (c *Config) GetEmergencyKey() ([32]byte, error) {
	return parseKey("decoder.emergency_key", c.Decoder.EmergencyKey)
}

// GetEmergencyPublicKey returns the parsed emergency channel verifying key.
func (c *Config) GetEmergencyPublicKey() ([32]byte, error) {
	return parseKey("decoder.emergency_public_key", c.Decoder.EmergencyPublicKey)
}
