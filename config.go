package explorer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is a file-backed executor configuration, see LoadConfig, and
// Config.Options. Zero values select defaults.
type Config struct {
	Name           string       `yaml:"name" toml:"name"`
	Rejection      string       `yaml:"rejection" toml:"rejection"` // abort (default), block, or local
	StallLogRates  []RateConfig `yaml:"stall_log_rates" toml:"stall_log_rates"`
	CPUs           []int        `yaml:"cpus" toml:"cpus"` // walker CPU affinity
	Tracks         int          `yaml:"tracks" toml:"tracks"`
	Capacity       int          `yaml:"capacity" toml:"capacity"`
	WatchInterval  Duration     `yaml:"watch_interval" toml:"watch_interval"`
	StallThreshold Duration     `yaml:"stall_threshold" toml:"stall_threshold"`
	Metrics        bool         `yaml:"metrics" toml:"metrics"`
}

// RateConfig is a single sliding window rate, see WithStallLogRates.
type RateConfig struct {
	Window Duration `yaml:"window" toml:"window"`
	Count  int      `yaml:"count" toml:"count"`
}

// Duration is a time.Duration which is encoded as a string, e.g. "10ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) config file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(`explorer: config: %w`, err)
	}
	var format string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case `.yaml`, `.yml`:
		format = `yaml`
	case `.toml`:
		format = `toml`
	default:
		return nil, fmt.Errorf(`explorer: config: unsupported file extension %q`, ext)
	}
	return ParseConfig(format, b)
}

// ParseConfig decodes a config, in the given format, "yaml" or "toml".
// Unknown fields are an error.
func ParseConfig(format string, b []byte) (*Config, error) {
	var c Config
	switch format {
	case `yaml`:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf(`explorer: config: yaml: %w`, err)
		}
	case `toml`:
		md, err := toml.Decode(string(b), &c)
		if err != nil {
			return nil, fmt.Errorf(`explorer: config: toml: %w`, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf(`explorer: config: toml: unknown fields: %v`, undecoded)
		}
	default:
		return nil, fmt.Errorf(`explorer: config: unsupported format %q`, format)
	}
	return &c, nil
}

// Options converts the config to executor options. Options for zero values
// are omitted, leaving the defaults in place.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if c.Name != `` {
		opts = append(opts, WithName(c.Name))
	}
	if c.Tracks != 0 {
		opts = append(opts, WithTracks(c.Tracks))
	}
	if c.Capacity != 0 {
		opts = append(opts, WithCapacity(c.Capacity))
	}
	if c.WatchInterval != 0 {
		opts = append(opts, WithWatchInterval(time.Duration(c.WatchInterval)))
	}
	if c.StallThreshold != 0 {
		opts = append(opts, WithStallThreshold(time.Duration(c.StallThreshold)))
	}
	if c.StallLogRates != nil {
		rates := make(map[time.Duration]int, len(c.StallLogRates))
		for _, r := range c.StallLogRates {
			rates[time.Duration(r.Window)] = r.Count
		}
		opts = append(opts, WithStallLogRates(rates))
	}
	if c.Metrics {
		opts = append(opts, WithMetrics(true))
	}
	if len(c.CPUs) != 0 {
		for _, cpu := range c.CPUs {
			if cpu < 0 {
				return nil, fmt.Errorf(`explorer: config: invalid cpu %d`, cpu)
			}
		}
		opts = append(opts, WithThreadFactory(AffinityThreadFactory{CPUs: c.CPUs}))
	}
	switch strings.ToLower(c.Rejection) {
	case ``, `abort`:
	case `block`:
		opts = append(opts, WithRejectionHandler(BlockPolicy{}))
	case `local`:
		opts = append(opts, WithRejectionHandler(LocalPolicy{}))
	default:
		return nil, fmt.Errorf(`explorer: config: unknown rejection policy %q`, c.Rejection)
	}
	return opts, nil
}
