// Package config loads the lab server settings: a YAML file layered over
// defaults, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/observability"
	"github.com/signalsfoundry/reactive-labs/timectrl"
)

// DefaultPostsURL is the placeholder API the search and product features read.
const DefaultPostsURL = "https://jsonplaceholder.typicode.com"

// Log selects the logger level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Trace selects the span exporter for scenario runs.
type Trace struct {
	Exporter    string  `yaml:"exporter"` // none, stdout or otlp
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Config is the full server configuration.
type Config struct {
	Addr        string        `yaml:"addr"`
	Clock       string        `yaml:"clock"`
	Tick        time.Duration `yaml:"tick"`
	PostsURL    string        `yaml:"postsURL"`
	ProductsURL string        `yaml:"productsURL"`
	Log         Log           `yaml:"log"`
	Trace       Trace         `yaml:"trace"`
	Labs        labs.Config   `yaml:"labs"`
}

// Default returns the settings used when no file or env override is given.
func Default() Config {
	return Config{
		Addr:        ":8080",
		Clock:       "realtime",
		Tick:        10 * time.Millisecond,
		PostsURL:    DefaultPostsURL,
		ProductsURL: DefaultPostsURL,
		Log:         Log{Level: "info", Format: "text"},
		Trace:       Trace{Exporter: observability.ExporterNone, ServiceName: "reactive-labs", SampleRatio: 1},
		Labs:        labs.DefaultConfig(),
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LABS_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("LABS_CLOCK"); ok && v != "" {
		c.Clock = v
	}
	if v, ok := lookup("LABS_TICK"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LABS_TICK: %w", err)
		}
		c.Tick = d
	}
	if v, ok := lookup("LABS_POSTS_URL"); ok && v != "" {
		c.PostsURL = v
	}
	if v, ok := lookup("LABS_PRODUCTS_URL"); ok && v != "" {
		c.ProductsURL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("LABS_TRACE_EXPORTER"); ok && v != "" {
		c.Trace.Exporter = v
	}
	if v, ok := lookup("LABS_OTLP_ENDPOINT"); ok && v != "" {
		c.Trace.Endpoint = v
	}
	if v, ok := lookup("LABS_TRACE_SAMPLE_RATIO"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LABS_TRACE_SAMPLE_RATIO: %w", err)
		}
		c.Trace.SampleRatio = r
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if _, ok := timectrl.ParseMode(c.Clock); !ok {
		errs = append(errs, fmt.Errorf("clock: unknown mode %q", c.Clock))
	}
	if c.Tick <= 0 {
		errs = append(errs, errors.New("tick: must be positive"))
	}
	if c.PostsURL == "" {
		errs = append(errs, errors.New("postsURL is required"))
	}
	if c.ProductsURL == "" {
		errs = append(errs, errors.New("productsURL is required"))
	}
	switch strings.ToLower(c.Trace.Exporter) {
	case "", observability.ExporterNone, observability.ExporterStdout, observability.ExporterOTLP:
	default:
		errs = append(errs, fmt.Errorf("trace: unknown exporter %q", c.Trace.Exporter))
	}
	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		errs = append(errs, errors.New("trace: sampleRatio must be within [0,1]"))
	}
	if err := c.Labs.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("labs: %w", err))
	}
	return errors.Join(errs...)
}

// Mode is the parsed clock mode. Call Validate first.
func (c Config) Mode() timectrl.Mode {
	m, _ := timectrl.ParseMode(c.Clock)
	return m
}

// Logging maps the log section onto a logger config.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// Tracing maps the trace section onto the span exporter config.
func (c Config) Tracing() observability.TracingConfig {
	return observability.TracingConfig{
		Exporter:    c.Trace.Exporter,
		Endpoint:    c.Trace.Endpoint,
		ServiceName: c.Trace.ServiceName,
		SampleRatio: c.Trace.SampleRatio,
	}
}
