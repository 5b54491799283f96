package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Pipeline configuration
	OutputPath   string        `long:"output" short:"o" env:"OUTPUT_PATH" default:"feed.xml" description:"Path of the generated RSS document"`
	SourcesFile  string        `long:"sources-file" env:"SOURCES_FILE" description:"YAML file with channel metadata and source groups (embedded defaults when empty)"`
	RequestDelay time.Duration `long:"request-delay" env:"REQUEST_DELAY" default:"1s" description:"Pause between consecutive source requests"`
	Timeout      time.Duration `long:"timeout" env:"REQUEST_TIMEOUT" default:"30s" description:"Per-request HTTP timeout"`
	MaxItems     int           `long:"max-items" env:"MAX_ITEMS" description:"Override the number of items rendered (sources file value when zero)"`
	AllowEmpty   bool          `long:"allow-empty" env:"ALLOW_EMPTY" description:"Write a channel-only feed when no items were collected instead of failing"`
	HistoryDB    string        `long:"history-db" env:"HISTORY_DB" description:"SQLite file recording run history (disabled when empty)"`

	// Serve mode
	Serve        bool          `long:"serve" env:"SERVE" description:"Run as a long-lived server that rebuilds the feed periodically"`
	Port         string        `long:"port" env:"PORT" default:"8080" description:"HTTP server port (serve mode)"`
	Interval     time.Duration `long:"interval" env:"REBUILD_INTERVAL" default:"30m" description:"Rebuild interval (serve mode)"`
	APIAccessKey string        `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for log timestamps (e.g., UTC, Asia/Dhaka)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load reads .env (when present), environment variables and command-line flags.
// A nil config with a nil error means help was printed.
func Load() (*Cfg, error) {
	_ = godotenv.Load()

	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		OutputPath:   raw.OutputPath,
		SourcesFile:  raw.SourcesFile,
		RequestDelay: raw.RequestDelay,
		Timeout:      raw.Timeout,
		MaxItems:     raw.MaxItems,
		AllowEmpty:   raw.AllowEmpty,
		HistoryDB:    raw.HistoryDB,
		Serve:        raw.Serve,
		Port:         raw.Port,
		Interval:     raw.Interval,
		APIAccessKey: raw.APIAccessKey,
		UserAgent:    cmp.Or(raw.UserAgent, DefaultUserAgent),
		Timezone:     raw.Timezone,
		Debug:        raw.Debug,
		Version:      GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay must be non-negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items must be non-negative")
	}
	if c.Serve && c.Interval <= 0 {
		return fmt.Errorf("rebuild interval must be positive in serve mode")
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}
