package feed

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const DefaultMaxItems = 50

// DefaultLanguage is the channel language when the sources file omits one.
const DefaultLanguage = "bn"

//go:embed defaults.yml
var defaultSources []byte

var defaultDescriptionFields = []string{"excerpt", "summary"}

var validDescriptionFields = map[string]bool{
	"excerpt":   true,
	"summary":   true,
	"sub_title": true,
	"title":     true,
}

// SourceLoader loads channel metadata and source groups, either from a YAML
// file or from the embedded defaults, and keeps the last valid copy.
type SourceLoader struct {
	path   string
	config *Config
	mu     sync.RWMutex
}

func NewSourceLoader(path string) *SourceLoader {
	return &SourceLoader{path: path}
}

func (sl *SourceLoader) Run() error {
	data := defaultSources
	origin := "embedded defaults"

	if sl.path != "" {
		fileData, err := os.ReadFile(sl.path)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		data = fileData
		origin = sl.path
	}

	config, err := ParseConfig(data)
	if err != nil {
		return fmt.Errorf("error loading %s: %w", origin, err)
	}

	sl.mu.Lock()
	sl.config = config
	sl.mu.Unlock()

	slog.Debug("Sources loaded", "origin", origin, "groups", len(config.Sources), "endpoints", config.EndpointCount())

	return nil
}

func (sl *SourceLoader) GetConfig() (*Config, error) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if sl.config == nil {
		return nil, fmt.Errorf("sources not loaded")
	}
	return sl.config, nil
}

func (sl *SourceLoader) Path() string {
	return sl.path
}

// ParseConfig decodes, defaults and validates a sources document.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) EndpointCount() int {
	count := 0
	for _, source := range c.Sources {
		if source.IsEnabled() {
			count += len(source.URLs)
		}
	}
	return count
}

func setDefaults(config *Config) {
	if config.MaxItems == 0 {
		config.MaxItems = DefaultMaxItems
	}
	if config.Channel.Generator == "" {
		config.Channel.Generator = "rss-stitch"
	}
	if config.Channel.Language == "" {
		config.Channel.Language = DefaultLanguage
	}
	for i := range config.Sources {
		if len(config.Sources[i].DescriptionFields) == 0 {
			config.Sources[i].DescriptionFields = defaultDescriptionFields
		}
	}
}

func validateConfig(config *Config) error {
	requiredFields := map[string]string{
		"channel title": config.Channel.Title,
		"channel link":  config.Channel.Link,
		"base URL":      config.BaseURL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if err := validateAbsoluteURL(config.BaseURL); err != nil {
		return fmt.Errorf("base URL: %w", err)
	}

	if config.Channel.Language != "" {
		if _, err := language.Parse(config.Channel.Language); err != nil {
			return fmt.Errorf("invalid channel language %q: %w", config.Channel.Language, err)
		}
	}

	if config.MaxItems < 0 {
		return fmt.Errorf("max items must be non-negative")
	}

	if len(config.Sources) == 0 {
		return fmt.Errorf("at least one source group is required")
	}

	names := make(map[string]bool, len(config.Sources))
	for i, source := range config.Sources {
		if source.Name == "" {
			return fmt.Errorf("source at index %d: name is required", i)
		}
		if names[source.Name] {
			return fmt.Errorf("duplicate source name: %s", source.Name)
		}
		names[source.Name] = true

		switch source.Kind {
		case SourceKindPosts, SourceKindContentItems:
		default:
			return fmt.Errorf("source %s: unknown kind %q", source.Name, source.Kind)
		}

		if len(source.URLs) == 0 {
			return fmt.Errorf("source %s: at least one URL is required", source.Name)
		}
		for _, endpoint := range source.URLs {
			if err := validateAbsoluteURL(endpoint); err != nil {
				return fmt.Errorf("source %s: %w", source.Name, err)
			}
		}

		for _, field := range source.DescriptionFields {
			if !validDescriptionFields[field] {
				return fmt.Errorf("source %s: invalid description field: %s", source.Name, field)
			}
		}

		if err := validateFilters(source.Filters); err != nil {
			return fmt.Errorf("source %s: %w", source.Name, err)
		}
	}

	return nil
}

func validateFilters(filters []ConfigFilter) error {
	validFields := map[string]bool{
		"title":       true,
		"description": true,
		"link":        true,
	}

	for i, filter := range filters {
		if !validFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("URL %q must be absolute http(s)", raw)
	}
	return nil
}
