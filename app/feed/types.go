package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrFetch            = errors.New("fetch failed")
	ErrNotJSON          = errors.New("response is not JSON")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Feed processing types

// Item is the canonical record rendered into the feed.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	PublishedAt time.Time
	Source      string // source group name
}

// RawPost is one article as received from a listing endpoint.
type RawPost struct {
	Title            string `json:"title"`
	URLPath          string `json:"url_path"`
	Excerpt          string `json:"excerpt"`
	Summary          string `json:"summary"`
	SubTitle         string `json:"sub_title"`
	FirstPublishedAt string `json:"first_published_at"`
}

// UnmarshalJSON accepts any scalar in the string fields. Upstream is not
// strict about types, e.g. an excerpt of 42.
func (p *RawPost) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title            looseString `json:"title"`
		URLPath          looseString `json:"url_path"`
		Excerpt          looseString `json:"excerpt"`
		Summary          looseString `json:"summary"`
		SubTitle         looseString `json:"sub_title"`
		FirstPublishedAt looseString `json:"first_published_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = RawPost{
		Title:            string(raw.Title),
		URLPath:          string(raw.URLPath),
		Excerpt:          string(raw.Excerpt),
		Summary:          string(raw.Summary),
		SubTitle:         string(raw.SubTitle),
		FirstPublishedAt: string(raw.FirstPublishedAt),
	}
	return nil
}

// looseString keeps strings as-is and numbers or booleans in their literal
// form. null, objects and arrays decode to "".
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '{' || data[0] == '[' || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	*s = looseString(data)
	return nil
}

// Field returns the raw value of a description source field.
func (p RawPost) Field(name string) string {
	switch name {
	case "excerpt":
		return p.Excerpt
	case "summary":
		return p.Summary
	case "sub_title":
		return p.SubTitle
	case "title":
		return p.Title
	default:
		return ""
	}
}

// SourceKind declares the response shape returned by a group's endpoints.
type SourceKind string

const (
	SourceKindPosts        SourceKind = "posts"         // {"posts": [...]}
	SourceKindContentItems SourceKind = "content_items" // {"content": {"items": [...]}}
)

// Configuration types

type Config struct {
	Channel  ChannelConfig  `yaml:"channel"`
	BaseURL  string         `yaml:"base_url"`
	MaxItems int            `yaml:"max_items"`
	Sources  []SourceConfig `yaml:"sources"`
}

type ChannelConfig struct {
	Title       string `yaml:"title"`
	Link        string `yaml:"link"`
	FeedURL     string `yaml:"feed_url"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
	Generator   string `yaml:"generator"`
}

type SourceConfig struct {
	Name              string         `yaml:"name"`
	Kind              SourceKind     `yaml:"kind"`
	Enabled           *bool          `yaml:"enabled"`
	DescriptionFields []string       `yaml:"description_fields"`
	URLs              []string       `yaml:"urls"`
	Filters           []ConfigFilter `yaml:"filters"`
}

func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}
