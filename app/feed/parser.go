package feed

import (
	"bytes"
	"cmp"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	fallbackTitle       = "No title"
	fallbackDescription = "No description available"
)

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Response shapes, one per SourceKind. Pointers separate a missing array
// from an empty one. Posts stay raw so a single odd post cannot sink the
// whole page.
type postsResponse struct {
	Posts *[]json.RawMessage `json:"posts"`
}

type contentItemsResponse struct {
	Content *struct {
		Items *[]json.RawMessage `json:"items"`
	} `json:"content"`
}

type Parser struct {
	baseURL string
}

func NewParser(baseURL string) *Parser {
	return &Parser{baseURL: strings.TrimRight(baseURL, "/")}
}

// Validate rejects bodies that are not a JSON object, e.g. HTML error pages.
func (p *Parser) Validate(data []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return ErrNotJSON
	}
	return nil
}

// Run validates a listing response, decodes the shape declared by the
// source group and lowers each post to an Item. now is the fallback
// publish time for posts without one.
func (p *Parser) Run(data []byte, source SourceConfig, now time.Time) ([]Item, error) {
	if err := p.Validate(data); err != nil {
		return nil, err
	}

	rawPosts, err := p.extract(data, source.Kind)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(rawPosts))
	for i, raw := range rawPosts {
		post, err := decodePost(raw)
		if err != nil {
			slog.Warn("Post skipped", "source", source.Name, "index", i, "error", err)
			continue
		}
		items = append(items, p.normalizePost(post, source, now))
	}

	return items, nil
}

func (p *Parser) extract(data []byte, kind SourceKind) ([]json.RawMessage, error) {
	switch kind {
	case SourceKindPosts:
		var resp postsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		if resp.Posts == nil {
			return nil, fmt.Errorf("%w: missing posts array", ErrMalformedPayload)
		}
		return *resp.Posts, nil

	case SourceKindContentItems:
		var resp contentItemsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		if resp.Content == nil || resp.Content.Items == nil {
			return nil, fmt.Errorf("%w: missing content.items array", ErrMalformedPayload)
		}
		return *resp.Content.Items, nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

// decodePost reads one array element. Anything other than a JSON object is
// rejected; scalar fields of unexpected type are tolerated by RawPost.
func decodePost(raw json.RawMessage) (RawPost, error) {
	var post RawPost
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return post, fmt.Errorf("post is not an object: %.40s", raw)
	}
	if err := json.Unmarshal(raw, &post); err != nil {
		return post, err
	}
	return post, nil
}

func (p *Parser) normalizePost(post RawPost, source SourceConfig, now time.Time) Item {
	item := Item{
		GUID:        p.generateGUID(post, source.DescriptionFields),
		Title:       cmp.Or(post.Title, fallbackTitle),
		Link:        p.normalizeLink(post.URLPath),
		Description: fallbackDescription,
		PublishedAt: now,
		Source:      source.Name,
	}

	for _, field := range source.DescriptionFields {
		if value := post.Field(field); value != "" {
			item.Description = value
			break
		}
	}

	if publishedAt, ok := parsePublished(post.FirstPublishedAt); ok {
		item.PublishedAt = publishedAt
	}

	return item
}

// normalizeLink joins the base URL with the post path, dropping the
// "/home" section prefix so the same article listed under different
// sections collapses to one link.
func (p *Parser) normalizeLink(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	if path == "/home" {
		path = "/"
	} else if strings.HasPrefix(path, "/home/") {
		path = strings.TrimPrefix(path, "/home")
	}

	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return p.baseURL + path
}

// generateGUID hashes the raw title, the primary description field and the
// raw publish string. Only raw values are used so the digest is stable
// regardless of fallbacks.
func (p *Parser) generateGUID(post RawPost, descriptionFields []string) string {
	var primary string
	if len(descriptionFields) > 0 {
		primary = post.Field(descriptionFields[0])
	}

	hash := md5.Sum([]byte(post.Title + primary + post.FirstPublishedAt))
	return hex.EncodeToString(hash[:])
}

func parsePublished(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range publishedLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
