package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"
)

// DateLayout is the RFC 1123 form used for pubDate and lastBuildDate.
const DateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

type Generator struct {
	channel ChannelConfig
	now     func() time.Time
}

func NewGenerator(channel ChannelConfig) *Generator {
	return &Generator{
		channel: channel,
		now:     time.Now,
	}
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Run renders items into an RSS 2.0 document with an Atom self link.
// title and description are written as CDATA; links, GUIDs and channel
// metadata are entity-escaped.
func (g *Generator) Run(items []Item) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", g.channel.Title, 4)
	g.writeElement(&buf, "link", g.channel.Link, 4)
	if g.channel.FeedURL != "" {
		buf.WriteString(`    <atom:link href="`)
		xml.EscapeText(&buf, []byte(g.channel.FeedURL))
		buf.WriteString(`" rel="self" type="application/rss+xml"/>`)
		buf.WriteString("\n")
	}
	g.writeElement(&buf, "description", g.channel.Description, 4)
	g.writeElement(&buf, "language", g.channel.Language, 4)
	g.writeElement(&buf, "lastBuildDate", FormatDate(g.now()), 4)
	g.writeElement(&buf, "generator", g.channel.Generator, 4)

	for _, item := range items {
		g.writeItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

// Verify checks that a rendered document is well-formed XML and readable
// as an RSS feed carrying the expected number of items.
func (g *Generator) Verify(doc string, expectedItems int) error {
	decoder := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("document is not well-formed: %w", err)
		}
	}

	parsed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}
	if parsed.FeedType != "rss" {
		return fmt.Errorf("unexpected feed type %q", parsed.FeedType)
	}
	if len(parsed.Items) != expectedItems {
		return fmt.Errorf("expected %d items, parsed %d", expectedItems, len(parsed.Items))
	}

	return nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, item Item) {
	buf.WriteString("    <item>\n")

	g.writeCDATA(buf, "title", item.Title, 6)
	g.writeElement(buf, "link", item.Link, 6)
	g.writeCDATA(buf, "description", item.Description, 6)
	g.writeElement(buf, "pubDate", FormatDate(item.PublishedAt), 6)

	buf.WriteString(`      <guid isPermaLink="false">`)
	xml.EscapeText(buf, []byte(item.GUID))
	buf.WriteString("</guid>\n")

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	g.openTag(buf, tag, indent)
	xml.EscapeText(buf, []byte(norm.NFC.String(content)))
	g.closeTag(buf, tag)
}

func (g *Generator) writeCDATA(buf *bytes.Buffer, tag, content string, indent int) {
	g.openTag(buf, tag, indent)
	buf.WriteString("<![CDATA[")
	buf.WriteString(escapeCDATA(content))
	buf.WriteString("]]>")
	g.closeTag(buf, tag)
}

func (g *Generator) openTag(buf *bytes.Buffer, tag string, indent int) {
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
}

func (g *Generator) closeTag(buf *bytes.Buffer, tag string) {
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

// escapeCDATA makes text safe inside a CDATA section: characters outside the
// XML 1.0 range are dropped and every "]]>" is split across two sections.
func escapeCDATA(s string) string {
	s = norm.NFC.String(strings.ToValidUTF8(s, ""))
	s = strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, s)
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
