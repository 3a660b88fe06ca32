// Package parse extracts titles, text and outbound links from HTML.
package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/akerley/webrank/internal/search"
)

// Elements removed wholesale before text extraction.
const boilerplateSelector = "script, style, noscript, nav, footer, header, aside"

// Containers tried in order for the primary content block.
var contentSelectors = []string{
	"main", "article", "[role='main']", "#content", ".content", "#main", ".post",
}

// Parser turns fetched HTML into a ParsedPage.
type Parser struct {
	maxTextBytes int
}

// New builds a Parser. maxTextBytes caps the extracted main text to bound
// storage and index cost.
func New(maxTextBytes int) *Parser {
	if maxTextBytes <= 0 {
		maxTextBytes = 50_000
	}
	return &Parser{maxTextBytes: maxTextBytes}
}

// Parse extracts the title, meta description, main text and absolute
// outbound links of an HTML document. Anchors that do not resolve to a valid
// crawlable URL are silently discarded.
func (p *Parser) Parse(html []byte, baseURL string) (search.ParsedPage, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return search.ParsedPage{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return search.ParsedPage{}, fmt.Errorf("parse html: %w", err)
	}

	page := search.ParsedPage{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: metaDescription(doc),
	}

	// Collect links before stripping boilerplate; navs carry real edges.
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		normalized, err := search.NormalizeAgainst(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		page.Links = append(page.Links, normalized)
	})

	doc.Find(boilerplateSelector).Remove()

	var container *goquery.Selection
	for _, sel := range contentSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			container = found
			break
		}
	}
	if container == nil {
		container = doc.Find("body").First()
	}

	page.Text = truncate(collapseWhitespace(container.Text()), p.maxTextBytes)
	return page, nil
}

func metaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find("meta[name='description']").First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find("meta[property='og:description']").First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut at a rune boundary.
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
