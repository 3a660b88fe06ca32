// Package query parses user queries and ranks lexical hits with graph and
// freshness signals.
package query

import (
	"regexp"
	"strings"

	"github.com/akerley/webrank/internal/search"
)

var (
	phrasePattern    = regexp.MustCompile(`"([^"]+)"`)
	sitePattern      = regexp.MustCompile(`(?i)(?:^|\s)site:(\S+)`)
	exclusionPattern = regexp.MustCompile(`(?:^|\s)-(\S+)`)
)

// Parse splits a raw query into phrases, site filters, exclusions and plain
// terms. Extraction order matters: each stage removes its matches before the
// next runs, so a phrase's internal "-" or "site:" text is never misparsed.
func Parse(raw string) search.ParsedQuery {
	var q search.ParsedQuery
	rest := raw

	for _, m := range phrasePattern.FindAllStringSubmatch(rest, -1) {
		phrase := strings.ToLower(strings.TrimSpace(m[1]))
		if phrase != "" {
			q.Phrases = append(q.Phrases, phrase)
		}
	}
	rest = phrasePattern.ReplaceAllString(rest, " ")

	for _, m := range sitePattern.FindAllStringSubmatch(rest, -1) {
		site := strings.ToLower(strings.Trim(m[1], "/"))
		if site != "" {
			q.Sites = append(q.Sites, site)
		}
	}
	rest = sitePattern.ReplaceAllString(rest, " ")

	for _, m := range exclusionPattern.FindAllStringSubmatch(rest, -1) {
		term := strings.ToLower(m[1])
		if term != "" {
			q.Excluded = append(q.Excluded, term)
		}
	}
	rest = exclusionPattern.ReplaceAllString(rest, " ")

	for _, tok := range strings.Fields(rest) {
		q.Terms = append(q.Terms, strings.ToLower(tok))
	}
	return q
}

// LexicalQuery rebuilds the string handed to the text backend: plain terms
// plus the quoted phrases. Filters and exclusions are applied locally.
func LexicalQuery(q search.ParsedQuery) string {
	parts := make([]string, 0, len(q.Terms)+len(q.Phrases))
	parts = append(parts, q.Terms...)
	for _, p := range q.Phrases {
		parts = append(parts, `"`+p+`"`)
	}
	return strings.Join(parts, " ")
}
