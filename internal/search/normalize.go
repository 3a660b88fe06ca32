package search

import (
	"net/url"
	"path"
	"strings"
)

// File extensions that never yield indexable HTML. Kept lowercase, no dot.
var skippedExtensions = map[string]struct{}{
	// images
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "svg": {},
	"ico": {}, "bmp": {}, "tif": {}, "tiff": {},
	// archives
	"zip": {}, "tar": {}, "gz": {}, "tgz": {}, "bz2": {}, "7z": {}, "rar": {},
	// media
	"mp3": {}, "mp4": {}, "m4a": {}, "avi": {}, "mov": {}, "wmv": {},
	"flv": {}, "mkv": {}, "webm": {}, "wav": {}, "ogg": {},
	// office documents
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
	// assets and binaries
	"css": {}, "js": {}, "mjs": {}, "exe": {}, "dmg": {}, "iso": {},
	"bin": {}, "apk": {}, "woff": {}, "woff2": {}, "ttf": {}, "eot": {},
}

// Normalize canonicalizes an absolute URL so that equivalent spellings map to
// the same string and therefore the same fingerprint. It lowercases scheme
// and host, strips default ports, fragments and trailing slashes (except the
// root path), sorts query parameters, and rejects non-http(s) schemes and
// binary file extensions.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &NormalizationError{Raw: raw, Reason: "unparsable"}
	}
	return normalizeParsed(raw, u)
}

// NormalizeAgainst resolves href relative to base and canonicalizes the
// result. Bare fragments and non-web schemes (javascript:, mailto:, tel:)
// are rejected.
func NormalizeAgainst(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", &NormalizationError{Raw: href, Reason: "empty or fragment-only"}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", &NormalizationError{Raw: href, Reason: "unparsable"}
	}
	return normalizeParsed(href, base.ResolveReference(ref))
}

func normalizeParsed(raw string, u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &NormalizationError{Raw: raw, Reason: "unsupported scheme " + u.Scheme}
	}
	if u.Host == "" {
		return "", &NormalizationError{Raw: raw, Reason: "missing host"}
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""

	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), ".")); ext != "" {
		if _, skip := skippedExtensions[ext]; skip {
			return "", &NormalizationError{Raw: raw, Reason: "binary extension ." + ext}
		}
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	// Sorting query parameters keeps ?a=1&b=2 and ?b=2&a=1 identical.
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

// HostOf extracts the lowercase host of a normalized URL. Returns "" when the
// URL is unparsable, which cannot happen for Normalize output.
func HostOf(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
