package search

import (
	"github.com/akerley/webrank/internal/fingerprint"
)

// NewURLRecord builds a pending URL record from an already-normalized URL.
// The fingerprint is always derived here, never supplied by callers.
func NewURLRecord(normalized string, priority float64) URLRecord {
	return URLRecord{
		URL:         normalized,
		Host:        HostOf(normalized),
		Fingerprint: fingerprint.Hash64(normalized),
		State:       StatePending,
		Priority:    priority,
	}
}
