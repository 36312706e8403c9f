// Package keys builds canonical cache keys for granule searches.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

const (
	prefix  = "granules"
	version = "v1"
)

// SearchKey returns a readable, redis-safe key for q. Equivalent requests
// (swapped bbox corners, case or spacing in filters, time zones) share a key.
func SearchKey(q model.SearchRequest) string {
	canon := Canonical(q)
	sum := xxhash.Sum64String(canon)

	platform := sanitize(strings.ToUpper(strings.TrimSpace(q.Platform)))
	if platform == "" {
		platform = "any"
	}
	return fmt.Sprintf("%s:%s:%s:h=%016x", prefix, version, platform, sum)
}

// RegionIndexKey names the set of search keys cached for an H3 region.
func RegionIndexKey(region string) string {
	return fmt.Sprintf("%s:%s:region:%s", prefix, version, sanitize(region))
}

// Pattern matches every key this package builds, search entries and region
// sets alike.
func Pattern() string {
	return fmt.Sprintf("%s:%s:*", prefix, version)
}

// Canonical is the normalized text the key hash is computed from.
func Canonical(q model.SearchRequest) string {
	bb := q.BBox.Normalized()
	parts := []string{
		"bbox=" + fixed(bb.MinLon) + "," + fixed(bb.MinLat) + "," + fixed(bb.MaxLon) + "," + fixed(bb.MaxLat),
		"platform=" + norm(q.Platform),
		"level=" + norm(q.ProcessingLevel),
		"beam=" + norm(q.BeamMode),
		"start=" + ts(q.Window.Start),
		"end=" + ts(q.Window.End),
		"limit=" + strconv.Itoa(q.Limit),
	}
	return strings.Join(parts, "|")
}

// 1e-6 degrees is ~10cm, below any meaningful search difference
func fixed(f float64) string {
	s := strconv.FormatFloat(f, 'f', 6, 64)
	if s == "-0.000000" {
		s = "0.000000"
	}
	return s
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func norm(s string) string {
	return strings.ToUpper(collapseASCIIWhitespace(s))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := '-'
		switch {
		case r == ' ' || r == '\t':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
