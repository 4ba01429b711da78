package fleet

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// DateKey formats t as a UTC calendar date.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate accepts YYYY-MM-DD or RFC 3339 and reports false for anything else.
// Plain dates are midnight UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(DateLayout, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Expiry classifies a document expiry date relative to now.
type Expiry int

const (
	ExpiryUnknown Expiry = iota
	ExpiryExpired
	ExpiryWithin30
	ExpiryWithin60
	ExpiryOK
)

const day = 24 * time.Hour

// ClassifyExpiry buckets an expiry date: expired when before now,
// then half-open 30 and 60 day windows.
func ClassifyExpiry(raw string, now time.Time) Expiry {
	exp, ok := ParseDate(raw)
	if !ok {
		return ExpiryUnknown
	}
	switch {
	case exp.Before(now):
		return ExpiryExpired
	case exp.Before(now.Add(30 * day)):
		return ExpiryWithin30
	case exp.Before(now.Add(60 * day)):
		return ExpiryWithin60
	}
	return ExpiryOK
}
