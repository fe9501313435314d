package core

import (
	"strings"
	"time"
)

// ExpirationLayout is the value format FreeRADIUS expects for the Expiration
// check attribute, e.g. "Jan 05 2026 00:00:00".
const ExpirationLayout = "Jan 02 2006 15:04:05"

// accepted input layouts, date-time first. time.Parse requires the whole
// input to match, so the date-only layout never matches a date-time string.
var expirationInputLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiration converts "YYYY-MM-DD" or "YYYY-MM-DD HH:MM:SS" into the
// FreeRADIUS Expiration representation. Surrounding whitespace is ignored.
func ParseExpiration(input string) (string, error) {
	s := strings.TrimSpace(input)
	for _, layout := range expirationInputLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Format(ExpirationLayout), nil
		}
	}
	return "", ErrInvalidFormat
}
