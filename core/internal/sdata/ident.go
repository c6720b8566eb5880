package sdata

import (
	"crypto/rand"
	"time"
)

// The 16-char id suffix draws from lowercase base36. The format is a wire
// contract: /^[a-z]{3}_[a-z0-9]{16}$/.
const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const idSuffixLen = 16

// NewRecordID generates a record id for the given prefix.
func NewRecordID(prefix string) string {
	buf := make([]byte, idSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; a zeroed suffix is
		// still a syntactically valid id.
		for i := range buf {
			buf[i] = 0
		}
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return prefix + "_" + string(buf)
}

// FormatTime renders a timestamp the way records store them: ISO-8601 UTC
// with millisecond precision and a literal Z suffix.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

// Now returns the current time formatted for storage.
func Now() string {
	return FormatTime(time.Now())
}

// ParseTime reads a stored timestamp back.
func ParseTime(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
