package qcode

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ronin-co/compiler/core/internal/sdata"
)

func timeFromMillis(n int64) time.Time {
	return time.UnixMilli(n)
}

// Pagination cursors are comma-separated values matching the query's ordering
// columns, always ending in a 13-digit millisecond timestamp. Date-typed
// values travel as epoch milliseconds and are converted back to stored
// timestamps when the cursor is compared against columns.

// EncodeCursorValue renders one ordering-column value for a cursor.
func EncodeCursorValue(v interface{}, fieldType string) string {
	if fieldType == sdata.TypeDate {
		if s, ok := v.(string); ok {
			if t, ok := sdata.ParseTime(s); ok {
				return strconv.FormatInt(t.UnixMilli(), 10)
			}
		}
	}
	switch val := v.(type) {
	case nil:
		return "RONIN_NULL"
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// EncodeCursor joins the ordering-column values of a boundary row.
func EncodeCursor(values []string) string {
	return strings.Join(values, ",")
}

// DecodeCursor splits a cursor into the values for the given number of
// ordering columns. The last value must be the millisecond timestamp.
func DecodeCursor(cursor interface{}, columns int) ([]string, error) {
	s, ok := cursor.(string)
	if !ok || s == "" {
		return nil, sdata.NewError(sdata.ErrInvalidBeforeOrAfter,
			"a pagination cursor must be a non-empty string")
	}

	parts := strings.Split(s, ",")
	if len(parts) != columns {
		return nil, sdata.NewError(sdata.ErrInvalidBeforeOrAfter,
			"cursor carries %d values but the query orders by %d columns", len(parts), columns)
	}

	last := parts[len(parts)-1]
	if len(last) != 13 || !digitsOnly(last) {
		return nil, sdata.NewError(sdata.ErrInvalidBeforeOrAfter,
			"a cursor must end in a 13-digit millisecond timestamp")
	}
	return parts, nil
}

// CursorTimestamp converts a 13-digit millisecond value back into the stored
// timestamp format.
func CursorTimestamp(ms string) (string, error) {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return "", sdata.NewError(sdata.ErrInvalidBeforeOrAfter, "invalid cursor timestamp %q", ms)
	}
	return sdata.FormatTime(timeFromMillis(n)), nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
