// Package timefmt is the single mapping between stored instants and the RFC 3339
// strings exchanged with clients.
//
// Instants are kept in UTC at microsecond precision. The same truncation is
// applied when parsing client input, when assigning server timestamps and when
// reading rows back, so Parse(Render(t)) reproduces t exactly.
package timefmt

import (
	"fmt"
	"time"
)

// Precision is the resolution of every stored instant.
const Precision = time.Microsecond

// dbLayout is fixed width so that lexical order in the store matches
// chronological order.
const dbLayout = "2006-01-02T15:04:05.000000Z"

// TimeFormatError reports a client supplied time that is not RFC 3339.
type TimeFormatError struct {
	Value string
	Err   error
}

func (e *TimeFormatError) Error() string {
	return fmt.Sprintf("invalid time %q (expected RFC3339)", e.Value)
}

func (e *TimeFormatError) Unwrap() error { return e.Err }

// Truncate normalizes t to UTC at storage precision.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// Parse accepts RFC 3339 only. Date-only strings and timestamps without an
// offset are rejected.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &TimeFormatError{Value: s, Err: err}
	}
	return Truncate(t), nil
}

// Render emits t in UTC as RFC 3339. Fractional seconds appear only when
// non-zero.
func Render(t time.Time) string {
	return Truncate(t).Format(time.RFC3339Nano)
}

// ToDB encodes t for storage and comparison in SQL.
func ToDB(t time.Time) string {
	return Truncate(t).Format(dbLayout)
}

// FromDB decodes a stored instant. Values written by older tooling in plain
// RFC 3339 are accepted too.
func FromDB(s string) (time.Time, error) {
	t, err := time.Parse(dbLayout, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
		}
	}
	return Truncate(t), nil
}
