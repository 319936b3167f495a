package dbtime

import "time"

// Now returns a standardized timezone used for database resources.
func Now() time.Time {
	return Time(time.Now().UTC())
}

// Time returns a time compatible with the store. Timestamps are persisted
// with millisecond precision.
func Time(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
