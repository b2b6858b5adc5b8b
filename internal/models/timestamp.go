package models

import "time"

// Timestamp is a point in time in milliseconds since the Unix epoch.
//
// Local stores track modification times in seconds and remote sources in
// milliseconds; both are converted to Timestamp at the adapter boundary so
// that comparisons never mix units.
type Timestamp int64

// InvalidTimestamp marks a modification time that could not be parsed.
const InvalidTimestamp Timestamp = -1

// FromSeconds converts seconds since the epoch.
func FromSeconds(s int64) Timestamp {
	return Timestamp(s * 1000)
}

// FromMillis converts milliseconds since the epoch.
func FromMillis(ms int64) Timestamp {
	return Timestamp(ms)
}

// FromTime converts a time.Time. The zero time maps to 0.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t.UnixMilli())
}

// Now returns the current wall clock as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// Millis returns the timestamp in milliseconds.
func (t Timestamp) Millis() int64 {
	return int64(t)
}

// Seconds returns the timestamp truncated to whole seconds.
func (t Timestamp) Seconds() int64 {
	return int64(t) / 1000
}

// Time returns the timestamp as time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool {
	return t == 0
}

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool {
	return t > u
}
