package utils

import "time"

// NowMicros returns the current wall-clock time in microseconds since
// the Unix epoch, the timestamp unit used by frame envelopes.
func NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// NowMillis returns the current wall-clock time in milliseconds since
// the Unix epoch.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// IsExpired reports whether a timestamp is older than ttl.
func IsExpired(timestamp time.Time, ttl time.Duration) bool {
	return time.Since(timestamp) > ttl
}
