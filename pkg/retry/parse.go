package retry

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRetryAfter is the response header the gateway uses for its retry hint.
//
// The gateway's value is a count of milliseconds. Servers that send whole
// seconds, as the relay's own HTTP API does, are misread by this package:
// "4" parses as 0s.
const HeaderRetryAfter = "Retry-After"

// maxDelaySeconds is the largest whole-second wait a time.Duration can hold.
const maxDelaySeconds = int64(math.MaxInt64 / int64(time.Second))

// ParseRetryAfterSeconds converts a Retry-After value into whole seconds.
//
// The value is read as milliseconds and truncated, so "5000" yields 5 and
// "999" yields 0. Empty, blank and non-integer values report false.
func ParseRetryAfterSeconds(value string) (int64, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms / 1000, true
}

// ParseRetryAfter is ParseRetryAfterSeconds as a wait duration. Hints beyond
// the range of time.Duration saturate instead of wrapping.
func ParseRetryAfter(value string) (time.Duration, bool) {
	secs, ok := ParseRetryAfterSeconds(value)
	if !ok {
		return 0, false
	}
	return secondsToDuration(secs), true
}

// SecondsFromHeader reads the first Retry-After value from h in whole seconds.
func SecondsFromHeader(h http.Header) (int64, bool) {
	if h == nil {
		return 0, false
	}
	values := h.Values(HeaderRetryAfter)
	if len(values) == 0 {
		return 0, false
	}
	return ParseRetryAfterSeconds(values[0])
}

// DelayFromHeader reads the first Retry-After value from h.
func DelayFromHeader(h http.Header) (time.Duration, bool) {
	secs, ok := SecondsFromHeader(h)
	if !ok {
		return 0, false
	}
	return secondsToDuration(secs), true
}

func secondsToDuration(secs int64) time.Duration {
	switch {
	case secs > maxDelaySeconds:
		return time.Duration(math.MaxInt64)
	case secs < -maxDelaySeconds:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(secs) * time.Second
}
