// Package duration parses config durations. On top of time.ParseDuration
// it accepts d (days) and w (weeks), fractions and spaces between parts,
// e.g. "1.5d" or "1h 30m".
package duration

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var units = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
}

const maxDuration = float64(math.MaxInt64)

// Parse reports false for anything it cannot read.
func Parse(value string) (time.Duration, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}

	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	var total float64
	parts := 0
	for s = strings.TrimSpace(s); s != ""; s = strings.TrimSpace(s) {
		i := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
		if i <= 0 {
			return 0, false
		}
		n, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, false
		}
		s = s[i:]
		j := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '.' || (r >= '0' && r <= '9') })
		if j < 0 {
			j = len(s)
		}
		scale, ok := units[strings.ToLower(s[:j])]
		if !ok {
			return 0, false
		}
		s = s[j:]
		total += n * float64(scale)
		if math.IsInf(total, 0) || math.Abs(total) > maxDuration {
			return 0, false
		}
		parts++
	}
	if parts == 0 {
		return 0, false
	}
	return time.Duration(math.Round(sign * total)), true
}
