package timer

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock is the time source the sync engine depends on. Implementations
// must hand out strictly increasing microsecond timestamps within a
// process; see Monotonic.
type Clock interface {
	NowMicros() int64
	Sleep(d time.Duration)
}

// Monotonic wraps the wall clock with a latch-and-bump guard so that
// two consecutive reads never return the same microsecond value, even
// if the wall clock stalls or steps backwards.
type Monotonic struct {
	mu   sync.Mutex
	last int64
}

// NewMonotonic creates a process-wide monotonic microsecond clock.
func NewMonotonic() *Monotonic {
	return &Monotonic{}
}

// NowMicros returns the current Unix microsecond timestamp, bumped past
// the previously issued value when necessary.
func (m *Monotonic) NowMicros() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC().UnixMicro()
	if now <= m.last {
		now = m.last + 1
	}
	m.last = now
	return now
}

// Sleep pauses the calling goroutine for at least d.
func (m *Monotonic) Sleep(d time.Duration) {
	time.Sleep(d)
}

// legacy date layouts accepted on token decode, most specific first
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseDateToMicros converts a date string to Unix microseconds.
// Accepts RFC3339 (with or without fractional seconds), a space
// separated variant, a bare date, or a decimal seconds-since-epoch
// string.
func ParseDateToMicros(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMicro(), true
		}
	}

	// Decimal seconds since epoch. Parsed as integers to keep full
	// microsecond precision; float64 loses the low digits at current
	// epoch magnitudes.
	sec, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return 0, false
	}
	micros := n * 1_000_000
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		for len(frac) < 6 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		micros += f
	}
	return micros, true
}

// MicrosToDate converts Unix microseconds to a UTC time.
func MicrosToDate(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}
