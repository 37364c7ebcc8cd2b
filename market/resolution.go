package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Resolution is a bar period such as M5 or H1.
type Resolution string

const (
	M1  Resolution = "M1"
	M5  Resolution = "M5"
	M15 Resolution = "M15"
	M30 Resolution = "M30"
	H1  Resolution = "H1"
	H4  Resolution = "H4"
	D1  Resolution = "D1"
)

var durations = map[Resolution]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// Duration returns the bar period, or zero for an unknown resolution.
func (r Resolution) Duration() time.Duration { return durations[r] }

func (r Resolution) Valid() bool {
	_, ok := durations[r]
	return ok
}

func (r Resolution) String() string { return string(r) }

// ParseResolution accepts "M5", "m5", "H1" and so on.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unsupported resolution: %q", s)
	}
	return r, nil
}

// SortResolutions orders resolutions from shortest to longest period.
func SortResolutions(rs []Resolution) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Duration() < rs[j].Duration() })
}
