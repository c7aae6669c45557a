package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeakBand is a half-open [Start, End) window in minutes after local midnight.
type PeakBand struct {
	Start int
	End   int
}

// Contains reports whether t's wall clock in loc falls inside the band.
func (b PeakBand) Contains(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	m := t.Hour()*60 + t.Minute()
	return m >= b.Start && m < b.End
}

func (b PeakBand) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", b.Start/60, b.Start%60, b.End/60, b.End%60)
}

// ParsePeakBands parses "HH:MM-HH:MM[,HH:MM-HH:MM...]". An empty string means no peak hours.
func ParsePeakBands(raw string) ([]PeakBand, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var bands []PeakBand
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid peak band %q", part)
		}
		start, err := parseClock(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid peak band %q: %w", part, err)
		}
		end, err := parseClock(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("invalid peak band %q: %w", part, err)
		}
		if end <= start {
			return nil, fmt.Errorf("invalid peak band %q: end must be after start", part)
		}
		bands = append(bands, PeakBand{Start: start, End: end})
	}
	return bands, nil
}

func parseClock(s string) (int, error) {
	hm := strings.Split(strings.TrimSpace(s), ":")
	if len(hm) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return h*60 + m, nil
}
