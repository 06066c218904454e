package query

import (
	"strconv"
	"strings"
	"time"
)

type durationUnit struct {
	suffix string
	size   time.Duration
}

// Calendar units use average lengths, as the dashboards people compare us
// with do.
var durationUnits = []durationUnit{
	{"yr", 31557600 * time.Second},
	{"mo", 2629800 * time.Second},
	{"w", 7 * 24 * time.Hour},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// FormatDuration renders d in short units, e.g. "1h 2m 5s". Sub-second
// durations are shown in milliseconds.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
	var parts []string
	for _, u := range durationUnits {
		if d < u.size {
			continue
		}
		n := d / u.size
		d -= n * u.size
		parts = append(parts, strconv.FormatInt(int64(n), 10)+u.suffix)
	}
	return strings.Join(parts, " ")
}

// FormatRunTime is the age column: whole seconds, "< 1s" for fresh operations.
func FormatRunTime(secs int64) string {
	if secs <= 0 {
		return "< 1s"
	}
	return FormatDuration(time.Duration(secs) * time.Second)
}
