package engine

import (
	"strconv"
	"strings"
	"time"

	"vaultwatch/internal/settings"
)

// ResumeTimestamp returns the Unix time at which a notification for the
// given event becomes eligible to send, or 0 when no suppression applies.
//
// Window semantics for [start, end) in the configured timezone:
//   - start < end: suppress while now is inside the same-day window.
//   - start > end: the window spans midnight. If now >= start, resume at
//     the next day's end; if now < end, resume at today's end.
//   - start == end: zero-width window, feature is a no-op.
func ResumeTimestamp(eventName string, st settings.Settings, now time.Time) int64 {
	qh := st.QuietHours
	if !qh.Enabled {
		return 0
	}
	if qh.AllowCritical && ClassifySeverity(eventName) == SeverityCritical {
		return 0
	}

	startH, startM, ok := parseClock(qh.Start)
	if !ok {
		return 0
	}
	endH, endM, ok := parseClock(qh.End)
	if !ok {
		return 0
	}
	startMin := startH*60 + startM
	endMin := endH*60 + endM
	if startMin == endMin {
		return 0
	}

	loc := resolveLocation(qh.Timezone)
	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()

	endToday := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)

	if startMin < endMin {
		if nowMin >= startMin && nowMin < endMin {
			return endToday.Unix()
		}
		return 0
	}

	// Window spans midnight.
	switch {
	case nowMin >= startMin:
		return endToday.AddDate(0, 0, 1).Unix()
	case nowMin < endMin:
		return endToday.Unix()
	default:
		return 0
	}
}

// resolveLocation falls through explicit timezone, host default, UTC.
func resolveLocation(tz string) *time.Location {
	if tz = strings.TrimSpace(tz); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if loc := time.Local; loc != nil {
		return loc
	}
	return time.UTC
}

// parseClock splits a normalized "HH:MM" string. Settings normalization
// guarantees the format; a malformed value still fails safe here.
func parseClock(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
