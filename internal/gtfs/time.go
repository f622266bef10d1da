package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout  = "20060102"
	ClockLayout = "15:04:05"
)

// ParseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func ParseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}

func FormatDaySeconds(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

// NormalizeTime zero-pads a GTFS time so that lexical and chronological
// order agree ("6:05:00" -> "06:05:00"). Empty stays empty.
func NormalizeTime(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return FormatDaySeconds(ParseDaySeconds(s))
}

// ServiceTime resolves a service date and a GTFS time into an absolute
// moment in loc. Times past 24:00:00 roll into the following day.
func ServiceTime(date, clock string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(clock) == "" {
		return time.Time{}, fmt.Errorf("empty time for date %q", date)
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse service date: %w", err)
	}
	return day.Add(time.Duration(ParseDaySeconds(clock)) * time.Second), nil
}

// DateAndClock splits t, seen from loc, into schedule date and time strings.
func DateAndClock(t time.Time, loc *time.Location) (date, clock string) {
	t = t.In(loc)
	return t.Format(DateLayout), t.Format(ClockLayout)
}

// DayOrdinal renders 1 -> "1st", 22 -> "22nd", 13 -> "13th".
func DayOrdinal(d int) string {
	suffix := "th"
	switch d % 100 {
	case 11, 12, 13:
	default:
		switch d % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(d) + suffix
}

// MonthDay renders "May 18th".
func MonthDay(t time.Time) string {
	return t.Format("Jan") + " " + DayOrdinal(t.Day())
}
