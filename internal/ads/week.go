package ads

import (
	"fmt"
	"strings"
	"time"
)

// Layouts used across the pipeline.
const (
	WeekKeyLayout          = "2006-01-02"
	ArchiveDayLayout       = "20060102"
	ArchiveTimestampLayout = "20060102150405"
	PeriodLabelLayout      = "Jan 2, 2006"
	CaptureDateLayout      = "Jan 2, 2006 3:04 PM"
)

// UnknownCaptureDate is the display label for a timestamp too short to parse.
const UnknownCaptureDate = "Unknown date"

const lastYearOffset = 364 * 24 * time.Hour

// ParseWeekKey parses a yyyy-MM-dd key and requires it to fall on a Saturday.
func ParseWeekKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(WeekKeyLayout, strings.TrimSpace(key), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not yyyy-mm-dd", ErrInvalidWeek, key)
	}
	if t.Weekday() != time.Saturday {
		return time.Time{}, fmt.Errorf("%w: %s is a %s, not a Saturday", ErrInvalidWeek, key, t.Weekday())
	}
	return t, nil
}

// WeekKey formats a week-ending date as its cache key.
func WeekKey(weekEnd time.Time) string {
	return weekEnd.UTC().Format(WeekKeyLayout)
}

// MostRecentSaturday returns the latest Saturday on or before now, at UTC midnight.
func MostRecentSaturday(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) + 1) % 7
	return day.AddDate(0, 0, -back)
}

// PrevWeekTarget returns the Wednesday of the week ending at weekEnd, at noon UTC.
func PrevWeekTarget(weekEnd time.Time) time.Time {
	weekEnd = weekEnd.UTC()
	wed := weekEnd.AddDate(0, 0, -3)
	return time.Date(wed.Year(), wed.Month(), wed.Day(), 12, 0, 0, 0, time.UTC)
}

// LastYearTarget returns the same weekday 52 weeks before the previous-week target.
func LastYearTarget(weekEnd time.Time) time.Time {
	return PrevWeekTarget(weekEnd).Add(-lastYearOffset)
}

// PeriodLabel formats a target date for display, e.g. "Feb 11, 2026".
func PeriodLabel(target time.Time) string {
	return target.UTC().Format(PeriodLabelLayout)
}

// FormatArchiveTimestamp renders t in the archive's 14-digit format.
func FormatArchiveTimestamp(t time.Time) string {
	return t.UTC().Format(ArchiveTimestampLayout)
}

// ParseArchiveTimestamp accepts 8 to 14 digit archive timestamps. Missing trailing
// components default to zero.
func ParseArchiveTimestamp(ts string) (time.Time, error) {
	if len(ts) < 8 || len(ts) > 14 {
		return time.Time{}, fmt.Errorf("archive timestamp %q: want 8-14 digits", ts)
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("archive timestamp %q: non-digit character", ts)
		}
	}
	padded := ts + strings.Repeat("0", 14-len(ts))
	t, err := time.ParseInLocation(ArchiveTimestampLayout, padded, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("archive timestamp %q: %w", ts, err)
	}
	return t, nil
}

// CaptureDateLabel renders an archive timestamp for display, e.g. "Feb 11, 2026 9:15 AM".
func CaptureDateLabel(ts string) string {
	if len(ts) < 8 {
		return UnknownCaptureDate
	}
	t, err := ParseArchiveTimestamp(ts)
	if err != nil {
		return fmt.Sprintf("%s-%s-%s", ts[0:4], ts[4:6], ts[6:8])
	}
	return t.Format(CaptureDateLayout)
}
