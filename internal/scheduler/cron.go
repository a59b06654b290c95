package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	cronparse "github.com/robfig/cron/v3"
)

// cronValidator is used only to reject malformed expressions at
// schedule-insert time; the actual per-minute field matching below is
// hand-rolled so it can evaluate against an arbitrary IANA timezone
// instead of the host's local time, which robfig/cron does not support
// per-expression.
var cronValidator = cronparse.NewParser(
	cronparse.Minute | cronparse.Hour | cronparse.Dom | cronparse.Month | cronparse.Dow,
)

// ValidateCronExpr reports whether expr parses as a standard 5-field cron
// expression.
func ValidateCronExpr(expr string) error {
	_, err := cronValidator.Parse(expr)
	return err
}

// CronMatches evaluates expr's five fields against now, having first
// converted now into the named IANA timezone. Supported field syntax:
// *, an integer, a comma list, a hyphen range, and */N intervals.
func CronMatches(expr string, now time.Time, timezone string) (bool, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false, fmt.Errorf("cron expression %q must have 5 fields", expr)
	}

	checks := []struct {
		field string
		value int
		max   int
	}{
		{fields[0], local.Minute(), 59},
		{fields[1], local.Hour(), 23},
		{fields[2], local.Day(), 31},
		{fields[3], int(local.Month()), 12},
		{fields[4], int(local.Weekday()), 6},
	}

	for _, c := range checks {
		ok, err := fieldMatches(c.field, c.value, c.max)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// fieldMatches evaluates one cron field against value.
func fieldMatches(field string, value, max int) (bool, error) {
	if field == "*" {
		return true, nil
	}

	for _, part := range strings.Split(field, ",") {
		ok, err := partMatches(part, value, max)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func partMatches(part string, value, max int) (bool, error) {
	if strings.HasPrefix(part, "*/") {
		step, err := strconv.Atoi(part[2:])
		if err != nil || step <= 0 {
			return false, fmt.Errorf("invalid step expression %q", part)
		}
		return value%step == 0, nil
	}

	if i := strings.IndexByte(part, '-'); i > 0 {
		lo, err1 := strconv.Atoi(part[:i])
		hi, err2 := strconv.Atoi(part[i+1:])
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("invalid range expression %q", part)
		}
		return value >= lo && value <= hi, nil
	}

	n, err := strconv.Atoi(part)
	if err != nil {
		return false, fmt.Errorf("invalid field value %q", part)
	}
	_ = max
	return n == value, nil
}
