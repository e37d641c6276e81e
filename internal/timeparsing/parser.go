// Package timeparsing parses the time expressions accepted by --since.
//
// Three forms are understood, tried in this order: a compact duration
// ("6h", "-2w", "1y"), an absolute date or RFC 3339 timestamp, and an
// English phrase ("yesterday", "3 days ago", "last monday").
package timeparsing

import (
	"regexp"
	"strconv"
	"time"
)

var durationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// duration is a parsed compact duration. Months and years follow the
// calendar, so "1m" from March 31 lands on May 1.
type duration struct {
	amount int
	unit   byte
	signed bool
}

func parseDuration(s string) (duration, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return duration{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return duration{}, false
	}
	if m[1] == "-" {
		n = -n
	}
	return duration{amount: n, unit: m[3][0], signed: m[1] != ""}, true
}

func (d duration) from(t time.Time) time.Time {
	switch d.unit {
	case 'h':
		return t.Add(time.Duration(d.amount) * time.Hour)
	case 'd':
		return t.AddDate(0, 0, d.amount)
	case 'w':
		return t.AddDate(0, 0, 7*d.amount)
	case 'm':
		return t.AddDate(0, d.amount, 0)
	default:
		return t.AddDate(d.amount, 0, 0)
	}
}
