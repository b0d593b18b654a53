package core

import (
	"regexp"
	"strconv"
	"time"
)

var (
	yearPattern    = regexp.MustCompile(`^\d{4}$`)
	quarterPattern = regexp.MustCompile(`^[1234]$`)
)

// QuarterRange is the half-open interval [Start, End) covering one calendar
// quarter.
type QuarterRange struct {
	Year    int
	Quarter int
	Start   time.Time
	End     time.Time
}

// ParseQuarter validates a four digit year and a quarter digit 1-4 and
// returns the matching date range.
func ParseQuarter(year, quarter string) (QuarterRange, error) {
	if !yearPattern.MatchString(year) {
		return QuarterRange{}, &ValidationError{Arg: "year", Cause: "Incorrect year format. e.g. 2014"}
	}
	if !quarterPattern.MatchString(quarter) {
		return QuarterRange{}, &ValidationError{Arg: "quarter", Cause: "Incorrect quarter format. e.g. 4"}
	}

	y, _ := strconv.Atoi(year)
	q, _ := strconv.Atoi(quarter)
	return NewQuarterRange(y, q), nil
}

// NewQuarterRange computes the range for quarter q (1-4) of year y. The start
// is January 1st plus (q-1)*3 months and the end is three months later.
func NewQuarterRange(y, q int) QuarterRange {
	start := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, (q-1)*3, 0)
	return QuarterRange{
		Year:    y,
		Quarter: q,
		Start:   start,
		End:     start.AddDate(0, 3, 0),
	}
}

// Contains reports whether t falls inside the quarter.
func (r QuarterRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
