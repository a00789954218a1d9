package alarm

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	reDate = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reTime = regexp.MustCompile(`^(\d{2}):(\d{2})$`)
)

// Request is a fully-formed alarm request produced by an input surface.
// Date is ignored for Repeating alarms.
type Request struct {
	Kind    Kind
	Date    string // YYYY-MM-DD
	Time    string // HH:MM
	Message string
}

// ClockTime is a validated HH:MM wall clock time.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// CivilDate is a validated calendar date.
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

func (d CivilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ValidateDate parses s strictly as YYYY-MM-DD. Day and month must exist in
// the calendar (2024-02-30 is rejected).
func ValidateDate(s string) (CivilDate, error) {
	if !reDate.MatchString(s) {
		return CivilDate{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidDateTime, s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return CivilDate{}, fmt.Errorf("%w: date %q: %v", ErrInvalidDateTime, s, err)
	}
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// ValidateTime parses s strictly as HH:MM with hour 0-23 and minute 0-59.
func ValidateTime(s string) (ClockTime, error) {
	m := reTime.FindStringSubmatch(s)
	if m == nil {
		return ClockTime{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidDateTime, s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 || mm > 59 {
		return ClockTime{}, fmt.Errorf("%w: time %q out of range", ErrInvalidDateTime, s)
	}
	return ClockTime{Hour: hh, Minute: mm}, nil
}

// FireTime is the absolute instant of date at clock (second 0) in loc.
func FireTime(d CivilDate, c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// TodayAt is today's date (as seen from now in loc) at clock, second 0.
// The result may lie in the past.
func TodayAt(now time.Time, c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), c.Hour, c.Minute, 0, 0, loc)
}
