package engine

import "time"

// Clock is injected so tests can pin the cycle time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Calendar decides whether the trading window is open. The window is
// deliberately narrower than the exchange session so entries never
// land in the closing auction.
type Calendar struct {
	loc      *time.Location
	openMin  int // minutes since midnight
	closeMin int
}

// NewCalendar builds a weekday calendar for the given IANA zone, e.g.
// "America/New_York" with a 9:30-15:45 window.
func NewCalendar(zone string, openHour, openMinute, closeHour, closeMinute int) (*Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	return &Calendar{
		loc:      loc,
		openMin:  openHour*60 + openMinute,
		closeMin: closeHour*60 + closeMinute,
	}, nil
}

func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.openMin && minutes <= c.closeMin
}
