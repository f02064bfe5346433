package scheduler

import "time"

// Trigger decides when a job is next due. Times are in the execution clock; wall-clock
// triggers convert from their configured location.
type Trigger interface {
	// First is the first due time after registration at now.
	First(now time.Time) time.Time
	// Next is the due time after a run that finished at finished.
	Next(finished time.Time) time.Time
}

// DailyAt fires once a day at hour:minute local time in loc.
func DailyAt(hour, minute int, loc *time.Location) Trigger {
	return EveryNDays(1, hour, minute, loc)
}

// EveryNDays fires at hour:minute in loc once at least n calendar days have passed, counted in
// loc, since the previous run finished.
func EveryNDays(n, hour, minute int, loc *time.Location) Trigger {
	if n < 1 {
		n = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return calendar{days: n, hour: hour, minute: minute, loc: loc}
}

type calendar struct {
	days         int
	hour, minute int
	loc          *time.Location
}

func (c calendar) at(t time.Time, addDays int) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day()+addDays, c.hour, c.minute, 0, 0, c.loc)
}

func (c calendar) First(now time.Time) time.Time {
	next := c.at(now, 0)
	if !next.After(now) {
		next = c.at(now, 1)
	}
	return next
}

func (c calendar) Next(finished time.Time) time.Time {
	next := c.at(finished, c.days)
	if !next.After(finished) {
		next = c.at(finished, c.days+1)
	}
	return next
}

// Every fires each interval after the previous run finished. With immediate set the first run is
// due at registration.
func Every(interval time.Duration, immediate bool) Trigger {
	return every{interval: interval, immediate: immediate}
}

type every struct {
	interval  time.Duration
	immediate bool
}

func (e every) First(now time.Time) time.Time {
	if e.immediate {
		return now
	}
	return now.Add(e.interval)
}

func (e every) Next(finished time.Time) time.Time {
	return finished.Add(e.interval)
}
