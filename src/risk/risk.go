// Package risk gates and scales live order sizes by New York trading session.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

type Session string

const (
	SessionWeekendHoliday Session = "weekend_holiday"
	SessionDeadZone       Session = "dead_zone"
	SessionAsia           Session = "asia_session"
	SessionLondon         Session = "london_session"
	SessionUS             Session = "us_session"
	SessionDefault        Session = "default"
	SessionNoTrade        Session = "no_trade"
)

const daysPerWeek = 7

// SessionMultipliers maps each session to a size multiplier.
type SessionMultipliers struct {
	WeekendHoliday decimal.Decimal
	DeadZone       decimal.Decimal
	Asia           decimal.Decimal
	London         decimal.Decimal
	US             decimal.Decimal
	Default        decimal.Decimal

	EnableNoTradeWindow bool
}

// NeutralMultipliers leaves every size untouched and never blocks.
func NeutralMultipliers() SessionMultipliers {
	one := decimal.NewFromInt(1)
	return SessionMultipliers{WeekendHoliday: one, DeadZone: one, Asia: one, London: one, US: one, Default: one}
}

func (m SessionMultipliers) forSession(s Session) decimal.Decimal {
	switch s {
	case SessionWeekendHoliday:
		return m.WeekendHoliday
	case SessionDeadZone:
		return m.DeadZone
	case SessionAsia:
		return m.Asia
	case SessionLondon:
		return m.London
	case SessionUS:
		return m.US
	default:
		return m.Default
	}
}

// SessionGate decides, for a wall-clock instant, whether new orders may be
// placed and how much of the nominal size they carry.
type SessionGate struct {
	multipliers SessionMultipliers
	ny          *time.Location
}

func NewSessionGate(m SessionMultipliers) *SessionGate {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &SessionGate{multipliers: m, ny: loc}
}

// Size scales base by the session multiplier. Inside the no-trade window the
// size is zero and the session is SessionNoTrade.
func (g *SessionGate) Size(base decimal.Decimal, now time.Time) (decimal.Decimal, Session) {
	if !base.IsPositive() {
		return decimal.Zero, SessionDefault
	}
	sess := g.Session(now)
	if sess == SessionNoTrade {
		return decimal.Zero, sess
	}
	return base.Mul(g.multipliers.forSession(sess)), sess
}

// Session classifies now, reporting SessionNoTrade when the window is enabled and active.
func (g *SessionGate) Session(now time.Time) Session {
	et := now.In(g.ny)
	if g.multipliers.EnableNoTradeWindow && inNoTradeWindow(et) {
		return SessionNoTrade
	}
	return classify(et)
}

// inNoTradeWindow covers Friday 09:00 NY, the end of the London session, until
// Sunday 03:00 NY, plus US market holidays.
func inNoTradeWindow(t time.Time) bool {
	h := t.Hour()
	if t.Weekday() == time.Sunday && h >= 3 && h < 9 {
		return false
	}
	if isUSHoliday(t) {
		return true
	}
	switch t.Weekday() {
	case time.Friday:
		return h >= 9
	case time.Saturday:
		return true
	case time.Sunday:
		return h < 3
	}
	return false
}

func classify(t time.Time) Session {
	h := t.Hour()
	london := h >= 3 && h < 9
	if t.Weekday() == time.Sunday && london {
		return SessionLondon
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday || isUSHoliday(t) {
		return SessionWeekendHoliday
	}

	switch {
	case h >= 17 && h < 20:
		return SessionDeadZone
	case h >= 20 || h < 3:
		return SessionAsia
	case london:
		return SessionLondon
	case h >= 9 && h <= 17:
		return SessionUS
	}
	return SessionDefault
}

func isUSHoliday(t time.Time) bool {
	day := t.Format("2006-01-02")
	for _, h := range usHolidays(t.Year()) {
		if h.Format("2006-01-02") == day {
			return true
		}
	}
	return false
}

// usHolidays lists the exchange holidays observed by the no-trade window.
func usHolidays(year int) []time.Time {
	observed := func(d time.Time) time.Time {
		if d.Weekday() == time.Sunday {
			return d.AddDate(0, 0, 1)
		}
		return d
	}

	memorial := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorial.Weekday() != time.Monday {
		memorial = memorial.AddDate(0, 0, -1)
	}

	return []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		memorial,
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)),
	}
}

// nthWeekday returns the n-th (1-based) given weekday of month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(weekday-first.Weekday()+daysPerWeek) % daysPerWeek
	return first.AddDate(0, 0, offset+(n-1)*daysPerWeek)
}
