// Package markethours provides the IST session clock for the scalping
// pipeline: trading-hours checks, the session anchor for candle bucket math,
// and the post-open quiet window during which entries are suppressed.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE cash session in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(ist)
}

// SessionStart returns today's market open instant (9:15 AM IST of t's day).
// Candle buckets are anchored here so bars align with exchange minutes.
func SessionStart(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
}

// TodayClose returns today's market close time (3:30 PM IST of t's day).
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// InSkipWindow reports whether t falls inside the first skipMinutes after
// market open, the high-volatility window where entries are suppressed.
func InSkipWindow(t time.Time, skipMinutes int) bool {
	if skipMinutes <= 0 {
		return false
	}
	open := SessionStart(t)
	ist := t.In(IST)
	return !ist.Before(open) && ist.Before(open.Add(time.Duration(skipMinutes)*time.Minute))
}

// NextOpen returns the next market open time (9:15 AM IST on the next
// trading day). If t is before today's open on a trading day, returns
// today's open.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)

	todayOpen := SessionStart(ist)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // holidays + weekends never exceed 10 days
		if IsTradingDay(d) {
			return SessionStart(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return SessionStart(ist.AddDate(0, 0, 1))
}

// TradingDay returns the IST calendar date of t, used as the daily ledger key.
func TradingDay(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// StatusString returns a human-readable market status for log lines.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TodayClose(t).Sub(t.In(IST))
		return fmt.Sprintf("market open, closes in %s", d.Truncate(time.Minute))
	}
	next := NextOpen(t)
	return fmt.Sprintf("market closed, opens %s", next.Format("Mon 15:04 MST"))
}
